// Package enrichment runs automated analysis of uploaded studies on a pool
// of background workers and keeps one pending automated report per study.
package enrichment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/domain/instances"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
	"github.com/winnersdraw91/pacs-v2/internal/platform/telemetry"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultTimeout   = 2 * time.Minute
)

type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Result describes the automated report written by one run.
type Result struct {
	Report  *study.Report
	Created bool
}

type Pipeline struct {
	studies  study.StudyRepository
	reports  study.ReportRepository
	store    *instances.Store
	tx       db.Transactor
	analyzer Analyzer
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	cfg      Config

	mu       sync.Mutex
	queue    chan uuid.UUID
	running  bool
	closed   bool
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

// New builds a pipeline. A nil analyzer disables enrichment: Enqueue drops
// every study.
func New(studies study.StudyRepository, reports study.ReportRepository, store *instances.Store,
	tx db.Transactor, analyzer Analyzer, cfg Config, logger zerolog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		studies:  studies,
		reports:  reports,
		store:    store,
		tx:       tx,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "enrichment").Logger(),
		queue:    make(chan uuid.UUID, cfg.QueueSize),
	}
}

func (p *Pipeline) SetMetrics(m *telemetry.Metrics) { p.metrics = m }

// Enabled reports whether an analyzer is configured.
func (p *Pipeline) Enabled() bool { return p.analyzer != nil }

// Start launches the workers. Runs are bounded by ctx and by the configured
// timeout.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := 0; i < p.cfg.Workers; i++ {
		p.workers.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("enrichment workers started")
}

// Stop closes the queue, lets the workers finish what was already queued
// and waits for them until ctx expires, then cancels outstanding runs.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	running := p.running
	cancel := p.cancel
	p.mu.Unlock()

	if !running {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Enqueue hands a study to the workers without blocking. It returns false
// when enrichment is disabled, the pipeline is stopped or the queue is full.
func (p *Pipeline) Enqueue(studyID uuid.UUID) bool {
	log := p.logger.With().Str("study_id", studyID.String()).Logger()
	if p.analyzer == nil {
		log.Debug().Msg("enrichment disabled, dropping study")
		p.metrics.EnrichmentFinished(telemetry.OutcomeDropped, 0)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Warn().Msg("enrichment pipeline stopped, dropping study")
		p.metrics.EnrichmentFinished(telemetry.OutcomeDropped, 0)
		return false
	}
	p.inflight.Add(1)
	select {
	case p.queue <- studyID:
		p.metrics.EnrichmentQueued(len(p.queue))
		return true
	default:
		p.inflight.Done()
		log.Warn().Int("queue_size", p.cfg.QueueSize).Msg("enrichment queue full, dropping study")
		p.metrics.EnrichmentFinished(telemetry.OutcomeDropped, 0)
		return false
	}
}

// Drain waits until every accepted study has been processed or ctx expires.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) work(ctx context.Context, n int) {
	defer p.workers.Done()
	for id := range p.queue {
		p.metrics.EnrichmentQueued(len(p.queue))
		p.process(ctx, id, n)
	}
}

func (p *Pipeline) process(ctx context.Context, id uuid.UUID, worker int) {
	defer p.inflight.Done()
	log := p.logger.With().Str("study_id", id.String()).Int("worker", worker).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("enrichment run panicked")
			p.metrics.EnrichmentFinished(telemetry.OutcomeFailed, 0)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Run(runCtx, id)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("enrichment failed")
		p.metrics.EnrichmentFinished(telemetry.OutcomeFailed, elapsed)
		return
	}

	outcome := telemetry.OutcomeUpdated
	if res.Created {
		outcome = telemetry.OutcomeCreated
	}
	p.metrics.EnrichmentFinished(outcome, elapsed)
	log.Info().
		Str("report_id", res.Report.ID.String()).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("automated report written")
}

// Run analyses one study synchronously and writes its automated report.
// An existing pending automated report is rewritten in place; verified and
// human reports are left alone, as is the study status.
func (p *Pipeline) Run(ctx context.Context, studyID uuid.UUID) (Result, error) {
	const op = "enrichment.run"
	if p.analyzer == nil {
		return Result{}, apperror.Validation(op, "enrichment is disabled")
	}

	st, err := p.studies.GetByID(ctx, studyID)
	if err != nil {
		return Result{}, err
	}
	if st.StorageLocation == "" {
		return Result{}, apperror.Validation(op, "study %s has no storage location", st.StudyCode)
	}
	loc := instances.Location(st.StorageLocation)
	list, err := p.store.List(ctx, loc)
	if err != nil {
		return Result{}, err
	}
	if len(list) == 0 {
		return Result{}, apperror.Validation(op, "study %s has no stored instances", st.StudyCode)
	}
	blob, err := p.store.FetchListed(ctx, loc, list, list[0].Index)
	if err != nil {
		return Result{}, err
	}

	analysis, err := p.analyzer.Analyze(ctx, st, blob)
	if err != nil {
		return Result{}, apperror.Internal(op, err)
	}

	// A racing insert into the pending slot surfaces as Conflict; the retry
	// finds that report and updates it.
	var res Result
	for attempt := 0; attempt < 2; attempt++ {
		res, err = p.upsert(ctx, studyID, analysis)
		if !apperror.Is(err, apperror.KindConflict) {
			break
		}
	}
	return res, err
}

func (p *Pipeline) upsert(ctx context.Context, studyID uuid.UUID, a Analysis) (Result, error) {
	var res Result
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := p.studies.GetForUpdate(ctx, studyID); err != nil {
			return err
		}
		findings, impression := a.Findings, a.Impression

		existing, err := p.reports.FindPendingAutomated(ctx, studyID)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Findings = &findings
			existing.Impression = &impression
			if err := p.reports.Update(ctx, existing); err != nil {
				return err
			}
			res = Result{Report: existing}
			return nil
		}

		rp := &study.Report{
			StudyID:       studyID,
			ReportType:    study.AutomatedReportType,
			Findings:      &findings,
			Impression:    &impression,
			IsAIGenerated: true,
		}
		if err := p.reports.Create(ctx, rp); err != nil {
			return err
		}
		res = Result{Report: rp, Created: true}
		return nil
	})
	return res, err
}
