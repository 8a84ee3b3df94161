package enrichment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/domain/instances"
	"github.com/winnersdraw91/pacs-v2/internal/domain/instances/instancetest"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/blobstore"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
	"github.com/winnersdraw91/pacs-v2/internal/platform/telemetry"
)

type env struct {
	studies *study.MemStudyRepo
	reports *study.MemReportRepo
	store   *instances.Store
	tx      db.Transactor
}

func newEnv() *env {
	return &env{
		studies: study.NewMemStudyRepo(),
		reports: study.NewMemReportRepo(),
		store:   instances.NewStore(blobstore.NewMemory(), zerolog.Nop()),
		tx:      db.NewLocalTransactor(),
	}
}

func (e *env) pipeline(a Analyzer, cfg Config) *Pipeline {
	return New(e.studies, e.reports, e.store, e.tx, a, cfg, zerolog.Nop())
}

// seed stores blobs for a new CT study and returns it.
func (e *env) seed(t *testing.T, code string, blobs ...[]byte) *study.Study {
	t.Helper()
	ctx := context.Background()
	st := &study.Study{
		StudyCode:   code,
		PatientName: "Jane Roe",
		Modality:    study.ModalityCT,
		CentreID:    uuid.New(),
		CreatedByID: uuid.New(),
		Status:      study.StatusUploaded,
	}
	if len(blobs) > 0 {
		loc, n, err := e.store.Place(ctx, "Alpha", code, blobs)
		if err != nil {
			t.Fatal(err)
		}
		st.StorageLocation = string(loc)
		st.NumInstances = n
	}
	if err := e.studies.Create(ctx, st); err != nil {
		t.Fatal(err)
	}
	return st
}

func (e *env) automated(t *testing.T, studyID uuid.UUID) []*study.Report {
	t.Helper()
	list, err := e.reports.ListByStudy(context.Background(), studyID)
	if err != nil {
		t.Fatal(err)
	}
	var out []*study.Report
	for _, rp := range list {
		if rp.IsAIGenerated {
			out = append(out, rp)
		}
	}
	return out
}

func counter(t *testing.T, m *telemetry.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "pacs_enrichment_runs_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRun_RewritesPendingReport(t *testing.T) {
	e := newEnv()
	st := e.seed(t, "ST000001", instancetest.Part10("CT", "HEAD", "1.1"))
	p := e.pipeline(MetadataAnalyzer{}, Config{})
	ctx := context.Background()

	first, err := p.Run(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || first.Report.ReportType != study.AutomatedReportType || first.Report.CreatedByID != nil {
		t.Errorf("unexpected first run: %+v", first.Report)
	}

	second, err := p.Run(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Report.ID != first.Report.ID {
		t.Errorf("second run should rewrite report %s, got %+v", first.Report.ID, second)
	}
	if n := len(e.automated(t, st.ID)); n != 1 {
		t.Errorf("expected 1 automated report, got %d", n)
	}

	cur, _ := e.studies.GetByID(ctx, st.ID)
	if cur.Status != study.StatusUploaded {
		t.Errorf("enrichment changed status to %s", cur.Status)
	}
}

func TestRun_KeepsVerifiedAndHumanReports(t *testing.T) {
	e := newEnv()
	st := e.seed(t, "ST000002", instancetest.Part10("CT", "HEAD", "2.1"))
	p := e.pipeline(MetadataAnalyzer{}, Config{})
	ctx := context.Background()

	human := "Radiologist findings."
	author := uuid.New()
	hr := &study.Report{StudyID: st.ID, ReportType: "Final", Findings: &human, CreatedByID: &author}
	if err := e.reports.Create(ctx, hr); err != nil {
		t.Fatal(err)
	}

	first, err := p.Run(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	verified := first.Report
	verified.IsVerified = true
	if err := e.reports.Update(ctx, verified); err != nil {
		t.Fatal(err)
	}
	edited := "Edited by radiologist."
	verified.Findings = &edited
	if err := e.reports.Update(ctx, verified); err != nil {
		t.Fatal(err)
	}

	second, err := p.Run(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Created || second.Report.ID == verified.ID {
		t.Errorf("verified report must not be rewritten: %+v", second)
	}

	kept, _ := e.reports.GetByID(ctx, verified.ID)
	if *kept.Findings != edited || !kept.IsVerified {
		t.Errorf("verified report changed: %+v", kept)
	}
	h, _ := e.reports.GetByID(ctx, hr.ID)
	if *h.Findings != human || h.IsAIGenerated {
		t.Errorf("human report changed: %+v", h)
	}
	if n := len(e.automated(t, st.ID)); n != 2 {
		t.Errorf("expected 2 automated reports, got %d", n)
	}
}

func TestRun_Aborts(t *testing.T) {
	e := newEnv()
	p := e.pipeline(MetadataAnalyzer{}, Config{})
	ctx := context.Background()

	_, err := p.Run(ctx, uuid.New())
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("missing study: expected NotFound, got %v", err)
	}

	noLoc := e.seed(t, "ST000003")
	_, err = p.Run(ctx, noLoc.ID)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("no location: expected Validation, got %v", err)
	}

	empty := &study.Study{
		StudyCode: "ST000004", PatientName: "X", Modality: study.ModalityCT,
		StorageLocation: "Alpha/ST000004", Status: study.StatusUploaded,
	}
	if err := e.studies.Create(ctx, empty); err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(ctx, empty.ID)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("no instances: expected Validation, got %v", err)
	}
	if n := len(e.automated(t, empty.ID)); n != 0 {
		t.Errorf("aborted run wrote %d reports", n)
	}
}

func TestRun_AnalyzerFailure(t *testing.T) {
	e := newEnv()
	st := e.seed(t, "ST000005", instancetest.Part10("CT", "", "5.1"))
	failing := AnalyzerFunc(func(context.Context, *study.Study, []byte) (Analysis, error) {
		return Analysis{}, errors.New("model unavailable")
	})
	_, err := e.pipeline(failing, Config{}).Run(context.Background(), st.ID)
	if !apperror.Is(err, apperror.KindInternal) {
		t.Errorf("expected Internal, got %v", err)
	}
	if n := len(e.automated(t, st.ID)); n != 0 {
		t.Errorf("failed run wrote %d reports", n)
	}
}

func TestDisabledPipeline(t *testing.T) {
	e := newEnv()
	st := e.seed(t, "ST000006", instancetest.Part10("CT", "", "6.1"))
	m := telemetry.New()
	p := e.pipeline(nil, Config{})
	p.SetMetrics(m)

	if p.Enabled() {
		t.Error("nil analyzer should disable the pipeline")
	}
	if p.Enqueue(st.ID) {
		t.Error("disabled pipeline accepted a study")
	}
	if _, err := p.Run(context.Background(), st.ID); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected Validation, got %v", err)
	}
	if got := counter(t, m, telemetry.OutcomeDropped); got != 1 {
		t.Errorf("expected 1 dropped run, got %v", got)
	}
}

func TestEnqueue_FullQueueDrops(t *testing.T) {
	e := newEnv()
	m := telemetry.New()
	p := e.pipeline(MetadataAnalyzer{}, Config{QueueSize: 1})
	p.SetMetrics(m)

	if !p.Enqueue(uuid.New()) {
		t.Fatal("first study should be queued")
	}
	if p.Enqueue(uuid.New()) {
		t.Error("full queue accepted a study")
	}
	if got := counter(t, m, telemetry.OutcomeDropped); got != 1 {
		t.Errorf("expected 1 dropped run, got %v", got)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Enqueue(uuid.New()) {
		t.Error("stopped pipeline accepted a study")
	}
}

func TestWorkers_TwoRequestsOneReport(t *testing.T) {
	e := newEnv()
	st := e.seed(t, "ST000007", instancetest.Part10("MR", "BRAIN", "7.1"), instancetest.Part10("MR", "BRAIN", "7.2"))
	m := telemetry.New()
	p := e.pipeline(MetadataAnalyzer{}, Config{Workers: 2, QueueSize: 8, Timeout: 5 * time.Second})
	p.SetMetrics(m)
	p.Start(context.Background())

	if !p.Enqueue(st.ID) || !p.Enqueue(st.ID) {
		t.Fatal("studies should be queued")
	}
	missing := uuid.New()
	p.Enqueue(missing)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	reports := e.automated(t, st.ID)
	if len(reports) != 1 {
		t.Fatalf("expected 1 automated report, got %d", len(reports))
	}
	if !strings.HasPrefix(*reports[0].Findings, "MRI FINDINGS") {
		t.Errorf("findings should follow the header modality: %q", *reports[0].Findings)
	}
	if counter(t, m, telemetry.OutcomeCreated) != 1 || counter(t, m, telemetry.OutcomeUpdated) != 1 {
		t.Errorf("expected one created and one updated run")
	}
	if counter(t, m, telemetry.OutcomeFailed) != 1 {
		t.Errorf("missing study should count as a failed run")
	}
}

func TestWorkers_RunTimeout(t *testing.T) {
	e := newEnv()
	st := e.seed(t, "ST000008", instancetest.Part10("CT", "", "8.1"))
	slow := AnalyzerFunc(func(ctx context.Context, _ *study.Study, _ []byte) (Analysis, error) {
		<-ctx.Done()
		return Analysis{}, ctx.Err()
	})
	m := telemetry.New()
	p := e.pipeline(slow, Config{Workers: 1, Timeout: 20 * time.Millisecond})
	p.SetMetrics(m)
	p.Start(context.Background())
	p.Enqueue(st.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	_ = p.Stop(ctx)
	if counter(t, m, telemetry.OutcomeFailed) != 1 {
		t.Error("timed out run should count as failed")
	}
}
