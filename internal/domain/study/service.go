package study

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/domain/access"
	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/instances"
	"github.com/winnersdraw91/pacs-v2/internal/domain/tenancy"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/codegen"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

// Enricher accepts studies for background enrichment. Enqueue must not block.
type Enricher interface {
	Enqueue(studyID uuid.UUID) bool
}

type Service struct {
	studies    StudyRepository
	reports    ReportRepository
	centres    tenancy.CentreRepository
	users      tenancy.UserRepository
	store      *instances.Store
	tx         db.Transactor
	logger     zerolog.Logger
	enricher   Enricher
	autoEnrich bool
	now        func() time.Time
}

func NewService(studies StudyRepository, reports ReportRepository, centres tenancy.CentreRepository,
	users tenancy.UserRepository, store *instances.Store, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		studies: studies,
		reports: reports,
		centres: centres,
		users:   users,
		store:   store,
		tx:      tx,
		logger:  logger.With().Str("component", "study").Logger(),
		now:     time.Now,
	}
}

// SetEnricher wires background enrichment. With auto set, every successful
// upload is queued.
func (s *Service) SetEnricher(e Enricher, auto bool) {
	s.enricher = e
	s.autoEnrich = auto
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// -- Studies --

// CreateStudy stores the valid instances of an upload under a fresh study
// code and records the study as uploaded.
func (s *Service) CreateStudy(ctx context.Context, actor identity.Actor, in Upload) (*Study, error) {
	const op = "study.create"

	var centreID uuid.UUID
	switch {
	case actor.HasCentre():
		centreID = *actor.CentreID
	case in.CentreID != nil:
		centreID = *in.CentreID
	case actor.IsAdmin():
		return nil, apperror.Validation(op, "centre_id is required")
	default:
		return nil, access.Authorize(actor, access.Global(access.Study), access.Create).Err()
	}
	if err := access.Check(actor, access.On(access.Study, centreID), access.Create); err != nil {
		return nil, err
	}

	st := &Study{
		PatientName:   in.PatientName,
		PatientAge:    in.PatientAge,
		PatientGender: in.PatientGender,
		Modality:      in.Modality,
		StudyType:     in.StudyType,
		Description:   in.Description,
		IsUrgent:      in.IsUrgent,
		CentreID:      centreID,
		CreatedByID:   actor.ID,
		Status:        StatusUploaded,
	}
	if err := st.Validate(); err != nil {
		return nil, apperror.Validation(op, "%s", err)
	}
	if len(in.Blobs) == 0 {
		return nil, apperror.Validation(op, "at least one file is required")
	}

	centre, err := s.centres.GetByID(ctx, centreID)
	if err != nil {
		return nil, err
	}
	code, err := codegen.StudyCode.Unique(ctx, s.studies.CodeExists)
	if err != nil {
		return nil, err
	}

	loc, n, err := s.store.Place(ctx, centre.Name, code, in.Blobs)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		_ = s.store.Remove(ctx, loc)
		return nil, apperror.Validation(op, "none of the %d uploaded files is a valid DICOM instance", len(in.Blobs))
	}

	st.StudyCode = code
	st.StorageLocation = string(loc)
	st.NumInstances = n
	if err := s.studies.Create(ctx, st); err != nil {
		if rmErr := s.store.Remove(ctx, loc); rmErr != nil {
			s.logger.Error().Err(rmErr).Str("location", string(loc)).Msg("removing instances of unsaved study")
		}
		return nil, err
	}

	s.logger.Info().
		Str("study_id", st.ID.String()).
		Str("study_code", code).
		Int("instances", n).
		Int("rejected", len(in.Blobs)-n).
		Msg("study uploaded")

	if s.autoEnrich && s.enricher != nil {
		s.enricher.Enqueue(st.ID)
	}
	return st, nil
}

func (s *Service) GetStudy(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Study, error) {
	st, err := s.studies.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Study, st.CentreID), access.Read); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) ListStudies(ctx context.Context, actor identity.Actor, f StudyFilter, limit, offset int) ([]*Study, int, error) {
	scope, err := access.ListScope(actor, access.Study)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		if f.CentreID != nil && *f.CentreID != *scope {
			return nil, 0, access.Authorize(actor, access.On(access.Study, *f.CentreID), access.Read).Err()
		}
		f.CentreID = scope
	}
	return s.studies.List(ctx, f, limit, offset)
}

func (s *Service) UpdateStudy(ctx context.Context, actor identity.Actor, id uuid.UUID, up StudyUpdate) (*Study, error) {
	const op = "study.update"
	var out *Study
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.studies.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Study, st.CentreID), access.Update); err != nil {
			return err
		}
		st.Apply(up)
		if err := st.Validate(); err != nil {
			return apperror.Validation(op, "%s", err)
		}
		if err := s.studies.Update(ctx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// AssignRadiologist sets the reading radiologist and moves the study to
// assigned. Radiologists may only assign themselves; admins and centre
// operators must name an active radiologist.
func (s *Service) AssignRadiologist(ctx context.Context, actor identity.Actor, id uuid.UUID, radiologistID *uuid.UUID) (*Study, error) {
	const op = "study.assign"
	var out *Study
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.studies.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Study, st.CentreID), access.Assign); err != nil {
			return err
		}
		if !Assignable(st.Status) {
			return apperror.Conflict(op, "cannot assign a study in status %s", st.Status)
		}

		var target uuid.UUID
		if actor.Role == identity.RoleRadiologist {
			if radiologistID != nil && *radiologistID != actor.ID {
				return apperror.Validation(op, "radiologists can only assign themselves")
			}
			target = actor.ID
		} else {
			if radiologistID == nil {
				return apperror.Validation(op, "radiologist_id is required")
			}
			u, err := s.users.GetByID(ctx, *radiologistID)
			if err != nil {
				return err
			}
			if u.Role != identity.RoleRadiologist || !u.IsActive {
				return apperror.NotFound(op, "no active radiologist %s", *radiologistID)
			}
			target = u.ID
		}

		st.AssignedRadiologistID = &target
		st.Status = StatusAssigned
		if err := s.studies.Update(ctx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err == nil {
		s.logger.Info().Str("study_id", id.String()).Str("radiologist_id", out.AssignedRadiologistID.String()).Msg("radiologist assigned")
	}
	return out, err
}

// TransitionStatus applies a manual status change.
func (s *Service) TransitionStatus(ctx context.Context, actor identity.Actor, id uuid.UUID, to Status) (*Study, error) {
	var out *Study
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.studies.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Study, st.CentreID), access.Transition); err != nil {
			return err
		}
		if err := ValidateTransition(st, to); err != nil {
			return err
		}
		st.Status = to
		if err := s.studies.Update(ctx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// RequestEnrichment queues a study for automated analysis. It reports
// whether the study was accepted by the queue.
func (s *Service) RequestEnrichment(ctx context.Context, actor identity.Actor, id uuid.UUID) (bool, error) {
	st, err := s.studies.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if err := access.Check(actor, access.On(access.Study, st.CentreID), access.Enrich); err != nil {
		return false, err
	}
	if s.enricher == nil {
		s.logger.Warn().Str("study_id", id.String()).Msg("enrichment requested but disabled")
		return false, nil
	}
	return s.enricher.Enqueue(st.ID), nil
}

// -- Instances --

// ListInstances lists the stored instances of a study. Fewer stored
// instances than recorded is an integrity error.
func (s *Service) ListInstances(ctx context.Context, actor identity.Actor, id uuid.UUID) ([]instances.Instance, error) {
	st, err := s.GetStudy(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.checkedInstances(ctx, st)
}

func (s *Service) checkedInstances(ctx context.Context, st *Study) ([]instances.Instance, error) {
	list, err := s.store.List(ctx, instances.Location(st.StorageLocation))
	if err != nil {
		return nil, err
	}
	if len(list) < st.NumInstances {
		s.logger.Error().
			Str("study_id", st.ID.String()).
			Int("recorded", st.NumInstances).
			Int("stored", len(list)).
			Msg("study is missing instances")
		return nil, apperror.Integrity("study.instances", nil, "study %s records %d instances but %d are stored",
			st.StudyCode, st.NumInstances, len(list))
	}
	return list, nil
}

func (s *Service) FetchInstance(ctx context.Context, actor identity.Actor, id uuid.UUID, index int) ([]byte, error) {
	st, err := s.GetStudy(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= st.NumInstances {
		return nil, apperror.NotFound("study.instance", "study %s has no instance %d", st.StudyCode, index)
	}
	list, err := s.checkedInstances(ctx, st)
	if err != nil {
		return nil, err
	}
	return s.store.FetchListed(ctx, instances.Location(st.StorageLocation), list, index)
}

// -- Reports --

type ReportInput struct {
	ReportType string  `json:"report_type"`
	Findings   *string `json:"findings"`
	Impression *string `json:"impression"`
}

// CreateReport records a human report and moves the study to
// report_generated in the same transaction.
func (s *Service) CreateReport(ctx context.Context, actor identity.Actor, studyID uuid.UUID, in ReportInput) (*Report, error) {
	const op = "report.create"
	if in.ReportType == "" {
		return nil, apperror.Validation(op, "report_type is required")
	}
	var out *Report
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.studies.GetForUpdate(ctx, studyID)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Report, st.CentreID), access.Create); err != nil {
			return err
		}
		author := actor.ID
		rp := &Report{
			StudyID:     st.ID,
			ReportType:  in.ReportType,
			Findings:    in.Findings,
			Impression:  in.Impression,
			CreatedByID: &author,
		}
		if err := s.reports.Create(ctx, rp); err != nil {
			return err
		}
		st.Status = StatusReportGenerated
		if err := s.studies.Update(ctx, st); err != nil {
			return err
		}
		out = rp
		return nil
	})
	return out, err
}

// loadReport returns a report with its study, locking the study row.
func (s *Service) loadReport(ctx context.Context, actor identity.Actor, id uuid.UUID, op access.Operation) (*Report, *Study, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	st, err := s.studies.GetForUpdate(ctx, rp.StudyID)
	if err != nil {
		return nil, nil, err
	}
	if err := access.Check(actor, access.On(access.Report, st.CentreID), op); err != nil {
		return nil, nil, err
	}
	return rp, st, nil
}

// UpdateReport edits an unverified human report. Pending automated reports
// belong to the enrichment pipeline until verified.
func (s *Service) UpdateReport(ctx context.Context, actor identity.Actor, id uuid.UUID, up ReportUpdate) (*Report, error) {
	const op = "report.update"
	var out *Report
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rp, _, err := s.loadReport(ctx, actor, id, access.Update)
		if err != nil {
			return err
		}
		if rp.IsVerified {
			return apperror.Conflict(op, "report %s is verified", rp.ID)
		}
		if rp.PendingAutomated() {
			return apperror.Conflict(op, "report %s is automated; verify it or write a new report", rp.ID)
		}
		rp.Apply(up)
		if rp.ReportType == "" {
			return apperror.Validation(op, "report_type is required")
		}
		if err := s.reports.Update(ctx, rp); err != nil {
			return err
		}
		out = rp
		return nil
	})
	return out, err
}

// VerifyReport signs a report off and moves its study to verified in the
// same transaction.
func (s *Service) VerifyReport(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Report, error) {
	const op = "report.verify"
	var out *Report
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rp, st, err := s.loadReport(ctx, actor, id, access.Verify)
		if err != nil {
			return err
		}
		if rp.IsVerified {
			return apperror.Conflict(op, "report %s is already verified", rp.ID)
		}
		verifier := actor.ID
		at := s.now().UTC()
		rp.IsVerified = true
		rp.VerifiedByID = &verifier
		rp.VerifiedAt = &at
		if err := s.reports.Update(ctx, rp); err != nil {
			return err
		}
		st.Status = StatusVerified
		if err := s.studies.Update(ctx, st); err != nil {
			return err
		}
		out = rp
		return nil
	})
	if err == nil {
		s.logger.Info().Str("report_id", id.String()).Str("verified_by", actor.ID.String()).Msg("report verified")
	}
	return out, err
}

func (s *Service) GetReport(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Report, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.studies.GetByID(ctx, rp.StudyID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Report, st.CentreID), access.Read); err != nil {
		return nil, err
	}
	return rp, nil
}

func (s *Service) ListReports(ctx context.Context, actor identity.Actor, studyID uuid.UUID) ([]*Report, error) {
	st, err := s.studies.GetByID(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Report, st.CentreID), access.Read); err != nil {
		return nil, err
	}
	return s.reports.ListByStudy(ctx, studyID)
}

// GetAutomatedReport returns the pending automated report of a study or,
// once that was verified, the most recent automated one.
func (s *Service) GetAutomatedReport(ctx context.Context, actor identity.Actor, studyID uuid.UUID) (*Report, error) {
	list, err := s.ListReports(ctx, actor, studyID)
	if err != nil {
		return nil, err
	}
	var latest *Report
	for _, rp := range list {
		if !rp.IsAIGenerated {
			continue
		}
		if rp.PendingAutomated() {
			return rp, nil
		}
		latest = rp
	}
	if latest == nil {
		return nil, apperror.NotFound("report.automated", "study %s has no automated report", studyID)
	}
	return latest, nil
}
