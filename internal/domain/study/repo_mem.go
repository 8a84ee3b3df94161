package study

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

// MemStudyRepo backs the memory store driver. Row locks are implied by the
// LocalTransactor that serialises every transaction.
type MemStudyRepo struct {
	mu      sync.RWMutex
	studies map[uuid.UUID]Study
}

func NewMemStudyRepo() *MemStudyRepo {
	return &MemStudyRepo{studies: make(map[uuid.UUID]Study)}
}

func (r *MemStudyRepo) Create(ctx context.Context, s *Study) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.studies {
		if existing.StudyCode == s.StudyCode {
			return apperror.Conflict("study.create", "duplicate studies_study_code_key")
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	db.RestoreOnRollback(ctx, &r.mu, r.studies, s.ID)
	r.studies[s.ID] = *s
	return nil
}

func (r *MemStudyRepo) GetByID(_ context.Context, id uuid.UUID) (*Study, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.studies[id]
	if !ok {
		return nil, apperror.NotFound("study.get", "not found")
	}
	return &s, nil
}

func (r *MemStudyRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Study, error) {
	return r.GetByID(ctx, id)
}

func (r *MemStudyRepo) CodeExists(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.studies {
		if s.StudyCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (f StudyFilter) matches(s *Study) bool {
	switch {
	case f.CentreID != nil && s.CentreID != *f.CentreID:
		return false
	case f.Status != nil && s.Status != *f.Status:
		return false
	case f.Modality != nil && s.Modality != *f.Modality:
		return false
	case f.Urgent != nil && s.IsUrgent != *f.Urgent:
		return false
	case f.AssignedRadiologistID != nil && (s.AssignedRadiologistID == nil || *s.AssignedRadiologistID != *f.AssignedRadiologistID):
		return false
	}
	return true
}

func (r *MemStudyRepo) List(_ context.Context, f StudyFilter, limit, offset int) ([]*Study, int, error) {
	r.mu.RLock()
	var all []*Study
	for _, s := range r.studies {
		s := s
		if f.matches(&s) {
			all = append(all, &s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].IsUrgent != all[j].IsUrgent {
			return all[i].IsUrgent
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (r *MemStudyRepo) Update(ctx context.Context, s *Study) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.studies[s.ID]
	if !ok {
		return apperror.NotFound("study.update", "not found")
	}
	next := *s
	next.StudyCode = cur.StudyCode
	next.CentreID = cur.CentreID
	next.StorageLocation = cur.StorageLocation
	next.CreatedByID = cur.CreatedByID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.studies, s.ID)
	r.studies[s.ID] = next
	s.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *MemStudyRepo) CountByCentre(_ context.Context, centreID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.studies {
		if s.CentreID == centreID {
			n++
		}
	}
	return n, nil
}

func (r *MemStudyRepo) CountByUser(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.studies {
		if s.CreatedByID == userID || (s.AssignedRadiologistID != nil && *s.AssignedRadiologistID == userID) {
			n++
		}
	}
	return n, nil
}

// MemReportRepo mirrors the partial unique index on pending automated
// reports.
type MemReportRepo struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]Report
	order   map[uuid.UUID]int
}

func NewMemReportRepo() *MemReportRepo {
	return &MemReportRepo{reports: make(map[uuid.UUID]Report), order: make(map[uuid.UUID]int)}
}

func (r *MemReportRepo) pendingLocked(studyID, except uuid.UUID) bool {
	for _, rp := range r.reports {
		if rp.StudyID == studyID && rp.ID != except && rp.PendingAutomated() {
			return true
		}
	}
	return false
}

func (r *MemReportRepo) Create(ctx context.Context, rp *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rp.PendingAutomated() && r.pendingLocked(rp.StudyID, uuid.Nil) {
		return apperror.Conflict("report.create", "duplicate uq_reports_pending_automated")
	}
	rp.ID = uuid.New()
	rp.CreatedAt = time.Now().UTC()
	rp.UpdatedAt = rp.CreatedAt
	db.RestoreOnRollback(ctx, &r.mu, r.reports, rp.ID)
	r.reports[rp.ID] = *rp
	r.order[rp.ID] = len(r.order)
	return nil
}

func (r *MemReportRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rp, ok := r.reports[id]
	if !ok {
		return nil, apperror.NotFound("report.get", "not found")
	}
	return &rp, nil
}

func (r *MemReportRepo) ListByStudy(_ context.Context, studyID uuid.UUID) ([]*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Report
	for _, rp := range r.reports {
		if rp.StudyID == studyID {
			rp := rp
			out = append(out, &rp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].ID] < r.order[out[j].ID] })
	return out, nil
}

func (r *MemReportRepo) FindPendingAutomated(_ context.Context, studyID uuid.UUID) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rp := range r.reports {
		if rp.StudyID == studyID && rp.PendingAutomated() {
			return &rp, nil
		}
	}
	return nil, nil
}

func (r *MemReportRepo) Update(ctx context.Context, rp *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.reports[rp.ID]
	if !ok {
		return apperror.NotFound("report.update", "not found")
	}
	next := cur
	next.ReportType = rp.ReportType
	next.Findings = rp.Findings
	next.Impression = rp.Impression
	next.IsVerified = rp.IsVerified
	next.VerifiedByID = rp.VerifiedByID
	next.VerifiedAt = rp.VerifiedAt
	next.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.reports, rp.ID)
	r.reports[rp.ID] = next
	rp.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *MemReportRepo) CountByUser(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rp := range r.reports {
		if (rp.CreatedByID != nil && *rp.CreatedByID == userID) || (rp.VerifiedByID != nil && *rp.VerifiedByID == userID) {
			n++
		}
	}
	return n, nil
}
