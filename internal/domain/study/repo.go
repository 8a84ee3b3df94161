package study

import (
	"context"

	"github.com/google/uuid"
)

type StudyRepository interface {
	Create(ctx context.Context, s *Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	// GetForUpdate loads a study and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Study, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, f StudyFilter, limit, offset int) ([]*Study, int, error)
	Update(ctx context.Context, s *Study) error
	CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error)
	// CountByUser counts studies uploaded by or assigned to a user.
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*Report, error)
	// FindPendingAutomated returns the unverified automated report of a
	// study, or nil when there is none.
	FindPendingAutomated(ctx context.Context, studyID uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	// CountByUser counts reports written or verified by a user.
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
}
