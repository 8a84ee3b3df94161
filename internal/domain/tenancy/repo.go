package tenancy

import (
	"context"

	"github.com/google/uuid"
)

// Repositories return apperror NotFound for missing rows and Conflict for
// uniqueness violations.

type CentreRepository interface {
	Create(ctx context.Context, c *Centre) error
	GetByID(ctx context.Context, id uuid.UUID) (*Centre, error)
	NameExists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Centre, int, error)
	Update(ctx context.Context, c *Centre) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error)
}

type ImagingSourceRepository interface {
	Create(ctx context.Context, s *ImagingSource) error
	GetByID(ctx context.Context, id uuid.UUID) (*ImagingSource, error)
	List(ctx context.Context, centreID *uuid.UUID, limit, offset int) ([]*ImagingSource, int, error)
	Update(ctx context.Context, s *ImagingSource) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error)
}

// DependentCounter counts rows of some kind that belong to a centre.
type DependentCounter interface {
	CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error)
}

// ReferenceCounter counts rows of some kind that name a user.
type ReferenceCounter interface {
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
}
