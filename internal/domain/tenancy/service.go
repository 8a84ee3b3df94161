package tenancy

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/access"
	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

type Service struct {
	centres    CentreRepository
	users      UserRepository
	sources    ImagingSourceRepository
	tx         db.Transactor
	dependents map[string]DependentCounter
	references map[string]ReferenceCounter
}

func NewService(c CentreRepository, u UserRepository, s ImagingSourceRepository, tx db.Transactor) *Service {
	return &Service{
		centres: c,
		users:   u,
		sources: s,
		tx:      tx,
		dependents: map[string]DependentCounter{
			"users":           u,
			"imaging sources": s,
		},
		references: make(map[string]ReferenceCounter),
	}
}

// AddDependent registers another kind of row that keeps a centre from being
// deleted.
func (s *Service) AddDependent(name string, dc DependentCounter) {
	s.dependents[name] = dc
}

// AddReference registers a kind of row that keeps a user from being
// deleted.
func (s *Service) AddReference(name string, rc ReferenceCounter) {
	s.references[name] = rc
}

// -- Centres --

func (s *Service) CreateCentre(ctx context.Context, actor identity.Actor, c *Centre) error {
	const op = "centre.create"
	if err := access.Check(actor, access.Global(access.Centre), access.Create); err != nil {
		return err
	}
	if err := ValidateCentreName(c.Name); err != nil {
		return apperror.Validation(op, "%s", err)
	}
	if err := validateEmail("contact_email", c.ContactEmail); err != nil {
		return apperror.Validation(op, "%s", err)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.centres.NameExists(ctx, c.Name)
		if err != nil {
			return err
		}
		if exists {
			return apperror.Conflict(op, "centre %q already exists", c.Name)
		}
		c.IsActive = true
		return s.centres.Create(ctx, c)
	})
}

func (s *Service) GetCentre(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Centre, error) {
	c, err := s.centres.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Centre, c.ID), access.Read); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListCentres(ctx context.Context, actor identity.Actor, limit, offset int) ([]*Centre, int, error) {
	scope, err := access.ListScope(actor, access.Centre)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		c, err := s.centres.GetByID(ctx, *scope)
		if err != nil {
			return nil, 0, err
		}
		return []*Centre{c}, 1, nil
	}
	return s.centres.List(ctx, limit, offset)
}

func (s *Service) UpdateCentre(ctx context.Context, actor identity.Actor, id uuid.UUID, u CentreUpdate) (*Centre, error) {
	const op = "centre.update"
	if err := validateEmail("contact_email", u.ContactEmail); err != nil {
		return nil, apperror.Validation(op, "%s", err)
	}
	var out *Centre
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.centres.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Centre, c.ID), access.Update); err != nil {
			return err
		}
		c.Apply(u)
		if err := s.centres.Update(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// DeleteCentre refuses while any dependent rows remain.
func (s *Service) DeleteCentre(ctx context.Context, actor identity.Actor, id uuid.UUID) error {
	const op = "centre.delete"
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.centres.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Centre, c.ID), access.Delete); err != nil {
			return err
		}
		var blocking []string
		for name, dc := range s.dependents {
			n, err := dc.CountByCentre(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				blocking = append(blocking, name)
			}
		}
		if len(blocking) > 0 {
			return apperror.Conflict(op, "centre %q still has %s", c.Name, strings.Join(blocking, ", "))
		}
		return s.centres.Delete(ctx, id)
	})
}

// -- Users --

// CreateUser lets admins create any actor. Centre operators may add
// technicians and doctors to their own centre.
func (s *Service) CreateUser(ctx context.Context, actor identity.Actor, u *User) error {
	const op = "user.create"
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if err := u.Validate(); err != nil {
		return apperror.Validation(op, "%s", err)
	}

	res := access.Global(access.User)
	if u.CentreID != nil {
		res = access.On(access.User, *u.CentreID)
	}
	if err := access.Check(actor, res, access.Create); err != nil {
		return err
	}
	if !actor.IsAdmin() && u.Role != identity.RoleTechnician && u.Role != identity.RoleDoctor {
		return apperror.NotAuthorized(op, "only admins may create %s users", u.Role)
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if u.CentreID != nil {
			if _, err := s.centres.GetByID(ctx, *u.CentreID); err != nil {
				return err
			}
		}
		if _, err := s.users.GetByEmail(ctx, u.Email); err == nil {
			return apperror.Conflict(op, "email %s is already registered", u.Email)
		} else if !apperror.Is(err, apperror.KindNotFound) {
			return err
		}
		u.IsActive = true
		return s.users.Create(ctx, u)
	})
}

func (s *Service) GetUser(ctx context.Context, actor identity.Actor, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ID == actor.ID {
		return u, nil
	}
	res := access.Global(access.User)
	if u.CentreID != nil {
		res = access.On(access.User, *u.CentreID)
	}
	if err := access.Check(actor, res, access.Read); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, actor identity.Actor, f UserFilter, limit, offset int) ([]*User, int, error) {
	scope, err := access.ListScope(actor, access.User)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		if f.CentreID != nil && *f.CentreID != *scope {
			return nil, 0, access.Authorize(actor, access.On(access.User, *f.CentreID), access.Read).Err()
		}
		f.CentreID = scope
	}
	return s.users.List(ctx, f, limit, offset)
}

func (s *Service) UpdateUser(ctx context.Context, actor identity.Actor, id uuid.UUID, up UserUpdate) (*User, error) {
	const op = "user.update"
	var out *User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		res := access.Global(access.User)
		if u.CentreID != nil {
			res = access.On(access.User, *u.CentreID)
		}
		if err := access.Check(actor, res, access.Update); err != nil {
			return err
		}
		u.Apply(up)
		if err := u.Validate(); err != nil {
			return apperror.Validation(op, "%s", err)
		}
		if u.CentreID != nil {
			if _, err := s.centres.GetByID(ctx, *u.CentreID); err != nil {
				return err
			}
		}
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

// DeleteUser removes a user nobody references. Users named by studies or
// reports can only be deactivated.
func (s *Service) DeleteUser(ctx context.Context, actor identity.Actor, id uuid.UUID) error {
	const op = "user.delete"
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		res := access.Global(access.User)
		if u.CentreID != nil {
			res = access.On(access.User, *u.CentreID)
		}
		if err := access.Check(actor, res, access.Delete); err != nil {
			return err
		}
		if u.ID == actor.ID {
			return apperror.Conflict(op, "users cannot delete themselves")
		}
		var blocking []string
		for name, rc := range s.references {
			n, err := rc.CountByUser(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				blocking = append(blocking, name)
			}
		}
		if len(blocking) > 0 {
			sort.Strings(blocking)
			return apperror.Conflict(op, "user %s is referenced by %s; deactivate instead", u.Email, strings.Join(blocking, ", "))
		}
		return s.users.Delete(ctx, id)
	})
}

// ResolveActor reloads an authenticated principal. Unknown and deactivated
// users are refused.
func (s *Service) ResolveActor(ctx context.Context, id uuid.UUID) (identity.Actor, error) {
	const op = "user.resolve"
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return identity.Actor{}, apperror.NotAuthorized(op, "unknown user")
		}
		return identity.Actor{}, err
	}
	if !u.IsActive {
		return identity.Actor{}, apperror.NotAuthorized(op, "user is inactive")
	}
	return u.Actor(), nil
}

// -- Imaging sources --

func (s *Service) CreateImagingSource(ctx context.Context, actor identity.Actor, src *ImagingSource) error {
	const op = "imaging_source.create"
	if err := access.Check(actor, access.On(access.ImagingSource, src.CentreID), access.Create); err != nil {
		return err
	}
	if err := src.Validate(); err != nil {
		return apperror.Validation(op, "%s", err)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.centres.GetByID(ctx, src.CentreID); err != nil {
			return err
		}
		src.IsActive = true
		return s.sources.Create(ctx, src)
	})
}

func (s *Service) GetImagingSource(ctx context.Context, actor identity.Actor, id uuid.UUID) (*ImagingSource, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.ImagingSource, src.CentreID), access.Read); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Service) ListImagingSources(ctx context.Context, actor identity.Actor, centreID *uuid.UUID, limit, offset int) ([]*ImagingSource, int, error) {
	scope, err := access.ListScope(actor, access.ImagingSource)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		if centreID != nil && *centreID != *scope {
			return nil, 0, access.Authorize(actor, access.On(access.ImagingSource, *centreID), access.Read).Err()
		}
		centreID = scope
	}
	return s.sources.List(ctx, centreID, limit, offset)
}

func (s *Service) UpdateImagingSource(ctx context.Context, actor identity.Actor, id uuid.UUID, u ImagingSourceUpdate) (*ImagingSource, error) {
	const op = "imaging_source.update"
	var out *ImagingSource
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.sources.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.ImagingSource, src.CentreID), access.Update); err != nil {
			return err
		}
		src.Apply(u)
		if err := src.Validate(); err != nil {
			return apperror.Validation(op, "%s", err)
		}
		if err := s.sources.Update(ctx, src); err != nil {
			return err
		}
		out = src
		return nil
	})
	return out, err
}

func (s *Service) DeleteImagingSource(ctx context.Context, actor identity.Actor, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.sources.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.ImagingSource, src.CentreID), access.Delete); err != nil {
			return err
		}
		return s.sources.Delete(ctx, id)
	})
}
