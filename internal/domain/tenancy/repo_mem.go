package tenancy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

// The in-memory repositories back the "memory" store driver and the tests.
// They hand out copies so callers never alias stored rows.

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// =========== Centre ===========

type MemCentreRepo struct {
	mu      sync.RWMutex
	centres map[uuid.UUID]Centre
}

func NewMemCentreRepo() *MemCentreRepo {
	return &MemCentreRepo{centres: make(map[uuid.UUID]Centre)}
}

func (r *MemCentreRepo) Create(ctx context.Context, c *Centre) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.centres {
		if existing.Name == c.Name {
			return apperror.Conflict("centre.create", "duplicate centres_name_key")
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	db.RestoreOnRollback(ctx, &r.mu, r.centres, c.ID)
	r.centres[c.ID] = *c
	return nil
}

func (r *MemCentreRepo) GetByID(_ context.Context, id uuid.UUID) (*Centre, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.centres[id]
	if !ok {
		return nil, apperror.NotFound("centre.get", "not found")
	}
	return &c, nil
}

func (r *MemCentreRepo) NameExists(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.centres {
		if c.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemCentreRepo) List(_ context.Context, limit, offset int) ([]*Centre, int, error) {
	r.mu.RLock()
	var all []*Centre
	for _, c := range r.centres {
		c := c
		all = append(all, &c)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, limit, offset), len(all), nil
}

func (r *MemCentreRepo) Update(ctx context.Context, c *Centre) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.centres[c.ID]; !ok {
		return apperror.NotFound("centre.update", "not found")
	}
	c.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.centres, c.ID)
	r.centres[c.ID] = *c
	return nil
}

func (r *MemCentreRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.centres[id]; !ok {
		return apperror.NotFound("centre.delete", "not found")
	}
	db.RestoreOnRollback(ctx, &r.mu, r.centres, id)
	delete(r.centres, id)
	return nil
}

// =========== User ===========

type MemUserRepo struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewMemUserRepo() *MemUserRepo {
	return &MemUserRepo{users: make(map[uuid.UUID]User)}
}

func (r *MemUserRepo) Create(ctx context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return apperror.Conflict("user.create", "duplicate users_email_key")
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	db.RestoreOnRollback(ctx, &r.mu, r.users, u.ID)
	r.users[u.ID] = *u
	return nil
}

func (r *MemUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperror.NotFound("user.get", "not found")
	}
	return &u, nil
}

func (r *MemUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user.get_by_email", "not found")
}

func (r *MemUserRepo) List(_ context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	r.mu.RLock()
	var all []*User
	for _, u := range r.users {
		if f.CentreID != nil && (u.CentreID == nil || *u.CentreID != *f.CentreID) {
			continue
		}
		if f.Role != nil && u.Role != *f.Role {
			continue
		}
		if f.Active != nil && u.IsActive != *f.Active {
			continue
		}
		u := u
		all = append(all, &u)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return page(all, limit, offset), len(all), nil
}

func (r *MemUserRepo) Update(ctx context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return apperror.NotFound("user.update", "not found")
	}
	u.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.users, u.ID)
	r.users[u.ID] = *u
	return nil
}

func (r *MemUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return apperror.NotFound("user.delete", "not found")
	}
	db.RestoreOnRollback(ctx, &r.mu, r.users, id)
	delete(r.users, id)
	return nil
}

func (r *MemUserRepo) CountByCentre(_ context.Context, centreID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.users {
		if u.CentreID != nil && *u.CentreID == centreID {
			n++
		}
	}
	return n, nil
}

// =========== Imaging Source ===========

type MemImagingSourceRepo struct {
	mu      sync.RWMutex
	sources map[uuid.UUID]ImagingSource
}

func NewMemImagingSourceRepo() *MemImagingSourceRepo {
	return &MemImagingSourceRepo{sources: make(map[uuid.UUID]ImagingSource)}
}

func (r *MemImagingSourceRepo) Create(ctx context.Context, s *ImagingSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	db.RestoreOnRollback(ctx, &r.mu, r.sources, s.ID)
	r.sources[s.ID] = *s
	return nil
}

func (r *MemImagingSourceRepo) GetByID(_ context.Context, id uuid.UUID) (*ImagingSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, apperror.NotFound("imaging_source.get", "not found")
	}
	return &s, nil
}

func (r *MemImagingSourceRepo) List(_ context.Context, centreID *uuid.UUID, limit, offset int) ([]*ImagingSource, int, error) {
	r.mu.RLock()
	var all []*ImagingSource
	for _, s := range r.sources {
		if centreID != nil && s.CentreID != *centreID {
			continue
		}
		s := s
		all = append(all, &s)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, limit, offset), len(all), nil
}

func (r *MemImagingSourceRepo) Update(ctx context.Context, s *ImagingSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[s.ID]; !ok {
		return apperror.NotFound("imaging_source.update", "not found")
	}
	s.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.sources, s.ID)
	r.sources[s.ID] = *s
	return nil
}

func (r *MemImagingSourceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; !ok {
		return apperror.NotFound("imaging_source.delete", "not found")
	}
	db.RestoreOnRollback(ctx, &r.mu, r.sources, id)
	delete(r.sources, id)
	return nil
}

func (r *MemImagingSourceRepo) CountByCentre(_ context.Context, centreID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sources {
		if s.CentreID == centreID {
			n++
		}
	}
	return n, nil
}
