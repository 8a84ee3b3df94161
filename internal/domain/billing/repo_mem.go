package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

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

// =========== Billing ===========

// MemBillingRepo enforces the unique study and invoice number columns.
type MemBillingRepo struct {
	mu       sync.RWMutex
	billings map[uuid.UUID]Billing
}

func NewMemBillingRepo() *MemBillingRepo {
	return &MemBillingRepo{billings: make(map[uuid.UUID]Billing)}
}

func (r *MemBillingRepo) Create(ctx context.Context, b *Billing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.billings {
		if existing.StudyID == b.StudyID {
			return apperror.Conflict("billing.create", "duplicate billings_study_id_key")
		}
		if existing.InvoiceNumber == b.InvoiceNumber {
			return apperror.Conflict("billing.create", "duplicate billings_invoice_number_key")
		}
	}
	now := time.Now().UTC()
	b.ID = uuid.New()
	b.InvoiceDate = now
	b.CreatedAt = now
	b.UpdatedAt = now
	db.RestoreOnRollback(ctx, &r.mu, r.billings, b.ID)
	r.billings[b.ID] = *b
	return nil
}

func (r *MemBillingRepo) GetByID(_ context.Context, id uuid.UUID) (*Billing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.billings[id]
	if !ok {
		return nil, apperror.NotFound("billing.get", "not found")
	}
	return &b, nil
}

func (r *MemBillingRepo) GetByStudy(_ context.Context, studyID uuid.UUID) (*Billing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.billings {
		if b.StudyID == studyID {
			return &b, nil
		}
	}
	return nil, apperror.NotFound("billing.get_by_study", "not found")
}

func (r *MemBillingRepo) InvoiceExists(_ context.Context, number string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.billings {
		if b.InvoiceNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemBillingRepo) List(_ context.Context, f BillingFilter, limit, offset int) ([]*Billing, int, error) {
	r.mu.RLock()
	var all []*Billing
	for _, b := range r.billings {
		b := b
		if f.CentreID != nil && b.CentreID != *f.CentreID {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		all = append(all, &b)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].InvoiceDate.After(all[j].InvoiceDate) })
	return page(all, limit, offset), len(all), nil
}

func (r *MemBillingRepo) UpdateStatus(ctx context.Context, b *Billing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.billings[b.ID]
	if !ok {
		return apperror.NotFound("billing.update_status", "not found")
	}
	cur.Status = b.Status
	cur.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.billings, b.ID)
	r.billings[b.ID] = cur
	b.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *MemBillingRepo) CountByCentre(_ context.Context, centreID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.billings {
		if b.CentreID == centreID {
			n++
		}
	}
	return n, nil
}

// =========== Pricing ===========

type MemPricingRepo struct {
	mu     sync.RWMutex
	prices map[uuid.UUID]PricingConfig
}

func NewMemPricingRepo() *MemPricingRepo {
	return &MemPricingRepo{prices: make(map[uuid.UUID]PricingConfig)}
}

func (r *MemPricingRepo) Create(ctx context.Context, p *PricingConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.prices {
		if existing.CentreID == p.CentreID && existing.Modality == p.Modality {
			return apperror.Conflict("pricing.create", "duplicate uq_pricing_centre_modality")
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	db.RestoreOnRollback(ctx, &r.mu, r.prices, p.ID)
	r.prices[p.ID] = *p
	return nil
}

func (r *MemPricingRepo) GetByID(_ context.Context, id uuid.UUID) (*PricingConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prices[id]
	if !ok {
		return nil, apperror.NotFound("pricing.get", "not found")
	}
	return &p, nil
}

func (r *MemPricingRepo) Find(_ context.Context, centreID uuid.UUID, modality study.Modality) (*PricingConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.prices {
		if p.CentreID == centreID && p.Modality == modality {
			return &p, nil
		}
	}
	return nil, apperror.NotFound("pricing.find", "not found")
}

func (r *MemPricingRepo) List(_ context.Context, centreID *uuid.UUID, limit, offset int) ([]*PricingConfig, int, error) {
	r.mu.RLock()
	var all []*PricingConfig
	for _, p := range r.prices {
		p := p
		if centreID != nil && p.CentreID != *centreID {
			continue
		}
		all = append(all, &p)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CentreID != all[j].CentreID {
			return all[i].CentreID.String() < all[j].CentreID.String()
		}
		return all[i].Modality < all[j].Modality
	})
	return page(all, limit, offset), len(all), nil
}

func (r *MemPricingRepo) Update(ctx context.Context, p *PricingConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.prices[p.ID]
	if !ok {
		return apperror.NotFound("pricing.update", "not found")
	}
	cur.Price = p.Price
	cur.Currency = p.Currency
	cur.UpdatedAt = time.Now().UTC()
	db.RestoreOnRollback(ctx, &r.mu, r.prices, p.ID)
	r.prices[p.ID] = cur
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *MemPricingRepo) CountByCentre(_ context.Context, centreID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.prices {
		if p.CentreID == centreID {
			n++
		}
	}
	return n, nil
}
