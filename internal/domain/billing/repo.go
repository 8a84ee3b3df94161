package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
)

type BillingRepository interface {
	Create(ctx context.Context, b *Billing) error
	GetByID(ctx context.Context, id uuid.UUID) (*Billing, error)
	GetByStudy(ctx context.Context, studyID uuid.UUID) (*Billing, error)
	InvoiceExists(ctx context.Context, number string) (bool, error)
	List(ctx context.Context, f BillingFilter, limit, offset int) ([]*Billing, int, error)
	UpdateStatus(ctx context.Context, b *Billing) error
	CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error)
}

type PricingRepository interface {
	Create(ctx context.Context, p *PricingConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*PricingConfig, error)
	// Find returns the price of modality at a centre, or NotFound.
	Find(ctx context.Context, centreID uuid.UUID, modality study.Modality) (*PricingConfig, error)
	List(ctx context.Context, centreID *uuid.UUID, limit, offset int) ([]*PricingConfig, int, error)
	Update(ctx context.Context, p *PricingConfig) error
	CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error)
}
