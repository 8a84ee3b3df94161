// Package billing links studies to invoices and keeps per-centre modality
// prices.
package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/domain/access"
	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/domain/tenancy"
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
	"github.com/winnersdraw91/pacs-v2/internal/platform/codegen"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

type Service struct {
	billings BillingRepository
	pricing  PricingRepository
	studies  study.StudyRepository
	centres  tenancy.CentreRepository
	tx       db.Transactor
	logger   zerolog.Logger
}

func NewService(billings BillingRepository, pricing PricingRepository, studies study.StudyRepository,
	centres tenancy.CentreRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		billings: billings,
		pricing:  pricing,
		studies:  studies,
		centres:  centres,
		tx:       tx,
		logger:   logger.With().Str("component", "billing").Logger(),
	}
}

// -- Billing --

// CreateBilling issues the single billing of a study.
func (s *Service) CreateBilling(ctx context.Context, actor identity.Actor, in BillingInput) (*Billing, error) {
	const op = "billing.create"
	if in.Currency != "" && !in.Currency.Valid() {
		return nil, apperror.Validation(op, "unknown currency %q", in.Currency)
	}

	var out *Billing
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		st, err := s.studies.GetForUpdate(ctx, in.StudyID)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Billing, st.CentreID), access.Create); err != nil {
			return err
		}
		if _, err := s.billings.GetByStudy(ctx, st.ID); err == nil {
			return apperror.Conflict(op, "study %s is already billed", st.StudyCode)
		} else if !apperror.Is(err, apperror.KindNotFound) {
			return err
		}

		b := &Billing{
			StudyID:  st.ID,
			CentreID: st.CentreID,
			Amount:   in.Amount,
			Currency: in.Currency,
			Status:   StatusPending,
		}
		if b.Amount <= 0 {
			price, err := s.pricing.Find(ctx, st.CentreID, st.Modality)
			if apperror.Is(err, apperror.KindNotFound) {
				return apperror.Validation(op, "no amount given and no %s price configured for the centre", st.Modality)
			}
			if err != nil {
				return err
			}
			b.Amount = price.Price
			if b.Currency == "" {
				b.Currency = price.Currency
			}
		}
		if b.Currency == "" {
			b.Currency = CurrencyUSD
		}

		b.InvoiceNumber, err = codegen.InvoiceNumber.Unique(ctx, s.billings.InvoiceExists)
		if err != nil {
			return err
		}
		if err := s.billings.Create(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err == nil {
		s.logger.Info().
			Str("study_id", out.StudyID.String()).
			Str("invoice_number", out.InvoiceNumber).
			Float64("amount", out.Amount).
			Str("currency", string(out.Currency)).
			Msg("billing created")
	}
	return out, err
}

func (s *Service) GetBilling(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Billing, error) {
	b, err := s.billings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Billing, b.CentreID), access.Read); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBillingForStudy(ctx context.Context, actor identity.Actor, studyID uuid.UUID) (*Billing, error) {
	st, err := s.studies.GetByID(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Billing, st.CentreID), access.Read); err != nil {
		return nil, err
	}
	return s.billings.GetByStudy(ctx, studyID)
}

func (s *Service) ListBillings(ctx context.Context, actor identity.Actor, f BillingFilter, limit, offset int) ([]*Billing, int, error) {
	scope, err := access.ListScope(actor, access.Billing)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		if f.CentreID != nil && *f.CentreID != *scope {
			return nil, 0, access.Authorize(actor, access.On(access.Billing, *f.CentreID), access.Read).Err()
		}
		f.CentreID = scope
	}
	return s.billings.List(ctx, f, limit, offset)
}

func (s *Service) UpdateBillingStatus(ctx context.Context, actor identity.Actor, id uuid.UUID, status string) (*Billing, error) {
	const op = "billing.update_status"
	status, err := normalizeStatus(status)
	if err != nil {
		return nil, apperror.Validation(op, "%s", err)
	}
	var out *Billing
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.billings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Billing, b.CentreID), access.Update); err != nil {
			return err
		}
		b.Status = status
		if err := s.billings.UpdateStatus(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// -- Pricing --

func (s *Service) CreatePricing(ctx context.Context, actor identity.Actor, p *PricingConfig) error {
	const op = "pricing.create"
	if p.Currency == "" {
		p.Currency = CurrencyUSD
	}
	if err := access.Check(actor, access.On(access.Pricing, p.CentreID), access.Create); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return apperror.Validation(op, "%s", err)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.centres.GetByID(ctx, p.CentreID); err != nil {
			return err
		}
		if _, err := s.pricing.Find(ctx, p.CentreID, p.Modality); err == nil {
			return apperror.Conflict(op, "a %s price already exists for the centre", p.Modality)
		} else if !apperror.Is(err, apperror.KindNotFound) {
			return err
		}
		return s.pricing.Create(ctx, p)
	})
}

func (s *Service) GetPricing(ctx context.Context, actor identity.Actor, id uuid.UUID) (*PricingConfig, error) {
	p, err := s.pricing.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, access.On(access.Pricing, p.CentreID), access.Read); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePricing(ctx context.Context, actor identity.Actor, id uuid.UUID, up PricingUpdate) (*PricingConfig, error) {
	const op = "pricing.update"
	var out *PricingConfig
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.pricing.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.On(access.Pricing, p.CentreID), access.Update); err != nil {
			return err
		}
		p.Apply(up)
		if err := p.Validate(); err != nil {
			return apperror.Validation(op, "%s", err)
		}
		if err := s.pricing.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Service) ListPricing(ctx context.Context, actor identity.Actor, centreID *uuid.UUID, limit, offset int) ([]*PricingConfig, int, error) {
	scope, err := access.ListScope(actor, access.Pricing)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		if centreID != nil && *centreID != *scope {
			return nil, 0, access.Authorize(actor, access.On(access.Pricing, *centreID), access.Read).Err()
		}
		centreID = scope
	}
	return s.pricing.List(ctx, centreID, limit, offset)
}
