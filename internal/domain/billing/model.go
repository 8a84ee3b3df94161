package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
)

type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyINR Currency = "inr"
	CurrencyAED Currency = "aed"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyINR, CurrencyAED:
		return true
	}
	return false
}

// ParseCurrency accepts currency codes in either case.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

// StatusPending is the status of a new billing. Later statuses are free text.
const StatusPending = "pending"

const maxStatusLen = 64

// Billing is the invoice attached to exactly one study. CentreID copies the
// study's centre so billing lists can be scoped without a join.
type Billing struct {
	ID            uuid.UUID `db:"id" json:"id"`
	StudyID       uuid.UUID `db:"study_id" json:"study_id"`
	CentreID      uuid.UUID `db:"centre_id" json:"centre_id"`
	Amount        float64   `db:"amount" json:"amount"`
	Currency      Currency  `db:"currency" json:"currency"`
	Status        string    `db:"status" json:"status"`
	InvoiceNumber string    `db:"invoice_number" json:"invoice_number"`
	InvoiceDate   time.Time `db:"invoice_date" json:"invoice_date"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// BillingInput requests a billing for a study. A non-positive amount takes
// the centre's price for the study modality; an empty currency takes the
// price's currency, or usd when an amount is given.
type BillingInput struct {
	StudyID  uuid.UUID `json:"study_id"`
	Amount   float64   `json:"amount"`
	Currency Currency  `json:"currency"`
}

type BillingFilter struct {
	CentreID *uuid.UUID
	Status   *string
}

func normalizeStatus(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("status is required")
	}
	if len(s) > maxStatusLen {
		return "", fmt.Errorf("status must be at most %d characters", maxStatusLen)
	}
	return s, nil
}

// PricingConfig is a centre's price for one modality.
type PricingConfig struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	CentreID  uuid.UUID      `db:"centre_id" json:"centre_id"`
	Modality  study.Modality `db:"modality" json:"modality"`
	Price     float64        `db:"price" json:"price"`
	Currency  Currency       `db:"currency" json:"currency"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

func (p *PricingConfig) Validate() error {
	if p.CentreID == uuid.Nil {
		return fmt.Errorf("centre_id is required")
	}
	if !p.Modality.Valid() {
		return fmt.Errorf("unknown modality %q", p.Modality)
	}
	if p.Price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if !p.Currency.Valid() {
		return fmt.Errorf("unknown currency %q", p.Currency)
	}
	return nil
}

type PricingUpdate struct {
	Price    *float64  `json:"price"`
	Currency *Currency `json:"currency"`
}

func (p *PricingConfig) Apply(u PricingUpdate) {
	if u.Price != nil {
		p.Price = *u.Price
	}
	if u.Currency != nil {
		p.Currency = *u.Currency
	}
}
