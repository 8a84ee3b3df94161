package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

// =========== Billing Repository ===========

type billingRepoPG struct{ pool *pgxpool.Pool }

func NewBillingRepoPG(pool *pgxpool.Pool) BillingRepository { return &billingRepoPG{pool: pool} }

func (r *billingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const billingCols = `id, study_id, centre_id, amount::float8, currency, status, invoice_number,
	invoice_date, created_at, updated_at`

func scanBilling(row pgx.Row) (*Billing, error) {
	var b Billing
	err := row.Scan(&b.ID, &b.StudyID, &b.CentreID, &b.Amount, &b.Currency, &b.Status,
		&b.InvoiceNumber, &b.InvoiceDate, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *billingRepoPG) Create(ctx context.Context, b *Billing) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billings (id, study_id, centre_id, amount, currency, status, invoice_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING invoice_date, created_at, updated_at`,
		b.ID, b.StudyID, b.CentreID, b.Amount, string(b.Currency), b.Status, b.InvoiceNumber,
	).Scan(&b.InvoiceDate, &b.CreatedAt, &b.UpdatedAt)
	return db.MapError("billing.create", err)
}

func (r *billingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Billing, error) {
	b, err := scanBilling(r.conn(ctx).QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("billing.get", err)
	}
	return b, nil
}

func (r *billingRepoPG) GetByStudy(ctx context.Context, studyID uuid.UUID) (*Billing, error) {
	b, err := scanBilling(r.conn(ctx).QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE study_id = $1`, studyID))
	if err != nil {
		return nil, db.MapError("billing.get_by_study", err)
	}
	return b, nil
}

func (r *billingRepoPG) InvoiceExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM billings WHERE invoice_number = $1)`, number).Scan(&exists)
	return exists, db.MapError("billing.invoice_exists", err)
}

func (r *billingRepoPG) List(ctx context.Context, f BillingFilter, limit, offset int) ([]*Billing, int, error) {
	var conds []string
	var args []any
	if f.CentreID != nil {
		args = append(args, *f.CentreID)
		conds = append(conds, fmt.Sprintf("centre_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM billings`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("billing.list", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM billings%s ORDER BY invoice_date DESC LIMIT $%d OFFSET $%d`,
		billingCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("billing.list", err)
	}
	defer rows.Close()
	var out []*Billing
	for rows.Next() {
		b, err := scanBilling(rows)
		if err != nil {
			return nil, 0, db.MapError("billing.list", err)
		}
		out = append(out, b)
	}
	return out, total, db.MapError("billing.list", rows.Err())
}

func (r *billingRepoPG) UpdateStatus(ctx context.Context, b *Billing) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE billings SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		b.ID, b.Status,
	).Scan(&b.UpdatedAt)
	return db.MapError("billing.update_status", err)
}

func (r *billingRepoPG) CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM billings WHERE centre_id = $1`, centreID).Scan(&n)
	return n, db.MapError("billing.count", err)
}

// =========== Pricing Repository ===========

type pricingRepoPG struct{ pool *pgxpool.Pool }

func NewPricingRepoPG(pool *pgxpool.Pool) PricingRepository { return &pricingRepoPG{pool: pool} }

func (r *pricingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const pricingCols = `id, centre_id, modality, price::float8, currency, created_at, updated_at`

func scanPricing(row pgx.Row) (*PricingConfig, error) {
	var p PricingConfig
	err := row.Scan(&p.ID, &p.CentreID, &p.Modality, &p.Price, &p.Currency, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *pricingRepoPG) Create(ctx context.Context, p *PricingConfig) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pricing_configs (id, centre_id, modality, price, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.CentreID, string(p.Modality), p.Price, string(p.Currency),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return db.MapError("pricing.create", err)
}

func (r *pricingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PricingConfig, error) {
	p, err := scanPricing(r.conn(ctx).QueryRow(ctx, `SELECT `+pricingCols+` FROM pricing_configs WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("pricing.get", err)
	}
	return p, nil
}

func (r *pricingRepoPG) Find(ctx context.Context, centreID uuid.UUID, modality study.Modality) (*PricingConfig, error) {
	p, err := scanPricing(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pricingCols+` FROM pricing_configs WHERE centre_id = $1 AND modality = $2`,
		centreID, string(modality)))
	if err != nil {
		return nil, db.MapError("pricing.find", err)
	}
	return p, nil
}

func (r *pricingRepoPG) List(ctx context.Context, centreID *uuid.UUID, limit, offset int) ([]*PricingConfig, int, error) {
	where := ""
	var args []any
	if centreID != nil {
		where = " WHERE centre_id = $1"
		args = append(args, *centreID)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pricing_configs`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("pricing.list", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM pricing_configs%s ORDER BY centre_id, modality LIMIT $%d OFFSET $%d`,
		pricingCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("pricing.list", err)
	}
	defer rows.Close()
	var out []*PricingConfig
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, 0, db.MapError("pricing.list", err)
		}
		out = append(out, p)
	}
	return out, total, db.MapError("pricing.list", rows.Err())
}

func (r *pricingRepoPG) Update(ctx context.Context, p *PricingConfig) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pricing_configs SET price = $2, currency = $3, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`,
		p.ID, p.Price, string(p.Currency),
	).Scan(&p.UpdatedAt)
	return db.MapError("pricing.update", err)
}

func (r *pricingRepoPG) CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pricing_configs WHERE centre_id = $1`, centreID).Scan(&n)
	return n, db.MapError("pricing.count", err)
}
