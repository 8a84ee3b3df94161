package tenancy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

// =========== Centre Repository ===========

type centreRepoPG struct{ pool *pgxpool.Pool }

func NewCentreRepoPG(pool *pgxpool.Pool) CentreRepository {
	return &centreRepoPG{pool: pool}
}

func (r *centreRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const centreCols = `id, name, address, contact_email, contact_phone, is_active, created_at, updated_at`

func scanCentre(row pgx.Row) (*Centre, error) {
	var c Centre
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.ContactEmail, &c.ContactPhone, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *centreRepoPG) Create(ctx context.Context, c *Centre) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO centres (id, name, address, contact_email, contact_phone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Address, c.ContactEmail, c.ContactPhone, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return db.MapError("centre.create", err)
}

func (r *centreRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Centre, error) {
	c, err := scanCentre(r.conn(ctx).QueryRow(ctx, `SELECT `+centreCols+` FROM centres WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("centre.get", err)
	}
	return c, nil
}

func (r *centreRepoPG) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM centres WHERE name = $1)`, name).Scan(&exists)
	return exists, db.MapError("centre.name_exists", err)
}

func (r *centreRepoPG) List(ctx context.Context, limit, offset int) ([]*Centre, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM centres`).Scan(&total); err != nil {
		return nil, 0, db.MapError("centre.list", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+centreCols+` FROM centres ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.MapError("centre.list", err)
	}
	defer rows.Close()
	var out []*Centre
	for rows.Next() {
		c, err := scanCentre(rows)
		if err != nil {
			return nil, 0, db.MapError("centre.list", err)
		}
		out = append(out, c)
	}
	return out, total, db.MapError("centre.list", rows.Err())
}

func (r *centreRepoPG) Update(ctx context.Context, c *Centre) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE centres SET address = $2, contact_email = $3, contact_phone = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Address, c.ContactEmail, c.ContactPhone, c.IsActive,
	).Scan(&c.UpdatedAt)
	return db.MapError("centre.update", err)
}

func (r *centreRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM centres WHERE id = $1`, id)
	if err != nil {
		return db.MapError("centre.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("centre.delete", pgx.ErrNoRows)
	}
	return nil
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const userCols = `id, email, full_name, role, centre_id, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.CentreID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, role, centre_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.FullName, string(u.Role), u.CentreID, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return db.MapError("user.create", err)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("user.get", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, db.MapError("user.get_by_email", err)
	}
	return u, nil
}

func (r *userRepoPG) List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	var where []string
	var args []interface{}
	idx := 1
	if f.CentreID != nil {
		where = append(where, fmt.Sprintf("centre_id = $%d", idx))
		args = append(args, *f.CentreID)
		idx++
	}
	if f.Role != nil {
		where = append(where, fmt.Sprintf("role = $%d", idx))
		args = append(args, string(*f.Role))
		idx++
	}
	if f.Active != nil {
		where = append(where, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *f.Active)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("user.list", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at LIMIT $%d OFFSET $%d`, userCols, clause, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("user.list", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, db.MapError("user.list", err)
		}
		out = append(out, u)
	}
	return out, total, db.MapError("user.list", rows.Err())
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET full_name = $2, role = $3, centre_id = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FullName, string(u.Role), u.CentreID, u.IsActive,
	).Scan(&u.UpdatedAt)
	return db.MapError("user.update", err)
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return db.MapError("user.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("user.delete", pgx.ErrNoRows)
	}
	return nil
}

func (r *userRepoPG) CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE centre_id = $1`, centreID).Scan(&n)
	return n, db.MapError("user.count", err)
}

// =========== Imaging Source Repository ===========

type imagingSourceRepoPG struct{ pool *pgxpool.Pool }

func NewImagingSourceRepoPG(pool *pgxpool.Pool) ImagingSourceRepository {
	return &imagingSourceRepoPG{pool: pool}
}

func (r *imagingSourceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const sourceCols = `id, centre_id, name, ip_address, port, ae_title, description, is_active, created_at, updated_at`

func scanSource(row pgx.Row) (*ImagingSource, error) {
	var s ImagingSource
	err := row.Scan(&s.ID, &s.CentreID, &s.Name, &s.IPAddress, &s.Port, &s.AETitle, &s.Description, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *imagingSourceRepoPG) Create(ctx context.Context, s *ImagingSource) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO imaging_sources (id, centre_id, name, ip_address, port, ae_title, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		s.ID, s.CentreID, s.Name, s.IPAddress, s.Port, s.AETitle, s.Description, s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return db.MapError("imaging_source.create", err)
}

func (r *imagingSourceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ImagingSource, error) {
	s, err := scanSource(r.conn(ctx).QueryRow(ctx, `SELECT `+sourceCols+` FROM imaging_sources WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("imaging_source.get", err)
	}
	return s, nil
}

func (r *imagingSourceRepoPG) List(ctx context.Context, centreID *uuid.UUID, limit, offset int) ([]*ImagingSource, int, error) {
	clause, args := "", []interface{}{}
	if centreID != nil {
		clause = " WHERE centre_id = $1"
		args = append(args, *centreID)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM imaging_sources`+clause, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("imaging_source.list", err)
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM imaging_sources%s ORDER BY name LIMIT $%d OFFSET $%d`, sourceCols, clause, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("imaging_source.list", err)
	}
	defer rows.Close()
	var out []*ImagingSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, 0, db.MapError("imaging_source.list", err)
		}
		out = append(out, s)
	}
	return out, total, db.MapError("imaging_source.list", rows.Err())
}

func (r *imagingSourceRepoPG) Update(ctx context.Context, s *ImagingSource) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE imaging_sources SET name = $2, ip_address = $3, port = $4, ae_title = $5,
			description = $6, is_active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Name, s.IPAddress, s.Port, s.AETitle, s.Description, s.IsActive,
	).Scan(&s.UpdatedAt)
	return db.MapError("imaging_source.update", err)
}

func (r *imagingSourceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM imaging_sources WHERE id = $1`, id)
	if err != nil {
		return db.MapError("imaging_source.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError("imaging_source.delete", pgx.ErrNoRows)
	}
	return nil
}

func (r *imagingSourceRepoPG) CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM imaging_sources WHERE centre_id = $1`, centreID).Scan(&n)
	return n, db.MapError("imaging_source.count", err)
}
