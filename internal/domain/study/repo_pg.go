package study

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
)

// =========== Study Repository ===========

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewStudyRepoPG(pool *pgxpool.Pool) StudyRepository {
	return &studyRepoPG{pool: pool}
}

func (r *studyRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const studyCols = `id, study_code, patient_name, patient_age, patient_gender, modality, study_type,
	description, is_urgent, centre_id, created_by_id, assigned_radiologist_id, storage_location,
	num_instances, status, created_at, updated_at`

func scanStudy(row pgx.Row) (*Study, error) {
	var s Study
	err := row.Scan(&s.ID, &s.StudyCode, &s.PatientName, &s.PatientAge, &s.PatientGender, &s.Modality,
		&s.StudyType, &s.Description, &s.IsUrgent, &s.CentreID, &s.CreatedByID, &s.AssignedRadiologistID,
		&s.StorageLocation, &s.NumInstances, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *studyRepoPG) Create(ctx context.Context, s *Study) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO studies (id, study_code, patient_name, patient_age, patient_gender, modality, study_type,
			description, is_urgent, centre_id, created_by_id, assigned_radiologist_id, storage_location,
			num_instances, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		s.ID, s.StudyCode, s.PatientName, s.PatientAge, s.PatientGender, string(s.Modality), s.StudyType,
		s.Description, s.IsUrgent, s.CentreID, s.CreatedByID, s.AssignedRadiologistID, s.StorageLocation,
		s.NumInstances, string(s.Status),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return db.MapError("study.create", err)
}

func (r *studyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM studies WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("study.get", err)
	}
	return s, nil
}

func (r *studyRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM studies WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.MapError("study.get_for_update", err)
	}
	return s, nil
}

func (r *studyRepoPG) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM studies WHERE study_code = $1)`, code).Scan(&exists)
	return exists, db.MapError("study.code_exists", err)
}

func studyWhere(f StudyFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CentreID != nil {
		add("centre_id = $%d", *f.CentreID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Modality != nil {
		add("modality = $%d", string(*f.Modality))
	}
	if f.Urgent != nil {
		add("is_urgent = $%d", *f.Urgent)
	}
	if f.AssignedRadiologistID != nil {
		add("assigned_radiologist_id = $%d", *f.AssignedRadiologistID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *studyRepoPG) List(ctx context.Context, f StudyFilter, limit, offset int) ([]*Study, int, error) {
	where, args := studyWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM studies`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.MapError("study.list", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM studies%s ORDER BY is_urgent DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		studyCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError("study.list", err)
	}
	defer rows.Close()
	var out []*Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, 0, db.MapError("study.list", err)
		}
		out = append(out, s)
	}
	return out, total, db.MapError("study.list", rows.Err())
}

func (r *studyRepoPG) Update(ctx context.Context, s *Study) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE studies SET patient_name = $2, patient_age = $3, patient_gender = $4, study_type = $5,
			description = $6, is_urgent = $7, assigned_radiologist_id = $8, num_instances = $9,
			status = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.PatientName, s.PatientAge, s.PatientGender, s.StudyType, s.Description, s.IsUrgent,
		s.AssignedRadiologistID, s.NumInstances, string(s.Status),
	).Scan(&s.UpdatedAt)
	return db.MapError("study.update", err)
}

func (r *studyRepoPG) CountByCentre(ctx context.Context, centreID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM studies WHERE centre_id = $1`, centreID).Scan(&n)
	return n, db.MapError("study.count", err)
}

func (r *studyRepoPG) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM studies WHERE created_by_id = $1 OR assigned_radiologist_id = $1`, userID).Scan(&n)
	return n, db.MapError("study.count_by_user", err)
}

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const reportCols = `id, study_id, report_type, findings, impression, is_ai_generated, is_verified,
	created_by_id, verified_by_id, verified_at, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	err := row.Scan(&rp.ID, &rp.StudyID, &rp.ReportType, &rp.Findings, &rp.Impression, &rp.IsAIGenerated,
		&rp.IsVerified, &rp.CreatedByID, &rp.VerifiedByID, &rp.VerifiedAt, &rp.CreatedAt, &rp.UpdatedAt)
	return &rp, err
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reports (id, study_id, report_type, findings, impression, is_ai_generated, is_verified,
			created_by_id, verified_by_id, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		rp.ID, rp.StudyID, rp.ReportType, rp.Findings, rp.Impression, rp.IsAIGenerated, rp.IsVerified,
		rp.CreatedByID, rp.VerifiedByID, rp.VerifiedAt,
	).Scan(&rp.CreatedAt, &rp.UpdatedAt)
	return db.MapError("report.create", err)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError("report.get", err)
	}
	return rp, nil
}

func (r *reportRepoPG) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]*Report, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM reports WHERE study_id = $1 ORDER BY created_at`, studyID)
	if err != nil {
		return nil, db.MapError("report.list", err)
	}
	defer rows.Close()
	var out []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, db.MapError("report.list", err)
		}
		out = append(out, rp)
	}
	return out, db.MapError("report.list", rows.Err())
}

func (r *reportRepoPG) FindPendingAutomated(ctx context.Context, studyID uuid.UUID) (*Report, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx, `
		SELECT `+reportCols+` FROM reports
		WHERE study_id = $1 AND is_ai_generated AND NOT is_verified`, studyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError("report.find_pending_automated", err)
	}
	return rp, nil
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE reports SET report_type = $2, findings = $3, impression = $4, is_verified = $5,
			verified_by_id = $6, verified_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rp.ID, rp.ReportType, rp.Findings, rp.Impression, rp.IsVerified, rp.VerifiedByID, rp.VerifiedAt,
	).Scan(&rp.UpdatedAt)
	return db.MapError("report.update", err)
}

func (r *reportRepoPG) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM reports WHERE created_by_id = $1 OR verified_by_id = $1`, userID).Scan(&n)
	return n, db.MapError("report.count_by_user", err)
}
