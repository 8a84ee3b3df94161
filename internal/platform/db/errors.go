package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"
)

// MapError classifies a pgx error. Missing rows become NotFound, constraint
// violations become Conflict or ValidationFailure, and everything else is
// internal.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(op, "not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return apperror.Wrap(apperror.KindConflict, op, err, "duplicate %s", pgErr.ConstraintName)
		case foreignKeyViolation:
			return apperror.Wrap(apperror.KindConflict, op, err, "referenced by or referencing %s", pgErr.ConstraintName)
		case checkViolation:
			return apperror.Wrap(apperror.KindValidation, op, err, "constraint %s", pgErr.ConstraintName)
		}
	}
	return apperror.Internal(op, err)
}
