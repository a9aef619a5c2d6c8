package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// Unique constraints, as named by the migrations.
const (
	constraintUserEmail          = "users_email_lower_idx"
	constraintUserIdentification = "users_identification_number_idx"
	constraintRoleName           = "roles_name_key"
	constraintRefreshToken       = "refresh_tokens_token_key"
)

var duplicateFields = map[string][2]string{
	constraintUserEmail:          {"email", "email is already registered"},
	constraintUserIdentification: {"identificationNumber", "identification number is already registered"},
	constraintRoleName:           {"name", "role already exists"},
	constraintRefreshToken:       {"token", "refresh token already exists"},
}

// mapWriteError turns unique and foreign key violations into domain errors
// and wraps everything else with the operation name.
func mapWriteError(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			if f, ok := duplicateFields[pgErr.ConstraintName]; ok {
				return autherrors.Duplicate(f[0], f[1])
			}
			return autherrors.Duplicate(pgErr.ConstraintName, "value already exists")
		case pgerrcode.ForeignKeyViolation:
			return oops.Code(autherrors.CodeNotFound).
				With("constraint", pgErr.ConstraintName).
				Wrap(autherrors.ErrNotFound)
		}
	}
	return oops.With("operation", operation).Wrap(err)
}

func notFound(key string, value any) error {
	return oops.Code(autherrors.CodeNotFound).With(key, value).Wrap(autherrors.ErrNotFound)
}
