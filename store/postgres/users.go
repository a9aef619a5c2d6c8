package postgres

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/jrsteele09/go-session-auth/internal/utils"
	"github.com/jrsteele09/go-session-auth/users"
)

const userColumns = `
	id, email, user_name, password_hash,
	identification_type, identification_number,
	names, surnames, birth_date, sex, city, country, address, phone_number,
	department, employee_code,
	is_active, created_at, last_login_at, failed_login_attempts, lockout_end`

var _ users.Repo = (*UserRepository)(nil)

// UserRepository implements users.Repo.
type UserRepository struct {
	q querier
}

func NewUserRepository(q querier) *UserRepository {
	return &UserRepository{q: q}
}

func (r *UserRepository) Create(ctx context.Context, user *users.User) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		user.ID,
		user.Email,
		user.UserName,
		user.PasswordHash,
		user.IdentificationType,
		user.IdentificationNumber,
		user.Names,
		user.Surnames,
		user.BirthDate,
		user.Sex,
		user.City,
		user.Country,
		user.Address,
		user.PhoneNumber,
		user.Department,
		user.EmployeeCode,
		user.IsActive,
		user.CreatedAt,
		user.LastLoginAt,
		user.FailedLoginAttempts,
		user.LockoutEnd,
	)
	if err != nil {
		return mapWriteError(err, "insert user")
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getOne(ctx, "user_id", id, `SELECT `+userColumns+` FROM users WHERE id = $1`)
}

// GetByEmail matches case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getOne(ctx, "email", email, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`)
}

func (r *UserRepository) GetByIdentificationNumber(ctx context.Context, number string) (*users.User, error) {
	if number == "" {
		return nil, notFound("identification_number", number)
	}
	return r.getOne(ctx, "identification_number", number, `SELECT `+userColumns+` FROM users WHERE identification_number = $1`)
}

// LockByID holds the row lock until the surrounding transaction ends.
func (r *UserRepository) LockByID(ctx context.Context, id string) (*users.User, error) {
	return r.getOne(ctx, "user_id", id, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`)
}

func (r *UserRepository) getOne(ctx context.Context, key, value, query string) (*users.User, error) {
	user, err := scanUser(r.q.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key, value)
	}
	if err != nil {
		return nil, oops.With("operation", "get user").With(key, value).Wrap(err)
	}
	return user, nil
}

func (r *UserRepository) UpdateLoginState(ctx context.Context, user *users.User) error {
	return r.updateOne(ctx, "update login state", user.ID, `
		UPDATE users
		SET failed_login_attempts = $2, lockout_end = $3, last_login_at = $4
		WHERE id = $1
	`, user.ID, user.FailedLoginAttempts, user.LockoutEnd, user.LastLoginAt)
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, "touch last login", id, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at.UTC())
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateOne(ctx, "update password", id, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.updateOne(ctx, "set active", id, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
}

func (r *UserRepository) updateOne(ctx context.Context, operation, id, query string, args ...any) error {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return oops.With("operation", operation).With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user_id", id)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]*users.User, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, oops.With("operation", "list users").Wrap(err)
	}
	defer rows.Close()

	list := []*users.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, oops.With("operation", "scan user").Wrap(err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate users").Wrap(err)
	}
	return list, nil
}

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.UserName,
		&u.PasswordHash,
		&u.IdentificationType,
		&u.IdentificationNumber,
		&u.Names,
		&u.Surnames,
		&u.BirthDate,
		&u.Sex,
		&u.City,
		&u.Country,
		&u.Address,
		&u.PhoneNumber,
		&u.Department,
		&u.EmployeeCode,
		&u.IsActive,
		&u.CreatedAt,
		&u.LastLoginAt,
		&u.FailedLoginAttempts,
		&u.LockoutEnd,
	)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.BirthDate = utc(u.BirthDate)
	u.LastLoginAt = utc(u.LastLoginAt)
	u.LockoutEnd = utc(u.LockoutEnd)
	return &u, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return utils.Ptr(t.UTC())
}
