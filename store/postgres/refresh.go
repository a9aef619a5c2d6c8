package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/logging"
	"github.com/jrsteele09/go-session-auth/token/refresh"
)

const refreshColumns = `
	id, token, user_id, created_at, expires_at,
	revoked, revoked_at, revoked_by, replaced_by, created_by_ip, revoked_by_ip`

var _ refresh.Repo = (*RefreshTokenRepository)(nil)

// RefreshTokenRepository implements refresh.Repo.
type RefreshTokenRepository struct {
	q querier
}

func NewRefreshTokenRepository(q querier) *RefreshTokenRepository {
	return &RefreshTokenRepository{q: q}
}

func (r *RefreshTokenRepository) Insert(ctx context.Context, rt *refresh.RefreshToken) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rt.ID,
		rt.Token,
		rt.UserID,
		rt.CreatedAt,
		rt.ExpiresAt,
		rt.Revoked,
		rt.RevokedAt,
		rt.RevokedBy,
		rt.ReplacedBy,
		rt.CreatedByIP,
		rt.RevokedByIP,
	)
	if err != nil {
		return mapWriteError(err, "insert refresh token")
	}
	return nil
}

// GetByToken locks the row for the rest of the transaction.
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, value string) (*refresh.RefreshToken, error) {
	rt, err := scanRefreshToken(r.q.QueryRow(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE token = $1
		FOR UPDATE
	`, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(autherrors.CodeToken).
			With("refresh_token", logging.TokenPrefix(value)).
			Wrap(autherrors.ErrTokenNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get refresh token").Wrap(err)
	}
	return rt, nil
}

func (r *RefreshTokenRepository) MarkRevoked(ctx context.Context, rt *refresh.RefreshToken) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = $2, revoked_at = $3, revoked_by = $4, revoked_by_ip = $5, replaced_by = $6
		WHERE token = $1
	`, rt.Token, rt.Revoked, rt.RevokedAt, rt.RevokedBy, rt.RevokedByIP, rt.ReplacedBy)
	if err != nil {
		return oops.With("operation", "revoke refresh token").Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(autherrors.CodeToken).Wrap(autherrors.ErrTokenNotFound)
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllActiveForUser(ctx context.Context, userID string, now time.Time, actor string) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoked_by = $3
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
	`, userID, now, actor)
	if err != nil {
		return 0, oops.With("operation", "revoke all refresh tokens").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepository) ListByUser(ctx context.Context, userID string) ([]*refresh.RefreshToken, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, oops.With("operation", "list refresh tokens").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	list := []*refresh.RefreshToken{}
	for rows.Next() {
		rt, err := scanRefreshToken(rows)
		if err != nil {
			return nil, oops.With("operation", "scan refresh token").Wrap(err)
		}
		list = append(list, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate refresh tokens").Wrap(err)
	}
	return list, nil
}

func scanRefreshToken(row pgx.Row) (*refresh.RefreshToken, error) {
	var rt refresh.RefreshToken
	err := row.Scan(
		&rt.ID,
		&rt.Token,
		&rt.UserID,
		&rt.CreatedAt,
		&rt.ExpiresAt,
		&rt.Revoked,
		&rt.RevokedAt,
		&rt.RevokedBy,
		&rt.ReplacedBy,
		&rt.CreatedByIP,
		&rt.RevokedByIP,
	)
	if err != nil {
		return nil, err
	}
	rt.CreatedAt = rt.CreatedAt.UTC()
	rt.ExpiresAt = rt.ExpiresAt.UTC()
	rt.RevokedAt = utc(rt.RevokedAt)
	return &rt, nil
}
