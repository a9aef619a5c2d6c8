package memory

import (
	"context"
	"sort"
	"time"

	"github.com/samber/oops"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/utils"
	"github.com/jrsteele09/go-session-auth/token/refresh"
)

var _ refresh.Repo = (*refreshRepo)(nil)

type refreshRepo struct {
	view view
}

func (r *refreshRepo) Insert(_ context.Context, rt *refresh.RefreshToken) error {
	return r.view(func(d *data) error {
		if _, ok := d.tokens[rt.Token]; ok {
			return autherrors.Duplicate("token", "refresh token already exists")
		}
		d.tokens[rt.Token] = *rt
		return nil
	})
}

func (r *refreshRepo) GetByToken(_ context.Context, value string) (*refresh.RefreshToken, error) {
	var found *refresh.RefreshToken
	err := r.view(func(d *data) error {
		rt, ok := d.tokens[value]
		if !ok {
			return oops.Code(autherrors.CodeToken).Wrap(autherrors.ErrTokenNotFound)
		}
		found = &rt
		return nil
	})
	return found, err
}

func (r *refreshRepo) MarkRevoked(_ context.Context, rt *refresh.RefreshToken) error {
	return r.view(func(d *data) error {
		stored, ok := d.tokens[rt.Token]
		if !ok {
			return oops.Code(autherrors.CodeToken).Wrap(autherrors.ErrTokenNotFound)
		}
		stored.Revoked = rt.Revoked
		stored.RevokedAt = utils.Clone(rt.RevokedAt)
		stored.RevokedBy = rt.RevokedBy
		stored.RevokedByIP = rt.RevokedByIP
		stored.ReplacedBy = rt.ReplacedBy
		d.tokens[rt.Token] = stored
		return nil
	})
}

func (r *refreshRepo) RevokeAllActiveForUser(_ context.Context, userID string, now time.Time, actor string) (int64, error) {
	var n int64
	err := r.view(func(d *data) error {
		for value, rt := range d.tokens {
			if rt.UserID != userID || !rt.IsActive(now) {
				continue
			}
			revokedAt := now
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
			rt.RevokedBy = actor
			d.tokens[value] = rt
			n++
		}
		return nil
	})
	return n, err
}

func (r *refreshRepo) ListByUser(_ context.Context, userID string) ([]*refresh.RefreshToken, error) {
	list := []*refresh.RefreshToken{}
	err := r.view(func(d *data) error {
		for _, rt := range d.tokens {
			if rt.UserID == userID {
				list = append(list, &rt)
			}
		}
		return nil
	})
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, err
}
