package memory

import (
	"context"
	"sort"
	"time"

	"github.com/samber/oops"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/utils"
	"github.com/jrsteele09/go-session-auth/users"
)

var _ users.Repo = (*userRepo)(nil)

type userRepo struct {
	view view
}

func notFound(key string, value any) error {
	return oops.Code(autherrors.CodeNotFound).With(key, value).Wrap(autherrors.ErrNotFound)
}

func (r *userRepo) Create(_ context.Context, user *users.User) error {
	return r.view(func(d *data) error {
		email := users.NormalizeEmail(user.Email)
		for _, u := range d.users {
			if users.NormalizeEmail(u.Email) == email {
				return autherrors.Duplicate("email", "email is already registered")
			}
			if user.IdentificationNumber != "" && u.IdentificationNumber == user.IdentificationNumber {
				return autherrors.Duplicate("identificationNumber", "identification number is already registered")
			}
		}
		if _, ok := d.users[user.ID]; ok {
			return autherrors.Duplicate("id", "user id already exists")
		}
		d.users[user.ID] = *user
		return nil
	})
}

func (r *userRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	var found *users.User
	err := r.view(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return notFound("user_id", id)
		}
		found = &u
		return nil
	})
	return found, err
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	return r.find("email", email, func(u *users.User) bool {
		return users.NormalizeEmail(u.Email) == users.NormalizeEmail(email)
	})
}

func (r *userRepo) GetByIdentificationNumber(_ context.Context, number string) (*users.User, error) {
	if number == "" {
		return nil, notFound("identification_number", number)
	}
	return r.find("identification_number", number, func(u *users.User) bool {
		return u.IdentificationNumber == number
	})
}

func (r *userRepo) find(key string, value string, match func(u *users.User) bool) (*users.User, error) {
	var found *users.User
	err := r.view(func(d *data) error {
		for _, u := range d.users {
			if match(&u) {
				found = &u
				return nil
			}
		}
		return notFound(key, value)
	})
	return found, err
}

// LockByID is GetByID; transactions already run one at a time.
func (r *userRepo) LockByID(ctx context.Context, id string) (*users.User, error) {
	return r.GetByID(ctx, id)
}

func (r *userRepo) UpdateLoginState(_ context.Context, user *users.User) error {
	return r.update(user.ID, func(u *users.User) {
		u.FailedLoginAttempts = user.FailedLoginAttempts
		u.LockoutEnd = utils.Clone(user.LockoutEnd)
		u.LastLoginAt = utils.Clone(user.LastLoginAt)
	})
}

func (r *userRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *users.User) {
		u.LastLoginAt = &at
	})
}

func (r *userRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return r.update(id, func(u *users.User) {
		u.PasswordHash = hash
	})
}

func (r *userRepo) SetActive(_ context.Context, id string, active bool) error {
	return r.update(id, func(u *users.User) {
		u.IsActive = active
	})
}

func (r *userRepo) update(id string, apply func(u *users.User)) error {
	return r.view(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return notFound("user_id", id)
		}
		apply(&u)
		d.users[id] = u
		return nil
	})
}

func (r *userRepo) List(_ context.Context, offset, limit int) ([]*users.User, error) {
	var list []*users.User
	err := r.view(func(d *data) error {
		all := make([]*users.User, 0, len(d.users))
		for _, u := range d.users {
			all = append(all, &u)
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].ID < all[j].ID
			}
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		})
		list = page(all, offset, limit)
		return nil
	})
	return list, err
}

func page[T any](all []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

