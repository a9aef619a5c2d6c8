// Package memory is an in-process store for development runs and tests.
// Transactions are serialized behind one mutex and work on a copy of the
// data that replaces the original only on commit.
package memory

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

var _ auth.Transactor = (*Store)(nil)

type data struct {
	users     map[string]users.User            // by id
	roles     map[string]roles.Role            // by id
	userRoles []roles.UserRole                 // insertion order
	tokens    map[string]refresh.RefreshToken // by token value
}

func newData() *data {
	return &data{
		users:  make(map[string]users.User),
		roles:  make(map[string]roles.Role),
		tokens: make(map[string]refresh.RefreshToken),
	}
}

func (d *data) clone() *data {
	c := &data{
		users:     make(map[string]users.User, len(d.users)),
		roles:     make(map[string]roles.Role, len(d.roles)),
		userRoles: append([]roles.UserRole(nil), d.userRoles...),
		tokens:    make(map[string]refresh.RefreshToken, len(d.tokens)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.roles {
		c.roles[k] = v
	}
	for k, v := range d.tokens {
		c.tokens[k] = v
	}
	return c
}

// Store holds every table in memory.
type Store struct {
	lock sync.Mutex
	data *data
}

func New() *Store {
	return &Store{data: newData()}
}

// view runs fn against the data. Outside a transaction fn runs under the
// store lock; inside one the lock is already held.
type view func(fn func(d *data) error) error

func (s *Store) committed(fn func(d *data) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn(s.data)
}

// Repos returns repositories that operate outside any transaction.
func (s *Store) Repos() auth.Repos {
	return repos(s.committed)
}

func repos(v view) auth.Repos {
	return auth.Repos{
		Users:         &userRepo{view: v},
		Roles:         &roleRepo{view: v},
		RefreshTokens: &refreshRepo{view: v},
	}
}

// InTransaction runs fn on a private copy of the data and publishes the copy
// when fn succeeds and ctx is still live.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, repos auth.Repos) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.data.clone()
	txView := func(f func(d *data) error) error {
		return f(working)
	}
	if err := fn(ctx, repos(txView)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = working
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}
