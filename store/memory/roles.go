package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/roles"
)

var _ roles.Repo = (*roleRepo)(nil)

type roleRepo struct {
	view view
}

func (r *roleRepo) GetByName(_ context.Context, name string) (*roles.Role, error) {
	var found *roles.Role
	err := r.view(func(d *data) error {
		for _, role := range d.roles {
			if role.Name == name {
				found = &role
				return nil
			}
		}
		return notFound("role", name)
	})
	return found, err
}

func (r *roleRepo) Create(_ context.Context, role *roles.Role) error {
	return r.view(func(d *data) error {
		for _, existing := range d.roles {
			if existing.Name == role.Name {
				return autherrors.Duplicate("name", "role already exists")
			}
		}
		if role.ID == "" {
			role.ID = uuid.NewString()
		}
		d.roles[role.ID] = *role
		return nil
	})
}

func (r *roleRepo) AssignToUser(_ context.Context, assignment *roles.UserRole) error {
	return r.view(func(d *data) error {
		if _, ok := d.users[assignment.UserID]; !ok {
			return notFound("user_id", assignment.UserID)
		}
		if _, ok := d.roles[assignment.RoleID]; !ok {
			return notFound("role_id", assignment.RoleID)
		}
		for i, ur := range d.userRoles {
			if ur.UserID == assignment.UserID && ur.RoleID == assignment.RoleID {
				d.userRoles[i] = *assignment
				return nil
			}
		}
		d.userRoles = append(d.userRoles, *assignment)
		return nil
	})
}

func (r *roleRepo) RoleNamesForUser(_ context.Context, userID string, now time.Time) ([]string, error) {
	names := []string{}
	err := r.view(func(d *data) error {
		for _, ur := range d.userRoles {
			if ur.UserID != userID || !ur.IsCurrent(now) {
				continue
			}
			if role, ok := d.roles[ur.RoleID]; ok && role.IsActive {
				names = append(names, role.Name)
			}
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (r *roleRepo) List(_ context.Context) ([]*roles.Role, error) {
	list := []*roles.Role{}
	err := r.view(func(d *data) error {
		for _, role := range d.roles {
			if role.IsActive {
				list = append(list, &role)
			}
		}
		return nil
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority == list[j].Priority {
			return list[i].Name < list[j].Name
		}
		return list[i].Priority < list[j].Priority
	})
	return list, err
}

func (r *roleRepo) UserIDsInRole(_ context.Context, roleID string, now time.Time) ([]string, error) {
	ids := []string{}
	err := r.view(func(d *data) error {
		for _, ur := range d.userRoles {
			if ur.RoleID == roleID && ur.IsCurrent(now) {
				ids = append(ids, ur.UserID)
			}
		}
		return nil
	})
	sort.Strings(ids)
	return ids, err
}

func (r *roleRepo) RemoveAllFromUser(_ context.Context, userID string) (int64, error) {
	var removed int64
	err := r.view(func(d *data) error {
		kept := d.userRoles[:0]
		for _, ur := range d.userRoles {
			if ur.UserID == userID {
				removed++
				continue
			}
			kept = append(kept, ur)
		}
		d.userRoles = kept
		return nil
	})
	return removed, err
}
