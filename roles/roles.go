// Package roles is the role directory: the named roles a user may hold and
// the assignments that grant them.
package roles

import (
	"context"
	"errors"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

// Role is a named group of permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"` // unique
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserRole links a user to a role. An assignment with a past ExpiresAt no
// longer counts as membership.
type UserRole struct {
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	AssignedAt time.Time  `json:"assignedAt"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// IsCurrent reports whether the assignment is in force at now.
func (ur *UserRole) IsCurrent(now time.Time) bool {
	return ur.ExpiresAt == nil || now.Before(*ur.ExpiresAt)
}

// Repo persists roles and assignments.
type Repo interface {
	// GetByName fails with ErrNotFound when no role has that name.
	GetByName(ctx context.Context, name string) (*Role, error)
	// Create fails with ErrDuplicate when the name is taken.
	Create(ctx context.Context, role *Role) error
	AssignToUser(ctx context.Context, assignment *UserRole) error
	// RoleNamesForUser returns the sorted names of the active roles userID
	// currently holds.
	RoleNamesForUser(ctx context.Context, userID string, now time.Time) ([]string, error)
	// List returns the active roles ordered by priority, then name.
	List(ctx context.Context) ([]*Role, error)
	// UserIDsInRole returns the sorted ids of users currently holding roleID.
	UserIDsInRole(ctx context.Context, roleID string, now time.Time) ([]string, error)
	// RemoveAllFromUser deletes every assignment of userID.
	RemoveAllFromUser(ctx context.Context, userID string) (int64, error)
}

// Built-in role names.
const (
	Admin    = "Admin"
	Employee = "Employee"
	EndUser  = "EndUser"
)

// Defaults are the roles every installation starts with.
func Defaults(now time.Time) []Role {
	return []Role{
		{Name: Admin, Description: "System administrator with full access", Priority: 100, IsActive: true, CreatedAt: now},
		{Name: Employee, Description: "Employee with read and write access", Priority: 50, IsActive: true, CreatedAt: now},
		{Name: EndUser, Description: "End user with read only access", Priority: 10, IsActive: true, CreatedAt: now},
	}
}

// Seed creates the default roles that do not exist yet and returns how many
// were created.
func Seed(ctx context.Context, repo Repo, now time.Time) (int, error) {
	created := 0
	for _, role := range Defaults(now) {
		if _, err := repo.GetByName(ctx, role.Name); err == nil {
			continue
		} else if !errors.Is(err, autherrors.ErrNotFound) {
			return created, err
		}
		if err := repo.Create(ctx, &role); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
