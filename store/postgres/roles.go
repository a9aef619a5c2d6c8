package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/jrsteele09/go-session-auth/roles"
)

var _ roles.Repo = (*RoleRepository)(nil)

// RoleRepository implements roles.Repo.
type RoleRepository struct {
	q querier
}

func NewRoleRepository(q querier) *RoleRepository {
	return &RoleRepository{q: q}
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (*roles.Role, error) {
	var role roles.Role
	err := r.q.QueryRow(ctx, `
		SELECT id, name, description, priority, is_active, created_at
		FROM roles
		WHERE name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Description, &role.Priority, &role.IsActive, &role.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("role", name)
	}
	if err != nil {
		return nil, oops.With("operation", "get role by name").With("role", name).Wrap(err)
	}
	role.CreatedAt = role.CreatedAt.UTC()
	return &role, nil
}

func (r *RoleRepository) Create(ctx context.Context, role *roles.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO roles (id, name, description, priority, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.Name, role.Description, role.Priority, role.IsActive, role.CreatedAt)
	if err != nil {
		return mapWriteError(err, "insert role")
	}
	return nil
}

// AssignToUser inserts the assignment or refreshes an existing one.
func (r *RoleRepository) AssignToUser(ctx context.Context, assignment *roles.UserRole) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_at = EXCLUDED.assigned_at,
		    assigned_by = EXCLUDED.assigned_by,
		    expires_at = EXCLUDED.expires_at
	`, assignment.UserID, assignment.RoleID, assignment.AssignedAt, assignment.AssignedBy, assignment.ExpiresAt)
	if err != nil {
		return mapWriteError(err, "assign role")
	}
	return nil
}

func (r *RoleRepository) RoleNamesForUser(ctx context.Context, userID string, now time.Time) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND r.is_active
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY r.name
	`, userID, now)
	if err != nil {
		return nil, oops.With("operation", "get user roles").With("user_id", userID).Wrap(err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.With("operation", "scan user roles").With("user_id", userID).Wrap(err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (r *RoleRepository) List(ctx context.Context) ([]*roles.Role, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, description, priority, is_active, created_at
		FROM roles
		WHERE is_active
		ORDER BY priority, name
	`)
	if err != nil {
		return nil, oops.With("operation", "list roles").Wrap(err)
	}
	defer rows.Close()

	list := []*roles.Role{}
	for rows.Next() {
		var role roles.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Priority, &role.IsActive, &role.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan role").Wrap(err)
		}
		role.CreatedAt = role.CreatedAt.UTC()
		list = append(list, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate roles").Wrap(err)
	}
	return list, nil
}

func (r *RoleRepository) UserIDsInRole(ctx context.Context, roleID string, now time.Time) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id
		FROM user_roles
		WHERE role_id = $1
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY user_id
	`, roleID, now)
	if err != nil {
		return nil, oops.With("operation", "get users in role").With("role_id", roleID).Wrap(err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.With("operation", "scan users in role").With("role_id", roleID).Wrap(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r *RoleRepository) RemoveAllFromUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.With("operation", "remove user roles").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}
