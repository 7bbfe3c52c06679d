package store

import (
	"context"
	"fmt"
	"strings"
)

const userColumns = `id, tenant_id, organization_id, email, email_hash, display_name,
	given_name, family_name, session_version, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.OrganizationID, &u.Email, &u.EmailHash,
		&u.DisplayName, &u.GivenName, &u.FamilyName, &u.SessionVersion,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	return u, err
}

// CreateUserParams holds the fields for a new user row.
type CreateUserParams struct {
	ID             string
	TenantID       string
	OrganizationID string
	Email          string
	DisplayName    string
	GivenName      string
	FamilyName     string
}

// CreateUser inserts a user. A unique violation on (organization, email)
// means the user lost a creation race; the caller retries as a lookup.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, organization_id, email, email_hash, display_name, given_name, family_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		arg.ID, arg.TenantID, arg.OrganizationID, arg.Email, HashEmail(arg.Email),
		arg.DisplayName, arg.GivenName, arg.FamilyName)
	return scanUser(row)
}

// GetUserByID returns a non-deleted user by id.
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanUser(row)
}

// FindUserByEmailInOrg looks up a user by exact email or by email hash within
// one organization. The hash match supports hashed-at-rest email storage.
func (q *Queries) FindUserByEmailInOrg(ctx context.Context, organizationID, email string) (User, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE organization_id = $1
		  AND (lower(email) = lower($2) OR email_hash = $3)
		  AND deleted_at IS NULL
		LIMIT 1`, organizationID, email, HashEmail(email))
	return scanUser(row)
}

// UpdateUserParams holds the mutable profile fields. Nil pointers are left unchanged.
type UpdateUserParams struct {
	ID          string
	Email       *string
	DisplayName *string
	GivenName   *string
	FamilyName  *string
}

// UpdateUser applies a partial profile update.
func (q *Queries) UpdateUser(ctx context.Context, arg UpdateUserParams) (User, error) {
	sets := []string{"updated_at = now()"}
	args := []any{arg.ID}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if arg.Email != nil {
		add("email = $%d", *arg.Email)
		add("email_hash = $%d", HashEmail(*arg.Email))
	}
	if arg.DisplayName != nil {
		add("display_name = $%d", *arg.DisplayName)
	}
	if arg.GivenName != nil {
		add("given_name = $%d", *arg.GivenName)
	}
	if arg.FamilyName != nil {
		add("family_name = $%d", *arg.FamilyName)
	}

	row := q.db.QueryRow(ctx, `
		UPDATE users SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+userColumns, args...)
	return scanUser(row)
}

// BumpSessionVersion invalidates any cached authorization data for the user.
func (q *Queries) BumpSessionVersion(ctx context.Context, userID string) (int32, error) {
	var v int32
	err := q.db.QueryRow(ctx, `
		UPDATE users SET session_version = session_version + 1, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING session_version`, userID).Scan(&v)
	return v, err
}

// GetRoleByID returns a role by id.
func (q *Queries) GetRoleByID(ctx context.Context, id string) (Role, error) {
	var r Role
	err := q.db.QueryRow(ctx, `SELECT id, tenant_id, name FROM roles WHERE id = $1`, id).
		Scan(&r.ID, &r.TenantID, &r.Name)
	return r, err
}

// CreateRole inserts a tenant role.
func (q *Queries) CreateRole(ctx context.Context, id, tenantID, name string) (Role, error) {
	var r Role
	err := q.db.QueryRow(ctx, `
		INSERT INTO roles (id, tenant_id, name) VALUES ($1, $2, $3)
		RETURNING id, tenant_id, name`, id, tenantID, name).
		Scan(&r.ID, &r.TenantID, &r.Name)
	return r, err
}

// ResolveRolesByNames resolves candidate role names against the tenant's role
// table, case-insensitively. Names that match nothing are dropped.
func (q *Queries) ResolveRolesByNames(ctx context.Context, tenantID string, names []string) ([]Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(strings.TrimSpace(n))
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, name FROM roles
		WHERE tenant_id = $1 AND lower(name) = ANY($2)`, tenantID, lowered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ListUserRoleNames returns the names of all roles currently assigned to the user.
func (q *Queries) ListUserRoleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT r.name FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.deleted_at IS NULL
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// AssignUserRole creates the user↔role join record if absent.
func (q *Queries) AssignUserRole(ctx context.Context, id, userID, roleID string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO user_roles (id, user_id, role_id) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) WHERE deleted_at IS NULL DO NOTHING`,
		id, userID, roleID)
	return err
}

// RemoveUserRole soft-deletes the user↔role join record.
func (q *Queries) RemoveUserRole(ctx context.Context, userID, roleID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE user_roles SET deleted_at = now()
		WHERE user_id = $1 AND role_id = $2 AND deleted_at IS NULL`, userID, roleID)
	return err
}
