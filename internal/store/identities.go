package store

import (
	"context"
	"fmt"
	"strings"
)

const identityColumns = `id, config_id, user_id, COALESCE(subject, ''), COALESCE(scim_external_id, ''),
	email, name, groups, provisioning_method, last_login_at, created_at, updated_at, deleted_at`

func scanIdentity(row interface{ Scan(...any) error }) (SsoIdentity, error) {
	var i SsoIdentity
	err := row.Scan(&i.ID, &i.ConfigID, &i.UserID, &i.Subject, &i.ScimExternalID,
		&i.Email, &i.Name, &i.Groups, &i.ProvisioningMethod, &i.LastLoginAt,
		&i.CreatedAt, &i.UpdatedAt, &i.DeletedAt)
	return i, err
}

// CreateSsoIdentityParams holds the fields for a new identity link.
type CreateSsoIdentityParams struct {
	ID                 string
	ConfigID           string
	UserID             string
	Subject            string
	ScimExternalID     string
	Email              string
	Name               string
	Groups             []string
	ProvisioningMethod string
}

// CreateSsoIdentity inserts an identity link. Unique violations on
// (config, subject), (config, external id) or (config, user) surface to the
// caller as conflicts.
func (q *Queries) CreateSsoIdentity(ctx context.Context, arg CreateSsoIdentityParams) (SsoIdentity, error) {
	if arg.Groups == nil {
		arg.Groups = []string{}
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO sso_identities (id, config_id, user_id, subject, scim_external_id,
			email, name, groups, provisioning_method)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
		RETURNING `+identityColumns,
		arg.ID, arg.ConfigID, arg.UserID, arg.Subject, arg.ScimExternalID,
		arg.Email, arg.Name, arg.Groups, arg.ProvisioningMethod)
	return scanIdentity(row)
}

// GetIdentityByConfigAndSubject returns the identity linked to an IdP subject.
func (q *Queries) GetIdentityByConfigAndSubject(ctx context.Context, configID, subject string) (SsoIdentity, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM sso_identities
		WHERE config_id = $1 AND subject = $2 AND deleted_at IS NULL`, configID, subject)
	return scanIdentity(row)
}

// GetIdentityByConfigAndExternalID returns the identity provisioned under a
// SCIM external id.
func (q *Queries) GetIdentityByConfigAndExternalID(ctx context.Context, configID, externalID string) (SsoIdentity, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM sso_identities
		WHERE config_id = $1 AND scim_external_id = $2 AND deleted_at IS NULL`, configID, externalID)
	return scanIdentity(row)
}

// GetIdentityByConfigAndUser returns the identity for a local user within a config.
func (q *Queries) GetIdentityByConfigAndUser(ctx context.Context, configID, userID string) (SsoIdentity, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM sso_identities
		WHERE config_id = $1 AND user_id = $2 AND deleted_at IS NULL`, configID, userID)
	return scanIdentity(row)
}

// TouchIdentityLoginParams carries the last-seen IdP claims recorded on login.
type TouchIdentityLoginParams struct {
	ID     string
	Email  string
	Name   string
	Groups []string
}

// TouchIdentityLogin updates last_login_at and the last-seen claims.
func (q *Queries) TouchIdentityLogin(ctx context.Context, arg TouchIdentityLoginParams) error {
	if arg.Groups == nil {
		arg.Groups = []string{}
	}
	_, err := q.db.Exec(ctx, `
		UPDATE sso_identities
		SET email = $2, name = $3, groups = $4, last_login_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		arg.ID, arg.Email, arg.Name, arg.Groups)
	return err
}

// UpdateIdentityExternalID records the SCIM external id on an existing link.
func (q *Queries) UpdateIdentityExternalID(ctx context.Context, id, externalID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sso_identities SET scim_external_id = NULLIF($2, ''), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, externalID)
	return err
}

// SoftDeleteIdentity removes a stale identity link.
func (q *Queries) SoftDeleteIdentity(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sso_identities SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

// IdentityWithUser joins an identity with its user row for SCIM listings.
type IdentityWithUser struct {
	Identity SsoIdentity
	User     User
}

// ListIdentityFilter narrows ListIdentitiesForConfig. Empty fields match everything.
type ListIdentityFilter struct {
	Email       string
	ExternalID  string
	DisplayName string
}

// ListIdentitiesForConfig returns identities (with users) for one config,
// paginated by limit/offset in creation order.
func (q *Queries) ListIdentitiesForConfig(ctx context.Context, configID string, filter ListIdentityFilter, limit, offset int32) ([]IdentityWithUser, error) {
	where := []string{"i.config_id = $1", "i.deleted_at IS NULL", "u.deleted_at IS NULL"}
	args := []any{configID}
	add := func(expr string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.Email != "" {
		add("lower(u.email) = lower($%d)", filter.Email)
	}
	if filter.ExternalID != "" {
		add("i.scim_external_id = $%d", filter.ExternalID)
	}
	if filter.DisplayName != "" {
		add("lower(u.display_name) = lower($%d)", filter.DisplayName)
	}
	args = append(args, limit, offset)

	rows, err := q.db.Query(ctx, `
		SELECT i.id, i.config_id, i.user_id, COALESCE(i.subject, ''), COALESCE(i.scim_external_id, ''),
			i.email, i.name, i.groups, i.provisioning_method, i.last_login_at,
			i.created_at, i.updated_at, i.deleted_at,
			u.id, u.tenant_id, u.organization_id, u.email, u.email_hash, u.display_name,
			u.given_name, u.family_name, u.session_version, u.created_at, u.updated_at, u.deleted_at
		FROM sso_identities i
		JOIN users u ON u.id = i.user_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY i.created_at
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []IdentityWithUser
	for rows.Next() {
		var i SsoIdentity
		var u User
		if err := rows.Scan(
			&i.ID, &i.ConfigID, &i.UserID, &i.Subject, &i.ScimExternalID,
			&i.Email, &i.Name, &i.Groups, &i.ProvisioningMethod, &i.LastLoginAt,
			&i.CreatedAt, &i.UpdatedAt, &i.DeletedAt,
			&u.ID, &u.TenantID, &u.OrganizationID, &u.Email, &u.EmailHash,
			&u.DisplayName, &u.GivenName, &u.FamilyName, &u.SessionVersion,
			&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, IdentityWithUser{Identity: i, User: u})
	}
	return result, rows.Err()
}

// CountIdentitiesForConfig counts identities matching the filter.
func (q *Queries) CountIdentitiesForConfig(ctx context.Context, configID string, filter ListIdentityFilter) (int64, error) {
	where := []string{"i.config_id = $1", "i.deleted_at IS NULL", "u.deleted_at IS NULL"}
	args := []any{configID}
	add := func(expr string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.Email != "" {
		add("lower(u.email) = lower($%d)", filter.Email)
	}
	if filter.ExternalID != "" {
		add("i.scim_external_id = $%d", filter.ExternalID)
	}
	if filter.DisplayName != "" {
		add("lower(u.display_name) = lower($%d)", filter.DisplayName)
	}

	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM sso_identities i
		JOIN users u ON u.id = i.user_id
		WHERE `+strings.Join(where, " AND "), args...).Scan(&count)
	return count, err
}
