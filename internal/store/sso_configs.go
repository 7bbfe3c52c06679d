package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const ssoConfigColumns = `id, tenant_id, organization_id, protocol, issuer_url, client_id,
	client_secret_encrypted, allowed_domains, jit_enabled, auto_link_by_email,
	is_active, sso_required, group_mapping, created_at, updated_at, deleted_at`

func scanSsoConfig(row interface{ Scan(...any) error }) (SsoConfig, error) {
	var c SsoConfig
	var mapping []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.OrganizationID, &c.Protocol, &c.IssuerURL,
		&c.ClientID, &c.ClientSecretEncrypted, &c.AllowedDomains, &c.JitEnabled,
		&c.AutoLinkByEmail, &c.IsActive, &c.SsoRequired, &mapping,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		return c, err
	}
	if len(mapping) > 0 {
		_ = json.Unmarshal(mapping, &c.GroupMapping)
	}
	return c, nil
}

// CreateSsoConfigParams holds the fields for a new SSO config.
// Configs are always created inactive.
type CreateSsoConfigParams struct {
	ID                    string
	TenantID              string
	OrganizationID        string
	Protocol              string
	IssuerURL             string
	ClientID              string
	ClientSecretEncrypted string
	AllowedDomains        []string
	JitEnabled            bool
	AutoLinkByEmail       bool
	SsoRequired           bool
	GroupMapping          map[string]string
}

// CreateSsoConfig inserts a config. A unique violation means the
// (tenant, organization) pair already has one.
func (q *Queries) CreateSsoConfig(ctx context.Context, arg CreateSsoConfigParams) (SsoConfig, error) {
	mapping, err := json.Marshal(orEmptyMap(arg.GroupMapping))
	if err != nil {
		return SsoConfig{}, fmt.Errorf("marshal group mapping: %w", err)
	}
	if arg.AllowedDomains == nil {
		arg.AllowedDomains = []string{}
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO sso_configs (id, tenant_id, organization_id, protocol, issuer_url, client_id,
			client_secret_encrypted, allowed_domains, jit_enabled, auto_link_by_email, sso_required, group_mapping)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+ssoConfigColumns,
		arg.ID, arg.TenantID, arg.OrganizationID, arg.Protocol, arg.IssuerURL, arg.ClientID,
		arg.ClientSecretEncrypted, arg.AllowedDomains, arg.JitEnabled, arg.AutoLinkByEmail,
		arg.SsoRequired, mapping)
	return scanSsoConfig(row)
}

// GetSsoConfigByID returns a non-deleted config by id.
func (q *Queries) GetSsoConfigByID(ctx context.Context, id string) (SsoConfig, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+ssoConfigColumns+` FROM sso_configs
		WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanSsoConfig(row)
}

// ListSsoConfigs returns all non-deleted configs for a tenant.
func (q *Queries) ListSsoConfigs(ctx context.Context, tenantID string) ([]SsoConfig, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+ssoConfigColumns+` FROM sso_configs
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []SsoConfig
	for rows.Next() {
		c, err := scanSsoConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// FindActiveSsoConfigByDomain locates an active config whose allow-list
// contains the given (normalized) email domain. Used for home realm discovery.
func (q *Queries) FindActiveSsoConfigByDomain(ctx context.Context, domain string) (SsoConfig, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+ssoConfigColumns+` FROM sso_configs
		WHERE is_active AND deleted_at IS NULL AND $1 = ANY(allowed_domains)
		ORDER BY created_at
		LIMIT 1`, strings.ToLower(domain))
	return scanSsoConfig(row)
}

// UpdateSsoConfigParams holds the mutable config fields. Nil pointers are left unchanged.
type UpdateSsoConfigParams struct {
	ID                    string
	IssuerURL             *string
	ClientID              *string
	ClientSecretEncrypted *string
	AllowedDomains        []string
	JitEnabled            *bool
	AutoLinkByEmail       *bool
	SsoRequired           *bool
	GroupMapping          map[string]string
}

// UpdateSsoConfig applies a partial update.
func (q *Queries) UpdateSsoConfig(ctx context.Context, arg UpdateSsoConfigParams) (SsoConfig, error) {
	sets := []string{"updated_at = now()"}
	args := []any{arg.ID}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if arg.IssuerURL != nil {
		add("issuer_url = $%d", *arg.IssuerURL)
	}
	if arg.ClientID != nil {
		add("client_id = $%d", *arg.ClientID)
	}
	if arg.ClientSecretEncrypted != nil {
		add("client_secret_encrypted = $%d", *arg.ClientSecretEncrypted)
	}
	if arg.AllowedDomains != nil {
		add("allowed_domains = $%d", arg.AllowedDomains)
	}
	if arg.JitEnabled != nil {
		add("jit_enabled = $%d", *arg.JitEnabled)
	}
	if arg.AutoLinkByEmail != nil {
		add("auto_link_by_email = $%d", *arg.AutoLinkByEmail)
	}
	if arg.SsoRequired != nil {
		add("sso_required = $%d", *arg.SsoRequired)
	}
	if arg.GroupMapping != nil {
		mapping, err := json.Marshal(arg.GroupMapping)
		if err != nil {
			return SsoConfig{}, fmt.Errorf("marshal group mapping: %w", err)
		}
		add("group_mapping = $%d", mapping)
	}

	row := q.db.QueryRow(ctx, `
		UPDATE sso_configs SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+ssoConfigColumns, args...)
	return scanSsoConfig(row)
}

// SetSsoConfigActive flips the activation flag.
func (q *Queries) SetSsoConfigActive(ctx context.Context, id string, active bool) (SsoConfig, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE sso_configs SET is_active = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+ssoConfigColumns, id, active)
	return scanSsoConfig(row)
}

// SoftDeleteSsoConfig deletes a config. Only inactive configs may be deleted;
// the WHERE clause makes an attempt on an active one report no rows.
func (q *Queries) SoftDeleteSsoConfig(ctx context.Context, id string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE sso_configs SET deleted_at = now()
		WHERE id = $1 AND NOT is_active AND deleted_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
