package store

import "context"

const scimTokenColumns = `id, config_id, name, token_prefix, token_hash, is_active,
	created_at, last_used_at, revoked_at`

func scanScimToken(row interface{ Scan(...any) error }) (ScimToken, error) {
	var t ScimToken
	err := row.Scan(&t.ID, &t.ConfigID, &t.Name, &t.TokenPrefix, &t.TokenHash,
		&t.IsActive, &t.CreatedAt, &t.LastUsedAt, &t.RevokedAt)
	return t, err
}

// CreateScimToken stores a new token's hash and prefix. The raw token never
// reaches this layer.
func (q *Queries) CreateScimToken(ctx context.Context, id, configID, name, prefix, hash string) (ScimToken, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO scim_tokens (id, config_id, name, token_prefix, token_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+scimTokenColumns,
		id, configID, name, prefix, hash)
	return scanScimToken(row)
}

// ListActiveScimTokensByPrefix returns the active candidate tokens sharing a
// prefix. The prefix keeps this an O(1) index lookup rather than a scan of
// every stored hash.
func (q *Queries) ListActiveScimTokensByPrefix(ctx context.Context, prefix string) ([]ScimToken, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+scimTokenColumns+` FROM scim_tokens
		WHERE token_prefix = $1 AND is_active`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []ScimToken
	for rows.Next() {
		t, err := scanScimToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// ListScimTokensForConfig returns all tokens (active and revoked) for a config.
func (q *Queries) ListScimTokensForConfig(ctx context.Context, configID string) ([]ScimToken, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+scimTokenColumns+` FROM scim_tokens
		WHERE config_id = $1
		ORDER BY created_at`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []ScimToken
	for rows.Next() {
		t, err := scanScimToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// CountActiveScimTokens counts live tokens for a config. Used to enforce the
// JIT/SCIM mutual exclusion.
func (q *Queries) CountActiveScimTokens(ctx context.Context, configID string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM scim_tokens WHERE config_id = $1 AND is_active`, configID).
		Scan(&count)
	return count, err
}

// RevokeScimToken flips the active flag. Tokens are never hard-deleted so the
// audit trail stays intact.
func (q *Queries) RevokeScimToken(ctx context.Context, id string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE scim_tokens SET is_active = false, revoked_at = now()
		WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TouchScimToken records a successful verification.
func (q *Queries) TouchScimToken(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `UPDATE scim_tokens SET last_used_at = now() WHERE id = $1`, id)
	return err
}
