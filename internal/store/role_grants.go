package store

import "context"

// ListSsoRoleGrants returns the IdP-sourced grants for a (user, config) pair.
func (q *Queries) ListSsoRoleGrants(ctx context.Context, configID, userID string) ([]SsoRoleGrant, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, user_id, role_id, config_id, created_at FROM sso_role_grants
		WHERE config_id = $1 AND user_id = $2
		ORDER BY created_at`, configID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []SsoRoleGrant
	for rows.Next() {
		var g SsoRoleGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.RoleID, &g.ConfigID, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// CreateSsoRoleGrant records a role as IdP-sourced and ensures the
// user↔role join record exists.
func (q *Queries) CreateSsoRoleGrant(ctx context.Context, id, userID, roleID, configID string) error {
	if err := q.AssignUserRole(ctx, NewID(), userID, roleID); err != nil {
		return err
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO sso_role_grants (id, user_id, role_id, config_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (config_id, user_id, role_id) DO NOTHING`,
		id, userID, roleID, configID)
	return err
}

// DeleteSsoRoleGrant revokes an IdP-sourced grant: the join record is
// soft-deleted and the grant record removed. Manual assignments hold no
// grant record and are never touched by this path.
func (q *Queries) DeleteSsoRoleGrant(ctx context.Context, configID, userID, roleID string) error {
	if err := q.RemoveUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	_, err := q.db.Exec(ctx, `
		DELETE FROM sso_role_grants
		WHERE config_id = $1 AND user_id = $2 AND role_id = $3`,
		configID, userID, roleID)
	return err
}
