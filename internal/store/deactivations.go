package store

import "context"

// GetOpenDeactivation returns the open deactivation row for (config, user),
// if any. An open row means the user may not authenticate.
func (q *Queries) GetOpenDeactivation(ctx context.Context, configID, userID string) (SsoUserDeactivation, error) {
	var d SsoUserDeactivation
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, config_id, deactivated_at, reactivated_at
		FROM sso_user_deactivations
		WHERE config_id = $1 AND user_id = $2 AND reactivated_at IS NULL`,
		configID, userID).
		Scan(&d.ID, &d.UserID, &d.ConfigID, &d.DeactivatedAt, &d.ReactivatedAt)
	return d, err
}

// CreateDeactivation opens a deactivation record. Idempotent: if one is
// already open for the pair, the insert is a no-op.
func (q *Queries) CreateDeactivation(ctx context.Context, id, configID, userID string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO sso_user_deactivations (id, user_id, config_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (config_id, user_id) WHERE reactivated_at IS NULL DO NOTHING`,
		id, userID, configID)
	return err
}

// CloseDeactivation reactivates the user by stamping the open record.
func (q *Queries) CloseDeactivation(ctx context.Context, configID, userID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE sso_user_deactivations SET reactivated_at = now()
		WHERE config_id = $1 AND user_id = $2 AND reactivated_at IS NULL`,
		configID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
