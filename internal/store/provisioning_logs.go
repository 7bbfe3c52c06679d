package store

import "context"

// AppendProvisioningLogParams describes one SCIM operation outcome.
type AppendProvisioningLogParams struct {
	ConfigID   string
	Operation  string
	Status     int32
	ResourceID string
	ExternalID string
	Detail     string
}

// AppendProvisioningLog records a SCIM operation in the append-only audit trail.
func (q *Queries) AppendProvisioningLog(ctx context.Context, arg AppendProvisioningLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO scim_provisioning_logs (id, config_id, operation, status, resource_id, external_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		NewID(), arg.ConfigID, arg.Operation, arg.Status, arg.ResourceID, arg.ExternalID, arg.Detail)
	return err
}

// ListProvisioningLogs returns recent log rows for a config, newest first.
func (q *Queries) ListProvisioningLogs(ctx context.Context, configID string, limit, offset int32) ([]ScimProvisioningLog, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, config_id, operation, status, resource_id, external_id, detail, created_at
		FROM scim_provisioning_logs
		WHERE config_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, configID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ScimProvisioningLog
	for rows.Next() {
		var l ScimProvisioningLog
		if err := rows.Scan(&l.ID, &l.ConfigID, &l.Operation, &l.Status,
			&l.ResourceID, &l.ExternalID, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
