package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// HashSessionToken computes the digest under which a session token is stored.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateSession inserts a session row for a freshly issued session token.
func (q *Queries) CreateSession(ctx context.Context, id, userID, token string, expiresAt time.Time) (Session, error) {
	var s Session
	err := q.db.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, token_hash, expires_at, revoked_at, created_at`,
		id, userID, HashSessionToken(token), expiresAt).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	return s, err
}

// GetActiveSessionByToken returns the live session for a raw session token,
// if one exists and is neither revoked nor expired.
func (q *Queries) GetActiveSessionByToken(ctx context.Context, token string) (Session, error) {
	var s Session
	err := q.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, created_at FROM sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`,
		HashSessionToken(token)).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	return s, err
}

// RevokeUserSessions revokes every active session for a user and returns the
// number revoked. Used when a SCIM deactivation must take effect immediately.
func (q *Queries) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE sessions SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredSessions removes sessions past their expiry. Run periodically.
func (q *Queries) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now() - interval '7 days'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
