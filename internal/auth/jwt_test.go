package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *JWTManager {
	return NewJWTManager(JWTConfig{
		Secret: []byte("test-secret"),
		Expiry: 15 * time.Minute,
	})
}

func TestNewJWTManager_Defaults(t *testing.T) {
	m := NewJWTManager(JWTConfig{Secret: []byte("s")})
	assert.Equal(t, 12*time.Hour, m.config.Expiry)
	assert.Equal(t, "backoffice", m.config.Issuer)
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	m := newTestManager()

	issued, err := m.GenerateToken("u1", "a@b.com", "t1", []string{"admin", "viewer"}, "s1", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), issued.ExpiresAt, 5*time.Second)

	claims, err := m.ValidateToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, []string{"admin", "viewer"}, claims.Roles)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, int32(3), claims.SessionVersion)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	m := newTestManager()
	issued, err := m.GenerateToken("u1", "a@b.com", "t1", nil, "s1", 0)
	require.NoError(t, err)

	other := NewJWTManager(JWTConfig{Secret: []byte("different-secret")})
	_, err = other.ValidateToken(issued.Token)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	m := NewJWTManager(JWTConfig{
		Secret: []byte("test-secret"),
		Expiry: -time.Minute,
	})
	issued, err := m.GenerateToken("u1", "a@b.com", "t1", nil, "s1", 0)
	require.NoError(t, err)

	_, err = m.ValidateToken(issued.Token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	m := newTestManager()
	_, err := m.ValidateToken("not.a.token")
	assert.Error(t, err)
}
