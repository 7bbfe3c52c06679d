// Package testutil provides shared test helpers for integration tests.
package testutil

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/crypto"
	"github.com/northbeam/backoffice/server/internal/store"
)

var entropy = ulid.Monotonic(rand.Reader, 0)

// NewID generates a unique ULID for test isolation.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// SetupPostgres starts a PostgreSQL testcontainer and returns a connected Store.
// The container is stopped when the test completes.
func SetupPostgres(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("backoffice_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	st, err := store.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

// Tenant groups the IDs every integration test needs.
type Tenant struct {
	TenantID       string
	OrganizationID string
}

// NewTenant returns fresh tenant and organization IDs. Tenants are not rows
// of their own; everything hangs off the IDs.
func NewTenant() Tenant {
	return Tenant{TenantID: NewID(), OrganizationID: NewID()}
}

// CreateTestUser inserts a user and returns it.
func CreateTestUser(t *testing.T, st *store.Store, tn Tenant, email string) store.User {
	t.Helper()

	user, err := st.Queries().CreateUser(context.Background(), store.CreateUserParams{
		ID:             NewID(),
		TenantID:       tn.TenantID,
		OrganizationID: tn.OrganizationID,
		Email:          email,
		DisplayName:    email,
	})
	if err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

// CreateTestRole inserts a role and returns its ID.
func CreateTestRole(t *testing.T, st *store.Store, tenantID, name string) string {
	t.Helper()

	role, err := st.Queries().CreateRole(context.Background(), NewID(), tenantID, name)
	if err != nil {
		t.Fatalf("create test role: %v", err)
	}
	return role.ID
}

// ConfigOption mutates the default test config params.
type ConfigOption func(*store.CreateSsoConfigParams)

// WithDomains sets the allowed domain list.
func WithDomains(domains ...string) ConfigOption {
	return func(p *store.CreateSsoConfigParams) { p.AllowedDomains = domains }
}

// WithJIT enables just-in-time provisioning.
func WithJIT() ConfigOption {
	return func(p *store.CreateSsoConfigParams) { p.JitEnabled = true }
}

// WithAutoLink enables auto-linking by verified email.
func WithAutoLink() ConfigOption {
	return func(p *store.CreateSsoConfigParams) { p.AutoLinkByEmail = true }
}

// WithGroupMapping sets the per-config group-to-role mapping.
func WithGroupMapping(mapping map[string]string) ConfigOption {
	return func(p *store.CreateSsoConfigParams) { p.GroupMapping = mapping }
}

// WithIssuer sets the issuer URL.
func WithIssuer(issuer string) ConfigOption {
	return func(p *store.CreateSsoConfigParams) { p.IssuerURL = issuer }
}

// CreateTestConfig inserts an SSO config with sensible defaults and returns
// it. Configs start inactive; call ActivateConfig when the test needs an
// active one.
func CreateTestConfig(t *testing.T, st *store.Store, tn Tenant, opts ...ConfigOption) store.SsoConfig {
	t.Helper()

	params := store.CreateSsoConfigParams{
		ID:             NewID(),
		TenantID:       tn.TenantID,
		OrganizationID: tn.OrganizationID,
		Protocol:       "oidc",
		IssuerURL:      "https://idp.example.com",
		ClientID:       "test-client",
		AllowedDomains: []string{"example.com"},
	}
	for _, opt := range opts {
		opt(&params)
	}

	cfg, err := st.Queries().CreateSsoConfig(context.Background(), params)
	if err != nil {
		t.Fatalf("create test sso config: %v", err)
	}
	return cfg
}

// ActivateConfig flips a config active and returns the updated row.
func ActivateConfig(t *testing.T, st *store.Store, configID string) store.SsoConfig {
	t.Helper()

	cfg, err := st.Queries().SetSsoConfigActive(context.Background(), configID, true)
	if err != nil {
		t.Fatalf("activate test sso config: %v", err)
	}
	return cfg
}

// AuthContext returns a context with the given user injected.
func AuthContext(tn Tenant, id, email string, roles ...string) context.Context {
	return auth.ContextWithUser(context.Background(), auth.UserContext{
		ID:       id,
		Email:    email,
		TenantID: tn.TenantID,
		Roles:    roles,
	})
}

// AdminContext returns a context with an admin user.
func AdminContext(tn Tenant, id string) context.Context {
	return AuthContext(tn, id, fmt.Sprintf("admin-%s@test.com", id[:8]), "admin")
}

// NewJWTManager creates a JWTManager with test-friendly configuration.
func NewJWTManager() *auth.JWTManager {
	return auth.NewJWTManager(auth.JWTConfig{
		Secret: []byte("test-secret-key-for-jwt-signing"),
		Expiry: 15 * time.Minute,
		Issuer: "backoffice-test",
	})
}

// NewEncryptor creates an Encryptor with a fixed test key.
func NewEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	enc, err := crypto.NewEncryptor("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("create test encryptor: %v", err)
	}
	return enc
}
