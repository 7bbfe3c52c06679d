package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Provisioning methods recorded on an SSO identity.
const (
	ProvisioningManual = "manual"
	ProvisioningJIT    = "jit"
	ProvisioningSCIM   = "scim"
)

// User is a local account in one organization.
type User struct {
	ID             string
	TenantID       string
	OrganizationID string
	Email          string
	EmailHash      string
	DisplayName    string
	GivenName      string
	FamilyName     string
	SessionVersion int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// Role is a tenant-scoped role definition.
type Role struct {
	ID       string
	TenantID string
	Name     string
}

// Session is a revocable application session.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// SsoConfig is one identity-federation configuration per (tenant, organization).
type SsoConfig struct {
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
	IsActive              bool
	SsoRequired           bool
	GroupMapping          map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
}

// SsoIdentity links one external subject to exactly one local user within a config.
type SsoIdentity struct {
	ID                 string
	ConfigID           string
	UserID             string
	Subject            string // IdP subject; empty until first OIDC login for SCIM-provisioned users
	ScimExternalID     string
	Email              string
	Name               string
	Groups             []string
	ProvisioningMethod string
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// SsoRoleGrant marks a role as IdP-sourced for a (user, config) pair.
type SsoRoleGrant struct {
	ID        string
	UserID    string
	RoleID    string
	ConfigID  string
	CreatedAt time.Time
}

// ScimToken is a bearer credential scoped to one SSO config.
// Only a salted hash plus a short prefix are stored.
type ScimToken struct {
	ID          string
	ConfigID    string
	Name        string
	TokenPrefix string
	TokenHash   string
	IsActive    bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

// SsoUserDeactivation tracks SCIM-driven active state per (user, config).
// An open row (ReactivatedAt == nil) means the user may not authenticate.
type SsoUserDeactivation struct {
	ID            string
	UserID        string
	ConfigID      string
	DeactivatedAt time.Time
	ReactivatedAt *time.Time
}

// ScimProvisioningLog is one append-only SCIM operation outcome.
type ScimProvisioningLog struct {
	ID         string
	ConfigID   string
	Operation  string
	Status     int32
	ResourceID string
	ExternalID string
	Detail     string
	CreatedAt  time.Time
}

// Event is an append-only audit event.
type Event struct {
	StreamType string
	StreamID   string
	EventType  string
	Data       map[string]any
	ActorType  string
	ActorID    string
}

var entropy = ulid.Monotonic(rand.Reader, 0)

// NewID generates a ULID for new rows.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// HashEmail computes the lowercase email hash used for hashed-at-rest lookup.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
