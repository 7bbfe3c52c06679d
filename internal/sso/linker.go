package sso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/northbeam/backoffice/server/internal/store"
)

var (
	// ErrEmailNotVerified is returned when the IdP explicitly marks the email unverified.
	ErrEmailNotVerified = errors.New("identity provider reports email as unverified")
	// ErrDomainNotAllowed is returned when the email domain is outside the config's allow-list.
	ErrDomainNotAllowed = errors.New("email domain not allowed for this connection")
	// ErrNoMatchingAccount is returned when no local account could be found or created for the external identity.
	ErrNoMatchingAccount = errors.New("no matching account found; contact an administrator to link your identity")
	// ErrNoRolesGranted is returned when role sync leaves the user with zero
	// IdP-sourced roles and the fail-closed policy is in effect.
	ErrNoRolesGranted = errors.New("identity provider granted no recognized roles")
)

// ResolveResult is the outcome of resolving an external identity to a local user.
type ResolveResult struct {
	User     store.User
	Identity store.SsoIdentity
	Created  bool // true if the user was JIT-provisioned
}

// Linker reconciles external identities to local users and keeps IdP-sourced
// role grants in sync with the IdP's group claims.
type Linker struct {
	store          *store.Store
	globalMapping  map[string]string
	requireIdPRole bool
	logger         *slog.Logger
}

// LinkerOption configures a Linker.
type LinkerOption func(*Linker)

// WithGlobalGroupMapping sets the deployment-wide group-to-role fallback
// mapping. Per-config mappings take precedence per group key.
func WithGlobalGroupMapping(m map[string]string) LinkerOption {
	return func(l *Linker) { l.globalMapping = m }
}

// WithRequireIdPRole controls the fail-closed policy: when true, a login
// whose role sync yields zero IdP-sourced grants is rejected.
func WithRequireIdPRole(require bool) LinkerOption {
	return func(l *Linker) { l.requireIdPRole = require }
}

// NewLinker creates a linker. The fail-closed role policy is on by default.
func NewLinker(st *store.Store, logger *slog.Logger, opts ...LinkerOption) *Linker {
	l := &Linker{
		store:          st,
		requireIdPRole: true,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ResolveUser maps an external identity onto a local user, first match wins:
//  1. existing identity link for (config, subject)
//  2. reject explicitly-unverified emails
//  3. reject emails outside the config's domain allow-list
//  4. auto-link to an existing user by email, if enabled
//  5. JIT-provision a new user, if enabled
//  6. fail
func (l *Linker) ResolveUser(ctx context.Context, cfg store.SsoConfig, ext *Identity) (*ResolveResult, error) {
	q := l.store.Queries()

	// Step 1: existing link.
	identity, err := q.GetIdentityByConfigAndSubject(ctx, cfg.ID, ext.Subject)
	if err == nil {
		user, uerr := q.GetUserByID(ctx, identity.UserID)
		if uerr == nil {
			touch := store.TouchIdentityLoginParams{
				ID:     identity.ID,
				Email:  ext.Email,
				Name:   ext.Name,
				Groups: ext.Groups,
			}
			if terr := q.TouchIdentityLogin(ctx, touch); terr != nil {
				l.logger.Warn("update identity last login", "identity_id", identity.ID, "error", terr)
			}
			return &ResolveResult{User: user, Identity: identity}, nil
		}
		if !errors.Is(uerr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup linked user: %w", uerr)
		}
		// The linked user is gone. Retire the stale link and fall through
		// to the remaining resolution steps.
		if derr := q.SoftDeleteIdentity(ctx, identity.ID); derr != nil {
			return nil, fmt.Errorf("retire stale identity: %w", derr)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup identity link: %w", err)
	}

	// Step 2: unverified-email guard.
	if ext.EmailVerified != nil && !*ext.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	if ext.Email == "" {
		return nil, ErrNoMatchingAccount
	}

	// Step 3: domain allow-list.
	if !DomainAllowed(ext.Email, cfg.AllowedDomains) {
		return nil, ErrDomainNotAllowed
	}

	// Step 4: auto-link by email.
	if cfg.AutoLinkByEmail {
		user, uerr := q.FindUserByEmailInOrg(ctx, cfg.OrganizationID, ext.Email)
		if uerr == nil {
			identity, lerr := q.CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
				ID:                 store.NewID(),
				ConfigID:           cfg.ID,
				UserID:             user.ID,
				Subject:            ext.Subject,
				Email:              ext.Email,
				Name:               ext.Name,
				Groups:             ext.Groups,
				ProvisioningMethod: store.ProvisioningManual,
			})
			if lerr != nil {
				if store.IsUniqueViolation(lerr) {
					return l.retryAsExistingLink(ctx, cfg, ext)
				}
				return nil, fmt.Errorf("create identity link: %w", lerr)
			}
			return &ResolveResult{User: user, Identity: identity}, nil
		}
		if !errors.Is(uerr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup user by email: %w", uerr)
		}
	}

	// Step 5: JIT provisioning. User and identity are created in one
	// transaction so an abandoned request leaves no half-provisioned state.
	if cfg.JitEnabled {
		var result ResolveResult
		err := l.store.WithTx(ctx, func(tq *store.Queries) error {
			user, cerr := tq.CreateUser(ctx, store.CreateUserParams{
				ID:             store.NewID(),
				TenantID:       cfg.TenantID,
				OrganizationID: cfg.OrganizationID,
				Email:          ext.Email,
				DisplayName:    ext.Name,
			})
			if cerr != nil {
				return cerr
			}
			identity, cerr := tq.CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
				ID:                 store.NewID(),
				ConfigID:           cfg.ID,
				UserID:             user.ID,
				Subject:            ext.Subject,
				Email:              ext.Email,
				Name:               ext.Name,
				Groups:             ext.Groups,
				ProvisioningMethod: store.ProvisioningJIT,
			})
			if cerr != nil {
				return cerr
			}
			result = ResolveResult{User: user, Identity: identity, Created: true}
			return nil
		})
		if err != nil {
			// A concurrent first login or SCIM create won the race on the
			// unique constraint; the winner's rows are authoritative.
			if store.IsUniqueViolation(err) {
				return l.retryAsExistingLink(ctx, cfg, ext)
			}
			return nil, fmt.Errorf("jit provision: %w", err)
		}
		return &result, nil
	}

	return nil, ErrNoMatchingAccount
}

// retryAsExistingLink re-runs the existing-link lookup after losing a
// creation race. If the winner linked the same subject the login proceeds;
// otherwise the conflict surfaces as no-matching-account.
func (l *Linker) retryAsExistingLink(ctx context.Context, cfg store.SsoConfig, ext *Identity) (*ResolveResult, error) {
	q := l.store.Queries()
	identity, err := q.GetIdentityByConfigAndSubject(ctx, cfg.ID, ext.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoMatchingAccount
		}
		return nil, fmt.Errorf("lookup identity link: %w", err)
	}
	user, err := q.GetUserByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup linked user: %w", err)
	}
	return &ResolveResult{User: user, Identity: identity}, nil
}

// SyncRoles recomputes the user's IdP-sourced role grants from the current
// group claims. Manually-assigned roles are never touched. Returns the role
// ids in effect after the sync.
func (l *Linker) SyncRoles(ctx context.Context, cfg store.SsoConfig, user store.User, groups []string) ([]string, error) {
	candidates := candidateRoleNames(groups, mergeMappings(l.globalMapping, cfg.GroupMapping))

	q := l.store.Queries()
	var resolved []store.Role
	if len(candidates) > 0 {
		var err error
		resolved, err = q.ResolveRolesByNames(ctx, user.TenantID, candidates)
		if err != nil {
			return nil, fmt.Errorf("resolve roles: %w", err)
		}
	}

	desired := make(map[string]struct{}, len(resolved))
	for _, r := range resolved {
		desired[r.ID] = struct{}{}
	}

	current, err := q.ListSsoRoleGrants(ctx, cfg.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list role grants: %w", err)
	}
	granted := make(map[string]struct{}, len(current))
	for _, g := range current {
		granted[g.RoleID] = struct{}{}
	}

	err = l.store.WithTx(ctx, func(tq *store.Queries) error {
		for _, g := range current {
			if _, keep := desired[g.RoleID]; keep {
				continue
			}
			if err := tq.DeleteSsoRoleGrant(ctx, cfg.ID, user.ID, g.RoleID); err != nil {
				return fmt.Errorf("revoke role grant %s: %w", g.RoleID, err)
			}
		}
		for _, r := range resolved {
			if _, have := granted[r.ID]; have {
				continue
			}
			if err := tq.CreateSsoRoleGrant(ctx, store.NewID(), user.ID, r.ID, cfg.ID); err != nil {
				return fmt.Errorf("create role grant %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if l.requireIdPRole && len(desired) == 0 {
		return nil, ErrNoRolesGranted
	}

	roleIDs := make([]string, 0, len(desired))
	for id := range desired {
		roleIDs = append(roleIDs, id)
	}
	return roleIDs, nil
}

// mergeMappings combines the global fallback mapping with the config's own
// mapping, config entries winning per key. Keys are normalized lower-case.
func mergeMappings(global, perConfig map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(perConfig))
	for k, v := range global {
		merged[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range perConfig {
		merged[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return merged
}

// candidateRoleNames turns IdP group tokens into role-name candidates. A
// mapped group contributes its mapped role name only; an unmapped group
// contributes the raw token plus each segment of the token split on the
// common directory separators.
func candidateRoleNames(groups []string, mapping map[string]string) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(raw string) {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, group := range groups {
		token := strings.ToLower(strings.TrimSpace(group))
		if token == "" {
			continue
		}
		if mapped, ok := mapping[token]; ok {
			add(mapped)
			continue
		}
		add(token)
		for _, segment := range strings.FieldsFunc(token, func(r rune) bool {
			return r == '\\' || r == '/' || r == ':'
		}) {
			add(segment)
		}
	}
	return names
}
