package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbeam/backoffice/server/internal/store"
	"github.com/northbeam/backoffice/server/internal/testutil"
)

func TestNew_RunsMigrations(t *testing.T) {
	st := testutil.SetupPostgres(t)
	assert.NotNil(t, st.Queries())
	assert.NotNil(t, st.Pool())
}

func TestCreateUser_UniquePerOrganization(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()

	user := testutil.CreateTestUser(t, st, tn, "alice@example.com")
	assert.Equal(t, tn.OrganizationID, user.OrganizationID)
	assert.Equal(t, int32(0), user.SessionVersion)

	_, err := st.Queries().CreateUser(ctx, store.CreateUserParams{
		ID:             testutil.NewID(),
		TenantID:       tn.TenantID,
		OrganizationID: tn.OrganizationID,
		Email:          "ALICE@example.com",
	})
	assert.True(t, store.IsUniqueViolation(err), "case-insensitive duplicate should hit the unique index")

	// Same email in a different organization is fine.
	other := testutil.NewTenant()
	_, err = st.Queries().CreateUser(ctx, store.CreateUserParams{
		ID:             testutil.NewID(),
		TenantID:       other.TenantID,
		OrganizationID: other.OrganizationID,
		Email:          "alice@example.com",
	})
	require.NoError(t, err)
}

func TestFindUserByEmailInOrg_CaseInsensitive(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()

	created := testutil.CreateTestUser(t, st, tn, "bob@example.com")

	found, err := st.Queries().FindUserByEmailInOrg(ctx, tn.OrganizationID, "BOB@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = st.Queries().FindUserByEmailInOrg(ctx, tn.OrganizationID, "nobody@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestBumpSessionVersion(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	user := testutil.CreateTestUser(t, st, tn, "carol@example.com")

	v1, err := st.Queries().BumpSessionVersion(ctx, user.ID)
	require.NoError(t, err)
	v2, err := st.Queries().BumpSessionVersion(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)
}

func TestRoles_ResolveAndAssign(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	user := testutil.CreateTestUser(t, st, tn, "dave@example.com")

	adminID := testutil.CreateTestRole(t, st, tn.TenantID, "admin")
	testutil.CreateTestRole(t, st, tn.TenantID, "viewer")

	roles, err := st.Queries().ResolveRolesByNames(ctx, tn.TenantID, []string{"admin", "missing"})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, adminID, roles[0].ID)

	require.NoError(t, st.Queries().AssignUserRole(ctx, testutil.NewID(), user.ID, adminID))
	// Assigning again is a no-op, not an error.
	require.NoError(t, st.Queries().AssignUserRole(ctx, testutil.NewID(), user.ID, adminID))

	names, err := st.Queries().ListUserRoleNames(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, names)

	require.NoError(t, st.Queries().RemoveUserRole(ctx, user.ID, adminID))
	names, err = st.Queries().ListUserRoleNames(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSsoConfig_DomainLookup(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()

	cfg := testutil.CreateTestConfig(t, st, tn, testutil.WithDomains("corp.example.com"))

	// Inactive configs never match.
	_, err := st.Queries().FindActiveSsoConfigByDomain(ctx, "corp.example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	testutil.ActivateConfig(t, st, cfg.ID)

	found, err := st.Queries().FindActiveSsoConfigByDomain(ctx, "CORP.example.com")
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, found.ID)

	_, err = st.Queries().FindActiveSsoConfigByDomain(ctx, "other.example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestSsoConfig_OnePerOrganization(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()

	testutil.CreateTestConfig(t, st, tn)

	_, err := st.Queries().CreateSsoConfig(ctx, store.CreateSsoConfigParams{
		ID:             testutil.NewID(),
		TenantID:       tn.TenantID,
		OrganizationID: tn.OrganizationID,
		Protocol:       "oidc",
		IssuerURL:      "https://other.example.com",
		ClientID:       "c2",
	})
	assert.True(t, store.IsUniqueViolation(err))
}

func TestSsoConfig_PartialUpdate(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)

	newIssuer := "https://new-idp.example.com"
	updated, err := st.Queries().UpdateSsoConfig(ctx, store.UpdateSsoConfigParams{
		ID:        cfg.ID,
		IssuerURL: &newIssuer,
	})
	require.NoError(t, err)
	assert.Equal(t, newIssuer, updated.IssuerURL)
	// Untouched fields survive.
	assert.Equal(t, cfg.ClientID, updated.ClientID)
	assert.Equal(t, cfg.AllowedDomains, updated.AllowedDomains)
}

func TestSoftDeleteSsoConfig_OnlyInactive(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)
	testutil.ActivateConfig(t, st, cfg.ID)

	deleted, err := st.Queries().SoftDeleteSsoConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "active config must not be deletable")

	_, err = st.Queries().SetSsoConfigActive(ctx, cfg.ID, false)
	require.NoError(t, err)

	deleted, err = st.Queries().SoftDeleteSsoConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = st.Queries().GetSsoConfigByID(ctx, cfg.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestSsoIdentity_SubjectUniquePerConfig(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)
	user := testutil.CreateTestUser(t, st, tn, "erin@example.com")

	ident, err := st.Queries().CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
		ID:                 testutil.NewID(),
		ConfigID:           cfg.ID,
		UserID:             user.ID,
		Subject:            "idp-sub-1",
		Email:              "erin@example.com",
		ProvisioningMethod: store.ProvisioningJIT,
	})
	require.NoError(t, err)

	other := testutil.CreateTestUser(t, st, tn, "erin2@example.com")
	_, err = st.Queries().CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
		ID:                 testutil.NewID(),
		ConfigID:           cfg.ID,
		UserID:             other.ID,
		Subject:            "idp-sub-1",
		Email:              "erin2@example.com",
		ProvisioningMethod: store.ProvisioningJIT,
	})
	assert.True(t, store.IsUniqueViolation(err))

	found, err := st.Queries().GetIdentityByConfigAndSubject(ctx, cfg.ID, "idp-sub-1")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, found.ID)
}

func TestSsoIdentity_EmptySubjectDoesNotCollide(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)

	// SCIM-provisioned identities have no subject until first login. Two of
	// them must coexist.
	for i, email := range []string{"f1@example.com", "f2@example.com"} {
		user := testutil.CreateTestUser(t, st, tn, email)
		_, err := st.Queries().CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
			ID:                 testutil.NewID(),
			ConfigID:           cfg.ID,
			UserID:             user.ID,
			ScimExternalID:     "ext-" + email,
			Email:              email,
			ProvisioningMethod: store.ProvisioningSCIM,
		})
		require.NoError(t, err, "identity %d", i)
	}
}

func TestListIdentitiesForConfig_FilterAndPaginate(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)

	emails := []string{"g1@example.com", "g2@example.com", "g3@example.com"}
	for _, email := range emails {
		user := testutil.CreateTestUser(t, st, tn, email)
		_, err := st.Queries().CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
			ID:                 testutil.NewID(),
			ConfigID:           cfg.ID,
			UserID:             user.ID,
			ScimExternalID:     "ext-" + email,
			Email:              email,
			ProvisioningMethod: store.ProvisioningSCIM,
		})
		require.NoError(t, err)
	}

	all, err := st.Queries().ListIdentitiesForConfig(ctx, cfg.ID, store.ListIdentityFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := st.Queries().ListIdentitiesForConfig(ctx, cfg.ID, store.ListIdentityFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	byEmail, err := st.Queries().ListIdentitiesForConfig(ctx, cfg.ID, store.ListIdentityFilter{Email: "g2@example.com"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "g2@example.com", byEmail[0].User.Email)

	byExternal, err := st.Queries().ListIdentitiesForConfig(ctx, cfg.ID, store.ListIdentityFilter{ExternalID: "ext-g3@example.com"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, byExternal, 1)

	count, err := st.Queries().CountIdentitiesForConfig(ctx, cfg.ID, store.ListIdentityFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSessions_Lifecycle(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	user := testutil.CreateTestUser(t, st, tn, "helen@example.com")

	token := "opaque-session-token"
	_, err := st.Queries().CreateSession(ctx, testutil.NewID(), user.ID, token, time.Now().Add(time.Hour))
	require.NoError(t, err)

	sess, err := st.Queries().GetActiveSessionByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.UserID)

	// The raw token is never stored.
	var count int64
	err = st.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE token_hash = $1", token).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	revoked, err := st.Queries().RevokeUserSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)

	_, err = st.Queries().GetActiveSessionByToken(ctx, token)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestDeactivations_OpenCloseIdempotent(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)
	user := testutil.CreateTestUser(t, st, tn, "ivan@example.com")

	_, err := st.Queries().GetOpenDeactivation(ctx, cfg.ID, user.ID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	require.NoError(t, st.Queries().CreateDeactivation(ctx, testutil.NewID(), cfg.ID, user.ID))
	// Repeating is a no-op.
	require.NoError(t, st.Queries().CreateDeactivation(ctx, testutil.NewID(), cfg.ID, user.ID))

	_, err = st.Queries().GetOpenDeactivation(ctx, cfg.ID, user.ID)
	require.NoError(t, err)

	closed, err := st.Queries().CloseDeactivation(ctx, cfg.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = st.Queries().CloseDeactivation(ctx, cfg.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()

	sentinel := assert.AnError
	err := st.WithTx(ctx, func(q *store.Queries) error {
		_, err := q.CreateUser(ctx, store.CreateUserParams{
			ID:             testutil.NewID(),
			TenantID:       tn.TenantID,
			OrganizationID: tn.OrganizationID,
			Email:          "rollback@example.com",
		})
		require.NoError(t, err)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = st.Queries().FindUserByEmailInOrg(ctx, tn.OrganizationID, "rollback@example.com")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestProvisioningLogs_AppendAndList(t *testing.T) {
	st := testutil.SetupPostgres(t)
	ctx := context.Background()
	tn := testutil.NewTenant()
	cfg := testutil.CreateTestConfig(t, st, tn)

	for _, op := range []string{"create", "patch", "delete"} {
		err := st.Queries().AppendProvisioningLog(ctx, store.AppendProvisioningLogParams{
			ConfigID:  cfg.ID,
			Operation: op,
			Status:    200,
		})
		require.NoError(t, err)
	}

	logs, err := st.Queries().ListProvisioningLogs(ctx, cfg.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	// Newest first.
	assert.Equal(t, "delete", logs[0].Operation)
}
