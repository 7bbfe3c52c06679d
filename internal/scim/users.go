package scim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northbeam/backoffice/server/internal/store"
)

// listUsers handles GET /scim/v2/Users
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	cfg, ok := configFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	// SCIM uses a 1-based startIndex.
	startIndex := 1
	if s := r.URL.Query().Get("startIndex"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			startIndex = v
		}
	}

	count := 100
	if c := r.URL.Query().Get("count"); c != "" {
		if v, err := strconv.Atoi(c); err == nil && v >= 0 {
			count = v
		}
	}
	if count > MaxPageSize {
		count = MaxPageSize
	}

	ctx := r.Context()
	baseURL := baseURLFromRequest(r)

	var listFilter store.ListIdentityFilter
	var activeFilter *bool
	if filterStr := r.URL.Query().Get("filter"); filterStr != "" {
		clauses, err := parseFilter(filterStr)
		if err != nil {
			h.logOperation(ctx, cfg.ID, "list", http.StatusBadRequest, "", "", err.Error())
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid filter: %s", err))
			return
		}
		for _, clause := range clauses {
			switch clause.Attribute {
			case "userName":
				listFilter.Email = clause.Value
			case "externalId":
				listFilter.ExternalID = clause.Value
			case "displayName":
				listFilter.DisplayName = clause.Value
			case "active":
				active, err := parseScimBool(clause.Value)
				if err != nil {
					h.logOperation(ctx, cfg.ID, "list", http.StatusBadRequest, "", "", err.Error())
					writeError(w, http.StatusBadRequest, "invalid active filter value")
					return
				}
				activeFilter = &active
			}
		}
	}

	rows, err := h.store.Queries().ListIdentitiesForConfig(ctx, cfg.ID, listFilter, int32(count), int32(startIndex-1))
	if err != nil {
		h.logger.Error("list scim users", "config_id", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	// The active flag lives in the deactivation table, so active filtering
	// happens here rather than in the query.
	resources := make([]any, 0, len(rows))
	for _, row := range rows {
		active, err := h.userActive(ctx, cfg.ID, row.User.ID)
		if err != nil {
			h.logger.Error("resolve user active state", "user_id", row.User.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list users")
			return
		}
		if activeFilter != nil && active != *activeFilter {
			continue
		}
		resources = append(resources, userResource(row.User, row.Identity, active, baseURL))
	}

	totalResults := len(resources)
	if activeFilter == nil {
		total, err := h.store.Queries().CountIdentitiesForConfig(ctx, cfg.ID, listFilter)
		if err != nil {
			h.logger.Error("count scim users", "config_id", cfg.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list users")
			return
		}
		totalResults = int(total)
	}

	h.logOperation(ctx, cfg.ID, "list", http.StatusOK, "", "", "")
	writeJSON(w, http.StatusOK, SCIMListResponse{
		Schemas:      []string{ListResponseSchema},
		TotalResults: totalResults,
		StartIndex:   startIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	})
}

// createUser handles POST /scim/v2/Users
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	cfg, ok := configFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var scimUser SCIMUser
	limitBody(r)
	if err := json.NewDecoder(r.Body).Decode(&scimUser); err != nil {
		h.logOperation(r.Context(), cfg.ID, "create", http.StatusBadRequest, "", "", "invalid JSON body")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Prefer userName, fall back to the first listed email.
	email := scimUser.UserName
	if email == "" && len(scimUser.Emails) > 0 {
		email = scimUser.Emails[0].Value
	}
	if email == "" {
		h.logOperation(r.Context(), cfg.ID, "create", http.StatusBadRequest, "", scimUser.ExternalID, "userName or emails[0].value is required")
		writeError(w, http.StatusBadRequest, "userName or emails[0].value is required")
		return
	}

	ctx := r.Context()
	baseURL := baseURLFromRequest(r)
	externalID := scimUser.ExternalID

	// Idempotent create: a known externalId returns the existing resource.
	// IdPs re-POST the full user set on every sync cycle, so replays must
	// answer 200 rather than 409.
	if externalID != "" {
		existing, err := h.store.Queries().GetIdentityByConfigAndExternalID(ctx, cfg.ID, externalID)
		if err == nil {
			user, uerr := h.store.Queries().GetUserByID(ctx, existing.UserID)
			if uerr != nil {
				h.logger.Error("load user for scim replay", "user_id", existing.UserID, "error", uerr)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			active, aerr := h.userActive(ctx, cfg.ID, user.ID)
			if aerr != nil {
				h.logger.Error("resolve user active state", "user_id", user.ID, "error", aerr)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			h.logOperation(ctx, cfg.ID, "create", http.StatusOK, user.ID, externalID, "replayed create for existing externalId")
			writeJSON(w, http.StatusOK, userResource(user, existing, active, baseURL))
			return
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("check existing scim identity", "config_id", cfg.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	displayName := scimUser.DisplayName
	if displayName == "" {
		displayName = formatExternalName(scimUser.Name)
	}
	var givenName, familyName string
	if scimUser.Name != nil {
		givenName = scimUser.Name.GivenName
		familyName = scimUser.Name.FamilyName
	}

	var user store.User
	var identity store.SsoIdentity
	status := http.StatusCreated

	existingUser, err := h.store.Queries().FindUserByEmailInOrg(ctx, cfg.OrganizationID, email)
	switch {
	case err == nil:
		// A local account with this email already exists: link it.
		user = existingUser
		identity, err = h.store.Queries().CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
			ID:                 store.NewID(),
			ConfigID:           cfg.ID,
			UserID:             user.ID,
			ScimExternalID:     externalID,
			Email:              email,
			Name:               displayName,
			ProvisioningMethod: store.ProvisioningSCIM,
		})
		if err != nil {
			if store.IsUniqueViolation(err) {
				h.logOperation(ctx, cfg.ID, "create", http.StatusConflict, user.ID, externalID, "user already linked to this connection")
				writeError(w, http.StatusConflict, "user already linked to this connection")
				return
			}
			h.logger.Error("link existing user via scim", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to link user")
			return
		}

	case errors.Is(err, pgx.ErrNoRows):
		// New account: user and identity are created in one transaction.
		txErr := h.store.WithTx(ctx, func(q *store.Queries) error {
			var cerr error
			user, cerr = q.CreateUser(ctx, store.CreateUserParams{
				ID:             store.NewID(),
				TenantID:       cfg.TenantID,
				OrganizationID: cfg.OrganizationID,
				Email:          email,
				DisplayName:    displayName,
				GivenName:      givenName,
				FamilyName:     familyName,
			})
			if cerr != nil {
				return cerr
			}
			identity, cerr = q.CreateSsoIdentity(ctx, store.CreateSsoIdentityParams{
				ID:                 store.NewID(),
				ConfigID:           cfg.ID,
				UserID:             user.ID,
				ScimExternalID:     externalID,
				Email:              email,
				Name:               displayName,
				ProvisioningMethod: store.ProvisioningSCIM,
			})
			return cerr
		})
		if txErr != nil {
			if store.IsUniqueViolation(txErr) {
				h.logOperation(ctx, cfg.ID, "create", http.StatusConflict, "", externalID, "concurrent create for the same user")
				writeError(w, http.StatusConflict, "user already exists")
				return
			}
			h.logger.Error("create user via scim", "config_id", cfg.ID, "error", txErr)
			writeError(w, http.StatusInternalServerError, "failed to create user")
			return
		}

	default:
		h.logger.Error("look up user by email", "config_id", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	active := true
	if scimUser.Active != nil && !*scimUser.Active {
		if err := h.deactivate(ctx, cfg.ID, user.ID); err != nil {
			h.logger.Error("deactivate user on scim create", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to deactivate user")
			return
		}
		active = false
	}

	h.logOperation(ctx, cfg.ID, "create", status, user.ID, externalID, "")
	writeJSON(w, status, userResource(user, identity, active, baseURL))
}

// getUser handles GET /scim/v2/Users/{id}
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	cfg, ok := configFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	ctx := r.Context()
	userID := r.PathValue("id")

	user, identity, ok := h.lookupManagedUser(w, ctx, cfg, userID, "get")
	if !ok {
		return
	}

	active, err := h.userActive(ctx, cfg.ID, user.ID)
	if err != nil {
		h.logger.Error("resolve user active state", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	h.logOperation(ctx, cfg.ID, "get", http.StatusOK, user.ID, identity.ScimExternalID, "")
	writeJSON(w, http.StatusOK, userResource(user, identity, active, baseURLFromRequest(r)))
}

// patchUser handles PATCH /scim/v2/Users/{id}
func (h *Handler) patchUser(w http.ResponseWriter, r *http.Request) {
	cfg, ok := configFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	ctx := r.Context()
	userID := r.PathValue("id")

	user, identity, ok := h.lookupManagedUser(w, ctx, cfg, userID, "patch")
	if !ok {
		return
	}

	limitBody(r)
	var patch SCIMPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.logOperation(ctx, cfg.ID, "patch", http.StatusBadRequest, user.ID, identity.ScimExternalID, "invalid JSON body")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	changes, err := normalizePatch(patch)
	if err != nil {
		h.logOperation(ctx, cfg.ID, "patch", http.StatusBadRequest, user.ID, identity.ScimExternalID, err.Error())
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update := store.UpdateUserParams{
		ID:          user.ID,
		Email:       changes.UserName,
		DisplayName: changes.DisplayName,
		GivenName:   changes.GivenName,
		FamilyName:  changes.FamilyName,
	}
	if update.Email != nil || update.DisplayName != nil || update.GivenName != nil || update.FamilyName != nil {
		user, err = h.store.Queries().UpdateUser(ctx, update)
		if err != nil {
			if store.IsUniqueViolation(err) {
				h.logOperation(ctx, cfg.ID, "patch", http.StatusConflict, user.ID, identity.ScimExternalID, "email already in use")
				writeError(w, http.StatusConflict, "email already in use")
				return
			}
			h.logger.Error("apply scim patch", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to apply patch")
			return
		}
	}

	if changes.ExternalID != nil {
		if err := h.store.Queries().UpdateIdentityExternalID(ctx, identity.ID, *changes.ExternalID); err != nil {
			if store.IsUniqueViolation(err) {
				h.logOperation(ctx, cfg.ID, "patch", http.StatusConflict, user.ID, identity.ScimExternalID, "externalId already in use")
				writeError(w, http.StatusConflict, "externalId already in use")
				return
			}
			h.logger.Error("update identity external id", "identity_id", identity.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to apply patch")
			return
		}
		identity.ScimExternalID = *changes.ExternalID
	}

	// active transitions route through the deactivation table, never a
	// plain field write.
	if changes.Active != nil {
		if *changes.Active {
			if err := h.reactivate(ctx, cfg.ID, user.ID); err != nil {
				h.logger.Error("reactivate user via scim", "user_id", user.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to reactivate user")
				return
			}
		} else {
			if err := h.deactivate(ctx, cfg.ID, user.ID); err != nil {
				h.logger.Error("deactivate user via scim", "user_id", user.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to deactivate user")
				return
			}
		}
	}

	active, err := h.userActive(ctx, cfg.ID, user.ID)
	if err != nil {
		h.logger.Error("resolve user active state", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read user")
		return
	}

	h.logOperation(ctx, cfg.ID, "patch", http.StatusOK, user.ID, identity.ScimExternalID, "")
	writeJSON(w, http.StatusOK, userResource(user, identity, active, baseURLFromRequest(r)))
}

// deleteUser handles DELETE /scim/v2/Users/{id}. SCIM deletes deactivate the
// user; the identity row stays for audit.
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	cfg, ok := configFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	ctx := r.Context()
	userID := r.PathValue("id")

	user, identity, ok := h.lookupManagedUser(w, ctx, cfg, userID, "delete")
	if !ok {
		return
	}

	if err := h.deactivate(ctx, cfg.ID, user.ID); err != nil {
		h.logger.Error("deactivate user on scim delete", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	h.logOperation(ctx, cfg.ID, "delete", http.StatusNoContent, user.ID, identity.ScimExternalID, "")
	w.WriteHeader(http.StatusNoContent)
}

// lookupManagedUser resolves a path user id to a user the authenticated
// config manages. Writes a 404 and logs the operation when it does not.
func (h *Handler) lookupManagedUser(w http.ResponseWriter, ctx context.Context, cfg store.SsoConfig, userID, operation string) (store.User, store.SsoIdentity, bool) {
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return store.User{}, store.SsoIdentity{}, false
	}

	identity, err := h.store.Queries().GetIdentityByConfigAndUser(ctx, cfg.ID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.logOperation(ctx, cfg.ID, operation, http.StatusNotFound, userID, "", "user not found")
			writeError(w, http.StatusNotFound, "user not found")
			return store.User{}, store.SsoIdentity{}, false
		}
		h.logger.Error("lookup scim identity", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return store.User{}, store.SsoIdentity{}, false
	}

	user, err := h.store.Queries().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.logOperation(ctx, cfg.ID, operation, http.StatusNotFound, userID, identity.ScimExternalID, "user not found")
			writeError(w, http.StatusNotFound, "user not found")
			return store.User{}, store.SsoIdentity{}, false
		}
		h.logger.Error("lookup scim user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return store.User{}, store.SsoIdentity{}, false
	}

	return user, identity, true
}

// userActive reports whether the user is active for this config: active
// means no open deactivation row.
func (h *Handler) userActive(ctx context.Context, configID, userID string) (bool, error) {
	_, err := h.store.Queries().GetOpenDeactivation(ctx, configID, userID)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	return false, err
}

// deactivate opens a deactivation record and revokes every live session.
// Revocation is immediate; there is no grace period. The session-version
// bump also invalidates tokens presented without a session cookie.
func (h *Handler) deactivate(ctx context.Context, configID, userID string) error {
	if err := h.store.Queries().CreateDeactivation(ctx, store.NewID(), configID, userID); err != nil {
		return fmt.Errorf("create deactivation: %w", err)
	}
	revoked, err := h.store.Queries().RevokeUserSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	if _, err := h.store.Queries().BumpSessionVersion(ctx, userID); err != nil {
		return fmt.Errorf("bump session version: %w", err)
	}
	if revoked > 0 {
		h.logger.Info("revoked sessions for deactivated user", "user_id", userID, "count", revoked)
	}
	return nil
}

// reactivate closes any open deactivation record. A no-op when the user is
// already active.
func (h *Handler) reactivate(ctx context.Context, configID, userID string) error {
	_, err := h.store.Queries().CloseDeactivation(ctx, configID, userID)
	return err
}

// userResource converts a user and its identity link to a SCIM resource.
func userResource(user store.User, identity store.SsoIdentity, active bool, baseURL string) SCIMUser {
	su := SCIMUser{
		Schemas:     []string{UserSchema},
		ID:          user.ID,
		ExternalID:  identity.ScimExternalID,
		UserName:    user.Email,
		DisplayName: user.DisplayName,
		Active:      &active,
		Emails: []SCIMEmail{
			{
				Value:   user.Email,
				Type:    "work",
				Primary: true,
			},
		},
		Meta: &SCIMMeta{
			ResourceType: "User",
			Location:     baseURL + "/Users/" + user.ID,
			Created:      user.CreatedAt.Format(time.RFC3339),
			LastModified: user.UpdatedAt.Format(time.RFC3339),
		},
	}

	if user.GivenName != "" || user.FamilyName != "" {
		su.Name = &SCIMName{
			GivenName:  user.GivenName,
			FamilyName: user.FamilyName,
		}
	}

	return su
}

// formatExternalName extracts a display name from SCIM name fields.
func formatExternalName(name *SCIMName) string {
	if name == nil {
		return ""
	}
	if name.Formatted != "" {
		return name.Formatted
	}
	parts := []string{}
	if name.GivenName != "" {
		parts = append(parts, name.GivenName)
	}
	if name.FamilyName != "" {
		parts = append(parts, name.FamilyName)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return parts[0] + " " + parts[1]
	}
}

// baseURLFromRequest constructs the SCIM base URL from the request.
func baseURLFromRequest(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "https" || fwd == "http" {
			scheme = fwd
		} else {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s/scim/v2", scheme, r.Host)
}
