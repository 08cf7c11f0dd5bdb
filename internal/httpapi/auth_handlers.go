package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"dinehub.org/internal/auth"
)

type loginRequest struct {
	TenantID   string   `json:"tenant_id"`
	Email      string   `json:"email"`
	Password   string   `json:"password"`
	DeviceID   string   `json:"device_id,omitempty"`
	DeviceType string   `json:"device_type,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	Token string `json:"token,omitempty"`
}

type meResponse struct {
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	TokenID     string    `json:"token_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	Scopes      []string  `json:"scopes"`
	DeviceID    string    `json:"device_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type permissionEntry struct {
	Key    string `json:"key"`
	Module string `json:"module"`
	Label  string `json:"label"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tenantID := strings.TrimSpace(req.TenantID)
	email := strings.TrimSpace(req.Email)
	if tenantID == "" || email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "tenant_id, email and password are required")
		return
	}

	var found *auth.User
	user, err := a.users.FindUserByEmail(r.Context(), tenantID, email)
	switch {
	case err == nil:
		found = &user
	case errors.Is(err, auth.ErrNotFound):
	default:
		a.writeAuthError(w, r, err)
		return
	}
	if err := auth.CheckCredentials(found, req.Password); err != nil {
		a.log.Info().Str("tenant_id", tenantID).Str("ip", clientIP(r)).Msg("login rejected")
		a.writeAuthError(w, r, err)
		return
	}

	pair, err := a.tokens.IssueTokenPair(r.Context(), user, auth.IssueOptions{
		DeviceID:   firstNonEmpty(req.DeviceID, r.Header.Get("X-Device-Id")),
		DeviceType: firstNonEmpty(req.DeviceType, r.Header.Get("X-Device-Type")),
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
		Scopes:     req.Scopes,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := a.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleRevoke ends one of the caller's own tokens, by default the one used for this request.
func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	claims := caller(r)
	token := strings.TrimSpace(req.Token)
	if token == "" {
		token, _ = auth.TokenFromContext(r.Context())
	}
	rec, err := a.tokens.Lookup(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusNotFound, "token not found")
			return
		}
		a.writeAuthError(w, r, err)
		return
	}
	if rec.TenantID != claims.TenantID || rec.UserID != claims.Subject {
		a.writeAuthError(w, r, auth.ErrPermissionDenied)
		return
	}
	if err := a.tokens.Revoke(r.Context(), token, auth.RevokeOptions{By: claims.Subject, Reason: "logout"}); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	n, err := a.tokens.RevokeAllForUser(r.Context(), claims.TenantID, claims.Subject,
		auth.RevokeOptions{By: claims.Subject, Reason: "logout_all"})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	resp := meResponse{
		UserID:      claims.Subject,
		TenantID:    claims.TenantID,
		TokenID:     claims.ID,
		Roles:       nonNil(claims.Roles),
		Permissions: nonNil(claims.Permissions),
		Scopes:      nonNil(claims.Scopes),
		DeviceID:    claims.DeviceID,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	catalog := a.roles.Catalog()
	keys := catalog.Keys()
	entries := make([]permissionEntry, 0, len(keys))
	for _, key := range keys {
		label, _ := catalog.Label(key)
		module, _, _ := strings.Cut(key, ".")
		entries = append(entries, permissionEntry{Key: key, Module: module, Label: label})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     auth.CatalogVersion,
		"modules":     catalog.Modules(),
		"permissions": entries,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
