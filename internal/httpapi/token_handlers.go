package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dinehub.org/internal/auth"
)

type adminRevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type blacklistRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleRevokeUserTokens(w http.ResponseWriter, r *http.Request) {
	a.revokeMany(w, r, func(claims *auth.Claims, opts auth.RevokeOptions) (int, error) {
		return a.tokens.RevokeAllForUser(r.Context(), claims.TenantID, chi.URLParam(r, "id"), opts)
	})
}

func (a *API) handleRevokeDeviceTokens(w http.ResponseWriter, r *http.Request) {
	a.revokeMany(w, r, func(claims *auth.Claims, opts auth.RevokeOptions) (int, error) {
		return a.tokens.RevokeAllForDevice(r.Context(), claims.TenantID, chi.URLParam(r, "id"), opts)
	})
}

func (a *API) revokeMany(w http.ResponseWriter, r *http.Request, fn func(*auth.Claims, auth.RevokeOptions) (int, error)) {
	var req adminRevokeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	claims := caller(r)
	n, err := fn(claims, auth.RevokeOptions{By: claims.Subject, Reason: firstNonEmpty(req.Reason, "admin_revoked")})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *API) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	claims := caller(r)
	rec, err := a.tokens.Lookup(r.Context(), token)
	if err == nil && rec.TenantID != claims.TenantID {
		err = auth.ErrInvalidToken
	}
	if err == nil {
		err = a.tokens.Blacklist(r.Context(), token, auth.RevokeOptions{By: claims.Subject, Reason: firstNonEmpty(req.Reason, "blacklisted")})
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusNotFound, "token not found")
			return
		}
		a.writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
