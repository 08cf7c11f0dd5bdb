// Package httpapi exposes the auth service over HTTP and provides the gRPC auth interceptor.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/obs"
)

const (
	serviceName  = "dinehub-auth"
	maxBodyBytes = 1 << 20
)

// ReadyProbe reports whether a backing dependency is reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Deps wires the API to the auth components.
type Deps struct {
	Tokens      *auth.TokenService
	Roles       *auth.RoleStore
	Assignments *auth.AssignmentStore
	Resolver    *auth.Resolver
	Users       auth.UserDirectory
	// Probes are pinged by /readyz, keyed by name.
	Probes map[string]ReadyProbe
	Logger zerolog.Logger

	Version     string
	CORSOrigins []string
	RateBurst   int
	RateRPS     float64
}

// API is the HTTP layer.
type API struct {
	tokens      *auth.TokenService
	roles       *auth.RoleStore
	assignments *auth.AssignmentStore
	resolver    *auth.Resolver
	users       auth.UserDirectory
	probes      map[string]ReadyProbe
	log         zerolog.Logger
	version     string

	router  chi.Router
	limiter *rateLimiter
}

// New builds the router. Tokens, Roles, Assignments, Resolver and Users are required.
func New(d Deps) (*API, error) {
	if d.Tokens == nil || d.Roles == nil || d.Assignments == nil || d.Resolver == nil || d.Users == nil {
		return nil, errors.New("httpapi: incomplete dependencies")
	}
	burst, rps := d.RateBurst, d.RateRPS
	if burst <= 0 {
		burst = 20
	}
	if rps <= 0 {
		rps = 10
	}
	a := &API{
		tokens:      d.Tokens,
		roles:       d.Roles,
		assignments: d.Assignments,
		resolver:    d.Resolver,
		users:       d.Users,
		probes:      d.Probes,
		log:         d.Logger,
		version:     d.Version,
		limiter:     newRateLimiter(burst, rps),
	}
	a.router = a.routes(d.CORSOrigins)
	return a, nil
}

// Handler returns the root handler wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// Close stops background work owned by the API.
func (a *API) Close() {
	a.limiter.stop()
}

func (a *API) routes(origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id", "X-Device-Id", "X-Device-Type"},
		ExposedHeaders:   []string{"Location", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           600,
	}))

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(maxBody(maxBodyBytes))

		r.Group(func(r chi.Router) {
			r.Use(a.limiter.middleware)
			r.Post("/auth/token", a.handleLogin)
			r.Post("/auth/refresh", a.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/auth/revoke", a.handleRevoke)
			r.Post("/auth/logout-all", a.handleLogoutAll)
			r.Get("/auth/me", a.handleMe)
			r.Get("/permissions", a.handlePermissions)

			r.With(a.require(auth.PermRolesRead)).Get("/roles", a.handleListRoles)
			r.With(a.require(auth.PermRolesCreate)).Post("/roles", a.handleCreateRole)
			r.With(a.require(auth.PermRolesCreate)).Post("/roles/seed", a.handleSeedRoles)
			r.With(a.require(auth.PermRolesRead)).Get("/roles/{id}", a.handleGetRole)
			r.With(a.require(auth.PermRolesUpdate)).Patch("/roles/{id}", a.handleUpdateRole)
			r.With(a.require(auth.PermRolesDelete)).Delete("/roles/{id}", a.handleDeleteRole)
			r.With(a.require(auth.PermRolesUpdate)).Put("/roles/{id}/permissions", a.handleSetPermissions)

			r.With(a.require(auth.PermRolesRead)).Get("/users/{id}/roles", a.handleUserRoles)
			r.With(a.require(auth.PermRolesAssign)).Post("/users/{id}/roles", a.handleAssign)
			r.With(a.require(auth.PermRolesAssign)).Put("/users/{id}/roles", a.handleReplaceRoles)
			r.With(a.require(auth.PermRolesAssign)).Delete("/users/{id}/roles/{roleId}", a.handleUnassign)
			r.With(a.require(auth.PermRolesRead)).Get("/users/{id}/roles/history", a.handleAssignmentHistory)
			r.With(a.require(auth.PermRolesRead)).Get("/users/{id}/permissions", a.handleUserPermissions)
			r.With(a.require(auth.PermRolesRead)).Get("/assignments/expiring", a.handleExpiring)
			r.With(a.require(auth.PermRolesRead)).Get("/assignments/expired", a.handleExpired)

			r.With(a.require(auth.PermTokensRevoke)).Post("/users/{id}/tokens/revoke", a.handleRevokeUserTokens)
			r.With(a.require(auth.PermTokensRevoke)).Post("/devices/{id}/tokens/revoke", a.handleRevokeDeviceTokens)
			r.With(a.require(auth.PermTokensBan)).Post("/tokens/blacklist", a.handleBlacklist)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(a.probes))
	ready := true
	for name, probe := range a.probes {
		if err := probe.Ping(ctx); err != nil {
			a.log.Warn().Err(err).Str("probe", name).Msg("readiness check failed")
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}
	obs.SetReady(ready)
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

// --- helpers ---

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, RequestID: chimiddleware.GetReqID(r.Context())})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// writeAuthError maps the auth error taxonomy onto HTTP. Infrastructure failures never leak.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidPermission):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrNotAssigned):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrDuplicateSlug), errors.Is(err, auth.ErrAlreadyAssigned), errors.Is(err, auth.ErrSystemRole):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		a.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", chimiddleware.GetReqID(r.Context())).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
