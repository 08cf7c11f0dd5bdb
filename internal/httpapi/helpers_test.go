package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/cache"
	"dinehub.org/internal/store/memory"
)

const (
	tenantA    = "tenant-a"
	tenantB    = "tenant-b"
	testSecret = "0123456789abcdef0123456789abcdef"
	password   = "correct horse battery"
)

type harness struct {
	t           *testing.T
	srv         *httptest.Server
	api         *API
	store       *memory.Store
	roles       *auth.RoleStore
	assignments *auth.AssignmentStore
	tokens      *auth.TokenService
	hash        string
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newHarness(t *testing.T, probes map[string]ReadyProbe, opts ...func(*Deps)) *harness {
	t.Helper()
	nop := zerolog.Nop()
	store := memory.New()
	roles := auth.NewRoleStore(store, nil, auth.WithRoleLogger(nop))
	assignments := auth.NewAssignmentStore(store, store, auth.WithAssignmentLogger(nop))
	resolver := auth.NewResolver(nil, store, assignments)

	signer, err := auth.NewHS256Signer(testSecret)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(signer, store, resolver, store,
		auth.WithIssuer("dinehub"),
		auth.WithAudience("dinehub-api"),
		auth.WithLogger(nop),
		auth.WithRevocationCache(cache.NewMemory(time.Minute)),
	)
	require.NoError(t, err)

	deps := Deps{
		Tokens:      tokens,
		Roles:       roles,
		Assignments: assignments,
		Resolver:    resolver,
		Users:       store,
		Probes:      probes,
		Logger:      nop,
		Version:     "test",
		CORSOrigins: []string{"http://localhost:3000"},
		RateBurst:   100,
		RateRPS:     100,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	api, err := New(deps)
	require.NoError(t, err)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		api.Close()
		tokens.Drain()
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	return &harness{
		t:           t,
		srv:         srv,
		api:         api,
		store:       store,
		roles:       roles,
		assignments: assignments,
		tokens:      tokens,
		hash:        string(hash),
	}
}

// seedUser creates an active user holding the given system roles, seeding them on first use.
func (h *harness) seedUser(tenantID, id string, roleSlugs ...string) auth.User {
	h.t.Helper()
	ctx := context.Background()
	u := auth.User{
		ID:           id,
		TenantID:     tenantID,
		Email:        id + "@example.com",
		PasswordHash: h.hash,
		Status:       auth.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	h.store.PutUser(u)
	if len(roleSlugs) > 0 {
		_, err := h.roles.SeedSystemRoles(ctx, tenantID)
		require.NoError(h.t, err)
	}
	for _, slug := range roleSlugs {
		role, err := h.roles.GetBySlug(ctx, tenantID, slug)
		require.NoError(h.t, err)
		_, err = h.assignments.Assign(ctx, tenantID, id, role.ID, auth.AssignOptions{})
		require.NoError(h.t, err)
	}
	return u
}

func (h *harness) login(tenantID, id string) auth.TokenPair {
	h.t.Helper()
	resp := h.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"tenant_id": tenantID,
		"email":     id + "@example.com",
		"password":  password,
	})
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	return decode[auth.TokenPair](h.t, resp)
}

func (h *harness) do(method, path, token string, body any) *http.Response {
	h.t.Helper()
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(h.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
