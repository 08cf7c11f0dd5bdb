package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/cache"
	"dinehub.org/internal/store/memory"
)

const (
	testTenant = "tenant-a"
	testSecret = "0123456789abcdef0123456789abcdef"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type auditSpy struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (a *auditSpy) LogEvent(_ context.Context, event string, fields map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, recordedEvent{name: event, fields: fields})
	return nil
}

func (a *auditSpy) count(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.name == name {
			n++
		}
	}
	return n
}

type fixture struct {
	clock       *clock
	store       *memory.Store
	cache       *cache.Memory
	audit       *auditSpy
	roles       *auth.RoleStore
	assignments *auth.AssignmentStore
	resolver    *auth.Resolver
	tokens      *auth.TokenService
}

func newFixture(t *testing.T, opts ...auth.TokenOption) *fixture {
	t.Helper()
	f := &fixture{
		clock: newClock(),
		store: memory.New(),
		cache: cache.NewMemory(time.Minute),
		audit: &auditSpy{},
	}
	nop := zerolog.Nop()
	f.roles = auth.NewRoleStore(f.store, nil,
		auth.WithRoleClock(f.clock.Now), auth.WithRoleAudit(f.audit), auth.WithRoleLogger(nop))
	f.assignments = auth.NewAssignmentStore(f.store, f.store,
		auth.WithAssignmentClock(f.clock.Now), auth.WithAssignmentAudit(f.audit), auth.WithAssignmentLogger(nop))
	f.resolver = auth.NewResolver(nil, f.store, f.assignments)

	signer, err := auth.NewHS256Signer(testSecret)
	require.NoError(t, err)
	base := []auth.TokenOption{
		auth.WithClock(f.clock.Now),
		auth.WithIssuer("dinehub"),
		auth.WithAudience("dinehub-api"),
		auth.WithLogger(nop),
		auth.WithAudit(f.audit),
		auth.WithRevocationCache(f.cache),
	}
	f.tokens, err = auth.NewTokenService(signer, f.store, f.resolver, f.store, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.tokens.Drain)
	return f
}

func (f *fixture) user(t *testing.T, id string) auth.User {
	t.Helper()
	u := auth.User{ID: id, TenantID: testTenant, Email: id + "@example.com", Status: auth.UserStatusActive}
	f.store.PutUser(u)
	return u
}

func (f *fixture) role(t *testing.T, name string, level int, perms ...string) auth.Role {
	t.Helper()
	r, err := f.roles.Create(context.Background(), testTenant, auth.RoleInput{Name: name, Level: level, Permissions: perms})
	require.NoError(t, err)
	return r
}

func (f *fixture) assign(t *testing.T, userID, roleID string) {
	t.Helper()
	_, err := f.assignments.Assign(context.Background(), testTenant, userID, roleID, auth.AssignOptions{})
	require.NoError(t, err)
}
