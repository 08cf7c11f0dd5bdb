package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/store/memory"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func putToken(t *testing.T, s *memory.Store, tenant, user, hash string) {
	t.Helper()
	require.NoError(t, s.CreateToken(context.Background(), &auth.Token{
		ID:        "id-" + hash,
		TenantID:  tenant,
		UserID:    user,
		TokenID:   "jti-" + hash,
		Kind:      auth.TokenKindRefresh,
		TokenHash: hash,
		IsActive:  true,
		ExpiresAt: t0.Add(time.Hour),
		CreatedAt: t0,
	}))
}

func TestRevokeTokenSucceedsOnceUnderContention(t *testing.T) {
	s := memory.New()
	putToken(t, s, "t1", "u1", "h1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RevokeToken(context.Background(), "h1", auth.Revocation{By: "u1", Reason: "rotated", At: t0})
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	tok, err := s.FindTokenByHash(context.Background(), "h1")
	require.NoError(t, err)
	assert.True(t, tok.IsRevoked)
	assert.False(t, tok.IsActive)
	assert.Equal(t, "rotated", tok.RevokeReason)
}

func TestInsertAssignmentAllowsOneEffectiveRow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InsertAssignment(ctx, &auth.RoleAssignment{
				ID: string(rune('a' + i)), TenantID: "t1", UserID: "u1", RoleID: "r1",
				AssignedAt: t0, IsActive: true,
			}, t0)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, auth.ErrAlreadyAssigned):
				dup.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), dup.Load())
}

func TestInsertAssignmentRetiresExpiredRow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.InsertAssignment(ctx, &auth.RoleAssignment{
		ID: "old", TenantID: "t1", UserID: "u1", RoleID: "r1",
		AssignedAt: t0, ExpiresAt: ptr(t0.Add(time.Hour)), IsActive: true,
	}, t0))

	later := t0.Add(2 * time.Hour)
	require.NoError(t, s.InsertAssignment(ctx, &auth.RoleAssignment{
		ID: "new", TenantID: "t1", UserID: "u1", RoleID: "r1", AssignedAt: later, IsActive: true,
	}, later))

	effective, err := s.ListEffectiveAssignments(ctx, "t1", "u1", later)
	require.NoError(t, err)
	require.Len(t, effective, 1)
	assert.Equal(t, "new", effective[0].ID)

	history, err := s.ListAssignmentHistory(ctx, "t1", "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "new", history[0].ID)
	assert.False(t, history[1].IsActive)
	require.NotNil(t, history[1].RevokedAt)
}

func TestExpiredAssignmentNotEffectiveBeforeSweep(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.InsertAssignment(ctx, &auth.RoleAssignment{
		ID: "a1", TenantID: "t1", UserID: "u1", RoleID: "r1",
		AssignedAt: t0, ExpiresAt: ptr(t0.Add(time.Minute)), IsActive: true,
	}, t0))

	now := t0.Add(time.Hour)
	effective, err := s.ListEffectiveAssignments(ctx, "t1", "u1", now)
	require.NoError(t, err)
	assert.Empty(t, effective)

	expired, err := s.ListExpiredAssignments(ctx, "t1", now)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	n, err := s.SweepExpiredAssignments(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	expired, err = s.ListExpiredAssignments(ctx, "t1", now)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestListRolesOrderAndSoftDelete(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for _, r := range []auth.Role{
		{ID: "r1", TenantID: "t1", Slug: "waiter", Level: 30, IsActive: true},
		{ID: "r2", TenantID: "t1", Slug: "owner", Level: 90, IsActive: true},
		{ID: "r3", TenantID: "t1", Slug: "host", Level: 30, IsActive: false},
		{ID: "r4", TenantID: "t2", Slug: "owner", Level: 90, IsActive: true},
	} {
		require.NoError(t, s.CreateRole(ctx, &r))
	}
	err := s.CreateRole(ctx, &auth.Role{ID: "r5", TenantID: "t1", Slug: "owner"})
	require.ErrorIs(t, err, auth.ErrDuplicateSlug)

	all, err := s.ListRoles(ctx, "t1", auth.RoleFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "waiter", "host"}, slugs(all))

	active, err := s.ListRoles(ctx, "t1", auth.RoleFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "waiter"}, slugs(active))

	require.NoError(t, s.SoftDeleteRole(ctx, "t1", "r1", t0))
	_, err = s.GetRole(ctx, "t1", "r1")
	require.ErrorIs(t, err, auth.ErrNotFound)
	exists, err := s.SlugExists(ctx, "t1", "waiter")
	require.NoError(t, err)
	assert.True(t, exists, "tombstoned slugs stay reserved")

	_, err = s.GetRole(ctx, "t2", "r2")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRevokeTokensStaysInTenant(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	putToken(t, s, "t1", "u1", "a")
	putToken(t, s, "t1", "u1", "b")
	putToken(t, s, "t2", "u1", "c")

	out, err := s.RevokeTokens(ctx, "t1", auth.TokenSelector{UserID: "u1"}, auth.Revocation{Reason: "logout_all", At: t0})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	other, err := s.FindTokenByHash(ctx, "c")
	require.NoError(t, err)
	assert.True(t, other.IsActive)
}

func TestTokenCleanup(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	putToken(t, s, "t1", "u1", "live")
	putToken(t, s, "t1", "u1", "revoked")
	_, err := s.RevokeToken(ctx, "revoked", auth.Revocation{At: t0})
	require.NoError(t, err)

	n, err := s.DeleteRevokedTokens(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteExpiredTokens(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.FindTokenByHash(ctx, "live")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestBlacklistUnknownToken(t *testing.T) {
	s := memory.New()
	ok, err := s.BlacklistToken(context.Background(), "missing", auth.Revocation{At: t0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func slugs(roles []auth.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.Slug
	}
	return out
}

func TestBlacklistKeepsFirstRevocation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	putToken(t, s, "t1", "u1", "rotated")
	putToken(t, s, "t1", "u1", "fresh")

	ok, err := s.RevokeToken(ctx, "rotated", auth.Revocation{By: "u1", Reason: "rotated", At: t0})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.BlacklistToken(ctx, "rotated", auth.Revocation{By: "admin-1", Reason: "stolen", At: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)

	tok, err := s.FindTokenByHash(ctx, "rotated")
	require.NoError(t, err)
	assert.True(t, tok.IsBlacklisted)
	assert.Equal(t, "u1", tok.RevokedBy)
	assert.Equal(t, "rotated", tok.RevokeReason)
	assert.Equal(t, t0, *tok.RevokedAt)

	_, err = s.BlacklistToken(ctx, "fresh", auth.Revocation{By: "admin-1", Reason: "stolen", At: t0})
	require.NoError(t, err)
	_, err = s.BlacklistToken(ctx, "fresh", auth.Revocation{By: "admin-2", Reason: "again", At: t0.Add(time.Hour)})
	require.NoError(t, err)
	tok, err = s.FindTokenByHash(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", tok.RevokedBy)
	assert.Equal(t, "stolen", tok.RevokeReason)
}
