package auth_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/store/memory"
)

func TestRoleCreateGeneratesSlugAndSanitizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.roles.Create(ctx, testTenant, auth.RoleInput{
		Name:        "Sous Chef",
		Permissions: []string{"menu.*", "orders.read", "orders.teleport", "menu.*"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sous-chef", r.Slug)
	assert.Equal(t, 1, r.Level)
	assert.True(t, r.IsActive)
	assert.Equal(t, []string{"menu.*", "orders.read"}, r.Permissions)
	assert.Equal(t, 1, f.audit.count("role.permissions.dropped"))

	got, err := f.roles.GetBySlug(ctx, testTenant, "sous-chef")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestRoleCreateDuplicateSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.role(t, "Bartender", 20)

	_, err := f.roles.Create(ctx, testTenant, auth.RoleInput{Name: "bartender!"})
	assert.ErrorIs(t, err, auth.ErrDuplicateSlug)

	// Same slug in another tenant is fine.
	_, err = f.roles.Create(ctx, "tenant-b", auth.RoleInput{Name: "Bartender"})
	assert.NoError(t, err)
}

func TestRoleCreateStrictRejectsUnknownPermission(t *testing.T) {
	store := memory.New()
	roles := auth.NewRoleStore(store, nil, auth.WithStrictPermissions(true), auth.WithRoleLogger(zerolog.Nop()))

	_, err := roles.Create(context.Background(), testTenant, auth.RoleInput{Name: "Runner", Permissions: []string{"orders.read", "orders.teleport"}})
	assert.ErrorIs(t, err, auth.ErrInvalidPermission)

	list, err := roles.ListActive(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRoleCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.roles.Create(ctx, testTenant, auth.RoleInput{Name: "  "})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = f.roles.Create(ctx, testTenant, auth.RoleInput{Name: "Too High", Level: 101})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = f.roles.Create(ctx, "", auth.RoleInput{Name: "Orphan"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = f.roles.Create(ctx, testTenant, auth.RoleInput{Name: "!!!"})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestRoleTenantIsolation(t *testing.T) {
	f := newFixture(t)
	r := f.role(t, "Host", 30)

	_, err := f.roles.Get(context.Background(), "tenant-b", r.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRoleSetPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.role(t, "Runner", 10, "orders.read")

	updated, err := f.roles.SetPermissions(ctx, testTenant, r.ID, []string{"tables.*", "nope.read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tables.*"}, updated.Permissions)

	got, err := f.roles.Get(ctx, testTenant, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tables.*"}, got.Permissions)
}

func TestRoleListByLevelRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.role(t, "Low", 10)
	mid := f.role(t, "Mid", 50)
	high := f.role(t, "High", 70)

	list, err := f.roles.ListByLevelRange(ctx, testTenant, 40, 80)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, high.ID, list[0].ID)
	assert.Equal(t, mid.ID, list[1].ID)

	_, err = f.roles.ListByLevelRange(ctx, testTenant, 80, 40)
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestRoleUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.role(t, "Busser", 15)

	name, level, inactive := "Busser Lead", 25, false
	updated, err := f.roles.Update(ctx, testTenant, r.ID, auth.RoleUpdate{Name: &name, Level: &level, IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "Busser Lead", updated.Name)
	assert.Equal(t, "busser", updated.Slug, "slug is stable")
	assert.False(t, updated.IsActive)

	active, err := f.roles.ListActive(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, f.roles.Delete(ctx, testTenant, r.ID))
	_, err = f.roles.Get(ctx, testTenant, r.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	// The slug of a deleted role stays reserved.
	_, err = f.roles.Create(ctx, testTenant, auth.RoleInput{Name: "Busser"})
	assert.ErrorIs(t, err, auth.ErrDuplicateSlug)
}

func TestSeedSystemRolesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.roles.SeedSystemRoles(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, created, len(auth.SystemRoles))

	again, err := f.roles.SeedSystemRoles(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, again)

	owner, err := f.roles.GetBySlug(ctx, testTenant, "owner")
	require.NoError(t, err)
	assert.True(t, owner.IsSystemRole)
	assert.Equal(t, []string{"*"}, owner.Permissions)
	assert.Equal(t, 90, owner.Level)

	assert.ErrorIs(t, f.roles.Delete(ctx, testTenant, owner.ID), auth.ErrSystemRole)
	off := false
	_, err = f.roles.Update(ctx, testTenant, owner.ID, auth.RoleUpdate{IsActive: &off})
	assert.ErrorIs(t, err, auth.ErrSystemRole)
	higher, same := 100, 90
	_, err = f.roles.Update(ctx, testTenant, owner.ID, auth.RoleUpdate{Level: &higher})
	assert.ErrorIs(t, err, auth.ErrSystemRole)
	kept, err := f.roles.Update(ctx, testTenant, owner.ID, auth.RoleUpdate{Level: &same})
	require.NoError(t, err)
	assert.Equal(t, 90, kept.Level)

	list, err := f.roles.ListActive(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, list, len(auth.SystemRoles))
	assert.Equal(t, "owner", list[0].Slug)
}

func TestSeedSkipsExistingSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	custom := f.role(t, "Host", 35, "tables.read")

	created, err := f.roles.SeedSystemRoles(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, created, len(auth.SystemRoles)-1)

	host, err := f.roles.GetBySlug(ctx, testTenant, "host")
	require.NoError(t, err)
	assert.Equal(t, custom.ID, host.ID)
	assert.False(t, host.IsSystemRole)
}
