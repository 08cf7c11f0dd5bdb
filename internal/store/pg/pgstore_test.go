package pg

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinehub.org/internal/auth"
)

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestRevokeTokenIsConditional(t *testing.T) {
	store, mock := newMock(t)
	rev := auth.Revocation{By: "user-1", Reason: "rotated", At: at}

	mock.ExpectExec(q("update auth_tokens set is_revoked = true")+".*"+q("where token_hash = $1 and is_active and not is_revoked and not is_blacklisted")).
		WithArgs("hash-1", at, "user-1", "rotated").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("update auth_tokens set is_revoked = true")).
		WithArgs("hash-1", at, "user-1", "rotated").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.RevokeToken(context.Background(), "hash-1", rev)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RevokeToken(context.Background(), "hash-1", rev)
	require.NoError(t, err)
	assert.False(t, ok, "second revocation must not win")
}

func TestCreateRoleMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("insert into roles")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "roles_tenant_slug_key"})

	err := store.CreateRole(context.Background(), &auth.Role{
		ID: "r1", TenantID: "t1", Name: "Chef", Slug: "chef", Permissions: []string{"orders.read"},
		IsActive: true, Level: 40, CreatedAt: at, UpdatedAt: at,
	})
	assert.ErrorIs(t, err, auth.ErrDuplicateSlug)
}

func TestInsertAssignmentDuplicate(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("update role_assignments set is_active = false, revoked_at = $4")).
		WithArgs("t1", "u1", "r1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("insert into role_assignments")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.InsertAssignment(context.Background(), &auth.RoleAssignment{
		ID: "a1", TenantID: "t1", UserID: "u1", RoleID: "r1", AssignedAt: at, IsActive: true,
	}, at)
	assert.ErrorIs(t, err, auth.ErrAlreadyAssigned)
}

func TestInsertAssignmentUnknownRole(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("update role_assignments")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("insert into role_assignments")).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.InsertAssignment(context.Background(), &auth.RoleAssignment{
		ID: "a1", TenantID: "t1", UserID: "u1", RoleID: "missing", AssignedAt: at,
	}, at)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestReplaceAssignmentsSingleTransaction(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("($3::text = '' or role_id = $3)")).
		WithArgs("t1", "u1", "", at).
		WillReturnResult(sqlmock.NewResult(0, 2))
	for _, role := range []string{"r1", "r2"} {
		mock.ExpectExec(q("update role_assignments")).WithArgs("t1", "u1", role, at).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q("insert into role_assignments")).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	next := []*auth.RoleAssignment{
		{ID: "a1", TenantID: "t1", UserID: "u1", RoleID: "r1", AssignedAt: at},
		{ID: "a2", TenantID: "t1", UserID: "u1", RoleID: "r2", AssignedAt: at},
	}
	require.NoError(t, store.ReplaceAssignments(context.Background(), "t1", "u1", next, at))
}

func TestGetRoleDecodesPermissions(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "tenant_id", "name", "slug", "description", "permissions", "is_system_role", "is_active",
		"level", "color", "icon", "created_at", "updated_at", "deleted_at"}
	mock.ExpectQuery(q("from roles where tenant_id = $1 and id = $2 and deleted_at is null")).
		WithArgs("t1", "r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "t1", "Cashier", "cashier", nil,
			[]byte(`["orders.read","billing.create"]`), true, true, int64(60), "#0ea5e9", nil, at, at, nil))

	role, err := store.GetRole(context.Background(), "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.read", "billing.create"}, role.Permissions)
	assert.Equal(t, 60, role.Level)
	assert.Equal(t, "#0ea5e9", role.Color)
	assert.Empty(t, role.Description)
	assert.Nil(t, role.DeletedAt)
}

func TestGetRoleNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("from roles")).WillReturnError(sql.ErrNoRows)

	_, err := store.GetRole(context.Background(), "t1", "nope")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestListRolesBuildsFilter(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("where tenant_id = $1 and deleted_at is null and is_active and level >= $2 and level <= $3 order by level desc, id asc")).
		WithArgs("t1", 30, 70).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.ListRoles(context.Background(), "t1", auth.RoleFilter{ActiveOnly: true, MinLevel: 30, MaxLevel: 70})
	require.NoError(t, err)
}

func TestUpdateRoleMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("update roles")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateRole(context.Background(), auth.Role{ID: "r1", TenantID: "t1", Name: "x", Level: 1, UpdatedAt: at})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRevokeTokensReturnsHashes(t *testing.T) {
	store, mock := newMock(t)
	exp := at.Add(time.Hour)
	mock.ExpectQuery(q("returning token_hash, expires_at")).
		WithArgs("t1", at, "admin", "logout_all", "u1", "").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash", "expires_at"}).AddRow("h1", exp).AddRow("h2", exp))

	out, err := store.RevokeTokens(context.Background(), "t1", auth.TokenSelector{UserID: "u1"},
		auth.Revocation{By: "admin", Reason: "logout_all", At: at})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "h1", out[0].TokenHash)
	assert.Equal(t, exp, out[1].ExpiresAt)
}

func TestFindTokenByHash(t *testing.T) {
	store, mock := newMock(t)
	cols := []string{"id", "tenant_id", "user_id", "token_id", "kind", "token_hash", "device_id", "device_type", "ip_address",
		"user_agent", "scopes", "permissions_snapshot", "is_active", "is_revoked", "is_blacklisted", "expires_at",
		"last_used_at", "revoked_at", "revoked_by", "revoke_reason", "created_at"}
	mock.ExpectQuery(q("from auth_tokens where token_hash = $1")).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("id1", "t1", "u1", "jti-1", "access", "h1", "pos-1", nil, nil, nil,
			[]byte(`[]`), []byte(`["orders.read"]`), true, false, false, at.Add(time.Hour), nil, nil, nil, nil, at))
	mock.ExpectQuery(q("from auth_tokens")).WithArgs("h2").WillReturnError(sql.ErrNoRows)

	tok, err := store.FindTokenByHash(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, auth.TokenKindAccess, tok.Kind)
	assert.Equal(t, "pos-1", tok.DeviceID)
	assert.Nil(t, tok.Scopes)
	assert.Equal(t, []string{"orders.read"}, tok.PermissionsSnapshot)

	_, err = store.FindTokenByHash(context.Background(), "h2")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestBlacklistUnknownToken(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("set is_blacklisted = true")).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.BlacklistToken(context.Background(), "missing", auth.Revocation{At: at, Reason: "compromised"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlacklistKeepsFirstRevocation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("set is_blacklisted = true")+".*"+
		q("revoked_by = case when revoked_at is null then $3 else revoked_by end")+".*"+
		q("revoke_reason = case when revoked_at is null then $4 else revoke_reason end")+".*"+
		q("revoked_at = coalesce(revoked_at, $2)")).
		WithArgs("hash-1", at, "admin-1", "stolen").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.BlacklistToken(context.Background(), "hash-1", auth.Revocation{By: "admin-1", Reason: "stolen", At: at})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupDeletes(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(q("delete from auth_tokens where expires_at < $1")).WithArgs(at).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(q("delete from auth_tokens where (is_revoked or is_blacklisted) and revoked_at < $1")).WithArgs(at).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.DeleteExpiredTokens(context.Background(), at)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	n, err = store.DeleteRevokedTokens(context.Background(), at)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestFindUserByEmailNormalizes(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(q("from users where tenant_id = $1 and lower(email) = $2")).
		WithArgs("t1", "ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "password_hash", "status", "created_at"}).
			AddRow("u1", "t1", "Ana@example.com", "$2a$10$x", "active", at))

	u, err := store.FindUserByEmail(context.Background(), "t1", "  Ana@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}
