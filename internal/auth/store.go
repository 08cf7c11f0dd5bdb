package auth

import (
	"context"
	"time"
)

// RoleRepository persists roles. Every lookup is tenant scoped; soft-deleted roles are invisible.
type RoleRepository interface {
	// CreateRole inserts the role and returns ErrDuplicateSlug when the tenant already uses the slug.
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, tenantID, id string) (Role, error)
	GetRoleBySlug(ctx context.Context, tenantID, slug string) (Role, error)
	// SlugExists also considers soft-deleted roles: their slug stays reserved.
	SlugExists(ctx context.Context, tenantID, slug string) (bool, error)
	ListRoles(ctx context.Context, tenantID string, filter RoleFilter) ([]Role, error)
	UpdateRole(ctx context.Context, role Role) error
	SetRolePermissions(ctx context.Context, tenantID, id string, perms []string, at time.Time) error
	SoftDeleteRole(ctx context.Context, tenantID, id string, at time.Time) error
}

// RoleFilter narrows ListRoles. Zero levels do not filter.
type RoleFilter struct {
	ActiveOnly bool
	MinLevel   int
	MaxLevel   int
}

// AssignmentRepository persists role assignments. Rows are deactivated, never removed.
type AssignmentRepository interface {
	// InsertAssignment stores a new active assignment. It must fail with ErrAlreadyAssigned when an
	// effective assignment for the same (tenant, user, role) exists, atomically with respect to
	// concurrent inserts. A stale active-but-expired row is retired first.
	InsertAssignment(ctx context.Context, a *RoleAssignment, now time.Time) error
	// DeactivateAssignments retires effective assignments of the user; an empty roleID matches every role.
	DeactivateAssignments(ctx context.Context, tenantID, userID, roleID string, now time.Time) (int64, error)
	// ReplaceAssignments retires every effective assignment of the user and inserts next.
	ReplaceAssignments(ctx context.Context, tenantID, userID string, next []*RoleAssignment, now time.Time) error
	ListEffectiveAssignments(ctx context.Context, tenantID, userID string, now time.Time) ([]RoleAssignment, error)
	ListAssignmentHistory(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error)
	// ListAssignmentsExpiringBetween returns effective assignments whose expiry falls in (from, to].
	ListAssignmentsExpiringBetween(ctx context.Context, tenantID string, from, to time.Time) ([]RoleAssignment, error)
	ListExpiredAssignments(ctx context.Context, tenantID string, now time.Time) ([]RoleAssignment, error)
	// SweepExpiredAssignments deactivates active rows whose expiry has passed, across tenants.
	SweepExpiredAssignments(ctx context.Context, now time.Time) (int64, error)
}

// TokenRepository persists token metadata keyed by the hash of the signed token.
type TokenRepository interface {
	CreateToken(ctx context.Context, t *Token) error
	FindTokenByHash(ctx context.Context, hash string) (Token, error)
	TouchToken(ctx context.Context, hash string, at time.Time) error
	// RevokeToken revokes the token only while it is active, not revoked and not blacklisted.
	// It reports true for exactly one of any number of concurrent callers.
	RevokeToken(ctx context.Context, hash string, rev Revocation) (bool, error)
	RevokeTokens(ctx context.Context, tenantID string, sel TokenSelector, rev Revocation) ([]RevokedToken, error)
	// BlacklistToken reports false when no record has the hash.
	BlacklistToken(ctx context.Context, hash string, rev Revocation) (bool, error)
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error)
	DeleteRevokedTokens(ctx context.Context, before time.Time) (int64, error)
}

// UserDirectory is the external user store.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, tenantID, email string) (User, error)
}

// RevocationCache remembers denied token hashes. It may only ever deny; a miss falls through to the store.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, hash string, ttl time.Duration) error
	IsRevoked(ctx context.Context, hash string) (bool, error)
}

// AuditLogger records security relevant state transitions.
type AuditLogger interface {
	LogEvent(ctx context.Context, event string, fields map[string]any) error
}

type nopAudit struct{}

func (nopAudit) LogEvent(context.Context, string, map[string]any) error { return nil }
