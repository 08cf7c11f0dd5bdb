package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is the directory view of an authenticated principal. The directory itself is owned elsewhere.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Status       string
	CreatedAt    time.Time
}

// Active reports whether the user may hold tokens.
func (u User) Active() bool {
	return u.Status == "" || u.Status == UserStatusActive
}

// Role groups permissions inside a tenant.
type Role struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Slug         string     `json:"slug"`
	Description  string     `json:"description,omitempty"`
	Permissions  []string   `json:"permissions"`
	IsSystemRole bool       `json:"is_system_role"`
	IsActive     bool       `json:"is_active"`
	Level        int        `json:"level"`
	Color        string     `json:"color,omitempty"`
	Icon         string     `json:"icon,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// RoleAssignment binds a role to a user within a tenant.
type RoleAssignment struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy *string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
	Notes      string     `json:"notes,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// EffectiveAt reports whether the assignment counts at instant now.
// The active flag alone is not enough: expiry is not materialized until a sweep runs.
func (a RoleAssignment) EffectiveAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// TokenKind distinguishes access from refresh credentials.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Token is the persisted metadata of one issued credential. The raw signed string is never stored.
type Token struct {
	ID                  string
	TenantID            string
	UserID              string
	TokenID             string
	Kind                TokenKind
	TokenHash           string
	DeviceID            string
	DeviceType          string
	IPAddress           string
	UserAgent           string
	Scopes              []string
	PermissionsSnapshot []string
	IsActive            bool
	IsRevoked           bool
	IsBlacklisted       bool
	ExpiresAt           time.Time
	LastUsedAt          *time.Time
	RevokedAt           *time.Time
	RevokedBy           string
	RevokeReason        string
	CreatedAt           time.Time
}

// rejection returns the reason the record is not valid at now, or "" when it is valid.
// Blacklisting takes precedence over every other check.
func (t Token) rejection(now time.Time) string {
	switch {
	case t.IsBlacklisted:
		return reasonBlacklisted
	case t.IsRevoked:
		return reasonRevoked
	case !t.IsActive:
		return reasonInactive
	case !t.ExpiresAt.After(now):
		return reasonExpired
	}
	return ""
}

// ValidAt reports whether the record passes every validity condition at now.
func (t Token) ValidAt(now time.Time) bool {
	return t.rejection(now) == ""
}

// Revocation describes who ended a token and why.
type Revocation struct {
	By     string
	Reason string
	At     time.Time
}

// TokenSelector picks the tokens affected by a bulk revocation. Empty fields do not filter.
type TokenSelector struct {
	UserID   string
	DeviceID string
}

// RevokedToken identifies a token that a bulk revocation ended.
type RevokedToken struct {
	TokenHash string
	ExpiresAt time.Time
}
