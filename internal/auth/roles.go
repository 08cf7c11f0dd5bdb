package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dinehub.org/internal/ids"
	"dinehub.org/internal/obs"
	"dinehub.org/internal/slug"
)

const (
	minRoleLevel  = 1
	maxRoleLevel  = 100
	maxSlugLength = 64
)

// RoleInput describes a role to create.
type RoleInput struct {
	Name        string
	Slug        string
	Description string
	Permissions []string
	Level       int
	Color       string
	Icon        string
}

// RoleUpdate changes display and ordering attributes. Nil fields are left alone.
type RoleUpdate struct {
	Name        *string
	Description *string
	Level       *int
	Color       *string
	Icon        *string
	IsActive    *bool
}

// RoleStore validates and persists tenant roles.
type RoleStore struct {
	repo    RoleRepository
	catalog *Catalog
	audit   AuditLogger
	log     zerolog.Logger
	now     func() time.Time
	strict  bool
}

// RoleStoreOption configures a RoleStore.
type RoleStoreOption func(*RoleStore)

// WithStrictPermissions rejects writes containing unknown permissions instead of dropping them.
func WithStrictPermissions(strict bool) RoleStoreOption {
	return func(s *RoleStore) { s.strict = strict }
}

// WithRoleAudit records role changes.
func WithRoleAudit(a AuditLogger) RoleStoreOption {
	return func(s *RoleStore) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithRoleLogger overrides the logger.
func WithRoleLogger(l zerolog.Logger) RoleStoreOption {
	return func(s *RoleStore) { s.log = l }
}

// WithRoleClock overrides the time source.
func WithRoleClock(fn func() time.Time) RoleStoreOption {
	return func(s *RoleStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewRoleStore wires a RoleStore over repo. A nil catalog means DefaultCatalog.
func NewRoleStore(repo RoleRepository, catalog *Catalog, opts ...RoleStoreOption) *RoleStore {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &RoleStore{
		repo:    repo,
		catalog: catalog,
		audit:   nopAudit{},
		log:     obs.Logger().With().Str("component", "roles").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog exposes the permission catalog used for validation.
func (s *RoleStore) Catalog() *Catalog { return s.catalog }

// Create validates and stores a new role.
func (s *RoleStore) Create(ctx context.Context, tenantID string, in RoleInput) (Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Role{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	roleSlug := strings.TrimSpace(in.Slug)
	if roleSlug == "" {
		roleSlug = name
	}
	roleSlug = slug.Make(roleSlug, slug.MaxLength(maxSlugLength))
	if roleSlug == "" {
		return Role{}, fmt.Errorf("%w: role slug is empty", ErrInvalidInput)
	}
	level, err := normalizeLevel(in.Level)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.sanitize(ctx, tenantID, roleSlug, in.Permissions)
	if err != nil {
		return Role{}, err
	}

	// The repository's unique constraint is the real guard; this only avoids a wasted insert.
	exists, err := s.repo.SlugExists(ctx, tenantID, roleSlug)
	if err != nil {
		return Role{}, err
	}
	if exists {
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateSlug, roleSlug)
	}

	now := s.now().UTC()
	role := Role{
		ID:          ids.New(),
		TenantID:    tenantID,
		Name:        name,
		Slug:        roleSlug,
		Description: strings.TrimSpace(in.Description),
		Permissions: perms,
		IsActive:    true,
		Level:       level,
		Color:       strings.TrimSpace(in.Color),
		Icon:        strings.TrimSpace(in.Icon),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateRole(ctx, &role); err != nil {
		return Role{}, err
	}
	_ = s.audit.LogEvent(ctx, "role.created", map[string]any{
		"tenant_id":   tenantID,
		"role_id":     role.ID,
		"slug":        role.Slug,
		"permissions": role.Permissions,
	})
	return role, nil
}

// Get returns a role of the tenant.
func (s *RoleStore) Get(ctx context.Context, tenantID, id string) (Role, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(id) == "" {
		return Role{}, fmt.Errorf("%w: tenant_id and role_id are required", ErrInvalidInput)
	}
	return s.repo.GetRole(ctx, tenantID, id)
}

// GetBySlug returns a role of the tenant by slug.
func (s *RoleStore) GetBySlug(ctx context.Context, tenantID, roleSlug string) (Role, error) {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if strings.TrimSpace(tenantID) == "" || roleSlug == "" {
		return Role{}, fmt.Errorf("%w: tenant_id and slug are required", ErrInvalidInput)
	}
	return s.repo.GetRoleBySlug(ctx, tenantID, roleSlug)
}

// ListActive returns the tenant's active roles, highest level first.
func (s *RoleStore) ListActive(ctx context.Context, tenantID string) ([]Role, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.repo.ListRoles(ctx, tenantID, RoleFilter{ActiveOnly: true})
}

// ListByLevelRange returns roles whose level lies within [min, max], highest level first.
func (s *RoleStore) ListByLevelRange(ctx context.Context, tenantID string, min, max int) ([]Role, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if min < minRoleLevel || max > maxRoleLevel || min > max {
		return nil, fmt.Errorf("%w: level range must satisfy %d <= min <= max <= %d", ErrInvalidInput, minRoleLevel, maxRoleLevel)
	}
	return s.repo.ListRoles(ctx, tenantID, RoleFilter{MinLevel: min, MaxLevel: max})
}

// SetPermissions replaces the permission set of a role after validation.
func (s *RoleStore) SetPermissions(ctx context.Context, tenantID, id string, permissions []string) (Role, error) {
	role, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.sanitize(ctx, tenantID, role.Slug, permissions)
	if err != nil {
		return Role{}, err
	}
	now := s.now().UTC()
	if err := s.repo.SetRolePermissions(ctx, tenantID, id, perms, now); err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	role.UpdatedAt = now
	_ = s.audit.LogEvent(ctx, "role.permissions.set", map[string]any{
		"tenant_id":   tenantID,
		"role_id":     id,
		"permissions": perms,
	})
	return role, nil
}

// Update changes mutable attributes. System roles cannot be deactivated or re-levelled.
func (s *RoleStore) Update(ctx context.Context, tenantID, id string, upd RoleUpdate) (Role, error) {
	role, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		role.Name = name
	}
	if upd.Description != nil {
		role.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Level != nil {
		level, err := normalizeLevel(*upd.Level)
		if err != nil {
			return Role{}, err
		}
		if role.IsSystemRole && level != role.Level {
			return Role{}, fmt.Errorf("%w: level of %s is fixed", ErrSystemRole, role.Slug)
		}
		role.Level = level
	}
	if upd.Color != nil {
		role.Color = strings.TrimSpace(*upd.Color)
	}
	if upd.Icon != nil {
		role.Icon = strings.TrimSpace(*upd.Icon)
	}
	if upd.IsActive != nil {
		if role.IsSystemRole && !*upd.IsActive {
			return Role{}, fmt.Errorf("%w: %s cannot be deactivated", ErrSystemRole, role.Slug)
		}
		role.IsActive = *upd.IsActive
	}
	role.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// Delete soft-deletes a role. Assignments are left untouched; a deleted role no longer resolves.
func (s *RoleStore) Delete(ctx context.Context, tenantID, id string) error {
	role, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: %s cannot be deleted", ErrSystemRole, role.Slug)
	}
	if err := s.repo.SoftDeleteRole(ctx, tenantID, id, s.now().UTC()); err != nil {
		return err
	}
	_ = s.audit.LogEvent(ctx, "role.deleted", map[string]any{
		"tenant_id": tenantID,
		"role_id":   id,
		"slug":      role.Slug,
	})
	return nil
}

// SeedSystemRoles installs SystemRoles into the tenant, skipping slugs that already exist.
// It returns the roles it created and is safe to run repeatedly.
func (s *RoleStore) SeedSystemRoles(ctx context.Context, tenantID string) ([]Role, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	var created []Role
	for _, sr := range SystemRoles {
		exists, err := s.repo.SlugExists(ctx, tenantID, sr.Slug)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		perms, _ := s.catalog.Sanitize(sr.Permissions)
		now := s.now().UTC()
		role := Role{
			ID:           ids.New(),
			TenantID:     tenantID,
			Name:         sr.Name,
			Slug:         sr.Slug,
			Description:  sr.Description,
			Permissions:  perms,
			IsSystemRole: true,
			IsActive:     true,
			Level:        sr.Level,
			Color:        sr.Color,
			Icon:         sr.Icon,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.CreateRole(ctx, &role); err != nil {
			// A concurrent seeder won the slug.
			if errors.Is(err, ErrDuplicateSlug) {
				continue
			}
			return created, err
		}
		created = append(created, role)
	}
	if len(created) > 0 {
		s.log.Info().Str("tenant_id", tenantID).Int("count", len(created)).Msg("system roles seeded")
		_ = s.audit.LogEvent(ctx, "role.seeded", map[string]any{
			"tenant_id": tenantID,
			"count":     len(created),
		})
	}
	return created, nil
}

func (s *RoleStore) sanitize(ctx context.Context, tenantID, roleSlug string, perms []string) ([]string, error) {
	valid, invalid := s.catalog.Sanitize(perms)
	if len(invalid) == 0 {
		return nonNil(valid), nil
	}
	if s.strict {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPermission, strings.Join(invalid, ", "))
	}
	s.log.Warn().
		Str("tenant_id", tenantID).
		Str("role", roleSlug).
		Strs("dropped", invalid).
		Msg("unknown permissions dropped from role")
	_ = s.audit.LogEvent(ctx, "role.permissions.dropped", map[string]any{
		"tenant_id": tenantID,
		"slug":      roleSlug,
		"dropped":   invalid,
	})
	return nonNil(valid), nil
}

func normalizeLevel(level int) (int, error) {
	if level == 0 {
		return minRoleLevel, nil
	}
	if level < minRoleLevel || level > maxRoleLevel {
		return 0, fmt.Errorf("%w: level must be between %d and %d", ErrInvalidInput, minRoleLevel, maxRoleLevel)
	}
	return level, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
