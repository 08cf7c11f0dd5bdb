// Package memory implements the auth repositories in process memory. One mutex guards
// every table, which makes each conditional update atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dinehub.org/internal/auth"
)

// Store is an in-process implementation of every auth repository and the user directory.
type Store struct {
	mu          sync.Mutex
	roles       map[string]auth.Role
	assignments map[string]auth.RoleAssignment
	tokens      map[string]auth.Token // keyed by token hash
	users       map[string]auth.User
}

var (
	_ auth.RoleRepository       = (*Store)(nil)
	_ auth.AssignmentRepository = (*Store)(nil)
	_ auth.TokenRepository      = (*Store)(nil)
	_ auth.UserDirectory        = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		roles:       make(map[string]auth.Role),
		assignments: make(map[string]auth.RoleAssignment),
		tokens:      make(map[string]auth.Token),
		users:       make(map[string]auth.User),
	}
}

// PutUser inserts or replaces a directory entry.
func (s *Store) PutUser(u auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users[u.ID] = u
}

// GetUser implements auth.UserDirectory.
func (s *Store) GetUser(_ context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

// FindUserByEmail implements auth.UserDirectory.
func (s *Store) FindUserByEmail(_ context.Context, tenantID, email string) (auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateRole implements auth.RoleRepository.
func (s *Store) CreateRole(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.TenantID == role.TenantID && r.Slug == role.Slug {
			return fmt.Errorf("%w: %s", auth.ErrDuplicateSlug, role.Slug)
		}
	}
	s.roles[role.ID] = cloneRole(*role)
	return nil
}

// GetRole implements auth.RoleRepository.
func (s *Store) GetRole(_ context.Context, tenantID, id string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok || r.TenantID != tenantID || r.DeletedAt != nil {
		return auth.Role{}, auth.ErrNotFound
	}
	return cloneRole(r), nil
}

// GetRoleBySlug implements auth.RoleRepository.
func (s *Store) GetRoleBySlug(_ context.Context, tenantID, slug string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.TenantID == tenantID && r.Slug == slug && r.DeletedAt == nil {
			return cloneRole(r), nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

// SlugExists implements auth.RoleRepository.
func (s *Store) SlugExists(_ context.Context, tenantID, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.TenantID == tenantID && r.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// ListRoles implements auth.RoleRepository.
func (s *Store) ListRoles(_ context.Context, tenantID string, filter auth.RoleFilter) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Role, 0)
	for _, r := range s.roles {
		if r.TenantID != tenantID || r.DeletedAt != nil {
			continue
		}
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		if filter.MinLevel > 0 && r.Level < filter.MinLevel {
			continue
		}
		if filter.MaxLevel > 0 && r.Level > filter.MaxLevel {
			continue
		}
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateRole implements auth.RoleRepository. Slug, permissions and system flag are not touched.
func (s *Store) UpdateRole(_ context.Context, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[role.ID]
	if !ok || cur.TenantID != role.TenantID || cur.DeletedAt != nil {
		return auth.ErrNotFound
	}
	cur.Name = role.Name
	cur.Description = role.Description
	cur.Level = role.Level
	cur.Color = role.Color
	cur.Icon = role.Icon
	cur.IsActive = role.IsActive
	cur.UpdatedAt = role.UpdatedAt
	s.roles[role.ID] = cur
	return nil
}

// SetRolePermissions implements auth.RoleRepository.
func (s *Store) SetRolePermissions(_ context.Context, tenantID, id string, perms []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[id]
	if !ok || cur.TenantID != tenantID || cur.DeletedAt != nil {
		return auth.ErrNotFound
	}
	cur.Permissions = append([]string(nil), perms...)
	cur.UpdatedAt = at
	s.roles[id] = cur
	return nil
}

// SoftDeleteRole implements auth.RoleRepository.
func (s *Store) SoftDeleteRole(_ context.Context, tenantID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[id]
	if !ok || cur.TenantID != tenantID || cur.DeletedAt != nil {
		return auth.ErrNotFound
	}
	cur.DeletedAt = &at
	cur.IsActive = false
	cur.UpdatedAt = at
	s.roles[id] = cur
	return nil
}

func cloneRole(r auth.Role) auth.Role {
	r.Permissions = append([]string(nil), r.Permissions...)
	if r.DeletedAt != nil {
		at := *r.DeletedAt
		r.DeletedAt = &at
	}
	return r
}
