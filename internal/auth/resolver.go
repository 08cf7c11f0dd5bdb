package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PermissionSet is a flat, expanded set of catalog keys.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from already expanded keys.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Has reports exact membership.
func (p PermissionSet) Has(perm string) bool {
	_, ok := p[perm]
	return ok
}

// Sorted returns the keys in ascending order.
func (p PermissionSet) Sorted() []string {
	return sortedKeys(map[string]struct{}(p))
}

// Resolver expands role assignments into effective permissions.
type Resolver struct {
	catalog     *Catalog
	roles       RoleRepository
	assignments *AssignmentStore
}

// NewResolver wires a Resolver. A nil catalog means DefaultCatalog.
func NewResolver(catalog *Catalog, roles RoleRepository, assignments *AssignmentStore) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Resolver{catalog: catalog, roles: roles, assignments: assignments}
}

// EffectiveRoles returns the active roles behind the user's effective assignments,
// highest level first and lowest id first within a level.
func (r *Resolver) EffectiveRoles(ctx context.Context, tenantID, userID string) ([]Role, error) {
	assignments, err := r.assignments.ListEffective(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(assignments))
	seen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		role, err := r.roles.GetRole(ctx, tenantID, a.RoleID)
		if err != nil {
			// Soft-deleted roles disappear from lookups but keep their assignment rows.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load role %s: %w", a.RoleID, err)
		}
		if !role.IsActive || role.TenantID != tenantID {
			continue
		}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].ID < roles[j].ID
	})
	return roles, nil
}

// ResolvePermissions returns the union of the expanded permissions of every effective role.
func (r *Resolver) ResolvePermissions(ctx context.Context, tenantID, userID string) (PermissionSet, error) {
	roles, err := r.EffectiveRoles(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return r.expand(roles), nil
}

// expand resolves the permission entries of roles against the catalog.
func (r *Resolver) expand(roles []Role) PermissionSet {
	set := make(PermissionSet)
	for _, role := range roles {
		for _, p := range role.Permissions {
			if p == Wildcard {
				return NewPermissionSet(r.catalog.Keys()...)
			}
		}
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			for _, key := range r.catalog.ExpandWildcard(p) {
				set[key] = struct{}{}
			}
		}
	}
	return set
}

// PrimaryRole returns the effective role with the highest level.
func (r *Resolver) PrimaryRole(ctx context.Context, tenantID, userID string) (Role, error) {
	roles, err := r.EffectiveRoles(ctx, tenantID, userID)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("%w: user has no effective role", ErrNotFound)
	}
	return roles[0], nil
}

// Snapshot returns the role slugs and sorted permissions embedded into the user's tokens.
func (r *Resolver) Snapshot(ctx context.Context, user User) ([]string, []string, error) {
	roles, err := r.EffectiveRoles(ctx, user.TenantID, user.ID)
	if err != nil {
		return nil, nil, err
	}
	slugs := make([]string, len(roles))
	for i, role := range roles {
		slugs[i] = role.Slug
	}
	return slugs, r.expand(roles).Sorted(), nil
}

// HasPermission is an exact membership test against a resolved set.
func HasPermission(set PermissionSet, perm string) bool {
	return set.Has(strings.TrimSpace(strings.ToLower(perm)))
}

// Authorize checks perm against the snapshot carried by claims.
// The error never names the missing permission.
func Authorize(claims *Claims, perm string) error {
	if claims == nil || !claims.HasPermission(perm) {
		return ErrPermissionDenied
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
