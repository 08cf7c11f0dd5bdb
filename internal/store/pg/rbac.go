package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dinehub.org/internal/auth"
)

const roleColumns = `id, tenant_id, name, slug, description, permissions, is_system_role, is_active, level, color, icon, created_at, updated_at, deleted_at`

func scanRole(row scanner) (auth.Role, error) {
	var (
		role              auth.Role
		desc, color, icon sql.NullString
		perms             []byte
		deleted           sql.NullTime
	)
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &role.Slug, &desc, &perms, &role.IsSystemRole,
		&role.IsActive, &role.Level, &color, &icon, &role.CreatedAt, &role.UpdatedAt, &deleted); err != nil {
		return auth.Role{}, err
	}
	list, err := decodeList(perms)
	if err != nil {
		return auth.Role{}, fmt.Errorf("decode role permissions: %w", err)
	}
	role.Permissions = list
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	role.Description = desc.String
	role.Color = color.String
	role.Icon = icon.String
	role.DeletedAt = timePtr(deleted)
	return role, nil
}

// CreateRole implements auth.RoleRepository.
func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	perms, err := encodeList(role.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (id, tenant_id, name, slug, description, permissions, is_system_role, is_active, level, color, icon, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, role.ID, role.TenantID, role.Name, role.Slug, nullIfEmpty(role.Description), perms, role.IsSystemRole,
		role.IsActive, role.Level, nullIfEmpty(role.Color), nullIfEmpty(role.Icon), role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", auth.ErrDuplicateSlug, role.Slug)
		}
		return err
	}
	return nil
}

// GetRole implements auth.RoleRepository.
func (s *Store) GetRole(ctx context.Context, tenantID, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where tenant_id = $1 and id = $2 and deleted_at is null`, tenantID, id)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

// GetRoleBySlug implements auth.RoleRepository.
func (s *Store) GetRoleBySlug(ctx context.Context, tenantID, slug string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where tenant_id = $1 and slug = $2 and deleted_at is null`, tenantID, slug)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

// SlugExists implements auth.RoleRepository.
func (s *Store) SlugExists(ctx context.Context, tenantID, slug string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from roles where tenant_id = $1 and slug = $2)`, tenantID, slug).Scan(&exists)
	return exists, err
}

// ListRoles implements auth.RoleRepository.
func (s *Store) ListRoles(ctx context.Context, tenantID string, filter auth.RoleFilter) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	where := []string{"tenant_id = $1", "deleted_at is null"}
	args := []any{tenantID}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	if filter.MinLevel > 0 {
		args = append(args, filter.MinLevel)
		where = append(where, fmt.Sprintf("level >= $%d", len(args)))
	}
	if filter.MaxLevel > 0 {
		args = append(args, filter.MaxLevel)
		where = append(where, fmt.Sprintf("level <= $%d", len(args)))
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles where `+strings.Join(where, " and ")+` order by level desc, id asc`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]auth.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// UpdateRole implements auth.RoleRepository.
func (s *Store) UpdateRole(ctx context.Context, role auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $3, description = $4, level = $5, color = $6, icon = $7, is_active = $8, updated_at = $9
		where tenant_id = $1 and id = $2 and deleted_at is null
	`, role.TenantID, role.ID, role.Name, nullIfEmpty(role.Description), role.Level, nullIfEmpty(role.Color),
		nullIfEmpty(role.Icon), role.IsActive, role.UpdatedAt)
	return expectOne(res, err)
}

// SetRolePermissions implements auth.RoleRepository.
func (s *Store) SetRolePermissions(ctx context.Context, tenantID, id string, perms []string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	encoded, err := encodeList(perms)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update roles set permissions = $3, updated_at = $4
		where tenant_id = $1 and id = $2 and deleted_at is null
	`, tenantID, id, encoded, at)
	return expectOne(res, err)
}

// SoftDeleteRole implements auth.RoleRepository.
func (s *Store) SoftDeleteRole(ctx context.Context, tenantID, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update roles set deleted_at = $3, is_active = false, updated_at = $3
		where tenant_id = $1 and id = $2 and deleted_at is null
	`, tenantID, id, at)
	return expectOne(res, err)
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
