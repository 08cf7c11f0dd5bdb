package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"dinehub.org/internal/auth"
)

// GetUser implements auth.UserDirectory.
func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, tenant_id, email, password_hash, status, created_at
		from users where id = $1
	`, id))
}

// FindUserByEmail implements auth.UserDirectory.
func (s *Store) FindUserByEmail(ctx context.Context, tenantID, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, tenant_id, email, password_hash, status, created_at
		from users where tenant_id = $1 and lower(email) = $2
	`, tenantID, strings.ToLower(strings.TrimSpace(email))))
}

func scanUser(row scanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}
