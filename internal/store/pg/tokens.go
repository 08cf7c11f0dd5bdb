package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dinehub.org/internal/auth"
)

const tokenColumns = `id, tenant_id, user_id, token_id, kind, token_hash, device_id, device_type, ip_address, user_agent,
	scopes, permissions_snapshot, is_active, is_revoked, is_blacklisted, expires_at, last_used_at, revoked_at,
	revoked_by, revoke_reason, created_at`

func scanToken(row scanner) (auth.Token, error) {
	var (
		t                                        auth.Token
		kind                                     string
		deviceID, deviceType, ip, ua, by, reason sql.NullString
		scopes, perms                            []byte
		lastUsed, revokedAt                      sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.TenantID, &t.UserID, &t.TokenID, &kind, &t.TokenHash, &deviceID, &deviceType, &ip, &ua,
		&scopes, &perms, &t.IsActive, &t.IsRevoked, &t.IsBlacklisted, &t.ExpiresAt, &lastUsed, &revokedAt,
		&by, &reason, &t.CreatedAt); err != nil {
		return auth.Token{}, err
	}
	var err error
	if t.Scopes, err = decodeList(scopes); err != nil {
		return auth.Token{}, fmt.Errorf("decode token scopes: %w", err)
	}
	if t.PermissionsSnapshot, err = decodeList(perms); err != nil {
		return auth.Token{}, fmt.Errorf("decode token permissions: %w", err)
	}
	t.Kind = auth.TokenKind(kind)
	t.DeviceID = deviceID.String
	t.DeviceType = deviceType.String
	t.IPAddress = ip.String
	t.UserAgent = ua.String
	t.RevokedBy = by.String
	t.RevokeReason = reason.String
	t.LastUsedAt = timePtr(lastUsed)
	t.RevokedAt = timePtr(revokedAt)
	return t, nil
}

// CreateToken implements auth.TokenRepository.
func (s *Store) CreateToken(ctx context.Context, t *auth.Token) error {
	if s.db == nil {
		return errNoDB
	}
	scopes, err := encodeList(t.Scopes)
	if err != nil {
		return err
	}
	perms, err := encodeList(t.PermissionsSnapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into auth_tokens (id, tenant_id, user_id, token_id, kind, token_hash, device_id, device_type, ip_address,
			user_agent, scopes, permissions_snapshot, is_active, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.TenantID, t.UserID, t.TokenID, string(t.Kind), t.TokenHash, nullIfEmpty(t.DeviceID), nullIfEmpty(t.DeviceType),
		nullIfEmpty(t.IPAddress), nullIfEmpty(t.UserAgent), scopes, perms, t.IsActive, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pg: token already stored: %w", err)
		}
		return err
	}
	return nil
}

// FindTokenByHash implements auth.TokenRepository.
func (s *Store) FindTokenByHash(ctx context.Context, hash string) (auth.Token, error) {
	if s.db == nil {
		return auth.Token{}, errNoDB
	}
	t, err := scanToken(s.db.QueryRowContext(ctx, `select `+tokenColumns+` from auth_tokens where token_hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Token{}, auth.ErrNotFound
	}
	return t, err
}

// TouchToken implements auth.TokenRepository.
func (s *Store) TouchToken(ctx context.Context, hash string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update auth_tokens set last_used_at = $2 where token_hash = $1`, hash, at)
	return expectOne(res, err)
}

// RevokeToken implements auth.TokenRepository as a single conditional update,
// so exactly one of any number of concurrent callers sees a row change.
func (s *Store) RevokeToken(ctx context.Context, hash string, rev auth.Revocation) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update auth_tokens
		set is_revoked = true, is_active = false, revoked_at = $2, revoked_by = $3, revoke_reason = $4
		where token_hash = $1 and is_active and not is_revoked and not is_blacklisted
	`, hash, rev.At, nullIfEmpty(rev.By), nullIfEmpty(rev.Reason))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeTokens implements auth.TokenRepository.
func (s *Store) RevokeTokens(ctx context.Context, tenantID string, sel auth.TokenSelector, rev auth.Revocation) ([]auth.RevokedToken, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		update auth_tokens
		set is_revoked = true, is_active = false, revoked_at = $2, revoked_by = $3, revoke_reason = $4
		where tenant_id = $1 and is_active and not is_revoked and not is_blacklisted
		and ($5::text = '' or user_id = $5) and ($6::text = '' or device_id = $6)
		returning token_hash, expires_at
	`, tenantID, rev.At, nullIfEmpty(rev.By), nullIfEmpty(rev.Reason), sel.UserID, sel.DeviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RevokedToken
	for rows.Next() {
		var r auth.RevokedToken
		if err := rows.Scan(&r.TokenHash, &r.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BlacklistToken implements auth.TokenRepository. An earlier revocation keeps its actor and reason.
func (s *Store) BlacklistToken(ctx context.Context, hash string, rev auth.Revocation) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update auth_tokens
		set is_blacklisted = true, is_active = false,
			revoked_by = case when revoked_at is null then $3 else revoked_by end,
			revoke_reason = case when revoked_at is null then $4 else revoke_reason end,
			revoked_at = coalesce(revoked_at, $2)
		where token_hash = $1
	`, hash, rev.At, nullIfEmpty(rev.By), nullIfEmpty(rev.Reason))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpiredTokens implements auth.TokenRepository.
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from auth_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// DeleteRevokedTokens implements auth.TokenRepository.
func (s *Store) DeleteRevokedTokens(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from auth_tokens where (is_revoked or is_blacklisted) and revoked_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return affected(res)
}
