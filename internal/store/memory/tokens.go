package memory

import (
	"context"
	"fmt"
	"time"

	"dinehub.org/internal/auth"
)

// CreateToken implements auth.TokenRepository.
func (s *Store) CreateToken(_ context.Context, t *auth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.TokenHash]; ok {
		return fmt.Errorf("memory: token hash already stored")
	}
	for _, cur := range s.tokens {
		if cur.TokenID == t.TokenID {
			return fmt.Errorf("memory: token id already stored")
		}
	}
	s.tokens[t.TokenHash] = cloneToken(*t)
	return nil
}

// FindTokenByHash implements auth.TokenRepository.
func (s *Store) FindTokenByHash(_ context.Context, hash string) (auth.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return auth.Token{}, auth.ErrNotFound
	}
	return cloneToken(t), nil
}

// TouchToken implements auth.TokenRepository.
func (s *Store) TouchToken(_ context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return auth.ErrNotFound
	}
	t.LastUsedAt = &at
	s.tokens[hash] = t
	return nil
}

// RevokeToken implements auth.TokenRepository.
func (s *Store) RevokeToken(_ context.Context, hash string, rev auth.Revocation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok || !t.IsActive || t.IsRevoked || t.IsBlacklisted {
		return false, nil
	}
	s.tokens[hash] = revoke(t, rev)
	return true, nil
}

// RevokeTokens implements auth.TokenRepository.
func (s *Store) RevokeTokens(_ context.Context, tenantID string, sel auth.TokenSelector, rev auth.Revocation) ([]auth.RevokedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.RevokedToken
	for hash, t := range s.tokens {
		if t.TenantID != tenantID || !t.IsActive || t.IsRevoked || t.IsBlacklisted {
			continue
		}
		if sel.UserID != "" && t.UserID != sel.UserID {
			continue
		}
		if sel.DeviceID != "" && t.DeviceID != sel.DeviceID {
			continue
		}
		s.tokens[hash] = revoke(t, rev)
		out = append(out, auth.RevokedToken{TokenHash: hash, ExpiresAt: t.ExpiresAt})
	}
	return out, nil
}

// BlacklistToken implements auth.TokenRepository.
func (s *Store) BlacklistToken(_ context.Context, hash string, rev auth.Revocation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return false, nil
	}
	t.IsBlacklisted = true
	t.IsActive = false
	// The first revocation keeps its actor and reason.
	if t.RevokedAt == nil {
		at := rev.At
		t.RevokedAt = &at
		t.RevokedBy = rev.By
		t.RevokeReason = rev.Reason
	}
	s.tokens[hash] = t
	return true, nil
}

// DeleteExpiredTokens implements auth.TokenRepository.
func (s *Store) DeleteExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

// DeleteRevokedTokens implements auth.TokenRepository.
func (s *Store) DeleteRevokedTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.tokens {
		if (t.IsRevoked || t.IsBlacklisted) && t.RevokedAt != nil && t.RevokedAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func revoke(t auth.Token, rev auth.Revocation) auth.Token {
	t.IsRevoked = true
	t.IsActive = false
	at := rev.At
	t.RevokedAt = &at
	t.RevokedBy = rev.By
	t.RevokeReason = rev.Reason
	return t
}

func cloneToken(t auth.Token) auth.Token {
	t.Scopes = append([]string(nil), t.Scopes...)
	t.PermissionsSnapshot = append([]string(nil), t.PermissionsSnapshot...)
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		t.LastUsedAt = &v
	}
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		t.RevokedAt = &v
	}
	return t
}
