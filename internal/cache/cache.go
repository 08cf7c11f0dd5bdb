// Package cache holds deny-list implementations of auth.RevocationCache.
// Entries only ever deny: a miss always falls through to the token store.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const keyPrefix = "authz:revoked:"

// Key returns the cache key of a token hash.
func Key(hash string) string {
	return keyPrefix + hash
}

// Memory is an in-process deny list. Entries vanish with the token's natural expiry.
type Memory struct {
	items *gocache.Cache
}

// NewMemory returns an in-process cache purging expired entries every cleanup interval.
func NewMemory(cleanup time.Duration) *Memory {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Memory{items: gocache.New(gocache.NoExpiration, cleanup)}
}

// MarkRevoked implements auth.RevocationCache.
func (m *Memory) MarkRevoked(_ context.Context, hash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.items.Set(Key(hash), struct{}{}, ttl)
	return nil
}

// IsRevoked implements auth.RevocationCache.
func (m *Memory) IsRevoked(_ context.Context, hash string) (bool, error) {
	_, ok := m.items.Get(Key(hash))
	return ok, nil
}

// Len returns the number of unexpired entries.
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
