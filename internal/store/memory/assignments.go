package memory

import (
	"context"
	"sort"
	"time"

	"dinehub.org/internal/auth"
)

// InsertAssignment implements auth.AssignmentRepository.
func (s *Store) InsertAssignment(_ context.Context, a *auth.RoleAssignment, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(*a, now)
}

func (s *Store) insertLocked(a auth.RoleAssignment, now time.Time) error {
	for id, cur := range s.assignments {
		if !cur.IsActive || cur.TenantID != a.TenantID || cur.UserID != a.UserID || cur.RoleID != a.RoleID {
			continue
		}
		if cur.EffectiveAt(now) {
			return auth.ErrAlreadyAssigned
		}
		// Active but expired: retire it so the new row can take its place.
		s.assignments[id] = deactivate(cur, now)
	}
	s.assignments[a.ID] = cloneAssignment(a)
	return nil
}

// DeactivateAssignments implements auth.AssignmentRepository.
func (s *Store) DeactivateAssignments(_ context.Context, tenantID, userID, roleID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(tenantID, userID, roleID, now), nil
}

func (s *Store) deactivateLocked(tenantID, userID, roleID string, now time.Time) int64 {
	var n int64
	for id, cur := range s.assignments {
		if cur.TenantID != tenantID || cur.UserID != userID || !cur.EffectiveAt(now) {
			continue
		}
		if roleID != "" && cur.RoleID != roleID {
			continue
		}
		s.assignments[id] = deactivate(cur, now)
		n++
	}
	return n
}

// ReplaceAssignments implements auth.AssignmentRepository. Readers never see a partial swap.
func (s *Store) ReplaceAssignments(_ context.Context, tenantID, userID string, next []*auth.RoleAssignment, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked(tenantID, userID, "", now)
	for _, a := range next {
		if err := s.insertLocked(*a, now); err != nil {
			return err
		}
	}
	return nil
}

// ListEffectiveAssignments implements auth.AssignmentRepository.
func (s *Store) ListEffectiveAssignments(_ context.Context, tenantID, userID string, now time.Time) ([]auth.RoleAssignment, error) {
	return s.filter(func(a auth.RoleAssignment) bool {
		return a.TenantID == tenantID && a.UserID == userID && a.EffectiveAt(now)
	}), nil
}

// ListAssignmentHistory implements auth.AssignmentRepository.
func (s *Store) ListAssignmentHistory(_ context.Context, tenantID, userID string) ([]auth.RoleAssignment, error) {
	return s.filter(func(a auth.RoleAssignment) bool {
		return a.TenantID == tenantID && a.UserID == userID
	}), nil
}

// ListAssignmentsExpiringBetween implements auth.AssignmentRepository.
func (s *Store) ListAssignmentsExpiringBetween(_ context.Context, tenantID string, from, to time.Time) ([]auth.RoleAssignment, error) {
	return s.filter(func(a auth.RoleAssignment) bool {
		return a.TenantID == tenantID && a.IsActive && a.ExpiresAt != nil &&
			a.ExpiresAt.After(from) && !a.ExpiresAt.After(to)
	}), nil
}

// ListExpiredAssignments implements auth.AssignmentRepository.
func (s *Store) ListExpiredAssignments(_ context.Context, tenantID string, now time.Time) ([]auth.RoleAssignment, error) {
	return s.filter(func(a auth.RoleAssignment) bool {
		return a.TenantID == tenantID && a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
	}), nil
}

// SweepExpiredAssignments implements auth.AssignmentRepository.
func (s *Store) SweepExpiredAssignments(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.assignments {
		if a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			s.assignments[id] = deactivate(a, now)
			n++
		}
	}
	return n, nil
}

// filter returns matching rows, newest assignment first.
func (s *Store) filter(keep func(auth.RoleAssignment) bool) []auth.RoleAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.RoleAssignment, 0)
	for _, a := range s.assignments {
		if keep(a) {
			out = append(out, cloneAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.After(out[j].AssignedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func deactivate(a auth.RoleAssignment, now time.Time) auth.RoleAssignment {
	a.IsActive = false
	at := now
	a.RevokedAt = &at
	return a
}

func cloneAssignment(a auth.RoleAssignment) auth.RoleAssignment {
	if a.AssignedBy != nil {
		v := *a.AssignedBy
		a.AssignedBy = &v
	}
	if a.ExpiresAt != nil {
		v := *a.ExpiresAt
		a.ExpiresAt = &v
	}
	if a.RevokedAt != nil {
		v := *a.RevokedAt
		a.RevokedAt = &v
	}
	return a
}
