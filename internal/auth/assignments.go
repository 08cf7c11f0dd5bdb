package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dinehub.org/internal/ids"
	"dinehub.org/internal/obs"
)

// AssignOptions carries the optional attributes of a new assignment.
// A non-empty AssignedBy is the acting user and must outrank the role.
type AssignOptions struct {
	AssignedBy string
	ExpiresAt  *time.Time
	Notes      string
}

// AssignmentStore manages user to role bindings inside a tenant.
type AssignmentStore struct {
	repo  AssignmentRepository
	roles RoleRepository
	audit AuditLogger
	log   zerolog.Logger
	now   func() time.Time
}

// AssignmentStoreOption configures an AssignmentStore.
type AssignmentStoreOption func(*AssignmentStore)

// WithAssignmentAudit records assignment changes.
func WithAssignmentAudit(a AuditLogger) AssignmentStoreOption {
	return func(s *AssignmentStore) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithAssignmentClock overrides the time source.
func WithAssignmentClock(fn func() time.Time) AssignmentStoreOption {
	return func(s *AssignmentStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAssignmentLogger overrides the logger.
func WithAssignmentLogger(l zerolog.Logger) AssignmentStoreOption {
	return func(s *AssignmentStore) { s.log = l }
}

// NewAssignmentStore wires an AssignmentStore.
func NewAssignmentStore(repo AssignmentRepository, roles RoleRepository, opts ...AssignmentStoreOption) *AssignmentStore {
	s := &AssignmentStore{
		repo:  repo,
		roles: roles,
		audit: nopAudit{},
		log:   obs.Logger().With().Str("component", "assignments").Logger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assign grants roleID to userID. It fails with ErrAlreadyAssigned when an effective
// assignment already exists, including when a concurrent call wins the race.
func (s *AssignmentStore) Assign(ctx context.Context, tenantID, userID, roleID string, opts AssignOptions) (string, error) {
	if err := requireIDs(tenantID, userID, roleID); err != nil {
		return "", err
	}
	now := s.now().UTC()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return "", fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	role, err := s.checkRole(ctx, tenantID, roleID)
	if err != nil {
		return "", err
	}
	if err := s.checkGrant(ctx, tenantID, opts.AssignedBy, now, role); err != nil {
		return "", err
	}
	a := s.newAssignment(tenantID, userID, roleID, opts, now)
	if err := s.repo.InsertAssignment(ctx, a, now); err != nil {
		return "", err
	}
	_ = s.audit.LogEvent(ctx, "role.assigned", map[string]any{
		"tenant_id":     tenantID,
		"user_id":       userID,
		"role_id":       roleID,
		"assignment_id": a.ID,
		"assigned_by":   opts.AssignedBy,
	})
	return a.ID, nil
}

// Revoke deactivates the effective assignment of roleID to userID.
// A non-empty revokedBy must outrank the role.
func (s *AssignmentStore) Revoke(ctx context.Context, tenantID, userID, roleID, revokedBy string) error {
	if err := requireIDs(tenantID, userID, roleID); err != nil {
		return err
	}
	now := s.now().UTC()
	if strings.TrimSpace(revokedBy) != "" {
		role, err := s.roles.GetRole(ctx, tenantID, roleID)
		switch {
		case err == nil:
			if err := s.checkGrant(ctx, tenantID, revokedBy, now, role); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	n, err := s.repo.DeactivateAssignments(ctx, tenantID, userID, roleID, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotAssigned
	}
	_ = s.audit.LogEvent(ctx, "role.revoked", map[string]any{
		"tenant_id": tenantID,
		"user_id":   userID,
		"role_id":   roleID,
		"by":        revokedBy,
	})
	return nil
}

// ReplaceAll swaps every effective assignment of the user for roleIDs.
// Duplicate ids are collapsed; an empty list only revokes. A non-empty assignedBy
// must outrank both the roles granted and the roles taken away.
func (s *AssignmentStore) ReplaceAll(ctx context.Context, tenantID, userID string, roleIDs []string, assignedBy string) ([]string, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: tenant_id and user_id are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	seen := make(map[string]struct{}, len(roleIDs))
	next := make([]*RoleAssignment, 0, len(roleIDs))
	var touched []Role
	for _, roleID := range roleIDs {
		roleID = strings.TrimSpace(roleID)
		if roleID == "" {
			continue
		}
		if _, ok := seen[roleID]; ok {
			continue
		}
		seen[roleID] = struct{}{}
		role, err := s.checkRole(ctx, tenantID, roleID)
		if err != nil {
			return nil, err
		}
		touched = append(touched, role)
		next = append(next, s.newAssignment(tenantID, userID, roleID, AssignOptions{AssignedBy: assignedBy}, now))
	}
	if strings.TrimSpace(assignedBy) != "" {
		current, err := s.effectiveRoles(ctx, tenantID, userID, now)
		if err != nil {
			return nil, err
		}
		if err := s.checkGrant(ctx, tenantID, assignedBy, now, append(touched, current...)...); err != nil {
			return nil, err
		}
	}
	if err := s.repo.ReplaceAssignments(ctx, tenantID, userID, next, now); err != nil {
		return nil, err
	}
	out := make([]string, len(next))
	for i, a := range next {
		out[i] = a.ID
	}
	_ = s.audit.LogEvent(ctx, "role.replaced", map[string]any{
		"tenant_id":   tenantID,
		"user_id":     userID,
		"role_ids":    sortedKeys(seen),
		"assigned_by": assignedBy,
	})
	return out, nil
}

// ListEffective returns assignments that are active and not expired.
func (s *AssignmentStore) ListEffective(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: tenant_id and user_id are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	rows, err := s.repo.ListEffectiveAssignments(ctx, tenantID, userID, now)
	if err != nil {
		return nil, err
	}
	// Repositories filter already; repeat the predicate so a lax implementation cannot leak stale rows.
	out := rows[:0]
	for _, a := range rows {
		if a.EffectiveAt(now) && a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

// History returns every assignment row of the user, newest first.
func (s *AssignmentStore) History(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: tenant_id and user_id are required", ErrInvalidInput)
	}
	return s.repo.ListAssignmentHistory(ctx, tenantID, userID)
}

// SweepExpired deactivates assignments whose expiry has passed, across all tenants.
func (s *AssignmentStore) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.SweepExpiredAssignments(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("expired role assignments deactivated")
	}
	return n, nil
}

// ListExpiringSoon returns effective assignments that expire within the next withinDays days.
func (s *AssignmentStore) ListExpiringSoon(ctx context.Context, tenantID string, withinDays int) ([]RoleAssignment, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if withinDays <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	now := s.now().UTC()
	return s.repo.ListAssignmentsExpiringBetween(ctx, tenantID, now, now.AddDate(0, 0, withinDays))
}

// ListExpired returns assignments still flagged active whose expiry has passed.
func (s *AssignmentStore) ListExpired(ctx context.Context, tenantID string) ([]RoleAssignment, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	return s.repo.ListExpiredAssignments(ctx, tenantID, s.now().UTC())
}

func (s *AssignmentStore) checkRole(ctx context.Context, tenantID, roleID string) (Role, error) {
	role, err := s.roles.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return Role{}, err
	}
	if !role.IsActive {
		return Role{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Slug)
	}
	return role, nil
}

// checkGrant fails with ErrPermissionDenied unless actorID holds "*" or its highest
// effective level is strictly above every target level. An empty actor is a trusted caller.
func (s *AssignmentStore) checkGrant(ctx context.Context, tenantID, actorID string, now time.Time, targets ...Role) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" || len(targets) == 0 {
		return nil
	}
	held, err := s.effectiveRoles(ctx, tenantID, actorID, now)
	if err != nil {
		return err
	}
	level := 0
	for _, r := range held {
		if slices.Contains(r.Permissions, Wildcard) {
			return nil
		}
		level = max(level, r.Level)
	}
	for _, t := range targets {
		if t.Level >= level {
			s.log.Warn().
				Str("tenant_id", tenantID).
				Str("actor_id", actorID).
				Int("actor_level", level).
				Str("role", t.Slug).
				Int("role_level", t.Level).
				Msg("role change above actor level denied")
			return ErrPermissionDenied
		}
	}
	return nil
}

// effectiveRoles loads the active roles behind the user's effective assignments.
func (s *AssignmentStore) effectiveRoles(ctx context.Context, tenantID, userID string, now time.Time) ([]Role, error) {
	rows, err := s.repo.ListEffectiveAssignments(ctx, tenantID, userID, now)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(rows))
	for _, a := range rows {
		if !a.EffectiveAt(now) {
			continue
		}
		role, err := s.roles.GetRole(ctx, tenantID, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if role.IsActive {
			out = append(out, role)
		}
	}
	return out, nil
}

func (s *AssignmentStore) newAssignment(tenantID, userID, roleID string, opts AssignOptions, now time.Time) *RoleAssignment {
	a := &RoleAssignment{
		ID:         ids.New(),
		TenantID:   tenantID,
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: now,
		IsActive:   true,
		Notes:      strings.TrimSpace(opts.Notes),
	}
	if by := strings.TrimSpace(opts.AssignedBy); by != "" {
		a.AssignedBy = &by
	}
	if opts.ExpiresAt != nil {
		exp := opts.ExpiresAt.UTC()
		a.ExpiresAt = &exp
	}
	return a
}

func requireIDs(tenantID, userID, roleID string) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" || strings.TrimSpace(roleID) == "" {
		return fmt.Errorf("%w: tenant_id, user_id and role_id are required", ErrInvalidInput)
	}
	return nil
}
