package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dinehub.org/internal/auth"
)

const assignmentColumns = `id, tenant_id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active, notes, revoked_at`

func scanAssignment(row scanner) (auth.RoleAssignment, error) {
	var (
		a                auth.RoleAssignment
		by, notes        sql.NullString
		expires, revoked sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.UserID, &a.RoleID, &by, &a.AssignedAt, &expires, &a.IsActive, &notes, &revoked); err != nil {
		return auth.RoleAssignment{}, err
	}
	a.AssignedBy = stringPtr(by)
	a.ExpiresAt = timePtr(expires)
	a.RevokedAt = timePtr(revoked)
	a.Notes = notes.String
	return a, nil
}

// InsertAssignment implements auth.AssignmentRepository. The partial unique index on
// (tenant_id, user_id, role_id) where is_active settles concurrent inserts.
func (s *Store) InsertAssignment(ctx context.Context, a *auth.RoleAssignment, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAssignment(ctx, tx, a, now)
	})
}

func insertAssignment(ctx context.Context, q querier, a *auth.RoleAssignment, now time.Time) error {
	if _, err := q.ExecContext(ctx, `
		update role_assignments set is_active = false, revoked_at = $4
		where tenant_id = $1 and user_id = $2 and role_id = $3 and is_active and expires_at is not null and expires_at <= $4
	`, a.TenantID, a.UserID, a.RoleID, now); err != nil {
		return err
	}
	var by string
	if a.AssignedBy != nil {
		by = *a.AssignedBy
	}
	_, err := q.ExecContext(ctx, `
		insert into role_assignments (id, tenant_id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active, notes)
		values ($1, $2, $3, $4, $5, $6, $7, true, $8)
	`, a.ID, a.TenantID, a.UserID, a.RoleID, nullIfEmpty(by), a.AssignedAt, nullTime(a.ExpiresAt), nullIfEmpty(a.Notes))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrAlreadyAssigned
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: role %s", auth.ErrNotFound, a.RoleID)
			}
		}
		return err
	}
	return nil
}

const deactivateSQL = `
		update role_assignments set is_active = false, revoked_at = $4
		where tenant_id = $1 and user_id = $2 and ($3::text = '' or role_id = $3)
		and is_active and (expires_at is null or expires_at > $4)
	`

// DeactivateAssignments implements auth.AssignmentRepository.
func (s *Store) DeactivateAssignments(ctx context.Context, tenantID, userID, roleID string, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, deactivateSQL, tenantID, userID, roleID, now)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// ReplaceAssignments implements auth.AssignmentRepository in a single transaction.
func (s *Store) ReplaceAssignments(ctx context.Context, tenantID, userID string, next []*auth.RoleAssignment, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deactivateSQL, tenantID, userID, "", now); err != nil {
			return err
		}
		for _, a := range next {
			if err := insertAssignment(ctx, tx, a, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListEffectiveAssignments implements auth.AssignmentRepository.
func (s *Store) ListEffectiveAssignments(ctx context.Context, tenantID, userID string, now time.Time) ([]auth.RoleAssignment, error) {
	return s.listAssignments(ctx, `
		where tenant_id = $1 and user_id = $2 and is_active and (expires_at is null or expires_at > $3)
		order by assigned_at desc, id desc`, tenantID, userID, now)
}

// ListAssignmentHistory implements auth.AssignmentRepository.
func (s *Store) ListAssignmentHistory(ctx context.Context, tenantID, userID string) ([]auth.RoleAssignment, error) {
	return s.listAssignments(ctx, `
		where tenant_id = $1 and user_id = $2
		order by assigned_at desc, id desc`, tenantID, userID)
}

// ListAssignmentsExpiringBetween implements auth.AssignmentRepository.
func (s *Store) ListAssignmentsExpiringBetween(ctx context.Context, tenantID string, from, to time.Time) ([]auth.RoleAssignment, error) {
	return s.listAssignments(ctx, `
		where tenant_id = $1 and is_active and expires_at > $2 and expires_at <= $3
		order by expires_at asc, id asc`, tenantID, from, to)
}

// ListExpiredAssignments implements auth.AssignmentRepository.
func (s *Store) ListExpiredAssignments(ctx context.Context, tenantID string, now time.Time) ([]auth.RoleAssignment, error) {
	return s.listAssignments(ctx, `
		where tenant_id = $1 and is_active and expires_at <= $2
		order by expires_at asc, id asc`, tenantID, now)
}

// SweepExpiredAssignments implements auth.AssignmentRepository.
func (s *Store) SweepExpiredAssignments(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update role_assignments set is_active = false, revoked_at = $1
		where is_active and expires_at is not null and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (s *Store) listAssignments(ctx context.Context, clause string, args ...any) ([]auth.RoleAssignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+assignmentColumns+` from role_assignments `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]auth.RoleAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
