package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-squad-api/internal/models"
)

// lockSquad loads and row-locks a squad inside the given transaction.
// Returns sql.ErrNoRows when the squad does not exist.
func lockSquad(ctx context.Context, tx *sqlx.Tx, squadID string) (*models.Squad, error) {
	const query = `SELECT id, code, name, tier, status, created_at, updated_at FROM squads WHERE id = $1 FOR UPDATE`
	var squad models.Squad
	if err := tx.GetContext(ctx, &squad, query, squadID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock squad: %w", err)
	}
	return &squad, nil
}

// countActiveMembers counts ACTIVE memberships of a squad under the
// caller's transaction.
func countActiveMembers(ctx context.Context, tx *sqlx.Tx, squadID string) (int, error) {
	const query = `SELECT COUNT(*) FROM memberships WHERE squad_id = $1 AND status = 'ACTIVE'`
	var count int
	if err := tx.GetContext(ctx, &count, query, squadID); err != nil {
		return 0, fmt.Errorf("count active members: %w", err)
	}
	return count, nil
}

// leadershipFilled reports whether every leadership role has an ACTIVE holder.
func leadershipFilled(ctx context.Context, tx *sqlx.Tx, squadID string) (bool, error) {
	const query = `SELECT COUNT(DISTINCT role) FROM memberships
WHERE squad_id = $1 AND status = 'ACTIVE' AND role <> 'MEMBER'`
	var distinct int
	if err := tx.GetContext(ctx, &distinct, query, squadID); err != nil {
		return false, fmt.Errorf("count leadership roles: %w", err)
	}
	return distinct >= len(models.LeadershipRoles), nil
}

// recomputeSquadStatus derives and persists the squad's ACTIVE/INACTIVE
// status from its current composition. FROZEN squads are left untouched.
func recomputeSquadStatus(ctx context.Context, tx *sqlx.Tx, squad *models.Squad, policy models.ActivationPolicy) error {
	if squad.Status == models.SquadStatusFrozen {
		return nil
	}

	count, err := countActiveMembers(ctx, tx, squad.ID)
	if err != nil {
		return err
	}
	filled := true
	if policy.RequireLeadership {
		filled, err = leadershipFilled(ctx, tx, squad.ID)
		if err != nil {
			return err
		}
	}

	status := models.DeriveSquadStatus(count, filled, policy)
	if status == squad.Status {
		return nil
	}
	const query = `UPDATE squads SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, squad.ID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update squad status: %w", err)
	}
	squad.Status = status
	return nil
}
