package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/indexkit/indexcore/internal/domain/checkpoint"
	"github.com/indexkit/indexcore/internal/domain/schema"
)

// RevertController rolls a namespace's tables back to a safe checkpoint
// on reorg, per spec.md §4.7 (C7). It is re-armed with a new safe
// checkpoint on every finalized block; the embedded limiter bounds how
// often a caller may actually trigger a revert, guarding against a
// noisy chain-follower re-triggering it on every reorg notification.
type RevertController struct {
	pool      *pgxpool.Pool
	namespace string
	schema    schema.Schema
	limiter   *rate.Limiter
}

// NewRevertController constructs a controller limited to at most one
// revert per minReinterval, bursting up to 1, so a noisy
// chain-follower re-triggering on every reorg notification can't
// thrash the namespace's tables.
func NewRevertController(pool *pgxpool.Pool, namespace string, s schema.Schema, minReinterval rate.Limit) *RevertController {
	return &RevertController{
		pool:      pool,
		namespace: namespace,
		schema:    s,
		limiter:   rate.NewLimiter(minReinterval, 1),
	}
}

// Revert implements §4.7: for every table, delete versions written at
// or after safe, then reopen whichever surviving version's
// effectiveToCheckpoint was truncated at or after safe. Idempotent:
// calling Revert(safe) twice has the same effect as calling it once,
// because the second call's delete and reopen predicates both match
// zero rows.
func (r *RevertController) Revert(ctx context.Context, safe string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("revert: rate limit: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("revert: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tableName := range r.schema.TableNames() {
		versioned := versionedTableName(tableName)

		deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE "effectiveFromCheckpoint" >= $1`,
			qualify(r.namespace, versioned))
		if _, err := tx.Exec(ctx, deleteQuery, safe); err != nil {
			return fmt.Errorf("revert: delete %s: %w", tableName, err)
		}

		reopenQuery := fmt.Sprintf(
			`UPDATE %s SET "effectiveToCheckpoint" = $1 WHERE "effectiveToCheckpoint" <> $1 AND "effectiveToCheckpoint" >= $2`,
			qualify(r.namespace, versioned))
		if _, err := tx.Exec(ctx, reopenQuery, checkpoint.Latest, safe); err != nil {
			return fmt.Errorf("revert: reopen %s: %w", tableName, err)
		}
	}

	return tx.Commit(ctx)
}
