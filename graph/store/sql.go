package store

import (
	"context"
	"database/sql"
	"fmt"
)

// deleteStaleRuns removes every run listed by selectQuery inside a single
// transaction. selectQuery takes the cutoff as its only argument and
// deleteQuery takes a run ID.
func deleteStaleRuns(ctx context.Context, db *sql.DB, selectQuery, deleteQuery string, cutoff int64) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, selectQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale runs: %w", err)
	}

	var runIDs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan run id: %w", err)
		}
		runIDs = append(runIDs, runID)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate stale runs: %w", err)
	}

	for _, runID := range runIDs {
		if _, err := tx.ExecContext(ctx, deleteQuery, runID); err != nil {
			return 0, fmt.Errorf("failed to delete run %s: %w", runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return len(runIDs), nil
}
