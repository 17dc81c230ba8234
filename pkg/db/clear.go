package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearDispatchLog truncates the dispatch log. Schema is preserved; RESTART
// IDENTITY resets the id sequence.
func ClearDispatchLog(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing dispatch log", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE dispatch_log RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Dispatch log cleared", clearLogPrefix))
	return nil
}
