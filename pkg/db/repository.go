package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// DefaultListLimit caps ListRecent when no limit is given.
const DefaultListLimit = 50

// Repository provides database access to the dispatch log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// InsertDispatch stores rec and returns its id. A record whose request id is
// already stored is skipped and reported with id 0.
func (r *Repository) InsertDispatch(ctx context.Context, rec *DispatchRecord) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO dispatch_log
		   (request_id, subject, queue_group, handler_id, outcome, error_kind, message, replied, duration_ms, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (request_id) WHERE request_id IS NOT NULL DO NOTHING
		 RETURNING id`,
		nullIfEmpty(rec.RequestID), rec.Subject, rec.QueueGroup, nullIfEmpty(rec.HandlerID), rec.Outcome,
		nullIfEmpty(rec.ErrorKind), nullIfEmpty(rec.Message), rec.Replied, rec.DurationMs, rec.Created,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		slog.Debug(fmt.Sprintf("%s - request %s already logged", repoLogPrefix, rec.RequestID))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s - insert dispatch for %s: %w", repoLogPrefix, rec.Subject, err)
	}
	return id, nil
}

// ListRecent returns the newest records, optionally restricted to one subject.
func (r *Repository) ListRecent(ctx context.Context, subject string, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, COALESCE(request_id, ''), subject, queue_group, COALESCE(handler_id, ''), outcome,
		        COALESCE(error_kind, ''), COALESCE(message, ''), replied, duration_ms, created
		 FROM dispatch_log
		 WHERE ($1 = '' OR subject = $1)
		 ORDER BY created DESC, id DESC
		 LIMIT $2`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - list dispatches: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var rec DispatchRecord
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Subject, &rec.QueueGroup, &rec.HandlerID, &rec.Outcome,
			&rec.ErrorKind, &rec.Message, &rec.Replied, &rec.DurationMs, &rec.Created); err != nil {
			return nil, fmt.Errorf("%s - scan dispatch: %w", repoLogPrefix, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByOutcome groups dispatches created at or after since by outcome.
func (r *Repository) CountByOutcome(ctx context.Context, since time.Time) ([]OutcomeCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT outcome, COUNT(*) FROM dispatch_log WHERE created >= $1 GROUP BY outcome ORDER BY outcome`, since)
	if err != nil {
		return nil, fmt.Errorf("%s - count outcomes: %w", repoLogPrefix, err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutcomeCount, error) {
		var c OutcomeCount
		err := row.Scan(&c.Outcome, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s - scan outcome counts: %w", repoLogPrefix, err)
	}
	return counts, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
