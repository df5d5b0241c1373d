package limiter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed fixed-window limiter shared by every server
// instance pointing at the same database.
type PG struct {
	pool   pgxQuerier
	window time.Duration
	limit  int
	now    func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter allowing limit requests per window.
func NewPG(pool *pgxpool.Pool, window time.Duration, limit int) *PG {
	return NewPGWithQuerier(pool, window, limit)
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, limit int) *PG {
	return &PG{pool: q, window: window, limit: limit, now: time.Now}
}

// Allow counts one request for key in the current window.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `
INSERT INTO rate_limits (key, window_start, hits)
VALUES ($1, $2, 1)
ON CONFLICT (key) DO UPDATE
SET
  hits = CASE WHEN rate_limits.window_start < $2 THEN 1 ELSE rate_limits.hits + 1 END,
  window_start = GREATEST(rate_limits.window_start, $2)
RETURNING hits, window_start`
	now := l.now()
	start := now.Truncate(l.window)
	var (
		hits        int
		windowStart time.Time
	)
	if err := l.pool.QueryRow(ctx, q, key, start).Scan(&hits, &windowStart); err != nil {
		return false, 0, err
	}
	if hits > l.limit {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

// Reset forgets the counter for key.
func (l *PG) Reset(ctx context.Context, key string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM rate_limits WHERE key=$1`, key)
	return err
}
