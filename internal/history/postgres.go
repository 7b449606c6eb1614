package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id          TEXT PRIMARY KEY,
    filename    TEXT             NOT NULL DEFAULT '',
    source      TEXT             NOT NULL,
    status      TEXT             NOT NULL,
    risk        DOUBLE PRECISION NOT NULL,
    label       TEXT             NOT NULL,
    transcript  TEXT             NOT NULL,
    keywords    TEXT[]           NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_created_at
    ON calls (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_calls_status
    ON calls (lower(status));
`

const callColumns = "id, filename, source, status, risk, label, transcript, keywords, created_at"

// Migrate creates the calls table and its indexes. It is idempotent and safe
// to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCalls); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by a PostgreSQL calls table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, pings the server and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Add inserts c.
func (s *PostgresStore) Add(ctx context.Context, c Call) error {
	keywords := c.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO calls ("+callColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		c.ID, c.Filename, string(c.Source), string(c.Status), c.Risk, c.Label, c.Transcript, keywords, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history store: add: %w", err)
	}
	return nil
}

// Get returns the call with the given id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+callColumns+" FROM calls WHERE id = $1", id)
	if err != nil {
		return Call{}, fmt.Errorf("history store: get: %w", err)
	}
	return collectOne(rows)
}

// List returns the calls passing f, newest first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Call, error) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		conditions = append(conditions, "lower(status) = lower("+next(f.Status)+")")
	}
	from, until := f.bounds()
	if !from.IsZero() {
		conditions = append(conditions, "created_at >= "+next(from))
	}
	if !until.IsZero() {
		conditions = append(conditions, "created_at < "+next(until))
	}

	q := "SELECT " + callColumns + "\nFROM   calls"
	if len(conditions) > 0 {
		q += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	q += "\nORDER  BY created_at DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: list: %w", err)
	}
	calls, err := pgx.CollectRows(rows, scanCall)
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if calls == nil {
		calls = []Call{}
	}
	return calls, nil
}

// Resolve sets the call's status to [StatusResolved].
func (s *PostgresStore) Resolve(ctx context.Context, id string) (Call, error) {
	rows, err := s.pool.Query(ctx,
		"UPDATE calls SET status = $2 WHERE id = $1 RETURNING "+callColumns,
		id, string(StatusResolved),
	)
	if err != nil {
		return Call{}, fmt.Errorf("history store: resolve: %w", err)
	}
	return collectOne(rows)
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func collectOne(rows pgx.Rows) (Call, error) {
	c, err := pgx.CollectExactlyOneRow(rows, scanCall)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("history store: scan row: %w", err)
	}
	return c, nil
}

func scanCall(row pgx.CollectableRow) (Call, error) {
	var (
		c              Call
		source, status string
	)
	if err := row.Scan(
		&c.ID,
		&c.Filename,
		&source,
		&status,
		&c.Risk,
		&c.Label,
		&c.Transcript,
		&c.Keywords,
		&c.CreatedAt,
	); err != nil {
		return Call{}, err
	}
	c.Source = Source(source)
	c.Status = Status(status)
	c.Timestamp = c.CreatedAt.Local().Format(TimestampLayout)
	if c.Keywords == nil {
		c.Keywords = []string{}
	}
	return c, nil
}
