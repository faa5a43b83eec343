package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"go.uber.org/zap"
)

const columns = `id, cluster, start_time, end_time, kind, disabled, state, version, updated_at, reset_at`

// Store keeps schedule records in the schedules table
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore returns a Store on an open pool
func NewStore(logger *zap.Logger, pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, logger: logger.Named("postgresStore")}
}

// Connect opens a pool for dsn and checks it is reachable
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("Connect - parse: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("Connect - pool: %w", errors.Join(store.ErrUnavailable, err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Connect - ping: %w", errors.Join(store.ErrUnavailable, err))
	}
	return pool, nil
}

func (s *Store) ListActive(ctx context.Context) ([]schedule.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM schedules WHERE disabled = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListActive - query: %w", classify(err))
	}
	defer rows.Close()

	var records []schedule.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			if errors.Is(err, store.ErrCorrupt) {
				s.logger.Error("skipping undecodable schedule row", zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("ListActive - scan: %w", classify(err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListActive - rows: %w", classify(err))
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, id string) (schedule.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+columns+` FROM schedules WHERE id = $1`, id)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, classify(err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, classify(err))
		}
		return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, store.ErrNotFound)
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, record schedule.Record) (schedule.Record, error) {
	record = store.Prepare(record)
	const stmt = `
INSERT INTO schedules (id, cluster, start_time, end_time, kind, disabled, state, reset_at, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW())
ON CONFLICT (id) DO UPDATE SET
	cluster = EXCLUDED.cluster,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	kind = EXCLUDED.kind,
	disabled = EXCLUDED.disabled,
	state = EXCLUDED.state,
	reset_at = EXCLUDED.reset_at,
	version = schedules.version + 1,
	updated_at = NOW()
RETURNING version, updated_at`

	err := s.pool.QueryRow(ctx, stmt, args(record)...).Scan(&record.Version, &record.UpdatedAt)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("Put - %s: %w", record.ID, classify(err))
	}
	return record, nil
}

func (s *Store) CompareAndPut(ctx context.Context, record schedule.Record, expectedVersion int64) (schedule.Record, error) {
	record = store.Prepare(record)

	var row pgx.Row
	if expectedVersion == 0 {
		const stmt = `
INSERT INTO schedules (id, cluster, start_time, end_time, kind, disabled, state, reset_at, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW())
ON CONFLICT (id) DO NOTHING
RETURNING version, updated_at`
		row = s.pool.QueryRow(ctx, stmt, args(record)...)
	} else {
		const stmt = `
UPDATE schedules SET
	cluster = $2,
	start_time = $3,
	end_time = $4,
	kind = $5,
	disabled = $6,
	state = $7,
	reset_at = $8,
	version = version + 1,
	updated_at = NOW()
WHERE id = $1 AND version = $9
RETURNING version, updated_at`
		row = s.pool.QueryRow(ctx, stmt, append(args(record), expectedVersion)...)
	}

	if err := row.Scan(&record.Version, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.Record{}, fmt.Errorf("CompareAndPut - %s expected version %d: %w", record.ID, expectedVersion, store.ErrConflict)
		}
		return schedule.Record{}, fmt.Errorf("CompareAndPut - %s: %w", record.ID, classify(err))
	}
	return record, nil
}

func args(r schedule.Record) []any {
	return []any{r.ID, r.Cluster, r.Start, r.End, string(r.Kind), r.Disabled, string(r.State), r.ResetAt}
}

func scanRecord(rows pgx.Rows) (schedule.Record, error) {
	var (
		rec        schedule.Record
		start, end *string
		kind       string
		state      *string
		updatedAt  time.Time
	)
	if err := rows.Scan(&rec.ID, &rec.Cluster, &start, &end, &kind, &rec.Disabled, &state, &rec.Version, &updatedAt, &rec.ResetAt); err != nil {
		return schedule.Record{}, err
	}
	if start == nil || end == nil {
		return schedule.Record{}, fmt.Errorf("%w: %s: %w", store.ErrCorrupt, rec.ID, schedule.ErrMissingField)
	}
	rec.Start, rec.End = *start, *end
	rec.Kind = schedule.Kind(kind)
	if !rec.Kind.Valid() {
		return schedule.Record{}, fmt.Errorf("%w: %s: %w", store.ErrCorrupt, rec.ID, schedule.ErrInvalidKind)
	}
	// rows written before the state column existed
	rec.State = schedule.DefaultState(rec.Kind)
	if state != nil && *state != "" {
		rec.State = schedule.State(*state)
	}
	rec.UpdatedAt = updatedAt
	return rec, nil
}

// classify marks everything that is not a server side SQL error as an unavailable store
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return errors.Join(store.ErrUnavailable, err)
}
