package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const columns = `id, cluster, start_time, end_time, kind, disabled, state, version, updated_at, reset_at`

// Store keeps schedule records in a single SQLite file
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens or creates the database at path. ":memory:" keeps it in process.
func Open(ctx context.Context, logger *zap.Logger, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("Open - sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("Open - mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Open - %s: %w", path, errors.Join(store.ErrUnavailable, err))
	}
	// a single connection serialises writers, which also keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	logger = logger.Named("sqliteStore")
	applyPragmas(ctx, logger, db)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open - schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

var pragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
}

// applyPragmas tunes the connection. Failures are logged and the store opens with
// SQLite defaults.
func applyPragmas(ctx context.Context, logger *zap.Logger, db *sql.DB) {
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Warn("Failed to apply pragma", zap.String("pragma", pragma), zap.Error(err))
		}
	}
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListActive(ctx context.Context) ([]schedule.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM schedules WHERE disabled = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListActive - query: %w", errors.Join(store.ErrUnavailable, err))
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
			return nil, fmt.Errorf("ListActive - scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListActive - rows: %w", errors.Join(store.ErrUnavailable, err))
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, id string) (schedule.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM schedules WHERE id = ?`, id)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, errors.Join(store.ErrUnavailable, err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, errors.Join(store.ErrUnavailable, err))
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
	record.UpdatedAt = s.now().UTC()

	const stmt = `
INSERT INTO schedules (id, cluster, start_time, end_time, kind, disabled, state, reset_at, updated_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (id) DO UPDATE SET
	cluster = excluded.cluster,
	start_time = excluded.start_time,
	end_time = excluded.end_time,
	kind = excluded.kind,
	disabled = excluded.disabled,
	state = excluded.state,
	reset_at = excluded.reset_at,
	updated_at = excluded.updated_at,
	version = schedules.version + 1
RETURNING version`

	if err := s.db.QueryRowContext(ctx, stmt, s.args(record)...).Scan(&record.Version); err != nil {
		return schedule.Record{}, fmt.Errorf("Put - %s: %w", record.ID, errors.Join(store.ErrUnavailable, err))
	}
	return record, nil
}

func (s *Store) CompareAndPut(ctx context.Context, record schedule.Record, expectedVersion int64) (schedule.Record, error) {
	record = store.Prepare(record)
	record.UpdatedAt = s.now().UTC()

	var row *sql.Row
	if expectedVersion == 0 {
		const stmt = `
INSERT INTO schedules (id, cluster, start_time, end_time, kind, disabled, state, reset_at, updated_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (id) DO NOTHING
RETURNING version`
		row = s.db.QueryRowContext(ctx, stmt, s.args(record)...)
	} else {
		const stmt = `
UPDATE schedules SET
	cluster = ?2,
	start_time = ?3,
	end_time = ?4,
	kind = ?5,
	disabled = ?6,
	state = ?7,
	reset_at = ?8,
	updated_at = ?9,
	version = version + 1
WHERE id = ?1 AND version = ?10
RETURNING version`
		row = s.db.QueryRowContext(ctx, stmt, append(s.args(record), expectedVersion)...)
	}

	if err := row.Scan(&record.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.Record{}, fmt.Errorf("CompareAndPut - %s expected version %d: %w", record.ID, expectedVersion, store.ErrConflict)
		}
		return schedule.Record{}, fmt.Errorf("CompareAndPut - %s: %w", record.ID, errors.Join(store.ErrUnavailable, err))
	}
	return record, nil
}

func (s *Store) args(r schedule.Record) []any {
	var resetAt any
	if r.ResetAt != nil {
		resetAt = r.ResetAt.UTC().Format(time.RFC3339Nano)
	}
	return []any{r.ID, r.Cluster, r.Start, r.End, string(r.Kind), r.Disabled, string(r.State), resetAt, r.UpdatedAt.Format(time.RFC3339Nano)}
}

func scanRecord(rows *sql.Rows) (schedule.Record, error) {
	var (
		rec        schedule.Record
		start, end sql.NullString
		kind       string
		state      sql.NullString
		updatedAt  string
		resetAt    sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.Cluster, &start, &end, &kind, &rec.Disabled, &state, &rec.Version, &updatedAt, &resetAt); err != nil {
		return schedule.Record{}, fmt.Errorf("%w: %w", store.ErrCorrupt, err)
	}
	if !start.Valid || !end.Valid {
		return schedule.Record{}, fmt.Errorf("%w: %s: %w", store.ErrCorrupt, rec.ID, schedule.ErrMissingField)
	}
	rec.Start, rec.End = start.String, end.String
	rec.Kind = schedule.Kind(kind)
	if !rec.Kind.Valid() {
		return schedule.Record{}, fmt.Errorf("%w: %s: %w", store.ErrCorrupt, rec.ID, schedule.ErrInvalidKind)
	}
	rec.State = schedule.DefaultState(rec.Kind)
	if state.Valid && state.String != "" {
		rec.State = schedule.State(state.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	if resetAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, resetAt.String)
		if err != nil {
			return schedule.Record{}, fmt.Errorf("%w: %s reset_at: %w", store.ErrCorrupt, rec.ID, err)
		}
		rec.ResetAt = &t
	}
	return rec, nil
}
