// Package store persists KP registrations (kp_id -> throttle.KPInfo) across
// restarts, mirroring the teacher's persister/Persister/nopersist split but
// for registrations rather than in-flight author refreshes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ranking-agent/trapi-throttle/internal/throttle"
)

// Store persists and replays KP registrations.
type Store interface {
	Save(ctx context.Context, kpID string, info throttle.KPInfo) error
	Delete(ctx context.Context, kpID string) error
	Load(ctx context.Context) (map[string]throttle.KPInfo, error)
}

// noStore no-ops persistence, for tests and for running without a
// configured backing store.
type noStore struct{}

// NewNoStore returns a Store that never persists anything.
func NewNoStore() Store { return noStore{} }

func (noStore) Save(ctx context.Context, kpID string, info throttle.KPInfo) error { return nil }
func (noStore) Delete(ctx context.Context, kpID string) error                    { return nil }
func (noStore) Load(ctx context.Context) (map[string]throttle.KPInfo, error)      { return nil, nil }

const schema = `
CREATE TABLE IF NOT EXISTS kp_registrations (
	kp_id            TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	request_qty      INTEGER NOT NULL,
	request_duration BIGINT NOT NULL
);`

// PGStore persists registrations to Postgres.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore connects to dsn and ensures the registrations table exists. reg,
// when non-nil, is given a pgxpoolprometheus collector the way the teacher's
// newDBMetrics wires one in for its own pool.
func NewPGStore(ctx context.Context, dsn string, reg *prometheus.Registry) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}

	if _, err := db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	if reg != nil {
		reg.MustRegister(pgxpoolprometheus.NewCollector(db, nil))
	}

	return &PGStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PGStore) Close() { s.db.Close() }

// Save upserts a KP's registration.
func (s *PGStore) Save(ctx context.Context, kpID string, info throttle.KPInfo) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO kp_registrations (kp_id, url, request_qty, request_duration)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kp_id) DO UPDATE
		SET url = $2, request_qty = $3, request_duration = $4`,
		kpID, info.URL, info.RequestQty, int64(info.RequestDuration))
	return err
}

// Delete removes a KP's registration.
func (s *PGStore) Delete(ctx context.Context, kpID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM kp_registrations WHERE kp_id = $1", kpID)
	return err
}

// Load returns every persisted registration, for replay into fresh engines
// on boot.
func (s *PGStore) Load(ctx context.Context) (map[string]throttle.KPInfo, error) {
	rows, err := s.db.Query(ctx, "SELECT kp_id, url, request_qty, request_duration FROM kp_registrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]throttle.KPInfo{}
	for rows.Next() {
		var kpID, url string
		var qty int
		var duration int64
		if err := rows.Scan(&kpID, &url, &qty, &duration); err != nil {
			return nil, err
		}
		out[kpID] = throttle.KPInfo{URL: url, RequestQty: qty, RequestDuration: time.Duration(duration)}
	}
	return out, rows.Err()
}

// SQLiteStore persists registrations to a local SQLite file, for single-node
// deployments that don't want a Postgres dependency.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the sqlite database at path
// and ensures the registrations table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying sqlite database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save upserts a KP's registration.
func (s *SQLiteStore) Save(ctx context.Context, kpID string, info throttle.KPInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kp_registrations (kp_id, url, request_qty, request_duration)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kp_id) DO UPDATE
		SET url = excluded.url, request_qty = excluded.request_qty, request_duration = excluded.request_duration`,
		kpID, info.URL, info.RequestQty, int64(info.RequestDuration))
	return err
}

// Delete removes a KP's registration.
func (s *SQLiteStore) Delete(ctx context.Context, kpID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kp_registrations WHERE kp_id = ?", kpID)
	return err
}

// Load returns every persisted registration.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]throttle.KPInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kp_id, url, request_qty, request_duration FROM kp_registrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]throttle.KPInfo{}
	for rows.Next() {
		var kpID, url string
		var qty int
		var duration int64
		if err := rows.Scan(&kpID, &url, &qty, &duration); err != nil {
			return nil, err
		}
		out[kpID] = throttle.KPInfo{URL: url, RequestQty: qty, RequestDuration: time.Duration(duration)}
	}
	return out, rows.Err()
}

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = noStore{}
)
