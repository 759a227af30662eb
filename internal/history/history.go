// Package history keeps snapshots of saved load orders in SQLite or Postgres
// so a previous order can be listed and restored.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/dshills/plugsync/internal/loadorder"
)

// ErrNotFound indicates no snapshot has the requested id.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is a recorded load order.
type Snapshot struct {
	ID      string
	GameID  string
	Reason  string
	Created time.Time
	Entries []loadorder.Entry
}

// dialect carries the per-driver differences. Queries are written with ?
// placeholders and rebound for drivers that number them.
type dialect struct {
	driver   string
	numbered bool
	schema   []string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS snapshots (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				game TEXT NOT NULL,
				reason TEXT NOT NULL,
				created INTEGER NOT NULL,
				entries BLOB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS snapshots_game ON snapshots (game, seq)`,
		},
	}
	postgresDialect = dialect{
		driver:   "pgx",
		numbered: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS snapshots (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				game TEXT NOT NULL,
				reason TEXT NOT NULL,
				created BIGINT NOT NULL,
				entries BYTEA NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS snapshots_game ON snapshots (game, seq)`,
		},
	}
)

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsPostgres reports whether dsn names a Postgres database.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Store is a SQL-backed snapshot store.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open opens or creates the snapshot database. A postgres:// or
// postgresql:// URL selects Postgres; anything else is a SQLite file path,
// with ":memory:" giving a private in-memory database.
func Open(dsn string) (*Store, error) {
	if IsPostgres(dsn) {
		return open(postgresDialect, dsn)
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	return open(sqliteDialect, dsn)
}

func open(d dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	if d.driver == sqliteDialect.driver {
		// A single connection keeps ":memory:" databases shared and
		// serializes writers.
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, dialect: d}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a snapshot of entries and returns it.
func (s *Store) Record(ctx context.Context, gameID, reason string, entries []loadorder.Entry) (*Snapshot, error) {
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	snap := &Snapshot{
		ID:      uuid.NewString(),
		GameID:  gameID,
		Reason:  reason,
		Created: time.Now().UTC(),
		Entries: entries,
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO snapshots (id, game, reason, created, entries) VALUES (?, ?, ?, ?, ?)`),
		snap.ID, gameID, reason, snap.Created.UnixNano(), payload,
	); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// List returns snapshots of gameID, newest first. limit <= 0 means all.
// Entries are not loaded.
func (s *Store) List(ctx context.Context, gameID string, limit int) ([]*Snapshot, error) {
	query := `SELECT id, game, reason, created FROM snapshots WHERE game = ? ORDER BY seq DESC`
	args := []any{gameID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			created int64
		)
		if err := rows.Scan(&snap.ID, &snap.GameID, &snap.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		snap.Created = time.Unix(0, created).UTC()
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// Get returns a snapshot with its entries.
func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	var (
		snap    Snapshot
		created int64
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT id, game, reason, created, entries FROM snapshots WHERE id = ?`), id,
	).Scan(&snap.ID, &snap.GameID, &snap.Reason, &created, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &snap.Entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	snap.Created = time.Unix(0, created).UTC()
	return &snap, nil
}

// Prune keeps the newest keep snapshots of gameID and deletes the rest.
func (s *Store) Prune(ctx context.Context, gameID string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM snapshots WHERE game = ? AND seq NOT IN (
			SELECT seq FROM snapshots WHERE game = ? ORDER BY seq DESC LIMIT ?
		)`), gameID, gameID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Import stores snap as is, keeping its id and creation time. It reports
// false when a snapshot with the same id already exists.
func (s *Store) Import(ctx context.Context, snap *Snapshot) (bool, error) {
	if snap.ID == "" || snap.GameID == "" {
		return false, errors.New("import snapshot: id and game are required")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT COUNT(*) FROM snapshots WHERE id = ?`), snap.ID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("select snapshot: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	payload, err := json.Marshal(snap.Entries)
	if err != nil {
		return false, fmt.Errorf("encode entries: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO snapshots (id, game, reason, created, entries) VALUES (?, ?, ?, ?, ?)`),
		snap.ID, snap.GameID, snap.Reason, snap.Created.UnixNano(), payload,
	); err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	return true, nil
}
