// Package sqlite persists capture sessions in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
	"github.com/TihanPelser/370Z-CAN-Logger/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_messages (
	session_id TEXT    NOT NULL REFERENCES sessions(id),
	timestamp  REAL    NOT NULL,
	can_id     INTEGER NOT NULL,
	data       TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS decoded_values (
	session_id TEXT    NOT NULL REFERENCES sessions(id),
	timestamp  REAL    NOT NULL,
	can_id     INTEGER NOT NULL,
	signal     TEXT    NOT NULL,
	num_value  REAL,
	txt_value  TEXT
);

CREATE INDEX IF NOT EXISTS idx_raw_session ON raw_messages(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_decoded_session ON decoded_values(session_id, signal, timestamp);
`

// Store implements storage.Store on a SQLite database file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default().With("component", "sqlite-store")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlite-store", "Open", "database open")
	}

	// modernc's driver multiplexes poorly over multiple connections, and a
	// :memory: DSN is per-connection. A single connection serves both cases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "sqlite-store", "Open", "pragma setup")
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "sqlite-store", "Open", "schema migration")
	}

	logger.Info("storage opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.WrapInvalid(errors.ErrStorageClosed, "sqlite-store", "checkOpen", "state check")
	}
	return nil
}

// CreateSession records a new capture session.
func (s *Store) CreateSession(ctx context.Context, sess storage.Session) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if sess.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("empty session id"),
			"sqlite-store", "CreateSession", "session validation")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, source, started_at) VALUES (?, ?, ?)",
		sess.ID, sess.Source, sess.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return errors.Wrap(err, "sqlite-store", "CreateSession", "session insert")
	}
	return nil
}

// InsertRaw persists one raw frame.
func (s *Store) InsertRaw(ctx context.Context, sessionID string, f *frame.Raw) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO raw_messages (session_id, timestamp, can_id, data) VALUES (?, ?, ?, ?)",
		sessionID, f.Timestamp, int64(f.ID), f.DataHex())
	if err != nil {
		return errors.WrapTransient(err, "sqlite-store", "InsertRaw", "raw insert")
	}
	return nil
}

// InsertDecoded persists one row per decoded signal. Numeric and categorical
// signals land in separate columns so queries keep their types.
func (s *Store) InsertDecoded(ctx context.Context, sessionID string, f *frame.Decoded) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(f.Signals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "sqlite-store", "InsertDecoded", "transaction begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO decoded_values (session_id, timestamp, can_id, signal, num_value, txt_value) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return errors.WrapTransient(err, "sqlite-store", "InsertDecoded", "statement prepare")
	}
	defer stmt.Close()

	for name, v := range f.Signals {
		var num sql.NullFloat64
		var txt sql.NullString
		if n, ok := v.Float(); ok {
			num = sql.NullFloat64{Float64: n, Valid: true}
		} else {
			txt = sql.NullString{String: v.String(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, sessionID, f.Timestamp, int64(f.ID), name, num, txt); err != nil {
			return errors.WrapTransient(err, "sqlite-store", "InsertDecoded", "signal insert")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "sqlite-store", "InsertDecoded", "transaction commit")
	}
	return nil
}

// RawCount returns the number of raw frames stored for a session.
func (s *Store) RawCount(ctx context.Context, sessionID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM raw_messages WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite-store", "RawCount", "count query")
	}
	return n, nil
}

// SignalHistory returns the numeric values recorded for one signal in
// timestamp order.
func (s *Store) SignalHistory(ctx context.Context, sessionID, signal string) ([]float64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT num_value FROM decoded_values WHERE session_id = ? AND signal = ? AND num_value IS NOT NULL ORDER BY timestamp",
		sessionID, signal)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite-store", "SignalHistory", "history query")
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "sqlite-store", "SignalHistory", "row scan")
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Close releases the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
