package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/streamalerts/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS credentials (
  name TEXT NOT NULL PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  actor TEXT NOT NULL,
  at TEXT NOT NULL,
  payload_json TEXT NOT NULL
);`

// SQLiteStore backs both the credential Store and the AlertLog with a single
// SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping() error { return s.db.Ping() }

func (s *SQLiteStore) Get(name string) (Record, error) {
	const q = `SELECT name, value, updated_at FROM credentials WHERE name = ?;`
	var (
		rec Record
		ts  string
	)
	err := s.db.QueryRow(q, name).Scan(&rec.Name, &rec.Value, &ts)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "get credential")
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func (s *SQLiteStore) Put(name, value string) error {
	const q = `INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(q, name, value, ts)
	return errors.Wrap(err, "put credential")
}

func (s *SQLiteStore) List() ([]Record, error) {
	const q = `SELECT name, value, updated_at FROM credentials ORDER BY name;`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, errors.Wrap(err, "list credentials")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			ts  string
		)
		if err := rows.Scan(&rec.Name, &rec.Value, &ts); err != nil {
			return nil, errors.Wrap(err, "scan credential")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.UpdatedAt = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate credentials")
	}
	return out, nil
}

func (s *SQLiteStore) Append(ev core.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode alert")
	}
	const q = `INSERT INTO alerts (kind, actor, at, payload_json) VALUES (?, ?, ?, ?);`
	at := ev.At.UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(q, string(ev.Kind), ev.Actor, at, string(payload))
	return errors.Wrap(err, "insert alert")
}

func (s *SQLiteStore) ListRecent(limit int) ([]core.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT payload_json FROM alerts ORDER BY seq DESC LIMIT ?;`
	rows, err := s.db.Query(q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	defer rows.Close()

	var out []core.AlertEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		var ev core.AlertEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate alerts")
	}
	return out, nil
}

func (s *SQLiteStore) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts;`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count alerts")
	}
	return n, nil
}
