package storage

import (
	"bytes"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// kvRow mirrors the "kv" table schema used by SQLStore.
type kvRow struct {
	Key       string `db:"key"`
	Value     []byte `db:"value"`
	ExpiresAt *int64 `db:"expires_at"` // unix nano, NULL = no TTL
}

// SQLStore is a Store backed by a SQL table, used by the Controller's
// SQLite dialect (spec.md §4.5, §6.6) and available as a general KV
// backend. It opens its connection via sqlx, grounded on
// jordigilh-kubernaut and r3e-network-service_layer's sqlx+driver
// wiring; "sqlite3" is the default driverName.
type SQLStore struct {
	db        *sqlx.DB
	tableName string
}

// NewSQLStore opens dataSourceName with driverName (default "sqlite3"
// when empty) and ensures tableName exists.
func NewSQLStore(driverName, dataSourceName, tableName string) (*SQLStore, error) {
	if driverName == "" {
		driverName = "sqlite3"
	}
	if tableName == "" {
		tableName = "kv"
	}
	db, err := sqlx.Connect(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql store: %w", err)
	}
	if driverName == "sqlite3" {
		// mattn/go-sqlite3 hands out one OS-level connection per pooled
		// *sql.DB connection, and SQLite grants only one writer at a
		// time per file: with the pool's default of several open
		// connections, concurrent writers (CompareAndSwap's own race,
		// or a second replica sharing this file) see SQLITE_BUSY
		// instead of blocking. Capping the pool at one connection makes
		// every statement this process issues queue on that connection
		// instead; busy_timeout covers the remaining cross-process case.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER
	)`, tableName)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &SQLStore{db: db, tableName: tableName}, nil
}

func (s *SQLStore) Write(key string, value []byte, ttl time.Duration) error {
	var expiresAt *int64
	if ttl > 0 {
		v := time.Now().Add(ttl).UnixNano()
		expiresAt = &v
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, s.tableName)
	_, err := s.db.Exec(query, key, value, expiresAt)
	return err
}

func (s *SQLStore) Read(key string, pop bool) ([]byte, error) {
	var row kvRow
	query := fmt.Sprintf(`SELECT key, value, expires_at FROM %s WHERE key = ?`, s.tableName)
	if err := s.db.Get(&row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if row.ExpiresAt != nil && isExpired(*row.ExpiresAt, time.Now()) {
		_ = s.Delete(key)
		return nil, ErrNotFound
	}
	if pop {
		if err := s.Delete(key); err != nil {
			return nil, err
		}
	}
	return row.Value, nil
}

// CompareAndSwap reads and conditionally upserts key inside a single
// SQL transaction: SQLite grants the connection that issues the first
// write statement in a transaction an exclusive database lock, so the
// read-compare-write sequence below is indivisible with respect to any
// other process writing the same file, giving Queue.Dispatch (pkg/queue)
// a real cross-replica lease-claim primitive rather than the bare
// read-then-write race the teacher's key/value layer started from.
func (s *SQLStore) CompareAndSwap(key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var row kvRow
	query := fmt.Sprintf(`SELECT key, value, expires_at FROM %s WHERE key = ?`, s.tableName)
	var current []byte
	switch err := tx.Get(&row, query, key); {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, err
	default:
		if row.ExpiresAt == nil || !isExpired(*row.ExpiresAt, time.Now()) {
			current = row.Value
		}
	}
	if !bytes.Equal(current, oldValue) {
		return false, nil
	}

	var expiresAt *int64
	if ttl > 0 {
		v := time.Now().Add(ttl).UnixNano()
		expiresAt = &v
	}
	upsert := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`, s.tableName)
	if _, err := tx.Exec(upsert, key, newValue, expiresAt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) Delete(key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.tableName)
	_, err := s.db.Exec(query, key)
	return err
}

func (s *SQLStore) liveRows() ([]kvRow, error) {
	var rows []kvRow
	query := fmt.Sprintf(`SELECT key, value, expires_at FROM %s`, s.tableName)
	if err := s.db.Select(&rows, query); err != nil {
		return nil, err
	}
	now := time.Now()
	live := rows[:0]
	for _, r := range rows {
		if r.ExpiresAt == nil || !isExpired(*r.ExpiresAt, now) {
			live = append(live, r)
		}
	}
	return live, nil
}

func (s *SQLStore) Keys() ([]string, error) {
	rows, err := s.liveRows()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}

func (s *SQLStore) Next(pop bool) (Entry, error) {
	rows, err := s.liveRows()
	if err != nil {
		return Entry{}, err
	}
	if len(rows) == 0 {
		return Entry{}, ErrNotFound
	}
	chosen := rows[rand.Intn(len(rows))]
	if pop {
		if err := s.Delete(chosen.Key); err != nil {
			return Entry{}, err
		}
	}
	return Entry{Key: chosen.Key, Value: chosen.Value}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
