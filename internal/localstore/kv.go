// Package localstore holds everything the app persists on the device:
// a small key-value table in SQLite, the unsynced workout cache and the
// cached profile and avatar.
package localstore

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// KV is a durable string-keyed blob store backed by SQLite.
type KV struct {
	db *sql.DB
}

// OpenKV opens/creates the SQLite file at path and runs migrations.
func OpenKV(path string) (*KV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps SQLite writes ordered
	db.SetMaxOpenConns(1)
	kv := &KV{db: db}
	if err := kv.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return kv, nil
}

// Close closes the underlying database handle.
func (k *KV) Close() error { return k.db.Close() }

func (k *KV) migrate() error {
	_, err := k.db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  k TEXT PRIMARY KEY,
  v BLOB NOT NULL
);
`)
	return err
}

// Get returns the value stored under key. found is false when the key is absent.
func (k *KV) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	err = k.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set upserts value under key.
func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	_, err := k.db.ExecContext(ctx, `
INSERT INTO kv(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, value)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (k *KV) Delete(ctx context.Context, key string) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

// GetString is Get for string values with a default.
func (k *KV) GetString(ctx context.Context, key, def string) (string, error) {
	v, ok, err := k.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	return string(v), nil
}

// SetString is Set for string values.
func (k *KV) SetString(ctx context.Context, key, value string) error {
	return k.Set(ctx, key, []byte(value))
}
