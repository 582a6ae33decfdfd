package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteDriver keeps every bucket in one table of a SQLite database.
type SQLiteDriver struct {
	db   *sql.DB
	path string
}

// OpenSQLite creates or opens the database at path.
func OpenSQLite(path string) (*SQLiteDriver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	d := &SQLiteDriver{db: db, path: path}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

func (d *SQLiteDriver) initSchema() error {
	_, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		bucket TEXT NOT NULL,
		key    TEXT NOT NULL,
		value  TEXT NOT NULL,
		PRIMARY KEY (bucket, key)
	);`)
	return err
}

// Path returns the database file path.
func (d *SQLiteDriver) Path() string {
	return d.path
}

// Put implements Driver.
func (d *SQLiteDriver) Put(bucket, key, value string) error {
	if err := checkBucket(bucket); err != nil {
		return err
	}
	_, err := d.db.Exec(`INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value`, bucket, key, value)
	return err
}

// Get implements Driver.
func (d *SQLiteDriver) Get(bucket, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM kv WHERE bucket = ? AND key = ?`, bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Delete implements Driver.
func (d *SQLiteDriver) Delete(bucket, key string) error {
	_, err := d.db.Exec(`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key)
	return err
}

// Keys implements Driver.
func (d *SQLiteDriver) Keys(bucket string) ([]string, error) {
	rows, err := d.db.Query(`SELECT key FROM kv WHERE bucket = ? ORDER BY key`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Drop implements Driver.
func (d *SQLiteDriver) Drop(bucket string) error {
	_, err := d.db.Exec(`DELETE FROM kv WHERE bucket = ?`, bucket)
	return err
}

// Close closes the database connection.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
