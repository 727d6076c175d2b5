// Package cache stores fetched day-ahead price and weather-forecast
// payloads in a local SQLite database, keyed by a caller-chosen string and
// stamped with their fetch time, so a restart
// does not require re-fetching data already good for a window still in
// progress. It generalises the host's in-memory WeatherForecastCache (a
// mutex-guarded struct with a fetchedAt/cacheDuration TTL check) to a
// disk-backed store shared across process restarts.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed key/value cache with per-entry TTLs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures the cache table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			fetched_at INTEGER NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached payload for key if present and not older than
// maxAge, otherwise (nil, false, nil). A non-nil error indicates a
// genuine database failure, distinct from an ordinary cache miss.
func (s *Store) Get(key string, maxAge time.Duration) ([]byte, bool, error) {
	var payload []byte
	var fetchedAtUnix int64
	row := s.db.QueryRow(`SELECT payload, fetched_at FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&payload, &fetchedAtUnix); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: reading key %q: %w", key, err)
	}
	fetchedAt := time.Unix(fetchedAtUnix, 0)
	if time.Since(fetchedAt) > maxAge {
		return nil, false, nil
	}
	return payload, true, nil
}

// Set stores payload under key, stamped with fetchedAt, replacing
// any existing entry for key.
func (s *Store) Set(key string, payload []byte, fetchedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at
	`, key, payload, fetchedAt.Unix())
	if err != nil {
		return fmt.Errorf("cache: writing key %q: %w", key, err)
	}
	return nil
}
