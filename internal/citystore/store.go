package citystore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	location_key TEXT PRIMARY KEY,
	city         TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT '',
	active       INTEGER NOT NULL DEFAULT 1
);`

// Store reads the known-city list from a local SQLite database. The database
// is provisioned out of band; Open only ensures the schema exists so a fresh
// deployment serves an empty list instead of failing.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("citystore: database path required")
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("citystore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("citystore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// ActiveCities returns the city names of all active locations, sorted.
// An empty slice is a valid result; callers decide how to present it.
func (s *Store) ActiveCities(ctx context.Context) ([]string, error) {
	var cities []string
	err := s.db.SelectContext(ctx, &cities,
		`SELECT city FROM locations WHERE active = 1 ORDER BY city`)
	if err != nil {
		return nil, fmt.Errorf("citystore: select active cities: %w", err)
	}
	return cities, nil
}

// Close closes the underlying database handle. Call during shutdown.
func (s *Store) Close() error {
	return s.db.Close()
}
