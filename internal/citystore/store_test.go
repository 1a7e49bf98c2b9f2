package citystore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertLocation(t *testing.T, s *Store, key, city string, active int) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO locations (location_key, city, active) VALUES (?, ?, ?)`,
		key, city, active)
	if err != nil {
		t.Fatalf("insert %s: %v", city, err)
	}
}

// TestOpen_FreshDatabase verifies a new database file serves an empty list
// instead of failing.
func TestOpen_FreshDatabase(t *testing.T) {
	s := openTestStore(t)

	cities, err := s.ActiveCities(context.Background())
	if err != nil {
		t.Fatalf("ActiveCities() error = %v", err)
	}
	if len(cities) != 0 {
		t.Errorf("ActiveCities() = %v, want empty", cities)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Open() error = nil, want path-required error")
	}
}

// TestActiveCities verifies inactive locations are filtered and results come
// back sorted by city name.
func TestActiveCities(t *testing.T) {
	s := openTestStore(t)
	insertLocation(t, s, "us-nc-durham", "Durham", 1)
	insertLocation(t, s, "no-oslo", "Oslo", 1)
	insertLocation(t, s, "us-tx-austin", "Austin", 1)
	insertLocation(t, s, "decommissioned", "Ghost Town", 0)

	cities, err := s.ActiveCities(context.Background())
	if err != nil {
		t.Fatalf("ActiveCities() error = %v", err)
	}
	want := []string{"Austin", "Durham", "Oslo"}
	if len(cities) != len(want) {
		t.Fatalf("ActiveCities() = %v, want %v", cities, want)
	}
	for i := range want {
		if cities[i] != want[i] {
			t.Errorf("cities[%d] = %q, want %q", i, cities[i], want[i])
		}
	}
}
