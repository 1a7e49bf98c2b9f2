package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type mockFetcher struct {
	mu      sync.Mutex
	fetched []string
	failFor map[string]error
}

func (m *mockFetcher) GetWeather(ctx context.Context, city string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[city]; ok {
		return nil, err
	}
	m.fetched = append(m.fetched, city)
	return []byte(`{}`), nil
}

// TestWarmer_Warm verifies every city is fetched once.
func TestWarmer_Warm(t *testing.T) {
	fetcher := &mockFetcher{}
	w := NewWarmer(fetcher, zap.NewNop())

	cities := []string{"Durham", "Oslo", "Austin"}
	if err := w.Warm(context.Background(), cities); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.fetched) != 3 {
		t.Errorf("fetched %d cities, want 3", len(fetcher.fetched))
	}
	seen := make(map[string]bool)
	for _, c := range fetcher.fetched {
		seen[c] = true
	}
	for _, c := range cities {
		if !seen[c] {
			t.Errorf("city %s never fetched", c)
		}
	}
}

// TestWarmer_Warm_PartialFailure verifies one failing city surfaces an error
// without blocking the rest.
func TestWarmer_Warm_PartialFailure(t *testing.T) {
	fetcher := &mockFetcher{failFor: map[string]error{
		"Atlantis": errors.New("city not found"),
	}}
	w := NewWarmer(fetcher, zap.NewNop())

	err := w.Warm(context.Background(), []string{"Durham", "Atlantis"})
	if err == nil {
		t.Fatal("Warm() error = nil, want aggregated failure")
	}

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.fetched) != 1 || fetcher.fetched[0] != "Durham" {
		t.Errorf("fetched = %v, want [Durham]", fetcher.fetched)
	}
}
