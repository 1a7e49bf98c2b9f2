package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestRequestCoalescer_SingleFetch verifies that N concurrent callers for the
// same key produce exactly one execution of fn, all receiving its result.
func TestRequestCoalescer_SingleFetch(t *testing.T) {
	rc := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func() ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("payload"), nil
	}

	const waiters = 10
	var wg sync.WaitGroup
	results := make([][]byte, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rc.GetOrDo(context.Background(), "weather:Durham", fn)
		}(i)
	}

	// Let all goroutines register before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fn executions = %d, want 1", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Errorf("waiter %d error = %v", i, errs[i])
		}
		if string(results[i]) != "payload" {
			t.Errorf("waiter %d result = %s, want payload", i, results[i])
		}
	}
}

// TestRequestCoalescer_ErrorSharedWithWaiters verifies that a failed fetch
// delivers the same error to every coalesced waiter.
func TestRequestCoalescer_ErrorSharedWithWaiters(t *testing.T) {
	rc := newRequestCoalescer(5 * time.Second)
	wantErr := errors.New("upstream down")
	release := make(chan struct{})

	fn := func() ([]byte, error) {
		<-release
		return nil, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rc.GetOrDo(context.Background(), "k", fn)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("waiter %d error = %v, want %v", i, err, wantErr)
		}
	}
}

// TestRequestCoalescer_DistinctKeys verifies that different keys do not
// coalesce with each other.
func TestRequestCoalescer_DistinctKeys(t *testing.T) {
	rc := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32

	fn := func() ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}

	if _, err := rc.GetOrDo(context.Background(), "weather:A", fn); err != nil {
		t.Fatalf("GetOrDo(A) error = %v", err)
	}
	if _, err := rc.GetOrDo(context.Background(), "weather:B", fn); err != nil {
		t.Fatalf("GetOrDo(B) error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn executions = %d, want 2", got)
	}
}

// TestRequestCoalescer_WaiterTimeout verifies that a waiter gives up after the
// configured timeout while the underlying fetch keeps running.
func TestRequestCoalescer_WaiterTimeout(t *testing.T) {
	rc := newRequestCoalescer(50 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	fn := func() ([]byte, error) {
		<-release
		return []byte("v"), nil
	}

	_, err := rc.GetOrDo(context.Background(), "k", fn)
	if err == nil {
		t.Fatal("GetOrDo() error = nil, want deadline exceeded")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetOrDo() error = %v, want context.DeadlineExceeded", err)
	}
}

// TestRequestCoalescer_CleanupAfterCompletion verifies that a completed key is
// removed so a later request triggers a fresh fetch.
func TestRequestCoalescer_CleanupAfterCompletion(t *testing.T) {
	rc := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32

	fn := func() ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}

	if _, err := rc.GetOrDo(context.Background(), "k", fn); err != nil {
		t.Fatalf("first GetOrDo() error = %v", err)
	}

	// The in-flight entry is cleaned up asynchronously after fn returns.
	deadline := time.After(time.Second)
	for {
		rc.mu.Lock()
		n := len(rc.inFlight)
		rc.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("in-flight entry never cleaned up")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := rc.GetOrDo(context.Background(), "k", fn); err != nil {
		t.Fatalf("second GetOrDo() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn executions = %d, want 2 after cleanup", got)
	}
}
