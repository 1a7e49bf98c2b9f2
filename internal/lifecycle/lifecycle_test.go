package lifecycle

import "testing"

func TestShuttingDownFlag(t *testing.T) {
	defer SetShuttingDown(false)

	if IsShuttingDown() {
		t.Fatal("IsShuttingDown() = true at start, want false")
	}
	SetShuttingDown(true)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after set, want true")
	}
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after clear, want false")
	}
}
