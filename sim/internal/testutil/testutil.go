// Package testutil provides shared test infrastructure for the simulation
// packages: float comparison with relative tolerance and bounded waits on
// channels that the engine closes from other goroutines.
package testutil

import (
	"math"
	"testing"
	"time"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// RequireClosed fails the test if ch is not closed within timeout.
func RequireClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("%s: not closed after %s", what, timeout)
	}
}

// AssertOpen fails the test if ch is already closed.
func AssertOpen(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Errorf("%s: closed early", what)
	default:
	}
}
