// Package utils holds small test helpers shared across packages.
package utils

import (
	"runtime"
	"testing"
	"time"
)

// LeakCheck snapshots the goroutine count and verifies at the end of a
// test that transports and engines shut their goroutines down. Use it
// as:
//
//	defer utils.LeakCheck(t)()
func LeakCheck(t *testing.T) func() {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	before := runtime.NumGoroutine()

	return func() {
		t.Helper()
		// Poll instead of a single fixed sleep: goroutines unwinding
		// from Close may need a few scheduler passes.
		deadline := time.Now().Add(2 * time.Second)
		var after int
		for {
			after = runtime.NumGoroutine()
			if after <= before || time.Now().After(deadline) {
				break
			}
			time.Sleep(25 * time.Millisecond)
		}
		if after > before {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Errorf("goroutine leak: %d before, %d after\n%s", before, after, buf[:n])
		}
	}
}
