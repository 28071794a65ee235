package utils

import (
	"testing"
	"time"
)

func TestLeakCheckCleanRun(t *testing.T) {
	check := LeakCheck(t)

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}()
	<-done

	check()
}
