package uploader

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStallDetectorReportsStall(t *testing.T) {
	stalled := make(chan string, 1)
	d := newStallDetector(&StallDetection{CheckInterval: 5 * time.Millisecond, StallTimeout: 20 * time.Millisecond}, func(reason string) {
		stalled <- reason
	})
	d.start()
	defer d.stop()

	select {
	case reason := <-stalled:
		assert.Contains(t, reason, "no progress for")
		assert.Equal(t, reason, d.reason())
	case <-time.After(5 * time.Second):
		t.Fatal("stall was not detected")
	}
}

func TestStallDetectorKeepsAliveOnProgress(t *testing.T) {
	var calls int32
	d := newStallDetector(&StallDetection{CheckInterval: 5 * time.Millisecond, StallTimeout: 200 * time.Millisecond}, func(string) {
		atomic.AddInt32(&calls, 1)
	})
	d.start()
	d.start()
	for i := 0; i < 20; i++ {
		d.updateProgress()
		time.Sleep(10 * time.Millisecond)
	}
	d.stop()
	d.stop()

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Empty(t, d.reason())
}
