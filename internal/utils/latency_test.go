package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Count(); got != 100 {
		t.Fatalf("expected 100 samples, got %d", got)
	}
	p50 := tracker.Percentile(50)
	if p50 < 45*time.Millisecond || p50 > 55*time.Millisecond {
		t.Fatalf("unexpected p50 %v", p50)
	}
	if tracker.Percentile(100) != 100*time.Millisecond {
		t.Fatalf("unexpected max %v", tracker.Percentile(100))
	}
	if tracker.Percentile(0) != 1*time.Millisecond {
		t.Fatalf("unexpected min %v", tracker.Percentile(0))
	}
}

func TestLatencyTrackerEviction(t *testing.T) {
	tracker := NewLatencyTracker(4)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}
	if got := tracker.Count(); got != 4 {
		t.Fatalf("expected bounded sample count 4, got %d", got)
	}
	// Only the most recent four samples remain.
	if min := tracker.Percentile(0); min < 7*time.Second {
		t.Fatalf("expected oldest samples evicted, min %v", min)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(8)
	if tracker.Percentile(95) != 0 {
		t.Fatalf("expected zero percentile without samples")
	}
}
