package engine

import (
	"fmt"
	"math"
	"testing"

	"github.com/relaywatch/correlator/internal/models"
)

const trackedRelay = "1111111111111111111111111111111111111111"

func entryObs(id string, bytes int64) models.Observation {
	return models.Observation{
		ID:               id,
		Type:             models.EntryObserved,
		TimestampMicros:  1_000_000_000,
		RelayFingerprint: trackedRelay,
		Bytes:            bytes,
	}
}

func TestPatternKeyBuckets(t *testing.T) {
	key := PatternKey(entryObs("o1", 2_500_000))
	want := trackedRelay + ":entry_observed:2500000"
	if key != want {
		t.Fatalf("expected key %q, got %q", want, key)
	}

	// Volumes inside the same 100kB bucket share a key.
	a := PatternKey(entryObs("o1", 2_500_000))
	b := PatternKey(entryObs("o2", 2_599_999))
	if a != b {
		t.Fatalf("expected bucketed volumes to share a key: %q vs %q", a, b)
	}
	c := PatternKey(entryObs("o3", 2_600_000))
	if a == c {
		t.Fatalf("expected distinct buckets for %q", c)
	}
}

func TestBoostBelowThreshold(t *testing.T) {
	tracker := NewRepetitionTracker(DefaultRepetitionConfig())
	obs := entryObs("o1", 500_000)

	tracker.Record(obs)
	if boost := tracker.Boost(obs); boost != 1.0 {
		t.Fatalf("expected no boost for single occurrence, got %.3f", boost)
	}
}

func TestBoostGrowthAndCap(t *testing.T) {
	tracker := NewRepetitionTracker(DefaultRepetitionConfig())
	obs := entryObs("o1", 500_000)

	tracker.Record(obs)
	tracker.Record(obs)
	// count=2: 1 + log2(2)*0.5 = 1.5
	if boost := tracker.Boost(obs); math.Abs(boost-1.5) > 1e-9 {
		t.Fatalf("expected boost 1.5 at count 2, got %.3f", boost)
	}

	tracker.Record(obs)
	tracker.Record(obs)
	// count=4: 1 + log2(4)*0.5 = 2.0
	if boost := tracker.Boost(obs); math.Abs(boost-2.0) > 1e-9 {
		t.Fatalf("expected boost 2.0 at count 4, got %.3f", boost)
	}

	for i := 0; i < 12; i++ {
		tracker.Record(obs)
	}
	// Uncapped value would exceed 2.0; the cap holds.
	if boost := tracker.Boost(obs); boost != 2.0 {
		t.Fatalf("expected capped boost 2.0, got %.3f", boost)
	}
}

func TestBoostDisabled(t *testing.T) {
	cfg := DefaultRepetitionConfig()
	cfg.Enabled = false
	tracker := NewRepetitionTracker(cfg)
	obs := entryObs("o1", 500_000)

	for i := 0; i < 10; i++ {
		tracker.Record(obs)
	}
	if boost := tracker.Boost(obs); boost != 1.0 {
		t.Fatalf("expected boost 1.0 when disabled, got %.3f", boost)
	}
	if stats := tracker.Stats(5); stats.TotalPatterns != 0 {
		t.Fatalf("expected no recorded patterns when disabled, got %d", stats.TotalPatterns)
	}
}

func TestCombinedBoostIsMean(t *testing.T) {
	tracker := NewRepetitionTracker(DefaultRepetitionConfig())
	entry := entryObs("e1", 500_000)
	exit := models.Observation{
		ID:               "x1",
		Type:             models.ExitObserved,
		TimestampMicros:  1_000_000_000,
		RelayFingerprint: "3333333333333333333333333333333333333333",
		Bytes:            500_000,
	}

	tracker.Record(entry)
	tracker.Record(entry)
	tracker.Record(exit)

	// entry boost 1.5, exit boost 1.0 -> combined 1.25
	if combined := tracker.CombinedBoost(entry, exit); math.Abs(combined-1.25) > 1e-9 {
		t.Fatalf("expected combined boost 1.25, got %.3f", combined)
	}
}

func TestStats(t *testing.T) {
	tracker := NewRepetitionTracker(DefaultRepetitionConfig())
	for i := 0; i < 4; i++ {
		tracker.Record(entryObs(fmt.Sprintf("a%d", i), 500_000))
	}
	tracker.Record(entryObs("b", 900_000))

	stats := tracker.Stats(1)
	if stats.TotalPatterns != 2 {
		t.Fatalf("expected 2 patterns, got %d", stats.TotalPatterns)
	}
	if stats.TotalObservations != 5 {
		t.Fatalf("expected 5 observations, got %d", stats.TotalObservations)
	}
	if stats.RepeatedPatterns != 1 {
		t.Fatalf("expected 1 repeated pattern, got %d", stats.RepeatedPatterns)
	}
	if stats.MaxRepetitions != 4 {
		t.Fatalf("expected max repetitions 4, got %d", stats.MaxRepetitions)
	}
	if math.Abs(stats.AverageRepetitions-2.5) > 1e-9 {
		t.Fatalf("expected average 2.5, got %.3f", stats.AverageRepetitions)
	}
	if len(stats.TopPatterns) != 1 || stats.TopPatterns[0].Count != 4 {
		t.Fatalf("unexpected top patterns: %+v", stats.TopPatterns)
	}
}
