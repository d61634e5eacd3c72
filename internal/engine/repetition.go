package engine

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/relaywatch/correlator/internal/models"
)

// volumeBucketSize groups similar-but-not-identical volumes into 100kB
// buckets when forming pattern keys.
const volumeBucketSize = 100_000

// RepetitionConfig controls pattern-frequency boosting.
type RepetitionConfig struct {
	Enabled        bool
	MinRepetitions int
	BoostFactor    float64
	MaxBoost       float64
}

// DefaultRepetitionConfig returns the standard boost parameters.
func DefaultRepetitionConfig() RepetitionConfig {
	return RepetitionConfig{
		Enabled:        true,
		MinRepetitions: 2,
		BoostFactor:    1.5,
		MaxBoost:       2.0,
	}
}

// RepetitionTracker counts pattern-key frequencies across ingested
// observations and derives boost multipliers. It is the engine's only
// mutable state; all methods are safe for concurrent use so a single
// tracker may accumulate counts across runs.
type RepetitionTracker struct {
	mu            sync.Mutex
	cfg           RepetitionConfig
	patternCounts map[string]int
	relayHistory  map[string][]string
}

// RepetitionStats summarizes tracked pattern frequencies.
type RepetitionStats struct {
	TotalPatterns      int            `json:"total_patterns"`
	TotalObservations  int            `json:"total_observations"`
	RepeatedPatterns   int            `json:"repeated_patterns"`
	MaxRepetitions     int            `json:"max_repetitions"`
	AverageRepetitions float64        `json:"average_repetitions"`
	TopPatterns        []PatternCount `json:"top_patterns"`
}

// PatternCount pairs a pattern key with its occurrence count.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// NewRepetitionTracker constructs a tracker with the given configuration.
func NewRepetitionTracker(cfg RepetitionConfig) *RepetitionTracker {
	if cfg.MinRepetitions <= 0 {
		cfg.MinRepetitions = 2
	}
	if cfg.BoostFactor <= 1 {
		cfg.BoostFactor = 1.5
	}
	if cfg.MaxBoost < 1 {
		cfg.MaxBoost = 2.0
	}
	return &RepetitionTracker{
		cfg:           cfg,
		patternCounts: make(map[string]int),
		relayHistory:  make(map[string][]string),
	}
}

// PatternKey derives the deterministic grouping key for an observation:
// relay fingerprint, observation type, and the 100kB volume bucket, joined
// with ":" (safe because fingerprints are hex).
func PatternKey(obs models.Observation) string {
	bucket := obs.Bytes / volumeBucketSize * volumeBucketSize
	return fmt.Sprintf("%s:%s:%d", obs.RelayFingerprint, obs.Type, bucket)
}

// Record increments the frequency count for the observation's pattern key.
// A no-op when the feature is disabled.
func (t *RepetitionTracker) Record(obs models.Observation) {
	if !t.cfg.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patternCounts[PatternKey(obs)]++
	t.relayHistory[obs.RelayFingerprint] = append(t.relayHistory[obs.RelayFingerprint], obs.ID)
}

// Boost returns the multiplier for one observation: 1.0 below the repetition
// threshold, otherwise min(maxBoost, 1 + log2(count)*(factor-1)).
func (t *RepetitionTracker) Boost(obs models.Observation) float64 {
	if !t.cfg.Enabled {
		return 1.0
	}
	t.mu.Lock()
	count := t.patternCounts[PatternKey(obs)]
	t.mu.Unlock()

	if count < t.cfg.MinRepetitions {
		return 1.0
	}
	boost := 1.0 + math.Log2(float64(count))*(t.cfg.BoostFactor-1.0)
	return math.Min(boost, t.cfg.MaxBoost)
}

// CombinedBoost averages the entry and exit boosts for a candidate pair.
func (t *RepetitionTracker) CombinedBoost(entry, exit models.Observation) float64 {
	return (t.Boost(entry) + t.Boost(exit)) / 2
}

// Enabled reports whether repetition weighting is active.
func (t *RepetitionTracker) Enabled() bool {
	return t.cfg.Enabled
}

// Stats reports aggregate pattern-frequency statistics with the top-N most
// repeated patterns (count descending, key ascending on ties).
func (t *RepetitionTracker) Stats(topN int) RepetitionStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := RepetitionStats{TotalPatterns: len(t.patternCounts)}
	if stats.TotalPatterns == 0 {
		return stats
	}

	counts := make([]PatternCount, 0, len(t.patternCounts))
	total := 0
	for key, count := range t.patternCounts {
		counts = append(counts, PatternCount{Pattern: key, Count: count})
		total += count
		if count >= 2 {
			stats.RepeatedPatterns++
		}
		if count > stats.MaxRepetitions {
			stats.MaxRepetitions = count
		}
	}
	stats.TotalObservations = total
	stats.AverageRepetitions = float64(total) / float64(len(t.patternCounts))

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Pattern < counts[j].Pattern
	})
	if topN > 0 && len(counts) > topN {
		counts = counts[:topN]
	}
	stats.TopPatterns = counts
	return stats
}
