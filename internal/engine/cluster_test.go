package engine

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/relaywatch/correlator/internal/models"
)

func clusterPair(n int, guard string, final float64) models.SessionPair {
	entryID := fmt.Sprintf("e%d", n)
	exitID := fmt.Sprintf("x%d", n)
	return models.SessionPair{
		PairID:            models.PairID(entryID, exitID),
		Entry:             obsEntry(entryID, int64(1_000_000_000+n*60_000_000), guard, 2_500_000),
		Exit:              obsExit(exitID, int64(1_000_800_000+n*60_000_000), exitOne, 2_520_000),
		FinalCorrelation:  final,
		HypothesizedGuard: guard,
	}
}

func TestClusterFormation(t *testing.T) {
	pairs := make([]models.SessionPair, 0, 5)
	for i := 0; i < 5; i++ {
		pairs = append(pairs, clusterPair(i, guardOne, 80))
	}

	clusters, audit := NewClusterBuilder(nil, 3).Build(pairs)
	if len(audit) != 0 {
		t.Fatalf("unexpected audit lines: %v", audit)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected one cluster, got %d", len(clusters))
	}

	c := clusters[0]
	if c.ClusterID != "cluster-1" {
		t.Fatalf("unexpected cluster id %q", c.ClusterID)
	}
	if math.Abs(c.ConsistencyScore-80) > 1e-9 {
		t.Fatalf("expected consistency 80, got %.2f", c.ConsistencyScore)
	}
	// persistence = min(100, 10*5) = 50
	if math.Abs(c.GuardPersistenceScore-50) > 1e-9 {
		t.Fatalf("expected persistence 50, got %.2f", c.GuardPersistenceScore)
	}
	// confidence = 0.6*80 + 0.4*50 = 68
	if math.Abs(c.ClusterConfidence-68) > 1e-9 {
		t.Fatalf("expected confidence 68, got %.2f", c.ClusterConfidence)
	}
	if len(c.ProbableGuards) != 1 || c.ProbableGuards[0] != guardOne {
		t.Fatalf("unexpected probable guards %v", c.ProbableGuards)
	}
	if c.ObservationCount != 10 {
		t.Fatalf("expected 10 distinct observations, got %d", c.ObservationCount)
	}
	if len(c.SessionPairIDs) != 5 {
		t.Fatalf("expected 5 pair ids, got %d", len(c.SessionPairIDs))
	}
	if len(c.Reasoning) == 0 {
		t.Fatalf("expected cluster reasoning")
	}
}

func TestClusterBelowMinimum(t *testing.T) {
	pairs := []models.SessionPair{
		clusterPair(0, guardOne, 75),
		clusterPair(1, guardOne, 85),
	}

	clusters, audit := NewClusterBuilder(nil, 3).Build(pairs)
	if len(clusters) != 0 {
		t.Fatalf("expected no clusters below minimum, got %d", len(clusters))
	}
	if len(audit) != 1 || !strings.Contains(audit[0], "below min_cluster_observations") {
		t.Fatalf("expected below-minimum audit line, got %v", audit)
	}
}

func TestClusterDeterministicIDs(t *testing.T) {
	pairs := make([]models.SessionPair, 0, 8)
	for i := 0; i < 4; i++ {
		pairs = append(pairs, clusterPair(i, guardOne, 90))
	}
	for i := 4; i < 8; i++ {
		pairs = append(pairs, clusterPair(i, guardTwo, 60))
	}

	first, _ := NewClusterBuilder(nil, 3).Build(pairs)
	second, _ := NewClusterBuilder(nil, 3).Build(pairs)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected two clusters per run")
	}
	for i := range first {
		if first[i].ClusterID != second[i].ClusterID {
			t.Fatalf("cluster ids differ between runs")
		}
		if first[i].ProbableGuards[0] != second[i].ProbableGuards[0] {
			t.Fatalf("cluster ordering differs between runs")
		}
	}
	// Higher-confidence group ranks first.
	if first[0].ProbableGuards[0] != guardOne {
		t.Fatalf("expected guardOne cluster first, got %s", first[0].ProbableGuards[0])
	}
}
