package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/relaywatch/correlator/internal/models"
)

// ClusterBuilder groups accepted pairs by hypothesized guard and emits
// clusters for groups large enough to indicate repeated behaviour.
type ClusterBuilder struct {
	logger          *slog.Logger
	minObservations int
}

// NewClusterBuilder constructs a builder with the minimum group size.
func NewClusterBuilder(logger *slog.Logger, minObservations int) *ClusterBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if minObservations <= 0 {
		minObservations = 3
	}
	return &ClusterBuilder{logger: logger, minObservations: minObservations}
}

// Build groups pairs by guard fingerprint. Groups below the minimum size are
// discarded with an audit line; this is a data outcome, not an error.
func (b *ClusterBuilder) Build(pairs []models.SessionPair) ([]models.CorrelationCluster, []string) {
	groups := make(map[string][]models.SessionPair)
	for _, pair := range pairs {
		if pair.HypothesizedGuard == "" {
			continue
		}
		groups[pair.HypothesizedGuard] = append(groups[pair.HypothesizedGuard], pair)
	}

	guards := make([]string, 0, len(groups))
	for guard := range groups {
		guards = append(guards, guard)
	}
	sort.Strings(guards)

	clusters := make([]models.CorrelationCluster, 0, len(groups))
	audit := make([]string, 0)

	for _, guard := range guards {
		group := groups[guard]
		if len(group) < b.minObservations {
			audit = append(audit, fmt.Sprintf(
				"guard %s: group of %d below min_cluster_observations (%d)",
				shortFingerprint(guard), len(group), b.minObservations))
			continue
		}
		clusters = append(clusters, b.build(guard, group))
	}

	// Rank by confidence descending, guard fingerprint on ties, then assign
	// sequential identifiers so two identical runs emit identical clusters.
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].ClusterConfidence != clusters[j].ClusterConfidence {
			return clusters[i].ClusterConfidence > clusters[j].ClusterConfidence
		}
		return clusters[i].ProbableGuards[0] < clusters[j].ProbableGuards[0]
	})
	for i := range clusters {
		clusters[i].ClusterID = fmt.Sprintf("cluster-%d", i+1)
	}

	b.logger.Debug("clustering complete",
		slog.Int("groups", len(groups)),
		slog.Int("clusters", len(clusters)))
	return clusters, audit
}

func (b *ClusterBuilder) build(guard string, group []models.SessionPair) models.CorrelationCluster {
	pairIDs := make([]string, 0, len(group))
	seen := make(map[string]struct{})
	observationIDs := make([]string, 0, 2*len(group))
	firstSeen := group[0].Entry.TimestampMicros
	lastSeen := firstSeen

	sumFinal := 0.0
	for _, pair := range group {
		pairIDs = append(pairIDs, pair.PairID)
		sumFinal += pair.FinalCorrelation
		for _, id := range []string{pair.Entry.ID, pair.Exit.ID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			observationIDs = append(observationIDs, id)
		}
		for _, ts := range []int64{pair.Entry.TimestampMicros, pair.Exit.TimestampMicros} {
			if ts < firstSeen {
				firstSeen = ts
			}
			if ts > lastSeen {
				lastSeen = ts
			}
		}
	}
	sort.Strings(observationIDs)

	consistency := sumFinal / float64(len(group))
	persistence := clamp(10*float64(len(group)), 0, 100)
	confidence := 0.6*consistency + 0.4*persistence

	spanHours := float64(lastSeen-firstSeen) / 1e6 / 3600
	reasoning := []string{
		fmt.Sprintf("Found %d correlated session pairs sharing hypothesized guard %s...", len(group), shortFingerprint(guard)),
		fmt.Sprintf("Average correlation strength across the group: %.1f%%.", consistency),
		fmt.Sprintf("Observations span %.1f hours.", spanHours),
		fmt.Sprintf("Guard persistence score: %.1f%% (%d recurrences of the same entry point).", persistence, len(group)),
	}
	if persistence > 70 {
		reasoning = append(reasoning, "Strong guard persistence indicates consistent client behaviour.")
	}

	return models.CorrelationCluster{
		SessionPairIDs:        pairIDs,
		ObservationIDs:        observationIDs,
		ObservationCount:      len(observationIDs),
		ProbableGuards:        []string{guard},
		FirstSeenMicros:       firstSeen,
		LastSeenMicros:        lastSeen,
		ConsistencyScore:      consistency,
		GuardPersistenceScore: persistence,
		ClusterConfidence:     confidence,
		Reasoning:             reasoning,
	}
}
