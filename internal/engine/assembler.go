package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/topology"
)

// softApplication halves the repetition boost at application time so that
// repetition alone cannot saturate a score. Contract, not tunable.
const softApplication = 0.5

// Assembler iterates candidate entry/exit pairs, applies the pre-filters,
// combines the signal scores under a weight profile, and emits SessionPairs
// with a complete reasoning trace.
type Assembler struct {
	logger  *slog.Logger
	topo    *topology.Snapshot
	profile models.WeightProfile
	tracker *RepetitionTracker

	windowSeconds float64
	minConfidence float64
	strictRelays  bool
}

// NewAssembler constructs an assembler for one correlation run.
func NewAssembler(
	logger *slog.Logger,
	topo *topology.Snapshot,
	profile models.WeightProfile,
	tracker *RepetitionTracker,
	windowSeconds, minConfidence float64,
	strictRelays bool,
) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		logger:        logger,
		topo:          topo,
		profile:       profile,
		tracker:       tracker,
		windowSeconds: windowSeconds,
		minConfidence: minConfidence,
		strictRelays:  strictRelays,
	}
}

// Assemble sweeps all candidate pairs within the correlation window and
// returns the accepted pairs in ranked order plus the audit trail of dropped
// candidates. The run is cancellable between candidates; on cancellation no
// partial result is returned.
func (a *Assembler) Assemble(ctx context.Context, entries, exits []models.Observation) ([]models.SessionPair, []string, error) {
	sorted := func(obs []models.Observation) []models.Observation {
		out := append([]models.Observation(nil), obs...)
		sort.Slice(out, func(i, j int) bool {
			if out[i].TimestampMicros != out[j].TimestampMicros {
				return out[i].TimestampMicros < out[j].TimestampMicros
			}
			return out[i].ID < out[j].ID
		})
		return out
	}
	entries = sorted(entries)
	exits = sorted(exits)

	windowMicros := int64(a.windowSeconds * 1e6)
	pairs := make([]models.SessionPair, 0)
	audit := make([]string, 0)

	// Time-sorted sweep: for each entry, only the exits inside the window
	// are visited. Semantics match the full E×X iteration.
	lo := 0
	for _, entry := range entries {
		for lo < len(exits) && exits[lo].TimestampMicros < entry.TimestampMicros-windowMicros {
			lo++
		}
		for i := lo; i < len(exits); i++ {
			exit := exits[i]
			if exit.TimestampMicros > entry.TimestampMicros+windowMicros {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			pair, drop, err := a.evaluate(entry, exit)
			if err != nil {
				return nil, nil, err
			}
			if drop != "" {
				audit = append(audit, drop)
				continue
			}
			pairs = append(pairs, pair)
		}
	}

	// Ranked order: final descending, then time delta ascending, then pair
	// id. Stable and reproducible across runs.
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].FinalCorrelation != pairs[j].FinalCorrelation {
			return pairs[i].FinalCorrelation > pairs[j].FinalCorrelation
		}
		if pairs[i].TimeDelta != pairs[j].TimeDelta {
			return pairs[i].TimeDelta < pairs[j].TimeDelta
		}
		return pairs[i].PairID < pairs[j].PairID
	})

	a.logger.Debug("pair assembly complete",
		slog.Int("accepted", len(pairs)),
		slog.Int("dropped", len(audit)))
	return pairs, audit, nil
}

// evaluate scores a single candidate. A non-empty drop string means the
// candidate was rejected as a data outcome; an error means a hard failure.
func (a *Assembler) evaluate(entry, exit models.Observation) (models.SessionPair, string, error) {
	pairID := models.PairID(entry.ID, exit.ID)

	if !a.topo.Contains(entry.RelayFingerprint) || !a.topo.Contains(exit.RelayFingerprint) {
		missing := entry.RelayFingerprint
		if a.topo.Contains(entry.RelayFingerprint) {
			missing = exit.RelayFingerprint
		}
		if a.strictRelays {
			return models.SessionPair{}, "", models.NewError(models.ErrUnknownRelay, missing, "observation relay not in snapshot")
		}
		return models.SessionPair{}, fmt.Sprintf("pair %s dropped: unknown relay %s", pairID, missing), nil
	}

	if ok, reason := a.topo.PathFeasible(entry.RelayFingerprint, exit.RelayFingerprint); !ok {
		return models.SessionPair{}, fmt.Sprintf("pair %s dropped: infeasible path: %s", pairID, reason), nil
	}

	delta := models.DeltaSeconds(entry, exit)
	timeScore, timeExplanation := TimeCorrelation(delta, a.windowSeconds)
	volumeScore, volumeExplanation := VolumeSimilarity(entry.Bytes, exit.Bytes)
	patternScore, patternExplanation := PatternSimilarity(entry.PacketTimings, exit.PacketTimings)

	base := timeScore*a.profile.TimeWeight +
		volumeScore*a.profile.VolumeWeight +
		patternScore*a.profile.PatternWeight
	base = clamp(base, 0, 100)

	boost := a.tracker.CombinedBoost(entry, exit)
	final := clamp(base*(1+(boost-1)*softApplication), 0, 100)

	if final < a.minConfidence {
		return models.SessionPair{}, fmt.Sprintf(
			"pair %s dropped: final correlation %.1f below threshold %.1f", pairID, final, a.minConfidence), nil
	}

	guardProbability, err := a.topo.GuardSelectionProbability(entry.RelayFingerprint)
	if err != nil {
		return models.SessionPair{}, "", err
	}
	guardConfidence := clamp(0.7*final+0.3*(100*guardProbability), 0, 100)

	reasoning := []string{
		fmt.Sprintf("Pairing entry observation %q with exit observation %q.", entry.ID, exit.ID),
		timeExplanation,
		volumeExplanation,
		patternExplanation,
		a.compositeSentence(timeScore, volumeScore, patternScore, base),
		a.repetitionSentence(base, boost, final),
		fmt.Sprintf(
			"Entry relay %s... hypothesized as the guard (selection probability %.2f%%). Guard confidence: %.1f%%.",
			shortFingerprint(entry.RelayFingerprint), 100*guardProbability, guardConfidence),
		verdictSentence(final),
	}

	pair := models.SessionPair{
		PairID:            pairID,
		Entry:             entry,
		Exit:              exit,
		TimeDelta:         delta,
		BaseCorrelation:   base,
		RepetitionBoost:   boost,
		FinalCorrelation:  final,
		HypothesizedGuard: entry.RelayFingerprint,
		GuardConfidence:   guardConfidence,
		Reasoning:         reasoning,
		Breakdown: models.ScoreBreakdown{
			Time: models.SignalScore{
				Score:        timeScore,
				Weight:       a.profile.TimeWeight,
				Contribution: timeScore * a.profile.TimeWeight,
				Reasoning:    timeExplanation,
			},
			Volume: models.SignalScore{
				Score:        volumeScore,
				Weight:       a.profile.VolumeWeight,
				Contribution: volumeScore * a.profile.VolumeWeight,
				Reasoning:    volumeExplanation,
			},
			Pattern: models.SignalScore{
				Score:        patternScore,
				Weight:       a.profile.PatternWeight,
				Contribution: patternScore * a.profile.PatternWeight,
				Reasoning:    patternExplanation,
			},
			Base:            base,
			RepetitionBoost: boost,
			Final:           final,
		},
	}
	return pair, "", nil
}

func (a *Assembler) compositeSentence(timeScore, volumeScore, patternScore, base float64) string {
	sentence := fmt.Sprintf(
		"Composite score using %s profile: time (%.0f%%) x %.1f = %.1f, volume (%.0f%%) x %.1f = %.1f, pattern (%.0f%%) x %.1f = %.1f. Base correlation: %.1f%%.",
		a.profile.Name,
		100*a.profile.TimeWeight, timeScore, timeScore*a.profile.TimeWeight,
		100*a.profile.VolumeWeight, volumeScore, volumeScore*a.profile.VolumeWeight,
		100*a.profile.PatternWeight, patternScore, patternScore*a.profile.PatternWeight,
		base)
	if a.profile.Type == models.ProfileCustom && (a.profile.CaseID != "" || a.profile.CreatedBy != "") {
		sentence += fmt.Sprintf(" Custom profile for case %s created by %s.", a.profile.CaseID, a.profile.CreatedBy)
	}
	return sentence
}

func (a *Assembler) repetitionSentence(base, boost, final float64) string {
	if !a.tracker.Enabled() {
		return "Repetition weighting disabled; boost factor 1.00x."
	}
	if boost > 1.0 {
		return fmt.Sprintf(
			"Repetition boost applied: this pattern has been observed before in the ingestion sequence. Base %.1f%% raised to %.1f%% (boost factor %.2fx, applied at half strength).",
			base, final, boost)
	}
	return fmt.Sprintf("No repetition boost applied (pattern not yet repeated). Final correlation: %.1f%%.", final)
}

func verdictSentence(final float64) string {
	bucket := models.ConfidenceBucket(final)
	switch bucket {
	case "HIGH CONFIDENCE":
		return fmt.Sprintf("%s (%.1f%%): strong evidence these observations represent the same session.", bucket, final)
	case "MEDIUM CONFIDENCE":
		return fmt.Sprintf("%s (%.1f%%): moderate correlation; some indicators align but uncertainty remains.", bucket, final)
	default:
		return fmt.Sprintf("%s (%.1f%%): weak correlation; may be coincidental.", bucket, final)
	}
}

func shortFingerprint(fp string) string {
	if len(fp) <= 16 {
		return fp
	}
	return fp[:16]
}
