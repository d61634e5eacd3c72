package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/topology"
)

// Config carries every knob of one correlation run.
type Config struct {
	WindowSeconds          float64
	MinConfidence          float64
	MinClusterObservations int
	StrictRelays           bool
	Repetition             RepetitionConfig
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowSeconds:          300,
		MinConfidence:          30,
		MinClusterObservations: 3,
		StrictRelays:           false,
		Repetition:             DefaultRepetitionConfig(),
	}
}

// Result is the immutable output of one correlation run.
type Result struct {
	Pairs    []models.SessionPair        `json:"session_pairs"`
	Clusters []models.CorrelationCluster `json:"clusters"`
	Audit    []string                    `json:"audit"`
	Stats    RunStats                    `json:"stats"`
}

// RunStats summarizes the run for logging and the API surface.
type RunStats struct {
	EntryObservations int `json:"entry_observations"`
	ExitObservations  int `json:"exit_observations"`
	DroppedCandidates int `json:"dropped_candidates"`
	EmittedPairs      int `json:"emitted_pairs"`
	EmittedClusters   int `json:"emitted_clusters"`
}

// Engine correlates entry and exit observation batches against a frozen
// topology snapshot. The repetition tracker is its only mutable state; every
// other component of a run is pure.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	tracker *RepetitionTracker
}

// New constructs an engine with its own repetition tracker.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 300
	}
	if cfg.MinClusterObservations <= 0 {
		cfg.MinClusterObservations = 3
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		tracker: NewRepetitionTracker(cfg.Repetition),
	}
}

// Tracker exposes the engine's repetition tracker for statistics queries.
func (e *Engine) Tracker() *RepetitionTracker { return e.tracker }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Correlate validates the inputs, records every observation with the
// repetition tracker, assembles scored pairs, and groups them into clusters.
// Hard failures (invalid input, strict-mode unknown relays, internal
// invariants) return an error with no partial result; everything else is a
// data outcome recorded in the audit trail.
func (e *Engine) Correlate(
	ctx context.Context,
	topo *topology.Snapshot,
	entries, exits []models.Observation,
	profile models.WeightProfile,
) (*Result, error) {
	if topo == nil {
		return nil, models.NewError(models.ErrInputValidation, "", "topology snapshot is required")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := e.validateObservations(topo, entries, exits); err != nil {
		return nil, err
	}

	e.logger.Info("correlation run starting",
		slog.String("snapshot", topo.ID()),
		slog.String("profile", profile.ID),
		slog.Int("entries", len(entries)),
		slog.Int("exits", len(exits)))

	// Every observation is submitted to the tracker before pairing so that
	// boosts reflect the full batch.
	for _, obs := range entries {
		e.tracker.Record(obs)
	}
	for _, obs := range exits {
		e.tracker.Record(obs)
	}

	assembler := NewAssembler(e.logger, topo, profile, e.tracker,
		e.cfg.WindowSeconds, e.cfg.MinConfidence, e.cfg.StrictRelays)
	pairs, pairAudit, err := assembler.Assemble(ctx, entries, exits)
	if err != nil {
		return nil, err
	}

	clusters, clusterAudit := NewClusterBuilder(e.logger, e.cfg.MinClusterObservations).Build(pairs)

	result := &Result{
		Pairs:    pairs,
		Clusters: clusters,
		Audit:    append(pairAudit, clusterAudit...),
		Stats: RunStats{
			EntryObservations: len(entries),
			ExitObservations:  len(exits),
			DroppedCandidates: len(pairAudit),
			EmittedPairs:      len(pairs),
			EmittedClusters:   len(clusters),
		},
	}

	e.logger.Info("correlation run complete",
		slog.Int("pairs", len(pairs)),
		slog.Int("clusters", len(clusters)),
		slog.Int("dropped", len(pairAudit)))
	return result, nil
}

// validateObservations enforces the input invariants: unique identifiers,
// known observation types, non-negative volumes, and capability agreement
// for fingerprints that resolve in the snapshot. In strict mode unresolved
// fingerprints are also rejected here.
func (e *Engine) validateObservations(topo *topology.Snapshot, entries, exits []models.Observation) error {
	seen := make(map[string]struct{}, len(entries)+len(exits))

	check := func(obs models.Observation, want models.ObservationType) error {
		if obs.ID == "" {
			return models.NewError(models.ErrInputValidation, "", "observation id is empty")
		}
		if _, dup := seen[obs.ID]; dup {
			return models.NewError(models.ErrInputValidation, obs.ID, "duplicate observation id")
		}
		seen[obs.ID] = struct{}{}

		if !obs.Type.Valid() {
			return models.NewError(models.ErrInputValidation, obs.ID, fmt.Sprintf("unknown observation type %q", obs.Type))
		}
		if obs.Type != want {
			return models.NewError(models.ErrInputValidation, obs.ID, fmt.Sprintf("observation type %q in %q list", obs.Type, want))
		}
		if obs.Bytes < 0 {
			return models.NewError(models.ErrInputValidation, obs.ID, "negative byte volume")
		}
		if obs.TimestampMicros <= 0 {
			return models.NewError(models.ErrInputValidation, obs.ID, "missing timestamp")
		}
		if obs.RelayFingerprint == "" {
			return models.NewError(models.ErrInputValidation, obs.ID, "missing relay fingerprint")
		}

		relay, err := topo.Relay(obs.RelayFingerprint)
		if err != nil {
			if e.cfg.StrictRelays {
				return models.NewError(models.ErrUnknownRelay, obs.ID, "relay "+obs.RelayFingerprint+" not in snapshot")
			}
			// Lenient mode: candidates using this observation are dropped
			// later with an audit line.
			return nil
		}
		if want == models.EntryObserved && !relay.GuardCapable() {
			return models.NewError(models.ErrInputValidation, obs.ID, "entry observation at non-guard relay")
		}
		if want == models.ExitObserved && !relay.ExitCapable() {
			return models.NewError(models.ErrInputValidation, obs.ID, "exit observation at non-exit relay")
		}
		return nil
	}

	for _, obs := range entries {
		if err := check(obs, models.EntryObserved); err != nil {
			return err
		}
	}
	for _, obs := range exits {
		if err := check(obs, models.ExitObserved); err != nil {
			return err
		}
	}
	return nil
}
