package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/relaywatch/correlator/internal/engine"
	"github.com/relaywatch/correlator/internal/generator"
	"github.com/relaywatch/correlator/internal/metrics"
	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/repo"
	"github.com/relaywatch/correlator/internal/topology"
	"github.com/relaywatch/correlator/internal/utils"
)

// AnalysisService is the facade between the HTTP surface and the engine. It
// owns the active snapshot, the observation store for the current case, the
// active weight profile, and the last analysis result.
type AnalysisService struct {
	mu sync.RWMutex

	logger    *slog.Logger
	engine    *engine.Engine
	directory *repo.DirectoryClient
	validate  *validator.Validate
	latencies *utils.LatencyTracker

	topo         *topology.Snapshot
	profile      models.WeightProfile
	observations []models.Observation
	obsIndex     map[string]struct{}
	lastResult   *engine.Result
	runs         int
}

// NewAnalysisService constructs the service facade.
func NewAnalysisService(logger *slog.Logger, eng *engine.Engine, directory *repo.DirectoryClient, profile models.WeightProfile) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		logger:    logger,
		engine:    eng,
		directory: directory,
		validate:  validator.New(),
		latencies: utils.NewLatencyTracker(1024),
		profile:   profile,
		obsIndex:  make(map[string]struct{}),
	}
}

// RefreshTopology fetches a fresh snapshot from the relay directory and makes
// it the active one.
func (s *AnalysisService) RefreshTopology(ctx context.Context, limit int) (*topology.Snapshot, error) {
	if s.directory == nil {
		return nil, fmt.Errorf("directory client not configured")
	}
	snap, err := s.directory.Snapshot(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("refresh topology: %w", err)
	}
	s.mu.Lock()
	s.topo = snap
	s.mu.Unlock()
	s.logger.Info("topology refreshed",
		slog.String("snapshot", snap.ID()),
		slog.Int("relays", snap.Len()),
		slog.Int("guards", snap.GuardCount()),
		slog.Int("exits", snap.ExitCount()))
	return snap, nil
}

// SetSnapshot installs an externally built snapshot (tests, replayed data).
func (s *AnalysisService) SetSnapshot(snap *topology.Snapshot) {
	s.mu.Lock()
	s.topo = snap
	s.mu.Unlock()
}

// Snapshot returns the active snapshot, or nil before the first fetch.
func (s *AnalysisService) Snapshot() *topology.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topo
}

// AddObservation validates and stores one observation for the next analysis.
func (s *AnalysisService) AddObservation(obs models.Observation) error {
	if err := s.validate.Struct(obs); err != nil {
		return models.NewError(models.ErrInputValidation, obs.ID, err.Error())
	}
	if obs.Bytes < 0 {
		return models.NewError(models.ErrInputValidation, obs.ID, "negative byte volume")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.obsIndex[obs.ID]; dup {
		return models.NewError(models.ErrInputValidation, obs.ID, "duplicate observation id")
	}
	s.obsIndex[obs.ID] = struct{}{}
	s.observations = append(s.observations, obs)
	return nil
}

// Observations returns stored observations, newest last. A positive limit
// truncates the result.
func (s *AnalysisService) Observations(limit int) []models.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.Observation(nil), s.observations...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GenerateSynthetic creates correlated synthetic sessions against the active
// snapshot and stores them like externally submitted observations.
func (s *AnalysisService) GenerateSynthetic(sessions int, guardPersistence, includeTimings bool, seed int64) (int, error) {
	snap := s.Snapshot()
	if snap == nil {
		return 0, fmt.Errorf("no active topology snapshot")
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	gen := generator.New(snap, seed)
	entries, exits, err := gen.UserSessions(generator.Options{
		Sessions:         sessions,
		BaseTime:         time.Now().UTC().Add(-24 * time.Hour),
		SpreadHours:      24,
		GuardPersistence: guardPersistence,
		IncludeTimings:   includeTimings,
	})
	if err != nil {
		return 0, fmt.Errorf("generate sessions: %w", err)
	}

	added := 0
	for _, obs := range append(entries, exits...) {
		if err := s.AddObservation(obs); err != nil {
			s.logger.Warn("synthetic observation rejected", slog.String("id", obs.ID), slog.Any("error", err))
			continue
		}
		added++
	}
	return added, nil
}

// Analyze runs the engine over every stored observation with the active
// profile and snapshot, and retains the result for follow-up queries.
func (s *AnalysisService) Analyze(ctx context.Context) (*engine.Result, error) {
	s.mu.RLock()
	snap := s.topo
	profile := s.profile
	var entries, exits []models.Observation
	for _, obs := range s.observations {
		switch obs.Type {
		case models.EntryObserved:
			entries = append(entries, obs)
		case models.ExitObserved:
			exits = append(exits, obs)
		}
	}
	s.mu.RUnlock()

	if snap == nil {
		return nil, fmt.Errorf("no active topology snapshot")
	}

	start := time.Now()
	result, err := s.engine.Correlate(ctx, snap, entries, exits, profile)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRun(duration, metrics.OutcomeError)
		s.logger.Error("analysis failed", slog.Any("error", err))
		return nil, err
	}

	metrics.ObserveRun(duration, metrics.OutcomeSuccess)
	metrics.AddPairsEmitted(result.Stats.EmittedPairs)
	for reason, n := range classifyAudit(result.Audit) {
		metrics.AddCandidatesDropped(reason, n)
	}

	s.latencies.Observe(duration)

	s.mu.Lock()
	s.lastResult = result
	s.runs++
	runs := s.runs
	s.mu.Unlock()

	if runs%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", s.latencies.Count()))
	}
	return result, nil
}

// LastResult returns the most recent analysis result, or nil.
func (s *AnalysisService) LastResult() *engine.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// Pairs filters the last result's pairs by a minimum final correlation.
// Ranked order is preserved. A positive limit truncates the list.
func (s *AnalysisService) Pairs(minConfidence float64, limit int) []models.SessionPair {
	result := s.LastResult()
	if result == nil {
		return nil
	}
	out := make([]models.SessionPair, 0, len(result.Pairs))
	for _, pair := range result.Pairs {
		if pair.FinalCorrelation >= minConfidence {
			out = append(out, pair)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Clusters filters the last result's clusters by minimum cluster confidence.
func (s *AnalysisService) Clusters(minConfidence float64) []models.CorrelationCluster {
	result := s.LastResult()
	if result == nil {
		return nil
	}
	out := make([]models.CorrelationCluster, 0, len(result.Clusters))
	for _, cluster := range result.Clusters {
		if cluster.ClusterConfidence >= minConfidence {
			out = append(out, cluster)
		}
	}
	return out
}

// PairByID returns an emitted pair with its full reasoning trace.
func (s *AnalysisService) PairByID(id string) (models.SessionPair, error) {
	result := s.LastResult()
	if result == nil {
		return models.SessionPair{}, models.NewError(models.ErrInputValidation, id, "no analysis has been run")
	}
	for _, pair := range result.Pairs {
		if pair.PairID == id {
			return pair, nil
		}
	}
	return models.SessionPair{}, models.NewError(models.ErrInputValidation, id, "pair not found in last analysis")
}

// RepetitionStats exposes the tracker's aggregate statistics.
func (s *AnalysisService) RepetitionStats(topN int) engine.RepetitionStats {
	return s.engine.Tracker().Stats(topN)
}

// Profile returns the active weight profile.
func (s *AnalysisService) Profile() models.WeightProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile validates and installs a new active weight profile.
func (s *AnalysisService) SetProfile(profile models.WeightProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()
	s.logger.Info("weight profile updated",
		slog.String("profile", profile.ID),
		slog.Float64("time", profile.TimeWeight),
		slog.Float64("volume", profile.VolumeWeight),
		slog.Float64("pattern", profile.PatternWeight))
	return nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *AnalysisService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

// classifyAudit buckets audit lines into metric reason labels.
func classifyAudit(audit []string) map[string]int {
	reasons := make(map[string]int)
	for _, line := range audit {
		switch {
		case strings.Contains(line, "unknown relay"):
			reasons[string(models.ErrUnknownRelay)]++
		case strings.Contains(line, "infeasible"):
			reasons[string(models.ErrInfeasible)]++
		case strings.Contains(line, "below threshold"),
			strings.Contains(line, "below min_cluster_observations"):
			reasons[string(models.ErrBelowThreshold)]++
		default:
			reasons["other"]++
		}
	}
	return reasons
}
