package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/topology"
)

// Generator produces synthetic correlated entry/exit observation pairs for
// exercises and tests. Output mimics real sessions: circuit latency between
// the two sides, near-matching volumes, and optional guard persistence.
type Generator struct {
	topo *topology.Snapshot
	rng  *rand.Rand
}

// Options shapes a generated batch.
type Options struct {
	Sessions         int
	BaseTime         time.Time
	SpreadHours      float64
	GuardPersistence bool
	IncludeTimings   bool
}

// New constructs a generator. A fixed seed yields reproducible timestamps,
// volumes, relay choices and timings; observation ids come from random UUIDs
// and differ between runs.
func New(topo *topology.Snapshot, seed int64) *Generator {
	return &Generator{
		topo: topo,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Session generates one correlated entry/exit pair through the given relays.
func (g *Generator) Session(baseTime time.Time, guardFP, exitFP string, includeTimings bool) (models.Observation, models.Observation) {
	sessionID := uuid.NewString()[:8]

	entryBytes := int64(g.rng.Intn(4_950_000) + 50_000)
	// Exit side varies within protocol overhead.
	exitBytes := int64(float64(entryBytes) * (0.95 + g.rng.Float64()*0.10))
	circuitLatency := time.Duration((0.1 + g.rng.Float64()*1.9) * float64(time.Second))

	entry := models.Observation{
		ID:               "entry-" + sessionID,
		Type:             models.EntryObserved,
		TimestampMicros:  baseTime.UnixMicro(),
		RelayFingerprint: guardFP,
		Bytes:            entryBytes,
		Source:           "synthetic",
		Notes:            fmt.Sprintf("synthetic session %s", sessionID),
	}
	exit := models.Observation{
		ID:               "exit-" + sessionID,
		Type:             models.ExitObserved,
		TimestampMicros:  baseTime.Add(circuitLatency).UnixMicro(),
		RelayFingerprint: exitFP,
		Bytes:            exitBytes,
		Source:           "synthetic",
		Notes:            fmt.Sprintf("synthetic session %s", sessionID),
	}

	if includeTimings {
		count := g.rng.Intn(40) + 10
		entry.PacketTimings = g.timings(count)
		// The exit side sees a jittered copy of the same cadence.
		exit.PacketTimings = make([]float64, len(entry.PacketTimings))
		for i, v := range entry.PacketTimings {
			exit.PacketTimings[i] = v * (0.9 + g.rng.Float64()*0.2)
		}
	}

	return entry, exit
}

// UserSessions generates a batch of sessions simulating one client. With
// guard persistence on, every session enters through the same guard, which
// is what clusters key on.
func (g *Generator) UserSessions(opts Options) ([]models.Observation, []models.Observation, error) {
	guards := g.topo.Guards()
	exits := g.topo.Exits()
	if len(guards) == 0 || len(exits) == 0 {
		return nil, nil, fmt.Errorf("snapshot has %d guards and %d exits; need at least one of each", len(guards), len(exits))
	}
	if opts.Sessions <= 0 {
		opts.Sessions = 1
	}
	if opts.SpreadHours <= 0 {
		opts.SpreadHours = 24
	}

	persistentGuard := guards[g.rng.Intn(len(guards))].Fingerprint

	entries := make([]models.Observation, 0, opts.Sessions)
	exitObs := make([]models.Observation, 0, opts.Sessions)
	for i := 0; i < opts.Sessions; i++ {
		guardFP := persistentGuard
		if !opts.GuardPersistence {
			guardFP = guards[g.rng.Intn(len(guards))].Fingerprint
		}
		exitFP := exits[g.rng.Intn(len(exits))].Fingerprint

		offset := time.Duration(g.rng.Float64() * opts.SpreadHours * float64(time.Hour))
		entry, exit := g.Session(opts.BaseTime.Add(offset), guardFP, exitFP, opts.IncludeTimings)
		entries = append(entries, entry)
		exitObs = append(exitObs, exit)
	}
	return entries, exitObs, nil
}

func (g *Generator) timings(count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = 5 + g.rng.Float64()*95
	}
	return out
}
