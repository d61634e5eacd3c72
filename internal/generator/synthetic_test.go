package generator

import (
	"math"
	"testing"
	"time"

	"github.com/relaywatch/correlator/internal/models"
	"github.com/relaywatch/correlator/internal/topology"
)

func testSnapshot() *topology.Snapshot {
	relays := []models.Relay{
		{
			Fingerprint:     "1111111111111111111111111111111111111111",
			Subnet16:        "10.1.0.0/16",
			Flags:           []models.RelayFlag{models.FlagGuard, models.FlagRunning},
			ConsensusWeight: 3000,
		},
		{
			Fingerprint:     "2222222222222222222222222222222222222222",
			Subnet16:        "10.2.0.0/16",
			Flags:           []models.RelayFlag{models.FlagGuard, models.FlagRunning},
			ConsensusWeight: 1000,
		},
		{
			Fingerprint:     "3333333333333333333333333333333333333333",
			Subnet16:        "10.3.0.0/16",
			Flags:           []models.RelayFlag{models.FlagExit, models.FlagRunning},
			ConsensusWeight: 2000,
		},
	}
	return topology.NewSnapshot("snap-gen", time.Unix(0, 0), relays)
}

func TestSessionCorrelated(t *testing.T) {
	g := New(testSnapshot(), 42)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	entry, exit := g.Session(base, "1111111111111111111111111111111111111111", "3333333333333333333333333333333333333333", true)

	if entry.Type != models.EntryObserved || exit.Type != models.ExitObserved {
		t.Fatalf("unexpected observation types: %s / %s", entry.Type, exit.Type)
	}
	delta := models.DeltaSeconds(entry, exit)
	if delta < 0.1 || delta > 2.0 {
		t.Fatalf("circuit latency out of range: %.3fs", delta)
	}

	ratio := float64(exit.Bytes) / float64(entry.Bytes)
	if ratio < 0.95 || ratio > 1.05 {
		t.Fatalf("volume jitter out of range: %.3f", ratio)
	}

	if len(entry.PacketTimings) == 0 || len(entry.PacketTimings) != len(exit.PacketTimings) {
		t.Fatalf("expected matching timing sequences, got %d / %d", len(entry.PacketTimings), len(exit.PacketTimings))
	}
}

func TestUserSessionsGuardPersistence(t *testing.T) {
	g := New(testSnapshot(), 7)
	entries, exits, err := g.UserSessions(Options{
		Sessions:         10,
		BaseTime:         time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		SpreadHours:      12,
		GuardPersistence: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 10 || len(exits) != 10 {
		t.Fatalf("expected 10 sessions, got %d/%d", len(entries), len(exits))
	}

	guard := entries[0].RelayFingerprint
	for i, entry := range entries {
		if entry.RelayFingerprint != guard {
			t.Fatalf("session %d broke guard persistence: %s", i, entry.RelayFingerprint)
		}
	}
}

func TestUserSessionsReproducible(t *testing.T) {
	opts := Options{
		Sessions:         5,
		BaseTime:         time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		GuardPersistence: true,
	}
	a, _, err := New(testSnapshot(), 99).UserSessions(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, err := New(testSnapshot(), 99).UserSessions(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a {
		if a[i].TimestampMicros != b[i].TimestampMicros {
			t.Fatalf("seeded generator not reproducible at session %d", i)
		}
		if math.Abs(float64(a[i].Bytes-b[i].Bytes)) > 0 {
			t.Fatalf("seeded volumes differ at session %d", i)
		}
	}
}

func TestUserSessionsRequiresRelays(t *testing.T) {
	empty := topology.NewSnapshot("empty", time.Unix(0, 0), nil)
	if _, _, err := New(empty, 1).UserSessions(Options{Sessions: 3}); err == nil {
		t.Fatalf("expected error for snapshot without guards and exits")
	}
}
