package models

import "testing"

func TestPredefinedProfilesValid(t *testing.T) {
	for _, profile := range PredefinedProfiles() {
		if err := profile.Validate(); err != nil {
			t.Fatalf("profile %s invalid: %v", profile.ID, err)
		}
	}
}

func TestProfileLookup(t *testing.T) {
	p, err := Profile(ProfileTimeFocused)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TimeWeight != 0.60 || p.VolumeWeight != 0.20 || p.PatternWeight != 0.20 {
		t.Fatalf("unexpected time-focused weights: %+v", p)
	}

	if _, err := Profile("bogus"); err == nil {
		t.Fatalf("expected error for unknown profile type")
	}
}

func TestCustomProfileValidation(t *testing.T) {
	p, err := NewCustomProfile("case-1", "Case 1", 0.5, 0.25, 0.25, "CASE-2026-001", "analyst", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Type != ProfileCustom {
		t.Fatalf("expected custom type, got %s", p.Type)
	}

	if _, err := NewCustomProfile("bad", "Bad", 0.5, 0.5, 0.5, "", "", ""); err == nil {
		t.Fatalf("expected sum validation failure")
	}

	_, err = NewCustomProfile("bad", "Bad", 1.2, -0.1, -0.1, "", "", "")
	if err == nil {
		t.Fatalf("expected range validation failure")
	}
	if KindOf(err) != ErrInputValidation {
		t.Fatalf("expected input_validation kind, got %v", KindOf(err))
	}
}

func TestConfidenceBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{95, "HIGH CONFIDENCE"},
		{70, "HIGH CONFIDENCE"},
		{69.9, "MEDIUM CONFIDENCE"},
		{40, "MEDIUM CONFIDENCE"},
		{39.9, "LOW CONFIDENCE"},
	}
	for _, tc := range cases {
		if got := ConfidenceBucket(tc.score); got != tc.want {
			t.Fatalf("score %.1f: expected %q, got %q", tc.score, tc.want, got)
		}
	}
}

func TestDeriveSubnet16(t *testing.T) {
	if got := DeriveSubnet16("185.220.101.5"); got != "185.220.0.0/16" {
		t.Fatalf("unexpected subnet %q", got)
	}
	// IPv6 addresses are keyed individually.
	if got := DeriveSubnet16("2001:db8::1"); got == "185.220.0.0/16" || got == "" {
		t.Fatalf("unexpected IPv6 key %q", got)
	}
}
