package models

import (
	"fmt"
	"math"
)

// weightSumTolerance bounds floating-point drift in profile validation.
const weightSumTolerance = 1e-6

// ProfileType names the predefined weighting strategies.
type ProfileType string

const (
	ProfileStandard       ProfileType = "standard"
	ProfileTimeFocused    ProfileType = "time_focused"
	ProfileVolumeFocused  ProfileType = "volume_focused"
	ProfilePatternFocused ProfileType = "pattern_focused"
	ProfileCustom         ProfileType = "custom"
)

// WeightProfile parameterizes how the three signal scores combine. Weights
// must sum to 1.0; metadata travels into reasoning strings but never affects
// the math.
type WeightProfile struct {
	ID            string      `json:"profile_id"`
	Name          string      `json:"profile_name"`
	Type          ProfileType `json:"profile_type"`
	TimeWeight    float64     `json:"weight_time_correlation" validate:"gte=0,lte=1"`
	VolumeWeight  float64     `json:"weight_volume_similarity" validate:"gte=0,lte=1"`
	PatternWeight float64     `json:"weight_pattern_similarity" validate:"gte=0,lte=1"`

	CaseID      string `json:"case_id,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks weight ranges and the unit-sum constraint.
func (p WeightProfile) Validate() error {
	for _, w := range []float64{p.TimeWeight, p.VolumeWeight, p.PatternWeight} {
		if w < 0 || w > 1 {
			return NewError(ErrInputValidation, p.ID, fmt.Sprintf("weight %.4f outside [0,1]", w))
		}
	}
	sum := p.TimeWeight + p.VolumeWeight + p.PatternWeight
	if math.Abs(sum-1.0) > weightSumTolerance {
		return NewError(ErrInputValidation, p.ID, fmt.Sprintf("weights must sum to 1.0, got %.6f", sum))
	}
	return nil
}

var predefinedProfiles = map[ProfileType]WeightProfile{
	ProfileStandard: {
		ID:            "standard",
		Name:          "Standard Balanced Profile",
		Type:          ProfileStandard,
		TimeWeight:    0.40,
		VolumeWeight:  0.30,
		PatternWeight: 0.30,
		Description:   "Balanced weights suitable for most investigations.",
	},
	ProfileTimeFocused: {
		ID:            "time-focused",
		Name:          "Time-Focused Profile",
		Type:          ProfileTimeFocused,
		TimeWeight:    0.60,
		VolumeWeight:  0.20,
		PatternWeight: 0.20,
		Description:   "Prioritizes temporal correlation when precise timing is critical.",
	},
	ProfileVolumeFocused: {
		ID:            "volume-focused",
		Name:          "Volume-Focused Profile",
		Type:          ProfileVolumeFocused,
		TimeWeight:    0.25,
		VolumeWeight:  0.50,
		PatternWeight: 0.25,
		Description:   "Prioritizes data volume matching for large transfer cases.",
	},
	ProfilePatternFocused: {
		ID:            "pattern-focused",
		Name:          "Pattern-Focused Profile",
		Type:          ProfilePatternFocused,
		TimeWeight:    0.25,
		VolumeWeight:  0.25,
		PatternWeight: 0.50,
		Description:   "Prioritizes behavioural patterns for long-term surveillance.",
	},
}

// Profile returns a predefined weight profile by type.
func Profile(t ProfileType) (WeightProfile, error) {
	p, ok := predefinedProfiles[t]
	if !ok {
		return WeightProfile{}, NewError(ErrInputValidation, string(t), "unknown profile type")
	}
	return p, nil
}

// PredefinedProfiles lists the built-in profiles in a stable order.
func PredefinedProfiles() []WeightProfile {
	return []WeightProfile{
		predefinedProfiles[ProfileStandard],
		predefinedProfiles[ProfileTimeFocused],
		predefinedProfiles[ProfileVolumeFocused],
		predefinedProfiles[ProfilePatternFocused],
	}
}

// NewCustomProfile builds a validated custom profile with case metadata.
func NewCustomProfile(id, name string, timeWeight, volumeWeight, patternWeight float64, caseID, createdBy, description string) (WeightProfile, error) {
	p := WeightProfile{
		ID:            id,
		Name:          name,
		Type:          ProfileCustom,
		TimeWeight:    timeWeight,
		VolumeWeight:  volumeWeight,
		PatternWeight: patternWeight,
		CaseID:        caseID,
		CreatedBy:     createdBy,
		Description:   description,
	}
	if err := p.Validate(); err != nil {
		return WeightProfile{}, err
	}
	return p, nil
}
