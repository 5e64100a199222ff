package classify

import (
	"strings"
	"testing"

	"hwfingerprint/internal/calibration"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/memprofile"
)

func validBands(l1, deep, overall float64) memprofile.Bands {
	return memprofile.Bands{
		L1Band: l1, L1Valid: true, L1Count: 2,
		DeepBand: deep, DeepValid: true, DeepCount: 2,
		Overall: overall, OverallValid: true, OverallCount: 6,
	}
}

func evidenceContains(evidence []string, substr string) bool {
	for _, line := range evidence {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestClassify_UnifiedMemory(t *testing.T) {
	res := Classify(Input{Bands: validBands(0.9, 0.95, 0.92)})

	if res.Family != FamilyUnifiedMemory {
		t.Errorf("expected family %q, got %q", FamilyUnifiedMemory, res.Family)
	}
	if res.Confidence < 50 {
		t.Errorf("expected confidence >= 50, got %d", res.Confidence)
	}
	if !evidenceContains(res.Evidence, "0.90") {
		t.Errorf("expected evidence citing the L1 band value, got %v", res.Evidence)
	}
}

func TestClassify_DeepHierarchy(t *testing.T) {
	res := Classify(Input{Bands: validBands(1.4, 3.0, 2.8)})

	if res.Family != FamilyDeepHierarchy {
		t.Errorf("expected family %q, got %q", FamilyDeepHierarchy, res.Family)
	}
	if res.Confidence < 50 {
		t.Errorf("expected confidence >= 50, got %d", res.Confidence)
	}
	if !evidenceContains(res.Evidence, "2.80") {
		t.Errorf("expected evidence citing the overall ratio, got %v", res.Evidence)
	}
}

func TestClassify_Conventional(t *testing.T) {
	res := Classify(Input{Bands: validBands(1.3, 1.8, 1.6)})

	if res.Family != FamilyConventional {
		t.Errorf("expected family %q, got %q", FamilyConventional, res.Family)
	}
	if res.Confidence != 50 {
		t.Errorf("expected confidence 50, got %d", res.Confidence)
	}
	if !evidenceContains(res.Evidence, "conventional") {
		t.Errorf("expected conventional-range evidence, got %v", res.Evidence)
	}
}

func TestClassify_AllBandsInvalid(t *testing.T) {
	res := Classify(Input{Bands: memprofile.Bands{}})

	if res.Family != FamilyUnknown {
		t.Errorf("expected family %q, got %q", FamilyUnknown, res.Family)
	}
	if res.Confidence > 30 {
		t.Errorf("expected low confidence, got %d", res.Confidence)
	}
	if !evidenceContains(res.Evidence, "insufficient data") {
		t.Errorf("expected insufficient-data evidence, got %v", res.Evidence)
	}
}

func TestClassify_PartialBandsLowerConfidence(t *testing.T) {
	res := Classify(Input{Bands: memprofile.Bands{
		Overall: 1.5, OverallValid: true, OverallCount: 3,
	}})

	if res.Family != FamilyConventional {
		t.Errorf("expected family %q, got %q", FamilyConventional, res.Family)
	}
	if res.Confidence != 35 {
		t.Errorf("expected reduced confidence 35 for partial bands, got %d", res.Confidence)
	}
}

func TestClassify_StructuralRefinement(t *testing.T) {
	res := Classify(Input{
		Bands:      validBands(0.9, 0.95, 0.92),
		Structural: Structural{L1KB: 128, L2KB: 16384},
	})

	if res.Generation != "apple-silicon-class" {
		t.Errorf("expected generation apple-silicon-class, got %q", res.Generation)
	}
	if res.Tier != "shared-l2" {
		t.Errorf("expected tier shared-l2, got %q", res.Tier)
	}
	if res.Confidence != 64 {
		t.Errorf("expected confidence 64 (50+8+6), got %d", res.Confidence)
	}
}

func TestClassify_TierFromL3(t *testing.T) {
	cases := []struct {
		name string
		l3MB float64
		tier string
	}{
		{"performance", 32, "performance"},
		{"mainstream", 12, "mainstream"},
		{"entry", 4, "entry"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Classify(Input{
				Bands:      validBands(1.3, 1.8, 1.6),
				Structural: Structural{L3MB: tc.l3MB},
			})
			if res.Tier != tc.tier {
				t.Errorf("expected tier %q, got %q", tc.tier, res.Tier)
			}
		})
	}
}

func TestClassify_CalibrationOverride(t *testing.T) {
	table := &calibration.Table{Families: []calibration.FamilyBands{{
		Family:     "deep-hierarchy",
		Generation: "zen4",
		Tier:       "performance",
		L1Band:     calibration.Band{Min: 1.0, Median: 1.15, Max: 1.3, SupportCount: 6},
		DeepBand:   calibration.Band{Min: 1.7, Median: 2.0, Max: 2.3, SupportCount: 6},
		Overall:    calibration.Band{Min: 1.6, Median: 1.9, Max: 2.2, SupportCount: 6},
	}}}

	// The cascade alone would call these bands conventional.
	res := Classify(Input{Bands: validBands(1.15, 2.0, 1.9), Calibration: table})

	if res.Family != "deep-hierarchy" {
		t.Errorf("expected calibration to override family, got %q", res.Family)
	}
	if res.Generation != "zen4" || res.Tier != "performance" {
		t.Errorf("expected calibrated generation/tier, got %q/%q", res.Generation, res.Tier)
	}
	if !res.CalibrationUsed {
		t.Error("expected CalibrationUsed to be set")
	}
	if res.Confidence != MaxConfidence {
		t.Errorf("expected a perfect match to clamp at %d, got %d", MaxConfidence, res.Confidence)
	}
	if !evidenceContains(res.Evidence, "calibration") {
		t.Errorf("expected calibration evidence, got %v", res.Evidence)
	}
}

func TestClassify_CalibrationNeverLowersConfidence(t *testing.T) {
	// A weak-but-passing match overrides the family while the cascade's
	// higher confidence stands.
	table := &calibration.Table{Families: []calibration.FamilyBands{{
		Family:   "handheld",
		L1Band:   calibration.Band{Min: 0.6, Median: 1.0, Max: 1.4, SupportCount: 4},
		DeepBand: calibration.Band{Min: 5, Median: 6, Max: 7, SupportCount: 4},
		Overall:  calibration.Band{Min: 5, Median: 6, Max: 7, SupportCount: 4},
	}}}

	res := Classify(Input{Bands: validBands(0.9, 0.95, 0.92), Calibration: table})

	if res.Family != "handheld" {
		t.Errorf("expected family override, got %q", res.Family)
	}
	if res.Confidence != 50 {
		t.Errorf("expected cascade confidence 50 to stand, got %d", res.Confidence)
	}
}

func TestClassify_CalibrationBelowThresholdKeepsCascade(t *testing.T) {
	table := &calibration.Table{Families: []calibration.FamilyBands{{
		Family:   "conventional",
		L1Band:   calibration.Band{Min: 9, Median: 10, Max: 11, SupportCount: 6},
		DeepBand: calibration.Band{Min: 9, Median: 10, Max: 11, SupportCount: 6},
		Overall:  calibration.Band{Min: 9, Median: 10, Max: 11, SupportCount: 6},
	}}}

	res := Classify(Input{Bands: validBands(0.9, 0.95, 0.92), Calibration: table})

	if res.Family != FamilyUnifiedMemory {
		t.Errorf("expected cascade family to stand, got %q", res.Family)
	}
	if res.CalibrationUsed {
		t.Error("expected CalibrationUsed to stay false for a weak match")
	}
}

func TestClassify_CorroborationReinforcesOnly(t *testing.T) {
	missRate := 0.02
	res := Classify(Input{
		Bands: validBands(0.9, 0.95, 0.92),
		Structural: Structural{
			StrideRatio: 0.5,
		},
		Cluster: &cluster.Analysis{
			Available: true, ScaledFast: 6, ScaledSlow: 4,
		},
		Flags: Flags{
			SIMD:                true,
			HardwareConcurrency: 16,
			CacheMissRate:       &missRate,
		},
	})

	if res.Family != FamilyUnifiedMemory {
		t.Errorf("corroboration must not change the family, got %q", res.Family)
	}
	// 50 base, +3 SIMD, +4 cores, +4 prefetcher, +3 miss rate, +3 hybrid.
	if res.Confidence != 67 {
		t.Errorf("expected confidence 67, got %d", res.Confidence)
	}
	if !evidenceContains(res.Evidence, "16 logical cores") {
		t.Errorf("expected core-count evidence, got %v", res.Evidence)
	}
	if !evidenceContains(res.Evidence, "hybrid core topology") {
		t.Errorf("expected hybrid-topology evidence, got %v", res.Evidence)
	}
}

func TestClassify_ConfidenceBounds(t *testing.T) {
	missRate := 0.01
	inputs := []Input{
		{},
		{Bands: validBands(0.9, 0.95, 0.92)},
		{Bands: validBands(1.4, 3.0, 2.8), Structural: Structural{L1KB: 64, L3MB: 32, StrideRatio: 0.5}},
		{
			Bands:      validBands(0.9, 0.95, 0.92),
			Structural: Structural{L1KB: 192, L2KB: 16384, StrideRatio: 0.4},
			Cluster:    &cluster.Analysis{Available: true, ScaledFast: 8, ScaledSlow: 4},
			Flags:      Flags{SIMD: true, HardwareConcurrency: 24, CacheMissRate: &missRate},
		},
	}

	for i, in := range inputs {
		res := Classify(in)
		if res.Confidence < 0 || res.Confidence > MaxConfidence {
			t.Errorf("input %d: confidence %d outside [0, %d]", i, res.Confidence, MaxConfidence)
		}
	}
}
