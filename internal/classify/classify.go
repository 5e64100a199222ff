package classify

import (
	"fmt"
	"math"

	"hwfingerprint/internal/calibration"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/logging"
	"hwfingerprint/internal/memprofile"

	"github.com/sirupsen/logrus"
)

// Family labels assigned by the rule cascade.
const (
	FamilyUnifiedMemory = "unified-memory"
	FamilyDeepHierarchy = "deep-hierarchy"
	FamilyConventional  = "conventional"
	FamilyUnknown       = "unknown"
)

const (
	// UnifiedMemoryMaxBand gates the unified-memory hypothesis: random
	// access that is barely slower than sequential at both L1 and deep
	// payload sizes points at a flat hierarchy.
	UnifiedMemoryMaxBand = 1.10

	// DeepHierarchyMinOverall gates the deep-hierarchy hypothesis.
	DeepHierarchyMinOverall = 2.20

	// MinCalibrationScore is the weighted closeness a calibration family
	// must exceed before it overrides the rule-cascade guess.
	MinCalibrationScore = 0.25

	// MaxConfidence caps every classification result.
	MaxConfidence = 95

	baseFamilyConfidence    = 50
	partialFamilyConfidence = 35
)

// Structural carries structural probe estimates. Zero values mean the
// probe could not determine that quantity.
type Structural struct {
	L1KB           int     `json:"l1_kb"`
	L2KB           int     `json:"l2_kb"`
	L3MB           float64 `json:"l3_mb"`
	CacheLineBytes int     `json:"cache_line_bytes"`
	TLBEntries     int     `json:"tlb_entries"`

	// StrideRatio is small-stride over large-stride access time. An
	// effective hardware prefetcher pushes it well below 1.
	StrideRatio float64 `json:"stride_ratio"`
}

// Flags are boolean and counter-derived corroboration signals.
type Flags struct {
	SIMD                bool     `json:"simd"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	CacheMissRate       *float64 `json:"cache_miss_rate,omitempty"`
}

// Input bundles everything the classifier considers. Every field except
// Bands is optional.
type Input struct {
	Bands       memprofile.Bands
	Structural  Structural
	Cluster     *cluster.Analysis
	Flags       Flags
	Calibration *calibration.Table
}

// Result is the classification outcome. Confidence is always in [0, 95]
// and Evidence explains every contribution in measurement terms.
type Result struct {
	Family          string   `json:"family"`
	Generation      string   `json:"generation,omitempty"`
	Tier            string   `json:"tier,omitempty"`
	Confidence      int      `json:"confidence"`
	Evidence        []string `json:"evidence"`
	CalibrationUsed bool     `json:"calibration_used"`
}

// Classify runs the rule cascade over the measured bands, refines
// generation and tier from structural probes, applies the calibration
// override when a table is present and lets auxiliary signals reinforce
// the result. It always returns a result; degraded inputs degrade
// confidence and evidence instead of failing.
func Classify(in Input) Result {
	res := Result{Family: FamilyUnknown, Evidence: []string{}}

	validBands := 0
	for _, ok := range []bool{in.Bands.L1Valid, in.Bands.DeepValid, in.Bands.OverallValid} {
		if ok {
			validBands++
		}
	}
	if validBands == 0 {
		res.Evidence = append(res.Evidence, "insufficient data: no valid memory-ratio bands")
		logging.GetLogger().Warn("Classification skipped, all memory-ratio bands invalid")
		return res
	}

	applyFamilyGate(&res, in.Bands, validBands)
	refineGeneration(&res, in.Structural)
	refineTier(&res, in.Structural)
	applyCalibration(&res, in.Bands, in.Calibration)
	applyCorroboration(&res, in)

	res.Confidence = clampConfidence(res.Confidence)

	logging.GetLogger().WithFields(logrus.Fields{
		"family":     res.Family,
		"generation": res.Generation,
		"tier":       res.Tier,
		"confidence": res.Confidence,
	}).Debug("Classification complete")
	return res
}

func applyFamilyGate(res *Result, bands memprofile.Bands, validBands int) {
	switch {
	case bands.L1Valid && bands.DeepValid &&
		bands.L1Band < UnifiedMemoryMaxBand && bands.DeepBand < UnifiedMemoryMaxBand:
		res.Family = FamilyUnifiedMemory
		res.Confidence = baseFamilyConfidence
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"L1 band %.2f and deep band %.2f both below %.2f, random access is nearly free at every size",
			bands.L1Band, bands.DeepBand, UnifiedMemoryMaxBand))

	case bands.OverallValid && bands.Overall > DeepHierarchyMinOverall:
		res.Family = FamilyDeepHierarchy
		res.Confidence = baseFamilyConfidence
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"overall random/sequential ratio %.2f exceeds %.2f, random access pays a deep-hierarchy penalty",
			bands.Overall, DeepHierarchyMinOverall))

	default:
		res.Family = FamilyConventional
		if validBands == 3 {
			res.Confidence = baseFamilyConfidence
		} else {
			res.Confidence = partialFamilyConfidence
		}
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"memory ratios in the conventional range (%s)", describeBands(bands)))
	}
	res.Confidence = clampConfidence(res.Confidence)
}

func describeBands(bands memprofile.Bands) string {
	parts := ""
	appendPart := func(label string, value float64, ok bool) {
		if !ok {
			return
		}
		if parts != "" {
			parts += ", "
		}
		parts += fmt.Sprintf("%s %.2f", label, value)
	}
	appendPart("L1", bands.L1Band, bands.L1Valid)
	appendPart("deep", bands.DeepBand, bands.DeepValid)
	appendPart("overall", bands.Overall, bands.OverallValid)
	if parts == "" {
		return "no bands"
	}
	return parts
}

func refineGeneration(res *Result, st Structural) {
	switch {
	case st.L1KB >= 128:
		res.Generation = "apple-silicon-class"
		res.Confidence = clampConfidence(res.Confidence + 8)
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"%dKB L1 data cache, a size only very wide cores carry", st.L1KB))
	case st.L1KB >= 48:
		res.Generation = "modern-wide"
		res.Confidence = clampConfidence(res.Confidence + 8)
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"%dKB L1 data cache points at a recent wide core", st.L1KB))
	case st.L1KB >= 24:
		res.Generation = "classic"
		res.Confidence = clampConfidence(res.Confidence + 5)
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"%dKB L1 data cache, the long-running desktop default", st.L1KB))
	case st.L1KB > 0:
		res.Generation = "compact"
		res.Confidence = clampConfidence(res.Confidence + 3)
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"small %dKB L1 data cache suggests a low-power core", st.L1KB))
	}
}

func refineTier(res *Result, st Structural) {
	switch {
	case st.L3MB >= 24:
		res.Tier = "performance"
		res.Confidence = clampConfidence(res.Confidence + 8)
		res.Evidence = append(res.Evidence, fmt.Sprintf("%.0fMB L3 cache", st.L3MB))
	case st.L3MB >= 8:
		res.Tier = "mainstream"
		res.Confidence = clampConfidence(res.Confidence + 6)
		res.Evidence = append(res.Evidence, fmt.Sprintf("%.0fMB L3 cache", st.L3MB))
	case st.L3MB > 0:
		res.Tier = "entry"
		res.Confidence = clampConfidence(res.Confidence + 4)
		res.Evidence = append(res.Evidence, fmt.Sprintf("%.1fMB L3 cache", st.L3MB))
	case st.L2KB >= 8192:
		res.Tier = "shared-l2"
		res.Confidence = clampConfidence(res.Confidence + 6)
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"no distinct L3 but a multi-megabyte %dKB L2", st.L2KB))
	}
}

func applyCalibration(res *Result, bands memprofile.Bands, table *calibration.Table) {
	if table == nil {
		return
	}

	obs := calibration.Observation{
		L1: bands.L1Band, L1OK: bands.L1Valid,
		Deep: bands.DeepBand, DeepOK: bands.DeepValid,
		Overall: bands.Overall, OverallOK: bands.OverallValid,
	}
	best, score, ok := table.BestMatch(obs)
	if !ok || score <= MinCalibrationScore {
		logging.GetLogger().WithField("score", score).Debug("Calibration match below threshold, keeping rule-cascade result")
		return
	}

	res.Family = best.Family
	if best.Generation != "" {
		res.Generation = best.Generation
	}
	if best.Tier != "" {
		res.Tier = best.Tier
	}
	if calibrated := int(math.Round(score * 100)); calibrated > res.Confidence {
		res.Confidence = clampConfidence(calibrated)
	}
	res.CalibrationUsed = true
	res.Evidence = append(res.Evidence, fmt.Sprintf(
		"calibration table matches %q with score %.2f", best.Family, score))
}

func applyCorroboration(res *Result, in Input) {
	if in.Flags.SIMD {
		res.Confidence = clampConfidence(res.Confidence + 3)
		res.Evidence = append(res.Evidence, "SIMD acceleration available")
	}

	if hc := in.Flags.HardwareConcurrency; hc >= 16 {
		res.Confidence = clampConfidence(res.Confidence + 4)
		res.Evidence = append(res.Evidence, fmt.Sprintf("%d logical cores reported", hc))
	} else if hc >= 8 {
		res.Confidence = clampConfidence(res.Confidence + 2)
		res.Evidence = append(res.Evidence, fmt.Sprintf("%d logical cores reported", hc))
	}

	// Prefetcher heuristic: linear small-stride traffic far cheaper than
	// large strides, read jointly with a moderate deep band.
	if sr := in.Structural.StrideRatio; sr > 0 && !math.IsNaN(sr) {
		if sr < 0.6 && in.Bands.DeepValid && in.Bands.DeepBand < 1.6 {
			res.Confidence = clampConfidence(res.Confidence + 4)
			res.Evidence = append(res.Evidence, fmt.Sprintf(
				"hardware prefetcher hides linear access latency (stride ratio %.2f)", sr))
		} else if sr < 0.8 {
			res.Confidence = clampConfidence(res.Confidence + 2)
			res.Evidence = append(res.Evidence, fmt.Sprintf(
				"partial prefetcher benefit (stride ratio %.2f)", sr))
		}
	}

	if rate := in.Flags.CacheMissRate; rate != nil && !math.IsNaN(*rate) {
		if *rate < 0.05 {
			res.Confidence = clampConfidence(res.Confidence + 3)
			res.Evidence = append(res.Evidence, fmt.Sprintf(
				"cache miss rate %.1f%% from hardware counters", *rate*100))
		} else if *rate > 0.30 && res.Family == FamilyDeepHierarchy {
			res.Confidence = clampConfidence(res.Confidence + 3)
			res.Evidence = append(res.Evidence, fmt.Sprintf(
				"cache miss rate %.1f%% corroborates the hierarchy penalty", *rate*100))
		}
	}

	if cl := in.Cluster; cl != nil && cl.Available && cl.ScaledSlow > 0 {
		res.Confidence = clampConfidence(res.Confidence + 3)
		res.Evidence = append(res.Evidence, fmt.Sprintf(
			"hybrid core topology (%d performance + %d efficiency)", cl.ScaledFast, cl.ScaledSlow))
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
