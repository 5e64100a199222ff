package match

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"hwfingerprint/internal/logging"

	"github.com/sirupsen/logrus"
)

// Sub-feature weights, summing to 1.0. Missing observations drop out and
// the remaining weights are renormalized.
const (
	WeightCores     = 0.30
	WeightCache     = 0.25
	WeightMemRatio  = 0.20
	WeightGPUString = 0.15
	WeightGPUArch   = 0.10
)

const (
	// WeakScoreThreshold flags a match as needing more samples.
	WeakScoreThreshold = 40.0

	// MaxContradictionPenalty bounds how far contradictions can pull a
	// score down.
	MaxContradictionPenalty = 25.0
	contradictionUnit       = 8.0

	substringCredit = 0.6

	highScoreThreshold   = 80.0
	mediumScoreThreshold = 60.0
	confidenceCap        = 95
)

// Numeric tolerance floors keep narrow profile ranges from rejecting
// close observations outright.
const (
	coresToleranceFloor = 2.0
	cacheToleranceFloor = 16.0
	ratioToleranceFloor = 0.3
)

// FeatureVector is the measured device description fed to the matcher.
// Zero or NaN numeric values and empty strings mean "not observed".
type FeatureVector struct {
	Cores       int     `json:"cores"`
	L1KB        int     `json:"l1_kb"`
	MemoryRatio float64 `json:"memory_ratio"`

	GPUVendor   string `json:"gpu_vendor"`
	GPURenderer string `json:"gpu_renderer"`
	GPUArch     string `json:"gpu_arch"`
}

// Range is an inclusive expected interval for a numeric sub-feature.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Profile is one named device signature. Nil ranges and empty tokens mean
// the profile states no expectation for that sub-feature.
type Profile struct {
	Name           string `json:"name"`
	Vendor         string `json:"vendor,omitempty"`
	Arch           string `json:"arch,omitempty"`
	Cores          *Range `json:"cores,omitempty"`
	L1KB           *Range `json:"l1_kb,omitempty"`
	MemoryRatio    *Range `json:"memory_ratio,omitempty"`
	BaseConfidence int    `json:"base_confidence"`
}

// Candidate is one scored profile. Score is 0..100 after contradiction
// penalties, Confidence is 0..95.
type Candidate struct {
	Name           string             `json:"name"`
	Score          float64            `json:"score"`
	Confidence     int                `json:"confidence"`
	SubScores      map[string]float64 `json:"sub_scores,omitempty"`
	Contradictions []string           `json:"contradictions,omitempty"`
	Weak           bool               `json:"weak"`
}

// Outcome is the ranked answer: the best candidate plus up to two
// alternatives.
type Outcome struct {
	Best         *Candidate  `json:"best,omitempty"`
	Alternatives []Candidate `json:"alternatives,omitempty"`
}

// Match scores the feature vector against every profile and returns all
// candidates ranked by score descending.
func Match(fv FeatureVector, profiles []Profile) []Candidate {
	candidates := make([]Candidate, 0, len(profiles))
	for _, p := range profiles {
		candidates = append(candidates, scoreProfile(fv, p))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Name < candidates[j].Name
	})

	if len(candidates) > 0 {
		logging.GetLogger().WithFields(logrus.Fields{
			"best":       candidates[0].Name,
			"score":      fmt.Sprintf("%.1f", candidates[0].Score),
			"confidence": candidates[0].Confidence,
		}).Debug("Device match ranked")
	}
	return candidates
}

// Summarize picks the top candidate and up to two alternatives from a
// ranked candidate list.
func Summarize(candidates []Candidate) Outcome {
	if len(candidates) == 0 {
		return Outcome{}
	}
	out := Outcome{Best: &candidates[0]}
	for i := 1; i < len(candidates) && i < 3; i++ {
		out.Alternatives = append(out.Alternatives, candidates[i])
	}
	return out
}

func scoreProfile(fv FeatureVector, p Profile) Candidate {
	cand := Candidate{Name: p.Name, SubScores: map[string]float64{}}

	var weighted, weights float64
	record := func(name string, weight, score float64) {
		cand.SubScores[name] = score
		weighted += weight * score
		weights += weight
	}

	if p.Cores != nil && fv.Cores > 0 {
		score, contra := scoreNumeric(float64(fv.Cores), *p.Cores, coresToleranceFloor)
		record("cores", WeightCores, score)
		if contra {
			cand.Contradictions = append(cand.Contradictions, fmt.Sprintf(
				"%d cores far outside expected %g-%g", fv.Cores, p.Cores.Min, p.Cores.Max))
		}
	}

	if p.L1KB != nil && fv.L1KB > 0 {
		score, contra := scoreNumeric(float64(fv.L1KB), *p.L1KB, cacheToleranceFloor)
		record("cache", WeightCache, score)
		if contra {
			cand.Contradictions = append(cand.Contradictions, fmt.Sprintf(
				"%dKB L1 far outside expected %g-%gKB", fv.L1KB, p.L1KB.Min, p.L1KB.Max))
		}
	}

	if p.MemoryRatio != nil && fv.MemoryRatio > 0 && !math.IsNaN(fv.MemoryRatio) {
		score, contra := scoreNumeric(fv.MemoryRatio, *p.MemoryRatio, ratioToleranceFloor)
		record("memory_ratio", WeightMemRatio, score)
		if contra {
			cand.Contradictions = append(cand.Contradictions, fmt.Sprintf(
				"memory ratio %.2f far outside expected %g-%g", fv.MemoryRatio, p.MemoryRatio.Min, p.MemoryRatio.Max))
		}
	}

	if p.Vendor != "" && (fv.GPUVendor != "" || fv.GPURenderer != "") {
		score, contra := scoreToken(p.Vendor, fv.GPUVendor, fv.GPURenderer, NormalizeVendor)
		record("gpu", WeightGPUString, score)
		if contra != "" {
			cand.Contradictions = append(cand.Contradictions, contra)
		}
	}

	if p.Arch != "" && (fv.GPUArch != "" || fv.GPURenderer != "") {
		score, contra := scoreToken(p.Arch, fv.GPUArch, fv.GPURenderer, NormalizeArch)
		record("gpu_arch", WeightGPUArch, score)
		if contra != "" {
			cand.Contradictions = append(cand.Contradictions, contra)
		}
	}

	if weights > 0 {
		cand.Score = 100 * weighted / weights
	}

	penalty := contradictionUnit * float64(len(cand.Contradictions))
	if penalty > MaxContradictionPenalty {
		penalty = MaxContradictionPenalty
	}
	cand.Score -= penalty
	if cand.Score < 0 {
		cand.Score = 0
	}

	cand.Confidence = deriveConfidence(cand.Score, p.BaseConfidence)
	cand.Weak = cand.Score < WeakScoreThreshold || len(cand.Contradictions) > 0
	return cand
}

// scoreNumeric gives full credit inside the range, linear partial credit
// within one tolerance of the nearer bound and zero beyond. A miss beyond
// twice the tolerance is a contradiction.
func scoreNumeric(value float64, r Range, toleranceFloor float64) (float64, bool) {
	if value >= r.Min && value <= r.Max {
		return 1.0, false
	}

	tolerance := (r.Max - r.Min) / 2
	if tolerance < toleranceFloor {
		tolerance = toleranceFloor
	}

	distance := r.Min - value
	if value > r.Max {
		distance = value - r.Max
	}

	if distance < tolerance {
		return 1 - distance/tolerance, false
	}
	return 0, distance > 2*tolerance
}

// scoreToken compares an expected canonical token against the observed
// string and its renderer fallback. Token equality earns full credit, raw
// substring containment partial credit. A recognized-but-different token
// is a contradiction.
func scoreToken(expected, observed, fallback string, normalize func(string) string) (float64, string) {
	expectedToken := normalize(expected)
	if expectedToken == "" {
		expectedToken = strings.ToLower(expected)
	}

	observedToken := normalize(observed)
	if observedToken == "" {
		observedToken = normalize(fallback)
	}

	if observedToken == expectedToken && observedToken != "" {
		return 1.0, ""
	}

	raw := strings.ToLower(observed + " " + fallback)
	if strings.Contains(raw, strings.ToLower(expected)) {
		return substringCredit, ""
	}

	if observedToken != "" {
		return 0, fmt.Sprintf("GPU reports %q where %q was expected", observedToken, expectedToken)
	}
	return 0, ""
}

// deriveConfidence averages the score with the profile's stated base
// confidence, then applies the threshold floors and the hard cap.
func deriveConfidence(score float64, base int) int {
	conf := int(math.Round((score + float64(base)) / 2))

	if score >= highScoreThreshold && conf < int(highScoreThreshold) {
		conf = int(highScoreThreshold)
	} else if score >= mediumScoreThreshold && conf < int(mediumScoreThreshold) {
		conf = int(mediumScoreThreshold)
	}

	if conf > confidenceCap {
		conf = confidenceCap
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
