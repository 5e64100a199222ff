package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"hwfingerprint/internal/logging"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxProbe             = 16
	DefaultTaskTimeout          = 10 * time.Second
	DefaultJumpThreshold        = 1.3
	DefaultMedianSplitThreshold = 1.25
	DefaultMinValidResults      = 2
	DefaultSnapTolerance        = 1
)

// Method labels for how the fast/slow split was found.
const (
	MethodInflection = "inflection"
	MethodClustering = "clustering"
	MethodUniform    = "uniform"
)

// WorkerTiming is one parallel task's completion measurement.
type WorkerTiming struct {
	WorkerID   int     `json:"worker_id"`
	DurationMs float64 `json:"duration_ms"`
}

// Workload is the compute body every worker runs. The returned value is
// only checked for being finite, as proof the kernel actually executed.
type Workload func() float64

// Config tunes dispatch and cluster separation. Zero fields fall back to
// the package defaults.
type Config struct {
	// MaxProbe caps how many parallel tasks are dispatched.
	MaxProbe int `yaml:"max_probe"`
	// TaskTimeout is the per-task deadline measured from dispatch. A task
	// that misses it is abandoned, not treated as an infinitely slow
	// sample.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// JumpThreshold is the minimum consecutive-duration ratio accepted as
	// the fast/slow inflection point.
	JumpThreshold float64 `yaml:"jump_threshold"`
	// MedianSplitThreshold is the minimum slow/fast cluster-mean ratio for
	// the median-separator split.
	MedianSplitThreshold float64 `yaml:"median_split_threshold"`
	// MinValidResults is the minimum number of usable task results below
	// which the analysis reports unavailable.
	MinValidResults int `yaml:"min_valid_results"`

	// SnapTable maps a logical core count to its known canonical
	// fast+slow topologies. It is a heuristic calibrated to shipping
	// hardware, kept swappable rather than hardcoded law.
	SnapTable map[int][][2]int `yaml:"snap_table"`
	// SnapTolerance is the per-cluster distance within which a scaled
	// split snaps to a canonical topology.
	SnapTolerance int `yaml:"snap_tolerance"`
}

func (c Config) withDefaults() Config {
	if c.MaxProbe <= 0 {
		c.MaxProbe = DefaultMaxProbe
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.JumpThreshold <= 1 {
		c.JumpThreshold = DefaultJumpThreshold
	}
	if c.MedianSplitThreshold <= 1 {
		c.MedianSplitThreshold = DefaultMedianSplitThreshold
	}
	if c.MinValidResults < 2 {
		c.MinValidResults = DefaultMinValidResults
	}
	if c.SnapTable == nil {
		c.SnapTable = DefaultSnapTable()
	}
	if c.SnapTolerance <= 0 {
		c.SnapTolerance = DefaultSnapTolerance
	}
	return c
}

// DefaultSnapTable lists canonical performance/efficiency topologies for
// core counts where shipping parts cluster around a few known shapes.
func DefaultSnapTable() map[int][][2]int {
	return map[int][][2]int{
		8:  {{4, 4}},
		10: {{6, 4}, {4, 6}},
		12: {{6, 6}, {8, 4}, {4, 8}},
	}
}

// Analysis is the outcome of clustering worker completion timings.
// When Available is false only Reason is meaningful. ScaledFast plus
// ScaledSlow always equals HardwareConcurrency for an available result.
type Analysis struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`

	HardwareConcurrency int `json:"hardware_concurrency"`
	Dispatched          int `json:"dispatched"`
	Valid               int `json:"valid"`
	Failed              int `json:"failed"`

	FastCount  int     `json:"fast_count"`
	SlowCount  int     `json:"slow_count"`
	FastMeanMs float64 `json:"fast_mean_ms"`
	SlowMeanMs float64 `json:"slow_mean_ms"`

	// PerformanceGap is the slow/fast cluster mean ratio of the chosen
	// split, or the overall spread for a uniform result.
	PerformanceGap float64 `json:"performance_gap"`
	Method         string  `json:"method"`

	ScaledFast int  `json:"scaled_fast"`
	ScaledSlow int  `json:"scaled_slow"`
	Snapped    bool `json:"snapped"`

	Confidence int      `json:"confidence"`
	Notes      []string `json:"notes,omitempty"`
}

func unavailable(hw int, reason string) Analysis {
	return Analysis{
		Available:           false,
		Reason:              reason,
		HardwareConcurrency: hw,
	}
}

// DispatchCount returns how many tasks are dispatched for a logical core
// count: enough oversubscription to force slow cores into service, capped
// by maxProbe.
func DispatchCount(hardwareConcurrency, maxProbe int) int {
	n := 2 * hardwareConcurrency
	if alt := hardwareConcurrency + 4; alt > n {
		n = alt
	}
	if n > maxProbe {
		n = maxProbe
	}
	return n
}

// Profile dispatches the workload over the default goroutine substrate and
// clusters the completion timings. Teardown of the substrate runs on every
// exit path.
func Profile(ctx context.Context, hardwareConcurrency int, workload Workload, cfg Config) Analysis {
	runner := NewGoroutineRunner()
	defer runner.Close()
	return ProfileWith(ctx, runner, hardwareConcurrency, workload, cfg)
}

// ProfileWith is Profile with an injected execution substrate.
func ProfileWith(ctx context.Context, runner Runner, hardwareConcurrency int, workload Workload, cfg Config) Analysis {
	cfg = cfg.withDefaults()
	logger := logging.GetLogger()

	if hardwareConcurrency < 2 {
		return unavailable(hardwareConcurrency, "insufficient cores")
	}
	if workload == nil {
		return unavailable(hardwareConcurrency, "no workload")
	}
	if runner == nil {
		return unavailable(hardwareConcurrency, "no parallel execution substrate")
	}

	tasks := DispatchCount(hardwareConcurrency, cfg.MaxProbe)
	outcomes := runner.Run(ctx, tasks, cfg.TaskTimeout, workload)

	timings := make([]WorkerTiming, 0, len(outcomes))
	var notes []string
	for _, o := range outcomes {
		if o.Err != nil {
			notes = append(notes, fmt.Sprintf("worker %d excluded: %v", o.WorkerID, o.Err))
			continue
		}
		timings = append(timings, WorkerTiming{WorkerID: o.WorkerID, DurationMs: o.DurationMs})
	}
	if missing := tasks - len(outcomes); missing > 0 {
		notes = append(notes, fmt.Sprintf("%d workers timed out", missing))
	}

	analysis := Cluster(timings, hardwareConcurrency, cfg)
	analysis.Dispatched = tasks
	analysis.Failed = tasks - len(timings)
	analysis.Notes = append(notes, analysis.Notes...)

	logger.WithFields(logrus.Fields{
		"dispatched": analysis.Dispatched,
		"valid":      analysis.Valid,
		"failed":     analysis.Failed,
		"method":     analysis.Method,
		"gap":        analysis.PerformanceGap,
		"fast":       analysis.ScaledFast,
		"slow":       analysis.ScaledSlow,
		"confidence": analysis.Confidence,
	}).Debug("Worker performance clustering finished")

	return analysis
}

// Cluster partitions valid worker timings into fast and slow performance
// clusters and scales the result onto the reported core count. It is a
// pure function over its inputs.
func Cluster(timings []WorkerTiming, hardwareConcurrency int, cfg Config) Analysis {
	cfg = cfg.withDefaults()

	if hardwareConcurrency < 2 {
		return unavailable(hardwareConcurrency, "insufficient cores")
	}
	if len(timings) < cfg.MinValidResults {
		return unavailable(hardwareConcurrency, "insufficient valid results")
	}

	durations := make([]float64, len(timings))
	for i, t := range timings {
		durations[i] = t.DurationMs
	}
	sort.Float64s(durations)

	analysis := Analysis{
		Available:           true,
		HardwareConcurrency: hardwareConcurrency,
		Valid:               len(timings),
	}

	jumpSplit, jumpOK := splitAtLargestJump(durations, cfg.JumpThreshold)
	medianSplit, medianOK := splitAtMedian(durations, cfg.MedianSplitThreshold)

	var split clusterSplit
	switch {
	case jumpOK && medianOK:
		// The cleaner separation wins; ties keep the inflection split.
		if medianSplit.gap > jumpSplit.gap {
			split = medianSplit
			analysis.Method = MethodClustering
		} else {
			split = jumpSplit
			analysis.Method = MethodInflection
		}
	case jumpOK:
		split = jumpSplit
		analysis.Method = MethodInflection
	case medianOK:
		split = medianSplit
		analysis.Method = MethodClustering
	default:
		return uniformAnalysis(analysis, durations)
	}

	analysis.FastCount = split.fastCount
	analysis.SlowCount = len(durations) - split.fastCount
	analysis.FastMeanMs = split.fastMean
	analysis.SlowMeanMs = split.slowMean
	analysis.PerformanceGap = split.gap

	analysis.ScaledFast, analysis.ScaledSlow = scaleCounts(analysis.FastCount, analysis.SlowCount, hardwareConcurrency)
	analysis.ScaledFast, analysis.ScaledSlow, analysis.Snapped = snapTopology(
		analysis.ScaledFast, analysis.ScaledSlow, hardwareConcurrency, cfg.SnapTable, cfg.SnapTolerance)

	analysis.Confidence = splitConfidence(durations, split)
	return analysis
}

type clusterSplit struct {
	fastCount int
	fastMean  float64
	slowMean  float64
	gap       float64
}

// splitAtLargestJump finds the single largest consecutive-duration ratio in
// the sorted sequence and splits there when it clears the threshold.
func splitAtLargestJump(sorted []float64, threshold float64) (clusterSplit, bool) {
	bestIdx := -1
	bestRatio := 0.0
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1] <= 0 {
			continue
		}
		ratio := sorted[i] / sorted[i-1]
		if ratio > bestRatio {
			bestRatio = ratio
			bestIdx = i
		}
	}
	if bestIdx < 1 || bestRatio < threshold {
		return clusterSplit{}, false
	}
	return makeSplit(sorted, bestIdx), true
}

// splitAtMedian separates the sorted sequence at its median value and
// accepts the split when the cluster means are far enough apart.
func splitAtMedian(sorted []float64, threshold float64) (clusterSplit, bool) {
	n := len(sorted)
	var separator float64
	if n%2 == 1 {
		separator = sorted[n/2]
	} else {
		separator = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	fastCount := 0
	for _, d := range sorted {
		if d <= separator {
			fastCount++
		}
	}
	if fastCount == 0 || fastCount == n {
		return clusterSplit{}, false
	}

	split := makeSplit(sorted, fastCount)
	if split.gap < threshold {
		return clusterSplit{}, false
	}
	return split, true
}

func makeSplit(sorted []float64, fastCount int) clusterSplit {
	fastMean := meanOf(sorted[:fastCount])
	slowMean := meanOf(sorted[fastCount:])
	gap := 0.0
	if fastMean > 0 {
		gap = slowMean / fastMean
	}
	return clusterSplit{
		fastCount: fastCount,
		fastMean:  fastMean,
		slowMean:  slowMean,
		gap:       gap,
	}
}

// uniformAnalysis reports a homogeneous result when no split clears either
// threshold. All cores count as fast; nothing is fabricated.
func uniformAnalysis(analysis Analysis, sorted []float64) Analysis {
	analysis.Method = MethodUniform
	analysis.FastCount = len(sorted)
	analysis.SlowCount = 0
	analysis.FastMeanMs = meanOf(sorted)
	if sorted[0] > 0 {
		analysis.PerformanceGap = sorted[len(sorted)-1] / sorted[0]
	}
	analysis.ScaledFast = analysis.HardwareConcurrency
	analysis.ScaledSlow = 0
	analysis.Confidence = 40
	analysis.Notes = append(analysis.Notes, "no significant performance split between workers")
	return analysis
}

// scaleCounts maps raw cluster sizes onto the reported core count using
// largest-remainder rounding, so the scaled counts always sum exactly to
// hardwareConcurrency. A fractional tie goes to the fast cluster.
func scaleCounts(fast, slow, hardwareConcurrency int) (int, int) {
	total := fast + slow
	if total == 0 {
		return hardwareConcurrency, 0
	}
	if total == hardwareConcurrency {
		return fast, slow
	}

	exactFast := float64(fast) * float64(hardwareConcurrency) / float64(total)
	exactSlow := float64(slow) * float64(hardwareConcurrency) / float64(total)
	scaledFast := int(math.Floor(exactFast))
	scaledSlow := int(math.Floor(exactSlow))

	for scaledFast+scaledSlow < hardwareConcurrency {
		fracFast := exactFast - math.Floor(exactFast)
		fracSlow := exactSlow - math.Floor(exactSlow)
		if fracFast >= fracSlow && scaledFast < hardwareConcurrency {
			scaledFast++
			exactFast = float64(scaledFast)
		} else {
			scaledSlow++
			exactSlow = float64(scaledSlow)
		}
	}
	return scaledFast, scaledSlow
}

// snapTopology corrects a scaled split to the nearest canonical topology
// for the core count when it is within tolerance, leaving distant splits
// untouched.
func snapTopology(fast, slow, hardwareConcurrency int, table map[int][][2]int, tolerance int) (int, int, bool) {
	candidates, ok := table[hardwareConcurrency]
	if !ok {
		return fast, slow, false
	}

	bestDist := math.MaxInt32
	bestFast, bestSlow := fast, slow
	snapped := false
	for _, c := range candidates {
		df := abs(fast - c[0])
		ds := abs(slow - c[1])
		if df > tolerance || ds > tolerance {
			continue
		}
		if dist := df + ds; dist < bestDist {
			bestDist = dist
			bestFast, bestSlow = c[0], c[1]
			snapped = true
		}
	}
	return bestFast, bestSlow, snapped
}

// splitConfidence grades the chosen split by its performance gap, with a
// bonus when the clusters are separated well beyond their own spread.
func splitConfidence(sorted []float64, split clusterSplit) int {
	confidence := 30
	switch {
	case split.gap >= 1.5:
		confidence = 85
	case split.gap >= 1.3:
		confidence = 70
	case split.gap >= 1.2:
		confidence = 55
	}

	fast := sorted[:split.fastCount]
	slow := sorted[split.fastCount:]
	if len(fast) > 0 && len(slow) > 0 {
		separation := slow[0] - fast[len(fast)-1]
		if separation > stdDevOf(fast)+stdDevOf(slow) {
			confidence += 10
		}
	}

	if confidence > 95 {
		confidence = 95
	}
	return confidence
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var total float64
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

func stdDevOf(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := meanOf(vals)
	var sumSquares float64
	for _, v := range vals {
		d := v - m
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(vals)-1))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
