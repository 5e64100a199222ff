package sampler

import (
	"math"
	"runtime"

	"hwfingerprint/internal/logging"
	"hwfingerprint/internal/stats"

	"github.com/sirupsen/logrus"
)

// ProbeFunc runs one timed batch of a measurement primitive over a payload
// of sizeKB kilobytes and returns the elapsed wall-clock milliseconds for
// the whole batch. A negative, NaN or infinite return means the probe could
// not run and poisons the pair, not the whole profile.
type ProbeFunc func(sizeKB, iterations int) float64

const (
	DefaultBaseIterations = 200
	DefaultGrowthFactor   = 1.8
	DefaultMaxIterations  = 20000
	DefaultTargetRSD      = 0.07
	DefaultMinRounds      = 5
	DefaultMaxRounds      = 14
	DefaultTrustFloorMs   = 0.4
)

// Config tunes the adaptive pair sampler. Zero fields fall back to the
// package defaults.
type Config struct {
	// BaseIterations is the per-probe batch size of the first round.
	BaseIterations int `yaml:"base_iterations"`
	// GrowthFactor scales the batch size up when a round is too fast to
	// trust or the convergence check fails.
	GrowthFactor float64 `yaml:"growth_factor"`
	// MaxIterations caps batch growth.
	MaxIterations int `yaml:"max_iterations"`
	// TargetRSD is the relative standard deviation both probes must reach
	// for the pair to count as converged.
	TargetRSD float64 `yaml:"target_rsd"`
	// MinRounds is the minimum number of recorded rounds before the
	// convergence check runs.
	MinRounds int `yaml:"min_rounds"`
	// MaxRounds bounds the total number of attempted rounds, recorded or
	// discarded.
	MaxRounds int `yaml:"max_rounds"`
	// TrustFloorMs is the minimum batch duration considered measurable.
	// Durations below it are dominated by clock quantization and the
	// round is discarded.
	TrustFloorMs float64 `yaml:"trust_floor_ms"`

	// Evict, when set, runs before every paired round to flush residual
	// cache state from earlier measurements.
	Evict func() `yaml:"-"`
	// Yield runs exactly once between the two probes of a round so host
	// scheduling does not systematically favor one side. Defaults to
	// runtime.Gosched.
	Yield func() `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.BaseIterations <= 0 {
		c.BaseIterations = DefaultBaseIterations
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TargetRSD <= 0 {
		c.TargetRSD = DefaultTargetRSD
	}
	if c.MinRounds <= 0 {
		c.MinRounds = DefaultMinRounds
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.MaxRounds < c.MinRounds {
		c.MaxRounds = c.MinRounds
	}
	if c.TrustFloorMs <= 0 {
		c.TrustFloorMs = DefaultTrustFloorMs
	}
	if c.MaxIterations < c.BaseIterations {
		c.MaxIterations = c.BaseIterations
	}
	if c.Yield == nil {
		c.Yield = runtime.Gosched
	}
	return c
}

// Round is one recorded paired measurement. Probe A always ran before
// probe B.
type Round struct {
	Iterations int     `json:"iterations"`
	AMs        float64 `json:"a_ms"`
	BMs        float64 `json:"b_ms"`
	Ratio      float64 `json:"ratio"`
}

// PairResult is the outcome of adaptively sampling one probe pair at one
// payload size. A and B summarize per-iteration durations (comparable
// across rounds with different batch sizes); RawA and RawB summarize the
// raw batch durations the trust floor applies to.
type PairResult struct {
	SizeKB int     `json:"size_kb"`
	Rounds []Round `json:"rounds,omitempty"`

	A    stats.Summary `json:"a"`
	B    stats.Summary `json:"b"`
	RawA stats.Summary `json:"raw_a"`
	RawB stats.Summary `json:"raw_b"`

	// Ratio is the median of the recorded per-round ratios. Valid only
	// when RatioValid is true; otherwise the pair was too fast to measure
	// or a probe was unavailable, see FailureReason.
	Ratio      float64 `json:"ratio"`
	RatioValid bool    `json:"ratio_valid"`

	// Converged reports whether both probes reached the target RSD before
	// the round ceiling. A false value with RatioValid true is a
	// degraded-precision result, not an error.
	Converged bool `json:"converged"`

	FinalIterations int    `json:"final_iterations"`
	Attempts        int    `json:"attempts"`
	Discarded       int    `json:"discarded"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// PairSampler grows a probe pair's batch size until the paired ratio
// stabilizes under the target relative standard deviation. It holds no
// state between SamplePair calls.
type PairSampler struct {
	cfg    Config
	logger *logrus.Logger
}

func NewPairSampler(cfg Config) *PairSampler {
	return &PairSampler{
		cfg:    cfg.withDefaults(),
		logger: logging.GetProbeLogger(),
	}
}

// SamplePair measures probeA and probeB at the given payload size until
// convergence or the round ceiling. It runs to completion; there is no
// mid-flight cancellation in the statistics path.
func (ps *PairSampler) SamplePair(sizeKB int, probeA, probeB ProbeFunc) PairResult {
	cfg := ps.cfg
	result := PairResult{SizeKB: sizeKB}

	iterations := cfg.BaseIterations
	var normA, normB, rawA, rawB, ratios []float64

	for attempt := 0; attempt < cfg.MaxRounds; attempt++ {
		result.Attempts++
		result.FinalIterations = iterations

		if cfg.Evict != nil {
			cfg.Evict()
		}

		aMs, ok := runProbe(probeA, sizeKB, iterations)
		if !ok {
			return ps.failed(result, "probe A unavailable")
		}
		cfg.Yield()
		bMs, ok := runProbe(probeB, sizeKB, iterations)
		if !ok {
			return ps.failed(result, "probe B unavailable")
		}

		if aMs < cfg.TrustFloorMs || bMs < cfg.TrustFloorMs {
			result.Discarded++
			ps.logger.WithFields(logrus.Fields{
				"size_kb":    sizeKB,
				"iterations": iterations,
				"a_ms":       aMs,
				"b_ms":       bMs,
			}).Debug("Round below trust floor, growing batch")
			iterations = ps.grow(iterations)
			continue
		}

		ratio := bMs / aMs
		result.Rounds = append(result.Rounds, Round{
			Iterations: iterations,
			AMs:        aMs,
			BMs:        bMs,
			Ratio:      ratio,
		})
		rawA = append(rawA, aMs)
		rawB = append(rawB, bMs)
		normA = append(normA, aMs/float64(iterations))
		normB = append(normB, bMs/float64(iterations))
		ratios = append(ratios, ratio)

		if len(ratios) < cfg.MinRounds {
			continue
		}

		result.A = stats.Compute(normA)
		result.B = stats.Compute(normB)
		result.RawA = stats.Compute(rawA)
		result.RawB = stats.Compute(rawB)

		if result.A.RelStdDev <= cfg.TargetRSD &&
			result.B.RelStdDev <= cfg.TargetRSD &&
			result.RawA.TrimmedMean > cfg.TrustFloorMs &&
			result.RawB.TrimmedMean > cfg.TrustFloorMs {
			result.Converged = true
			break
		}

		iterations = ps.grow(iterations)
	}

	if len(ratios) == 0 {
		return ps.failed(result, "all rounds below the trust floor")
	}

	result.A = stats.Compute(normA)
	result.B = stats.Compute(normB)
	result.RawA = stats.Compute(rawA)
	result.RawB = stats.Compute(rawB)
	result.Ratio = stats.Median(ratios)
	result.RatioValid = true

	ps.logger.WithFields(logrus.Fields{
		"size_kb":    sizeKB,
		"rounds":     len(ratios),
		"discarded":  result.Discarded,
		"iterations": result.FinalIterations,
		"ratio":      result.Ratio,
		"converged":  result.Converged,
	}).Debug("Pair sampling finished")

	return result
}

func (ps *PairSampler) failed(result PairResult, reason string) PairResult {
	result.RatioValid = false
	result.Converged = false
	result.FailureReason = reason
	ps.logger.WithFields(logrus.Fields{
		"size_kb": result.SizeKB,
		"reason":  reason,
	}).Debug("Pair sampling unavailable")
	return result
}

func (ps *PairSampler) grow(iterations int) int {
	next := int(math.Ceil(float64(iterations) * ps.cfg.GrowthFactor))
	if next > ps.cfg.MaxIterations {
		next = ps.cfg.MaxIterations
	}
	if next < iterations {
		next = iterations
	}
	return next
}

// runProbe shields the sampler from a misbehaving probe: a panic or a
// non-finite return is reported as unavailable instead of propagating.
func runProbe(probe ProbeFunc, sizeKB, iterations int) (elapsed float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.GetProbeLogger().WithFields(logrus.Fields{
				"size_kb":    sizeKB,
				"iterations": iterations,
				"panic":      r,
			}).Warn("Probe panicked, treating as unavailable")
			elapsed, ok = 0, false
		}
	}()

	elapsed = probe(sizeKB, iterations)
	if elapsed < 0 || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
		return 0, false
	}
	return elapsed, true
}
