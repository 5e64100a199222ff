package memprofile

import (
	"context"
	"fmt"
	"sort"

	"hwfingerprint/internal/logging"
	"hwfingerprint/internal/sampler"
	"hwfingerprint/internal/stats"

	"github.com/sirupsen/logrus"
)

// Default band thresholds in KB. The L1 band approximates L1-resident
// payloads, the deep band payloads that must travel the full hierarchy.
const (
	DefaultL1MinKB   = 32
	DefaultL1MaxKB   = 64
	DefaultDeepMinKB = 256
)

// SizeEntry is the finalized measurement of one payload size. Entries are
// immutable once the builder has appended them.
type SizeEntry struct {
	SizeKB int    `json:"size_kb"`
	Label  string `json:"label"`

	// Sequential and Random summarize per-iteration durations across the
	// recorded rounds for the respective probe.
	Sequential stats.Summary `json:"sequential"`
	Random     stats.Summary `json:"random"`

	// Ratio is the converged random/sequential ratio. RatioValid false
	// means the size was too fast to measure or a probe failed; see
	// FailureReason.
	Ratio      float64 `json:"ratio"`
	RatioValid bool    `json:"ratio_valid"`
	Converged  bool    `json:"converged"`

	Rounds        int    `json:"rounds"`
	Iterations    int    `json:"iterations"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Profile maps payload sizes to their paired measurements, ascending by
// size.
type Profile struct {
	Entries []SizeEntry `json:"entries"`
}

// Entry returns the entry for a payload size, if measured.
func (p Profile) Entry(sizeKB int) (SizeEntry, bool) {
	for _, e := range p.Entries {
		if e.SizeKB == sizeKB {
			return e, true
		}
	}
	return SizeEntry{}, false
}

// BandThresholds configures which sizes fall into the L1 and deep bands.
type BandThresholds struct {
	L1MinKB   int `yaml:"l1_min_kb"`
	L1MaxKB   int `yaml:"l1_max_kb"`
	DeepMinKB int `yaml:"deep_min_kb"`
}

func DefaultBandThresholds() BandThresholds {
	return BandThresholds{
		L1MinKB:   DefaultL1MinKB,
		L1MaxKB:   DefaultL1MaxKB,
		DeepMinKB: DefaultDeepMinKB,
	}
}

// Bands aggregates the profile into scalar averages. A band without any
// finite ratio reports Valid false; sentinel entries are excluded from the
// averages, never counted as zero.
type Bands struct {
	L1Band  float64 `json:"l1_band"`
	L1Valid bool    `json:"l1_valid"`
	L1Count int     `json:"l1_count"`

	DeepBand  float64 `json:"deep_band"`
	DeepValid bool    `json:"deep_valid"`
	DeepCount int     `json:"deep_count"`

	Overall      float64 `json:"overall"`
	OverallValid bool    `json:"overall_valid"`
	OverallCount int     `json:"overall_count"`
}

// Config tunes the profile builder.
type Config struct {
	Sampler    sampler.Config `yaml:"sampler"`
	Thresholds BandThresholds `yaml:"bands"`
}

// Builder runs the adaptive pair sampler across a set of payload sizes.
type Builder struct {
	cfg    Config
	logger *logrus.Logger
}

func NewBuilder(cfg Config) *Builder {
	if cfg.Thresholds == (BandThresholds{}) {
		cfg.Thresholds = DefaultBandThresholds()
	}
	return &Builder{
		cfg:    cfg,
		logger: logging.GetLogger(),
	}
}

// Build measures every payload size in ascending order with a fresh sampler
// per size, so no adaptive state leaks between sizes. One size failing never
// stops the remaining sizes. The context is only checked between sizes; an
// in-flight size always runs to completion.
func (b *Builder) Build(ctx context.Context, sizesKB []int, sequential, random sampler.ProbeFunc) (Profile, error) {
	sizes := make([]int, 0, len(sizesKB))
	for _, s := range sizesKB {
		if s > 0 {
			sizes = append(sizes, s)
		}
	}
	sort.Ints(sizes)

	profile := Profile{Entries: make([]SizeEntry, 0, len(sizes))}

	for i, sizeKB := range sizes {
		if i > 0 && sizeKB == sizes[i-1] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return profile, fmt.Errorf("memory profile interrupted before %s: %w", FormatSizeLabel(sizeKB), err)
		}

		ps := sampler.NewPairSampler(b.cfg.Sampler)
		pair := ps.SamplePair(sizeKB, sequential, random)

		entry := SizeEntry{
			SizeKB:        sizeKB,
			Label:         FormatSizeLabel(sizeKB),
			Sequential:    pair.A,
			Random:        pair.B,
			Ratio:         pair.Ratio,
			RatioValid:    pair.RatioValid,
			Converged:     pair.Converged,
			Rounds:        len(pair.Rounds),
			Iterations:    pair.FinalIterations,
			FailureReason: pair.FailureReason,
		}
		profile.Entries = append(profile.Entries, entry)

		b.logger.WithFields(logrus.Fields{
			"size":       entry.Label,
			"ratio":      entry.Ratio,
			"valid":      entry.RatioValid,
			"converged":  entry.Converged,
			"rounds":     entry.Rounds,
			"iterations": entry.Iterations,
		}).Debug("Payload size measured")
	}

	return profile, nil
}

// Thresholds returns the band thresholds the builder was configured with.
func (b *Builder) Thresholds() BandThresholds {
	return b.cfg.Thresholds
}

// DeriveBands averages the finite ratios of the profile into the L1, deep
// and overall bands.
func DeriveBands(p Profile, th BandThresholds) Bands {
	if th == (BandThresholds{}) {
		th = DefaultBandThresholds()
	}

	var bands Bands
	var l1Sum, deepSum, overallSum float64

	for _, e := range p.Entries {
		if !e.RatioValid {
			continue
		}
		overallSum += e.Ratio
		bands.OverallCount++
		if e.SizeKB >= th.L1MinKB && e.SizeKB <= th.L1MaxKB {
			l1Sum += e.Ratio
			bands.L1Count++
		}
		if e.SizeKB >= th.DeepMinKB {
			deepSum += e.Ratio
			bands.DeepCount++
		}
	}

	if bands.L1Count > 0 {
		bands.L1Band = l1Sum / float64(bands.L1Count)
		bands.L1Valid = true
	}
	if bands.DeepCount > 0 {
		bands.DeepBand = deepSum / float64(bands.DeepCount)
		bands.DeepValid = true
	}
	if bands.OverallCount > 0 {
		bands.Overall = overallSum / float64(bands.OverallCount)
		bands.OverallValid = true
	}
	return bands
}

// FormatSizeLabel renders a payload size the way profiles and evidence
// lines refer to it: "48KB", "1MB".
func FormatSizeLabel(sizeKB int) string {
	if sizeKB >= 1024 && sizeKB%1024 == 0 {
		return fmt.Sprintf("%dMB", sizeKB/1024)
	}
	return fmt.Sprintf("%dKB", sizeKB)
}
