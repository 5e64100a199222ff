package counters

import "errors"

// ErrUnsupported is returned where perf events are unavailable, either
// off-Linux or when the kernel denies access.
var ErrUnsupported = errors.New("hardware counters are not supported on this platform")

// Metrics holds scaled counter totals for one measured workload run.
// Nil pointers mark counters the kernel did not deliver.
type Metrics struct {
	Instructions       *uint64 `json:"instructions,omitempty"`
	Cycles             *uint64 `json:"cycles,omitempty"`
	CacheMisses        *uint64 `json:"cache_misses,omitempty"`
	CacheReferences    *uint64 `json:"cache_references,omitempty"`
	BranchInstructions *uint64 `json:"branch_instructions,omitempty"`
	BranchMisses       *uint64 `json:"branch_misses,omitempty"`

	InstructionsPerCycle *float64 `json:"instructions_per_cycle,omitempty"`
	CacheMissRate        *float64 `json:"cache_miss_rate,omitempty"`
	BranchMissRate       *float64 `json:"branch_miss_rate,omitempty"`
}

// metricsFromSums maps labeled counter totals into Metrics and derives
// the rate fields. Returns nil when no counter delivered data.
func metricsFromSums(sums map[string]uint64) *Metrics {
	hasAnyData := false
	for _, sum := range sums {
		if sum > 0 {
			hasAnyData = true
			break
		}
	}
	if !hasAnyData {
		return nil
	}

	metrics := &Metrics{}

	setValue := func(label string) *uint64 {
		if val, ok := sums[label]; ok && val > 0 {
			v := val
			return &v
		}
		return nil
	}

	metrics.Instructions = setValue("instructions")
	metrics.Cycles = setValue("cpu-cycles")
	metrics.CacheMisses = setValue("cache-misses")
	metrics.CacheReferences = setValue("cache-references")
	metrics.BranchInstructions = setValue("branch-instructions")
	metrics.BranchMisses = setValue("branch-misses")

	if metrics.Instructions != nil && metrics.Cycles != nil && *metrics.Cycles > 0 {
		ipc := float64(*metrics.Instructions) / float64(*metrics.Cycles)
		metrics.InstructionsPerCycle = &ipc
	}

	if metrics.CacheMisses != nil && metrics.CacheReferences != nil && *metrics.CacheReferences > 0 {
		rate := float64(*metrics.CacheMisses) / float64(*metrics.CacheReferences)
		metrics.CacheMissRate = &rate
	}

	if metrics.BranchMisses != nil && metrics.BranchInstructions != nil && *metrics.BranchInstructions > 0 {
		rate := float64(*metrics.BranchMisses) / float64(*metrics.BranchInstructions)
		metrics.BranchMissRate = &rate
	}

	return metrics
}
