package probes

import (
	"math"
	"time"

	"hwfingerprint/internal/logging"

	"github.com/sirupsen/logrus"
)

// Structural detection sweeps a candidate list and looks for the first
// sharp per-access latency jump. Every detector returns (value, false)
// when no clean jump shows up; callers treat that as missing data.

var (
	l1CandidatesKB = []int{8, 16, 24, 32, 48, 64, 96, 128, 192, 256}
	l2CandidatesKB = []int{128, 256, 384, 512, 768, 1024, 1536, 2048, 3072, 4096}
	l3CandidatesMB = []int{2, 3, 4, 6, 8, 12, 16, 24, 32, 48}
	lineCandidates = []int{16, 32, 64, 128, 256}
	tlbCandidates  = []int{32, 64, 128, 256, 512, 1024, 2048}
)

const (
	sweepAccesses = 1 << 17
	sweepRepeats  = 3

	sizeJumpThreshold = 1.35
	lineJumpThreshold = 1.45
	tlbJumpThreshold  = 1.30

	pageBytes = 4096
)

// DetectL1SizeKB locates the working-set size where random access first
// slows down sharply.
func DetectL1SizeKB() (int, bool) {
	return detectSizeKB(l1CandidatesKB, "l1")
}

// DetectL2SizeKB sweeps past-L1 working sets for the next latency cliff.
func DetectL2SizeKB() (int, bool) {
	return detectSizeKB(l2CandidatesKB, "l2")
}

// DetectL3SizeMB sweeps multi-megabyte working sets for the last-level
// cliff into DRAM.
func DetectL3SizeMB() (float64, bool) {
	times := make([]float64, len(l3CandidatesMB))
	for i, mb := range l3CandidatesMB {
		times[i] = bestRandomWalk(mb*1024, sweepAccesses)
	}

	idx, ok := firstJump(times, sizeJumpThreshold)
	if !ok {
		logSweep("l3", 0, false)
		return 0, false
	}
	size := float64(l3CandidatesMB[idx-1])
	logSweep("l3", size, true)
	return size, true
}

func detectSizeKB(candidates []int, label string) (int, bool) {
	times := make([]float64, len(candidates))
	for i, kb := range candidates {
		times[i] = bestRandomWalk(kb, sweepAccesses)
	}

	idx, ok := firstJump(times, sizeJumpThreshold)
	if !ok {
		logSweep(label, 0, false)
		return 0, false
	}
	size := candidates[idx-1]
	logSweep(label, float64(size), true)
	return size, true
}

// DetectCacheLineBytes walks a DRAM-sized buffer at growing strides.
// Per-access cost rises at every stride doubling until the stride covers
// a full line, so the last jump marks the line size.
func DetectCacheLineBytes() (int, bool) {
	buf, lines := newBuffer(8 * 1024)
	if lines == 0 {
		return 0, false
	}

	times := make([]float64, len(lineCandidates))
	for i, stride := range lineCandidates {
		times[i] = bestStrideWalk(buf, stride, sweepAccesses)
	}

	idx, ok := lastJump(times, lineJumpThreshold)
	if !ok {
		logSweep("cache-line", 0, false)
		return 0, false
	}
	line := lineCandidates[idx]
	logSweep("cache-line", float64(line), true)
	return line, true
}

// DetectTLBEntries touches a growing set of distinct pages, one line per
// page, in LCG order. The page set fits comfortably in cache, so the
// first latency jump marks the TLB capacity.
func DetectTLBEntries() (int, bool) {
	maxPages := tlbCandidates[len(tlbCandidates)-1]
	pageStride := pageBytes + CacheLineBytes
	buf := make([]byte, maxPages*pageStride)
	for i := range buf {
		buf[i] = byte(i)
	}

	times := make([]float64, len(tlbCandidates))
	for i, pages := range tlbCandidates {
		times[i] = bestPageWalk(buf, pages, pageStride, sweepAccesses)
	}

	idx, ok := firstJump(times, tlbJumpThreshold)
	if !ok {
		logSweep("tlb", 0, false)
		return 0, false
	}
	entries := tlbCandidates[idx-1]
	logSweep("tlb", float64(entries), true)
	return entries, true
}

// firstJump returns the first index whose time exceeds its predecessor by
// the threshold factor.
func firstJump(times []float64, threshold float64) (int, bool) {
	for i := 1; i < len(times); i++ {
		if times[i-1] > 0 && times[i] >= threshold*times[i-1] {
			return i, true
		}
	}
	return 0, false
}

// lastJump returns the highest index whose time exceeds its predecessor
// by the threshold factor.
func lastJump(times []float64, threshold float64) (int, bool) {
	best, found := 0, false
	for i := 1; i < len(times); i++ {
		if times[i-1] > 0 && times[i] >= threshold*times[i-1] {
			best, found = i, true
		}
	}
	return best, found
}

func bestRandomWalk(sizeKB, accesses int) float64 {
	buf, lines := newBuffer(sizeKB)
	if lines == 0 {
		return 0
	}

	best := math.MaxFloat64
	for r := 0; r < sweepRepeats; r++ {
		var acc uint64
		state := uint32(lcgSeed)
		start := time.Now()
		for n := 0; n < accesses; n++ {
			state = state*lcgMultiplier + lcgIncrement
			acc += uint64(buf[(int(state)%lines)*CacheLineBytes])
		}
		if elapsed := float64(time.Since(start).Nanoseconds()) / 1e6; elapsed < best {
			best = elapsed
		}
		sink += acc
	}
	return best
}

func bestStrideWalk(buf []byte, strideBytes, accesses int) float64 {
	best := math.MaxFloat64
	for r := 0; r < sweepRepeats; r++ {
		var acc uint64
		idx := 0
		start := time.Now()
		for n := 0; n < accesses; n++ {
			acc += uint64(buf[idx])
			idx += strideBytes
			if idx >= len(buf) {
				idx -= len(buf)
			}
		}
		if elapsed := float64(time.Since(start).Nanoseconds()) / 1e6; elapsed < best {
			best = elapsed
		}
		sink += acc
	}
	return best
}

func bestPageWalk(buf []byte, pages, pageStride, accesses int) float64 {
	best := math.MaxFloat64
	for r := 0; r < sweepRepeats; r++ {
		var acc uint64
		state := uint32(lcgSeed)
		start := time.Now()
		for n := 0; n < accesses; n++ {
			state = state*lcgMultiplier + lcgIncrement
			acc += uint64(buf[(int(state)%pages)*pageStride])
		}
		if elapsed := float64(time.Since(start).Nanoseconds()) / 1e6; elapsed < best {
			best = elapsed
		}
		sink += acc
	}
	return best
}

func logSweep(kind string, value float64, ok bool) {
	logging.GetProbeLogger().WithFields(logrus.Fields{
		"kind":  kind,
		"value": value,
		"ok":    ok,
	}).Debug("Structural sweep finished")
}
