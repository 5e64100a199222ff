package probes

import (
	"sync"
	"time"
)

// Memory probes are self-timed: each returns the elapsed wall-clock
// milliseconds of its access loop. Buffers are allocated and warmed
// outside the timed region so page faults never pollute a measurement.

const (
	// CacheLineBytes is the assumed line size for walk granularity. The
	// detected line size may differ; walks only need a fixed granularity
	// that is comparable across probe kinds.
	CacheLineBytes = 64

	// passes per iteration, shared by the sequential and random walks so
	// their access counts stay equal and the ratio stays meaningful.
	passes = 3

	// evictBufferBytes is sized past typical last-level caches.
	evictBufferBytes = 32 << 20

	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
	lcgSeed       = 0x12345678
)

// sink receives every checksum so the compiler cannot eliminate the
// access loops.
var sink uint64

var (
	evictOnce sync.Once
	evictBuf  []byte
)

// Sequential walks the buffer forward at cache-line stride, three passes
// per iteration.
func Sequential(sizeKB, iterations int) float64 {
	buf, lines := newBuffer(sizeKB)
	if lines == 0 || iterations <= 0 {
		return 0
	}

	var acc uint64
	start := time.Now()
	for it := 0; it < iterations; it++ {
		for p := 0; p < passes; p++ {
			for i := 0; i < len(buf); i += CacheLineBytes {
				acc += uint64(buf[i])
			}
		}
	}
	elapsed := time.Since(start)

	sink += acc
	return float64(elapsed.Nanoseconds()) / 1e6
}

// Random touches the same number of lines as Sequential but in an
// LCG-driven order that defeats the prefetcher.
func Random(sizeKB, iterations int) float64 {
	buf, lines := newBuffer(sizeKB)
	if lines == 0 || iterations <= 0 {
		return 0
	}

	var acc uint64
	state := uint32(lcgSeed)
	start := time.Now()
	for it := 0; it < iterations; it++ {
		for n := 0; n < passes*lines; n++ {
			state = state*lcgMultiplier + lcgIncrement
			acc += uint64(buf[(int(state)%lines)*CacheLineBytes])
		}
	}
	elapsed := time.Since(start)

	sink += acc
	return float64(elapsed.Nanoseconds()) / 1e6
}

// Stride walks the buffer at a fixed byte stride, wrapping at the end.
// The access count per iteration matches the line count regardless of
// stride, so timings of different strides compare per access.
func Stride(sizeKB, strideBytes, iterations int) float64 {
	buf, lines := newBuffer(sizeKB)
	if lines == 0 || iterations <= 0 || strideBytes <= 0 {
		return 0
	}

	var acc uint64
	idx := 0
	start := time.Now()
	for it := 0; it < iterations; it++ {
		for n := 0; n < passes*lines; n++ {
			acc += uint64(buf[idx])
			idx += strideBytes
			if idx >= len(buf) {
				idx -= len(buf)
			}
		}
	}
	elapsed := time.Since(start)

	sink += acc
	return float64(elapsed.Nanoseconds()) / 1e6
}

// PrefetchStrideRatio compares line-stride against page-stride access
// time over an L2-sized buffer. An effective hardware prefetcher pushes
// the ratio well below 1. Returns 0 when either timing degenerates.
func PrefetchStrideRatio(sizeKB, iterations int) float64 {
	small := Stride(sizeKB, CacheLineBytes, iterations)
	large := Stride(sizeKB, 4096, iterations)
	if small <= 0 || large <= 0 {
		return 0
	}
	return small / large
}

// Evict writes through a buffer larger than typical last-level caches,
// displacing residual probe state. The buffer is allocated once and
// reused.
func Evict() {
	evictOnce.Do(func() {
		evictBuf = make([]byte, evictBufferBytes)
	})

	var acc uint64
	for i := 0; i < len(evictBuf); i += CacheLineBytes {
		evictBuf[i]++
		acc += uint64(evictBuf[i])
	}
	sink += acc
}

// newBuffer allocates and warms a sizeKB buffer, returning it with its
// line count.
func newBuffer(sizeKB int) ([]byte, int) {
	if sizeKB <= 0 {
		return nil, 0
	}
	buf := make([]byte, sizeKB*1024)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf, len(buf) / CacheLineBytes
}
