package probes

import "math"

// Compute kernels return their checksum, not a timing. Callers that need
// durations time the call themselves; a finite non-zero return only
// proves the kernel actually ran.

// FloatKernel exercises the floating-point pipeline with a dependent
// multiply-add-sqrt chain.
func FloatKernel(iterations int) float64 {
	x := 1.00000001
	acc := 0.0
	for i := 0; i < iterations; i++ {
		x = x*1.0000003 + 1e-9
		acc += math.Sqrt(x)
		if x > 2 {
			x = 1.00000001
		}
	}
	return acc
}

// IntegerKernel mixes multiply, xor and rotate operations.
func IntegerKernel(iterations int) float64 {
	state := uint64(lcgSeed)
	var acc uint64
	for i := 0; i < iterations; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		state ^= state >> 29
		acc += state & 0xFFFF
	}
	return float64((acc | 1) & 0xFFFFFF)
}

// VectorKernel runs four independent lanes of float arithmetic in a shape
// the compiler can keep in wide registers.
func VectorKernel(iterations int) float64 {
	lanes := [4]float64{1.0, 1.1, 1.2, 1.3}
	for i := 0; i < iterations; i++ {
		for l := range lanes {
			lanes[l] = lanes[l]*1.0000001 + 1e-8
			if lanes[l] > 4 {
				lanes[l] *= 0.25
			}
		}
	}
	return lanes[0] + lanes[1] + lanes[2] + lanes[3]
}

// BranchKernel chains data-dependent branches the predictor cannot learn.
func BranchKernel(iterations int) float64 {
	state := uint32(lcgSeed)
	var acc uint64
	for i := 0; i < iterations; i++ {
		state = state*lcgMultiplier + lcgIncrement
		switch {
		case state&1 == 0:
			acc += 3
		case state%3 == 0:
			acc += 7
		case state%5 == 0:
			acc -= 2
		default:
			acc++
		}
	}
	return float64((acc | 1) & 0xFFFFFF)
}

// ClusterWorkload builds a worker task mixing integer and float work.
// With iterations in the millions a task runs for tens of milliseconds,
// long enough for scheduling contention to separate core classes.
func ClusterWorkload(iterations int) func() float64 {
	half := iterations / 2
	if half < 1 {
		half = 1
	}
	return func() float64 {
		return IntegerKernel(half) + FloatKernel(half)
	}
}
