//go:build !linux

package counters

import "context"

// Available reports whether hardware counters can be opened. Perf events
// are Linux-only.
func Available() bool {
	return false
}

// Measure is unsupported off-Linux. The workload is not run.
func Measure(ctx context.Context, workload func()) (*Metrics, error) {
	return nil, ErrUnsupported
}
