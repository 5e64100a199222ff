//go:build linux

package counters

import (
	"context"
	"fmt"
	"runtime"

	"hwfingerprint/internal/logging"

	"github.com/elastic/go-perf"
	"golang.org/x/sync/semaphore"
)

// Counters are opened on the calling thread, so only one measurement may
// run at a time; concurrent sessions would multiplex each other's events.
var sessionGate = semaphore.NewWeighted(1)

// Available reports whether the kernel grants perf-event access.
func Available() bool {
	attr := &perf.Attr{}
	perf.Instructions.Configure(attr)

	event, err := perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
	if err != nil {
		return false
	}
	event.Close()
	return true
}

// Measure runs the workload on a locked OS thread with hardware counters
// enabled around it and returns the scaled totals. The workload does not
// run when the counters cannot be opened.
func Measure(ctx context.Context, workload func()) (*Metrics, error) {
	if err := sessionGate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire counter session: %w", err)
	}
	defer sessionGate.Release(1)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	events, err := openEvents()
	if err != nil {
		return nil, err
	}
	defer closeEvents(events)

	for _, event := range events {
		if err := event.Enable(); err != nil {
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}

	workload()

	for _, event := range events {
		if err := event.Disable(); err != nil {
			logging.GetLogger().WithError(err).Warn("Failed to disable perf event")
		}
	}

	sums := make(map[string]uint64)
	for _, event := range events {
		count, err := event.ReadCount()
		if err != nil {
			continue
		}

		value := uint64(count.Value)
		// Multiplexing correction: scale by enabled/running time.
		if count.Running > 0 && count.Enabled > 0 && count.Running != count.Enabled {
			scaleFactor := float64(count.Enabled) / float64(count.Running)
			value = uint64(float64(value) * scaleFactor)
		}
		sums[count.Label] += value
	}

	metrics := metricsFromSums(sums)
	if metrics == nil {
		return nil, fmt.Errorf("perf events delivered no counter data")
	}
	return metrics, nil
}

func openEvents() ([]*perf.Event, error) {
	hardwareCounters := []perf.HardwareCounter{
		perf.Instructions,
		perf.CPUCycles,
		perf.CacheMisses,
		perf.CacheReferences,
		perf.BranchInstructions,
		perf.BranchMisses,
	}

	var events []*perf.Event
	for _, counter := range hardwareCounters {
		attr := &perf.Attr{}
		counter.Configure(attr)
		// Enable time tracking for multiplexing correction
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true

		event, err := perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
		if err != nil {
			closeEvents(events)
			return nil, fmt.Errorf("failed to open perf event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func closeEvents(events []*perf.Event) {
	for _, event := range events {
		if event != nil {
			event.Close()
		}
	}
}
