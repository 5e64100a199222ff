package host

import (
	"strings"
	"testing"
)

const sampleCPUInfo = `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 151
model name	: 12th Gen Intel(R) Core(TM) i7-12700K
physical id	: 0
cpu cores	: 12

processor	: 1
vendor_id	: GenuineIntel
model name	: 12th Gen Intel(R) Core(TM) i7-12700K
physical id	: 0

processor	: 2
vendor_id	: GenuineIntel
model name	: 12th Gen Intel(R) Core(TM) i7-12700K
physical id	: 1
`

func TestParseCPUInfo(t *testing.T) {
	vendor, model, sockets := parseCPUInfo(strings.NewReader(sampleCPUInfo))

	if vendor != "GenuineIntel" {
		t.Errorf("expected vendor GenuineIntel, got %q", vendor)
	}
	if model != "12th Gen Intel(R) Core(TM) i7-12700K" {
		t.Errorf("unexpected model %q", model)
	}
	if sockets != 2 {
		t.Errorf("expected 2 sockets, got %d", sockets)
	}
}

func TestParseCPUInfo_Empty(t *testing.T) {
	vendor, model, sockets := parseCPUInfo(strings.NewReader(""))
	if vendor != "" || model != "" || sockets != 0 {
		t.Errorf("expected empty results, got %q/%q/%d", vendor, model, sockets)
	}
}

func TestParseCacheSize(t *testing.T) {
	cases := []struct {
		input    string
		expected int64
		ok       bool
	}{
		{"8192K", 8192 * 1024, true},
		{"8M", 8 * 1024 * 1024, true},
		{"8388608", 8388608, true},
		{"", 0, false},
		{"bogusK", 0, false},
		{"12G", 0, false},
	}

	for _, tc := range cases {
		got, ok := parseCacheSize(tc.input)
		if got != tc.expected || ok != tc.ok {
			t.Errorf("parseCacheSize(%q): expected (%d, %v), got (%d, %v)",
				tc.input, tc.expected, tc.ok, got, ok)
		}
	}
}

func TestCountCPUList(t *testing.T) {
	cases := []struct {
		input    string
		expected int
	}{
		{"0-15", 16},
		{"16-23", 8},
		{"0-15,20,22-23", 19},
		{"4", 1},
		{"", 0},
		{"3-1", 0},
		{"abc", 0},
	}

	for _, tc := range cases {
		if got := countCPUList(tc.input); got != tc.expected {
			t.Errorf("countCPUList(%q): expected %d, got %d", tc.input, tc.expected, got)
		}
	}
}

func TestCapacitySplit(t *testing.T) {
	cases := []struct {
		name       string
		capacities []int64
		perf       int
		eff        int
		ok         bool
	}{
		{"big little", []int64{1024, 1024, 1024, 1024, 512, 512, 512, 512}, 4, 4, true},
		{"uniform", []int64{1024, 1024, 1024, 1024}, 0, 0, false},
		{"single cpu", []int64{1024}, 0, 0, false},
		{"empty", nil, 0, 0, false},
		{"all zero", []int64{0, 0}, 0, 0, false},
		{"three tiers", []int64{1024, 768, 768, 380}, 1, 3, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perf, eff, ok := capacitySplit(tc.capacities)
			if perf != tc.perf || eff != tc.eff || ok != tc.ok {
				t.Errorf("expected (%d, %d, %v), got (%d, %d, %v)",
					tc.perf, tc.eff, tc.ok, perf, eff, ok)
			}
		})
	}
}

func TestSIMDAny(t *testing.T) {
	if (SIMDInfo{}).Any() {
		t.Error("expected empty SIMDInfo to report nothing")
	}
	if !(SIMDInfo{NEON: true}).Any() {
		t.Error("expected NEON to count as SIMD")
	}
}

func TestGet(t *testing.T) {
	info, err := Get()
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if info.LogicalCores < 1 {
		t.Errorf("expected at least one logical core, got %d", info.LogicalCores)
	}
	if info.OSInfo == "" {
		t.Error("expected OS info to be populated")
	}

	// The sync.Once path must hand back the same instance.
	again, err := Get()
	if err != nil || again != info {
		t.Error("expected Get to return the cached instance")
	}
}
