package match

import (
	"encoding/json"
	"fmt"
	"os"

	"hwfingerprint/internal/logging"
)

// BuiltinProfiles returns the built-in device signature table. Callers
// get a fresh slice and may append or replace entries.
func BuiltinProfiles() []Profile {
	return []Profile{
		{
			Name:           "apple-m-series",
			Vendor:         "apple",
			Arch:           "metal-3",
			Cores:          rangeOf(8, 16),
			L1KB:           rangeOf(128, 192),
			MemoryRatio:    rangeOf(0.8, 1.15),
			BaseConfidence: 70,
		},
		{
			Name:           "intel-hybrid-desktop",
			Vendor:         "intel",
			Arch:           "xe",
			Cores:          rangeOf(12, 32),
			L1KB:           rangeOf(32, 48),
			MemoryRatio:    rangeOf(1.2, 2.0),
			BaseConfidence: 65,
		},
		{
			Name:           "amd-ryzen-desktop",
			Vendor:         "amd",
			Arch:           "rdna",
			Cores:          rangeOf(12, 32),
			L1KB:           rangeOf(32, 48),
			MemoryRatio:    rangeOf(1.3, 2.2),
			BaseConfidence: 65,
		},
		{
			Name:           "nvidia-discrete-desktop",
			Vendor:         "nvidia",
			Cores:          rangeOf(8, 32),
			L1KB:           rangeOf(32, 48),
			MemoryRatio:    rangeOf(1.2, 2.2),
			BaseConfidence: 60,
		},
		{
			Name:           "snapdragon-mobile",
			Vendor:         "qualcomm",
			Arch:           "adreno",
			Cores:          rangeOf(6, 10),
			L1KB:           rangeOf(64, 128),
			MemoryRatio:    rangeOf(0.9, 1.4),
			BaseConfidence: 60,
		},
		{
			Name:           "mali-mobile",
			Vendor:         "arm",
			Arch:           "valhall",
			Cores:          rangeOf(4, 10),
			MemoryRatio:    rangeOf(0.9, 1.5),
			BaseConfidence: 55,
		},
		{
			Name:           "generic-desktop",
			Cores:          rangeOf(4, 32),
			L1KB:           rangeOf(32, 64),
			MemoryRatio:    rangeOf(1.1, 2.4),
			BaseConfidence: 40,
		},
		{
			Name:           "generic-mobile",
			Cores:          rangeOf(4, 10),
			L1KB:           rangeOf(32, 128),
			MemoryRatio:    rangeOf(0.8, 1.5),
			BaseConfidence: 35,
		},
	}
}

// LoadProfiles reads a signature table from a JSON file, replacing the
// built-in set.
func LoadProfiles(path string) ([]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature table: %w", err)
	}

	var profiles []Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse signature table: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("signature table is empty")
	}

	for i, p := range profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("signature %d has no name", i)
		}
		if p.BaseConfidence < 0 || p.BaseConfidence > confidenceCap {
			return nil, fmt.Errorf("signature %q has base confidence %d outside [0, %d]",
				p.Name, p.BaseConfidence, confidenceCap)
		}
		for _, r := range []*Range{p.Cores, p.L1KB, p.MemoryRatio} {
			if r != nil && r.Min > r.Max {
				return nil, fmt.Errorf("signature %q has an inverted range", p.Name)
			}
		}
	}

	logging.GetLogger().WithField("profiles", len(profiles)).Info("Loaded signature table override")
	return profiles, nil
}

func rangeOf(min, max float64) *Range {
	return &Range{Min: min, Max: max}
}
