package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type planChecksumPayload struct {
	SizesKB []int `json:"sizes_kb"`

	BaseIterations int     `json:"base_iterations"`
	GrowthFactor   float64 `json:"growth_factor"`
	MaxIterations  int     `json:"max_iterations"`
	TargetRSD      float64 `json:"target_rsd"`
	MinRounds      int     `json:"min_rounds"`
	MaxRounds      int     `json:"max_rounds"`
	TrustFloorMs   float64 `json:"trust_floor_ms"`

	L1MinKB   int `json:"l1_min_kb"`
	L1MaxKB   int `json:"l1_max_kb"`
	DeepMinKB int `json:"deep_min_kb"`

	MaxProbe           int `json:"max_probe"`
	WorkloadIterations int `json:"workload_iterations"`
}

// PlanChecksum returns a short, stable checksum that identifies the effective
// measurement plan (sizes and sampler/cluster tunables), independent of
// logging, artifact and export settings.
//
// It computes MD5 over a canonical JSON representation and returns the first 6
// hex characters (equivalent to `md5sum | cut -c1-6`).
func PlanChecksum(cfg *FingerprintConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	fp := cfg.Fingerprint

	sizes := append([]int(nil), fp.SizesKB...)
	sort.Ints(sizes)

	payload := planChecksumPayload{
		SizesKB:            sizes,
		BaseIterations:     fp.Memory.Sampler.BaseIterations,
		GrowthFactor:       fp.Memory.Sampler.GrowthFactor,
		MaxIterations:      fp.Memory.Sampler.MaxIterations,
		TargetRSD:          fp.Memory.Sampler.TargetRSD,
		MinRounds:          fp.Memory.Sampler.MinRounds,
		MaxRounds:          fp.Memory.Sampler.MaxRounds,
		TrustFloorMs:       fp.Memory.Sampler.TrustFloorMs,
		L1MinKB:            fp.Memory.Thresholds.L1MinKB,
		L1MaxKB:            fp.Memory.Thresholds.L1MaxKB,
		DeepMinKB:          fp.Memory.Thresholds.DeepMinKB,
		MaxProbe:           fp.Cluster.MaxProbe,
		WorkloadIterations: fp.Cluster.WorkloadIterations,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
