package match

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const angleAppleRenderer = "ANGLE (Apple, ANGLE Metal Renderer: Apple M4 Pro, Unspecified Version)"

func TestMatch_AngleAppleRenderer(t *testing.T) {
	profile := Profile{
		Name:           "apple-m-series",
		Vendor:         "apple",
		Arch:           "metal-3",
		BaseConfidence: 70,
	}
	fv := FeatureVector{GPURenderer: angleAppleRenderer}

	ranked := Match(fv, []Profile{profile})
	if len(ranked) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(ranked))
	}

	cand := ranked[0]
	if got := cand.SubScores["gpu"]; got != 1.0 {
		t.Errorf("expected full vendor credit, got %v", got)
	}
	if got := cand.SubScores["gpu_arch"]; got != 1.0 {
		t.Errorf("expected full architecture credit, got %v", got)
	}
	if len(cand.Contradictions) != 0 {
		t.Errorf("expected zero contradictions, got %v", cand.Contradictions)
	}
	if cand.Score != 100 {
		t.Errorf("expected score 100, got %v", cand.Score)
	}
	if cand.Weak {
		t.Error("expected a strong match")
	}
}

func TestNormalizeVendor(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{angleAppleRenderer, "apple"},
		{"NVIDIA GeForce RTX 4070", "nvidia"},
		{"AMD Radeon RX 7800 XT", "amd"},
		{"Intel(R) Iris(R) Xe Graphics", "intel"},
		{"Intel Corporation", "intel"},
		{"Qualcomm Adreno 740", "qualcomm"},
		{"Mali-G78 MP14", "arm"},
		{"Microsoft Basic Render Driver", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeVendor(tc.input); got != tc.expected {
			t.Errorf("NormalizeVendor(%q): expected %q, got %q", tc.input, tc.expected, got)
		}
	}
}

func TestNormalizeArch(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"metal-3", "metal"},
		{"Metal 3", "metal"},
		{angleAppleRenderer, "metal"},
		{"RDNA 2", "rdna"},
		{"rdna3", "rdna"},
		{"Ada Lovelace", "ada"},
		{"D3D11 vs_5_0", "d3d"},
		{"Vulkan 1.3", "vulkan"},
		{"something odd", ""},
	}

	for _, tc := range cases {
		if got := NormalizeArch(tc.input); got != tc.expected {
			t.Errorf("NormalizeArch(%q): expected %q, got %q", tc.input, tc.expected, got)
		}
	}
}

func TestUnwrapANGLE(t *testing.T) {
	got := UnwrapANGLE(angleAppleRenderer)
	want := "Apple, ANGLE Metal Renderer: Apple M4 Pro, Unspecified Version"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	plain := "NVIDIA GeForce RTX 4070"
	if got := UnwrapANGLE(plain); got != plain {
		t.Errorf("expected passthrough for non-ANGLE string, got %q", got)
	}
	malformed := "ANGLE (broken"
	if got := UnwrapANGLE(malformed); got != malformed {
		t.Errorf("expected passthrough for malformed wrapper, got %q", got)
	}
}

func TestMatch_RanksAppleFirst(t *testing.T) {
	fv := FeatureVector{
		Cores:       12,
		L1KB:        128,
		MemoryRatio: 0.95,
		GPURenderer: angleAppleRenderer,
	}

	ranked := Match(fv, BuiltinProfiles())
	if len(ranked) == 0 {
		t.Fatal("expected candidates")
	}
	if ranked[0].Name != "apple-m-series" {
		t.Fatalf("expected apple-m-series to rank first, got %q", ranked[0].Name)
	}
	if ranked[0].Score != 100 {
		t.Errorf("expected a perfect score, got %v", ranked[0].Score)
	}
	if ranked[0].Confidence < 80 {
		t.Errorf("expected confidence >= 80, got %d", ranked[0].Confidence)
	}
	if ranked[0].Weak {
		t.Error("expected a strong top match")
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Fatalf("candidates not sorted: %v before %v", ranked[i-1].Score, ranked[i].Score)
		}
	}
}

func TestSummarize(t *testing.T) {
	fv := FeatureVector{
		Cores:       12,
		L1KB:        128,
		MemoryRatio: 0.95,
		GPURenderer: angleAppleRenderer,
	}
	ranked := Match(fv, BuiltinProfiles())

	out := Summarize(ranked)
	if out.Best == nil || out.Best.Name != "apple-m-series" {
		t.Fatalf("expected apple-m-series as best, got %+v", out.Best)
	}
	if len(out.Alternatives) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(out.Alternatives))
	}
	if out.Alternatives[0].Name != ranked[1].Name || out.Alternatives[1].Name != ranked[2].Name {
		t.Errorf("alternatives out of order: %q, %q", out.Alternatives[0].Name, out.Alternatives[1].Name)
	}

	empty := Summarize(nil)
	if empty.Best != nil || len(empty.Alternatives) != 0 {
		t.Errorf("expected empty outcome, got %+v", empty)
	}
}

func TestScoreNumeric(t *testing.T) {
	r := Range{Min: 32, Max: 48}

	cases := []struct {
		name   string
		value  float64
		score  float64
		contra bool
	}{
		{"inside", 40, 1.0, false},
		{"at bound", 48, 1.0, false},
		{"partial above", 52, 0.75, false},
		{"at tolerance edge", 64, 0, false},
		{"beyond twice tolerance", 81, 0, true},
		{"partial below", 28, 0.75, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, contra := scoreNumeric(tc.value, r, 16)
			if math.Abs(score-tc.score) > 1e-9 {
				t.Errorf("expected score %v, got %v", tc.score, score)
			}
			if contra != tc.contra {
				t.Errorf("expected contradiction=%v, got %v", tc.contra, contra)
			}
		})
	}
}

func TestMatch_MissingObservationsExcluded(t *testing.T) {
	profile := Profile{
		Name:           "partial",
		Vendor:         "apple",
		Cores:          rangeOf(8, 16),
		MemoryRatio:    rangeOf(0.8, 1.2),
		BaseConfidence: 50,
	}

	// Only the core count was observed; the other weights drop out and
	// the remaining score renormalizes to full credit.
	ranked := Match(FeatureVector{Cores: 10}, []Profile{profile})
	cand := ranked[0]

	if cand.Score != 100 {
		t.Errorf("expected renormalized score 100, got %v", cand.Score)
	}
	if len(cand.SubScores) != 1 {
		t.Errorf("expected a single participating sub-feature, got %v", cand.SubScores)
	}
	if _, ok := cand.SubScores["cores"]; !ok {
		t.Errorf("expected cores sub-score, got %v", cand.SubScores)
	}
}

func TestMatch_NothingObserved(t *testing.T) {
	profile := Profile{Name: "empty", Cores: rangeOf(8, 16), BaseConfidence: 50}

	ranked := Match(FeatureVector{}, []Profile{profile})
	if ranked[0].Score != 0 {
		t.Errorf("expected score 0 with no observations, got %v", ranked[0].Score)
	}
	if !ranked[0].Weak {
		t.Error("expected weak flag with no observations")
	}
}

func TestMatch_ContradictionPenaltyBounded(t *testing.T) {
	profile := Profile{
		Name:           "apple-m-series",
		Vendor:         "apple",
		Arch:           "metal-3",
		Cores:          rangeOf(8, 16),
		L1KB:           rangeOf(128, 192),
		MemoryRatio:    rangeOf(0.8, 1.15),
		BaseConfidence: 70,
	}
	fv := FeatureVector{
		Cores:       100,
		L1KB:        1024,
		MemoryRatio: 10,
		GPUVendor:   "NVIDIA",
		GPURenderer: "NVIDIA GeForce RTX 4070",
	}

	cand := Match(fv, []Profile{profile})[0]
	if len(cand.Contradictions) != 4 {
		t.Fatalf("expected 4 contradictions, got %v", cand.Contradictions)
	}
	if cand.Score != 0 {
		t.Errorf("expected the penalty to stop at zero, got %v", cand.Score)
	}
	if !cand.Weak {
		t.Error("expected weak flag with contradictions")
	}
}

func TestMatch_SubstringPartialCredit(t *testing.T) {
	// A vendor outside the canonical token table still earns partial
	// credit on raw containment.
	profile := Profile{Name: "powervr", Vendor: "imgtec", BaseConfidence: 50}
	fv := FeatureVector{GPURenderer: "IMGTec PowerVR GE8320"}

	cand := Match(fv, []Profile{profile})[0]
	if got := cand.SubScores["gpu"]; math.Abs(got-substringCredit) > 1e-9 {
		t.Errorf("expected substring credit %v, got %v", substringCredit, got)
	}
	if len(cand.Contradictions) != 0 {
		t.Errorf("expected no contradictions, got %v", cand.Contradictions)
	}
}

func TestDeriveConfidence(t *testing.T) {
	cases := []struct {
		name     string
		score    float64
		base     int
		expected int
	}{
		{"average", 30, 40, 35},
		{"high floor", 85, 30, 80},
		{"medium floor", 65, 40, 60},
		{"cap", 100, 95, 95},
		{"average above floor", 100, 70, 85},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveConfidence(tc.score, tc.base); got != tc.expected {
				t.Errorf("expected confidence %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.json")
	content := `[
		{"name": "custom", "vendor": "nvidia", "cores": {"min": 8, "max": 24}, "base_confidence": 55}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write signatures: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles returned error: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Name != "custom" {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}
	if profiles[0].Cores == nil || profiles[0].Cores.Max != 24 {
		t.Errorf("expected cores range to load, got %+v", profiles[0].Cores)
	}
}

func TestLoadProfiles_Errors(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"empty table", `[]`},
		{"missing name", `[{"vendor": "amd"}]`},
		{"inverted range", `[{"name": "x", "cores": {"min": 16, "max": 8}}]`},
		{"bad confidence", `[{"name": "x", "base_confidence": 120}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("failed to write signatures: %v", err)
			}
			if _, err := LoadProfiles(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := LoadProfiles(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
