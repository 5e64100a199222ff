package database

import (
	"testing"

	"hwfingerprint/internal/classify"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/match"
	"hwfingerprint/internal/memprofile"
	"hwfingerprint/internal/report"
	"hwfingerprint/internal/stats"
)

func sampleExportReport() *report.Report {
	rep := report.New("0.0.0-test")
	rep.RunNumber = 7

	rep.AttachProfile(
		memprofile.Profile{Entries: []memprofile.SizeEntry{
			{
				SizeKB: 32, Label: "32KB", Ratio: 1.1, RatioValid: true, Converged: true,
				Rounds: 6, Iterations: 648,
				Sequential: stats.Summary{TrimmedMean: 0.004, RelStdDev: 0.03, Count: 6},
				Random:     stats.Summary{TrimmedMean: 0.0044, RelStdDev: 0.05, Count: 6},
			},
			{SizeKB: 4, Label: "4KB", RatioValid: false, FailureReason: "trust floor not reached"},
		}},
		memprofile.Bands{Overall: 1.1, OverallValid: true, OverallCount: 1},
	)
	rep.AttachClassification(classify.Result{
		Family: "conventional", Generation: "classic", Confidence: 55,
		Evidence: []string{"overall ratio 1.10"},
	})
	rep.AttachMatch(match.Outcome{
		Best: &match.Candidate{
			Name: "generic-desktop", Score: 72, Confidence: 56,
			SubScores: map[string]float64{"cores": 1, "memory_ratio": 0.5},
		},
		Alternatives: []match.Candidate{{Name: "generic-mobile", Score: 31, Weak: true}},
	})
	rep.AttachCluster(cluster.Analysis{
		Available: false, Reason: "not enough valid worker timings",
		HardwareConcurrency: 4,
	})
	rep.Finish()
	return rep
}

func TestBuildPoints_SectionCoverage(t *testing.T) {
	points := buildPoints(sampleExportReport())

	counts := make(map[string]int)
	for _, p := range points {
		counts[p.Name()]++
	}

	expected := map[string]int{
		"memory_profile":   2,
		"classification":   1,
		"device_match":     2,
		"cluster_topology": 1,
		"fingerprint_meta": 1,
	}
	for name, want := range expected {
		if counts[name] != want {
			t.Errorf("measurement %s: %d points, want %d", name, counts[name], want)
		}
	}
	if len(points) != 7 {
		t.Errorf("total points = %d, want 7", len(points))
	}
}

func TestBuildPoints_RunTagsOnEveryPoint(t *testing.T) {
	rep := sampleExportReport()
	points := buildPoints(rep)

	for _, p := range points {
		tags := make(map[string]string)
		for _, tag := range p.TagList() {
			tags[tag.Key] = tag.Value
		}
		if tags["run_id"] != rep.RunID {
			t.Errorf("point %s: run_id tag = %q, want %q", p.Name(), tags["run_id"], rep.RunID)
		}
		if tags["run_number"] != "7" {
			t.Errorf("point %s: run_number tag = %q, want 7", p.Name(), tags["run_number"])
		}
	}
}

func TestBuildPoints_EmptyReport(t *testing.T) {
	if got := buildPoints(nil); got != nil {
		t.Errorf("expected nil points for nil report, got %d", len(got))
	}

	points := buildPoints(report.New("x"))
	if len(points) != 1 || points[0].Name() != "fingerprint_meta" {
		t.Fatalf("expected only the meta point for a bare report, got %d points", len(points))
	}
}

func TestProfileFields(t *testing.T) {
	valid := memprofile.SizeEntry{
		SizeKB: 64, Ratio: 1.3, RatioValid: true, Converged: true, Rounds: 5,
		Sequential: stats.Summary{TrimmedMean: 0.01, RelStdDev: 0.02, Count: 5},
	}
	fields := profileFields(valid)
	if fields["ratio"] != 1.3 {
		t.Errorf("ratio = %v, want 1.3", fields["ratio"])
	}
	if fields["sequential_mean_ms"] != 0.01 {
		t.Errorf("sequential_mean_ms = %v", fields["sequential_mean_ms"])
	}
	if _, present := fields["random_mean_ms"]; present {
		t.Error("random fields should be absent without random samples")
	}

	failed := memprofile.SizeEntry{SizeKB: 4, RatioValid: false, FailureReason: "too fast"}
	fields = profileFields(failed)
	if _, present := fields["ratio"]; present {
		t.Error("invalid ratio must not be exported")
	}
	if fields["failure_reason"] != "too fast" {
		t.Errorf("failure_reason = %v", fields["failure_reason"])
	}
}

func TestCandidateFields(t *testing.T) {
	fields := candidateFields(match.Candidate{
		Name: "x", Score: 88, Confidence: 84,
		SubScores:      map[string]float64{"gpu": 1},
		Contradictions: []string{"cores outside expected range"},
	})

	if fields["score"] != 88.0 {
		t.Errorf("score = %v", fields["score"])
	}
	if fields["contradictions"] != 1 {
		t.Errorf("contradictions = %v, want 1", fields["contradictions"])
	}
	if fields["sub_gpu"] != 1.0 {
		t.Errorf("sub_gpu = %v, want 1", fields["sub_gpu"])
	}
}

func TestClusterFields(t *testing.T) {
	available := clusterFields(cluster.Analysis{
		Available: true, HardwareConcurrency: 10,
		FastCount: 6, SlowCount: 4, ScaledFast: 6, ScaledSlow: 4,
		PerformanceGap: 1.6, Method: cluster.MethodInflection, Confidence: 85,
	})
	if available["scaled_fast"] != 6 || available["method"] != cluster.MethodInflection {
		t.Errorf("unexpected fields for available analysis: %v", available)
	}
	if _, present := available["reason"]; present {
		t.Error("available analysis must not carry a reason")
	}

	degraded := clusterFields(cluster.Analysis{Available: false, Reason: "timings too noisy"})
	if degraded["reason"] != "timings too noisy" {
		t.Errorf("reason = %v", degraded["reason"])
	}
	if _, present := degraded["scaled_fast"]; present {
		t.Error("unavailable analysis must not export scaled counts")
	}
}

func TestMetaFields(t *testing.T) {
	rep := sampleExportReport()
	fields := metaFields(rep)

	if fields["tool_version"] != "0.0.0-test" {
		t.Errorf("tool_version = %v", fields["tool_version"])
	}
	if fields["overall_band"] != 1.1 {
		t.Errorf("overall_band = %v, want 1.1", fields["overall_band"])
	}
	if _, present := fields["l1_band"]; present {
		t.Error("invalid l1 band must not be exported")
	}
	if _, present := fields["instructions_per_cycle"]; present {
		t.Error("counter fields require a counter section")
	}
}
