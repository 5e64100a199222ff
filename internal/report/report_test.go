package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hwfingerprint/internal/classify"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/match"
	"hwfingerprint/internal/memprofile"
)

func sampleReport() *Report {
	r := New("1.0.0-test")
	r.ConfigName = "unit"

	r.AttachProfile(
		memprofile.Profile{Entries: []memprofile.SizeEntry{
			{SizeKB: 32, Label: "32KB", Ratio: 1.05, RatioValid: true, Converged: true, Rounds: 6},
			{SizeKB: 1024, Label: "1MB", Ratio: 2.4, RatioValid: true, Converged: true, Rounds: 7},
			{SizeKB: 4, Label: "4KB", RatioValid: false, FailureReason: "trust floor not reached"},
		}},
		memprofile.Bands{
			L1Band: 1.05, L1Valid: true, L1Count: 1,
			DeepBand: 2.4, DeepValid: true, DeepCount: 1,
			Overall: 1.725, OverallValid: true, OverallCount: 2,
		},
	)
	r.AttachStructural(classify.Structural{L1KB: 48, L2KB: 1024, L3MB: 12})
	r.AttachCluster(cluster.Analysis{
		Available:           true,
		HardwareConcurrency: 8,
		ScaledFast:          4,
		ScaledSlow:          4,
		Method:              cluster.MethodInflection,
		Confidence:          85,
	})
	r.AttachClassification(classify.Result{Family: "conventional", Confidence: 58})
	r.AttachMatch(match.Outcome{
		Best: &match.Candidate{Name: "intel-hybrid-desktop", Score: 87.5, Confidence: 80},
		Alternatives: []match.Candidate{
			{Name: "amd-ryzen-desktop", Score: 55},
			{Name: "generic-desktop", Score: 40},
		},
	})
	r.Finish()
	return r
}

func TestNewAssignsDistinctRunIDs(t *testing.T) {
	a := New("x")
	b := New("x")
	if a.RunID == "" || b.RunID == "" {
		t.Fatal("expected non-empty run IDs")
	}
	if a.RunID == b.RunID {
		t.Fatalf("expected distinct run IDs, both %s", a.RunID)
	}
	if a.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", a.Version, SchemaVersion)
	}
}

func TestFinishStampsDuration(t *testing.T) {
	r := New("x")
	r.StartTime = time.Now().Add(-50 * time.Millisecond)
	r.Finish()

	if r.EndTime.IsZero() {
		t.Fatal("EndTime not set")
	}
	if r.DurationMs < 50 {
		t.Errorf("DurationMs = %v, want >= 50", r.DurationMs)
	}
}

func TestWriteAndReadArtifact(t *testing.T) {
	dir := t.TempDir()
	original := sampleReport()

	path, err := WriteArtifact(dir, original)
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "fingerprint_") || !strings.HasSuffix(base, ".json.gz") {
		t.Errorf("unexpected artifact name %s", base)
	}
	if !strings.Contains(base, original.RunID[:8]) {
		t.Errorf("artifact name %s does not carry the run ID prefix", base)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file after atomic write, got %d", len(entries))
	}

	decoded, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if decoded.RunID != original.RunID {
		t.Errorf("RunID = %s, want %s", decoded.RunID, original.RunID)
	}
	if decoded.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", decoded.Version, SchemaVersion)
	}
	if decoded.Bands == nil || decoded.Bands.Overall != 1.725 {
		t.Errorf("bands did not survive the round trip: %+v", decoded.Bands)
	}
	if decoded.MemoryProfile == nil || len(decoded.MemoryProfile.Entries) != 3 {
		t.Errorf("memory profile did not survive the round trip: %+v", decoded.MemoryProfile)
	}
	if decoded.DeviceMatch == nil || decoded.DeviceMatch.Best == nil ||
		decoded.DeviceMatch.Best.Name != "intel-hybrid-desktop" {
		t.Errorf("device match did not survive the round trip: %+v", decoded.DeviceMatch)
	}
	if decoded.Counters != nil {
		t.Errorf("expected omitted counters section, got %+v", decoded.Counters)
	}
}

func TestWriteArtifact_NilReport(t *testing.T) {
	if _, err := WriteArtifact(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for nil report")
	}
}

func TestWriteArtifact_EnvDefaultDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HWFP_ARTIFACT_DIR", dir)

	path, err := WriteArtifact("", sampleReport())
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("artifact written to %s, want directory %s", path, dir)
	}
}

func TestReadArtifact_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadArtifact(filepath.Join(dir, "missing.json.gz")); err == nil {
		t.Error("expected error for missing file")
	}

	plain := filepath.Join(dir, "fingerprint_plain.json.gz")
	if err := os.WriteFile(plain, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadArtifact(plain); err == nil {
		t.Error("expected error for non-gzip content")
	}
}

func TestReadArtifact_NewerSchemaRejected(t *testing.T) {
	dir := t.TempDir()
	r := sampleReport()
	r.Version = SchemaVersion + 1

	path, err := WriteArtifact(dir, r)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ReadArtifact(path); err == nil {
		t.Error("expected error for artifact with newer schema")
	}
}

func TestListArtifacts(t *testing.T) {
	dir := t.TempDir()

	first := sampleReport()
	first.CreatedAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	second := sampleReport()
	second.CreatedAt = time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, err := WriteArtifact(dir, second); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteArtifact(dir, first); err != nil {
		t.Fatal(err)
	}

	paths, err := ListArtifacts(dir)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(paths))
	}
	if !strings.Contains(filepath.Base(paths[0]), "20250301") {
		t.Errorf("expected oldest artifact first, got %s", paths[0])
	}
}

func TestSummarize(t *testing.T) {
	s := sampleReport().Summarize()

	if s.Family != "conventional" || s.Confidence != 58 {
		t.Errorf("family/confidence = %s/%d, want conventional/58", s.Family, s.Confidence)
	}
	if s.BestDevice != "intel-hybrid-desktop" {
		t.Errorf("BestDevice = %s", s.BestDevice)
	}
	if len(s.Alternatives) != 2 || s.Alternatives[0] != "amd-ryzen-desktop" {
		t.Errorf("Alternatives = %v", s.Alternatives)
	}
	if s.Topology != "4P+4E" {
		t.Errorf("Topology = %s, want 4P+4E", s.Topology)
	}
	if s.SizesValid != 2 || s.SizesTotal != 3 {
		t.Errorf("sizes = %d/%d, want 2/3", s.SizesValid, s.SizesTotal)
	}
}

func TestSummarize_EmptyReport(t *testing.T) {
	s := New("x").Summarize()

	if s.Family != "unknown" {
		t.Errorf("Family = %s, want unknown", s.Family)
	}
	if s.BestDevice != "" || s.Topology != "" || s.SizesTotal != 0 {
		t.Errorf("expected empty sections, got %+v", s)
	}
}
