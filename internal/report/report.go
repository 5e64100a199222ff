package report

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hwfingerprint/internal/classify"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/counters"
	"hwfingerprint/internal/gpu"
	"hwfingerprint/internal/host"
	"hwfingerprint/internal/match"
	"hwfingerprint/internal/memprofile"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// SchemaVersion identifies the artifact layout. Bump it when a field
// changes meaning, not when fields are added.
const SchemaVersion = 1

// Report is the complete outcome of one fingerprint run. Sections that
// did not run stay nil and are omitted from the serialized artifact.
type Report struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	RunID     string `json:"run_id"`
	RunNumber int    `json:"run_number,omitempty"`

	ToolVersion  string `json:"tool_version,omitempty"`
	ConfigName   string `json:"config_name,omitempty"`
	PlanChecksum string `json:"plan_checksum,omitempty"`

	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs float64   `json:"duration_ms"`

	Host *host.Info   `json:"host,omitempty"`
	GPU  *gpu.Adapter `json:"gpu,omitempty"`

	MemoryProfile  *memprofile.Profile  `json:"memory_profile,omitempty"`
	Bands          *memprofile.Bands    `json:"bands,omitempty"`
	Structural     *classify.Structural `json:"structural,omitempty"`
	Cluster        *cluster.Analysis    `json:"cluster,omitempty"`
	Classification *classify.Result     `json:"classification,omitempty"`
	DeviceMatch    *match.Outcome       `json:"device_match,omitempty"`
	Counters       *counters.Metrics    `json:"counters,omitempty"`

	Notes []string `json:"notes,omitempty"`
}

// New starts a report for a fresh run. EndTime and DurationMs stay zero
// until Finish is called.
func New(toolVersion string) *Report {
	now := time.Now()
	return &Report{
		Version:     SchemaVersion,
		CreatedAt:   now,
		RunID:       uuid.NewString(),
		ToolVersion: toolVersion,
		StartTime:   now,
	}
}

// Finish stamps the end of the run.
func (r *Report) Finish() {
	r.EndTime = time.Now()
	r.DurationMs = float64(r.EndTime.Sub(r.StartTime)) / float64(time.Millisecond)
}

// Note appends a free-form remark about the run, such as a degraded
// stage or a skipped export.
func (r *Report) Note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func (r *Report) AttachProfile(p memprofile.Profile, b memprofile.Bands) {
	r.MemoryProfile = lo.ToPtr(p)
	r.Bands = lo.ToPtr(b)
}

func (r *Report) AttachStructural(s classify.Structural) {
	r.Structural = lo.ToPtr(s)
}

func (r *Report) AttachCluster(a cluster.Analysis) {
	r.Cluster = lo.ToPtr(a)
}

func (r *Report) AttachClassification(c classify.Result) {
	r.Classification = lo.ToPtr(c)
}

func (r *Report) AttachMatch(o match.Outcome) {
	r.DeviceMatch = lo.ToPtr(o)
}

func (r *Report) AttachGPU(a gpu.Adapter) {
	r.GPU = lo.ToPtr(a)
}

// Summary condenses the report into the handful of values worth a log
// line or a terminal printout.
type Summary struct {
	RunID        string   `json:"run_id"`
	Family       string   `json:"family"`
	Confidence   int      `json:"confidence"`
	BestDevice   string   `json:"best_device,omitempty"`
	DeviceScore  float64  `json:"device_score,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Topology     string   `json:"topology,omitempty"`
	SizesValid   int      `json:"sizes_valid"`
	SizesTotal   int      `json:"sizes_total"`
	DurationMs   float64  `json:"duration_ms"`
}

func (r *Report) Summarize() Summary {
	s := Summary{
		RunID:      r.RunID,
		Family:     "unknown",
		DurationMs: r.DurationMs,
	}

	if r.Classification != nil {
		s.Family = r.Classification.Family
		s.Confidence = r.Classification.Confidence
	}
	if r.DeviceMatch != nil && r.DeviceMatch.Best != nil {
		s.BestDevice = r.DeviceMatch.Best.Name
		s.DeviceScore = r.DeviceMatch.Best.Score
		s.Alternatives = lo.Map(r.DeviceMatch.Alternatives, func(c match.Candidate, _ int) string {
			return c.Name
		})
	}
	if r.Cluster != nil && r.Cluster.Available {
		s.Topology = fmt.Sprintf("%dP+%dE", r.Cluster.ScaledFast, r.Cluster.ScaledSlow)
	}
	if r.MemoryProfile != nil {
		s.SizesTotal = len(r.MemoryProfile.Entries)
		s.SizesValid = lo.CountBy(r.MemoryProfile.Entries, func(e memprofile.SizeEntry) bool {
			return e.RatioValid
		})
	}
	return s
}

// DefaultArtifactDir resolves the artifact directory, preferring the
// HWFP_ARTIFACT_DIR environment variable.
func DefaultArtifactDir() string {
	if v := strings.TrimSpace(os.Getenv("HWFP_ARTIFACT_DIR")); v != "" {
		return v
	}
	return "artifacts"
}

// WriteArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteArtifact(dir string, r *Report) (string, error) {
	if r == nil {
		return "", fmt.Errorf("report is nil")
	}
	if dir == "" {
		dir = DefaultArtifactDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	runID := r.RunID
	if runID == "" {
		runID = "norun"
	} else if len(runID) > 8 {
		runID = runID[:8]
	}
	name := fmt.Sprintf(
		"fingerprint_%s_%s.json.gz",
		r.CreatedAt.UTC().Format("20060102T150405Z"),
		runID,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadArtifact loads a previously written artifact.
func ReadArtifact(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("artifact %s is not gzip: %w", filepath.Base(path), err)
	}
	defer gz.Close()

	var r Report
	if err := json.NewDecoder(gz).Decode(&r); err != nil {
		return nil, fmt.Errorf("artifact %s does not decode: %w", filepath.Base(path), err)
	}
	if r.Version > SchemaVersion {
		return nil, fmt.Errorf("artifact %s has schema %d, newer than supported %d", filepath.Base(path), r.Version, SchemaVersion)
	}
	return &r, nil
}

// ListArtifacts returns the artifact files under dir, oldest first.
func ListArtifacts(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultArtifactDir()
	}
	matches, err := filepath.Glob(filepath.Join(dir, "fingerprint_*.json.gz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
