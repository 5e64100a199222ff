package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"

	"hwfingerprint/internal/logging"

	"github.com/sirupsen/logrus"
)

// MinSupportCount is the number of aggregated device samples a band needs
// before it participates in match scoring.
const MinSupportCount = 3

// ToleranceFloor is the absolute minimum closeness tolerance, so very
// narrow bands do not reject every observation.
const ToleranceFloor = 0.15

const maxTableBytes = 1 << 20

// Band is an externally calibrated value range for one memory-ratio band,
// aggregated from real-device samples.
type Band struct {
	Min          float64 `json:"min"`
	Median       float64 `json:"median"`
	Max          float64 `json:"max"`
	SupportCount int     `json:"support_count"`
}

// FamilyBands carries the calibrated bands of one hardware family together
// with the labels a calibration match assigns.
type FamilyBands struct {
	Family     string `json:"family"`
	Generation string `json:"generation,omitempty"`
	Tier       string `json:"tier,omitempty"`

	L1Band   Band `json:"l1_band"`
	DeepBand Band `json:"deep_band"`
	Overall  Band `json:"overall"`
}

// Table is the calibration table. It is read-only once loaded; concurrent
// readers need no locking.
type Table struct {
	Schema   int           `json:"schema"`
	Families []FamilyBands `json:"families"`
}

// Lookup returns the bands for a family name.
func (t *Table) Lookup(family string) (FamilyBands, bool) {
	if t == nil {
		return FamilyBands{}, false
	}
	for _, fb := range t.Families {
		if fb.Family == family {
			return fb, true
		}
	}
	return FamilyBands{}, false
}

// Load reads a calibration table from a JSON file.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration table: %w", err)
	}
	return parse(raw)
}

// Fetch retrieves a calibration table over HTTP. The caller owns the
// decision to proceed without a table when this fails.
func Fetch(ctx context.Context, url string, client *http.Client) (*Table, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build calibration request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch calibration table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calibration fetch returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTableBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration response: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Table, error) {
	var table Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to parse calibration table: %w", err)
	}
	if len(table.Families) == 0 {
		return nil, fmt.Errorf("calibration table has no families")
	}
	for i, fb := range table.Families {
		if fb.Family == "" {
			return nil, fmt.Errorf("calibration family %d has no name", i)
		}
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"families": len(table.Families),
		"schema":   table.Schema,
	}).Debug("Calibration table loaded")
	return &table, nil
}

// Closeness grades how well an observed ratio matches a calibrated band:
// full credit at the median, decaying linearly to zero at the tolerance
// edge. The tolerance is the widest of 3x the band half-width, the
// device's observed overall ratio, 30% of the median magnitude, and the
// absolute floor.
func Closeness(observed float64, band Band, observedOverall float64) float64 {
	if math.IsNaN(observed) {
		return 0
	}

	tolerance := 3 * (band.Max - band.Min) / 2
	if observedOverall > tolerance {
		tolerance = observedOverall
	}
	if v := 0.3 * math.Abs(band.Median); v > tolerance {
		tolerance = v
	}
	if tolerance < ToleranceFloor {
		tolerance = ToleranceFloor
	}

	distance := math.Abs(observed - band.Median)
	if distance >= tolerance {
		return 0
	}
	return 1 - distance/tolerance
}

// Observation is the set of measured band values a table is scored
// against. Valid flags mark which bands were actually measured.
type Observation struct {
	L1        float64
	L1OK      bool
	Deep      float64
	DeepOK    bool
	Overall   float64
	OverallOK bool
}

// Score computes the support-weighted closeness of an observation to one
// family. Bands without enough support or without a measured observation
// are skipped; no participating band at all scores 0.
func Score(fb FamilyBands, obs Observation) float64 {
	overall := 0.0
	if obs.OverallOK {
		overall = obs.Overall
	}

	var weighted, weights float64
	add := func(value float64, ok bool, band Band) {
		if !ok || band.SupportCount < MinSupportCount {
			return
		}
		w := float64(band.SupportCount)
		weighted += w * Closeness(value, band, overall)
		weights += w
	}

	add(obs.L1, obs.L1OK, fb.L1Band)
	add(obs.Deep, obs.DeepOK, fb.DeepBand)
	add(obs.Overall, obs.OverallOK, fb.Overall)

	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// BestMatch scores every family against the observation and returns the
// winner. ok is false when the table is nil or nothing scored above zero.
func (t *Table) BestMatch(obs Observation) (FamilyBands, float64, bool) {
	if t == nil {
		return FamilyBands{}, 0, false
	}

	var best FamilyBands
	bestScore := 0.0
	found := false
	for _, fb := range t.Families {
		score := Score(fb, obs)
		if score > bestScore {
			best = fb
			bestScore = score
			found = true
		}
	}
	return best, bestScore, found
}
