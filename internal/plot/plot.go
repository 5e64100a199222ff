package plot

import (
	"bytes"
	"fmt"
	"math"
	"text/template"
	"time"

	"hwfingerprint/internal/logging"
	"hwfingerprint/internal/memprofile"
	"hwfingerprint/internal/report"

	"github.com/sirupsen/logrus"
)

// Kind selects which figure to render from a report artifact.
type Kind string

const (
	// KindRatio plots the random/sequential latency ratio per
	// working-set size, the curve the classifier reads its bands from.
	KindRatio Kind = "ratio"
	// KindTimings plots the raw per-iteration probe times per
	// working-set size for both access patterns.
	KindTimings Kind = "timings"
)

// Options control a single figure rendering.
type Options struct {
	Kind        Kind
	MinOverride *float64
	MaxOverride *float64
}

type Generator struct {
	logger *logrus.Logger
}

func NewGenerator() *Generator {
	return &Generator{logger: logging.GetLogger()}
}

// Generate renders the requested figure from a finished report and
// returns the TikZ plot and the LaTeX wrapper that includes it.
func (g *Generator) Generate(rep *report.Report, opts Options) (string, string, error) {
	if rep == nil {
		return "", "", fmt.Errorf("no report to plot")
	}

	g.logger.WithFields(logrus.Fields{
		"run_id": rep.RunID,
		"kind":   string(opts.Kind),
	}).Info("Generating plot")

	var data *figureData
	var err error
	switch opts.Kind {
	case KindRatio:
		data, err = g.ratioFigure(rep, opts)
	case KindTimings:
		data, err = g.timingsFigure(rep, opts)
	default:
		return "", "", fmt.Errorf("unknown plot kind: %s", opts.Kind)
	}
	if err != nil {
		return "", "", err
	}

	fillRunHeader(data, rep)

	plotOutput, err := renderTemplate("plot", figureTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render plot: %w", err)
	}

	wrapperOutput, err := renderTemplate("wrapper", wrapperTemplate, wrapperData(rep, opts.Kind, data))
	if err != nil {
		return "", "", fmt.Errorf("failed to render wrapper: %w", err)
	}

	g.logger.Info("Plot generated successfully")
	return plotOutput, wrapperOutput, nil
}

func (g *Generator) ratioFigure(rep *report.Report, opts Options) (*figureData, error) {
	entries := ratioEntries(rep)
	if len(entries) == 0 {
		return nil, fmt.Errorf("report %s has no valid ratio measurements", rep.RunID)
	}

	measured := series{
		Comment:     "random/sequential ratio per working-set size",
		Style:       seriesStyle(0).ToTikzOptions(),
		LegendEntry: "measured ratio",
	}

	minSize, maxSize := entries[0].SizeKB, entries[0].SizeKB
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for _, e := range entries {
		measured.Coordinates = append(measured.Coordinates, fmt.Sprintf("(%d,%.4f)", e.SizeKB, e.Ratio))
		if e.SizeKB < minSize {
			minSize = e.SizeKB
		}
		if e.SizeKB > maxSize {
			maxSize = e.SizeKB
		}
		if e.Ratio < yMin {
			yMin = e.Ratio
		}
		if e.Ratio > yMax {
			yMax = e.Ratio
		}
	}

	// Reference line at 1.0, where random access costs the same as
	// sequential access.
	parity := series{
		Comment:     "parity, random as fast as sequential",
		Style:       seriesStyle(3).ToTikzOptions(),
		LegendEntry: "parity",
		Coordinates: []string{
			fmt.Sprintf("(%d,1.0000)", minSize),
			fmt.Sprintf("(%d,1.0000)", maxSize),
		},
	}
	yMin = math.Min(yMin, 1.0)
	yMax = math.Max(yMax, 1.0)

	data := &figureData{
		Title:  "Memory latency-ratio profile",
		XLabel: "Working set (KB)",
		YLabel: "Random / sequential time",
		LogX:   true,
		XMin:   fmt.Sprintf("%.6g", float64(minSize)*0.8),
		XMax:   fmt.Sprintf("%.6g", float64(maxSize)*1.25),
		Series: []series{measured, parity},
	}
	data.YMin, data.YMax = axisLimits(opts.MinOverride, opts.MaxOverride, yMin, yMax, 0.95, 1.05)
	return data, nil
}

func (g *Generator) timingsFigure(rep *report.Report, opts Options) (*figureData, error) {
	if rep.MemoryProfile == nil {
		return nil, fmt.Errorf("report %s has no memory profile", rep.RunID)
	}

	sequential := series{
		Comment:     "sequential per-iteration time",
		Style:       seriesStyle(1).ToTikzOptions(),
		LegendEntry: "sequential",
	}
	random := series{
		Comment:     "random per-iteration time",
		Style:       seriesStyle(2).ToTikzOptions(),
		LegendEntry: "random",
	}

	minSize, maxSize := 0, 0
	yMin, yMax := math.Inf(1), math.Inf(-1)
	observe := func(sizeKB int, ms float64) string {
		if minSize == 0 || sizeKB < minSize {
			minSize = sizeKB
		}
		if sizeKB > maxSize {
			maxSize = sizeKB
		}
		if ms < yMin {
			yMin = ms
		}
		if ms > yMax {
			yMax = ms
		}
		return fmt.Sprintf("(%d,%.6g)", sizeKB, ms)
	}

	for _, e := range rep.MemoryProfile.Entries {
		if e.Sequential.HasData() {
			sequential.Coordinates = append(sequential.Coordinates, observe(e.SizeKB, e.Sequential.TrimmedMean))
		}
		if e.Random.HasData() {
			random.Coordinates = append(random.Coordinates, observe(e.SizeKB, e.Random.TrimmedMean))
		}
	}

	var plots []series
	if len(sequential.Coordinates) > 0 {
		plots = append(plots, sequential)
	}
	if len(random.Coordinates) > 0 {
		plots = append(plots, random)
	}
	if len(plots) == 0 {
		return nil, fmt.Errorf("report %s has no probe timings", rep.RunID)
	}

	data := &figureData{
		Title:  "Probe timings",
		XLabel: "Working set (KB)",
		YLabel: "Per-iteration time (ms)",
		LogX:   true,
		LogY:   true,
		XMin:   fmt.Sprintf("%.6g", float64(minSize)*0.8),
		XMax:   fmt.Sprintf("%.6g", float64(maxSize)*1.25),
		Series: plots,
	}
	data.YMin, data.YMax = axisLimits(opts.MinOverride, opts.MaxOverride, yMin, yMax, 0.8, 1.25)
	return data, nil
}

func ratioEntries(rep *report.Report) []memprofile.SizeEntry {
	if rep.MemoryProfile == nil {
		return nil
	}
	var entries []memprofile.SizeEntry
	for _, e := range rep.MemoryProfile.Entries {
		if e.RatioValid {
			entries = append(entries, e)
		}
	}
	return entries
}

func axisLimits(minOverride, maxOverride *float64, dataMin, dataMax, padLo, padHi float64) (string, string) {
	var minStr, maxStr string

	if minOverride != nil {
		minStr = fmt.Sprintf("%.6g", *minOverride)
	} else {
		minStr = fmt.Sprintf("%.6g", dataMin*padLo)
	}

	if maxOverride != nil {
		maxStr = fmt.Sprintf("%.6g", *maxOverride)
	} else {
		maxStr = fmt.Sprintf("%.6g", dataMax*padHi)
	}

	return minStr, maxStr
}

func fillRunHeader(data *figureData, rep *report.Report) {
	data.GeneratedDate = time.Now().Format("2006-01-02 15:04:05")
	data.RunID = rep.RunID
	data.ConfigName = rep.ConfigName
	data.ToolVersion = rep.ToolVersion
	data.Created = rep.CreatedAt.Format(time.RFC3339)
	data.DurationMs = rep.DurationMs

	if rep.Host != nil {
		data.Hostname = rep.Host.Hostname
		data.CPUModel = rep.Host.CPUModel
		data.Cores = rep.Host.LogicalCores
		data.L1KB = rep.Host.Caches.L1DataKB
		data.L2KB = rep.Host.Caches.L2KB
		data.L3MB = rep.Host.Caches.L3MB
		data.KernelVersion = rep.Host.KernelVersion
		data.OSInfo = rep.Host.OSInfo
	}
	if rep.Classification != nil {
		data.Family = rep.Classification.Family
		data.Confidence = rep.Classification.Confidence
	}
	if rep.DeviceMatch != nil && rep.DeviceMatch.Best != nil {
		data.BestDevice = rep.DeviceMatch.Best.Name
	}
}

func wrapperData(rep *report.Report, kind Kind, fig *figureData) *wrapperFields {
	short := rep.RunID
	if len(short) > 8 {
		short = short[:8]
	}

	return &wrapperFields{
		GeneratedDate: fig.GeneratedDate,
		RunID:         rep.RunID,
		RunShort:      short,
		Figure:        string(kind),
		PlotFileName:  fmt.Sprintf("fingerprint-%s-%s.tikz", short, kind),
		ShortCaption:  fig.Title,
		Caption:       captionFor(kind),
	}
}

func captionFor(kind Kind) string {
	switch kind {
	case KindRatio:
		return "The random-to-sequential latency ratio per working-set size"
	case KindTimings:
		return "Sequential and random per-iteration probe times per working-set size"
	}
	return ""
}

func renderTemplate(name, text string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}

	return buf.String(), nil
}
