package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hwfingerprint/internal/classify"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/config"
	"hwfingerprint/internal/logging"
	"hwfingerprint/internal/match"
	"hwfingerprint/internal/memprofile"
	"hwfingerprint/internal/report"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := influxdb2.NewClient(cfg.Address(), cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		logger.WithField("host", cfg.Address()).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}

	if health.Status != "pass" {
		client.Close()
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Address(),
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed with status %q", health.Status)
	}

	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	logger.WithFields(logrus.Fields{
		"host":   cfg.Address(),
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// GetLastRunNumber returns the highest run number exported to the bucket
// in the last 30 days, or 0 when no runs are recorded.
func (idb *InfluxDBClient) GetLastRunNumber() (int, error) {
	ctx := context.Background()

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -30d)
		|> filter(fn: (r) => r._measurement == "fingerprint_meta")
		|> distinct(column: "run_number")
		|> map(fn: (r) => ({_value: int(v: r.run_number)}))
		|> max()
		|> yield(name: "max_run_number")
	`, idb.bucket)

	result, err := idb.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query last run number: %w", err)
	}
	defer result.Close()

	maxNumber := 0
	for result.Next() {
		if result.Record().Value() != nil {
			if n, ok := result.Record().Value().(int64); ok {
				maxNumber = int(n)
			}
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query results: %w", result.Err())
	}

	return maxNumber, nil
}

// WriteReport exports every populated report section as InfluxDB points.
func (idb *InfluxDBClient) WriteReport(rep *report.Report) error {
	ctx := context.Background()

	points := buildPoints(rep)
	if len(points) == 0 {
		return fmt.Errorf("report has no exportable sections")
	}

	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write fingerprint points: %w", err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"run_id": rep.RunID,
		"points": len(points),
	}).Info("Exported fingerprint report")
	return nil
}

// buildPoints flattens a report into measurement points. It is pure so
// the mapping stays testable without a live database.
func buildPoints(rep *report.Report) []*write.Point {
	if rep == nil {
		return nil
	}

	runTags := func(extra map[string]string) map[string]string {
		tags := map[string]string{
			"run_id":     rep.RunID,
			"run_number": fmt.Sprintf("%d", rep.RunNumber),
		}
		for k, v := range extra {
			tags[k] = v
		}
		return tags
	}

	ts := rep.EndTime
	if ts.IsZero() {
		ts = rep.CreatedAt
	}

	var points []*write.Point

	if rep.MemoryProfile != nil {
		for _, entry := range rep.MemoryProfile.Entries {
			points = append(points, influxdb2.NewPoint("memory_profile",
				runTags(map[string]string{"size": entry.Label}),
				profileFields(entry),
				ts))
		}
	}

	if rep.Classification != nil {
		points = append(points, influxdb2.NewPoint("classification",
			runTags(map[string]string{"family": rep.Classification.Family}),
			classificationFields(*rep.Classification),
			ts))
	}

	if rep.DeviceMatch != nil {
		for _, cand := range matchCandidates(*rep.DeviceMatch) {
			points = append(points, influxdb2.NewPoint("device_match",
				runTags(map[string]string{"device": cand.Name}),
				candidateFields(cand),
				ts))
		}
	}

	if rep.Cluster != nil {
		points = append(points, influxdb2.NewPoint("cluster_topology",
			runTags(nil),
			clusterFields(*rep.Cluster),
			ts))
	}

	points = append(points, influxdb2.NewPoint("fingerprint_meta",
		runTags(nil),
		metaFields(rep),
		ts))

	return points
}

// matchCandidates flattens the outcome into a ranked candidate list,
// best first.
func matchCandidates(o match.Outcome) []match.Candidate {
	var out []match.Candidate
	if o.Best != nil {
		out = append(out, *o.Best)
	}
	out = append(out, o.Alternatives...)
	return out
}

func profileFields(e memprofile.SizeEntry) map[string]interface{} {
	fields := map[string]interface{}{
		"size_kb":     e.SizeKB,
		"ratio_valid": e.RatioValid,
		"converged":   e.Converged,
		"rounds":      e.Rounds,
		"iterations":  e.Iterations,
	}

	if e.RatioValid {
		fields["ratio"] = e.Ratio
	}
	if e.Sequential.HasData() {
		fields["sequential_mean_ms"] = e.Sequential.TrimmedMean
		fields["sequential_rsd"] = e.Sequential.RelStdDev
	}
	if e.Random.HasData() {
		fields["random_mean_ms"] = e.Random.TrimmedMean
		fields["random_rsd"] = e.Random.RelStdDev
	}
	if e.FailureReason != "" {
		fields["failure_reason"] = e.FailureReason
	}

	return fields
}

func classificationFields(c classify.Result) map[string]interface{} {
	fields := map[string]interface{}{
		"confidence":       c.Confidence,
		"calibration_used": c.CalibrationUsed,
	}

	if c.Generation != "" {
		fields["generation"] = c.Generation
	}
	if c.Tier != "" {
		fields["tier"] = c.Tier
	}
	if len(c.Evidence) > 0 {
		fields["evidence"] = strings.Join(c.Evidence, "; ")
	}

	return fields
}

func candidateFields(cand match.Candidate) map[string]interface{} {
	fields := map[string]interface{}{
		"score":          cand.Score,
		"confidence":     cand.Confidence,
		"weak":           cand.Weak,
		"contradictions": len(cand.Contradictions),
	}

	for name, sub := range cand.SubScores {
		fields["sub_"+name] = sub
	}

	return fields
}

func clusterFields(a cluster.Analysis) map[string]interface{} {
	fields := map[string]interface{}{
		"available":            a.Available,
		"hardware_concurrency": a.HardwareConcurrency,
	}

	if !a.Available {
		if a.Reason != "" {
			fields["reason"] = a.Reason
		}
		return fields
	}

	fields["dispatched"] = a.Dispatched
	fields["valid"] = a.Valid
	fields["fast_count"] = a.FastCount
	fields["slow_count"] = a.SlowCount
	fields["fast_mean_ms"] = a.FastMeanMs
	fields["slow_mean_ms"] = a.SlowMeanMs
	fields["performance_gap"] = a.PerformanceGap
	fields["method"] = a.Method
	fields["scaled_fast"] = a.ScaledFast
	fields["scaled_slow"] = a.ScaledSlow
	fields["snapped"] = a.Snapped
	fields["confidence"] = a.Confidence

	return fields
}

func metaFields(rep *report.Report) map[string]interface{} {
	fields := map[string]interface{}{
		"tool_version": rep.ToolVersion,
		"duration_ms":  rep.DurationMs,
		"started":      rep.StartTime.Format(time.RFC3339),
		"finished":     rep.EndTime.Format(time.RFC3339),
	}

	if rep.ConfigName != "" {
		fields["config_name"] = rep.ConfigName
	}
	if rep.PlanChecksum != "" {
		fields["plan_checksum"] = rep.PlanChecksum
	}
	if rep.Host != nil {
		fields["hostname"] = rep.Host.Hostname
		fields["os_info"] = rep.Host.OSInfo
		fields["kernel_version"] = rep.Host.KernelVersion
		fields["cpu_vendor"] = rep.Host.CPUVendor
		fields["cpu_model"] = rep.Host.CPUModel
		fields["logical_cores"] = rep.Host.LogicalCores
	}
	if rep.GPU != nil && rep.GPU.Available {
		fields["gpu_vendor"] = rep.GPU.Vendor
		fields["gpu_renderer"] = rep.GPU.Renderer
		if rep.GPU.Architecture != "" {
			fields["gpu_architecture"] = rep.GPU.Architecture
		}
	}
	if rep.Bands != nil {
		if rep.Bands.L1Valid {
			fields["l1_band"] = rep.Bands.L1Band
		}
		if rep.Bands.DeepValid {
			fields["deep_band"] = rep.Bands.DeepBand
		}
		if rep.Bands.OverallValid {
			fields["overall_band"] = rep.Bands.Overall
		}
	}
	if rep.Counters != nil {
		if rep.Counters.InstructionsPerCycle != nil {
			fields["instructions_per_cycle"] = *rep.Counters.InstructionsPerCycle
		}
		if rep.Counters.CacheMissRate != nil {
			fields["cache_miss_rate"] = *rep.Counters.CacheMissRate
		}
	}
	if len(rep.Notes) > 0 {
		fields["notes"] = strings.Join(rep.Notes, "; ")
	}

	return fields
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
