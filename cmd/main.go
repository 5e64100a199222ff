package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"hwfingerprint/internal/calibration"
	"hwfingerprint/internal/classify"
	"hwfingerprint/internal/cluster"
	"hwfingerprint/internal/config"
	"hwfingerprint/internal/counters"
	"hwfingerprint/internal/database"
	"hwfingerprint/internal/gpu"
	"hwfingerprint/internal/host"
	"hwfingerprint/internal/logging"
	"hwfingerprint/internal/match"
	"hwfingerprint/internal/memprofile"
	"hwfingerprint/internal/plot"
	"hwfingerprint/internal/probes"
	"hwfingerprint/internal/report"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

// FingerprintRun holds everything a single fingerprinting run accumulates:
// the loaded configuration, the platform introspection results, the
// optional database client, and the report being assembled.
type FingerprintRun struct {
	config *config.FingerprintConfig

	hostInfo   *host.Info
	gpuAdapter gpu.Adapter
	calibTable *calibration.Table
	profiles   []match.Profile

	dbClient *database.InfluxDBClient
	rep      *report.Report

	jsonOut bool
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var logLevel string
	var jsonOut bool
	var artifactDir string
	var keepArtifacts bool
	var artifactFile string
	var minVal, maxVal float64
	var minSet, maxSet bool
	var onlyPlot, onlyWrapper bool

	rootCmd := &cobra.Command{
		Use:   "hwfingerprint",
		Short: "Hardware fingerprinting through timing side channels",
		Long:  "Derives a hardware fingerprint from cache latency ratios, worker timing clusters, and platform introspection, and matches it against known device signatures",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full fingerprint pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFingerprint(configFile, logLevel, jsonOut)
		},
	}

	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Measure the memory latency-ratio profile only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryStage(configFile, logLevel)
		},
	}

	coresCmd := &cobra.Command{
		Use:   "cores",
		Short: "Measure worker timing clusters only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoresStage(configFile, logLevel)
		},
	}

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Match platform introspection against device signatures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatchStage(configFile, logLevel)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a fingerprint configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export spooled report artifacts to InfluxDB",
		Long:  "Reads every fingerprint artifact in the spool directory and writes it to the configured InfluxDB bucket, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportArtifacts(configFile, logLevel, artifactDir, keepArtifacts)
		},
	}

	plotCmd := &cobra.Command{
		Use:   "plot",
		Short: "Generate plots from fingerprint artifacts",
		Long:  "Generate LaTeX/TikZ plots from spooled fingerprint report artifacts",
	}

	plotFlags := func(cmd *cobra.Command, kind plot.Kind) {
		cmd.Flags().StringVar(&artifactFile, "artifact", "", "Artifact to plot (default: newest in the artifact directory)")
		cmd.Flags().Float64Var(&minVal, "min", 0, "Minimum Y-axis value")
		cmd.Flags().Float64Var(&maxVal, "max", 0, "Maximum Y-axis value")
		cmd.Flags().BoolVar(&onlyPlot, "plot", false, "Print only the plot file (TikZ)")
		cmd.Flags().BoolVar(&onlyWrapper, "wrapper", false, "Print only the wrapper file (LaTeX)")
		cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
			minSet = cmd.Flags().Changed("min")
			maxSet = cmd.Flags().Changed("max")
			return nil
		}
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			var minPtr, maxPtr *float64
			if minSet {
				minPtr = &minVal
			}
			if maxSet {
				maxPtr = &maxVal
			}
			return generatePlot(configFile, logLevel, kind, artifactFile, minPtr, maxPtr, onlyPlot, onlyWrapper)
		}
	}

	ratioCmd := &cobra.Command{
		Use:   "ratio",
		Short: "Generate the latency-ratio curve",
	}
	plotFlags(ratioCmd, plot.KindRatio)

	timingsCmd := &cobra.Command{
		Use:   "timings",
		Short: "Generate the probe timing curves",
	}
	plotFlags(timingsCmd, plot.KindTimings)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")
	runCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full report as JSON to stdout")

	memoryCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")
	coresCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")
	matchCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")
	validateCmd.MarkFlagRequired("config")

	exportCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")
	exportCmd.Flags().StringVar(&artifactDir, "dir", "", "Artifact directory to drain (default from config)")
	exportCmd.Flags().BoolVar(&keepArtifacts, "keep", false, "Keep artifacts after a successful export")

	plotCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint configuration file")
	plotCmd.AddCommand(ratioCmd)
	plotCmd.AddCommand(timingsCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(coresCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	_, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}

	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}

// newRun loads the configuration and applies its log levels. A log level
// given on the command line wins over the one in the config file.
func newRun(configFile, flagLevel string) (*FingerprintRun, error) {
	logger := logging.GetLogger()

	cfg, _, err := config.LoadOrDefault(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	fp := cfg.Fingerprint
	if flagLevel == "" {
		if err := logging.SetLogLevel(fp.LogLevel); err != nil {
			logger.WithField("log_level", fp.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
	}
	if err := logging.SetProbeLogLevel(fp.ProbeLogLevel); err != nil {
		logger.WithField("probe_log_level", fp.ProbeLogLevel).WithError(err).Warn("Invalid probe log level in config, using WARN")
		logging.SetProbeLogLevel("warn")
	}

	return &FingerprintRun{config: cfg}, nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	logger := logging.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}

func runFingerprint(configFile, flagLevel string, jsonOut bool) error {
	logger := logging.GetLogger()

	fr, err := newRun(configFile, flagLevel)
	if err != nil {
		return err
	}
	fr.jsonOut = jsonOut
	fp := fr.config.Fingerprint

	ctx, cancel := signalContext()
	defer cancel()

	if maxDuration := fp.GetMaxDuration(); maxDuration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, maxDuration)
		defer timeoutCancel()
	}

	fr.rep = report.New(Version)
	fr.rep.ConfigName = fp.Name
	if checksum, err := config.PlanChecksum(fr.config); err == nil {
		fr.rep.PlanChecksum = checksum
	}

	if err := fr.introspect(ctx); err != nil {
		return err
	}

	fr.connectDatabase()
	defer fr.cleanup()

	logger.WithFields(logrus.Fields{
		"run_id": fr.rep.RunID,
		"name":   fp.Name,
		"plan":   fr.rep.PlanChecksum,
	}).Info("Starting fingerprint run")

	bands := fr.measureMemory(ctx)
	structural := fr.measureStructural(ctx)
	analysis := fr.measureCores(ctx)
	metrics := fr.measureCounters(ctx)

	fr.classifyHardware(bands, structural, analysis, metrics)
	fr.matchDevices(bands, structural)

	return fr.finalize()
}

// introspect gathers host, GPU, calibration, and signature data. Only a
// host failure is fatal; everything else degrades with a note.
func (fr *FingerprintRun) introspect(ctx context.Context) error {
	logger := logging.GetLogger()
	fp := fr.config.Fingerprint

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		info, err := host.Get()
		if err != nil {
			return fmt.Errorf("failed to initialize host information: %w", err)
		}
		fr.hostInfo = info
		return nil
	})

	g.Go(func() error {
		fr.gpuAdapter = gpu.Detect(gctx)
		return nil
	})

	g.Go(func() error {
		fr.calibTable = loadCalibration(gctx, fp.Calibration)
		return nil
	})

	g.Go(func() error {
		if fp.Signatures.Path == "" {
			return nil
		}
		profiles, err := match.LoadProfiles(fp.Signatures.Path)
		if err != nil {
			logger.WithField("path", fp.Signatures.Path).WithError(err).Warn("Failed to load signature profiles, using built-ins")
			fr.rep.Note("signature profiles unreadable: %v", err)
			return nil
		}
		fr.profiles = profiles
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fr.rep.Host = fr.hostInfo
	fr.rep.AttachGPU(fr.gpuAdapter)

	logger.WithFields(logrus.Fields{
		"hostname":      fr.hostInfo.Hostname,
		"cpu_model":     fr.hostInfo.CPUModel,
		"logical_cores": fr.hostInfo.LogicalCores,
		"gpu_available": fr.gpuAdapter.Available,
		"calibrated":    fr.calibTable != nil,
	}).Info("Platform introspection finished")

	return nil
}

func loadCalibration(ctx context.Context, cfg config.CalibrationConfig) *calibration.Table {
	logger := logging.GetLogger()

	if cfg.Path != "" {
		table, err := calibration.Load(cfg.Path)
		if err != nil {
			logger.WithField("path", cfg.Path).WithError(err).Warn("Failed to load calibration table")
			return nil
		}
		return table
	}

	if cfg.URL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout())
		defer cancel()
		table, err := calibration.Fetch(fetchCtx, cfg.URL, nil)
		if err != nil {
			logger.WithField("url", cfg.URL).WithError(err).Warn("Failed to fetch calibration table")
			return nil
		}
		return table
	}

	return nil
}

// connectDatabase sets up the InfluxDB client when export is configured.
// A connection failure is not fatal, the artifact spool covers it.
func (fr *FingerprintRun) connectDatabase() {
	logger := logging.GetLogger()
	db := fr.config.Fingerprint.Data.DB

	if !db.Enabled() {
		logger.Debug("Database export not configured")
		return
	}

	client, err := database.NewInfluxDBClient(db)
	if err != nil {
		logger.WithError(err).Warn("Database unavailable, the report will only be spooled locally")
		fr.rep.Note("database unavailable: %v", err)
		return
	}
	fr.dbClient = client

	if last, err := client.GetLastRunNumber(); err != nil {
		logger.WithError(err).Warn("Failed to get last run number")
	} else {
		fr.rep.RunNumber = last + 1
	}
}

func (fr *FingerprintRun) cleanup() {
	if fr.dbClient != nil {
		fr.dbClient.Close()
	}
}

// concurrency is the worker count the platform reports, the same number a
// browser would expose as hardwareConcurrency.
func (fr *FingerprintRun) concurrency() int {
	if fr.hostInfo != nil && fr.hostInfo.LogicalCores > 0 {
		return fr.hostInfo.LogicalCores
	}
	return runtime.NumCPU()
}

func (fr *FingerprintRun) measureMemory(ctx context.Context) memprofile.Bands {
	logger := logging.GetLogger()
	fp := fr.config.Fingerprint

	cfg := fp.Memory
	cfg.Sampler.Evict = probes.Evict

	builder := memprofile.NewBuilder(cfg)
	profile, err := builder.Build(ctx, fp.SizesKB, probes.Sequential, probes.Random)
	if err != nil {
		logger.WithError(err).Warn("Memory profile interrupted")
		fr.rep.Note("memory profile incomplete: %v", err)
	}

	bands := memprofile.DeriveBands(profile, builder.Thresholds())
	fr.rep.AttachProfile(profile, bands)

	logger.WithFields(logrus.Fields{
		"sizes":   len(profile.Entries),
		"l1":      fmt.Sprintf("%.3f", bands.L1Band),
		"deep":    fmt.Sprintf("%.3f", bands.DeepBand),
		"overall": fmt.Sprintf("%.3f", bands.Overall),
	}).Info("Memory-ratio profile measured")

	return bands
}

// measureStructural probes cache geometry. Values the platform reports
// directly win; timed sweeps only fill what is missing, which keeps the
// slow detection passes off machines with a readable sysfs.
func (fr *FingerprintRun) measureStructural(ctx context.Context) classify.Structural {
	logger := logging.GetLogger()

	var s classify.Structural
	if fr.hostInfo != nil {
		s.L1KB = fr.hostInfo.Caches.L1DataKB
		s.L2KB = fr.hostInfo.Caches.L2KB
		s.L3MB = fr.hostInfo.Caches.L3MB
		s.CacheLineBytes = fr.hostInfo.Caches.LineBytes
	}

	if ctx.Err() != nil {
		fr.rep.Note("structural probes skipped: %v", ctx.Err())
		fr.rep.AttachStructural(s)
		return s
	}

	if s.L1KB == 0 {
		if v, ok := probes.DetectL1SizeKB(); ok {
			s.L1KB = v
		}
	}
	if s.L2KB == 0 {
		if v, ok := probes.DetectL2SizeKB(); ok {
			s.L2KB = v
		}
	}
	if s.L3MB == 0 {
		if v, ok := probes.DetectL3SizeMB(); ok {
			s.L3MB = v
		}
	}
	if s.CacheLineBytes == 0 {
		if v, ok := probes.DetectCacheLineBytes(); ok {
			s.CacheLineBytes = v
		}
	}
	if v, ok := probes.DetectTLBEntries(); ok {
		s.TLBEntries = v
	}
	s.StrideRatio = probes.PrefetchStrideRatio(4096, 3)

	logger.WithFields(logrus.Fields{
		"l1_kb":        s.L1KB,
		"l2_kb":        s.L2KB,
		"l3_mb":        s.L3MB,
		"line_bytes":   s.CacheLineBytes,
		"tlb_entries":  s.TLBEntries,
		"stride_ratio": fmt.Sprintf("%.2f", s.StrideRatio),
	}).Info("Structural probes finished")

	fr.rep.AttachStructural(s)
	return s
}

func (fr *FingerprintRun) measureCores(ctx context.Context) cluster.Analysis {
	logger := logging.GetLogger()
	fp := fr.config.Fingerprint

	workload := probes.ClusterWorkload(fp.Cluster.Iterations())
	analysis := cluster.Profile(ctx, fr.concurrency(), workload, fp.Cluster.Options())
	fr.rep.AttachCluster(analysis)

	if analysis.Available {
		logger.WithFields(logrus.Fields{
			"fast":   analysis.ScaledFast,
			"slow":   analysis.ScaledSlow,
			"method": analysis.Method,
			"gap":    fmt.Sprintf("%.2f", analysis.PerformanceGap),
		}).Info("Worker clusters measured")
	} else {
		logger.WithField("reason", analysis.Reason).Info("Worker clustering unavailable")
	}

	return analysis
}

func (fr *FingerprintRun) measureCounters(ctx context.Context) *counters.Metrics {
	logger := logging.GetLogger()
	fp := fr.config.Fingerprint

	if !fp.Counters.Enable {
		return nil
	}
	if ctx.Err() != nil {
		fr.rep.Note("counter session skipped: %v", ctx.Err())
		return nil
	}
	if !counters.Available() {
		logger.Info("Hardware counters unavailable on this platform")
		fr.rep.Note("hardware counters unavailable")
		return nil
	}

	metrics, err := counters.Measure(ctx, func() {
		probes.Random(8192, 30)
	})
	if err != nil {
		logger.WithError(err).Warn("Counter session failed")
		fr.rep.Note("counter session failed: %v", err)
		return nil
	}
	fr.rep.Counters = metrics

	fields := logrus.Fields{}
	if metrics.InstructionsPerCycle != nil {
		fields["ipc"] = fmt.Sprintf("%.2f", *metrics.InstructionsPerCycle)
	}
	if metrics.CacheMissRate != nil {
		fields["cache_miss_rate"] = fmt.Sprintf("%.3f", *metrics.CacheMissRate)
	}
	logger.WithFields(fields).Info("Counter session finished")

	return metrics
}

func (fr *FingerprintRun) classifyHardware(bands memprofile.Bands, structural classify.Structural, analysis cluster.Analysis, metrics *counters.Metrics) classify.Result {
	logger := logging.GetLogger()

	flags := classify.Flags{
		HardwareConcurrency: fr.concurrency(),
	}
	if fr.hostInfo != nil {
		flags.SIMD = fr.hostInfo.SIMD.Any()
	}
	if metrics != nil {
		flags.CacheMissRate = metrics.CacheMissRate
	}

	in := classify.Input{
		Bands:       bands,
		Structural:  structural,
		Flags:       flags,
		Calibration: fr.calibTable,
	}
	if analysis.Available {
		in.Cluster = &analysis
	}

	result := classify.Classify(in)
	fr.rep.AttachClassification(result)

	logger.WithFields(logrus.Fields{
		"family":     result.Family,
		"generation": result.Generation,
		"tier":       result.Tier,
		"confidence": result.Confidence,
	}).Info("Hardware family classified")

	return result
}

func (fr *FingerprintRun) matchDevices(bands memprofile.Bands, structural classify.Structural) match.Outcome {
	logger := logging.GetLogger()

	profiles := fr.profiles
	if len(profiles) == 0 {
		profiles = match.BuiltinProfiles()
	}

	fv := match.FeatureVector{
		Cores: fr.concurrency(),
		L1KB:  structural.L1KB,
	}
	if bands.OverallValid {
		fv.MemoryRatio = bands.Overall
	}
	if fr.gpuAdapter.Available {
		fv.GPUVendor = fr.gpuAdapter.Vendor
		fv.GPURenderer = fr.gpuAdapter.Renderer
		fv.GPUArch = fr.gpuAdapter.Architecture
	}

	outcome := match.Summarize(match.Match(fv, profiles))
	fr.rep.AttachMatch(outcome)

	if outcome.Best != nil {
		logger.WithFields(logrus.Fields{
			"device":     outcome.Best.Name,
			"score":      fmt.Sprintf("%.1f", outcome.Best.Score),
			"confidence": outcome.Best.Confidence,
			"weak":       outcome.Best.Weak,
		}).Info("Device signatures matched")
	}

	return outcome
}

// finalize stamps the report, writes the local artifact, exports to the
// database when connected, and prints the summary.
func (fr *FingerprintRun) finalize() error {
	logger := logging.GetLogger()
	fp := fr.config.Fingerprint

	fr.rep.Finish()

	artifactPath := ""
	if !fp.Artifacts.Disable {
		path, err := report.WriteArtifact(fr.artifactDir(), fr.rep)
		if err != nil {
			logger.WithError(err).Error("Failed to write report artifact")
			return fmt.Errorf("failed to write report artifact: %w", err)
		}
		artifactPath = path
		logger.WithField("path", path).Info("Report artifact written")
	}

	if fr.dbClient != nil {
		if err := fr.dbClient.WriteReport(fr.rep); err != nil {
			logger.WithField("artifact", artifactPath).WithError(err).Warn("Database export failed, artifact remains spooled")
		}
	}

	summary := fr.rep.Summarize()
	logger.WithFields(logrus.Fields{
		"family":      summary.Family,
		"confidence":  summary.Confidence,
		"best_device": summary.BestDevice,
		"topology":    summary.Topology,
		"sizes":       fmt.Sprintf("%d/%d", summary.SizesValid, summary.SizesTotal),
		"duration_ms": fmt.Sprintf("%.0f", summary.DurationMs),
	}).Info("Fingerprint run completed")

	if fr.jsonOut {
		return printJSON(fr.rep)
	}
	return nil
}

func (fr *FingerprintRun) artifactDir() string {
	if dir := fr.config.Fingerprint.Artifacts.Dir; dir != "" {
		return dir
	}
	return report.DefaultArtifactDir()
}

func runMemoryStage(configFile, flagLevel string) error {
	fr, err := newRun(configFile, flagLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fr.rep = report.New(Version)
	fr.rep.ConfigName = fr.config.Fingerprint.Name

	fr.measureMemory(ctx)

	return printJSON(struct {
		Profile *memprofile.Profile `json:"memory_profile"`
		Bands   *memprofile.Bands   `json:"bands"`
	}{fr.rep.MemoryProfile, fr.rep.Bands})
}

func runCoresStage(configFile, flagLevel string) error {
	fr, err := newRun(configFile, flagLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fr.rep = report.New(Version)
	fr.rep.ConfigName = fr.config.Fingerprint.Name

	analysis := fr.measureCores(ctx)

	return printJSON(analysis)
}

// runMatchStage matches on introspection alone. Features the timing
// stages would fill stay at their zero values and are simply left out of
// the scoring.
func runMatchStage(configFile, flagLevel string) error {
	fr, err := newRun(configFile, flagLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fr.rep = report.New(Version)
	fr.rep.ConfigName = fr.config.Fingerprint.Name

	if err := fr.introspect(ctx); err != nil {
		return err
	}

	var structural classify.Structural
	if fr.hostInfo != nil {
		structural.L1KB = fr.hostInfo.Caches.L1DataKB
	}
	outcome := fr.matchDevices(memprofile.Bands{}, structural)

	return printJSON(outcome)
}

// exportArtifacts drains the artifact spool into InfluxDB, oldest first.
// Unreadable artifacts are skipped, failed writes keep the file in place.
func exportArtifacts(configFile, flagLevel, dir string, keep bool) error {
	logger := logging.GetLogger()

	fr, err := newRun(configFile, flagLevel)
	if err != nil {
		return err
	}

	db := fr.config.Fingerprint.Data.DB
	if err := db.Validate(); err != nil {
		return err
	}

	client, err := database.NewInfluxDBClient(db)
	if err != nil {
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer client.Close()

	if dir == "" {
		dir = fr.artifactDir()
	}
	paths, err := report.ListArtifacts(dir)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	if len(paths) == 0 {
		logger.WithField("dir", dir).Info("No spooled artifacts to export")
		return nil
	}

	exported := 0
	var firstErr error
	for _, path := range paths {
		rep, err := report.ReadArtifact(path)
		if err != nil {
			logger.WithField("artifact", path).WithError(err).Warn("Skipping unreadable artifact")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := client.WriteReport(rep); err != nil {
			logger.WithField("artifact", path).WithError(err).Error("Failed to export artifact")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		exported++
		if !keep {
			if err := os.Remove(path); err != nil {
				logger.WithField("artifact", path).WithError(err).Warn("Failed to remove exported artifact")
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"exported": exported,
		"total":    len(paths),
	}).Info("Artifact export finished")

	if firstErr != nil {
		return fmt.Errorf("exported %d of %d artifacts: %w", exported, len(paths), firstErr)
	}
	return nil
}

// generatePlot renders a figure from a spooled artifact. Without an
// explicit --artifact the newest artifact in the spool directory is used.
func generatePlot(configFile, flagLevel string, kind plot.Kind, artifact string, minPtr, maxPtr *float64, onlyPlot, onlyWrapper bool) error {
	logger := logging.GetLogger()

	fr, err := newRun(configFile, flagLevel)
	if err != nil {
		return err
	}

	if artifact == "" {
		paths, err := report.ListArtifacts(fr.artifactDir())
		if err != nil {
			return fmt.Errorf("failed to list artifacts: %w", err)
		}
		if len(paths) == 0 {
			return fmt.Errorf("no artifacts found in %s", fr.artifactDir())
		}
		artifact = paths[len(paths)-1]
	}

	rep, err := report.ReadArtifact(artifact)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	plotTikz, wrapperTex, err := plot.NewGenerator().Generate(rep, plot.Options{
		Kind:        kind,
		MinOverride: minPtr,
		MaxOverride: maxPtr,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to generate plot")
		return fmt.Errorf("failed to generate plot: %w", err)
	}

	// Determine what to print
	showPlot := !onlyWrapper
	showWrapper := !onlyPlot

	if showPlot {
		fmt.Println(plotTikz)
		if showWrapper {
			fmt.Println()
		}
	}

	if showWrapper {
		fmt.Println(wrapperTex)
	}

	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
