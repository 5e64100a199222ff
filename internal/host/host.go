package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"hwfingerprint/internal/logging"

	"github.com/klauspost/cpuid/v2"
	"github.com/sirupsen/logrus"
)

// Info contains host system configuration information
// This is initialized once at startup and used throughout the application
type Info struct {
	// System Information
	Hostname      string `json:"hostname"`
	OSInfo        string `json:"os_info"`
	KernelVersion string `json:"kernel_version"`

	// CPU Information
	CPUVendor    string `json:"cpu_vendor"`
	CPUModel     string `json:"cpu_model"`
	LogicalCores int    `json:"logical_cores"`
	NumSockets   int    `json:"num_sockets"`

	Caches CacheInfo  `json:"caches"`
	SIMD   SIMDInfo   `json:"simd"`
	Hybrid HybridInfo `json:"hybrid"`
}

// CacheInfo carries reported cache geometry. Zero values mean the
// platform did not report that level.
type CacheInfo struct {
	L1DataKB  int     `json:"l1_data_kb"`
	L1InstrKB int     `json:"l1_instr_kb"`
	L2KB      int     `json:"l2_kb"`
	L3MB      float64 `json:"l3_mb"`
	LineBytes int     `json:"line_bytes"`
}

// SIMDInfo lists the vector extensions the CPU reports.
type SIMDInfo struct {
	SSE42  bool `json:"sse42"`
	AVX    bool `json:"avx"`
	AVX2   bool `json:"avx2"`
	AVX512 bool `json:"avx512"`
	NEON   bool `json:"neon"`
}

// Any reports whether any vector extension is available.
func (s SIMDInfo) Any() bool {
	return s.SSE42 || s.AVX || s.AVX2 || s.AVX512 || s.NEON
}

// HybridInfo describes an asymmetric core topology as the kernel reports
// it, independent of the timing-based clusterer.
type HybridInfo struct {
	Detected  bool   `json:"detected"`
	PerfCores int    `json:"perf_cores"`
	EffCores  int    `json:"eff_cores"`
	Source    string `json:"source,omitempty"`
}

var (
	globalInfo *Info
	infoOnce   sync.Once
)

// Get returns the global host information, initialized on first call.
func Get() (*Info, error) {
	var err error
	infoOnce.Do(func() {
		globalInfo, err = initialize()
	})
	return globalInfo, err
}

func initialize() (*Info, error) {
	logger := logging.GetLogger()
	logger.Info("Initializing host information")

	info := &Info{}

	if err := info.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %v", err)
	}

	info.initCPUInfo()
	info.initCacheInfo()
	info.initSIMDInfo()
	info.initHybridInfo()

	logger.WithFields(logrus.Fields{
		"cpu_model":     info.CPUModel,
		"logical_cores": info.LogicalCores,
		"l1_data_kb":    info.Caches.L1DataKB,
		"l3_mb":         info.Caches.L3MB,
		"hybrid":        info.Hybrid.Detected,
	}).Info("Host information initialized")

	return info, nil
}

func (hi *Info) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %v", err)
	}
	hi.Hostname = hostname
	hi.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	// Kernel version from /proc/version, third field
	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hi.KernelVersion = version[2]
		}
	}
	if hi.KernelVersion == "" {
		hi.KernelVersion = "unknown"
	}

	return nil
}

func (hi *Info) initCPUInfo() {
	hi.LogicalCores = runtime.NumCPU()
	hi.CPUVendor = cpuid.CPU.VendorString
	hi.CPUModel = strings.TrimSpace(cpuid.CPU.BrandName)
	hi.NumSockets = 1

	// /proc/cpuinfo refines vendor/model and counts sockets where cpuid
	// reports nothing useful, typically inside VMs.
	if file, err := os.Open("/proc/cpuinfo"); err == nil {
		defer file.Close()
		vendor, model, sockets := parseCPUInfo(file)
		if hi.CPUVendor == "" {
			hi.CPUVendor = vendor
		}
		if hi.CPUModel == "" {
			hi.CPUModel = model
		}
		if sockets > 0 {
			hi.NumSockets = sockets
		}
	}

	if hi.CPUVendor == "" {
		hi.CPUVendor = "unknown"
	}
	if hi.CPUModel == "" {
		hi.CPUModel = "unknown"
	}
}

// parseCPUInfo extracts vendor, model name and the socket count from a
// /proc/cpuinfo stream.
func parseCPUInfo(r io.Reader) (vendor, model string, sockets int) {
	var physicalIDs []string
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "vendor_id") {
			if vendor == "" {
				if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
					vendor = strings.TrimSpace(parts[1])
				}
			}
		} else if strings.HasPrefix(line, "model name") {
			if model == "" {
				if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
					model = strings.TrimSpace(parts[1])
				}
			}
		} else if strings.HasPrefix(line, "physical id") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				physicalID := strings.TrimSpace(parts[1])
				found := false
				for _, id := range physicalIDs {
					if id == physicalID {
						found = true
						break
					}
				}
				if !found {
					physicalIDs = append(physicalIDs, physicalID)
				}
			}
		}
	}

	return vendor, model, len(physicalIDs)
}

func (hi *Info) initCacheInfo() {
	// cpuid reports sizes in bytes, -1 when unknown.
	if v := cpuid.CPU.Cache.L1D; v > 0 {
		hi.Caches.L1DataKB = v / 1024
	}
	if v := cpuid.CPU.Cache.L1I; v > 0 {
		hi.Caches.L1InstrKB = v / 1024
	}
	if v := cpuid.CPU.Cache.L2; v > 0 {
		hi.Caches.L2KB = v / 1024
	}
	if v := cpuid.CPU.Cache.L3; v > 0 {
		hi.Caches.L3MB = float64(v) / (1024.0 * 1024.0)
	}
	if v := cpuid.CPU.CacheLine; v > 0 {
		hi.Caches.LineBytes = v
	}

	// sysfs fills in whatever cpuid left out.
	if hi.Caches.L3MB == 0 {
		if size, ok := readSysfsCacheSize("/sys/devices/system/cpu/cpu0/cache/index3/size",
			"/sys/devices/system/cpu/cpu0/cache/index2/size"); ok {
			hi.Caches.L3MB = float64(size) / (1024.0 * 1024.0)
		}
	}
	if hi.Caches.LineBytes == 0 {
		if data, err := os.ReadFile("/sys/devices/system/cpu/cpu0/cache/index0/coherency_line_size"); err == nil {
			if line, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && line > 0 {
				hi.Caches.LineBytes = line
			}
		}
	}
}

func readSysfsCacheSize(paths ...string) (int64, bool) {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if size, ok := parseCacheSize(strings.TrimSpace(string(data))); ok {
			return size, true
		}
	}
	return 0, false
}

// parseCacheSize handles the sysfs formats "8192K", "8M" and plain bytes.
func parseCacheSize(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if strings.HasSuffix(s, "K") {
		if kb, err := strconv.ParseInt(s[:len(s)-1], 10, 64); err == nil {
			return kb * 1024, true
		}
		return 0, false
	}
	if strings.HasSuffix(s, "M") {
		if mb, err := strconv.ParseInt(s[:len(s)-1], 10, 64); err == nil {
			return mb * 1024 * 1024, true
		}
		return 0, false
	}
	if bytes, err := strconv.ParseInt(s, 10, 64); err == nil {
		return bytes, true
	}
	return 0, false
}

func (hi *Info) initSIMDInfo() {
	hi.SIMD = SIMDInfo{
		SSE42:  cpuid.CPU.Supports(cpuid.SSE42),
		AVX:    cpuid.CPU.Supports(cpuid.AVX),
		AVX2:   cpuid.CPU.Supports(cpuid.AVX2),
		AVX512: cpuid.CPU.Supports(cpuid.AVX512F),
		NEON:   cpuid.CPU.Supports(cpuid.ASIMD),
	}
}

func (hi *Info) initHybridInfo() {
	// Intel hybrid kernels expose separate core/atom CPU lists.
	if perf, eff, ok := readCoreTypeLists("/sys/devices/cpu_core/cpus", "/sys/devices/cpu_atom/cpus"); ok {
		hi.Hybrid = HybridInfo{Detected: true, PerfCores: perf, EffCores: eff, Source: "core_type"}
		return
	}

	// ARM DynamIQ exposes per-CPU capacity values.
	if perf, eff, ok := readCapacitySplit("/sys/devices/system/cpu", hi.LogicalCores); ok {
		hi.Hybrid = HybridInfo{Detected: true, PerfCores: perf, EffCores: eff, Source: "cpu_capacity"}
		return
	}
}

func readCoreTypeLists(corePath, atomPath string) (perf, eff int, ok bool) {
	coreData, err := os.ReadFile(corePath)
	if err != nil {
		return 0, 0, false
	}
	atomData, err := os.ReadFile(atomPath)
	if err != nil {
		return 0, 0, false
	}

	perf = countCPUList(strings.TrimSpace(string(coreData)))
	eff = countCPUList(strings.TrimSpace(string(atomData)))
	if perf == 0 || eff == 0 {
		return 0, 0, false
	}
	return perf, eff, true
}

// countCPUList counts entries in a kernel CPU list like "0-15,20,22-23".
func countCPUList(s string) int {
	if s == "" {
		return 0
	}

	total := 0
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if bounds := strings.SplitN(part, "-", 2); len(bounds) == 2 {
			lo, err1 := strconv.Atoi(bounds[0])
			hi, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || hi < lo {
				return 0
			}
			total += hi - lo + 1
		} else {
			if _, err := strconv.Atoi(part); err != nil {
				return 0
			}
			total++
		}
	}
	return total
}

func readCapacitySplit(cpuRoot string, cores int) (perf, eff int, ok bool) {
	capacities := make([]int64, 0, cores)
	for i := 0; i < cores; i++ {
		path := fmt.Sprintf("%s/cpu%d/cpu_capacity", cpuRoot, i)
		data, err := os.ReadFile(path)
		if err != nil {
			break
		}
		value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		capacities = append(capacities, value)
	}
	return capacitySplit(capacities)
}

// capacitySplit groups per-CPU capacity values into full-capacity cores
// and the rest. A single capacity class means no hybrid topology.
func capacitySplit(capacities []int64) (perf, eff int, ok bool) {
	if len(capacities) < 2 {
		return 0, 0, false
	}

	var max int64
	for _, c := range capacities {
		if c > max {
			max = c
		}
	}
	if max == 0 {
		return 0, 0, false
	}

	for _, c := range capacities {
		if c == max {
			perf++
		} else {
			eff++
		}
	}
	if eff == 0 {
		return 0, 0, false
	}
	return perf, eff, true
}
