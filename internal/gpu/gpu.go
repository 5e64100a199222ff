package gpu

import (
	"bytes"
	"context"
	"encoding/xml"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"hwfingerprint/internal/logging"

	"github.com/sirupsen/logrus"
)

// Adapter describes the GPU as the platform reports it. The matcher
// consumes the string fields after vendor-token normalization.
type Adapter struct {
	Available    bool    `json:"available"`
	Reason       string  `json:"reason,omitempty"`
	Vendor       string  `json:"vendor,omitempty"`
	Renderer     string  `json:"renderer,omitempty"`
	Architecture string  `json:"architecture,omitempty"`
	VRAMMB       float64 `json:"vram_mb,omitempty"`
	Source       string  `json:"source,omitempty"`
}

const execTimeout = 1500 * time.Millisecond

// Detect identifies the GPU through the best available platform tool:
// Metal is built into every Apple Silicon machine, nvidia-smi covers
// NVIDIA cards and an lspci sweep catches the rest. No tool at all
// yields Available=false with a reason, never an error.
func Detect(ctx context.Context) Adapter {
	logger := logging.GetLogger()

	if runtime.GOOS == "darwin" {
		return Adapter{
			Available:    true,
			Vendor:       "Apple",
			Architecture: "metal-3",
			Source:       "platform",
		}
	}

	if adapter, err := detectNvidiaSMI(ctx); err == nil {
		logger.WithField("renderer", adapter.Renderer).Debug("GPU detected via nvidia-smi")
		return adapter
	}

	if runtime.GOOS == "linux" {
		if adapter, err := detectLspci(ctx); err == nil {
			logger.WithFields(logrus.Fields{
				"vendor":   adapter.Vendor,
				"renderer": adapter.Renderer,
			}).Debug("GPU detected via lspci")
			return adapter
		}
	}

	return Adapter{
		Available: false,
		Reason:    "no GPU introspection tool available",
	}
}

// Minimal XML mapping for nvidia-smi -q -x
type smiLog struct {
	XMLName       xml.Name `xml:"nvidia_smi_log"`
	DriverVersion string   `xml:"driver_version"`
	GPUs          []smiGPU `xml:"gpu"`
}

type smiGPU struct {
	ProductName         string      `xml:"product_name"`
	ProductArchitecture string      `xml:"product_architecture"`
	FBMem               smiFBMemory `xml:"fb_memory_usage"`
}

type smiFBMemory struct {
	Total string `xml:"total"`
	Used  string `xml:"used"`
}

func detectNvidiaSMI(ctx context.Context) (Adapter, error) {
	tctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	out, err := exec.CommandContext(tctx, "nvidia-smi", "-q", "-x").Output()
	if err != nil {
		return Adapter{}, err
	}
	return parseSMI(out)
}

func parseSMI(raw []byte) (Adapter, error) {
	var log smiLog
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&log); err != nil {
		return Adapter{}, err
	}
	if len(log.GPUs) == 0 {
		return Adapter{Available: false, Reason: "nvidia-smi reported no GPUs"}, nil
	}

	gpu := log.GPUs[0]
	return Adapter{
		Available:    true,
		Vendor:       "NVIDIA",
		Renderer:     strings.TrimSpace(gpu.ProductName),
		Architecture: strings.TrimSpace(gpu.ProductArchitecture),
		VRAMMB:       parseMiBFloat(gpu.FBMem.Total),
		Source:       "nvidia-smi",
	}, nil
}

// parseMiBFloat handles nvidia-smi memory fields like "12282 MiB".
func parseMiBFloat(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "MiB")
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	fields := strings.Fields(s)
	if len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return v
		}
	}
	return 0
}

func detectLspci(ctx context.Context) (Adapter, error) {
	tctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	out, err := exec.CommandContext(tctx, "lspci", "-nn").Output()
	if err != nil {
		return Adapter{}, err
	}

	vendor, renderer, ok := parseLspciVGA(string(out))
	if !ok {
		return Adapter{Available: false, Reason: "lspci reported no display controller"}, nil
	}
	return Adapter{
		Available: true,
		Vendor:    vendor,
		Renderer:  renderer,
		Source:    "lspci",
	}, nil
}

// parseLspciVGA scans lspci output for the first display controller line
// and sniffs the vendor from well-known names.
func parseLspciVGA(out string) (vendor, renderer string, ok bool) {
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga compatible controller") &&
			!strings.Contains(lower, "3d controller") &&
			!strings.Contains(lower, "display controller") {
			continue
		}

		if idx := strings.Index(line, ": "); idx != -1 {
			renderer = strings.TrimSpace(line[idx+2:])
		} else {
			renderer = strings.TrimSpace(line)
		}

		switch {
		case strings.Contains(lower, "nvidia"):
			vendor = "NVIDIA"
		case strings.Contains(lower, "advanced micro devices"),
			strings.Contains(lower, "radeon"):
			vendor = "AMD"
		case strings.Contains(lower, "intel"):
			vendor = "Intel"
		case strings.Contains(lower, "qualcomm"):
			vendor = "Qualcomm"
		}
		return vendor, renderer, true
	}
	return "", "", false
}
