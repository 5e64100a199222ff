package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"hwfingerprint/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*FingerprintConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*FingerprintConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	var config FingerprintConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	applyDefaults(&config)
	config.Fingerprint.Data.DB.ApplyEnv()

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

// LoadOrDefault loads the config file when a path is given and otherwise
// returns the built-in defaults, so the CLI runs with no config at all.
func LoadOrDefault(filepath string) (*FingerprintConfig, string, error) {
	if filepath == "" {
		return DefaultConfig(), "", nil
	}
	return LoadConfigWithContent(filepath)
}

func DefaultConfig() *FingerprintConfig {
	config := &FingerprintConfig{}
	applyDefaults(config)
	config.Fingerprint.Data.DB.ApplyEnv()
	return config
}

func applyDefaults(config *FingerprintConfig) {
	fp := &config.Fingerprint
	if fp.Name == "" {
		fp.Name = "fingerprint"
	}
	if fp.LogLevel == "" {
		fp.LogLevel = "info"
	}
	if fp.ProbeLogLevel == "" {
		fp.ProbeLogLevel = "warn"
	}
	if len(fp.SizesKB) == 0 {
		fp.SizesKB = DefaultSizesKB()
	}
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(config *FingerprintConfig) error {
	fp := config.Fingerprint

	for _, size := range fp.SizesKB {
		if size <= 0 {
			return fmt.Errorf("payload sizes must be positive, got %d", size)
		}
	}

	// Zero means "use the package default"; explicit values must be sane.
	s := fp.Memory.Sampler
	if s.GrowthFactor != 0 && s.GrowthFactor <= 1 {
		return fmt.Errorf("sampler growth factor must be greater than 1, got %v", s.GrowthFactor)
	}
	if s.TargetRSD != 0 && (s.TargetRSD < 0 || s.TargetRSD >= 1) {
		return fmt.Errorf("sampler target RSD must be in (0, 1), got %v", s.TargetRSD)
	}
	if s.TrustFloorMs < 0 {
		return fmt.Errorf("sampler trust floor must not be negative, got %v", s.TrustFloorMs)
	}
	if s.MinRounds > 0 && s.MaxRounds > 0 && s.MaxRounds < s.MinRounds {
		return fmt.Errorf("sampler max rounds %d is below min rounds %d", s.MaxRounds, s.MinRounds)
	}

	th := fp.Memory.Thresholds
	if th.L1MinKB > 0 && th.L1MaxKB > 0 && th.L1MaxKB < th.L1MinKB {
		return fmt.Errorf("L1 band upper bound %dKB is below lower bound %dKB", th.L1MaxKB, th.L1MinKB)
	}

	cl := fp.Cluster
	if cl.JumpThreshold != 0 && cl.JumpThreshold <= 1 {
		return fmt.Errorf("cluster jump threshold must be greater than 1, got %v", cl.JumpThreshold)
	}
	if cl.MedianSplitThreshold != 0 && cl.MedianSplitThreshold <= 1 {
		return fmt.Errorf("cluster median split threshold must be greater than 1, got %v", cl.MedianSplitThreshold)
	}
	if cl.TaskTimeoutMs < 0 {
		return fmt.Errorf("cluster task timeout must not be negative, got %d", cl.TaskTimeoutMs)
	}

	if db := fp.Data.DB; db.Enabled() {
		if err := db.Validate(); err != nil {
			return err
		}
	}

	return nil
}
