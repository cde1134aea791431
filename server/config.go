package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sproutcast/sproutcast/server/pipeline"
	"github.com/sproutcast/sproutcast/server/telemetry"
)

// VisionConfig describes the external vision helper process.
type VisionConfig struct {
	// Command is the helper executable and its arguments.
	Command []string `json:"command"`

	// HelloTimeoutSeconds bounds model loading at startup. Zero means 60.
	HelloTimeoutSeconds int `json:"hello_timeout_seconds"`

	// RequestTimeoutSeconds bounds one extract/depth request. Zero means 30.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

// Config is the top-level server configuration, read from a JSON file.
// Fields left out of the file keep their defaults.
type Config struct {
	// FrameFile is the image that the capture process overwrites in place.
	FrameFile string `json:"frame_file"`

	// SignalFile is the optional out-of-band change signal. Empty disables it.
	SignalFile string `json:"signal_file"`

	// MetricsFile is where each cycle's record is published for pollers.
	// Empty disables the file output.
	MetricsFile string `json:"metrics_file"`

	// DB is the SQLite telemetry database path.
	DB string `json:"db"`

	// RetentionHours is how long telemetry rows are kept. Zero means 14 days.
	RetentionHours int `json:"retention_hours"`

	Vision   VisionConfig       `json:"vision"`
	Pipeline pipeline.Config    `json:"pipeline"`
	MQTT     *telemetry.Options `json:"mqtt,omitempty"`
}

func DefaultServerConfig() Config {
	return Config{
		FrameFile:      "data/latest_frame.jpg",
		SignalFile:     "data/change_signal.json",
		MetricsFile:    "data/ai_metrics.json",
		DB:             "data/sproutcast.sqlite",
		RetentionHours: 14 * 24,
		Vision: VisionConfig{
			Command: []string{"python3", "scripts/sproutvision.py"},
		},
		Pipeline: pipeline.DefaultConfig(),
	}
}

// SaveConfig writes the full config back to the file it was loaded from.
func SaveConfig(configFile string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(configFile, data, 0644)
}

// LoadConfig reads the config file over the defaults, so a partial file is
// fine.
func LoadConfig(configFile string) (Config, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(configFile)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return cfg, fmt.Errorf("Invalid config in %v: %w", configFile, err)
	}
	return cfg, nil
}
