package pipeline

import (
	"fmt"
	"time"
)

// Config holds the tunable policy of the decision pipeline. All thresholds
// used by the deviation evaluator and the inference scheduler live here, so
// nothing in the decision logic is a hidden constant.
type Config struct {
	// Deviation thresholds. A cycle is a significant deviation if ANY of
	// these is crossed.
	HueThreshold                float64 `json:"hue_threshold"`
	SaturationThreshold         float64 `json:"saturation_threshold"`
	VegetationFractionThreshold float64 `json:"vegetation_fraction_threshold"`
	InstanceCountThreshold      int     `json:"instance_count_threshold"`
	AreaRatioThreshold          float64 `json:"area_ratio_threshold"`

	// Safety nets for the depth scheduler.
	MaxFramesWithoutInference int `json:"max_frames_without_inference"`
	ForceIntervalSeconds      int `json:"force_interval_seconds"`

	// Physical distance range of the camera rig, used to turn the depth
	// model's relative output into centimeters.
	MinDistanceCm float64 `json:"min_distance"`
	MaxDistanceCm float64 `json:"max_distance"`

	// PollIntervalMS is the sleep between cycles.
	PollIntervalMS int `json:"poll_interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		HueThreshold:                10.0,
		SaturationThreshold:         15.0,
		VegetationFractionThreshold: 0.08,
		InstanceCountThreshold:      1,
		AreaRatioThreshold:          0.15,
		MaxFramesWithoutInference:   50,
		ForceIntervalSeconds:        300,
		MinDistanceCm:               10,
		MaxDistanceCm:               100,
		PollIntervalMS:              200,
	}
}

func (c *Config) Validate() error {
	if c.HueThreshold <= 0 || c.SaturationThreshold <= 0 {
		return fmt.Errorf("color thresholds must be positive")
	}
	if c.VegetationFractionThreshold <= 0 || c.VegetationFractionThreshold > 1 {
		return fmt.Errorf("vegetation_fraction_threshold must be in (0, 1]")
	}
	if c.InstanceCountThreshold < 1 {
		return fmt.Errorf("instance_count_threshold must be at least 1")
	}
	if c.AreaRatioThreshold <= 0 {
		return fmt.Errorf("area_ratio_threshold must be positive")
	}
	if c.MaxFramesWithoutInference < 1 {
		return fmt.Errorf("max_frames_without_inference must be at least 1")
	}
	if c.ForceIntervalSeconds < 1 {
		return fmt.Errorf("force_interval_seconds must be at least 1")
	}
	if c.MinDistanceCm < 0 || c.MaxDistanceCm <= c.MinDistanceCm {
		return fmt.Errorf("distance range must satisfy 0 <= min_distance < max_distance")
	}
	if c.PollIntervalMS < 1 {
		return fmt.Errorf("poll_interval_ms must be at least 1")
	}
	return nil
}

func (c *Config) ForceInterval() time.Duration {
	return time.Duration(c.ForceIntervalSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
