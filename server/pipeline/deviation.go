package pipeline

import (
	"fmt"
	"math"

	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
)

// Signal names used in the verdict's crossed list and the published
// change_detection breakdown.
const (
	SignalHue                = "hue"
	SignalSaturation         = "saturation"
	SignalVegetationFraction = "vegetation_fraction"
	SignalInstanceCount      = "instance_count"
	SignalAreaRatio          = "area_ratio"
)

// Verdict is the outcome of comparing one snapshot against the baseline.
// Each delta is an absolute magnitude; CrossedSignals names the ones that
// exceeded their threshold.
type Verdict struct {
	Significant             bool     `json:"significant"`
	HueDelta                float64  `json:"hue_delta"`
	SaturationDelta         float64  `json:"saturation_delta"`
	VegetationFractionDelta float64  `json:"vegetation_fraction_delta"`
	InstanceCountDelta      int      `json:"instance_count_delta"`
	AreaRatioDelta          float64  `json:"area_ratio_delta"`
	CrossedSignals          []string `json:"crossed_signals,omitempty"`

	// FailedOpen is true when the evaluation itself failed and we declared
	// the cycle significant rather than risk missing a real change.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// EvaluateDeviation compares current against baseline, signal by signal.
// Significance is an OR over the signals: one strong signal is enough, and
// must not be diluted by the others staying quiet.
//
// Callers must treat an error as a significant cycle (see FailOpenVerdict).
// Missing change detection is far more expensive than a spurious depth run.
func EvaluateDeviation(cfg *Config, current, baseline *vegmetrics.Snapshot) (Verdict, error) {
	v := Verdict{}
	if current == nil || baseline == nil {
		return v, fmt.Errorf("deviation evaluation needs both a current snapshot and a baseline")
	}
	if current.AggregateColor == nil {
		return v, fmt.Errorf("current snapshot has no aggregate color (empty scene)")
	}
	if baseline.AggregateColor == nil {
		return v, fmt.Errorf("baseline snapshot has no aggregate color")
	}

	v.HueDelta = math.Abs(current.AggregateColor.Hue() - baseline.AggregateColor.Hue())
	v.SaturationDelta = math.Abs(current.AggregateColor.Saturation() - baseline.AggregateColor.Saturation())
	v.VegetationFractionDelta = math.Abs(current.VegetationFraction - baseline.VegetationFraction)

	countDelta := len(current.Instances) - len(baseline.Instances)
	if countDelta < 0 {
		countDelta = -countDelta
	}
	v.InstanceCountDelta = countDelta

	baselineArea := baseline.TotalAreaPx()
	if baselineArea > 0 {
		v.AreaRatioDelta = math.Abs(current.TotalAreaPx()-baselineArea) / baselineArea
	}

	// A NaN from the extractor would compare false against every threshold
	// and silence change detection. That must surface as an error so the
	// caller fails open instead.
	for _, d := range []float64{v.HueDelta, v.SaturationDelta, v.VegetationFractionDelta, v.AreaRatioDelta} {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return Verdict{}, fmt.Errorf("non-finite deviation delta (hue %v, saturation %v, vegetation fraction %v, area ratio %v)",
				v.HueDelta, v.SaturationDelta, v.VegetationFractionDelta, v.AreaRatioDelta)
		}
	}

	if v.HueDelta > cfg.HueThreshold {
		v.CrossedSignals = append(v.CrossedSignals, SignalHue)
	}
	if v.SaturationDelta > cfg.SaturationThreshold {
		v.CrossedSignals = append(v.CrossedSignals, SignalSaturation)
	}
	if v.VegetationFractionDelta > cfg.VegetationFractionThreshold {
		v.CrossedSignals = append(v.CrossedSignals, SignalVegetationFraction)
	}
	if v.InstanceCountDelta >= cfg.InstanceCountThreshold {
		v.CrossedSignals = append(v.CrossedSignals, SignalInstanceCount)
	}
	if v.AreaRatioDelta > cfg.AreaRatioThreshold {
		v.CrossedSignals = append(v.CrossedSignals, SignalAreaRatio)
	}
	v.Significant = len(v.CrossedSignals) > 0
	return v, nil
}

// FailOpenVerdict is what the pipeline publishes when evaluation fails.
func FailOpenVerdict() Verdict {
	return Verdict{
		Significant: true,
		FailedOpen:  true,
	}
}
