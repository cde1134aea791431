package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/stretchr/testify/require"
)

func makeSnapshot(hue, sat, fraction float64, areas ...float64) *vegmetrics.Snapshot {
	scene := &vegmetrics.SceneStats{
		FrameWidth:         640,
		FrameHeight:        480,
		VegetationFraction: fraction,
		MeanHSV:            [3]float64{hue, sat, 100},
	}
	for _, a := range areas {
		scene.Instances = append(scene.Instances, vegmetrics.RawInstance{
			AreaPx:      a,
			PerimeterPx: 100,
			Box:         vegmetrics.Rect{X: 0, Y: 0, Width: 50, Height: 50},
		})
	}
	return vegmetrics.BuildSnapshot(time.Now(), scene)
}

func TestDeviationOrSemantics(t *testing.T) {
	cfg := DefaultConfig()
	baseline := makeSnapshot(60, 120, 0.40, 1000, 2000)

	// Identical snapshot: no signal crosses.
	v, err := EvaluateDeviation(&cfg, makeSnapshot(60, 120, 0.40, 1000, 2000), baseline)
	require.NoError(t, err)
	require.False(t, v.Significant)
	require.Empty(t, v.CrossedSignals)

	// Each signal alone is enough.
	cases := []struct {
		name    string
		current *vegmetrics.Snapshot
		signal  string
	}{
		{"hue", makeSnapshot(75, 120, 0.40, 1000, 2000), SignalHue},
		{"saturation", makeSnapshot(60, 140, 0.40, 1000, 2000), SignalSaturation},
		{"fraction", makeSnapshot(60, 120, 0.50, 1000, 2000), SignalVegetationFraction},
		{"count", makeSnapshot(60, 120, 0.40, 1000, 2000, 500), SignalInstanceCount},
		{"area", makeSnapshot(60, 120, 0.40, 1000, 2600), SignalAreaRatio},
	}
	for _, c := range cases {
		v, err := EvaluateDeviation(&cfg, c.current, baseline)
		require.NoError(t, err, c.name)
		require.True(t, v.Significant, c.name)
		require.Contains(t, v.CrossedSignals, c.signal, c.name)
	}

	// Sub-threshold movement on every signal at once: still quiet.
	v, err = EvaluateDeviation(&cfg, makeSnapshot(65, 128, 0.45, 1050, 2050), baseline)
	require.NoError(t, err)
	require.False(t, v.Significant)
}

func TestDeviationIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	baseline := makeSnapshot(60, 120, 0.40, 1000)
	current := makeSnapshot(62, 121, 0.41, 1010)

	v1, err := EvaluateDeviation(&cfg, current, baseline)
	require.NoError(t, err)
	v2, err := EvaluateDeviation(&cfg, current, baseline)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestDeviationMagnitudes(t *testing.T) {
	cfg := DefaultConfig()
	baseline := makeSnapshot(60, 120, 0.40, 1000, 1000)
	current := makeSnapshot(72, 110, 0.50, 3000)

	v, err := EvaluateDeviation(&cfg, current, baseline)
	require.NoError(t, err)
	require.InDelta(t, 12.0, v.HueDelta, 1e-9)
	require.InDelta(t, 10.0, v.SaturationDelta, 1e-9)
	require.InDelta(t, 0.10, v.VegetationFractionDelta, 1e-9)
	require.Equal(t, 1, v.InstanceCountDelta)
	require.InDelta(t, 0.5, v.AreaRatioDelta, 1e-9) // |3000-2000|/2000
	require.True(t, v.Significant)
}

func TestDeviationFailsOnMissingFields(t *testing.T) {
	cfg := DefaultConfig()
	baseline := makeSnapshot(60, 120, 0.40, 1000)
	empty := vegmetrics.EmptySnapshot(time.Now(), 640, 480)

	_, err := EvaluateDeviation(&cfg, empty, baseline)
	require.Error(t, err)
	_, err = EvaluateDeviation(&cfg, baseline, empty)
	require.Error(t, err)
	_, err = EvaluateDeviation(&cfg, nil, baseline)
	require.Error(t, err)

	// The pipeline's reaction to an evaluation error must be significant.
	require.True(t, FailOpenVerdict().Significant)
	require.True(t, FailOpenVerdict().FailedOpen)
}

func TestDeviationZeroBaselineArea(t *testing.T) {
	cfg := DefaultConfig()
	// A baseline with no instances has zero area; the area-ratio signal must
	// stay quiet rather than divide by zero.
	baseline := makeSnapshot(60, 120, 0.40)
	current := makeSnapshot(60, 120, 0.40)
	v, err := EvaluateDeviation(&cfg, current, baseline)
	require.NoError(t, err)
	require.Equal(t, 0.0, v.AreaRatioDelta)
	require.False(t, v.Significant)
}

// A NaN slipping out of the extractor compares false against every
// threshold, so it must be rejected as an error rather than reported as a
// quiet cycle.
func TestDeviationRejectsNonFiniteInput(t *testing.T) {
	cfg := DefaultConfig()
	baseline := makeSnapshot(60, 120, 0.40, 1000)

	nan := math.NaN()
	cases := []struct {
		name    string
		current *vegmetrics.Snapshot
	}{
		{"nan hue", makeSnapshot(nan, 120, 0.40, 1000)},
		{"nan saturation", makeSnapshot(60, nan, 0.40, 1000)},
		{"nan fraction", makeSnapshot(60, 120, nan, 1000)},
		{"inf hue", makeSnapshot(math.Inf(1), 120, 0.40, 1000)},
	}
	for _, c := range cases {
		_, err := EvaluateDeviation(&cfg, c.current, baseline)
		require.Error(t, err, c.name)
	}

	// A poisoned baseline must not go quiet either.
	poisoned := makeSnapshot(nan, 120, 0.40, 1000)
	_, err := EvaluateDeviation(&cfg, makeSnapshot(60, 120, 0.40, 1000), poisoned)
	require.Error(t, err)
}
