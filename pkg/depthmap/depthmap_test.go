package depthmap

import (
	"testing"

	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/stretchr/testify/require"
)

func TestDistanceCmInversion(t *testing.T) {
	// The depth model reports larger values for closer surfaces, so the
	// physical mapping must invert: minimum relative depth = far plane,
	// maximum relative depth = near plane.
	require.InDelta(t, 100.0, DistanceCm(0, 10, 100), 1e-6)
	require.InDelta(t, 10.0, DistanceCm(1, 10, 100), 1e-6)
	require.InDelta(t, 55.0, DistanceCm(0.5, 10, 100), 1e-6)

	// Out-of-range relative values clamp instead of extrapolating.
	require.InDelta(t, 100.0, DistanceCm(-0.5, 10, 100), 1e-6)
	require.InDelta(t, 10.0, DistanceCm(1.5, 10, 100), 1e-6)

	// Monotonic: closer (larger relative) never maps farther.
	prev := DistanceCm(0, 10, 100)
	for r := float32(0.05); r <= 1.0; r += 0.05 {
		d := DistanceCm(r, 10, 100)
		require.LessOrEqual(t, d, prev)
		prev = d
	}
}

func TestPhysicalStats(t *testing.T) {
	m, err := NewMap(2, 2, []float32{0, 0.25, 0.75, 1})
	require.NoError(t, err)

	stats := m.PhysicalStats(10, 100)
	// The nearest pixel (relative 1) is at min_distance, the farthest
	// (relative 0) at max_distance.
	require.InDelta(t, 10.0, stats.MinCm, 1e-6)
	require.InDelta(t, 100.0, stats.MaxCm, 1e-6)
	require.InDelta(t, 55.0, stats.MeanCm, 1e-6)
}

func TestNewMapValidation(t *testing.T) {
	_, err := NewMap(2, 2, []float32{0, 1})
	require.Error(t, err)
	_, err = NewMap(0, 2, nil)
	require.Error(t, err)
}

func TestMedianDistanceCm(t *testing.T) {
	// 4x4 map: left half near (1.0), right half far (0.0).
	values := make([]float32, 16)
	for y := 0; y < 4; y++ {
		for x := 0; x < 2; x++ {
			values[y*4+x] = 1
		}
	}
	m, err := NewMap(4, 4, values)
	require.NoError(t, err)

	// Box over the near half.
	d, ok := m.MedianDistanceCm(vegmetrics.Rect{X: 0, Y: 0, Width: 2, Height: 4}, 10, 100)
	require.True(t, ok)
	require.InDelta(t, 10.0, d, 1e-6)

	// Box over the far half.
	d, ok = m.MedianDistanceCm(vegmetrics.Rect{X: 2, Y: 0, Width: 2, Height: 4}, 10, 100)
	require.True(t, ok)
	require.InDelta(t, 100.0, d, 1e-6)

	// Box partially off the map is clipped, not rejected.
	_, ok = m.MedianDistanceCm(vegmetrics.Rect{X: 3, Y: 3, Width: 10, Height: 10}, 10, 100)
	require.True(t, ok)

	// Box entirely off the map has no depth.
	_, ok = m.MedianDistanceCm(vegmetrics.Rect{X: 10, Y: 10, Width: 5, Height: 5}, 10, 100)
	require.False(t, ok)
}
