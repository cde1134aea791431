package vegmetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildSnapshotSentinel(t *testing.T) {
	capturedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// A nil scene and a zero-fraction scene both yield the empty sentinel.
	snap := BuildSnapshot(capturedAt, nil)
	require.True(t, snap.IsEmpty())

	snap = BuildSnapshot(capturedAt, &SceneStats{FrameWidth: 640, FrameHeight: 480})
	require.True(t, snap.IsEmpty())
	require.Equal(t, 640, snap.FrameWidth)

	// The sentinel is distinguishable from a valid zero-instance snapshot:
	// vegetation present (nonzero fraction) but no contours large enough to
	// count as instances.
	snap = BuildSnapshot(capturedAt, &SceneStats{
		FrameWidth:         640,
		FrameHeight:        480,
		VegetationFraction: 0.01,
		MeanHSV:            [3]float64{60, 120, 100},
	})
	require.False(t, snap.IsEmpty())
	require.Len(t, snap.Instances, 0)
}

func TestBuildSnapshotNormalizes(t *testing.T) {
	capturedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	scene := &SceneStats{
		FrameWidth:         640,
		FrameHeight:        480,
		VegetationFraction: 1.7, // extractor bug: must clamp to 1
		MeanHSV:            [3]float64{60, 120, 100},
		MeanLab:            [3]float64{50, -30, 20},
		Instances: []RawInstance{
			{
				AreaPx:      1000,
				PerimeterPx: 120,
				Box:         Rect{X: 600, Y: 400, Width: 100, Height: 100}, // hangs off the frame
			},
		},
	}
	snap := BuildSnapshot(capturedAt, scene)
	require.False(t, snap.IsEmpty())
	require.Equal(t, 1.0, snap.VegetationFraction)
	require.Equal(t, 60.0, snap.AggregateColor.Hue())
	require.Equal(t, 120.0, snap.AggregateColor.Saturation())
	require.Equal(t, capturedAt, snap.CapturedAt)

	inst := snap.Instances[0]
	require.Equal(t, DefaultLabel, inst.Label)
	require.Equal(t, Rect{X: 600, Y: 400, Width: 40, Height: 80}, inst.Box)
	// Roundness computed from area and perimeter: 4*pi*1000/120^2.
	require.InDelta(t, 0.873, inst.Roundness, 0.001)
	require.Nil(t, inst.DepthMedianCm)
	require.Nil(t, inst.RelativeHeight)
}

func TestBuildSnapshotRoundnessBounds(t *testing.T) {
	scene := &SceneStats{
		FrameWidth:         100,
		FrameHeight:        100,
		VegetationFraction: 0.5,
		MeanHSV:            [3]float64{60, 120, 100},
		Instances: []RawInstance{
			{AreaPx: 10, PerimeterPx: 0},              // degenerate contour: no divide by zero
			{AreaPx: 100, PerimeterPx: 4},             // impossible isoperimetric ratio: capped at 1
			{AreaPx: 100, PerimeterPx: 40, Roundness: 0.6}, // extractor-supplied value wins
		},
	}
	snap := BuildSnapshot(time.Now(), scene)
	require.LessOrEqual(t, snap.Instances[0].Roundness, 1.0)
	require.Greater(t, snap.Instances[0].Roundness, 0.0)
	require.Equal(t, 1.0, snap.Instances[1].Roundness)
	require.Equal(t, 0.6, snap.Instances[2].Roundness)
}

func TestTotalAreaPx(t *testing.T) {
	snap := &Snapshot{
		Instances: []Instance{{AreaPx: 100}, {AreaPx: 250.5}},
	}
	require.InDelta(t, 350.5, snap.TotalAreaPx(), 1e-9)
	require.Equal(t, 0.0, EmptySnapshot(time.Now(), 0, 0).TotalAreaPx())
}

func TestRectGeometry(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rect{X: 5, Y: 5, Width: 10, Height: 10}
	require.Equal(t, Rect{X: 5, Y: 5, Width: 5, Height: 5}, a.Intersection(b))
	require.Equal(t, Rect{X: 0, Y: 0, Width: 15, Height: 15}, a.Union(b))

	// Disjoint rects intersect to zero size, never negative.
	c := Rect{X: 100, Y: 100, Width: 5, Height: 5}
	require.Equal(t, 0, a.Intersection(c).Area())

	require.Equal(t, Rect{X: 5, Y: 5, Width: 3, Height: 3}, b.Clip(8, 8))
	require.Equal(t, Point{X: 10, Y: 10}, b.Center())
}
