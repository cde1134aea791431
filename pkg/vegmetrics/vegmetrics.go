// Package vegmetrics holds the pure data types that flow through the analysis
// pipeline: the per-cycle vegetation snapshot, the per-region plant instance,
// and the builder that turns raw extractor output into a normalized snapshot.
package vegmetrics

import (
	"math"
	"time"

	"github.com/sproutcast/sproutcast/pkg/gen"
)

// Label given to a plant instance that nobody has classified yet.
const DefaultLabel = "unknown"

// ColorStats is the aggregate color of the vegetation mask, in two color spaces.
// HSV is what the change detector compares on; Lab is carried for downstream
// consumers that want perceptual distances.
type ColorStats struct {
	MeanHSV [3]float64 `json:"meanHSV"` // Hue [0..180), Saturation [0..255], Value [0..255] (OpenCV ranges)
	MeanLab [3]float64 `json:"meanLab"`
}

func (c *ColorStats) Hue() float64 {
	return c.MeanHSV[0]
}

func (c *ColorStats) Saturation() float64 {
	return c.MeanHSV[1]
}

// RawInstance is one connected vegetation region, exactly as the external
// segmentation extractor reported it. The builder normalizes these into
// Instance records.
type RawInstance struct {
	AreaPx      float64    `json:"areaPx" msgpack:"area_px"`
	PerimeterPx float64    `json:"perimeterPx" msgpack:"perimeter_px"`
	AspectRatio float64    `json:"aspectRatio" msgpack:"aspect_ratio"`
	Roundness   float64    `json:"roundness" msgpack:"roundness"`
	Moments     [7]float64 `json:"moments" msgpack:"moments"` // Hu moment invariants
	Box         Rect       `json:"box" msgpack:"box"`
}

// SceneStats is the full output of one extractor run on one frame.
type SceneStats struct {
	FrameWidth         int           `json:"frameWidth" msgpack:"frame_width"`
	FrameHeight        int           `json:"frameHeight" msgpack:"frame_height"`
	VegetationFraction float64       `json:"vegetationFraction" msgpack:"vegetation_fraction"`
	MeanHSV            [3]float64    `json:"meanHSV" msgpack:"mean_hsv"`
	MeanLab            [3]float64    `json:"meanLab" msgpack:"mean_lab"`
	Instances          []RawInstance `json:"instances" msgpack:"instances"`
}

// DepthSummary is the {min,max,mean} of the last depth map, in centimeters,
// present only on cycles where depth inference ran.
type DepthSummary struct {
	MinCm  float64 `json:"minCm"`
	MaxCm  float64 `json:"maxCm"`
	MeanCm float64 `json:"meanCm"`
}

// Instance is one plant region within a single snapshot.
// Instances are created fresh every cycle and never mutated in place; the index
// of an instance inside its snapshot is only meaningful for that cycle.
// There is no identity tracking across cycles.
type Instance struct {
	AreaPx      float64    `json:"areaPx"`
	PerimeterPx float64    `json:"perimeterPx"`
	AspectRatio float64    `json:"aspectRatio"`
	Roundness   float64    `json:"roundness"`
	Moments     [7]float64 `json:"moments"`
	Box         Rect       `json:"box"`
	Label       string     `json:"label"`

	// Set by depth enrichment, when the box overlapped the depth map.
	DepthMedianCm  *float64 `json:"depthMedianCm,omitempty"`
	RelativeHeight *float64 `json:"relativeHeight,omitempty"`
}

// Snapshot is the result of one evaluation cycle.
// A snapshot with zero instances is valid (empty bed). A snapshot with a nil
// AggregateColor is the "extractor saw nothing" sentinel, and must never be
// used as a baseline.
type Snapshot struct {
	CapturedAt         time.Time     `json:"capturedAt"`
	FrameWidth         int           `json:"frameWidth"`
	FrameHeight        int           `json:"frameHeight"`
	AggregateColor     *ColorStats   `json:"aggregateColor,omitempty"`
	VegetationFraction float64       `json:"vegetationFraction"`
	Instances          []Instance    `json:"instances"`
	DepthSummary       *DepthSummary `json:"depthSummary,omitempty"`
}

// IsEmpty reports whether this is the no-vegetation sentinel.
func (s *Snapshot) IsEmpty() bool {
	return s.AggregateColor == nil
}

// TotalAreaPx is the summed pixel area of all instances.
func (s *Snapshot) TotalAreaPx() float64 {
	total := 0.0
	for i := range s.Instances {
		total += s.Instances[i].AreaPx
	}
	return total
}

// EmptySnapshot returns the sentinel snapshot for a cycle where the extractor
// found no vegetation at all.
func EmptySnapshot(capturedAt time.Time, frameWidth, frameHeight int) *Snapshot {
	return &Snapshot{
		CapturedAt:  capturedAt,
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Instances:   []Instance{},
	}
}

// BuildSnapshot turns one extractor run into a normalized snapshot.
// Pure transformation: never fails on valid input. A zero vegetation fraction
// yields the empty sentinel, so the caller cannot accidentally establish a
// baseline from a frame with nothing in it.
func BuildSnapshot(capturedAt time.Time, scene *SceneStats) *Snapshot {
	if scene == nil || scene.VegetationFraction <= 0 {
		w, h := 0, 0
		if scene != nil {
			w, h = scene.FrameWidth, scene.FrameHeight
		}
		return EmptySnapshot(capturedAt, w, h)
	}

	snap := &Snapshot{
		CapturedAt:  capturedAt,
		FrameWidth:  scene.FrameWidth,
		FrameHeight: scene.FrameHeight,
		AggregateColor: &ColorStats{
			MeanHSV: scene.MeanHSV,
			MeanLab: scene.MeanLab,
		},
		VegetationFraction: gen.Clamp(scene.VegetationFraction, 0, 1),
		Instances:          make([]Instance, 0, len(scene.Instances)),
	}
	for _, raw := range scene.Instances {
		snap.Instances = append(snap.Instances, Instance{
			AreaPx:      raw.AreaPx,
			PerimeterPx: raw.PerimeterPx,
			AspectRatio: raw.AspectRatio,
			Roundness:   boundedRoundness(raw.AreaPx, raw.PerimeterPx, raw.Roundness),
			Moments:     raw.Moments,
			Box:         raw.Box.Clip(scene.FrameWidth, scene.FrameHeight),
			Label:       DefaultLabel,
		})
	}
	return snap
}

// boundedRoundness returns the extractor's roundness if it supplied one,
// otherwise computes the isoperimetric ratio 4*pi*A/P^2. The perimeter is
// clamped to 1px so that degenerate single-pixel contours don't divide by zero.
func boundedRoundness(areaPx, perimeterPx, reported float64) float64 {
	if reported > 0 {
		return gen.Min(reported, 1)
	}
	p := gen.Max(perimeterPx, 1)
	return gen.Min(4*math.Pi*areaPx/(p*p), 1)
}
