// Package depthmap holds the relative depth map produced by the depth
// estimation engine, and the arithmetic that turns it into physical distances.
//
// The engine emits per-pixel relative depth in [0,1], where larger values mean
// "closer to the camera" (MiDaS convention). Physical distance is a linear
// remap between a configured near and far plane:
//
//	distanceCm = minCm + (maxCm-minCm) * (1 - relative)
//
// so relative=1 maps to minCm and relative=0 maps to maxCm.
package depthmap

import (
	"fmt"
	"sort"

	"github.com/chewxy/math32"
	"github.com/sproutcast/sproutcast/pkg/stats"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
)

// Map is a depth map at frame resolution. Values are row-major, length Width*Height.
type Map struct {
	Width  int
	Height int
	Values []float32 // relative depth, each in [0,1]
}

func NewMap(width, height int, values []float32) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid depth map size %vx%v", width, height)
	}
	if len(values) != width*height {
		return nil, fmt.Errorf("depth map size %vx%v needs %v values, got %v", width, height, width*height, len(values))
	}
	return &Map{Width: width, Height: height, Values: values}, nil
}

func (m *Map) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// DistanceCm maps a relative depth value to physical centimeters.
func DistanceCm(relative float32, minCm, maxCm float64) float64 {
	r := math32.Max(0, math32.Min(1, relative))
	return minCm + (maxCm-minCm)*float64(1-r)
}

// Stats are the physical-distance statistics of a whole map.
type Stats struct {
	MinCm  float64
	MaxCm  float64
	MeanCm float64
}

// PhysicalStats computes {min,max,mean} physical distance over the whole map.
func (m *Map) PhysicalStats(minCm, maxCm float64) Stats {
	if len(m.Values) == 0 {
		return Stats{}
	}
	lo := m.Values[0]
	hi := m.Values[0]
	for _, v := range m.Values {
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	meanRel := float32(stats.Mean(m.Values))
	// Note the inversion: the largest relative value is the nearest point.
	return Stats{
		MinCm:  DistanceCm(hi, minCm, maxCm),
		MaxCm:  DistanceCm(lo, minCm, maxCm),
		MeanCm: DistanceCm(meanRel, minCm, maxCm),
	}
}

// MedianDistanceCm computes the median physical distance inside the given box.
// The box is clipped to the map. Returns false if the clipped box is empty.
func (m *Map) MedianDistanceCm(box vegmetrics.Rect, minCm, maxCm float64) (float64, bool) {
	clipped := box.Clip(m.Width, m.Height)
	if clipped.Width <= 0 || clipped.Height <= 0 {
		return 0, false
	}
	vals := make([]float32, 0, clipped.Width*clipped.Height)
	for y := clipped.Y; y < clipped.Y+clipped.Height; y++ {
		row := m.Values[y*m.Width : y*m.Width+m.Width]
		vals = append(vals, row[clipped.X:clipped.X+clipped.Width]...)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	var median float32
	n := len(vals)
	if n%2 == 1 {
		median = vals[n/2]
	} else {
		median = (vals[n/2-1] + vals[n/2]) / 2
	}
	return DistanceCm(median, minCm, maxCm), true
}
