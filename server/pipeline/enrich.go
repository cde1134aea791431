package pipeline

import (
	"github.com/sproutcast/sproutcast/pkg/depthmap"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
)

// EnrichWithDepth attaches physical depth measurements to a snapshot. The
// summary covers the whole map; each instance whose bounding box overlaps the
// map gets the median distance inside its box, plus its height as a fraction
// of the frame. Instances with no overlap are left untouched.
func EnrichWithDepth(snapshot *vegmetrics.Snapshot, depth *depthmap.Map, minCm, maxCm float64) {
	stats := depth.PhysicalStats(minCm, maxCm)
	snapshot.DepthSummary = &vegmetrics.DepthSummary{
		MinCm:  stats.MinCm,
		MaxCm:  stats.MaxCm,
		MeanCm: stats.MeanCm,
	}
	for i := range snapshot.Instances {
		inst := &snapshot.Instances[i]
		median, ok := depth.MedianDistanceCm(inst.Box, minCm, maxCm)
		if !ok {
			continue
		}
		medianCopy := median
		inst.DepthMedianCm = &medianCopy
		if snapshot.FrameHeight > 0 {
			rel := float64(inst.Box.Height) / float64(snapshot.FrameHeight)
			inst.RelativeHeight = &rel
		}
	}
}
