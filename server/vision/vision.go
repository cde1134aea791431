// Package vision defines the interfaces to the external image-processing
// collaborators (segmentation/shape extraction and depth estimation), and a
// subprocess-backed implementation that talks to our Python helper.
// The pipeline only ever sees these interfaces.
package vision

import (
	"errors"

	"github.com/sproutcast/sproutcast/pkg/depthmap"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
)

// ErrDepthUnavailable is returned by EstimateDepth when the engine's depth
// model could not be loaded. The pipeline treats this as "run without depth".
var ErrDepthUnavailable = errors.New("depth model unavailable")

// SceneExtractor turns a frame into shape and color statistics.
// Treated as a pure function: same frame in, same stats out.
type SceneExtractor interface {
	// ExtractScene runs segmentation on a JPEG frame and returns aggregate
	// color statistics plus per-instance shape descriptors.
	ExtractScene(frame []byte) (*vegmetrics.SceneStats, error)
}

// DepthEstimator produces a per-pixel relative depth map in [0,1], or fails.
// The engine may be present but without a usable depth model, in which case
// EstimateDepth returns ErrDepthUnavailable.
type DepthEstimator interface {
	// DepthAvailable is a cheap capability check, so callers can avoid
	// scheduling work the engine cannot do.
	DepthAvailable() bool

	// EstimateDepth runs depth inference on a JPEG frame.
	EstimateDepth(frame []byte) (*depthmap.Map, error)
}

// Engine is the full vision collaborator: extraction plus (optional) depth.
type Engine interface {
	SceneExtractor
	DepthEstimator

	// Close shuts the engine down. You MUST call this when finished, because
	// there is a child process underneath.
	Close()
}
