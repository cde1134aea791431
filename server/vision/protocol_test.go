package vision

import (
	"bytes"
	"testing"

	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeFraming(t *testing.T) {
	buf := &bytes.Buffer{}

	req := requestEnvelope{
		ID:    "req-1",
		Op:    opExtract,
		Frame: []byte{0xff, 0xd8, 0xff, 0xe0, 0x00},
	}
	require.NoError(t, writeEnvelope(buf, &req))

	decoded := requestEnvelope{}
	require.NoError(t, readEnvelope(buf, &decoded))
	require.Equal(t, req, decoded)
}

func TestEnvelopeSceneRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}

	resp := responseEnvelope{
		ID: "req-2",
		Op: opExtract,
		Scene: &vegmetrics.SceneStats{
			FrameWidth:         640,
			FrameHeight:        480,
			VegetationFraction: 0.42,
			MeanHSV:            [3]float64{61, 120, 80},
			MeanLab:            [3]float64{50, -30, 20},
			Instances: []vegmetrics.RawInstance{
				{AreaPx: 1500, PerimeterPx: 160, AspectRatio: 1.2, Box: vegmetrics.Rect{X: 10, Y: 20, Width: 50, Height: 60}},
			},
		},
	}
	require.NoError(t, writeEnvelope(buf, &resp))

	decoded := responseEnvelope{}
	require.NoError(t, readEnvelope(buf, &decoded))
	require.Equal(t, resp, decoded)
	require.Len(t, decoded.Scene.Instances, 1)
}

func TestEnvelopeRejectsOversize(t *testing.T) {
	// A length prefix larger than maxEnvelopeSize must be rejected before we
	// try to allocate it.
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0x7f})
	decoded := requestEnvelope{}
	require.Error(t, readEnvelope(buf, &decoded))
}

func TestEnvelopeTruncatedBody(t *testing.T) {
	buf := &bytes.Buffer{}
	req := requestEnvelope{ID: "req-3", Op: opDepth, Frame: []byte{1, 2, 3}}
	require.NoError(t, writeEnvelope(buf, &req))
	truncated := bytes.NewBuffer(buf.Bytes()[:buf.Len()-2])

	decoded := requestEnvelope{}
	require.Error(t, readEnvelope(truncated, &decoded))
}
