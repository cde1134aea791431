package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstanceTopic(t *testing.T) {
	require.Equal(t, "sproutcast/plants/0/telemetry", instanceTopic("sproutcast", 0))
	require.Equal(t, "greenhouse/bed3/plants/12/telemetry", instanceTopic("greenhouse/bed3", 12))
}
