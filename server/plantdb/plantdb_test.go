package plantdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/sproutcast/sproutcast/server/pipeline"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *PlantDB {
	t.Helper()
	db, err := Open(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "test_plantdb.sqlite"))
	require.NoError(t, err)
	return db
}

func makeRecord(cycle int64, capturedAt time.Time, fraction float64) *pipeline.CycleRecord {
	return &pipeline.CycleRecord{
		CycleCount: cycle,
		Current: vegmetrics.Snapshot{
			CapturedAt:         capturedAt,
			FrameWidth:         640,
			FrameHeight:        480,
			AggregateColor:     &vegmetrics.ColorStats{MeanHSV: [3]float64{60, 120, 100}},
			VegetationFraction: fraction,
			Instances: []vegmetrics.Instance{
				{AreaPx: 1000, Label: vegmetrics.DefaultLabel},
			},
		},
		Deviation:  fraction > 0.45,
		AIAnalysis: cycle == 1,
		Trigger:    pipeline.TriggerFirstLight,
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	db := setup(t)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 5; i++ {
		rec := makeRecord(i, base.Add(time.Duration(i)*time.Minute), 0.40+float64(i)*0.02)
		require.NoError(t, db.RecordCycle(rec))
	}

	latest, err := db.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(5), latest.CycleCount)
	require.Equal(t, 1, latest.InstanceCount)
	require.Equal(t, base.Add(5*time.Minute), latest.CapturedAt.Get())

	// The full record survives the JSON column.
	require.NotNil(t, latest.Record)
	require.InDelta(t, 0.50, latest.Record.Data.Current.VegetationFraction, 1e-9)
	require.Len(t, latest.Record.Data.Current.Instances, 1)

	// History is newest first and respects the window.
	rows, err := db.History(base.Add(2*time.Minute), base.Add(5*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, rows, 3) // minutes 2, 3, 4
	require.Equal(t, int64(4), rows[0].CycleCount)
	require.Equal(t, int64(2), rows[2].CycleCount)

	rows, err = db.History(base, base.Add(time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(5), rows[0].CycleCount)
}

func TestLatestOnEmptyDB(t *testing.T) {
	db := setup(t)
	latest, err := db.Latest()
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestLabelOverrides(t *testing.T) {
	db := setup(t)

	_, ok := db.InstanceLabel(0)
	require.False(t, ok)

	require.NoError(t, db.SetLabelOverride(0, "basil"))
	require.NoError(t, db.SetLabelOverride(2, "thyme"))

	label, ok := db.InstanceLabel(0)
	require.True(t, ok)
	require.Equal(t, "basil", label)
	_, ok = db.InstanceLabel(1)
	require.False(t, ok)

	// Overwrite is an upsert, not a duplicate.
	require.NoError(t, db.SetLabelOverride(0, "sweet basil"))
	rows, err := db.LabelOverrides()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "sweet basil", rows[0].Label)

	require.NoError(t, db.ClearLabelOverride(0))
	_, ok = db.InstanceLabel(0)
	require.False(t, ok)
}

func TestPrune(t *testing.T) {
	db := setup(t)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.RecordCycle(makeRecord(1, old, 0.40)))
	require.NoError(t, db.RecordCycle(makeRecord(2, time.Now(), 0.42)))

	require.NoError(t, db.Prune(24*time.Hour))

	latest, err := db.Latest()
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.CycleCount)
	rows, err := db.History(time.Now().Add(-100*time.Hour), time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestInstanceRows(t *testing.T) {
	db := setup(t)

	depth := 42.5
	relHeight := 0.25
	rec := makeRecord(1, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), 0.40)
	rec.Current.Instances = []vegmetrics.Instance{
		{
			AreaPx:         1000,
			PerimeterPx:    120,
			AspectRatio:    1.4,
			Roundness:      0.8,
			Box:            vegmetrics.Rect{X: 10, Y: 20, Width: 100, Height: 120},
			Label:          "basil",
			DepthMedianCm:  &depth,
			RelativeHeight: &relHeight,
		},
		{
			AreaPx: 500,
			Box:    vegmetrics.Rect{X: 300, Y: 40, Width: 60, Height: 80},
			Label:  vegmetrics.DefaultLabel,
		},
	}
	require.NoError(t, db.RecordCycle(rec))

	latest, err := db.Latest()
	require.NoError(t, err)
	rows, err := db.Instances(latest.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, 0, rows[0].Idx)
	require.Equal(t, "basil", rows[0].Label)
	require.Equal(t, 1000.0, rows[0].AreaPx)
	require.Equal(t, 10, rows[0].BoxX)
	require.Equal(t, 60, rows[0].CenterX)
	require.Equal(t, 80, rows[0].CenterY)
	require.NotNil(t, rows[0].DepthMedianCm)
	require.Equal(t, 42.5, *rows[0].DepthMedianCm)
	require.NotNil(t, rows[0].RelativeHeight)

	require.Equal(t, 1, rows[1].Idx)
	require.Nil(t, rows[1].DepthMedianCm)
	require.Equal(t, latest.CapturedAt, rows[1].CapturedAt)

	// Pruning the telemetry row takes its instances with it.
	require.NoError(t, db.Prune(-time.Hour))
	rows, err = db.Instances(latest.ID)
	require.NoError(t, err)
	require.Empty(t, rows)
}
