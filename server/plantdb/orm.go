package plantdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/sproutcast/sproutcast/server/pipeline"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Telemetry is one persisted pipeline cycle. The queryable columns are the
// ones the dashboard filters on; the full cycle record rides along as JSON.
type Telemetry struct {
	BaseModel
	CapturedAt         dbh.IntTime                          `json:"capturedAt"`
	CycleCount         int64                                `json:"cycleCount"`
	Deviation          bool                                 `json:"deviation"`
	AIAnalysis         bool                                 `json:"aiAnalysis"`
	TriggerReason      string                               `json:"triggerReason"`
	VegetationFraction float64                              `json:"vegetationFraction"`
	InstanceCount      int                                  `json:"instanceCount"`
	Record             *dbh.JSONField[pipeline.CycleRecord] `json:"record"`
}

// PlantInstance is one detected instance within one persisted cycle, split
// out of the record JSON so per-plant shape and depth columns stay queryable.
// Idx is the instance's position in its cycle's detection order.
type PlantInstance struct {
	BaseModel
	TelemetryID    int64       `json:"telemetryId"`
	CapturedAt     dbh.IntTime `json:"capturedAt"`
	Idx            int         `json:"idx"`
	Label          string      `json:"label"`
	AreaPx         float64     `json:"areaPx"`
	PerimeterPx    float64     `json:"perimeterPx"`
	AspectRatio    float64     `json:"aspectRatio"`
	Roundness      float64     `json:"roundness"`
	BoxX           int         `json:"boxX"`
	BoxY           int         `json:"boxY"`
	BoxWidth       int         `json:"boxWidth"`
	BoxHeight      int         `json:"boxHeight"`
	CenterX        int         `json:"centerX"`
	CenterY        int         `json:"centerY"`
	DepthMedianCm  *float64    `json:"depthMedianCm,omitempty"`
	RelativeHeight *float64    `json:"relativeHeight,omitempty"`
}

// LabelOverride renames the plant instance at a positional index.
// The index is only meaningful within a single cycle's detection order, so an
// override can go stale as soon as the instance list changes shape.
type LabelOverride struct {
	Idx       int         `gorm:"primaryKey;autoIncrement:false" json:"idx"`
	Label     string      `json:"label"`
	UpdatedAt dbh.IntTime `json:"updatedAt"`
}
