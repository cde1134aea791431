// Package plantdb persists pipeline telemetry and per-instance label
// overrides to SQLite.
package plantdb

import (
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/sproutcast/sproutcast/server/pipeline"
	"gorm.io/gorm"
)

type PlantDB struct {
	log logs.Log
	db  *gorm.DB

	// Overrides are read by the pipeline worker every cycle, so we keep them
	// in memory and write through to the DB.
	overridesLock sync.Mutex
	overrides     map[int]string
}

func Open(logger logs.Log, dbPath string) (*PlantDB, error) {
	logger = logs.NewPrefixLogger(logger, "plantdb")
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbPath), Migrations(logger), 0)
	if err != nil {
		return nil, err
	}
	p := &PlantDB{
		log:       logger,
		db:        db,
		overrides: map[int]string{},
	}
	if err := p.loadOverrides(); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordCycle persists one published cycle record: the telemetry row, plus
// one plant_instance row per detected instance so per-plant columns remain
// queryable without unpacking the record JSON.
func (p *PlantDB) RecordCycle(rec *pipeline.CycleRecord) error {
	var recordJSON dbh.JSONField[pipeline.CycleRecord]
	recordJSON.Data = *rec
	row := &Telemetry{
		CapturedAt:         dbh.MakeIntTime(rec.Current.CapturedAt),
		CycleCount:         rec.CycleCount,
		Deviation:          rec.Deviation,
		AIAnalysis:         rec.AIAnalysis,
		TriggerReason:      rec.Trigger,
		VegetationFraction: rec.Current.VegetationFraction,
		InstanceCount:      len(rec.Current.Instances),
		Record:             &recordJSON,
	}
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		for i := range rec.Current.Instances {
			inst := &rec.Current.Instances[i]
			center := inst.Box.Center()
			ir := &PlantInstance{
				TelemetryID:    row.ID,
				CapturedAt:     row.CapturedAt,
				Idx:            i,
				Label:          inst.Label,
				AreaPx:         inst.AreaPx,
				PerimeterPx:    inst.PerimeterPx,
				AspectRatio:    inst.AspectRatio,
				Roundness:      inst.Roundness,
				BoxX:           inst.Box.X,
				BoxY:           inst.Box.Y,
				BoxWidth:       inst.Box.Width,
				BoxHeight:      inst.Box.Height,
				CenterX:        center.X,
				CenterY:        center.Y,
				DepthMedianCm:  inst.DepthMedianCm,
				RelativeHeight: inst.RelativeHeight,
			}
			if err := tx.Create(ir).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Instances returns the per-plant rows of one telemetry row, in detection
// order.
func (p *PlantDB) Instances(telemetryID int64) ([]PlantInstance, error) {
	rows := []PlantInstance{}
	err := p.db.Where("telemetry_id = ?", telemetryID).Order("idx").Find(&rows).Error
	return rows, err
}

// Latest returns the most recent telemetry row, or nil if the DB is empty.
func (p *PlantDB) Latest() (*Telemetry, error) {
	row := &Telemetry{}
	err := p.db.Order("captured_at DESC, id DESC").First(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// History returns telemetry rows in [fromTime, toTime), newest first, at most
// limit rows. A zero limit means 1000.
func (p *PlantDB) History(fromTime, toTime time.Time, limit int) ([]Telemetry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows := []Telemetry{}
	q := p.db.Where("captured_at >= ? AND captured_at < ?", fromTime.UnixMilli(), toTime.UnixMilli())
	err := q.Order("captured_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Prune deletes telemetry and instance rows older than the retention window.
func (p *PlantDB) Prune(retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UnixMilli()
	result := p.db.Where("captured_at < ?", cutoff).Delete(&Telemetry{})
	if result.Error != nil {
		return result.Error
	}
	if err := p.db.Where("captured_at < ?", cutoff).Delete(&PlantInstance{}).Error; err != nil {
		return err
	}
	if result.RowsAffected != 0 {
		p.log.Infof("Pruned %v telemetry rows", result.RowsAffected)
	}
	return nil
}

// InstanceLabel implements pipeline.LabelSource.
func (p *PlantDB) InstanceLabel(index int) (string, bool) {
	p.overridesLock.Lock()
	defer p.overridesLock.Unlock()
	label, ok := p.overrides[index]
	return label, ok
}

// SetLabelOverride names the instance at a positional index.
func (p *PlantDB) SetLabelOverride(index int, label string) error {
	err := p.db.Exec("INSERT INTO label_override (idx, label, updated_at) VALUES (?, ?, ?) ON CONFLICT(idx) DO UPDATE SET label = excluded.label, updated_at = excluded.updated_at",
		index, label, dbh.MakeIntTime(time.Now())).Error
	if err != nil {
		return err
	}
	p.overridesLock.Lock()
	p.overrides[index] = label
	p.overridesLock.Unlock()
	return nil
}

// ClearLabelOverride removes an override, reverting the instance to the
// default label.
func (p *PlantDB) ClearLabelOverride(index int) error {
	if err := p.db.Delete(&LabelOverride{}, "idx = ?", index).Error; err != nil {
		return err
	}
	p.overridesLock.Lock()
	delete(p.overrides, index)
	p.overridesLock.Unlock()
	return nil
}

func (p *PlantDB) LabelOverrides() ([]LabelOverride, error) {
	rows := []LabelOverride{}
	err := p.db.Order("idx").Find(&rows).Error
	return rows, err
}

func (p *PlantDB) loadOverrides() error {
	rows, err := p.LabelOverrides()
	if err != nil {
		return err
	}
	for _, row := range rows {
		p.overrides[row.Idx] = row.Label
	}
	return nil
}
