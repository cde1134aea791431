package plantdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE telemetry(
			id INTEGER PRIMARY KEY,
			captured_at INT NOT NULL,
			cycle_count INT NOT NULL,
			deviation INT NOT NULL,
			ai_analysis INT NOT NULL,
			trigger_reason TEXT,
			vegetation_fraction REAL NOT NULL,
			instance_count INT NOT NULL,
			record TEXT NOT NULL
		);
		CREATE INDEX idx_telemetry_captured_at ON telemetry (captured_at);

		CREATE TABLE label_override(
			idx INTEGER PRIMARY KEY,
			label TEXT NOT NULL,
			updated_at INT NOT NULL
		);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE plant_instance(
			id INTEGER PRIMARY KEY,
			telemetry_id INT NOT NULL,
			captured_at INT NOT NULL,
			idx INT NOT NULL,
			label TEXT NOT NULL,
			area_px REAL NOT NULL,
			perimeter_px REAL NOT NULL,
			aspect_ratio REAL NOT NULL,
			roundness REAL NOT NULL,
			box_x INT NOT NULL,
			box_y INT NOT NULL,
			box_width INT NOT NULL,
			box_height INT NOT NULL,
			center_x INT NOT NULL,
			center_y INT NOT NULL,
			depth_median_cm REAL,
			relative_height REAL
		);
		CREATE INDEX idx_plant_instance_telemetry_id ON plant_instance (telemetry_id);
		CREATE INDEX idx_plant_instance_captured_at ON plant_instance (captured_at);
	`))

	return migs
}
