package storage

import (
	"context"
	"fmt"
	"strings"
)

// Schema is the DDL of one logical store. Statements use {{serial}} and
// {{timestamp}} markers that are expanded per dialect.
type Schema struct {
	Name       string
	statements []string
}

// Schemas of the four logical stores.
var (
	ControlSchema = Schema{Name: "control", statements: []string{`
		CREATE TABLE IF NOT EXISTS file_log (
			id            {{serial}},
			file_path     TEXT        NOT NULL UNIQUE,
			data_date     DATE        NOT NULL,
			row_count     INTEGER     NOT NULL DEFAULT 0,
			checksum      TEXT        NOT NULL DEFAULT '',
			status        VARCHAR(2)  NOT NULL,
			author        TEXT        NOT NULL DEFAULT 'System',
			error_message TEXT        NOT NULL DEFAULT '',
			created_at    {{timestamp}} NOT NULL,
			updated_at    {{timestamp}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_log_status ON file_log(status)`,
		`CREATE TABLE IF NOT EXISTS process_log (
			id            {{serial}},
			run_id        TEXT        NOT NULL,
			file_id       BIGINT      REFERENCES file_log(id),
			process_name  TEXT        NOT NULL,
			status        VARCHAR(2)  NOT NULL,
			error_message TEXT        NOT NULL DEFAULT '',
			started_at    {{timestamp}} NOT NULL,
			updated_at    {{timestamp}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_process_log_file ON process_log(file_id)`,
	}}

	StagingSchema = Schema{Name: "staging", statements: []string{`
		CREATE TABLE IF NOT EXISTS staging_raw (
			id            {{serial}},
			file_id       BIGINT NOT NULL,
			listing_key   TEXT   NOT NULL DEFAULT '',
			url           TEXT   NOT NULL DEFAULT '',
			name          TEXT   NOT NULL DEFAULT '',
			price         TEXT   NOT NULL DEFAULT '',
			area          TEXT   NOT NULL DEFAULT '',
			bedrooms      TEXT   NOT NULL DEFAULT '',
			floors        TEXT   NOT NULL DEFAULT '',
			street_width  TEXT   NOT NULL DEFAULT '',
			description   TEXT   NOT NULL DEFAULT '',
			old_address   TEXT   NOT NULL DEFAULT '',
			street        TEXT   NOT NULL DEFAULT '',
			ward          TEXT   NOT NULL DEFAULT '',
			district      TEXT   NOT NULL DEFAULT '',
			city          TEXT   NOT NULL DEFAULT '',
			property_type TEXT   NOT NULL DEFAULT '',
			posting_date  TEXT   NOT NULL DEFAULT '',
			crawl_date    TEXT   NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staging_raw_file ON staging_raw(file_id)`,
		`CREATE TABLE IF NOT EXISTS staging_listing (
			id            {{serial}},
			file_id       BIGINT           NOT NULL,
			listing_key   TEXT             NOT NULL,
			url           TEXT             NOT NULL DEFAULT '',
			name          TEXT             NOT NULL DEFAULT '',
			price         DOUBLE PRECISION NOT NULL DEFAULT 0,
			area          DOUBLE PRECISION NOT NULL DEFAULT 0,
			bedrooms      INTEGER          NOT NULL DEFAULT 0,
			floors        INTEGER          NOT NULL DEFAULT 0,
			street_width  TEXT             NOT NULL DEFAULT '',
			description   TEXT             NOT NULL DEFAULT '',
			property_type TEXT             NOT NULL DEFAULT '',
			old_address   TEXT             NOT NULL DEFAULT '',
			street        TEXT             NOT NULL DEFAULT '',
			ward          TEXT             NOT NULL DEFAULT '',
			district      TEXT             NOT NULL DEFAULT '',
			city          TEXT             NOT NULL DEFAULT '',
			posting_date  DATE,
			create_date   DATE,
			UNIQUE (file_id, listing_key)
		)`,
	}}

	WarehouseSchema = Schema{Name: "warehouse", statements: []string{`
		CREATE TABLE IF NOT EXISTS dim_property_type (
			property_type_id {{serial}},
			type_name        TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS dim_location (
			location_id {{serial}},
			street      TEXT NOT NULL DEFAULT '',
			ward        TEXT NOT NULL DEFAULT '',
			district    TEXT NOT NULL DEFAULT '',
			city        TEXT NOT NULL DEFAULT '',
			old_address TEXT NOT NULL DEFAULT '',
			UNIQUE (street, ward, district, city)
		)`,
		`CREATE TABLE IF NOT EXISTS dim_posting_date (
			date_id      {{serial}},
			posting_date DATE NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS fact_listing (
			sk               {{serial}},
			listing_key      TEXT             NOT NULL,
			url              TEXT             NOT NULL DEFAULT '',
			name             TEXT             NOT NULL DEFAULT '',
			price            DOUBLE PRECISION NOT NULL DEFAULT 0,
			area             DOUBLE PRECISION NOT NULL DEFAULT 0,
			bedrooms         INTEGER          NOT NULL DEFAULT 0,
			floors           INTEGER          NOT NULL DEFAULT 0,
			description      TEXT             NOT NULL DEFAULT '',
			street_width     TEXT             NOT NULL DEFAULT '',
			property_type_id BIGINT           NOT NULL REFERENCES dim_property_type(property_type_id),
			location_id      BIGINT           NOT NULL REFERENCES dim_location(location_id),
			date_id          BIGINT           NOT NULL REFERENCES dim_posting_date(date_id),
			create_date      DATE             NOT NULL,
			start_day        DATE             NOT NULL,
			end_day          DATE,
			is_current       BOOLEAN          NOT NULL DEFAULT TRUE,
			CHECK (end_day IS NULL OR end_day >= start_day)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_fact_listing_current ON fact_listing(listing_key) WHERE is_current`,
		`CREATE INDEX IF NOT EXISTS idx_fact_listing_key_start ON fact_listing(listing_key, start_day)`,
	}}

	MartSchema = Schema{Name: "mart", statements: []string{`
		CREATE TABLE IF NOT EXISTS mart_dim_property_type (
			property_type_id {{serial}},
			type_name        TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS mart_dim_location (
			location_id {{serial}},
			street      TEXT NOT NULL DEFAULT '',
			ward        TEXT NOT NULL DEFAULT '',
			district    TEXT NOT NULL DEFAULT '',
			city        TEXT NOT NULL DEFAULT '',
			old_address TEXT NOT NULL DEFAULT '',
			UNIQUE (street, ward, district, city)
		)`,
		`CREATE TABLE IF NOT EXISTS mart_dim_posting_date (
			date_id      {{serial}},
			posting_date DATE    NOT NULL UNIQUE,
			year         INTEGER NOT NULL,
			month        INTEGER NOT NULL,
			day          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mart_fact_listing (
			id               {{serial}},
			listing_key      TEXT             NOT NULL UNIQUE,
			name             TEXT             NOT NULL DEFAULT '',
			property_type_id BIGINT           NOT NULL REFERENCES mart_dim_property_type(property_type_id),
			location_id      BIGINT           NOT NULL REFERENCES mart_dim_location(location_id),
			date_id          BIGINT           NOT NULL REFERENCES mart_dim_posting_date(date_id),
			price            DOUBLE PRECISION NOT NULL DEFAULT 0,
			area             DOUBLE PRECISION NOT NULL DEFAULT 0,
			price_per_m2     DOUBLE PRECISION,
			bedrooms         INTEGER          NOT NULL DEFAULT 0,
			floors           INTEGER          NOT NULL DEFAULT 0,
			street_width     TEXT             NOT NULL DEFAULT '',
			create_date      DATE             NOT NULL,
			start_day        DATE             NOT NULL,
			end_day          DATE,
			is_current       BOOLEAN          NOT NULL DEFAULT TRUE,
			loaded_at        {{timestamp}}    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mart_agg_district (
			id               {{serial}},
			city             TEXT             NOT NULL,
			district         TEXT             NOT NULL,
			listing_count    INTEGER          NOT NULL,
			avg_price        DOUBLE PRECISION NOT NULL,
			avg_area         DOUBLE PRECISION NOT NULL,
			avg_price_per_m2 DOUBLE PRECISION,
			snapshot_date    DATE             NOT NULL,
			UNIQUE (city, district)
		)`,
		`CREATE TABLE IF NOT EXISTS mart_agg_type_month (
			id               {{serial}},
			property_type    TEXT             NOT NULL,
			year             INTEGER          NOT NULL,
			month            INTEGER          NOT NULL,
			listing_count    INTEGER          NOT NULL,
			avg_price        DOUBLE PRECISION NOT NULL,
			avg_area         DOUBLE PRECISION NOT NULL,
			avg_price_per_m2 DOUBLE PRECISION,
			snapshot_date    DATE             NOT NULL,
			UNIQUE (property_type, year, month)
		)`,
	}}
)

var allSchemas = []Schema{ControlSchema, StagingSchema, WarehouseSchema, MartSchema}

// Migrate creates the tables and indexes of s if they do not exist yet.
func (d *DB) Migrate(ctx context.Context, s Schema) error {
	serial, timestamp := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	if d.Dialect.Name == DriverSQLite {
		serial, timestamp = "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	}
	r := strings.NewReplacer("{{serial}}", serial, "{{timestamp}}", timestamp)

	for _, stmt := range s.statements {
		if _, err := d.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("storage: migrate %s: %w", s.Name, err)
		}
	}
	return nil
}
