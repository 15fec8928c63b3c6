package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		host TEXT,
		port INTEGER,
		topic TEXT,
		file TEXT,
		username TEXT,
		password TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS resources (
		resource_id TEXT PRIMARY KEY,
		resource_name TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_sub_type TEXT NOT NULL DEFAULT '',
		meter_point_id TEXT NOT NULL DEFAULT '',
		p_max_kw DOUBLE PRECISION NOT NULL DEFAULT 0,
		p_min_kw DOUBLE PRECISION NOT NULL DEFAULT 0,
		e_max_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
		e_min_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		address TEXT NOT NULL DEFAULT '',
		ven TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		assigned_meter_id TEXT,
		registration_status TEXT NOT NULL DEFAULT 'PENDING',
		connection_id BIGINT NOT NULL REFERENCES connections(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS loads (
		load_id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(resource_id) ON DELETE CASCADE,
		load_component TEXT NOT NULL,
		load_name TEXT NOT NULL,
		assigned_meter_id TEXT NOT NULL,
		external_resource_id TEXT,
		registration_status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_resources_meter_point_id ON resources(meter_point_id)`,
	`CREATE INDEX IF NOT EXISTS idx_resources_resource_type ON resources(resource_type)`,
	`CREATE INDEX IF NOT EXISTS idx_resources_ven ON resources(ven)`,
	`CREATE INDEX IF NOT EXISTS idx_loads_resource_id ON loads(resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loads_assigned_meter_id ON loads(assigned_meter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_loads_external_resource_id ON loads(external_resource_id)`,
}

// Migrate creates the catalog tables and indexes if they do not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("[DATABASE] schema migration failed: %w", err)
		}
	}
	return nil
}
