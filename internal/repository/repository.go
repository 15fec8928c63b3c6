package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/ven-fleet-simulator/internal/db"
)

const pgUniqueViolation = "23505"

const resourceColumns = `
	r.resource_id, r.resource_name, r.resource_type, r.resource_sub_type, r.meter_point_id,
	r.p_max_kw, r.p_min_kw, r.e_max_kwh, r.e_min_kwh, r.latitude, r.longitude,
	r.address, r.ven, r.enabled, r.assigned_meter_id, r.registration_status,
	r.created_at, r.updated_at,
	c.id, c.type, c.actor_type, c.host, c.port, c.topic, c.file, c.username, c.password`

const loadColumns = `
	l.load_id, l.resource_id, l.load_component, l.load_name, l.assigned_meter_id,
	l.external_resource_id, l.registration_status, l.created_at, l.updated_at`

// Repository is the Postgres-backed Catalog
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Catalog = (*Repository)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// InsertConnection stores a connection and returns its generated id
func (r *Repository) InsertConnection(ctx context.Context, conn db.Connection) (int64, error) {
	query := `
		INSERT INTO connections (type, actor_type, host, port, topic, file, username, password)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		string(conn.Type),
		string(conn.ActorType),
		conn.Host,
		conn.Port,
		conn.Topic,
		conn.File,
		conn.Username,
		conn.Password,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert connection: %w", err)
	}

	return id, nil
}

// InsertResource stores a resource under the given VEN
func (r *Repository) InsertResource(ctx context.Context, res db.Resource, connectionID int64, ven string) error {
	status := res.RegistrationStatus
	if status == "" {
		status = db.StatusPending
	}

	query := `
		INSERT INTO resources (
			resource_id, resource_name, resource_type, resource_sub_type, meter_point_id,
			p_max_kw, p_min_kw, e_max_kwh, e_min_kwh, latitude, longitude,
			address, ven, enabled, assigned_meter_id, registration_status, connection_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.pool.Exec(ctx, query,
		res.ResourceID,
		res.Name,
		res.Type,
		res.SubType,
		res.MeterPointID,
		res.Capacities.PMaxKW,
		res.Capacities.PMinKW,
		res.Capacities.EMaxKWh,
		res.Capacities.EMinKWh,
		res.Location.Latitude,
		res.Location.Longitude,
		res.Address,
		ven,
		res.Enabled,
		res.AssignedMeterID,
		string(status),
		connectionID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("resource %s: %w", res.ResourceID, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert resource: %w", err)
	}

	return nil
}

// GetResource retrieves a resource together with its connection
func (r *Repository) GetResource(ctx context.Context, resourceID string) (*db.Resource, error) {
	query := `SELECT ` + resourceColumns + `
		FROM resources r
		JOIN connections c ON c.id = r.connection_id
		WHERE r.resource_id = $1
	`

	res, err := scanResource(r.pool.QueryRow(ctx, query, resourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("resource %s: %w", resourceID, ErrResourceNotFound)
		}
		return nil, fmt.Errorf("failed to query resource: %w", err)
	}

	return res, nil
}

// ListByVen returns every resource of a VEN ordered by id
func (r *Repository) ListByVen(ctx context.Context, ven string) ([]db.Resource, error) {
	query := `SELECT ` + resourceColumns + `
		FROM resources r
		JOIN connections c ON c.id = r.connection_id
		WHERE r.ven = $1
		ORDER BY r.resource_id
	`
	return r.queryResources(ctx, query, ven)
}

// ListByStatus returns the resources of a VEN in the given registration status
func (r *Repository) ListByStatus(ctx context.Context, ven string, status db.Status) ([]db.Resource, error) {
	query := `SELECT ` + resourceColumns + `
		FROM resources r
		JOIN connections c ON c.id = r.connection_id
		WHERE r.ven = $1 AND r.registration_status = $2
		ORDER BY r.resource_id
	`
	return r.queryResources(ctx, query, ven, string(status))
}

// ListVens returns the distinct VEN identifiers in the catalog
func (r *Repository) ListVens(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ven FROM resources ORDER BY ven`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vens: %w", err)
	}
	defer rows.Close()

	var vens []string
	for rows.Next() {
		var ven string
		if err := rows.Scan(&ven); err != nil {
			return nil, fmt.Errorf("failed to scan ven: %w", err)
		}
		vens = append(vens, ven)
	}
	return vens, rows.Err()
}

// UpdateStatus sets the registration status of a resource. Repeating the
// same update is harmless.
func (r *Repository) UpdateStatus(ctx context.Context, resourceID string, status db.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid registration status %q", status)
	}

	query := `
		UPDATE resources
		SET registration_status = $1, updated_at = NOW()
		WHERE resource_id = $2
	`

	tag, err := r.pool.Exec(ctx, query, string(status), resourceID)
	if err != nil {
		return fmt.Errorf("failed to update resource status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", resourceID, ErrResourceNotFound)
	}

	return nil
}

// AssignMeter records the meter whose samples stand in for a resource
func (r *Repository) AssignMeter(ctx context.Context, resourceID, meterID string) error {
	query := `
		UPDATE resources
		SET assigned_meter_id = $1, updated_at = NOW()
		WHERE resource_id = $2
	`

	tag, err := r.pool.Exec(ctx, query, meterID, resourceID)
	if err != nil {
		return fmt.Errorf("failed to assign meter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", resourceID, ErrResourceNotFound)
	}

	return nil
}

// BulkInsertLoads upserts all loads in a single transaction
func (r *Repository) BulkInsertLoads(ctx context.Context, loads []db.Load) error {
	if len(loads) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO loads (
			load_id, resource_id, load_component, load_name, assigned_meter_id,
			external_resource_id, registration_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (load_id) DO UPDATE SET
			resource_id = EXCLUDED.resource_id,
			load_component = EXCLUDED.load_component,
			load_name = EXCLUDED.load_name,
			assigned_meter_id = EXCLUDED.assigned_meter_id,
			external_resource_id = EXCLUDED.external_resource_id,
			registration_status = EXCLUDED.registration_status,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, load := range loads {
		status := load.RegistrationStatus
		if status == "" {
			status = db.StatusPending
		}
		batch.Queue(query,
			load.LoadID,
			load.ResourceID,
			load.LoadComponent,
			load.LoadName,
			load.AssignedMeterID,
			load.ExternalResourceID,
			string(status),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert loads: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit loads: %w", err)
	}

	return nil
}

// SetExternalID records the VTN-assigned id of a load
func (r *Repository) SetExternalID(ctx context.Context, loadID, externalID string, status db.Status) error {
	query := `
		UPDATE loads
		SET external_resource_id = $1, registration_status = $2, updated_at = NOW()
		WHERE load_id = $3
	`

	tag, err := r.pool.Exec(ctx, query, externalID, string(status), loadID)
	if err != nil {
		return fmt.Errorf("failed to set external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("load %s: %w", loadID, ErrLoadNotFound)
	}

	return nil
}

// ListLoadsWithResources joins every load of a VEN with its resource
func (r *Repository) ListLoadsWithResources(ctx context.Context, ven string) ([]db.LoadWithResource, error) {
	query := `SELECT ` + loadColumns + `, ` + resourceColumns + `
		FROM loads l
		JOIN resources r ON r.resource_id = l.resource_id
		JOIN connections c ON c.id = r.connection_id
		WHERE r.ven = $1
		ORDER BY l.resource_id, l.load_component
	`

	rows, err := r.pool.Query(ctx, query, ven)
	if err != nil {
		return nil, fmt.Errorf("failed to query loads: %w", err)
	}
	defer rows.Close()

	var result []db.LoadWithResource
	for rows.Next() {
		var (
			item       db.LoadWithResource
			loadStatus string
			resStatus  string
			connType   string
			connActor  string
		)
		res := &item.Resource
		load := &item.Load
		err := rows.Scan(
			&load.LoadID, &load.ResourceID, &load.LoadComponent, &load.LoadName, &load.AssignedMeterID,
			&load.ExternalResourceID, &loadStatus, &load.CreatedAt, &load.UpdatedAt,
			&res.ResourceID, &res.Name, &res.Type, &res.SubType, &res.MeterPointID,
			&res.Capacities.PMaxKW, &res.Capacities.PMinKW, &res.Capacities.EMaxKWh, &res.Capacities.EMinKWh,
			&res.Location.Latitude, &res.Location.Longitude,
			&res.Address, &res.Ven, &res.Enabled, &res.AssignedMeterID, &resStatus,
			&res.CreatedAt, &res.UpdatedAt,
			&res.Connection.ID, &connType, &connActor, &res.Connection.Host, &res.Connection.Port,
			&res.Connection.Topic, &res.Connection.File, &res.Connection.Username, &res.Connection.Password,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan load: %w", err)
		}
		if load.RegistrationStatus, err = db.ParseStatus(loadStatus); err != nil {
			return nil, err
		}
		if res.RegistrationStatus, err = db.ParseStatus(resStatus); err != nil {
			return nil, err
		}
		res.Connection.Type = db.ConnectionType(connType)
		res.Connection.ActorType = db.ActorType(connActor)
		result = append(result, item)
	}

	return result, rows.Err()
}

// ListRegisteredLoads returns the loads of a VEN that carry an external id.
// A non-positive limit returns all of them.
func (r *Repository) ListRegisteredLoads(ctx context.Context, ven string, limit int) ([]db.Load, error) {
	query := `SELECT ` + loadColumns + `
		FROM loads l
		JOIN resources r ON r.resource_id = l.resource_id
		WHERE r.ven = $1 AND l.external_resource_id IS NOT NULL
		ORDER BY l.resource_id, l.load_component
	`
	args := []any{ven}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registered loads: %w", err)
	}
	defer rows.Close()

	var loads []db.Load
	for rows.Next() {
		load, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, *load)
	}

	return loads, rows.Err()
}

// Statistics summarizes the catalog contents
func (r *Repository) Statistics(ctx context.Context) (*db.CatalogStatistics, error) {
	stats := db.NewCatalogStatistics()

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM resources`).Scan(&stats.TotalResources); err != nil {
		return nil, fmt.Errorf("failed to count resources: %w", err)
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loads`).Scan(&stats.TotalLoads); err != nil {
		return nil, fmt.Errorf("failed to count loads: %w", err)
	}

	groups := []struct {
		query string
		apply func(key string, count int)
	}{
		{`SELECT resource_type, COUNT(*) FROM resources GROUP BY resource_type`, func(k string, n int) { stats.ByType[k] = n }},
		{`SELECT resource_sub_type, COUNT(*) FROM resources GROUP BY resource_sub_type`, func(k string, n int) { stats.BySubType[k] = n }},
		{`SELECT ven, COUNT(*) FROM resources GROUP BY ven`, func(k string, n int) { stats.ByVen[k] = n }},
		{`SELECT registration_status, COUNT(*) FROM resources GROUP BY registration_status`, func(k string, n int) { stats.ByStatus[db.Status(k)] = n }},
		{`SELECT load_component, COUNT(*) FROM loads GROUP BY load_component`, func(k string, n int) { stats.LoadsByComponent[k] = n }},
		{`SELECT registration_status, COUNT(*) FROM loads GROUP BY registration_status`, func(k string, n int) { stats.LoadsByStatus[db.Status(k)] = n }},
	}

	for _, g := range groups {
		if err := r.countBy(ctx, g.query, g.apply); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// ClearAll deletes every load, resource and connection
func (r *Repository) ClearAll(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"loads", "resources", "connections"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

func (r *Repository) queryResources(ctx context.Context, query string, args ...any) ([]db.Resource, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var resources []db.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *res)
	}

	return resources, rows.Err()
}

func (r *Repository) countBy(ctx context.Context, query string, apply func(string, int)) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan statistics: %w", err)
		}
		apply(key, count)
	}
	return rows.Err()
}

func scanResource(row scanner) (*db.Resource, error) {
	var (
		res       db.Resource
		status    string
		connType  string
		connActor string
	)

	err := row.Scan(
		&res.ResourceID, &res.Name, &res.Type, &res.SubType, &res.MeterPointID,
		&res.Capacities.PMaxKW, &res.Capacities.PMinKW, &res.Capacities.EMaxKWh, &res.Capacities.EMinKWh,
		&res.Location.Latitude, &res.Location.Longitude,
		&res.Address, &res.Ven, &res.Enabled, &res.AssignedMeterID, &status,
		&res.CreatedAt, &res.UpdatedAt,
		&res.Connection.ID, &connType, &connActor, &res.Connection.Host, &res.Connection.Port,
		&res.Connection.Topic, &res.Connection.File, &res.Connection.Username, &res.Connection.Password,
	)
	if err != nil {
		return nil, err
	}

	if res.RegistrationStatus, err = db.ParseStatus(status); err != nil {
		return nil, err
	}
	res.Connection.Type = db.ConnectionType(connType)
	res.Connection.ActorType = db.ActorType(connActor)

	return &res, nil
}

func scanLoad(row scanner) (*db.Load, error) {
	var (
		load   db.Load
		status string
	)

	err := row.Scan(
		&load.LoadID, &load.ResourceID, &load.LoadComponent, &load.LoadName, &load.AssignedMeterID,
		&load.ExternalResourceID, &status, &load.CreatedAt, &load.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan load: %w", err)
	}

	if load.RegistrationStatus, err = db.ParseStatus(status); err != nil {
		return nil, err
	}

	return &load, nil
}
