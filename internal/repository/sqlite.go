package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/septivank/ven-fleet-simulator/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type connectionRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Type      string `gorm:"not null"`
	ActorType string `gorm:"not null"`
	Host      *string
	Port      *int
	Topic     *string
	File      *string
	Username  *string
	Password  *string
}

func (connectionRecord) TableName() string { return "connections" }

type resourceRecord struct {
	ResourceID         string  `gorm:"primaryKey"`
	ResourceName       string  `gorm:"not null"`
	ResourceType       string  `gorm:"index;not null"`
	ResourceSubType    string  `gorm:"not null;default:''"`
	MeterPointID       string  `gorm:"column:meter_point_id;index"`
	PMaxKW             float64 `gorm:"column:p_max_kw"`
	PMinKW             float64 `gorm:"column:p_min_kw"`
	EMaxKWh            float64 `gorm:"column:e_max_kwh"`
	EMinKWh            float64 `gorm:"column:e_min_kwh"`
	Latitude           float64
	Longitude          float64
	Address            string
	Ven                string `gorm:"index;not null"`
	Enabled            bool
	AssignedMeterID    *string          `gorm:"column:assigned_meter_id"`
	RegistrationStatus string           `gorm:"not null"`
	ConnectionID       int64            `gorm:"not null"`
	Connection         connectionRecord `gorm:"foreignKey:ConnectionID"`
	Loads              []loadRecord     `gorm:"foreignKey:ResourceID;references:ResourceID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (resourceRecord) TableName() string { return "resources" }

type loadRecord struct {
	LoadID             string  `gorm:"primaryKey"`
	ResourceID         string  `gorm:"index;not null"`
	LoadComponent      string  `gorm:"not null"`
	LoadName           string  `gorm:"not null"`
	AssignedMeterID    string  `gorm:"column:assigned_meter_id;index;not null"`
	ExternalResourceID *string `gorm:"column:external_resource_id;index"`
	RegistrationStatus string  `gorm:"not null"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (loadRecord) TableName() string { return "loads" }

// SQLiteCatalog is the embedded Catalog used for offline runs and tests
type SQLiteCatalog struct {
	db *gorm.DB
}

var _ Catalog = (*SQLiteCatalog)(nil)

// NewSQLiteCatalog opens (or creates) the catalog file at path and migrates the schema
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	err = gdb.AutoMigrate(&connectionRecord{}, &resourceRecord{}, &loadRecord{})
	if err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	return &SQLiteCatalog{db: gdb}, nil
}

// Close releases the underlying database handle
func (s *SQLiteCatalog) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteCatalog) InsertConnection(ctx context.Context, conn db.Connection) (int64, error) {
	rec := connectionRecord{
		Type:      string(conn.Type),
		ActorType: string(conn.ActorType),
		Host:      conn.Host,
		Port:      conn.Port,
		Topic:     conn.Topic,
		File:      conn.File,
		Username:  conn.Username,
		Password:  conn.Password,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("failed to insert connection: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLiteCatalog) InsertResource(ctx context.Context, res db.Resource, connectionID int64, ven string) error {
	rec := newResourceRecord(res, connectionID, ven)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&resourceRecord{}).Where("resource_id = ?", rec.ResourceID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check resource: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("resource %s: %w", rec.ResourceID, ErrDuplicateKey)
		}
		if err := tx.Omit(clause.Associations).Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to insert resource: %w", err)
		}
		return nil
	})
}

func (s *SQLiteCatalog) GetResource(ctx context.Context, resourceID string) (*db.Resource, error) {
	var rec resourceRecord
	err := s.db.WithContext(ctx).Preload("Connection").Where("resource_id = ?", resourceID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("resource %s: %w", resourceID, ErrResourceNotFound)
		}
		return nil, fmt.Errorf("failed to query resource: %w", err)
	}
	return rec.toModel()
}

func (s *SQLiteCatalog) ListByVen(ctx context.Context, ven string) ([]db.Resource, error) {
	return s.findResources(s.db.WithContext(ctx).Where("ven = ?", ven))
}

func (s *SQLiteCatalog) ListByStatus(ctx context.Context, ven string, status db.Status) ([]db.Resource, error) {
	return s.findResources(s.db.WithContext(ctx).Where("ven = ? AND registration_status = ?", ven, string(status)))
}

func (s *SQLiteCatalog) ListVens(ctx context.Context) ([]string, error) {
	var vens []string
	err := s.db.WithContext(ctx).Model(&resourceRecord{}).Distinct("ven").Order("ven").Pluck("ven", &vens).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list vens: %w", err)
	}
	return vens, nil
}

func (s *SQLiteCatalog) UpdateStatus(ctx context.Context, resourceID string, status db.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid registration status %q", status)
	}
	return s.updateResource(ctx, resourceID, map[string]interface{}{
		"registration_status": string(status),
		"updated_at":          time.Now(),
	})
}

func (s *SQLiteCatalog) AssignMeter(ctx context.Context, resourceID, meterID string) error {
	return s.updateResource(ctx, resourceID, map[string]interface{}{
		"assigned_meter_id": meterID,
		"updated_at":        time.Now(),
	})
}

func (s *SQLiteCatalog) BulkInsertLoads(ctx context.Context, loads []db.Load) error {
	if len(loads) == 0 {
		return nil
	}

	records := make([]loadRecord, 0, len(loads))
	for _, load := range loads {
		records = append(records, newLoadRecord(load))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "load_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"resource_id", "load_component", "load_name", "assigned_meter_id",
				"external_resource_id", "registration_status", "updated_at",
			}),
		}).CreateInBatches(records, 500).Error
		if err != nil {
			return fmt.Errorf("failed to insert loads: %w", err)
		}
		return nil
	})
}

func (s *SQLiteCatalog) SetExternalID(ctx context.Context, loadID, externalID string, status db.Status) error {
	result := s.db.WithContext(ctx).Model(&loadRecord{}).Where("load_id = ?", loadID).Updates(map[string]interface{}{
		"external_resource_id": externalID,
		"registration_status":  string(status),
		"updated_at":           time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to set external id: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("load %s: %w", loadID, ErrLoadNotFound)
	}
	return nil
}

func (s *SQLiteCatalog) ListLoadsWithResources(ctx context.Context, ven string) ([]db.LoadWithResource, error) {
	var records []loadRecord
	err := s.db.WithContext(ctx).
		Joins("JOIN resources ON resources.resource_id = loads.resource_id").
		Where("resources.ven = ?", ven).
		Order("loads.resource_id, loads.load_component").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query loads: %w", err)
	}
	if len(records) == 0 {
		return []db.LoadWithResource{}, nil
	}

	ids := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if !seen[rec.ResourceID] {
			seen[rec.ResourceID] = true
			ids = append(ids, rec.ResourceID)
		}
	}
	resources, err := s.findResources(s.db.WithContext(ctx).Where("resource_id IN ?", ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]db.Resource, len(resources))
	for _, res := range resources {
		byID[res.ResourceID] = res
	}

	result := make([]db.LoadWithResource, 0, len(records))
	for _, rec := range records {
		load, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		res, ok := byID[rec.ResourceID]
		if !ok {
			return nil, fmt.Errorf("load %s: %w", rec.LoadID, ErrResourceNotFound)
		}
		result = append(result, db.LoadWithResource{Load: *load, Resource: res})
	}
	return result, nil
}

func (s *SQLiteCatalog) ListRegisteredLoads(ctx context.Context, ven string, limit int) ([]db.Load, error) {
	query := s.db.WithContext(ctx).
		Joins("JOIN resources ON resources.resource_id = loads.resource_id").
		Where("resources.ven = ? AND loads.external_resource_id IS NOT NULL", ven).
		Order("loads.resource_id, loads.load_component")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []loadRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query registered loads: %w", err)
	}

	loads := make([]db.Load, 0, len(records))
	for _, rec := range records {
		load, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		loads = append(loads, *load)
	}
	return loads, nil
}

type groupCount struct {
	Name  string
	Total int
}

func (s *SQLiteCatalog) Statistics(ctx context.Context) (*db.CatalogStatistics, error) {
	stats := db.NewCatalogStatistics()
	gdb := s.db.WithContext(ctx)

	var total int64
	if err := gdb.Model(&resourceRecord{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count resources: %w", err)
	}
	stats.TotalResources = int(total)

	if err := gdb.Model(&loadRecord{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count loads: %w", err)
	}
	stats.TotalLoads = int(total)

	groups := []struct {
		model  interface{}
		column string
		apply  func(string, int)
	}{
		{&resourceRecord{}, "resource_type", func(k string, n int) { stats.ByType[k] = n }},
		{&resourceRecord{}, "resource_sub_type", func(k string, n int) { stats.BySubType[k] = n }},
		{&resourceRecord{}, "ven", func(k string, n int) { stats.ByVen[k] = n }},
		{&resourceRecord{}, "registration_status", func(k string, n int) { stats.ByStatus[db.Status(k)] = n }},
		{&loadRecord{}, "load_component", func(k string, n int) { stats.LoadsByComponent[k] = n }},
		{&loadRecord{}, "registration_status", func(k string, n int) { stats.LoadsByStatus[db.Status(k)] = n }},
	}

	for _, g := range groups {
		var rows []groupCount
		err := gdb.Model(g.model).
			Select(g.column + " AS name, COUNT(*) AS total").
			Group(g.column).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failed to group by %s: %w", g.column, err)
		}
		for _, row := range rows {
			g.apply(row.Name, row.Total)
		}
	}

	return stats, nil
}

func (s *SQLiteCatalog) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"loads", "resources", "connections"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLiteCatalog) findResources(query *gorm.DB) ([]db.Resource, error) {
	var records []resourceRecord
	if err := query.Preload("Connection").Order("resource_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}

	resources := make([]db.Resource, 0, len(records))
	for _, rec := range records {
		res, err := rec.toModel()
		if err != nil {
			return nil, err
		}
		resources = append(resources, *res)
	}
	return resources, nil
}

func (s *SQLiteCatalog) updateResource(ctx context.Context, resourceID string, values map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&resourceRecord{}).Where("resource_id = ?", resourceID).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update resource: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("resource %s: %w", resourceID, ErrResourceNotFound)
	}
	return nil
}

func newResourceRecord(res db.Resource, connectionID int64, ven string) resourceRecord {
	status := res.RegistrationStatus
	if status == "" {
		status = db.StatusPending
	}
	return resourceRecord{
		ResourceID:         res.ResourceID,
		ResourceName:       res.Name,
		ResourceType:       res.Type,
		ResourceSubType:    res.SubType,
		MeterPointID:       res.MeterPointID,
		PMaxKW:             res.Capacities.PMaxKW,
		PMinKW:             res.Capacities.PMinKW,
		EMaxKWh:            res.Capacities.EMaxKWh,
		EMinKWh:            res.Capacities.EMinKWh,
		Latitude:           res.Location.Latitude,
		Longitude:          res.Location.Longitude,
		Address:            res.Address,
		Ven:                ven,
		Enabled:            res.Enabled,
		AssignedMeterID:    res.AssignedMeterID,
		RegistrationStatus: string(status),
		ConnectionID:       connectionID,
	}
}

func (rec resourceRecord) toModel() (*db.Resource, error) {
	status, err := db.ParseStatus(rec.RegistrationStatus)
	if err != nil {
		return nil, err
	}
	return &db.Resource{
		ResourceID:   rec.ResourceID,
		Name:         rec.ResourceName,
		Type:         rec.ResourceType,
		SubType:      rec.ResourceSubType,
		MeterPointID: rec.MeterPointID,
		Capacities: db.Capacities{
			PMaxKW:  rec.PMaxKW,
			PMinKW:  rec.PMinKW,
			EMaxKWh: rec.EMaxKWh,
			EMinKWh: rec.EMinKWh,
		},
		Location: db.Location{
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
		},
		Address:            rec.Address,
		Ven:                rec.Ven,
		Enabled:            rec.Enabled,
		AssignedMeterID:    rec.AssignedMeterID,
		RegistrationStatus: status,
		Connection: db.Connection{
			ID:        rec.Connection.ID,
			Type:      db.ConnectionType(rec.Connection.Type),
			ActorType: db.ActorType(rec.Connection.ActorType),
			Host:      rec.Connection.Host,
			Port:      rec.Connection.Port,
			Topic:     rec.Connection.Topic,
			File:      rec.Connection.File,
			Username:  rec.Connection.Username,
			Password:  rec.Connection.Password,
		},
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func newLoadRecord(load db.Load) loadRecord {
	status := load.RegistrationStatus
	if status == "" {
		status = db.StatusPending
	}
	return loadRecord{
		LoadID:             load.LoadID,
		ResourceID:         load.ResourceID,
		LoadComponent:      load.LoadComponent,
		LoadName:           load.LoadName,
		AssignedMeterID:    load.AssignedMeterID,
		ExternalResourceID: load.ExternalResourceID,
		RegistrationStatus: string(status),
	}
}

func (rec loadRecord) toModel() (*db.Load, error) {
	status, err := db.ParseStatus(rec.RegistrationStatus)
	if err != nil {
		return nil, err
	}
	return &db.Load{
		LoadID:             rec.LoadID,
		ResourceID:         rec.ResourceID,
		LoadComponent:      rec.LoadComponent,
		LoadName:           rec.LoadName,
		AssignedMeterID:    rec.AssignedMeterID,
		ExternalResourceID: rec.ExternalResourceID,
		RegistrationStatus: status,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}, nil
}
