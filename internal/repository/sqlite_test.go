package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newCatalog(t *testing.T) *repository.SQLiteCatalog {
	t.Helper()
	catalog, err := repository.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	return catalog
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func sampleResource(id string) db.Resource {
	return db.Resource{
		ResourceID:   id,
		Name:         "Battery " + id,
		Type:         "BATTERY",
		SubType:      "home_battery",
		MeterPointID: "mp-" + id,
		Capacities: db.Capacities{
			PMaxKW:  5,
			PMinKW:  -5,
			EMaxKWh: 13.5,
			EMinKWh: 1,
		},
		Location: db.Location{
			Latitude:  52.37,
			Longitude: 4.89,
		},
		Address:            "Main Street 1",
		Enabled:            true,
		RegistrationStatus: db.StatusPending,
	}
}

func insertResource(t *testing.T, catalog repository.Catalog, id, ven string, status db.Status) {
	t.Helper()
	ctx := context.Background()
	connID, err := catalog.InsertConnection(ctx, db.Connection{
		Type:      db.ConnectionModbusTCP,
		ActorType: db.ActorReader,
		Host:      strPtr("10.0.0.5"),
		Port:      intPtr(502),
	})
	require.NoError(t, err)

	res := sampleResource(id)
	res.RegistrationStatus = status
	require.NoError(t, catalog.InsertResource(ctx, res, connID, ven))
}

func TestResourceRoundTrip(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "res-1", "ven-a", db.StatusApproved)

	got, err := catalog.GetResource(ctx, "res-1")
	require.NoError(t, err)

	want := sampleResource("res-1")
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.SubType, got.SubType)
	assert.Equal(t, want.MeterPointID, got.MeterPointID)
	assert.Equal(t, want.Capacities, got.Capacities)
	assert.Equal(t, want.Location, got.Location)
	assert.Equal(t, want.Address, got.Address)
	assert.Equal(t, "ven-a", got.Ven)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.AssignedMeterID)
	assert.Equal(t, db.StatusApproved, got.RegistrationStatus)

	assert.Equal(t, db.ConnectionModbusTCP, got.Connection.Type)
	assert.Equal(t, db.ActorReader, got.Connection.ActorType)
	require.NotNil(t, got.Connection.Host)
	assert.Equal(t, "10.0.0.5", *got.Connection.Host)
	require.NotNil(t, got.Connection.Port)
	assert.Equal(t, 502, *got.Connection.Port)
	assert.Nil(t, got.Connection.Topic)
}

func TestGetResourceNotFound(t *testing.T) {
	catalog := newCatalog(t)

	_, err := catalog.GetResource(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrResourceNotFound)
}

func TestInsertResourceDuplicateKey(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "res-1", "ven-a", db.StatusPending)

	connID, err := catalog.InsertConnection(ctx, db.Connection{Type: db.ConnectionMQTT, ActorType: db.ActorWriter})
	require.NoError(t, err)

	err = catalog.InsertResource(ctx, sampleResource("res-1"), connID, "ven-b")
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)

	got, err := catalog.GetResource(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "ven-a", got.Ven)
}

func TestUpdateStatusIsIdempotent(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "res-1", "ven-a", db.StatusPending)

	require.NoError(t, catalog.UpdateStatus(ctx, "res-1", db.StatusSuspended))
	first, err := catalog.GetResource(ctx, "res-1")
	require.NoError(t, err)

	require.NoError(t, catalog.UpdateStatus(ctx, "res-1", db.StatusSuspended))
	second, err := catalog.GetResource(ctx, "res-1")
	require.NoError(t, err)

	assert.Equal(t, db.StatusSuspended, first.RegistrationStatus)
	assert.Equal(t, first.RegistrationStatus, second.RegistrationStatus)
	assert.Equal(t, first.Name, second.Name)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestUpdateStatusErrors(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	err := catalog.UpdateStatus(ctx, "missing", db.StatusApproved)
	assert.ErrorIs(t, err, repository.ErrResourceNotFound)

	insertResource(t, catalog, "res-1", "ven-a", db.StatusPending)
	err = catalog.UpdateStatus(ctx, "res-1", db.Status("RETIRED"))
	assert.Error(t, err)
}

func TestListByVenAndStatus(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "a-1", "ven-a", db.StatusApproved)
	insertResource(t, catalog, "a-2", "ven-a", db.StatusPending)
	insertResource(t, catalog, "a-3", "ven-a", db.StatusApproved)
	insertResource(t, catalog, "b-1", "ven-b", db.StatusSuspended)

	all, err := catalog.ListByVen(ctx, "ven-a")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	approved, err := catalog.ListByStatus(ctx, "ven-a", db.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 2)
	assert.Equal(t, "a-1", approved[0].ResourceID)
	assert.Equal(t, "a-3", approved[1].ResourceID)

	vens, err := catalog.ListVens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ven-a", "ven-b"}, vens)
}

func TestAssignMeter(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "res-1", "ven-a", db.StatusApproved)
	require.NoError(t, catalog.AssignMeter(ctx, "res-1", "meter-7"))

	got, err := catalog.GetResource(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, got.AssignedMeterID)
	assert.Equal(t, "meter-7", *got.AssignedMeterID)

	assert.ErrorIs(t, catalog.AssignMeter(ctx, "missing", "meter-7"), repository.ErrResourceNotFound)
}

func TestLoadsUpsertAndExternalID(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "res-1", "ven-a", db.StatusApproved)

	loads := []db.Load{
		{LoadID: "load-0", ResourceID: "res-1", LoadComponent: "load_0", LoadName: "Base Load", AssignedMeterID: "meter-1"},
		{LoadID: "load-1", ResourceID: "res-1", LoadComponent: "load_1", LoadName: "Water Heater", AssignedMeterID: "meter-1"},
	}
	require.NoError(t, catalog.BulkInsertLoads(ctx, loads))

	loads[1].LoadName = "Boiler"
	require.NoError(t, catalog.BulkInsertLoads(ctx, loads[1:]))

	joined, err := catalog.ListLoadsWithResources(ctx, "ven-a")
	require.NoError(t, err)
	require.Len(t, joined, 2)
	assert.Equal(t, "load_0", joined[0].Load.LoadComponent)
	assert.Equal(t, "Boiler", joined[1].Load.LoadName)
	assert.Equal(t, db.StatusPending, joined[1].Load.RegistrationStatus)
	assert.Equal(t, "res-1", joined[1].Resource.ResourceID)
	assert.Equal(t, db.ConnectionModbusTCP, joined[1].Resource.Connection.Type)

	registered, err := catalog.ListRegisteredLoads(ctx, "ven-a", 0)
	require.NoError(t, err)
	assert.Empty(t, registered)

	require.NoError(t, catalog.SetExternalID(ctx, "load-1", "vtn-99", db.StatusApproved))
	assert.ErrorIs(t, catalog.SetExternalID(ctx, "missing", "vtn-1", db.StatusApproved), repository.ErrLoadNotFound)

	registered, err = catalog.ListRegisteredLoads(ctx, "ven-a", 0)
	require.NoError(t, err)
	require.Len(t, registered, 1)
	require.NotNil(t, registered[0].ExternalResourceID)
	assert.Equal(t, "vtn-99", *registered[0].ExternalResourceID)
	assert.Equal(t, db.StatusApproved, registered[0].RegistrationStatus)
}

func TestLoadsReferenceResources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	catalog, err := repository.NewSQLiteCatalog(path)
	require.NoError(t, err)
	defer catalog.Close()

	raw, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	rawDB, err := raw.DB()
	require.NoError(t, err)
	defer rawDB.Close()

	var loadsDDL, resourcesDDL string
	require.NoError(t, raw.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", "loads").Scan(&loadsDDL).Error)
	require.NoError(t, raw.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", "resources").Scan(&resourcesDDL).Error)

	assert.Contains(t, loadsDDL, "REFERENCES `resources`")
	assert.Contains(t, loadsDDL, "ON DELETE CASCADE")
	assert.NotContains(t, resourcesDDL, "loads")

	// a resource with no loads must be insertable
	insertResource(t, catalog, "res-1", "ven-a", db.StatusPending)
	res, err := catalog.GetResource(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ResourceID)
}

func TestBulkInsertLoadsIsAllOrNothing(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "res-1", "ven-a", db.StatusApproved)

	loads := []db.Load{
		{LoadID: "load-0", ResourceID: "res-1", LoadComponent: "load_0", LoadName: "Base Load", AssignedMeterID: "meter-1"},
		{LoadID: "load-x", ResourceID: "no-such-resource", LoadComponent: "load_1", LoadName: "Water Heater", AssignedMeterID: "meter-1"},
	}
	assert.Error(t, catalog.BulkInsertLoads(ctx, loads))

	stats, err := catalog.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalLoads)
}

func TestStatisticsAndClearAll(t *testing.T) {
	catalog := newCatalog(t)
	ctx := context.Background()

	insertResource(t, catalog, "a-1", "ven-a", db.StatusApproved)
	insertResource(t, catalog, "a-2", "ven-a", db.StatusPending)
	insertResource(t, catalog, "b-1", "ven-b", db.StatusSuspended)
	require.NoError(t, catalog.BulkInsertLoads(ctx, []db.Load{
		{LoadID: "l-1", ResourceID: "a-1", LoadComponent: "load_0", LoadName: "Base Load", AssignedMeterID: "m"},
	}))

	stats, err := catalog.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalResources)
	assert.Equal(t, 3, stats.ByType["BATTERY"])
	assert.Equal(t, 3, stats.BySubType["home_battery"])
	assert.Equal(t, 2, stats.ByVen["ven-a"])
	assert.Equal(t, 1, stats.ByVen["ven-b"])
	assert.Equal(t, 1, stats.ByStatus[db.StatusApproved])
	assert.Equal(t, 1, stats.ByStatus[db.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[db.StatusSuspended])
	assert.Equal(t, 1, stats.TotalLoads)
	assert.Equal(t, 1, stats.LoadsByComponent["load_0"])

	require.NoError(t, catalog.ClearAll(ctx))

	stats, err = catalog.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalResources)
	assert.Equal(t, 0, stats.TotalLoads)
}
