package fleet_test

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/fleet"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/septivank/ven-fleet-simulator/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fleetYAML = `
vens:
  - name: ven-a
    resources:
      - resource_id: 8a1d0c2e-4f5b-4c6d-9e7f-0a1b2c3d4e5f
        name: Home Battery 1
        type: BATTERY
        sub_type: home_battery
        meter_point_id: "871685900000000001"
        capacities: {p_max_kw: 5, p_min_kw: -5, e_max_kwh: 13.5, e_min_kwh: 0}
        location: {latitude: 52.37, longitude: 4.89}
        address: Main Street 1
        status: approved
        connection: {type: modbustcp, actor_type: reader, host: 10.0.0.5, port: 502}
      - name: Heat Pump
        type: HEAT_PUMP
        meter_point_id: "871685900000000002"
        capacities: {p_max_kw: 3, p_min_kw: 0}
        connection: {type: mqtt, actor_type: writer, host: broker, topic: hp/1}
  - name: ven-b
    resources:
      - name: EV Charger
        type: EV
        meter_point_id: "871685900000000003"
        enabled: false
        connection: {type: filereader, actor_type: reader, file: ev.csv}
`

func newCatalog(t *testing.T) *repository.SQLiteCatalog {
	t.Helper()
	catalog, err := repository.NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	return catalog
}

func newSource(t *testing.T) *readings.MemorySource {
	t.Helper()
	channels := func() map[string][]readings.Sample {
		out := map[string][]readings.Sample{}
		for _, comp := range []string{"load_0", "load_1", "load_7"} {
			out[comp] = []readings.Sample{{TimestampS: 0, PowerW: 100}, {TimestampS: 900, PowerW: 200}}
		}
		return out
	}
	src, err := readings.NewMemorySource(map[string]map[string][]readings.Sample{
		"meter-1": channels(),
		"meter-2": channels(),
	})
	require.NoError(t, err)
	return src
}

func TestLoadFileAndSeed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fleetYAML), 0o600))

	f, err := fleet.LoadFile(path, validator.NewValidator(true))
	require.NoError(t, err)
	require.Len(t, f.Vens, 2)

	catalog := newCatalog(t)
	summary, err := fleet.Seed(ctx, catalog, f)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Inserted)
	assert.Equal(t, 0, summary.Duplicates)

	battery, err := catalog.GetResource(ctx, "8a1d0c2e-4f5b-4c6d-9e7f-0a1b2c3d4e5f")
	require.NoError(t, err)
	assert.Equal(t, db.StatusApproved, battery.RegistrationStatus)
	assert.Equal(t, "ven-a", battery.Ven)
	assert.True(t, battery.Enabled)
	assert.Equal(t, 502, *battery.Connection.Port)

	evs, err := catalog.ListByVen(ctx, "ven-b")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.False(t, evs[0].Enabled)
	assert.Equal(t, db.StatusPending, evs[0].RegistrationStatus)
	assert.NotEmpty(t, evs[0].ResourceID)

	// only the resource with a fixed id is recognized again
	summary, err = fleet.Seed(ctx, catalog, f)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 2, summary.Inserted)
}

func TestParseRejectsInvalidResource(t *testing.T) {
	raw := []byte(`
vens:
  - name: ven-a
    resources:
      - name: Broken
        type: BATTERY
        meter_point_id: mp-1
        capacities: {p_max_kw: 1, p_min_kw: 2}
        connection: {type: filereader, actor_type: reader, file: x.csv}
`)
	_, err := fleet.Parse(raw, validator.NewValidator(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broken")
}

func TestGenerateLoads(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)

	f, err := fleet.Parse([]byte(fleetYAML), validator.NewValidator(true))
	require.NoError(t, err)
	_, err = fleet.Seed(ctx, catalog, f)
	require.NoError(t, err)

	src := newSource(t)
	summary, err := fleet.GenerateLoads(ctx, catalog, src, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Resources)
	assert.Equal(t, 9, summary.Loads)

	items, err := catalog.ListLoadsWithResources(ctx, "ven-a")
	require.NoError(t, err)
	require.Len(t, items, 6)
	for _, item := range items {
		require.NotNil(t, item.Resource.AssignedMeterID)
		assert.Equal(t, *item.Resource.AssignedMeterID, item.Load.AssignedMeterID)
		assert.Equal(t, db.StatusPending, item.Load.RegistrationStatus)
		assert.Nil(t, item.Load.ExternalResourceID)
		assert.Equal(t, fleet.LoadName(item.Load.LoadComponent), item.Load.LoadName)
	}

	again, err := fleet.GenerateLoads(ctx, catalog, src, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 3, again.Skipped)
	assert.Equal(t, 0, again.Loads)
}

func TestLoadName(t *testing.T) {
	assert.Equal(t, "Water Heater", fleet.LoadName("load_1"))
	assert.Equal(t, "Other Appliances", fleet.LoadName("load_5"))
	assert.Equal(t, "Load load_9", fleet.LoadName("load_9"))
}
