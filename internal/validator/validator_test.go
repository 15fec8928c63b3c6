package validator_test

import (
	"testing"

	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/validator"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func validResource() db.Resource {
	return db.Resource{
		ResourceID:   "8a1d0c2e-4f5b-4c6d-9e7f-0a1b2c3d4e5f",
		Name:         "Home Battery 1",
		Type:         "BATTERY",
		SubType:      "home_battery",
		MeterPointID: "871685900000000001",
		Capacities:   db.Capacities{PMaxKW: 5, PMinKW: -5, EMaxKWh: 13.5, EMinKWh: 0},
		Location:     db.Location{Latitude: 52.37, Longitude: 4.89},
		Connection: db.Connection{
			Type:      db.ConnectionModbusTCP,
			ActorType: db.ActorReader,
			Host:      strPtr("10.0.0.5"),
			Port:      intPtr(502),
		},
	}
}

func TestValidateResource_Valid(t *testing.T) {
	v := validator.NewValidator(true)

	result := v.ValidateResource(validResource())

	if !result.IsValid {
		t.Errorf("Expected valid result, got invalid: %s", result.Reason)
	}
}

func TestValidateResource_Invalid(t *testing.T) {
	v := validator.NewValidator(true)

	tests := []struct {
		name   string
		mutate func(*db.Resource)
	}{
		{"empty name", func(r *db.Resource) { r.Name = " " }},
		{"empty type", func(r *db.Resource) { r.Type = "" }},
		{"bad id", func(r *db.Resource) { r.ResourceID = "not-a-uuid" }},
		{"bad status", func(r *db.Resource) { r.RegistrationStatus = "RETIRED" }},
		{"missing meter point", func(r *db.Resource) { r.MeterPointID = "" }},
		{"power envelope", func(r *db.Resource) { r.Capacities.PMinKW = 10 }},
		{"energy envelope", func(r *db.Resource) { r.Capacities.EMinKWh = 20 }},
		{"latitude", func(r *db.Resource) { r.Location.Latitude = 95 }},
		{"longitude", func(r *db.Resource) { r.Location.Longitude = -200 }},
		{"actor", func(r *db.Resource) { r.Connection.ActorType = "observer" }},
		{"connection type", func(r *db.Resource) { r.Connection.Type = "serial" }},
		{"modbus without port", func(r *db.Resource) { r.Connection.Port = nil }},
		{"port range", func(r *db.Resource) { r.Connection.Port = intPtr(70000) }},
		{"mqtt without topic", func(r *db.Resource) { r.Connection.Type = db.ConnectionMQTT }},
		{"filereader without file", func(r *db.Resource) { r.Connection.Type = db.ConnectionFileReader }},
	}

	for _, tt := range tests {
		res := validResource()
		tt.mutate(&res)

		result := v.ValidateResource(res)
		if result.IsValid {
			t.Errorf("%s: expected invalid result", tt.name)
		}
		if result.Reason == "" {
			t.Errorf("%s: expected a reason", tt.name)
		}
	}
}

func TestValidateResource_OptionalMeterPoint(t *testing.T) {
	v := validator.NewValidator(false)

	res := validResource()
	res.MeterPointID = ""
	res.ResourceID = ""

	if result := v.ValidateResource(res); !result.IsValid {
		t.Errorf("Expected valid result, got invalid: %s", result.Reason)
	}
}
