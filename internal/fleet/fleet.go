// Package fleet loads fleet descriptions into the resource catalog and
// derives load records from the recorded meters.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/septivank/ven-fleet-simulator/internal/validator"
	"gopkg.in/yaml.v3"
)

// Fleet is the YAML seed document
type Fleet struct {
	Vens []VenEntry `yaml:"vens"`
}

// VenEntry groups the resources of one VEN
type VenEntry struct {
	Name      string          `yaml:"name"`
	Resources []ResourceEntry `yaml:"resources"`
}

// ResourceEntry is one resource as written in a seed file
type ResourceEntry struct {
	ResourceID   string          `yaml:"resource_id"`
	Name         string          `yaml:"name"`
	Type         string          `yaml:"type"`
	SubType      string          `yaml:"sub_type"`
	MeterPointID string          `yaml:"meter_point_id"`
	Capacities   db.Capacities   `yaml:"capacities"`
	Location     db.Location     `yaml:"location"`
	Address      string          `yaml:"address"`
	Enabled      *bool           `yaml:"enabled"`
	Status       string          `yaml:"status"`
	Connection   ConnectionEntry `yaml:"connection"`
}

// ConnectionEntry is the connection block of a ResourceEntry
type ConnectionEntry struct {
	Type      string  `yaml:"type"`
	ActorType string  `yaml:"actor_type"`
	Host      *string `yaml:"host"`
	Port      *int    `yaml:"port"`
	Topic     *string `yaml:"topic"`
	File      *string `yaml:"file"`
	Username  *string `yaml:"username"`
	Password  *string `yaml:"password"`
}

// SeedSummary counts the outcome of Seed
type SeedSummary struct {
	Inserted   int
	Duplicates int
}

// LoadFile reads and validates a fleet seed file
func LoadFile(path string, v *validator.Validator) (*Fleet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return Parse(raw, v)
}

// Parse decodes and validates a fleet document. The first invalid
// resource rejects the whole document.
func Parse(raw []byte, v *validator.Validator) (*Fleet, error) {
	var f Fleet
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	for _, ven := range f.Vens {
		if strings.TrimSpace(ven.Name) == "" {
			return nil, errors.New("ven without name in fleet file")
		}
		for i, entry := range ven.Resources {
			res := entry.toResource(ven.Name)
			if result := v.ValidateResource(res); !result.IsValid {
				return nil, fmt.Errorf("ven %s resource %d (%s): %s", ven.Name, i, entry.Name, result.Reason)
			}
		}
	}

	return &f, nil
}

func (s ResourceEntry) toResource(ven string) db.Resource {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	status := db.Status(strings.ToUpper(s.Status))
	if status == "" {
		status = db.StatusPending
	}

	return db.Resource{
		ResourceID:         s.ResourceID,
		Name:               s.Name,
		Type:               s.Type,
		SubType:            s.SubType,
		MeterPointID:       s.MeterPointID,
		Capacities:         s.Capacities,
		Location:           s.Location,
		Address:            s.Address,
		Ven:                ven,
		Enabled:            enabled,
		RegistrationStatus: status,
		Connection: db.Connection{
			Type:      db.ConnectionType(s.Connection.Type),
			ActorType: db.ActorType(s.Connection.ActorType),
			Host:      s.Connection.Host,
			Port:      s.Connection.Port,
			Topic:     s.Connection.Topic,
			File:      s.Connection.File,
			Username:  s.Connection.Username,
			Password:  s.Connection.Password,
		},
	}
}

// Seed inserts every resource of the fleet. Resources without an id get a
// fresh UUID; resources already in the catalog are skipped and counted.
func Seed(ctx context.Context, catalog repository.Catalog, f *Fleet) (*SeedSummary, error) {
	summary := &SeedSummary{}

	for _, ven := range f.Vens {
		for _, entry := range ven.Resources {
			res := entry.toResource(ven.Name)
			if res.ResourceID == "" {
				res.ResourceID = uuid.NewString()
			} else if _, err := catalog.GetResource(ctx, res.ResourceID); err == nil {
				summary.Duplicates++
				continue
			} else if !errors.Is(err, repository.ErrResourceNotFound) {
				return summary, err
			}

			connID, err := catalog.InsertConnection(ctx, res.Connection)
			if err != nil {
				return summary, err
			}

			err = catalog.InsertResource(ctx, res, connID, ven.Name)
			if errors.Is(err, repository.ErrDuplicateKey) {
				summary.Duplicates++
				continue
			}
			if err != nil {
				return summary, err
			}
			summary.Inserted++
		}
	}

	return summary, nil
}
