package fleet

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
)

// LoadNames labels the recorded load channels
var LoadNames = map[string]string{
	"load_0": "Base Load",
	"load_1": "Water Heater",
	"load_2": "HVAC",
	"load_3": "Kitchen Appliances",
	"load_4": "Lighting",
	"load_5": "Other Appliances",
}

// LoadName returns the label of a channel, "Load <component>" when unknown
func LoadName(component string) string {
	if name, ok := LoadNames[component]; ok {
		return name
	}
	return "Load " + component
}

// LoadSummary counts the outcome of GenerateLoads
type LoadSummary struct {
	Resources int
	Skipped   int
	Loads     int
}

// GenerateLoads assigns a random recorded meter to every resource without
// loads and creates one PENDING load per channel of that meter. All loads
// are written in a single transaction.
func GenerateLoads(ctx context.Context, catalog repository.Catalog, source readings.Source, rng *rand.Rand) (*LoadSummary, error) {
	meters := source.Meters()
	if len(meters) == 0 {
		return nil, fmt.Errorf("reading source has no meters")
	}

	vens, err := catalog.ListVens(ctx)
	if err != nil {
		return nil, err
	}

	summary := &LoadSummary{}
	var loads []db.Load

	for _, ven := range vens {
		existing, err := catalog.ListLoadsWithResources(ctx, ven)
		if err != nil {
			return nil, err
		}
		hasLoads := make(map[string]bool, len(existing))
		for _, item := range existing {
			hasLoads[item.Load.ResourceID] = true
		}

		resources, err := catalog.ListByVen(ctx, ven)
		if err != nil {
			return nil, err
		}

		for _, res := range resources {
			if hasLoads[res.ResourceID] {
				summary.Skipped++
				continue
			}

			meterID := meters[rng.Intn(len(meters))]
			if err := catalog.AssignMeter(ctx, res.ResourceID, meterID); err != nil {
				return nil, err
			}

			components, _ := source.LoadComponents(meterID)
			for _, component := range components {
				loads = append(loads, db.Load{
					LoadID:             uuid.NewString(),
					ResourceID:         res.ResourceID,
					LoadComponent:      component,
					LoadName:           LoadName(component),
					AssignedMeterID:    meterID,
					RegistrationStatus: db.StatusPending,
				})
			}
			summary.Resources++
		}
	}

	if len(loads) > 0 {
		if err := catalog.BulkInsertLoads(ctx, loads); err != nil {
			return nil, err
		}
	}
	summary.Loads = len(loads)

	return summary, nil
}
