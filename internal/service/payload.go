package service

import (
	"strconv"

	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/vtn"
)

// LoadResourceName is the name a load is registered under on the VTN
func LoadResourceName(item db.LoadWithResource) string {
	return item.Resource.Name + " - " + item.Load.LoadName
}

// BuildLoadRegistration maps a load and its resource to a VTN registration.
// Meter point and coordinates travel in the service location, never as attributes.
func BuildLoadRegistration(item db.LoadWithResource) vtn.ResourceRequest {
	res := item.Resource
	load := item.Load

	attributes := []vtn.Attribute{
		stringAttribute("resource_sub_type", res.SubType),
		floatAttribute("p_max_kw", res.Capacities.PMaxKW),
		floatAttribute("p_min_kw", res.Capacities.PMinKW),
		floatAttribute("e_max_kwh", res.Capacities.EMaxKWh),
		floatAttribute("e_min_kwh", res.Capacities.EMinKWh),
		stringAttribute("address", res.Address),
		stringAttribute("enabled", strconv.FormatBool(res.Enabled)),
		stringAttribute("load_component", load.LoadComponent),
		stringAttribute("load_name", load.LoadName),
		stringAttribute("assigned_meter_id", load.AssignedMeterID),
		stringAttribute("connection_type", string(res.Connection.Type)),
	}

	return vtn.ResourceRequest{
		ID:                 load.LoadID,
		ResourceName:       LoadResourceName(item),
		ResourceType:       res.Type,
		VenName:            res.Ven,
		Attributes:         attributes,
		ExternalResourceID: res.ResourceID,
		ServiceLocation: &vtn.ServiceLocation{
			MeterpointID: res.MeterPointID,
			Longitude:    res.Location.Longitude,
			Latitude:     res.Location.Latitude,
			Address:      res.Address,
		},
	}
}

func stringAttribute(name, value string) vtn.Attribute {
	return vtn.Attribute{Type: name, Name: name, Values: []string{value}}
}

func floatAttribute(name string, value float64) vtn.Attribute {
	return stringAttribute(name, strconv.FormatFloat(value, 'f', -1, 64))
}
