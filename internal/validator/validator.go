package validator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/septivank/ven-fleet-simulator/internal/db"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

func invalid(format string, args ...interface{}) ValidationResult {
	return ValidationResult{IsValid: false, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks fleet seed records before they enter the catalog
type Validator struct {
	requireMeterPoint bool
}

// NewValidator creates a new validator. requireMeterPoint rejects resources
// without a meter-point id.
func NewValidator(requireMeterPoint bool) *Validator {
	return &Validator{requireMeterPoint: requireMeterPoint}
}

// ValidateResource validates a resource and its connection
func (v *Validator) ValidateResource(res db.Resource) ValidationResult {
	if strings.TrimSpace(res.Name) == "" {
		return invalid("empty resource name")
	}
	if strings.TrimSpace(res.Type) == "" {
		return invalid("empty resource type")
	}
	if res.ResourceID != "" {
		if _, err := uuid.Parse(res.ResourceID); err != nil {
			return invalid("invalid resource id %q: %v", res.ResourceID, err)
		}
	}
	if res.RegistrationStatus != "" && !res.RegistrationStatus.Valid() {
		return invalid("invalid registration status %q", res.RegistrationStatus)
	}
	if v.requireMeterPoint && strings.TrimSpace(res.MeterPointID) == "" {
		return invalid("empty meter point id")
	}

	c := res.Capacities
	if c.PMinKW > c.PMaxKW {
		return invalid("P_min_kw %.2f exceeds P_max_kw %.2f", c.PMinKW, c.PMaxKW)
	}
	if c.EMinKWh > c.EMaxKWh {
		return invalid("E_min_kwh %.2f exceeds E_max_kwh %.2f", c.EMinKWh, c.EMaxKWh)
	}

	loc := res.Location
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return invalid("latitude %.6f out of range", loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return invalid("longitude %.6f out of range", loc.Longitude)
	}

	return v.ValidateConnection(res.Connection)
}

// ValidateConnection checks that a connection carries the fields its type needs
func (v *Validator) ValidateConnection(conn db.Connection) ValidationResult {
	switch conn.ActorType {
	case db.ActorReader, db.ActorWriter:
	default:
		return invalid("invalid actor type %q", conn.ActorType)
	}

	switch conn.Type {
	case db.ConnectionModbusTCP:
		if isEmpty(conn.Host) || conn.Port == nil {
			return invalid("modbustcp connection requires host and port")
		}
	case db.ConnectionMQTT:
		if isEmpty(conn.Host) || isEmpty(conn.Topic) {
			return invalid("mqtt connection requires host and topic")
		}
	case db.ConnectionFileReader:
		if isEmpty(conn.File) {
			return invalid("filereader connection requires file")
		}
	default:
		return invalid("invalid connection type %q", conn.Type)
	}

	if conn.Port != nil && (*conn.Port <= 0 || *conn.Port > 65535) {
		return invalid("port %d out of range", *conn.Port)
	}

	return ValidationResult{IsValid: true}
}

func isEmpty(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
