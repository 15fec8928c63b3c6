package db

import (
	"fmt"
	"strings"
	"time"
)

// Status is the registration status of a resource or load relative to the VTN
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusSuspended Status = "SUSPENDED"
)

// Statuses lists every valid registration status in bucket order
var Statuses = []Status{StatusPending, StatusApproved, StatusSuspended}

// ParseStatus converts a string into a Status, rejecting unknown values
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusSuspended:
		return StatusSuspended, nil
	}
	return "", fmt.Errorf("invalid registration status %q", s)
}

// Valid reports whether s is one of the enumerated statuses
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// ConnectionType is the transport used to reach a resource
type ConnectionType string

const (
	ConnectionModbusTCP  ConnectionType = "modbustcp"
	ConnectionMQTT       ConnectionType = "mqtt"
	ConnectionFileReader ConnectionType = "filereader"
)

// ActorType is the role of the simulator on a connection
type ActorType string

const (
	ActorReader ActorType = "reader"
	ActorWriter ActorType = "writer"
)

// Connection describes how a resource is reached locally
type Connection struct {
	ID        int64
	Type      ConnectionType
	ActorType ActorType
	Host      *string
	Port      *int
	Topic     *string
	File      *string
	Username  *string
	Password  *string
}

// Capacities is the power/energy envelope of a resource
type Capacities struct {
	PMaxKW  float64 `json:"P_max_kw" yaml:"p_max_kw"`
	PMinKW  float64 `json:"P_min_kw" yaml:"p_min_kw"`
	EMaxKWh float64 `json:"E_max_kwh" yaml:"e_max_kwh"`
	EMinKWh float64 `json:"E_min_kwh" yaml:"e_min_kwh"`
}

// Location is the geolocation of a resource
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Resource represents a demand-response resource in the catalog
type Resource struct {
	ResourceID         string
	Name               string
	Type               string
	SubType            string
	MeterPointID       string
	Capacities         Capacities
	Location           Location
	Address            string
	Ven                string
	Enabled            bool
	AssignedMeterID    *string
	RegistrationStatus Status
	Connection         Connection
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Load represents one measured channel of a resource
type Load struct {
	LoadID             string
	ResourceID         string
	LoadComponent      string
	LoadName           string
	AssignedMeterID    string
	ExternalResourceID *string
	RegistrationStatus Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LoadWithResource is a load joined with its owning resource
type LoadWithResource struct {
	Load     Load
	Resource Resource
}

// CatalogStatistics summarizes the catalog contents
type CatalogStatistics struct {
	TotalResources   int
	ByType           map[string]int
	BySubType        map[string]int
	ByVen            map[string]int
	ByStatus         map[Status]int
	TotalLoads       int
	LoadsByComponent map[string]int
	LoadsByStatus    map[Status]int
}

// NewCatalogStatistics returns statistics with all maps allocated
func NewCatalogStatistics() *CatalogStatistics {
	return &CatalogStatistics{
		ByType:           make(map[string]int),
		BySubType:        make(map[string]int),
		ByVen:            make(map[string]int),
		ByStatus:         make(map[Status]int),
		LoadsByComponent: make(map[string]int),
		LoadsByStatus:    make(map[Status]int),
	}
}
