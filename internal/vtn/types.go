package vtn

// VenRequest is the body of POST /vens
type VenRequest struct {
	VenName    string `json:"ven_name"`
	ClientName string `json:"client_name"`
}

// VenRegistration is the credential issued for a newly created VEN
type VenRegistration struct {
	ID        string `json:"id"`
	VenName   string `json:"ven_name"`
	AuthToken string `json:"auth_token"`
}

// Attribute is one flattened resource attribute
type Attribute struct {
	Type   string   `json:"attribute_type"`
	Name   string   `json:"attribute_name"`
	Values []string `json:"attribute_values"`
}

// ServiceLocation places a resource on the grid
type ServiceLocation struct {
	MeterpointID string  `json:"meterpoint_id"`
	Longitude    float64 `json:"longitude"`
	Latitude     float64 `json:"latitude"`
	Address      string  `json:"address,omitempty"`
}

// ResourceRequest is the body of POST /resources
type ResourceRequest struct {
	ID                 string           `json:"id"`
	ResourceName       string           `json:"resource_name"`
	ResourceType       string           `json:"resource_type"`
	VenName            string           `json:"ven_name"`
	Attributes         []Attribute      `json:"attributes"`
	ExternalResourceID string           `json:"external_resource_id,omitempty"`
	ServiceLocation    *ServiceLocation `json:"service_location,omitempty"`
}

// ResourceRegistration is the VTN's answer to a resource registration or lookup
type ResourceRegistration struct {
	ID                 string      `json:"id"`
	ResourceName       string      `json:"resource_name,omitempty"`
	VenName            string      `json:"ven_name,omitempty"`
	ExternalResourceID string      `json:"external_resource_id,omitempty"`
	Attributes         []Attribute `json:"attributes,omitempty"`
}

// Attribute returns the first value of the named attribute
func (r ResourceRegistration) Attribute(name string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Name == name && len(a.Values) > 0 {
			return a.Values[0], true
		}
	}
	return "", false
}

// Identifies reports whether r is the VTN record of the load described by req.
// Display names are not unique, so the match is on the VEN, the local resource
// id and the load component.
func (r ResourceRegistration) Identifies(req ResourceRequest) bool {
	if r.ID == "" || r.VenName != req.VenName || r.ExternalResourceID != req.ExternalResourceID {
		return false
	}
	want, ok := attributeValue(req.Attributes, "load_component")
	if !ok {
		return false
	}
	got, ok := r.Attribute("load_component")
	return ok && got == want
}

func attributeValue(attrs []Attribute, name string) (string, bool) {
	return ResourceRegistration{Attributes: attrs}.Attribute(name)
}

// ReportRequest is the body of POST /reports
type ReportRequest struct {
	ReportName     string  `json:"report_name"`
	VenID          string  `json:"ven_id"`
	ResourceID     string  `json:"resource_id"`
	ReportType     string  `json:"report_type"`
	ReadingType    string  `json:"reading_type"`
	LoadComponent  string  `json:"load_component"`
	IntervalStart  string  `json:"interval_start"`
	IntervalPeriod string  `json:"interval_period"`
	ValueKW        float64 `json:"value_kw"`
}

// Report constants
const (
	ReportTypeUsage      = "usage"
	ReadingTypePower     = "power"
	ReportIntervalPeriod = "PT15M"
)

// DataPoint is one historical interval in a bulk upload
type DataPoint struct {
	IntervalStart string  `json:"interval_start"`
	IntervalEnd   string  `json:"interval_end"`
	Value         float64 `json:"value"`
	QualityCode   string  `json:"quality_code"`
}

// BulkUploadRequest is the body of POST /report_data/bulk
type BulkUploadRequest struct {
	ResourceID string      `json:"resource_id"`
	Points     []DataPoint `json:"points"`
}

// BulkUploadResult is the VTN's answer to a bulk upload
type BulkUploadResult struct {
	EntriesCreated            int     `json:"entries_created"`
	ThroughputPointsPerSecond float64 `json:"throughput_points_per_second"`
}

// Event is a demand response event announced by the VTN
type Event struct {
	ID                 string `json:"id"`
	EventName          string `json:"event_name"`
	ProgramID          string `json:"program_id"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	Status             string `json:"status"`
	ModificationNumber int    `json:"modification_number"`
}

// ResponseType is a VEN's answer to an event
type ResponseType string

const (
	ResponseOptIn            ResponseType = "optIn"
	ResponseOptOut           ResponseType = "optOut"
	ResponseNotParticipating ResponseType = "notParticipating"
)

// EventResponse is the body of POST /events/{id}/responses
type EventResponse struct {
	EventID      string       `json:"event_id"`
	ResponseType ResponseType `json:"response_type"`
}
