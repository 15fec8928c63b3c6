package service

import "errors"

// ErrVenNotFound is returned when a VEN has no registration session
var ErrVenNotFound = errors.New("ven not registered")

// VenSession holds the credential of a registered VEN
type VenSession struct {
	VenID     string
	VenName   string
	AuthToken string
	// Existing is set when the VEN was already known to the VTN (409)
	Existing bool
}

// RegistrationSummary counts per-load registration outcomes of one VEN.
// A batch with failed items is not an error; the counts carry the outcome.
type RegistrationSummary struct {
	VenID      string `json:"ven_id"`
	Total      int    `json:"total"`
	Registered int    `json:"registered"`
	Reconciled int    `json:"reconciled"`
	Ambiguous  int    `json:"ambiguous"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}

// UploadSummary counts historical upload outcomes of one VEN
type UploadSummary struct {
	VenID               string `json:"ven_id"`
	TotalLoads          int    `json:"total_loads"`
	Successful          int    `json:"successful"`
	Failed              int    `json:"failed"`
	TotalPointsUploaded int    `json:"total_points_uploaded"`
}

// ReportSummary counts live telemetry reports of one tick
type ReportSummary struct {
	Index     int `json:"index"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SetupSummary is the outcome of the full per-VEN setup sequence
type SetupSummary struct {
	Registration *RegistrationSummary `json:"registration"`
	Upload       *UploadSummary       `json:"upload,omitempty"`
}

type outcomeKind int

const (
	outcomeFailed outcomeKind = iota
	outcomeRegistered
	outcomeAmbiguous
	outcomeSkipped
)

type registrationOutcome struct {
	kind       outcomeKind
	externalID string
	reconciled bool
	err        error
}
