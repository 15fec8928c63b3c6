package vtn

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistrationConflict is a 409: the record already exists
	ErrRegistrationConflict = errors.New("registration conflict")
	// ErrRegistrationAmbiguous is a 500 the VTN returns for an already existing record
	ErrRegistrationAmbiguous = errors.New("registration ambiguous")
	// ErrTransient marks timeouts and connection failures
	ErrTransient = errors.New("transient network failure")
)

// StatusError is an unexpected HTTP status returned by the VTN
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsAlreadyRegistered reports whether err means the record most likely exists on the VTN
func IsAlreadyRegistered(err error) bool {
	return errors.Is(err, ErrRegistrationConflict) || errors.Is(err, ErrRegistrationAmbiguous)
}
