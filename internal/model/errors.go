package model

import (
	"errors"
	"strconv"
)

var (
	// ErrRetryExhausted is returned by orchestration loops once every
	// configured attempt has been consumed without a verified outcome.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrTemplateNotFound is returned when a stored search template is
	// missing from the backend.
	ErrTemplateNotFound = errors.New("search template not found")

	// ErrNoGeocodeResults is returned when a geocoder finds no match for a
	// location, including after fallback variations.
	ErrNoGeocodeResults = errors.New("no geocoding results")
)

// TransportError marks a download or connect failure. Transport failures are
// fatal to the current pipeline attempt; they are never recovered below the
// orchestration layer.
type TransportError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return "transport: " + e.URL + ": " + e.Cause.Error()
	}
	return "transport: " + e.URL + ": unexpected status " + strconv.Itoa(e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
