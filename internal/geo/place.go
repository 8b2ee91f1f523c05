// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package geo resolves a birth place to coordinates and a time zone, and
// converts a local birth time to the reference zone used by the calendar.
package geo

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound means the geocoder returned no match.
	ErrNotFound = errors.New("place not found")

	// ErrNoZone means no time zone covers the coordinates.
	ErrNoZone = errors.New("no time zone for location")

	// ErrNonexistentTime means the local time falls in a DST gap.
	ErrNonexistentTime = errors.New("local time does not exist")
)

// HTTPError is a non-2xx answer from the geocoding service.
type HTTPError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("geocoder returned HTTP %d: %s", e.Status, e.Body)
}

// Place is a geocoded location.
type Place struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Display string  `json:"display"`
}
