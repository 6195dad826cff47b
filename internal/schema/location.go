package schema

import (
	"math"
	"time"

	"github.com/campusgo/fleetrelay/errs"
)

// LocationSample is one GPS reading reported by a bus driver.
type LocationSample struct {
	BusID     string    `json:"busId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address,omitempty"`
}

// Validate rejects samples that must never reach the location store.
func (s LocationSample) Validate() error {
	if err := ValidateEntityID(s.BusID); err != nil {
		return errs.New("schema/location", errs.CodeInvalid, errs.WithMessage("bus id invalid"), errs.WithCause(err))
	}
	if !isFiniteCoordinate(s.Latitude, 90) {
		return errs.New("schema/location", errs.CodeInvalid, errs.WithMessage("latitude out of range"))
	}
	if !isFiniteCoordinate(s.Longitude, 180) {
		return errs.New("schema/location", errs.CodeInvalid, errs.WithMessage("longitude out of range"))
	}
	return nil
}

func isFiniteCoordinate(v, bound float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= -bound && v <= bound
}

// CurrentLocation is the authoritative last-known position of a bus.
// Known=false is the documented sentinel for a bus with no accepted sample yet;
// callers never receive a not-found error for such buses.
type CurrentLocation struct {
	BusID     string    `json:"busId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address,omitempty"`
	Known     bool      `json:"known"`
}
