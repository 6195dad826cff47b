// Package eta estimates arrival times from the latest bus location.
package eta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/internal/observability"
	"github.com/campusgo/fleetrelay/internal/schema"
)

const maxResponseBytes = 256 * 1024

// Destination is a fixed stop the estimate targets.
type Destination struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Estimate is the routing service's answer. Available=false is the documented
// "unavailable" result; callers never see an error from the estimator.
type Estimate struct {
	Duration       time.Duration
	DistanceMeters float64
	Available      bool
}

// String renders the estimate for display.
func (e Estimate) String() string {
	if !e.Available {
		return "unavailable"
	}
	return e.Duration.Round(time.Second).String()
}

// Doer abstracts the HTTP client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Estimator queries an OSRM-style routing service. It runs outside the
// broadcast path: consumers invoke it after receiving a location update, and
// any failure degrades to Unavailable instead of propagating.
type Estimator struct {
	baseURL string
	client  Doer
}

// NewEstimator constructs an estimator against the routing service base URL.
func NewEstimator(baseURL string, client Doer) *Estimator {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Estimator{baseURL: baseURL, client: client}
}

type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// Estimate computes the travel time from the bus's current location to the
// destination. A bus with no known location is immediately unavailable.
func (e *Estimator) Estimate(ctx context.Context, current schema.CurrentLocation, dest Destination) Estimate {
	if !current.Known {
		return Estimate{}
	}

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		e.baseURL, current.Longitude, current.Latitude, dest.Longitude, dest.Latitude)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Estimate{}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		observability.Log().Debug("eta lookup failed",
			observability.Field{Key: "bus_id", Value: current.BusID},
			observability.Field{Key: "error", Value: err.Error()})
		return Estimate{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Estimate{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Estimate{}
	}
	var route routeResponse
	if err := json.Unmarshal(body, &route); err != nil {
		return Estimate{}
	}
	if route.Code != "Ok" || len(route.Routes) == 0 {
		return Estimate{}
	}

	return Estimate{
		Duration:       time.Duration(route.Routes[0].Duration * float64(time.Second)),
		DistanceMeters: route.Routes[0].Distance,
		Available:      true,
	}
}
