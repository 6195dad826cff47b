// Package ops exposes the relay's operational HTTP surface.
package ops

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/internal/eta"
	"github.com/campusgo/fleetrelay/internal/locations"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/schema"
)

// NewHandler returns the ops HTTP handler. The estimator may be nil when no
// routing service is configured; ETA queries then report unavailable.
func NewHandler(reg *registry.ChannelRegistry, store *locations.Store, estimator *eta.Estimator) http.Handler {
	server := &opsServer{registry: reg, locations: store, estimator: estimator}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.HandleFunc("/channels/stats", server.handleStats)
	mux.HandleFunc("/buses/", server.handleBus)
	return mux
}

type opsServer struct {
	registry  *registry.ChannelRegistry
	locations *locations.Store
	estimator *eta.Estimator
}

func (s *opsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *opsServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessions, channels := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]int{
		"sessions": sessions,
		"channels": channels,
	})
}

// handleBus serves /buses/{id}/location and /buses/{id}/eta.
func (s *opsServer) handleBus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/buses/")
	busID, action, ok := strings.Cut(rest, "/")
	if !ok || strings.TrimSpace(busID) == "" {
		writeError(w, http.StatusNotFound, "unknown path")
		return
	}
	switch action {
	case "location":
		s.handleLocation(w, busID)
	case "stale":
		s.handleStale(w, busID)
	case "eta":
		s.handleETA(w, r, busID)
	default:
		writeError(w, http.StatusNotFound, "unknown path")
	}
}

type locationResponse struct {
	BusID     string     `json:"busId"`
	Known     bool       `json:"known"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Address   string     `json:"address,omitempty"`
}

func (s *opsServer) handleLocation(w http.ResponseWriter, busID string) {
	current := s.locations.Current(busID)
	resp := locationResponse{BusID: busID, Known: current.Known}
	if current.Known {
		resp.Latitude = &current.Latitude
		resp.Longitude = &current.Longitude
		ts := current.Timestamp
		resp.Timestamp = &ts
		resp.Address = current.Address
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStale exposes the suppressed-sample audit ring for one bus.
func (s *opsServer) handleStale(w http.ResponseWriter, busID string) {
	samples := s.locations.StaleSamples(busID)
	if samples == nil {
		samples = []schema.LocationSample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"busId":   busID,
		"samples": samples,
	})
}

type etaResponse struct {
	BusID           string  `json:"busId"`
	Available       bool    `json:"available"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	DistanceMeters  float64 `json:"distanceMeters,omitempty"`
	Display         string  `json:"display"`
}

func (s *opsServer) handleETA(w http.ResponseWriter, r *http.Request, busID string) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon query parameters required")
		return
	}

	estimate := eta.Estimate{}
	if s.estimator != nil {
		current := s.locations.Current(busID)
		estimate = s.estimator.Estimate(r.Context(), current, eta.Destination{
			Name:      r.URL.Query().Get("stop"),
			Latitude:  lat,
			Longitude: lon,
		})
	}
	writeJSON(w, http.StatusOK, etaResponse{
		BusID:           busID,
		Available:       estimate.Available,
		DurationSeconds: estimate.Duration.Seconds(),
		DistanceMeters:  estimate.DistanceMeters,
		Display:         estimate.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
