package eta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campusgo/fleetrelay/internal/schema"
)

func knownLocation() schema.CurrentLocation {
	return schema.CurrentLocation{BusID: "42", Latitude: 30.1, Longitude: 31.2, Known: true}
}

func TestEstimateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"duration":750.5,"distance":9300}]}`))
	}))
	defer server.Close()

	estimator := NewEstimator(server.URL, server.Client())
	got := estimator.Estimate(context.Background(), knownLocation(), Destination{Name: "Main Gate", Latitude: 30.2, Longitude: 31.3})

	if !got.Available {
		t.Fatal("expected available estimate")
	}
	want := time.Duration(750.5 * float64(time.Second))
	if got.Duration != want {
		t.Fatalf("duration = %v, want %v", got.Duration, want)
	}
	if got.DistanceMeters != 9300 {
		t.Fatalf("distance = %v", got.DistanceMeters)
	}
}

func TestEstimateUnavailableOnFailure(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error":  func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"bad json":      func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("not json")) },
		"no route":      func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`)) },
		"empty routes":  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"code":"Ok","routes":[]}`)) },
	}
	for name, handler := range cases {
		server := httptest.NewServer(handler)
		estimator := NewEstimator(server.URL, server.Client())
		got := estimator.Estimate(context.Background(), knownLocation(), Destination{})
		server.Close()
		if got.Available {
			t.Errorf("%s: expected unavailable", name)
		}
		if got.String() != "unavailable" {
			t.Errorf("%s: String() = %q", name, got.String())
		}
	}
}

func TestEstimateUnknownLocation(t *testing.T) {
	estimator := NewEstimator("http://localhost:1", nil)
	got := estimator.Estimate(context.Background(), schema.CurrentLocation{BusID: "42"}, Destination{})
	if got.Available {
		t.Fatal("unknown location must be unavailable without any network call")
	}
}
