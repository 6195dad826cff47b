package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/schema"
)

func TestBusForDriver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drivers/drv-1/bus" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"busId": "bus-7"})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL)
	busID, err := client.BusForDriver(context.Background(), "drv-1")
	if err != nil {
		t.Fatalf("bus for driver: %v", err)
	}
	if busID != "bus-7" {
		t.Fatalf("unexpected bus id %q", busID)
	}

	busID, err = client.BusForDriver(context.Background(), "drv-unassigned")
	if err != nil {
		t.Fatalf("unassigned driver should not error: %v", err)
	}
	if busID != "" {
		t.Fatalf("expected empty bus id, got %q", busID)
	}
}

func TestStudentsOfBusDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"userIds": {"u1", "u2", "u1", " ", "u3"}})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL)
	students, err := client.StudentsOfBus(context.Background(), "bus-7")
	if err != nil {
		t.Fatalf("students of bus: %v", err)
	}
	want := []string{"u1", "u2", "u3"}
	if len(students) != len(want) {
		t.Fatalf("expected %v, got %v", want, students)
	}
	for i := range want {
		if students[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, students)
		}
	}
}

func TestUsersWithRoleQuery(t *testing.T) {
	var gotRole string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = r.URL.Query().Get("role")
		_ = json.NewEncoder(w).Encode(map[string][]string{"userIds": {"s1"}})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL)
	users, err := client.UsersWithRole(context.Background(), schema.RoleStudent)
	if err != nil {
		t.Fatalf("users with role: %v", err)
	}
	if gotRole != string(schema.RoleStudent) {
		t.Fatalf("unexpected role query %q", gotRole)
	}
	if len(users) != 1 || users[0] != "s1" {
		t.Fatalf("unexpected users %v", users)
	}
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"busId": "bus-2"})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, WithMaxAttempts(5))
	busID, err := client.BusForDriver(context.Background(), "drv-2")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if busID != "bus-2" {
		t.Fatalf("unexpected bus id %q", busID)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestLookupGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, WithMaxAttempts(2))
	_, err := client.BusForDriver(context.Background(), "drv-3")
	if !errs.IsCode(err, errs.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestLookupTransportFailure(t *testing.T) {
	client := NewRESTClient("http://127.0.0.1:1", WithMaxAttempts(2))
	_, err := client.BusForDriver(context.Background(), "drv-4")
	if err == nil {
		t.Fatalf("expected transport failure")
	}
	if !errs.IsCode(err, errs.CodeUnavailable) && !errs.IsCode(err, errs.CodeNetwork) {
		t.Fatalf("unexpected error code: %v", err)
	}
}
