package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/schema"
)

func sampleRecord() schema.NotificationRecord {
	return schema.NotificationRecord{
		ID:           "n-1",
		SenderID:     "admin-1",
		RecipientIDs: []string{"u1", "u2"},
		Category:     schema.CategoryGeneral,
		Title:        "Schedule change",
		Message:      "Evening shuttle cancelled.",
		CreatedAt:    time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestRESTStoreCreate(t *testing.T) {
	var gotPath string
	var gotBody schema.NotificationRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(gotBody)
	}))
	defer srv.Close()

	store := NewRESTStore(srv.URL)
	created, err := store.Create(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotPath != "POST /notifications" {
		t.Fatalf("unexpected request %q", gotPath)
	}
	if gotBody.Title != "Schedule change" {
		t.Fatalf("unexpected title %q", gotBody.Title)
	}
	if created.ID != "n-1" {
		t.Fatalf("unexpected id %q", created.ID)
	}
}

func TestRESTStoreCreateFailureIsPersistence(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewRESTStore(srv.URL)
	_, err := store.Create(context.Background(), sampleRecord())
	if !errs.IsCode(err, errs.CodePersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("create must not retry, saw %d attempts", attempts)
	}
}

func TestRESTStoreCreateRejectsInvalid(t *testing.T) {
	store := NewRESTStore("http://unused.invalid")
	record := sampleRecord()
	record.Title = "  "
	if _, err := store.Create(context.Background(), record); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}
