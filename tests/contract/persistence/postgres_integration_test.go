package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/campusgo/fleetrelay/internal/persistence/migrations"
	pgstore "github.com/campusgo/fleetrelay/internal/persistence/postgres"
	"github.com/campusgo/fleetrelay/internal/schema"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "fleetrelay"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/fleetrelay?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func TestNotificationStoreRoundTrip(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewNotificationStore(testPool)

	recipientA := "user-" + uuid.NewString()
	recipientB := "user-" + uuid.NewString()

	created, err := store.Create(ctx, schema.NotificationRecord{
		SenderID:     "admin-1",
		RecipientIDs: []string{recipientA, recipientB},
		Category:     schema.CategoryRouteUpdate,
		Title:        "Route 7 detour",
		Message:      "Main gate closed, picking up at east entrance.",
	})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected created-at to be assigned")
	}
	if created.IsUrgent {
		t.Fatalf("route update should not be urgent by default")
	}

	urgent, err := store.Create(ctx, schema.NotificationRecord{
		ID:           uuid.NewString(),
		SenderID:     "driver-9",
		RecipientIDs: []string{recipientA},
		Category:     schema.CategoryEmergencyBreakdown,
		Title:        "Bus 12 breakdown",
		Message:      "Engine failure near the library stop.",
		IsUrgent:     true,
		CreatedAt:    time.Now().Add(time.Minute).UTC(),
	})
	if err != nil {
		t.Fatalf("create urgent notification: %v", err)
	}

	forA, err := store.ListForRecipient(ctx, recipientA, 10)
	if err != nil {
		t.Fatalf("list for recipient: %v", err)
	}
	if len(forA) != 2 {
		t.Fatalf("expected 2 notifications for %s, got %d", recipientA, len(forA))
	}
	if forA[0].ID != urgent.ID {
		t.Fatalf("expected newest-first ordering, got %s first", forA[0].ID)
	}
	if forA[0].Category != schema.CategoryEmergencyBreakdown {
		t.Fatalf("unexpected category %s", forA[0].Category)
	}
	if !forA[0].IsUrgent {
		t.Fatalf("expected urgent flag to persist")
	}

	forB, err := store.ListForRecipient(ctx, recipientB, 10)
	if err != nil {
		t.Fatalf("list for recipient b: %v", err)
	}
	if len(forB) != 1 {
		t.Fatalf("expected 1 notification for %s, got %d", recipientB, len(forB))
	}
	if forB[0].ID != created.ID {
		t.Fatalf("unexpected notification %s for %s", forB[0].ID, recipientB)
	}

	forStranger, err := store.ListForRecipient(ctx, "user-"+uuid.NewString(), 10)
	if err != nil {
		t.Fatalf("list for stranger: %v", err)
	}
	if len(forStranger) != 0 {
		t.Fatalf("expected no notifications for stranger, got %d", len(forStranger))
	}
}

func TestNotificationStoreRejectsInvalidRecord(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewNotificationStore(testPool)

	if _, err := store.Create(ctx, schema.NotificationRecord{
		SenderID: "admin-1",
		Category: schema.CategoryGeneral,
		Title:    "   ",
	}); err == nil {
		t.Fatalf("expected blank title to be rejected")
	}

	if _, err := store.Create(ctx, schema.NotificationRecord{
		SenderID: "admin-1",
		Category: schema.Category("SHOUTING"),
		Title:    "hello",
	}); err == nil {
		t.Fatalf("expected unknown category to be rejected")
	}
}
