// Package notify defines the notification durability boundary.
package notify

import (
	"context"

	"github.com/campusgo/fleetrelay/internal/schema"
)

// Store persists notification records. Persistence is the durability boundary
// for the notification path: nothing is fanned out unless Create succeeds.
type Store interface {
	// Create persists the record and returns it with its id and creation time
	// populated. A failure maps to errs.CodePersistence.
	Create(ctx context.Context, record schema.NotificationRecord) (schema.NotificationRecord, error)
}
