// Package directory resolves fleet relationships through the external data service.
package directory

import (
	"context"

	"github.com/campusgo/fleetrelay/internal/schema"
)

// Directory answers ownership and audience questions the relay cannot answer
// from its own state. Implementations may block and may fail; the router
// treats every call as external I/O.
type Directory interface {
	// BusForDriver returns the bus assigned to the driver, or empty when the
	// driver has no assignment.
	BusForDriver(ctx context.Context, userID string) (string, error)
	// StudentsOfBus returns the user ids of the bus's current passenger list.
	StudentsOfBus(ctx context.Context, busID string) ([]string, error)
	// UsersWithRole enumerates every user holding the role.
	UsersWithRole(ctx context.Context, role schema.Role) ([]string, error)
}
