package schema

import "github.com/campusgo/fleetrelay/errs"

// Role identifies what an authenticated session is allowed to publish.
type Role string

const (
	// RoleAdmin can publish notifications to any audience.
	RoleAdmin Role = "admin"
	// RoleDriver can publish location samples for its assigned bus and emergency notices.
	RoleDriver Role = "driver"
	// RoleStudent is a read-only subscriber.
	RoleStudent Role = "student"
)

// Validate ensures the role is one of the recognised values.
func (r Role) Validate() error {
	switch r {
	case RoleAdmin, RoleDriver, RoleStudent:
		return nil
	default:
		return errs.New("schema/role", errs.CodeInvalid, errs.WithMessage("unknown role"))
	}
}
