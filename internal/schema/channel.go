// Package schema defines the canonical types carried through the relay.
package schema

import (
	"strings"

	"github.com/campusgo/fleetrelay/errs"
)

// ChannelKind discriminates the two fan-out group families.
type ChannelKind string

const (
	// ChannelBus groups every session tracking one bus.
	ChannelBus ChannelKind = "bus"
	// ChannelUser is a single recipient's private inbox.
	ChannelUser ChannelKind = "user"
)

// ChannelID identifies a fan-out group. The typed form replaces ad-hoc string
// concatenation so bus and user namespaces can never collide.
type ChannelID struct {
	Kind ChannelKind
	ID   string
}

// BusChannel returns the channel for all subscribers of one bus.
func BusChannel(busID string) ChannelID {
	return ChannelID{Kind: ChannelBus, ID: strings.TrimSpace(busID)}
}

// UserChannel returns the private channel for one user.
func UserChannel(userID string) ChannelID {
	return ChannelID{Kind: ChannelUser, ID: strings.TrimSpace(userID)}
}

// Validate ensures the channel carries a known kind and a usable identifier.
func (c ChannelID) Validate() error {
	switch c.Kind {
	case ChannelBus, ChannelUser:
	default:
		return errs.New("schema/channel", errs.CodeInvalid, errs.WithMessage("unknown channel kind"))
	}
	if err := ValidateEntityID(c.ID); err != nil {
		return err
	}
	return nil
}

// String renders the wire form, e.g. "bus:42" or "user:u7".
func (c ChannelID) String() string {
	return string(c.Kind) + ":" + c.ID
}

// ParseChannelID converts the wire form back into a typed identifier.
func ParseChannelID(raw string) (ChannelID, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return ChannelID{}, errs.New("schema/channel", errs.CodeInvalid, errs.WithMessage("channel must be kind:id"))
	}
	channel := ChannelID{Kind: ChannelKind(kind), ID: id}
	if err := channel.Validate(); err != nil {
		return ChannelID{}, err
	}
	return channel, nil
}

// ValidateEntityID checks the opaque identifiers (bus ids, user ids) accepted on the wire.
func ValidateEntityID(id string) error {
	if id == "" {
		return errs.New("schema/entity-id", errs.CodeInvalid, errs.WithMessage("identifier required"))
	}
	if strings.ContainsAny(id, ": \t\n") {
		return errs.New("schema/entity-id", errs.CodeInvalid, errs.WithMessage("identifier contains reserved characters"))
	}
	return nil
}
