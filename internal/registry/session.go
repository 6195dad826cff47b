// Package registry tracks live sessions and their channel memberships.
package registry

import (
	"context"
	"sync"

	"github.com/campusgo/fleetrelay/internal/schema"
)

// DeliveryFunc pushes one outbound frame to the session's transport. It must
// honour the context deadline; a timed-out or failed delivery marks the
// session as slow and leads to its disconnection.
type DeliveryFunc func(ctx context.Context, frame schema.Frame) error

// CloseFunc tears down the session's transport with a human-readable reason.
type CloseFunc func(reason string)

// Session is the server-side representation of one live connection. It is
// created on connect, mutated on join/leave, and destroyed on disconnect;
// the registry owns it for the whole connection lifetime.
type Session struct {
	id      string
	userID  string
	role    schema.Role
	deliver DeliveryFunc
	close   CloseFunc

	mu     sync.Mutex
	joined map[schema.ChannelID]struct{}
	closed bool
}

// ID returns the opaque session identifier generated at connect time.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user behind the session.
func (s *Session) UserID() string { return s.userID }

// Role returns the session's authenticated role.
func (s *Session) Role() schema.Role { return s.role }

// Deliver pushes a frame through the session transport. Returns the transport
// error unchanged; the caller decides whether the failure disconnects the session.
func (s *Session) Deliver(ctx context.Context, frame schema.Frame) error {
	return s.deliver(ctx, frame)
}

// Channels returns a snapshot of the channels the session has joined.
func (s *Session) Channels() []schema.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.ChannelID, 0, len(s.joined))
	for channel := range s.joined {
		out = append(out, channel)
	}
	return out
}

// markJoined records the membership on the session side. Returns false when
// the session is already closed and must not gain new memberships.
func (s *Session) markJoined(channel schema.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.joined[channel] = struct{}{}
	return true
}

func (s *Session) markLeft(channel schema.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, channel)
}

// drain marks the session closed and returns the memberships to tear down.
// Idempotent: a second call returns nil.
func (s *Session) drain() []schema.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	out := make([]schema.ChannelID, 0, len(s.joined))
	for channel := range s.joined {
		out = append(out, channel)
	}
	s.joined = make(map[schema.ChannelID]struct{})
	return out
}

func (s *Session) closeTransport(reason string) {
	if s.close != nil {
		s.close(reason)
	}
}
