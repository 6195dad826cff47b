package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/campusgo/fleetrelay/internal/schema"
)

// channel holds the member set for one fan-out group. Each channel carries its
// own lock so unrelated buses and inboxes never serialize behind one mutex.
type channel struct {
	mu      sync.RWMutex
	members map[string]*Session
}

// ChannelRegistry maps channel identifiers to the sessions currently joined.
// Channels come into existence on first join and disappear when the last
// member leaves; there are no persistent channel objects.
type ChannelRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[schema.ChannelID]*channel

	sessionGauge metric.Int64UpDownCounter
	joinCounter  metric.Int64Counter
}

// NewChannelRegistry constructs an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	r := new(ChannelRegistry)
	r.sessions = make(map[string]*Session)
	r.channels = make(map[schema.ChannelID]*channel)

	meter := otel.Meter("registry")
	r.sessionGauge, _ = meter.Int64UpDownCounter("registry.sessions.active",
		metric.WithDescription("Number of live sessions"),
		metric.WithUnit("{session}"))
	r.joinCounter, _ = meter.Int64Counter("registry.channel.joins",
		metric.WithDescription("Number of channel join operations"),
		metric.WithUnit("{join}"))
	return r
}

// Connect registers a new session for the authenticated user and returns it.
// The session id is opaque and generated here.
func (r *ChannelRegistry) Connect(userID string, role schema.Role, deliver DeliveryFunc, close CloseFunc) *Session {
	s := &Session{
		id:      uuid.NewString(),
		userID:  userID,
		role:    role,
		deliver: deliver,
		close:   close,
		joined:  make(map[schema.ChannelID]struct{}),
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	if r.sessionGauge != nil {
		r.sessionGauge.Add(context.Background(), 1)
	}
	return s
}

// Session returns the live session for the id, or nil when it has disconnected.
func (r *ChannelRegistry) Session(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Join adds the session to the channel's member set. Idempotent; joining a
// channel twice or joining from an unknown session is a no-op. The member is
// added while the registry lock is held so a concurrent collect of an
// emptied channel cannot strand the session in an orphaned entry.
func (r *ChannelRegistry) Join(sessionID string, ch schema.ChannelID) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !s.markJoined(ch) {
		r.mu.Unlock()
		return
	}
	entry, ok := r.channels[ch]
	if !ok {
		entry = &channel{members: make(map[string]*Session)}
		r.channels[ch] = entry
	}
	entry.mu.Lock()
	entry.members[sessionID] = s
	entry.mu.Unlock()
	r.mu.Unlock()

	if r.joinCounter != nil {
		r.joinCounter.Add(context.Background(), 1)
	}
}

// Leave removes the session from the channel. Idempotent; unknown sessions
// and channels are empty results, never errors.
func (r *ChannelRegistry) Leave(sessionID string, ch schema.ChannelID) {
	r.mu.RLock()
	s := r.sessions[sessionID]
	entry := r.channels[ch]
	if s != nil {
		s.markLeft(ch)
	}
	empty := false
	if entry != nil {
		entry.mu.Lock()
		delete(entry.members, sessionID)
		empty = len(entry.members) == 0
		entry.mu.Unlock()
	}
	r.mu.RUnlock()
	if empty {
		r.collect(ch)
	}
}

// LeaveAll removes the session from every channel it belonged to. Each
// channel's removal is atomic with respect to concurrent MembersOf snapshots:
// a publish in flight sees the session either present or absent, never a
// half-removed state.
func (r *ChannelRegistry) LeaveAll(sessionID string) {
	r.mu.RLock()
	s := r.sessions[sessionID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	for _, ch := range s.drain() {
		r.mu.RLock()
		entry := r.channels[ch]
		empty := false
		if entry != nil {
			entry.mu.Lock()
			delete(entry.members, sessionID)
			empty = len(entry.members) == 0
			entry.mu.Unlock()
		}
		r.mu.RUnlock()
		if empty {
			r.collect(ch)
		}
	}
}

// Disconnect destroys the session: memberships are torn down first so no
// subsequent broadcast attempts delivery to it, then the transport is closed.
func (r *ChannelRegistry) Disconnect(sessionID, reason string) {
	r.LeaveAll(sessionID)
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if r.sessionGauge != nil {
		r.sessionGauge.Add(context.Background(), -1)
	}
	s.closeTransport(reason)
}

// MembersOf returns a snapshot of the channel's current members. The set may
// be stale the moment it returns; callers must tolerate members that have
// disconnected mid-iteration.
func (r *ChannelRegistry) MembersOf(ch schema.ChannelID) []*Session {
	r.mu.RLock()
	entry := r.channels[ch]
	r.mu.RUnlock()
	if entry == nil {
		return nil
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	out := make([]*Session, 0, len(entry.members))
	for _, s := range entry.members {
		out = append(out, s)
	}
	return out
}

// Stats reports the live session and channel counts for the ops API.
func (r *ChannelRegistry) Stats() (sessions, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.channels)
}

// collect drops the channel entry once its member set is empty. Re-checked
// under both locks: a Join racing the final Leave either lands in the entry
// before removal or recreates the channel afterwards.
func (r *ChannelRegistry) collect(ch schema.ChannelID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.channels[ch]
	if !ok {
		return
	}
	entry.mu.RLock()
	empty := len(entry.members) == 0
	entry.mu.RUnlock()
	if empty {
		delete(r.channels, ch)
	}
}
