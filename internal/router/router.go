// Package router orchestrates event validation, state updates, and fan-out.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/campusgo/fleetrelay/internal/directory"
	"github.com/campusgo/fleetrelay/internal/locations"
	"github.com/campusgo/fleetrelay/internal/notify"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/schema"
)

// Config sizes the router's fan-out and throttling behaviour.
type Config struct {
	// WriteTimeout bounds one push to one subscriber. A subscriber that cannot
	// take the frame within this window is disconnected.
	WriteTimeout time.Duration
	// FanoutWorkers caps concurrent deliveries per broadcast.
	FanoutWorkers int
	// DriverSampleRate limits location samples per second per driver; zero disables.
	DriverSampleRate float64
	// DriverSampleBurst is the limiter burst size.
	DriverSampleBurst int
}

func (c Config) normalize() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 250 * time.Millisecond
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 8
	}
	if c.DriverSampleBurst <= 0 {
		c.DriverSampleBurst = 3
	}
	return c
}

// Router validates inbound events, updates the relevant store, and fans the
// event out to every subscribed session. One Router instance is constructed
// at process start and handed to the layers that publish; there is no hidden
// global broadcast handle.
type Router struct {
	cfg           Config
	registry      *registry.ChannelRegistry
	locations     *locations.Store
	notifications notify.Store
	directory     directory.Directory
	clock         func() time.Time

	busMu    sync.Mutex
	busLocks map[string]*sync.Mutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	locationFresh      metric.Int64Counter
	locationStale      metric.Int64Counter
	locationRejected   metric.Int64Counter
	locationThrottled  metric.Int64Counter
	notifyPublished    metric.Int64Counter
	notifyPersistError metric.Int64Counter
	deliveryErrors     metric.Int64Counter
	slowDisconnects    metric.Int64Counter
	fanoutSize         metric.Int64Histogram
	publishDuration    metric.Float64Histogram
}

// Option configures the router.
type Option func(*Router)

// WithClock overrides the router clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs a router over the given collaborators.
func New(reg *registry.ChannelRegistry, loc *locations.Store, store notify.Store, dir directory.Directory, cfg Config, opts ...Option) *Router {
	r := new(Router)
	r.cfg = cfg.normalize()
	r.registry = reg
	r.locations = loc
	r.notifications = store
	r.directory = dir
	r.clock = time.Now
	r.busLocks = make(map[string]*sync.Mutex)
	r.limiters = make(map[string]*rate.Limiter)
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	meter := otel.Meter("router")
	r.locationFresh, _ = meter.Int64Counter("router.location.fresh",
		metric.WithDescription("Fresh location samples broadcast"), metric.WithUnit("{sample}"))
	r.locationStale, _ = meter.Int64Counter("router.location.stale",
		metric.WithDescription("Out-of-order samples suppressed"), metric.WithUnit("{sample}"))
	r.locationRejected, _ = meter.Int64Counter("router.location.rejected",
		metric.WithDescription("Location samples rejected by validation"), metric.WithUnit("{sample}"))
	r.locationThrottled, _ = meter.Int64Counter("router.location.throttled",
		metric.WithDescription("Location samples dropped by the per-driver limiter"), metric.WithUnit("{sample}"))
	r.notifyPublished, _ = meter.Int64Counter("router.notification.published",
		metric.WithDescription("Notifications persisted and fanned out"), metric.WithUnit("{notification}"))
	r.notifyPersistError, _ = meter.Int64Counter("router.notification.persist_errors",
		metric.WithDescription("Notification persistence failures"), metric.WithUnit("{error}"))
	r.deliveryErrors, _ = meter.Int64Counter("router.delivery.errors",
		metric.WithDescription("Per-subscriber delivery failures"), metric.WithUnit("{error}"))
	r.slowDisconnects, _ = meter.Int64Counter("router.delivery.slow_disconnects",
		metric.WithDescription("Subscribers disconnected for stalling a broadcast"), metric.WithUnit("{session}"))
	r.fanoutSize, _ = meter.Int64Histogram("router.fanout.size",
		metric.WithDescription("Subscribers per broadcast"), metric.WithUnit("{subscriber}"))
	r.publishDuration, _ = meter.Float64Histogram("router.publish.duration",
		metric.WithDescription("Latency of publish operations"), metric.WithUnit("ms"))
	return r
}

// Join subscribes the session to a channel after validating the identifier.
func (r *Router) Join(sessionID string, ch schema.ChannelID) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	r.registry.Join(sessionID, ch)
	return nil
}

// Leave unsubscribes the session from a channel.
func (r *Router) Leave(sessionID string, ch schema.ChannelID) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	r.registry.Leave(sessionID, ch)
	return nil
}

func (r *Router) observePublish(ctx context.Context, kind, result string, start time.Time) {
	if r.publishDuration == nil {
		return
	}
	r.publishDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result)))
}

func (r *Router) busLock(busID string) *sync.Mutex {
	r.busMu.Lock()
	defer r.busMu.Unlock()
	mu, ok := r.busLocks[busID]
	if !ok {
		mu = new(sync.Mutex)
		r.busLocks[busID] = mu
	}
	return mu
}

// allowSample applies the per-driver limiter. Disabled when the rate is zero.
func (r *Router) allowSample(driverID string) bool {
	if r.cfg.DriverSampleRate <= 0 {
		return true
	}
	r.limiterMu.Lock()
	limiter, ok := r.limiters[driverID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.DriverSampleRate), r.cfg.DriverSampleBurst)
		r.limiters[driverID] = limiter
	}
	r.limiterMu.Unlock()
	return limiter.Allow()
}

func newNotificationID() string { return uuid.NewString() }
