package router

import (
	"context"
	"time"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/observability"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/schema"
)

// PublishLocation handles one inbound location.update from a driver session.
// A nil error means the sample was accepted; stale and throttled samples are
// acknowledged without a broadcast so the driver never sees them as failures.
func (r *Router) PublishLocation(ctx context.Context, sess *registry.Session, payload schema.LocationUpdatePayload) error {
	start := r.clock()
	result := "fresh"
	defer func() { r.observePublish(ctx, "location", result, start) }()

	if sess.Role() != schema.RoleDriver {
		result = "unauthorized"
		return errs.New("router/location", errs.CodeUnauthorized, errs.WithMessage("only drivers publish locations"))
	}

	sample := schema.LocationSample{
		BusID:     payload.BusID,
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		Address:   payload.Address,
	}
	if payload.Timestamp > 0 {
		sample.Timestamp = time.UnixMilli(payload.Timestamp).UTC()
	} else {
		sample.Timestamp = r.clock().UTC()
	}
	if err := sample.Validate(); err != nil {
		if r.locationRejected != nil {
			r.locationRejected.Add(ctx, 1)
		}
		result = "invalid"
		return err
	}

	// Ownership check delegated to the data service: the session must drive
	// the bus it reports for.
	assigned, err := r.directory.BusForDriver(ctx, sess.UserID())
	if err != nil {
		result = "lookup_failed"
		return errs.New("router/location", errs.CodeUnavailable,
			errs.WithMessage("driver assignment lookup failed"), errs.WithCause(err))
	}
	if assigned == "" || assigned != sample.BusID {
		result = "unauthorized"
		return errs.New("router/location", errs.CodeUnauthorized, errs.WithMessage("bus not assigned to driver"))
	}

	if !r.allowSample(sess.UserID()) {
		if r.locationThrottled != nil {
			r.locationThrottled.Add(ctx, 1)
		}
		result = "throttled"
		return nil
	}

	// The per-bus lock spans the freshness decision and the fan-out, so
	// broadcasts leave the router in the order samples were accepted as fresh.
	busLock := r.busLock(sample.BusID)
	busLock.Lock()
	defer busLock.Unlock()

	res := r.locations.RecordAndCompare(sample)
	if !res.Accepted {
		if r.locationRejected != nil {
			r.locationRejected.Add(ctx, 1)
		}
		result = "invalid"
		return errs.New("router/location", errs.CodeInvalid, errs.WithMessage("sample rejected"))
	}
	if !res.Fresh {
		if r.locationStale != nil {
			r.locationStale.Add(ctx, 1)
		}
		observability.Log().Debug("stale location sample suppressed",
			observability.Field{Key: "bus_id", Value: sample.BusID},
			observability.Field{Key: "timestamp", Value: sample.Timestamp})
		result = "stale"
		return nil
	}
	if r.locationFresh != nil {
		r.locationFresh.Add(ctx, 1)
	}

	event := schema.LocationChangedEvent{
		BusID:     sample.BusID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Timestamp: sample.Timestamp,
	}
	frame, err := schema.NewFrame(schema.FrameLocationChanged, "", event)
	if err != nil {
		result = "encode_failed"
		return errs.New("router/location", errs.CodeInvalid, errs.WithCause(err))
	}

	// The sender already knows its own position; skip it.
	r.fanOut(ctx, schema.BusChannel(sample.BusID), frame, sess.ID())
	return nil
}
