package router

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/observability"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/schema"
)

// fanOut delivers the frame to every current member of the channel except the
// excluded session. Deliveries run concurrently with per-subscriber isolation:
// a failed or slow push disconnects that one subscriber and never surfaces to
// the publisher or stalls the others. Failures are aggregated for operators.
func (r *Router) fanOut(ctx context.Context, ch schema.ChannelID, frame schema.Frame, excludeSessionID string) {
	members := r.registry.MembersOf(ch)
	if r.fanoutSize != nil {
		r.fanoutSize.Record(ctx, int64(len(members)), metric.WithAttributes(
			attribute.String("channel_kind", string(ch.Kind))))
	}
	if len(members) == 0 {
		return
	}

	workers := r.cfg.FanoutWorkers
	if workers > len(members) {
		workers = len(members)
	}

	var mu sync.Mutex
	var failures []error

	p := pool.New().WithMaxGoroutines(workers)
	for _, member := range members {
		if member.ID() == excludeSessionID {
			continue
		}
		sub := member
		p.Go(func() {
			if err := r.deliverOne(ctx, ch, sub, frame); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if len(failures) > 0 {
		// Logged and dropped: delivery failures never reach the publisher.
		_ = observability.AggregateErrors("fan-out", failures,
			observability.Field{Key: "channel", Value: ch.String()})
	}
}

func (r *Router) deliverOne(ctx context.Context, ch schema.ChannelID, sub *registry.Session, frame schema.Frame) error {
	writeCtx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	err := sub.Deliver(writeCtx, frame)
	if err == nil {
		return nil
	}
	if r.deliveryErrors != nil {
		r.deliveryErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel_kind", string(ch.Kind))))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		// One slow client must never stall delivery to others.
		if r.slowDisconnects != nil {
			r.slowDisconnects.Add(ctx, 1)
		}
		r.registry.Disconnect(sub.ID(), "write timeout")
	}
	return errs.New("router/deliver", errs.CodeDelivery,
		errs.WithMessage("push to session "+sub.ID()), errs.WithCause(err))
}
