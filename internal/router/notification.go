package router

import (
	"context"
	"strings"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/schema"
)

// PublishNotification handles one inbound notification.publish. The record is
// persisted before any delivery; a persistence failure aborts the publish with
// no partial fan-out. Returns the created record on success.
func (r *Router) PublishNotification(ctx context.Context, sess *registry.Session, payload schema.NotificationPublishPayload) (schema.NotificationRecord, error) {
	start := r.clock()
	result := "published"
	defer func() { r.observePublish(ctx, "notification", result, start) }()

	if sess.Role() != schema.RoleAdmin && sess.Role() != schema.RoleDriver {
		result = "unauthorized"
		return schema.NotificationRecord{}, errs.New("router/notify", errs.CodeUnauthorized,
			errs.WithMessage("only admins and drivers publish notifications"))
	}

	title := strings.TrimSpace(payload.Title)
	category := schema.Category(strings.TrimSpace(string(payload.Category)))
	if title == "" || category == "" {
		result = "invalid"
		return schema.NotificationRecord{}, errs.New("router/notify", errs.CodeInvalid,
			errs.WithMessage("title and category required"))
	}
	if err := category.Validate(); err != nil {
		result = "invalid"
		return schema.NotificationRecord{}, err
	}

	recipients, err := r.resolveRecipients(ctx, sess, category, payload)
	if err != nil {
		result = "resolve_failed"
		return schema.NotificationRecord{}, err
	}

	record := schema.NotificationRecord{
		ID:           newNotificationID(),
		SenderID:     sess.UserID(),
		RecipientIDs: recipients,
		Category:     category,
		Title:        title,
		Message:      payload.Message,
		IsUrgent:     payload.IsUrgent || category.IsEmergency(),
		CreatedAt:    r.clock().UTC(),
	}
	if err := record.Validate(); err != nil {
		result = "invalid"
		return schema.NotificationRecord{}, err
	}

	// Durability boundary: never broadcast an event that was not recorded.
	created, err := r.notifications.Create(ctx, record)
	if err != nil {
		if r.notifyPersistError != nil {
			r.notifyPersistError.Add(ctx, 1)
		}
		result = "persist_failed"
		return schema.NotificationRecord{}, errs.New("router/notify", errs.CodePersistence,
			errs.WithMessage("create notification"), errs.WithCause(err))
	}
	if r.notifyPublished != nil {
		r.notifyPublished.Add(ctx, 1)
	}

	event := schema.NotificationReceivedEvent{
		ID:        created.ID,
		Title:     created.Title,
		Message:   created.Message,
		Category:  created.Category,
		IsUrgent:  created.IsUrgent,
		CreatedAt: created.CreatedAt,
	}
	frame, err := schema.NewFrame(schema.FrameNotificationReceived, "", event)
	if err != nil {
		result = "encode_failed"
		return created, nil
	}

	// Delivery is fire-and-forget per recipient; a recipient with no live
	// session simply reads the record later from the data service.
	for _, recipient := range created.RecipientIDs {
		r.fanOut(ctx, schema.UserChannel(recipient), frame, "")
	}
	return created, nil
}

// resolveRecipients determines the audience when the publisher did not name
// one explicitly. Driver emergencies scope to the bus's passenger list; an
// empty recipient list otherwise broadcasts to every student.
func (r *Router) resolveRecipients(ctx context.Context, sess *registry.Session, category schema.Category, payload schema.NotificationPublishPayload) ([]string, error) {
	if explicit := schema.DedupRecipients(payload.RecipientIDs); len(explicit) > 0 {
		return explicit, nil
	}

	if sess.Role() == schema.RoleDriver && category.IsEmergency() && strings.TrimSpace(payload.BusID) != "" {
		students, err := r.directory.StudentsOfBus(ctx, strings.TrimSpace(payload.BusID))
		if err != nil {
			return nil, errs.New("router/notify", errs.CodeUnavailable,
				errs.WithMessage("passenger list lookup failed"), errs.WithCause(err))
		}
		return students, nil
	}

	users, err := r.directory.UsersWithRole(ctx, schema.RoleStudent)
	if err != nil {
		return nil, errs.New("router/notify", errs.CodeUnavailable,
			errs.WithMessage("role audience lookup failed"), errs.WithCause(err))
	}
	return users, nil
}
