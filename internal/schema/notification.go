package schema

import (
	"strings"
	"time"

	"github.com/campusgo/fleetrelay/errs"
)

// Category classifies a notification for filtering and display.
type Category string

const (
	// CategoryGeneral is an administrative broadcast.
	CategoryGeneral Category = "GENERAL"
	// CategoryRouteUpdate announces a route change.
	CategoryRouteUpdate Category = "ROUTE_UPDATE"
	// CategoryArrival announces an imminent bus arrival.
	CategoryArrival Category = "ARRIVAL"
	// CategoryDelay announces a route delay.
	CategoryDelay Category = "DELAY"
	// CategoryEmergency is a driver-raised emergency.
	CategoryEmergency Category = "EMERGENCY"
	// CategoryEmergencyMedical is a medical emergency on board.
	CategoryEmergencyMedical Category = "EMERGENCY_MEDICAL"
	// CategoryEmergencyBreakdown is a vehicle breakdown.
	CategoryEmergencyBreakdown Category = "EMERGENCY_BREAKDOWN"
)

// Validate ensures the category is one of the recognised values.
func (c Category) Validate() error {
	switch c {
	case CategoryGeneral, CategoryRouteUpdate, CategoryArrival, CategoryDelay,
		CategoryEmergency, CategoryEmergencyMedical, CategoryEmergencyBreakdown:
		return nil
	default:
		return errs.New("schema/category", errs.CodeInvalid, errs.WithMessage("unknown category"))
	}
}

// IsEmergency reports whether the category belongs to the emergency family.
func (c Category) IsEmergency() bool {
	return strings.HasPrefix(string(c), string(CategoryEmergency))
}

// NotificationRecord is the immutable persisted form of a notification.
// Read and delete markers are owned by the external data service.
type NotificationRecord struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"senderId"`
	RecipientIDs []string  `json:"recipientIds"`
	Category     Category  `json:"category"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	IsUrgent     bool      `json:"isUrgent"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate checks the record before it crosses the durability boundary.
func (r NotificationRecord) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errs.New("schema/notification", errs.CodeInvalid, errs.WithMessage("title required"))
	}
	if err := r.Category.Validate(); err != nil {
		return err
	}
	if err := ValidateEntityID(r.SenderID); err != nil {
		return errs.New("schema/notification", errs.CodeInvalid, errs.WithMessage("sender id invalid"), errs.WithCause(err))
	}
	return nil
}

// DedupRecipients returns the recipient list with duplicates and blanks removed,
// preserving first-seen order.
func DedupRecipients(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
