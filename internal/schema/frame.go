package schema

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// FrameType enumerates the messages exchanged over a live connection.
type FrameType string

const (
	// FrameChannelJoin subscribes the session to a channel.
	FrameChannelJoin FrameType = "channel.join"
	// FrameChannelLeave unsubscribes the session from a channel.
	FrameChannelLeave FrameType = "channel.leave"
	// FrameLocationUpdate carries a driver's GPS sample inbound.
	FrameLocationUpdate FrameType = "location.update"
	// FrameNotificationPublish requests a notification publish inbound.
	FrameNotificationPublish FrameType = "notification.publish"

	// FrameLocationChanged is the outbound fresh-location event.
	FrameLocationChanged FrameType = "location.changed"
	// FrameNotificationReceived is the outbound per-recipient notification event.
	FrameNotificationReceived FrameType = "notification.received"
	// FrameAck acknowledges an inbound request.
	FrameAck FrameType = "ack"
	// FrameError rejects an inbound request.
	FrameError FrameType = "error"
)

// Frame is the envelope for every websocket message in either direction.
type Frame struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the payload into the provided destination.
func (f Frame) DecodePayload(dest any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame payload empty")
	}
	if dest == nil {
		return fmt.Errorf("frame payload destination nil")
	}
	if err := json.Unmarshal(f.Payload, dest); err != nil {
		return fmt.Errorf("frame payload decode: %w", err)
	}
	return nil
}

// NewFrame builds an envelope with the payload marshalled in place.
func NewFrame(typ FrameType, requestID string, payload any) (Frame, error) {
	frame := Frame{Type: typ, RequestID: requestID}
	if payload == nil {
		return frame, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("frame payload encode: %w", err)
	}
	frame.Payload = raw
	return frame, nil
}

// JoinPayload subscribes or unsubscribes a channel in wire form ("bus:42", "user:u1").
type JoinPayload struct {
	Channel string `json:"channel"`
}

// LocationUpdatePayload is the inbound location.update body. A zero timestamp
// defaults to receipt time on the server.
type LocationUpdatePayload struct {
	BusID     string  `json:"busId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// NotificationPublishPayload is the inbound notification.publish body.
type NotificationPublishPayload struct {
	Title        string   `json:"title"`
	Message      string   `json:"message"`
	Category     Category `json:"category"`
	RecipientIDs []string `json:"recipientIds,omitempty"`
	IsUrgent     bool     `json:"isUrgent,omitempty"`
	BusID        string   `json:"busId,omitempty"`
}

// LocationChangedEvent is the outbound fresh-location broadcast body.
type LocationChangedEvent struct {
	BusID     string    `json:"busId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationReceivedEvent is the outbound per-recipient notification body.
type NotificationReceivedEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
	IsUrgent  bool      `json:"isUrgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// AckPayload confirms an accepted request; ID carries the created record id when relevant.
type AckPayload struct {
	ID string `json:"id,omitempty"`
}

// ErrorPayload reports a rejected request back to its originating session only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
