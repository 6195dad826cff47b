// Package ws exposes the relay's websocket endpoint and session transport.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/campusgo/fleetrelay/errs"
	"github.com/campusgo/fleetrelay/internal/observability"
	"github.com/campusgo/fleetrelay/internal/registry"
	"github.com/campusgo/fleetrelay/internal/router"
	"github.com/campusgo/fleetrelay/internal/schema"
)

const (
	maxFrameBytes = 256 << 10
	pingInterval  = 30 * time.Second
)

// Identity headers are injected by the authenticating reverse proxy in front
// of the relay; the relay itself never sees credentials.
const (
	headerUserID = "X-User-Id"
	headerRole   = "X-User-Role"
)

// Server upgrades HTTP requests to relay sessions and pumps their frames.
type Server struct {
	registry *registry.ChannelRegistry
	router   *router.Router
}

// NewServer constructs the websocket server over the shared registry and router.
func NewServer(reg *registry.ChannelRegistry, rt *router.Router) *Server {
	return &Server{registry: reg, router: rt}
}

// ServeHTTP implements http.Handler for the websocket endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	role := schema.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerRole))))
	if userID == "" || role.Validate() != nil {
		http.Error(w, "missing or invalid identity", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observability.Log().Debug("websocket accept failed",
			observability.Field{Key: "error", Value: err.Error()})
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// coder/websocket permits one writer at a time; every outbound path
	// funnels through this mutex.
	var writeMu sync.Mutex
	deliver := func(ctx context.Context, frame schema.Frame) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.Write(ctx, websocket.MessageText, data)
	}
	closeTransport := func(reason string) {
		_ = conn.Close(websocket.StatusPolicyViolation, reason)
		cancel()
	}

	sess := s.registry.Connect(userID, role, deliver, closeTransport)
	observability.Log().Info("session connected",
		observability.Field{Key: "session_id", Value: sess.ID()},
		observability.Field{Key: "user_id", Value: userID},
		observability.Field{Key: "role", Value: string(role)})
	defer func() {
		s.registry.Disconnect(sess.ID(), "connection closed")
		observability.Log().Info("session disconnected",
			observability.Field{Key: "session_id", Value: sess.ID()})
	}()

	go s.pingLoop(ctx, conn, cancel)

	s.readLoop(ctx, conn, sess, deliver)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *registry.Session, deliver registry.DeliveryFunc) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				observability.Log().Debug("websocket closed abnormally",
					observability.Field{Key: "session_id", Value: sess.ID()},
					observability.Field{Key: "status", Value: status.String()})
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var frame schema.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reply(ctx, deliver, "", errs.New("ws/read", errs.CodeInvalid,
				errs.WithMessage("malformed frame"), errs.WithCause(err)))
			continue
		}
		s.dispatch(ctx, sess, deliver, frame)
	}
}

// dispatch routes one inbound frame. Failures are reported back to the
// originating session only; they never leak to other subscribers.
func (s *Server) dispatch(ctx context.Context, sess *registry.Session, deliver registry.DeliveryFunc, frame schema.Frame) {
	switch frame.Type {
	case schema.FrameChannelJoin:
		s.reply(ctx, deliver, frame.RequestID, s.handleJoin(sess, frame))
	case schema.FrameChannelLeave:
		s.reply(ctx, deliver, frame.RequestID, s.handleLeave(sess, frame))
	case schema.FrameLocationUpdate:
		var payload schema.LocationUpdatePayload
		if err := frame.DecodePayload(&payload); err != nil {
			s.reply(ctx, deliver, frame.RequestID, errs.New("ws/location", errs.CodeInvalid, errs.WithCause(err)))
			return
		}
		s.reply(ctx, deliver, frame.RequestID, s.router.PublishLocation(ctx, sess, payload))
	case schema.FrameNotificationPublish:
		var payload schema.NotificationPublishPayload
		if err := frame.DecodePayload(&payload); err != nil {
			s.reply(ctx, deliver, frame.RequestID, errs.New("ws/notify", errs.CodeInvalid, errs.WithCause(err)))
			return
		}
		created, err := s.router.PublishNotification(ctx, sess, payload)
		if err != nil {
			s.reply(ctx, deliver, frame.RequestID, err)
			return
		}
		s.ack(ctx, deliver, frame.RequestID, created.ID)
	default:
		s.reply(ctx, deliver, frame.RequestID, errs.New("ws/dispatch", errs.CodeInvalid,
			errs.WithMessage("unknown frame type")))
	}
}

func (s *Server) handleJoin(sess *registry.Session, frame schema.Frame) error {
	ch, err := s.channelFrom(sess, frame)
	if err != nil {
		return err
	}
	return s.router.Join(sess.ID(), ch)
}

func (s *Server) handleLeave(sess *registry.Session, frame schema.Frame) error {
	ch, err := s.channelFrom(sess, frame)
	if err != nil {
		return err
	}
	return s.router.Leave(sess.ID(), ch)
}

// channelFrom parses the channel payload and enforces that user channels are
// private: only the owning user or an admin may subscribe.
func (s *Server) channelFrom(sess *registry.Session, frame schema.Frame) (schema.ChannelID, error) {
	var payload schema.JoinPayload
	if err := frame.DecodePayload(&payload); err != nil {
		return schema.ChannelID{}, errs.New("ws/join", errs.CodeInvalid, errs.WithCause(err))
	}
	ch, err := schema.ParseChannelID(payload.Channel)
	if err != nil {
		return schema.ChannelID{}, err
	}
	if ch.Kind == schema.ChannelUser && ch.ID != sess.UserID() && sess.Role() != schema.RoleAdmin {
		return schema.ChannelID{}, errs.New("ws/join", errs.CodeUnauthorized,
			errs.WithMessage("cannot subscribe to another user's channel"))
	}
	return ch, nil
}

// reply sends an ack for a nil error, otherwise an error frame.
func (s *Server) reply(ctx context.Context, deliver registry.DeliveryFunc, requestID string, err error) {
	if err == nil {
		s.ack(ctx, deliver, requestID, "")
		return
	}
	payload := schema.ErrorPayload{
		Code:    string(errs.CodeOf(err)),
		Message: errorMessage(err),
	}
	frame, encErr := schema.NewFrame(schema.FrameError, requestID, payload)
	if encErr != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = deliver(writeCtx, frame)
}

func (s *Server) ack(ctx context.Context, deliver registry.DeliveryFunc, requestID, id string) {
	frame, err := schema.NewFrame(schema.FrameAck, requestID, schema.AckPayload{ID: id})
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = deliver(writeCtx, frame)
}

// errorMessage extracts the operator-facing message without the scope prefix.
func errorMessage(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "request failed"
}
