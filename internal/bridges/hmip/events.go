package hmip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Push event types handled by the bridge.
const (
	EventDeviceChanged = "DEVICE_CHANGED"
	EventDeviceAdded   = "DEVICE_ADDED"
	EventGroupChanged  = "GROUP_CHANGED"
)

const (
	defaultReconnectDelay = 5 * time.Second
	handshakeTimeout      = 15 * time.Second
)

// Event is one entry of a push message.
type Event struct {
	Type   string
	Device *Device
	Group  *Group
}

// EventHandler consumes decoded push events. *Platform satisfies it.
type EventHandler interface {
	OnDeviceChanged(ctx context.Context, device *Device)
	OnGroupChanged(group Group)
	Refresh(ctx context.Context) error
}

// EventStream keeps a WebSocket subscription to the cloud push channel and
// feeds device and group changes to a handler.
type EventStream struct {
	url            string
	header         http.Header
	handler        EventHandler
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         Logger

	connected atomic.Bool
}

// NewEventStream creates a stream for url authenticated with header
// (see Client.AuthHeaders).
func NewEventStream(url string, header http.Header, handler EventHandler) *EventStream {
	return &EventStream{
		url:            url,
		header:         header,
		handler:        handler,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		reconnectDelay: defaultReconnectDelay,
	}
}

// SetReconnectDelay sets the fixed wait between connection attempts.
func (s *EventStream) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		s.reconnectDelay = d
	}
}

// SetLogger sets the logger.
func (s *EventStream) SetLogger(l Logger) {
	s.logger = l
}

// Connected reports whether a session is currently open.
func (s *EventStream) Connected() bool {
	return s.connected.Load()
}

// Run connects and dispatches events until ctx is cancelled, reconnecting
// after every failure. Each session refreshes the handler once the
// handshake succeeds, so events published while no session was open are
// never lost. This includes the gap before the first connect.
func (s *EventStream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logWarn("event stream disconnected", "error", err, "retry_in", s.reconnectDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *EventStream) session(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Handshake body is unused
	}
	if err != nil {
		return fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Closed on every exit path

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logInfo("event stream connected")

	// Events already queued on the socket are read after the refresh and
	// win over it.
	if err := s.handler.Refresh(ctx); err != nil {
		s.logError("failed to refresh state on connect", "error", err)
	}

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() //nolint:errcheck // Forces ReadMessage to return
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading event stream: %w", err)
		}

		events, err := ParseEvents(data)
		if err != nil {
			s.logWarn("dropping push message", "error", err)
			continue
		}
		s.dispatch(ctx, events)
	}
}

func (s *EventStream) dispatch(ctx context.Context, events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventDeviceChanged, EventDeviceAdded:
			if ev.Device != nil {
				s.handler.OnDeviceChanged(ctx, ev.Device)
			}
		case EventGroupChanged:
			if ev.Group != nil {
				s.handler.OnGroupChanged(*ev.Group)
			}
		default:
			s.logDebug("ignoring push event", "type", ev.Type)
		}
	}
}

type pushMessage struct {
	Events map[string]struct {
		PushEventType string  `json:"pushEventType"`
		Device        *Device `json:"device"`
		Group         *Group  `json:"group"`
	} `json:"events"`
}

// ParseEvents decodes a push message into events ordered by their key.
func ParseEvents(data []byte) ([]Event, error) {
	var msg pushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	keys := make([]string, 0, len(msg.Events))
	for k := range msg.Events {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	events := make([]Event, 0, len(keys))
	for _, k := range keys {
		e := msg.Events[k]
		events = append(events, Event{Type: e.PushEventType, Device: e.Device, Group: e.Group})
	}
	return events, nil
}

func (s *EventStream) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *EventStream) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *EventStream) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *EventStream) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
