package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/kimhsiao/habitnexus/backend/internal/errors"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
)

// EventsPath is the server WebSocket endpoint.
const EventsPath = "/api/events"

// Listener keeps a WebSocket open to the server and hands every event to a
// callback, reconnecting with exponential backoff.
type Listener struct {
	url      string
	token    string
	events   []string
	dialer   *websocket.Dialer
	onEvent  func(Envelope)
	onStatus func(connected bool)
	minRetry time.Duration
	maxRetry time.Duration
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithEvents subscribes to the given event types only.
func WithEvents(events ...string) ListenerOption {
	return func(l *Listener) { l.events = events }
}

// WithStatusHandler reports connection state changes.
func WithStatusHandler(fn func(connected bool)) ListenerOption {
	return func(l *Listener) { l.onStatus = fn }
}

// WithRetry sets the reconnect backoff bounds.
func WithRetry(initial, ceiling time.Duration) ListenerOption {
	return func(l *Listener) {
		l.minRetry = initial
		l.maxRetry = ceiling
	}
}

// NewListener creates a listener for the server at baseURL (http or https).
func NewListener(baseURL, token string, onEvent func(Envelope), opts ...ListenerOption) (*Listener, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + EventsPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid server url", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unsupported url scheme %q", u.Scheme)
	}

	l := &Listener{
		url:      u.String(),
		token:    token,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onEvent:  onEvent,
		minRetry: time.Second,
		maxRetry: time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run connects and dispatches events until ctx is cancelled. A rejected
// handshake (401/403) stops the listener with an AUTH_FAILED error.
func (l *Listener) Run(ctx context.Context) error {
	retry := l.minRetry
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if apperrors.Is(err, apperrors.ErrAuthFailed) {
			return err
		}
		if err == nil {
			retry = l.minRetry
		}
		logging.Warn("Realtime connection lost, reconnecting",
			map[string]interface{}{"error": errString(err), "retry_ms": retry.Milliseconds()})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
		retry *= 2
		if retry > l.maxRetry {
			retry = l.maxRetry
		}
	}
}

// session runs one connection until it drops. It returns nil when a
// connection was established and later closed.
func (l *Listener) session(ctx context.Context) error {
	header := http.Header{}
	if l.token != "" {
		header.Set("Authorization", "Bearer "+l.token)
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return apperrors.Newf(apperrors.ErrAuthFailed, "realtime handshake rejected: status %d", resp.StatusCode)
		}
		return apperrors.Wrap(apperrors.ErrNetwork, "dial realtime feed", err)
	}
	defer conn.Close()

	l.setStatus(true)
	defer l.setStatus(false)

	if len(l.events) > 0 {
		if err := conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": l.events}); err != nil {
			return apperrors.Wrap(apperrors.ErrNetwork, "subscribe", err)
		}
	}

	// Unblock ReadJSON when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil
		}
		if env.Type == "" {
			// Control reply (ack, pong)
			continue
		}
		if l.onEvent != nil {
			l.onEvent(env)
		}
	}
}

func (l *Listener) setStatus(connected bool) {
	if l.onStatus != nil {
		l.onStatus(connected)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
