package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/wonpark/navlink/geo"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Route paths fit comfortably.
	maxMessageSize = 64 * 1024

	defaultBackoffMin       = 500 * time.Millisecond
	defaultBackoffMax       = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// State is the connection lifecycle state, owned exclusively by the Manager.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// ErrorKind discriminates channel errors.
type ErrorKind string

const (
	// ErrorTransport covers dial failures, dropped connections, and
	// timeouts. The manager recovers from these itself by reconnecting.
	ErrorTransport ErrorKind = "transport"

	// ErrorDecode covers malformed frames. The offending frame is dropped
	// and the connection stays open.
	ErrorDecode ErrorKind = "decode"
)

// ChannelError is the discriminated error surfaced through OnError.
type ChannelError struct {
	Kind ErrorKind
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s error: %v", e.Kind, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ErrNotConnected is returned by Send when the channel is not open. There is
// no outbound queueing; callers retry once the state is open again.
var ErrNotConnected = errors.New("channel: not connected")

// MessageHandler receives one decoded envelope.
type MessageHandler func(Envelope)

// ErrorHandler receives transport and decode errors.
type ErrorHandler func(*ChannelError)

// StateHandler observes connection state transitions.
type StateHandler func(State)

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff replaces the reconnect schedule. The manager owns the given
// backoff; do not share it across managers.
func WithBackoff(b *backoff.Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialer.HandshakeTimeout = d }
}

// Manager owns one persistent connection to the guidance server: it dials,
// reads, decodes, dispatches to registered handlers, and reconnects with
// exponential backoff until Close is called.
//
// All decoding and handler invocation happens on a single goroutine, so
// handlers observe frames exactly once, in receipt order, and never
// concurrently with each other.
type Manager struct {
	url    string
	dialer *websocket.Dialer

	backoff *backoff.Backoff

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes data frames; gorilla/websocket supports one
	// concurrent writer (control frames are exempt).
	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	started       bool
	handlers      []MessageHandler
	kindHandlers  map[string][]MessageHandler
	errHandlers   []ErrorHandler
	stateHandlers []StateHandler

	closeOnce sync.Once
	stopped   chan struct{}
}

// NewManager creates a manager for the given WebSocket URL. The connection
// is not established until Connect is called.
func NewManager(url string, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		backoff: &backoff.Backoff{
			Min:    defaultBackoffMin,
			Max:    defaultBackoffMax,
			Factor: 2,
			Jitter: true,
		},
		ctx:          ctx,
		cancel:       cancel,
		state:        StateClosed,
		kindHandlers: make(map[string][]MessageHandler),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnMessage registers a handler invoked once per decoded frame, every kind,
// in receipt order. Handlers registered here run before kind handlers.
func (m *Manager) OnMessage(h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// OnKind registers a handler invoked only for frames of the given kind.
func (m *Manager) OnKind(kind string, h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kindHandlers[kind] = append(m.kindHandlers[kind], h)
}

// OnError registers a handler for transport and decode errors. Errors are
// never delivered as messages.
func (m *Manager) OnError(h ErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errHandlers = append(m.errHandlers, h)
}

// OnStateChange registers an observer of connection state transitions. It
// may be invoked from the goroutine that calls Close.
func (m *Manager) OnStateChange(h StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateHandlers = append(m.stateHandlers, h)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed once the run loop has fully stopped after Close.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

// Connect starts the connection loop. It returns immediately; observe
// OnStateChange or State for progress. Calling Connect while the manager is
// already connecting or open is a no-op, as is calling it after Close.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	select {
	case <-m.ctx.Done():
		return
	default:
	}
	m.started = true
	go m.run()
}

// Close releases the channel: the underlying connection is closed and no
// further handlers fire after this call returns. It is idempotent and safe
// to call from within a handler. Use Done to wait for the run loop to
// finish.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()

		m.mu.Lock()
		conn := m.conn
		m.conn = nil
		started := m.started
		changed := m.state != StateClosed
		m.state = StateClosed
		observers := append([]StateHandler(nil), m.stateHandlers...)
		m.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(writeWait)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
		}
		if changed {
			for _, h := range observers {
				h(StateClosed)
			}
		}
		if !started {
			close(m.stopped)
		}
	})
	return nil
}

// Send marshals payload into an envelope of the given kind and writes it as
// one text frame. It fails with ErrNotConnected when the channel is not
// open.
func (m *Manager) Send(kind string, payload any) error {
	env, err := NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", kind, err)
	}

	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if conn == nil || !open {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ChannelError{Kind: ErrorTransport, Err: err}
	}
	return nil
}

// SendLocation reports the vehicle position.
func (m *Manager) SendLocation(c geo.Coordinate) error {
	return m.Send(KindLocation, LocationPayload{Latitude: c.Lat, Longitude: c.Lon})
}

// SendDestinationAddress requests navigation to a free-form address.
func (m *Manager) SendDestinationAddress(address string) error {
	return m.Send(KindDestination, DestinationPayload{Address: address})
}

// SendDestinationCoords requests navigation to exact coordinates.
func (m *Manager) SendDestinationCoords(c geo.Coordinate) error {
	return m.Send(KindDestination, DestinationPayload{Latitude: &c.Lat, Longitude: &c.Lon})
}

// SendCommand sends a control instruction such as CommandStopNavigation.
func (m *Manager) SendCommand(name string) error {
	return m.Send(KindCommand, CommandPayload{Name: name})
}

// run is the single goroutine that owns dialing, reading, decoding, and
// dispatching. It exits only when Close is called.
func (m *Manager) run() {
	defer close(m.stopped)

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.setState(StateConnecting)
		conn, resp, err := m.dialer.DialContext(m.ctx, m.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			m.setState(StateFailed)
			m.reportError(&ChannelError{Kind: ErrorTransport, Err: err})
			d := m.backoff.Duration()
			log.Printf("channel: dial %s failed: %v (retry in %s)", m.url, err, d)
			if !m.sleep(d) {
				return
			}
			continue
		}

		m.mu.Lock()
		select {
		case <-m.ctx.Done():
			m.mu.Unlock()
			conn.Close()
			return
		default:
		}
		m.conn = conn
		m.mu.Unlock()

		m.backoff.Reset()
		m.setState(StateOpen)
		log.Printf("channel: connected to %s", m.url)

		err = m.readLoop(conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()

		select {
		case <-m.ctx.Done():
			return
		default:
		}

		// The peer went away without us calling Close.
		m.setState(StateClosed)
		if err != nil {
			m.reportError(&ChannelError{Kind: ErrorTransport, Err: err})
		}
		d := m.backoff.Duration()
		log.Printf("channel: connection lost: %v (reconnect in %s)", err, d)
		if !m.sleep(d) {
			return
		}
	}
}

// readLoop reads and dispatches frames until the connection drops or Close
// is called. Pings keep the read deadline alive.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go m.pingLoop(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case <-m.ctx.Done():
			return nil
		default:
		}
		env, err := ParseEnvelope(data)
		if err != nil {
			m.reportError(&ChannelError{Kind: ErrorDecode, Err: err})
			continue
		}
		m.dispatch(env)
		select {
		case <-m.ctx.Done():
			return nil
		default:
		}
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// dispatch invokes catch-all handlers then kind handlers, in registration
// order, rechecking for Close before each so that a handler calling Close
// halts delivery immediately.
func (m *Manager) dispatch(env Envelope) {
	m.mu.Lock()
	all := append([]MessageHandler(nil), m.handlers...)
	kind := append([]MessageHandler(nil), m.kindHandlers[env.Kind]...)
	m.mu.Unlock()

	for _, h := range all {
		select {
		case <-m.ctx.Done():
			return
		default:
		}
		h(env)
	}
	for _, h := range kind {
		select {
		case <-m.ctx.Done():
			return
		default:
		}
		h(env)
	}
}

func (m *Manager) reportError(cerr *ChannelError) {
	select {
	case <-m.ctx.Done():
		return
	default:
	}
	m.mu.Lock()
	observers := append([]ErrorHandler(nil), m.errHandlers...)
	m.mu.Unlock()
	for _, h := range observers {
		h(cerr)
	}
}

// setState records a transition and notifies observers. After Close only
// the final Closed state is allowed through.
func (m *Manager) setState(s State) {
	select {
	case <-m.ctx.Done():
		if s != StateClosed {
			return
		}
	default:
	}
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	observers := append([]StateHandler(nil), m.stateHandlers...)
	m.mu.Unlock()
	for _, h := range observers {
		h(s)
	}
}

// sleep waits for d or until Close, reporting whether the manager should
// keep running.
func (m *Manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
