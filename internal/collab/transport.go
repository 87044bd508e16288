// Package collab implements the client side of the real-time dashboard
// collaboration protocol: a managed websocket connection, room membership
// with presence heartbeats, change broadcasting, peer presence/editing
// trackers, conflict resolution, and a sync façade tying them together.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"finboard-backend/internal/models"
)

// State is the connection lifecycle state of a Transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

const (
	reconnectBaseDelay   = 1000 * time.Millisecond
	reconnectMaxDelay    = 5000 * time.Millisecond
	maxReconnectAttempts = 5
)

// ErrReconnectFailed is surfaced to state subscribers once every reconnect
// attempt has been exhausted. The connection stays failed until a manual
// Connect.
var ErrReconnectFailed = errors.New("collab: reconnect attempts exhausted")

// MessageHandler receives the payload of one inbound message type.
type MessageHandler func(data json.RawMessage)

// StateHandler observes connection state transitions. err is non-nil only
// for transitions caused by a transport error (terminal failure included).
type StateHandler func(state State, err error)

// Transport owns the single duplex channel to the collaboration server.
// Inbound messages are dispatched from one goroutine; handlers run to
// completion before the next message is processed. Connection errors are
// reported to state subscribers, never thrown into callers mid-flight.
type Transport struct {
	url       string
	testMode  bool
	dialer    *websocket.Dialer
	baseDelay time.Duration
	maxDelay  time.Duration

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	closed     bool          // intentional disconnect in progress
	connecting chan struct{} // non-nil while a dial is in flight
	connectErr error
	stopCh     chan struct{} // closed to cancel the reconnect loop

	handlers      map[string]map[int]MessageHandler
	stateHandlers map[int]StateHandler
	nextHandlerID int

	writeMu sync.Mutex
}

// NewTransport builds a transport for the given websocket endpoint. An empty
// url falls back to the well-known local address. With testMode set the
// transport is inert: Connect is a no-op and nothing is ever sent.
func NewTransport(url string, testMode bool) *Transport {
	if url == "" {
		url = "ws://localhost:8080/api/v1/ws"
	}
	return &Transport{
		url:           url,
		testMode:      testMode,
		dialer:        websocket.DefaultDialer,
		baseDelay:     reconnectBaseDelay,
		maxDelay:      reconnectMaxDelay,
		state:         StateDisconnected,
		handlers:      make(map[string]map[int]MessageHandler),
		stateHandlers: make(map[int]StateHandler),
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connected reports whether the channel is usable right now.
func (t *Transport) Connected() bool {
	return t.State() == StateConnected
}

// Connect opens the channel. It is idempotent: a call while already
// connected returns nil immediately, and concurrent callers while a dial is
// in flight share that attempt's outcome instead of opening a second
// channel.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.testMode {
		t.mu.Unlock()
		return nil
	}
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	if t.connecting != nil {
		ch := t.connecting
		t.mu.Unlock()
		<-ch
		t.mu.Lock()
		err := t.connectErr
		t.mu.Unlock()
		return err
	}

	ch := make(chan struct{})
	t.connecting = ch
	t.closed = false
	// A manual connect supersedes any auto-reconnect in flight; cancel its
	// loop so it cannot dial a second connection after we succeed.
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	notify := t.setStateLocked(StateConnecting, nil)
	t.mu.Unlock()
	notify()

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)

	t.mu.Lock()
	t.connectErr = err
	t.connecting = nil
	close(ch)
	if err != nil {
		notify = t.setStateLocked(StateDisconnected, fmt.Errorf("collab: connect to %s: %w", t.url, err))
		t.mu.Unlock()
		notify()
		return err
	}
	if t.closed {
		// Disconnect raced the dial; drop the fresh connection.
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	t.conn = conn
	t.stopCh = make(chan struct{})
	notify = t.setStateLocked(StateConnected, nil)
	t.mu.Unlock()
	notify()

	go t.readLoop(conn)
	return nil
}

// Disconnect closes the channel intentionally; no reconnect is attempted.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	conn := t.conn
	t.conn = nil
	notify := func() {}
	if t.state != StateDisconnected {
		notify = t.setStateLocked(StateDisconnected, nil)
	}
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	notify()
}

// Send marshals payload under the given message type and writes it to the
// channel. It fails if the transport is not connected; layers above decide
// whether that is a warning or an error.
func (t *Transport) Send(msgType string, payload interface{}) error {
	if t.testMode {
		return nil
	}

	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("collab: send %s while %s", msgType, t.State())
	}

	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		return fmt.Errorf("collab: encode %s: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("collab: encode %s: %w", msgType, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe registers a handler for one inbound message type and returns a
// func that unregisters it. Unsubscribing is how consumers avoid leaking
// handlers across room switches.
func (t *Transport) Subscribe(msgType string, h MessageHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextHandlerID
	t.nextHandlerID++
	if t.handlers[msgType] == nil {
		t.handlers[msgType] = make(map[int]MessageHandler)
	}
	t.handlers[msgType][id] = h

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[msgType], id)
	}
}

// OnStateChange registers a state transition observer and returns a func
// that unregisters it.
func (t *Transport) OnStateChange(h StateHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextHandlerID
	t.nextHandlerID++
	t.stateHandlers[id] = h

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.stateHandlers, id)
	}
}

// setStateLocked records the new state and returns a closure that notifies
// the observers snapshotted at transition time. Callers hold t.mu and must
// invoke the closure after unlocking, so observers may re-enter the
// transport freely.
func (t *Transport) setStateLocked(state State, err error) func() {
	t.state = state
	observers := make([]StateHandler, 0, len(t.stateHandlers))
	for _, h := range t.stateHandlers {
		observers = append(observers, h)
	}
	return func() {
		for _, h := range observers {
			h(state, err)
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDrop(conn, err)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("collab: dropping malformed frame: %v", err)
			continue
		}
		t.dispatch(&env)
	}
}

// dispatch runs every handler registered for the message type, one after
// another. Called only from the read loop, so event delivery is single
// threaded.
func (t *Transport) dispatch(env *models.Envelope) {
	t.mu.Lock()
	hs := make([]MessageHandler, 0, len(t.handlers[env.Type]))
	for _, h := range t.handlers[env.Type] {
		hs = append(hs, h)
	}
	t.mu.Unlock()

	for _, h := range hs {
		h(env.Data)
	}
}

func (t *Transport) handleDrop(conn *websocket.Conn, cause error) {
	conn.Close()

	t.mu.Lock()
	if t.conn != conn {
		// A newer connection already replaced this one.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.closed {
		t.mu.Unlock()
		return
	}
	stop := t.stopCh
	notify := t.setStateLocked(StateReconnecting, fmt.Errorf("collab: connection dropped: %w", cause))
	t.mu.Unlock()
	notify()

	log.Printf("collab: connection dropped, reconnecting: %v", cause)
	go t.reconnectLoop(stop)
}

// reconnectLoop retries the dial with capped exponential backoff. After
// maxReconnectAttempts failures the transport goes to StateFailed and stays
// there until a manual Connect.
func (t *Transport) reconnectLoop(stop chan struct{}) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-time.After(t.backoffDelay(attempt)):
		case <-stop:
			return
		}

		conn, _, err := t.dialer.Dial(t.url, nil)
		if err != nil {
			log.Printf("collab: reconnect attempt %d/%d failed: %v", attempt, maxReconnectAttempts, err)
			continue
		}

		t.mu.Lock()
		if t.closed || t.stopCh != stop {
			// Disconnect or a manual Connect superseded this loop while the
			// dial was in flight; it owns the channel now.
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.conn = conn
		notify := t.setStateLocked(StateConnected, nil)
		t.mu.Unlock()
		notify()

		log.Printf("collab: reconnected after %d attempt(s)", attempt)
		go t.readLoop(conn)
		return
	}

	t.mu.Lock()
	if t.closed || t.stopCh != stop {
		t.mu.Unlock()
		return
	}
	notify := t.setStateLocked(StateFailed, ErrReconnectFailed)
	t.mu.Unlock()
	notify()
	log.Printf("collab: giving up after %d reconnect attempts", maxReconnectAttempts)
}

// backoffDelay doubles the base delay per attempt, capped at the max:
// 1s, 2s, 4s, 5s, 5s with the default settings.
func (t *Transport) backoffDelay(attempt int) time.Duration {
	d := t.baseDelay << (attempt - 1)
	if d > t.maxDelay || d <= 0 {
		return t.maxDelay
	}
	return d
}
