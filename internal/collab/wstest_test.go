package collab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"finboard-backend/internal/models"
)

// wsTestServer is a stand-in collaboration server: it records every frame
// clients send, can push frames back, and can be told to reject or drop
// connections to exercise the reconnect paths.
type wsTestServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	frames   chan models.Envelope
	requests int32
	upgrades int32
	reject   int32
}

func newWSTestServer(t *testing.T) *wsTestServer {
	ts := &wsTestServer{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		frames:   make(chan models.Envelope, 256),
	}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.requests, 1)
		if atomic.LoadInt32(&ts.reject) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ts.upgrades, 1)

		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env models.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			ts.frames <- env
		}
	}))

	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

// push sends a frame to every connected client.
func (ts *wsTestServer) push(msgType string, payload interface{}) {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		ts.t.Fatalf("push %s: %v", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		ts.t.Fatalf("push %s: %v", msgType, err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, conn := range ts.conns {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

// dropConns closes all server-side connections, simulating a network blip.
func (ts *wsTestServer) dropConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, conn := range ts.conns {
		conn.Close()
	}
	ts.conns = nil
}

// setReject makes the server refuse upgrades until cleared.
func (ts *wsTestServer) setReject(reject bool) {
	if reject {
		atomic.StoreInt32(&ts.reject, 1)
	} else {
		atomic.StoreInt32(&ts.reject, 0)
	}
}

// nextFrame waits for the next recorded frame of the given type, skipping
// others.
func (ts *wsTestServer) nextFrame(msgType string, timeout time.Duration) (models.Envelope, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case env := <-ts.frames:
			if env.Type == msgType {
				return env, true
			}
		case <-deadline:
			return models.Envelope{}, false
		}
	}
}

// nextFrameAny waits for the next recorded frame of any type.
func (ts *wsTestServer) nextFrameAny(timeout time.Duration) (models.Envelope, bool) {
	select {
	case env := <-ts.frames:
		return env, true
	case <-time.After(timeout):
		return models.Envelope{}, false
	}
}

// drainFrames discards everything currently buffered.
func (ts *wsTestServer) drainFrames() {
	for {
		select {
		case <-ts.frames:
		default:
			return
		}
	}
}

// countFrames counts frames of one type arriving within the window.
func (ts *wsTestServer) countFrames(msgType string, window time.Duration) (int, models.Envelope) {
	var count int
	var last models.Envelope
	deadline := time.After(window)
	for {
		select {
		case env := <-ts.frames:
			if env.Type == msgType {
				count++
				last = env
			}
		case <-deadline:
			return count, last
		}
	}
}

// waitForState blocks until the recorder sees the wanted state.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
	notify chan State
}

func recordStates(t *Transport) (*stateRecorder, func()) {
	r := &stateRecorder{notify: make(chan State, 32)}
	unsub := t.OnStateChange(func(state State, err error) {
		r.mu.Lock()
		r.states = append(r.states, state)
		r.errs = append(r.errs, err)
		r.mu.Unlock()
		r.notify <- state
	})
	return r, unsub
}

func (r *stateRecorder) waitFor(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case state := <-r.notify:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (saw %v)", want, r.snapshot())
		}
	}
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *stateRecorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.errs) - 1; i >= 0; i-- {
		if r.errs[i] != nil {
			return r.errs[i]
		}
	}
	return nil
}
