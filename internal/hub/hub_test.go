package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"finboard-backend/internal/middleware"
	"finboard-backend/internal/models"
)

// hubFixture is a hub behind an httptest server, running in single-instance
// mode (no redis).
type hubFixture struct {
	t       *testing.T
	hub     *Hub
	srv     *httptest.Server
	jwtAuth *middleware.JWTAuth
}

func newHubFixture(t *testing.T) *hubFixture {
	jwtAuth := middleware.NewJWTAuth("test-secret")
	h := New(nil, nil, jwtAuth)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return &hubFixture{t: t, hub: h, srv: srv, jwtAuth: jwtAuth}
}

func (f *hubFixture) wsURL(token string) string {
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	return url
}

// dial connects as the given user and returns the raw connection.
func (f *hubFixture) dial(userID uuid.UUID) *websocket.Conn {
	f.t.Helper()
	token, err := f.jwtAuth.GenerateAccessToken(userID)
	if err != nil {
		f.t.Fatalf("token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil)
	if err != nil {
		f.t.Fatalf("dial: %v", err)
	}
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
}

// expect reads frames until one of the wanted type arrives.
func expect(t *testing.T, conn *websocket.Conn, msgType string) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type == msgType {
			return env
		}
	}
}

func expectNone(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func join(t *testing.T, conn *websocket.Conn, dashboardID string, userID uuid.UUID) {
	t.Helper()
	send(t, conn, models.MsgJoinDashboard, models.JoinDashboardPayload{
		DashboardID: dashboardID,
		UserID:      userID.String(),
	})
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	f := newHubFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	f := newHubFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("not-a-jwt"), nil)
	if err == nil {
		t.Fatal("dial with a garbage token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}

func TestWebSocketRejectsForeignSignature(t *testing.T) {
	f := newHubFixture(t)

	other := middleware.NewJWTAuth("different-secret")
	token, err := other.GenerateAccessToken(uuid.New())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, _, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil); err == nil {
		t.Fatal("dial with a foreign-signed token succeeded")
	}
}

func TestJoinAnnouncesAndSnapshots(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)

	// The first member gets an empty roster snapshot.
	env := expect(t, connA, models.MsgRoomUsers)
	var roster []models.UserPresenceEntry
	if err := json.Unmarshal(env.Data, &roster); err != nil {
		t.Fatalf("bad roster: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != userA.String() {
		t.Fatalf("first snapshot = %v, want just the joiner", roster)
	}

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)

	// A is told about B.
	env = expect(t, connA, models.MsgUserJoined)
	var entry models.UserPresenceEntry
	json.Unmarshal(env.Data, &entry)
	if entry.UserID != userB.String() || entry.DashboardID != "dash-1" {
		t.Errorf("user_joined = %+v", entry)
	}

	// B's snapshot includes both members.
	env = expect(t, connB, models.MsgRoomUsers)
	roster = nil
	json.Unmarshal(env.Data, &roster)
	if len(roster) != 2 {
		t.Errorf("second snapshot has %d members, want 2", len(roster))
	}
}

func TestLeaveNotifiesRoom(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)
	expect(t, connA, models.MsgUserJoined)

	send(t, connB, models.MsgLeaveDashboard, models.LeaveDashboardPayload{DashboardID: "dash-1"})

	env := expect(t, connA, models.MsgUserLeft)
	var entry models.UserPresenceEntry
	json.Unmarshal(env.Data, &entry)
	if entry.UserID != userB.String() {
		t.Errorf("user_left = %+v", entry)
	}
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)
	expect(t, connA, models.MsgUserJoined)

	connB.Close()

	env := expect(t, connA, models.MsgUserDisconnected)
	var entry models.UserPresenceEntry
	json.Unmarshal(env.Data, &entry)
	if entry.UserID != userB.String() {
		t.Errorf("user_disconnected = %+v", entry)
	}
}

func TestPresencePingFansOutAsUpdate(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)
	expect(t, connA, models.MsgUserJoined)

	send(t, connB, models.MsgUserPresence, models.PresencePing{
		UserID: userB.String(), DashboardID: "dash-1",
	})

	env := expect(t, connA, models.MsgUserPresenceUpdated)
	var entry models.UserPresenceEntry
	json.Unmarshal(env.Data, &entry)
	if entry.UserID != userB.String() || entry.LastSeen == 0 {
		t.Errorf("user_presence_updated = %+v", entry)
	}
}

func TestChangeRelayedUnderInboundName(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)
	expect(t, connA, models.MsgUserJoined)

	change := models.DashboardChangeEvent{
		Type:        models.ChangeUpdated,
		DashboardID: "dash-1",
		UserID:      userB.String(),
		Timestamp:   models.NowMillis(),
	}
	send(t, connB, models.MsgDashboardChange, change)

	env := expect(t, connA, models.MsgDashboardChanged)
	var got models.DashboardChangeEvent
	json.Unmarshal(env.Data, &got)
	if got.DashboardID != "dash-1" || got.UserID != userB.String() {
		t.Errorf("relayed change = %+v", got)
	}
}

func TestEditingAndCursorRelayedVerbatim(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)
	expect(t, connA, models.MsgUserJoined)

	send(t, connB, models.MsgWidgetEditing, models.WidgetEditingEvent{
		UserID: userB.String(), WidgetID: "w1", Action: models.EditingStart,
	})
	env := expect(t, connA, models.MsgWidgetEditing)
	var editing models.WidgetEditingEvent
	json.Unmarshal(env.Data, &editing)
	if editing.WidgetID != "w1" || editing.Action != models.EditingStart {
		t.Errorf("relayed widget_editing = %+v", editing)
	}

	send(t, connB, models.MsgCursorPosition, models.CursorPositionEvent{
		UserID: userB.String(), WidgetID: "w1", Position: models.Position{X: 5, Y: 7},
	})
	env = expect(t, connA, models.MsgCursorPosition)
	var cursor models.CursorPositionEvent
	json.Unmarshal(env.Data, &cursor)
	if cursor.Position.X != 5 || cursor.Position.Y != 7 {
		t.Errorf("relayed cursor = %+v", cursor)
	}
}

func TestSenderDoesNotHearItself(t *testing.T) {
	f := newHubFixture(t)
	userA := uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	send(t, connA, models.MsgWidgetEditing, models.WidgetEditingEvent{
		UserID: userA.String(), WidgetID: "w1", Action: models.EditingStart,
	})

	expectNone(t, connA, 300*time.Millisecond)
}

func TestRoomsAreIsolated(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-2", userB)
	expect(t, connB, models.MsgRoomUsers)

	send(t, connB, models.MsgWidgetEditing, models.WidgetEditingEvent{
		UserID: userB.String(), WidgetID: "w1", Action: models.EditingStart,
	})

	expectNone(t, connA, 300*time.Millisecond)
}

func TestJoinSwitchLeavesPreviousRoom(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	connB := f.dial(userB)
	join(t, connB, "dash-1", userB)
	expect(t, connA, models.MsgUserJoined)

	// B moves to another dashboard; A sees the departure.
	join(t, connB, "dash-2", userB)

	env := expect(t, connA, models.MsgUserLeft)
	var entry models.UserPresenceEntry
	json.Unmarshal(env.Data, &entry)
	if entry.UserID != userB.String() || entry.DashboardID != "dash-1" {
		t.Errorf("user_left = %+v", entry)
	}
}

func TestEventOutsideRoomDropped(t *testing.T) {
	f := newHubFixture(t)
	userA, userB := uuid.New(), uuid.New()

	connA := f.dial(userA)
	join(t, connA, "dash-1", userA)
	expect(t, connA, models.MsgRoomUsers)

	// B never joins; its events go nowhere.
	connB := f.dial(userB)
	send(t, connB, models.MsgWidgetEditing, models.WidgetEditingEvent{
		UserID: userB.String(), WidgetID: "w1", Action: models.EditingStart,
	})

	expectNone(t, connA, 300*time.Millisecond)
}
