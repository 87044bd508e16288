package models

import (
	"encoding/json"
	"time"
)

// Message names on the collaboration channel. These are a wire contract
// shared with the browser clients; do not rename.
const (
	// Client → server
	MsgJoinDashboard   = "join_dashboard"
	MsgLeaveDashboard  = "leave_dashboard"
	MsgDashboardChange = "dashboard_change"
	MsgUserPresence    = "user_presence"

	// Server → client
	MsgDashboardChanged    = "dashboard_changed"
	MsgUserJoined          = "user_joined"
	MsgUserLeft            = "user_left"
	MsgUserPresenceUpdated = "user_presence_updated"
	MsgUserDisconnected    = "user_disconnected"
	MsgRoomUsers           = "room_users"

	// Both directions (relayed verbatim by the server)
	MsgUserActivity   = "user_activity"
	MsgWidgetEditing  = "widget_editing"
	MsgCursorPosition = "cursor_position"
)

// Envelope frames every message on the websocket.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: msgType, Data: data}, nil
}

// ChangeType enumerates dashboard mutations.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

type JoinDashboardPayload struct {
	DashboardID string `json:"dashboardId"`
	UserID      string `json:"userId"`
}

type LeaveDashboardPayload struct {
	DashboardID string `json:"dashboardId"`
}

// DashboardChangeEvent announces a create/update/delete of a dashboard.
// Payload carries the whole document (or null for deletes); documents are
// replaced wholesale, never merged. Timestamp is the sender's wall clock
// in epoch milliseconds.
type DashboardChangeEvent struct {
	Type        ChangeType      `json:"type"`
	DashboardID string          `json:"dashboardId"`
	UserID      string          `json:"userId"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp"`
}

type PresencePing struct {
	UserID      string `json:"userId"`
	DashboardID string `json:"dashboardId"`
}

// UserPresenceEntry is one member of a room roster.
type UserPresenceEntry struct {
	UserID       string `json:"userId"`
	DashboardID  string `json:"dashboardId"`
	ConnectionID string `json:"connectionId"`
	LastSeen     int64  `json:"lastSeen"`
}

type ActivityAction string

const (
	ActivityEditing     ActivityAction = "editing"
	ActivityViewing     ActivityAction = "viewing"
	ActivityConfiguring ActivityAction = "configuring"
)

type UserActivityEvent struct {
	UserID    string         `json:"userId"`
	Action    ActivityAction `json:"action"`
	WidgetID  string         `json:"widgetId,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type EditingAction string

const (
	EditingStart  EditingAction = "start"
	EditingUpdate EditingAction = "update"
	EditingEnd    EditingAction = "end"
)

type WidgetEditingEvent struct {
	UserID    string        `json:"userId"`
	WidgetID  string        `json:"widgetId"`
	Action    EditingAction `json:"action"`
	Timestamp int64         `json:"timestamp"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CursorPositionEvent struct {
	UserID    string   `json:"userId"`
	WidgetID  string   `json:"widgetId,omitempty"`
	Position  Position `json:"position"`
	Timestamp int64    `json:"timestamp"`
}

// NowMillis is the timestamp format used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
