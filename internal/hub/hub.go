package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"finboard-backend/internal/middleware"
	"finboard-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub groups websocket connections into per-dashboard rooms and relays
// collaboration events between their members. Events are also published to
// redis so members connected to other instances see them; with nil redis
// clients the hub runs in single-instance mode.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	publisher   *redis.Client
	subscriber  *redis.Client
	jwtAuth     *middleware.JWTAuth
	instanceID  string
	cancelFuncs map[string]context.CancelFunc
}

func New(publisher, subscriber *redis.Client, jwtAuth *middleware.JWTAuth) *Hub {
	return &Hub{
		rooms:       make(map[string]*room),
		publisher:   publisher,
		subscriber:  subscriber,
		jwtAuth:     jwtAuth,
		instanceID:  uuid.New().String(),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID, err := h.jwtAuth.VerifyToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		connID: uuid.New(),
	}

	log.Printf("hub: websocket connected: user %s conn %s", c.userID, c.connID)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) handleMessage(c *client, env *models.Envelope) {
	switch env.Type {
	case models.MsgJoinDashboard:
		var p models.JoinDashboardPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.DashboardID == "" {
			log.Printf("hub: invalid join from user %s", c.userID)
			return
		}
		h.join(c, p.DashboardID)

	case models.MsgLeaveDashboard:
		h.leave(c, models.MsgUserLeft)

	case models.MsgUserPresence:
		h.refreshPresence(c)

	case models.MsgDashboardChange:
		// Relayed under the inbound name the clients subscribe to.
		h.relay(c, models.MsgDashboardChanged, env.Data)

	case models.MsgUserActivity, models.MsgWidgetEditing, models.MsgCursorPosition:
		h.relay(c, env.Type, env.Data)

	default:
		log.Printf("hub: unknown message type %q from user %s", env.Type, c.userID)
	}
}

// join moves the client into the dashboard's room, leaving any previous
// room first. The joiner receives a roster snapshot; everyone else in the
// room is told about the new member.
func (h *Hub) join(c *client, dashboardID string) {
	h.mu.Lock()

	if c.room == dashboardID {
		h.mu.Unlock()
		return
	}
	if c.room != "" {
		h.leaveLocked(c, models.MsgUserLeft)
	}

	rm, ok := h.rooms[dashboardID]
	if !ok {
		rm = newRoom(dashboardID)
		h.rooms[dashboardID] = rm

		// First local member: start relaying this room's redis channel.
		if h.subscriber != nil {
			ctx, cancel := context.WithCancel(context.Background())
			h.cancelFuncs[dashboardID] = cancel
			go h.subscribeRoom(ctx, dashboardID)
		}
	}

	entry := rm.add(c)
	c.room = dashboardID
	snapshot := rm.roster()

	h.mu.Unlock()

	log.Printf("hub: user %s joined dashboard %s", c.userID, dashboardID)

	// Tell the room, then hand the joiner the current roster.
	h.broadcast(c, dashboardID, models.MsgUserJoined, entry)
	if env, err := models.NewEnvelope(models.MsgRoomUsers, snapshot); err == nil {
		if data, err := json.Marshal(env); err == nil {
			c.enqueue(data)
		}
	}
}

// leave removes the client from its room and notifies the remaining
// members with the given message type (user_left or user_disconnected).
func (h *Hub) leave(c *client, msgType string) {
	h.mu.Lock()
	entry, dashboardID := h.leaveLocked(c, msgType)
	h.mu.Unlock()

	if entry != nil {
		h.broadcast(c, dashboardID, msgType, entry)
	}
}

// leaveLocked does the bookkeeping under h.mu and returns the departed
// member's entry so the caller can announce it after unlocking.
func (h *Hub) leaveLocked(c *client, msgType string) (*models.UserPresenceEntry, string) {
	dashboardID := c.room
	if dashboardID == "" {
		return nil, ""
	}

	rm := h.rooms[dashboardID]
	c.room = ""
	if rm == nil {
		return nil, ""
	}

	entry := rm.remove(c)
	if rm.empty() {
		delete(h.rooms, dashboardID)
		if cancel, ok := h.cancelFuncs[dashboardID]; ok {
			cancel()
			delete(h.cancelFuncs, dashboardID)
		}
	}

	log.Printf("hub: user %s left dashboard %s (%s)", c.userID, dashboardID, msgType)
	return entry, dashboardID
}

func (h *Hub) disconnect(c *client) {
	c.conn.Close()
	h.leave(c, models.MsgUserDisconnected)
	close(c.send)
	log.Printf("hub: websocket disconnected: user %s conn %s", c.userID, c.connID)
}

func (h *Hub) refreshPresence(c *client) {
	h.mu.Lock()
	var entry *models.UserPresenceEntry
	if rm := h.rooms[c.room]; rm != nil {
		entry = rm.touch(c)
	}
	h.mu.Unlock()

	if entry != nil {
		h.broadcast(c, entry.DashboardID, models.MsgUserPresenceUpdated, entry)
	}
}

// relay forwards a member's event to the rest of its room verbatim.
func (h *Hub) relay(c *client, msgType string, data json.RawMessage) {
	h.mu.RLock()
	dashboardID := c.room
	h.mu.RUnlock()

	if dashboardID == "" {
		log.Printf("hub: %s from user %s outside a room, dropping", msgType, c.userID)
		return
	}

	h.deliver(c, dashboardID, &models.Envelope{Type: msgType, Data: data})
}

func (h *Hub) broadcast(origin *client, dashboardID, msgType string, payload interface{}) {
	env, err := models.NewEnvelope(msgType, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s: %v", msgType, err)
		return
	}
	h.deliver(origin, dashboardID, env)
}

// relayFrame is what travels over the redis room channel. Origin lets the
// publishing instance skip its own copy; originConn keeps the sender's
// connection from hearing itself.
type relayFrame struct {
	Origin     string           `json:"origin"`
	OriginConn string           `json:"originConn,omitempty"`
	Envelope   *models.Envelope `json:"envelope"`
}

// deliver sends an envelope to the local members of a room (minus the
// originating connection) and publishes it for other instances.
func (h *Hub) deliver(origin *client, dashboardID string, env *models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.RLock()
	if rm := h.rooms[dashboardID]; rm != nil {
		for member := range rm.members {
			if origin != nil && member.connID == origin.connID {
				continue
			}
			member.enqueue(data)
		}
	}
	h.mu.RUnlock()

	// Single-instance deployments run without redis; local delivery above
	// is then the whole story.
	if h.publisher == nil {
		return
	}

	frame := relayFrame{Origin: h.instanceID, Envelope: env}
	if origin != nil {
		frame.OriginConn = origin.connID.String()
	}
	frameData, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := h.publisher.Publish(context.Background(), roomChannel(dashboardID), frameData).Err(); err != nil {
		log.Printf("hub: redis publish failed for dashboard %s: %v", dashboardID, err)
	}
}

func (h *Hub) subscribeRoom(ctx context.Context, dashboardID string) {
	pubsub := h.subscriber.Subscribe(ctx, roomChannel(dashboardID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			// Local members already got this instance's copy directly.
			if frame.Origin == h.instanceID {
				continue
			}

			data, err := json.Marshal(frame.Envelope)
			if err != nil {
				continue
			}

			h.mu.RLock()
			if rm := h.rooms[dashboardID]; rm != nil {
				for member := range rm.members {
					member.enqueue(data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func roomChannel(dashboardID string) string {
	return "room_events:" + dashboardID
}
