package collab

import (
	"log"
	"sync"
	"time"

	"finboard-backend/internal/models"
)

const heartbeatInterval = 30 * time.Second

// RoomManager tracks which dashboard room this connection is in. A
// connection holds at most one membership: joining a new room leaves the
// previous one first. While a room is held a presence heartbeat is sent
// every 30 seconds; heartbeats are advisory, a missed one is not a failure.
type RoomManager struct {
	transport *Transport

	mu          sync.Mutex
	dashboardID string
	userID      string
	stopBeat    chan struct{}

	interval   time.Duration
	unsubState func()
}

func NewRoomManager(t *Transport) *RoomManager {
	m := &RoomManager{
		transport: t,
		interval:  heartbeatInterval,
	}

	// Rejoin on every successful (re)connection: the server rebuilds the
	// room from scratch, the pending membership is the only record kept
	// across a drop. Heartbeats stop while the transport is down.
	m.unsubState = t.OnStateChange(func(state State, err error) {
		switch state {
		case StateConnected:
			m.rejoin()
		case StateReconnecting, StateDisconnected, StateFailed:
			m.mu.Lock()
			m.stopHeartbeatLocked()
			m.mu.Unlock()
		}
	})

	return m
}

// Join records the membership and, if connected, sends the join. Joining
// while disconnected is not an error: the membership is kept locally so the
// reconnect path has a target, and the join goes out once connected.
func (m *RoomManager) Join(dashboardID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dashboardID == dashboardID && m.userID == userID {
		return
	}

	// Leave the previous room before the new join goes out.
	if m.dashboardID != "" {
		m.leaveLocked()
	}

	m.dashboardID = dashboardID
	m.userID = userID

	if !m.transport.Connected() {
		log.Printf("collab: join %s deferred, transport %s", dashboardID, m.transport.State())
		return
	}

	m.sendJoinLocked()
	m.startHeartbeatLocked()
}

// Leave clears the membership. The leave notification is only sent when
// connected; local state is cleared regardless.
func (m *RoomManager) Leave() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dashboardID == "" {
		return
	}
	m.leaveLocked()
	m.dashboardID = ""
	m.userID = ""
}

// SetHeartbeatInterval overrides the presence heartbeat cadence. Takes
// effect on the next join.
func (m *RoomManager) SetHeartbeatInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

// Current returns the held membership, empty strings if none.
func (m *RoomManager) Current() (dashboardID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dashboardID, m.userID
}

// Close tears the manager down: leaves the room and detaches from the
// transport.
func (m *RoomManager) Close() {
	m.Leave()
	m.unsubState()
}

func (m *RoomManager) rejoin() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dashboardID == "" {
		return
	}
	log.Printf("collab: rejoining dashboard %s after reconnect", m.dashboardID)
	m.sendJoinLocked()
	m.startHeartbeatLocked()
}

func (m *RoomManager) sendJoinLocked() {
	err := m.transport.Send(models.MsgJoinDashboard, models.JoinDashboardPayload{
		DashboardID: m.dashboardID,
		UserID:      m.userID,
	})
	if err != nil {
		log.Printf("collab: join %s not sent: %v", m.dashboardID, err)
	}
}

func (m *RoomManager) leaveLocked() {
	m.stopHeartbeatLocked()

	if !m.transport.Connected() {
		return
	}
	err := m.transport.Send(models.MsgLeaveDashboard, models.LeaveDashboardPayload{
		DashboardID: m.dashboardID,
	})
	if err != nil {
		log.Printf("collab: leave %s not sent: %v", m.dashboardID, err)
	}
}

func (m *RoomManager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()

	stop := make(chan struct{})
	m.stopBeat = stop
	dashboardID, userID := m.dashboardID, m.userID

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := m.transport.Send(models.MsgUserPresence, models.PresencePing{
					UserID:      userID,
					DashboardID: dashboardID,
				})
				if err != nil {
					log.Printf("collab: presence heartbeat not sent: %v", err)
				}
			}
		}
	}()
}

// stopHeartbeatLocked cancels the heartbeat timer outright so no stale ping
// fires after a leave or disconnect.
func (m *RoomManager) stopHeartbeatLocked() {
	if m.stopBeat != nil {
		close(m.stopBeat)
		m.stopBeat = nil
	}
}
