package collab

import (
	"encoding/json"
	"log"

	"finboard-backend/internal/models"
)

// Broadcaster sends and receives dashboard change events. It keeps no state
// of its own: echo suppression is the receiver's job (compare the event's
// userId against the local user), and a broadcast while disconnected is
// dropped with a warning, not queued — the sender's optimistic local state
// is already applied, so the next meaningful change re-broadcasts anyway.
type Broadcaster struct {
	transport *Transport
}

func NewBroadcaster(t *Transport) *Broadcaster {
	return &Broadcaster{transport: t}
}

// Broadcast sends a change event to the room. Dropped with a warning if the
// transport is down; callers must not treat that as fatal.
func (b *Broadcaster) Broadcast(ev *models.DashboardChangeEvent) {
	if !b.transport.Connected() {
		log.Printf("collab: dropping %s broadcast for dashboard %s, transport %s",
			ev.Type, ev.DashboardID, b.transport.State())
		return
	}
	if err := b.transport.Send(models.MsgDashboardChange, ev); err != nil {
		log.Printf("collab: broadcast failed: %v", err)
	}
}

// OnChange delivers inbound change events verbatim. Returns an unsubscribe
// func.
func (b *Broadcaster) OnChange(fn func(*models.DashboardChangeEvent)) func() {
	return b.transport.Subscribe(models.MsgDashboardChanged, func(data json.RawMessage) {
		var ev models.DashboardChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("collab: malformed dashboard_changed event: %v", err)
			return
		}
		fn(&ev)
	})
}
