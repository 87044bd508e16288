package hub

import (
	"finboard-backend/internal/models"
)

// room tracks the live members of one dashboard. All access goes through
// Hub.mu; the room itself holds no lock.
type room struct {
	dashboardID string
	members     map[*client]*models.UserPresenceEntry
}

func newRoom(dashboardID string) *room {
	return &room{
		dashboardID: dashboardID,
		members:     make(map[*client]*models.UserPresenceEntry),
	}
}

func (r *room) add(c *client) *models.UserPresenceEntry {
	entry := &models.UserPresenceEntry{
		UserID:       c.userID.String(),
		DashboardID:  r.dashboardID,
		ConnectionID: c.connID.String(),
		LastSeen:     models.NowMillis(),
	}
	r.members[c] = entry
	return entry
}

func (r *room) remove(c *client) *models.UserPresenceEntry {
	entry := r.members[c]
	delete(r.members, c)
	return entry
}

func (r *room) touch(c *client) *models.UserPresenceEntry {
	entry := r.members[c]
	if entry != nil {
		entry.LastSeen = models.NowMillis()
	}
	return entry
}

func (r *room) empty() bool {
	return len(r.members) == 0
}

// roster snapshots the current members for a room_users frame.
func (r *room) roster() []*models.UserPresenceEntry {
	entries := make([]*models.UserPresenceEntry, 0, len(r.members))
	for _, entry := range r.members {
		entries = append(entries, entry)
	}
	return entries
}
