package collab

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"finboard-backend/internal/models"
)

// PresenceTracker maintains the live roster of the current room from
// join/leave/heartbeat/disconnect notifications. The roster is ephemeral:
// it is rebuilt from the server's room_users snapshot after every (re)join
// and discarded on room switch. Events about the local user are ignored.
type PresenceTracker struct {
	localUserID string

	mu     sync.RWMutex
	roster map[string]*models.UserPresenceEntry

	unsubs []func()
}

func NewPresenceTracker(t *Transport, localUserID string) *PresenceTracker {
	p := &PresenceTracker{
		localUserID: localUserID,
		roster:      make(map[string]*models.UserPresenceEntry),
	}

	p.unsubs = append(p.unsubs,
		t.Subscribe(models.MsgUserJoined, p.handleEntry),
		t.Subscribe(models.MsgUserPresenceUpdated, p.handleEntry),
		t.Subscribe(models.MsgUserLeft, p.handleRemoval),
		t.Subscribe(models.MsgUserDisconnected, p.handleRemoval),
		t.Subscribe(models.MsgRoomUsers, p.handleSnapshot),
	)

	return p
}

// Users returns the roster, excluding the local user, ordered by userId for
// stable rendering.
func (p *PresenceTracker) Users() []*models.UserPresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]*models.UserPresenceEntry, 0, len(p.roster))
	for _, entry := range p.roster {
		users = append(users, entry)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// Reset discards the roster. Called on room switch; the next room_users
// snapshot repopulates it.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roster = make(map[string]*models.UserPresenceEntry)
}

// Close unsubscribes from the transport.
func (p *PresenceTracker) Close() {
	for _, unsub := range p.unsubs {
		unsub()
	}
}

func (p *PresenceTracker) handleEntry(data json.RawMessage) {
	var entry models.UserPresenceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("collab: malformed presence entry: %v", err)
		return
	}
	if entry.UserID == p.localUserID {
		return
	}

	p.mu.Lock()
	p.roster[entry.UserID] = &entry
	p.mu.Unlock()
}

func (p *PresenceTracker) handleRemoval(data json.RawMessage) {
	var entry models.UserPresenceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("collab: malformed presence removal: %v", err)
		return
	}
	if entry.UserID == p.localUserID {
		return
	}

	p.mu.Lock()
	delete(p.roster, entry.UserID)
	p.mu.Unlock()
}

func (p *PresenceTracker) handleSnapshot(data json.RawMessage) {
	var entries []*models.UserPresenceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Printf("collab: malformed room_users snapshot: %v", err)
		return
	}

	roster := make(map[string]*models.UserPresenceEntry, len(entries))
	for _, entry := range entries {
		if entry.UserID == p.localUserID {
			continue
		}
		roster[entry.UserID] = entry
	}

	p.mu.Lock()
	p.roster = roster
	p.mu.Unlock()
}
