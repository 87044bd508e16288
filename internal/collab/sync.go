package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"finboard-backend/internal/models"
)

// Syncer is the integration point the rest of the application talks to. It
// wires the transport, room membership, broadcast channel, presence and
// editing trackers, and the conflict resolver together for one user against
// a local dashboard cache and the REST API.
type Syncer struct {
	transport   *Transport
	rooms       *RoomManager
	broadcaster *Broadcaster
	presence    *PresenceTracker
	editing     *EditingTracker
	resolver    *Resolver
	cache       DashboardCache
	api         DashboardAPI
	userID      string

	mu     sync.Mutex
	active string

	unsubChange func()
}

// NewSyncer builds the full collaboration stack on the given transport.
func NewSyncer(t *Transport, strategy Strategy, cache DashboardCache, api DashboardAPI, userID string) *Syncer {
	s := &Syncer{
		transport:   t,
		rooms:       NewRoomManager(t),
		broadcaster: NewBroadcaster(t),
		presence:    NewPresenceTracker(t, userID),
		editing:     NewEditingTracker(t, userID),
		resolver:    NewResolver(strategy),
		cache:       cache,
		api:         api,
		userID:      userID,
	}
	s.unsubChange = s.broadcaster.OnChange(s.handleChange)
	return s
}

// Start opens the collaboration channel.
func (s *Syncer) Start(ctx context.Context) error {
	return s.transport.Connect(ctx)
}

// Stop tears down the whole stack: timers are cancelled, subscriptions
// released, the channel closed. Nothing sends after Stop returns.
func (s *Syncer) Stop() {
	s.unsubChange()
	s.editing.Close()
	s.presence.Close()
	s.rooms.Close()
	s.transport.Disconnect()
}

// Rooms exposes the room membership manager.
func (s *Syncer) Rooms() *RoomManager { return s.rooms }

// Presence exposes the room roster tracker.
func (s *Syncer) Presence() *PresenceTracker { return s.presence }

// Editing exposes the editing/activity/cursor tracker.
func (s *Syncer) Editing() *EditingTracker { return s.editing }

// ActiveDashboard returns the dashboard whose room is currently joined.
func (s *Syncer) ActiveDashboard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SyncDashboard switches collaboration to the given dashboard. The previous
// room's roster, sessions, activities and cursors are discarded, never
// merged.
func (s *Syncer) SyncDashboard(id string) {
	s.mu.Lock()
	if s.active == id {
		s.mu.Unlock()
		return
	}
	s.active = id
	s.mu.Unlock()

	s.presence.Reset()
	s.editing.Reset()
	s.rooms.Join(id, s.userID)
}

// BroadcastChange propagates a local edit to the room. The caller has
// already applied the change locally (and persisted it through the REST
// API); peers receive the document wholesale.
func (s *Syncer) BroadcastChange(changeType models.ChangeType, dashboardID string, payload json.RawMessage) {
	s.broadcaster.Broadcast(&models.DashboardChangeEvent{
		Type:        changeType,
		DashboardID: dashboardID,
		UserID:      s.userID,
		Payload:     payload,
		Timestamp:   models.NowMillis(),
	})
}

// HasConflicts reports whether any inbound update is being held.
func (s *Syncer) HasConflicts() bool {
	return s.resolver.HasConflicts()
}

// Conflict returns the held conflict for a dashboard, nil if none.
func (s *Syncer) Conflict(dashboardID string) *Conflict {
	return s.resolver.Held(dashboardID)
}

// ResolveConflict settles the held conflict for a dashboard. Client
// resolution re-broadcasts the local copy with a fresh timestamp ("last
// writer wins, and I am declaring myself last"); server resolution discards
// local divergence and re-fetches the authoritative copy. The conflict slot
// is cleared either way.
func (s *Syncer) ResolveConflict(ctx context.Context, dashboardID string, resolution Resolution) error {
	c := s.resolver.Take(dashboardID)
	if c == nil {
		return fmt.Errorf("collab: no conflict held for dashboard %s", dashboardID)
	}

	switch resolution {
	case ResolutionClient:
		local, ok := s.cache.Find(dashboardID)
		if !ok {
			return fmt.Errorf("collab: no local copy of dashboard %s to declare", dashboardID)
		}
		payload, err := json.Marshal(local)
		if err != nil {
			return fmt.Errorf("collab: encode local dashboard: %w", err)
		}
		s.BroadcastChange(models.ChangeUpdated, dashboardID, payload)
		return nil

	case ResolutionServer:
		remote, err := s.api.Get(ctx, dashboardID)
		if err != nil {
			return fmt.Errorf("collab: re-fetch dashboard %s: %w", dashboardID, err)
		}
		s.cache.Update(remote)
		return nil

	default:
		return fmt.Errorf("collab: unknown resolution %q", resolution)
	}
}

// handleChange routes inbound change events from peers. Own events are
// echoes and ignored.
func (s *Syncer) handleChange(ev *models.DashboardChangeEvent) {
	if ev.UserID == s.userID {
		return
	}

	switch ev.Type {
	case models.ChangeCreated:
		// Don't trust the payload: refresh the full listing from the API.
		s.refreshFromAPI()

	case models.ChangeDeleted:
		s.handleRemoteDelete(ev.DashboardID)

	case models.ChangeUpdated:
		s.handleRemoteUpdate(ev)

	default:
		log.Printf("collab: unknown change type %q for dashboard %s", ev.Type, ev.DashboardID)
	}
}

func (s *Syncer) handleRemoteUpdate(ev *models.DashboardChangeEvent) {
	local, hasLocal := s.cache.Find(ev.DashboardID)
	var localUpdatedAt int64
	if hasLocal {
		localUpdatedAt = local.UpdatedAt.UnixMilli()
	}

	switch s.resolver.Decide(hasLocal, localUpdatedAt, ev) {
	case OutcomeApply:
		s.applyRemote(ev)
	case OutcomeHold:
		log.Printf("collab: holding conflicting update for dashboard %s (local %d > remote %d)",
			ev.DashboardID, localUpdatedAt, ev.Timestamp)
	}
}

// applyRemote overwrites the local copy with the remote document. A null
// payload means the sender didn't inline the document; fall back to the
// API.
func (s *Syncer) applyRemote(ev *models.DashboardChangeEvent) {
	if len(ev.Payload) > 0 && string(ev.Payload) != "null" {
		var d models.Dashboard
		if err := json.Unmarshal(ev.Payload, &d); err == nil {
			s.cache.Update(&d)
			return
		}
		log.Printf("collab: undecodable payload for dashboard %s, falling back to API", ev.DashboardID)
	}

	remote, err := s.api.Get(context.Background(), ev.DashboardID)
	if err != nil {
		log.Printf("collab: fetch dashboard %s after remote update: %v", ev.DashboardID, err)
		return
	}
	s.cache.Update(remote)
}

func (s *Syncer) handleRemoteDelete(dashboardID string) {
	s.cache.Remove(dashboardID)

	s.mu.Lock()
	wasActive := s.active == dashboardID
	s.mu.Unlock()
	if !wasActive {
		return
	}

	// The open dashboard is gone: fall back to the first remaining one, or
	// to none.
	remaining := s.cache.List()
	if len(remaining) == 0 {
		s.mu.Lock()
		s.active = ""
		s.mu.Unlock()
		s.presence.Reset()
		s.editing.Reset()
		s.rooms.Leave()
		log.Printf("collab: active dashboard %s deleted, no fallback available", dashboardID)
		return
	}

	next := remaining[0].ID.String()
	log.Printf("collab: active dashboard %s deleted, falling back to %s", dashboardID, next)
	s.mu.Lock()
	s.active = "" // force the switch even if ids collide
	s.mu.Unlock()
	s.SyncDashboard(next)
}

// refreshFromAPI reconciles the cache against a fresh listing: everything
// returned is upserted, cached entries the server no longer knows are
// dropped.
func (s *Syncer) refreshFromAPI() {
	listing, err := s.api.List(context.Background())
	if err != nil {
		log.Printf("collab: dashboard list refresh failed: %v", err)
		return
	}

	seen := make(map[string]bool, len(listing))
	for _, d := range listing {
		seen[d.ID.String()] = true
		s.cache.Update(d)
	}
	for _, d := range s.cache.List() {
		if !seen[d.ID.String()] {
			s.cache.Remove(d.ID.String())
		}
	}
}
