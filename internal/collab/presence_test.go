package collab

import (
	"testing"

	"finboard-backend/internal/models"
)

func newIdlePresence(t *testing.T, localUserID string) *PresenceTracker {
	t.Helper()
	p := NewPresenceTracker(NewTransport("", true), localUserID)
	t.Cleanup(p.Close)
	return p
}

func TestPresenceJoinAndLeave(t *testing.T) {
	p := newIdlePresence(t, "me")

	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "b", DashboardID: "d1"}))
	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "a", DashboardID: "d1"}))

	users := p.Users()
	if len(users) != 2 {
		t.Fatalf("roster size = %d, want 2", len(users))
	}
	// Ordered by userId for stable rendering.
	if users[0].UserID != "a" || users[1].UserID != "b" {
		t.Errorf("roster order = %s, %s", users[0].UserID, users[1].UserID)
	}

	p.handleRemoval(mustJSON(t, models.UserPresenceEntry{UserID: "a", DashboardID: "d1"}))
	users = p.Users()
	if len(users) != 1 || users[0].UserID != "b" {
		t.Errorf("roster after removal = %v", users)
	}
}

func TestPresenceIgnoresLocalUser(t *testing.T) {
	p := newIdlePresence(t, "me")

	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "me", DashboardID: "d1"}))
	if users := p.Users(); len(users) != 0 {
		t.Errorf("local user landed in the roster: %v", users)
	}
}

func TestPresenceHeartbeatRefreshesEntry(t *testing.T) {
	p := newIdlePresence(t, "me")

	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "a", DashboardID: "d1", LastSeen: 100}))
	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "a", DashboardID: "d1", LastSeen: 200}))

	users := p.Users()
	if len(users) != 1 {
		t.Fatalf("roster size = %d, want 1", len(users))
	}
	if users[0].LastSeen != 200 {
		t.Errorf("LastSeen = %d, want the refreshed 200", users[0].LastSeen)
	}
}

func TestPresenceSnapshotReplacesRoster(t *testing.T) {
	p := newIdlePresence(t, "me")

	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "stale", DashboardID: "d1"}))

	p.handleSnapshot(mustJSON(t, []models.UserPresenceEntry{
		{UserID: "me", DashboardID: "d2"},
		{UserID: "x", DashboardID: "d2"},
		{UserID: "y", DashboardID: "d2"},
	}))

	users := p.Users()
	if len(users) != 2 {
		t.Fatalf("roster size after snapshot = %d, want 2", len(users))
	}
	if users[0].UserID != "x" || users[1].UserID != "y" {
		t.Errorf("snapshot roster = %s, %s", users[0].UserID, users[1].UserID)
	}
}

func TestPresenceReset(t *testing.T) {
	p := newIdlePresence(t, "me")

	p.handleEntry(mustJSON(t, models.UserPresenceEntry{UserID: "a", DashboardID: "d1"}))
	p.Reset()

	if users := p.Users(); len(users) != 0 {
		t.Errorf("roster survived reset: %v", users)
	}
}
