package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finboard-backend/internal/collab"
	"finboard-backend/internal/config"
)

// collabclient joins a dashboard room from the terminal and logs what the
// room is doing. Useful for watching a deployment's collaboration traffic
// and for exercising the client stack against a running backend.
func main() {
	log.Println("🔌 Starting FinBoard collaboration client...")

	cfg := config.LoadClient()

	transport := collab.NewTransport(cfg.CollabWSURL+"?token="+cfg.Token, cfg.TestMode)
	api := collab.NewAPIClient(cfg.APIBaseURL, cfg.Token)
	cache := collab.NewMemoryCache()

	syncer := collab.NewSyncer(transport, collab.Strategy(cfg.ConflictStrategy), cache, api, cfg.UserID)
	defer syncer.Stop()
	syncer.Rooms().SetHeartbeatInterval(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := syncer.Start(ctx)
	cancel()
	if err != nil {
		log.Fatalf("✗ Collaboration channel failed: %v", err)
	}
	log.Println("✓ Collaboration channel connected")

	dashboardID := cfg.DashboardID
	if dashboardID == "" {
		listing, err := api.List(context.Background())
		if err != nil {
			log.Fatalf("✗ Dashboard listing failed: %v", err)
		}
		if len(listing) == 0 {
			log.Fatal("✗ No dashboards available to join")
		}
		for _, d := range listing {
			cache.Update(d)
		}
		dashboardID = listing[0].ID.String()
	}

	syncer.SyncDashboard(dashboardID)
	log.Printf("✓ Collaborating on dashboard %s as user %s", dashboardID, cfg.UserID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			return

		case <-ticker.C:
			active := syncer.ActiveDashboard()
			users := syncer.Presence().Users()
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.UserID)
			}
			log.Printf("room %s: %d other user(s) online %v", active, len(users), names)

			for _, act := range syncer.Editing().RecentActivities(time.Minute) {
				log.Printf("  %s %s widget=%s", act.UserID, act.Action, act.WidgetID)
			}
			if syncer.HasConflicts() {
				if c := syncer.Conflict(active); c != nil {
					log.Printf("  ⚠ held conflict on %s (local %d > remote %d, flagged=%v)",
						c.DashboardID, c.LocalUpdatedAt, c.Remote.Timestamp, c.Flagged)
				}
			}
		}
	}
}
