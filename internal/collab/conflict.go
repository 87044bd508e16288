package collab

import (
	"sync"

	"finboard-backend/internal/models"
)

// Strategy is the configured policy for concurrent update collisions.
type Strategy string

const (
	// StrategyServer always applies the remote copy, even over newer local
	// edits.
	StrategyServer Strategy = "server"
	// StrategyClient holds conflicting remotes and takes no automatic
	// action; the local copy stands until the consumer resolves.
	StrategyClient Strategy = "client"
	// StrategyManual holds conflicting remotes and flags them; an explicit
	// ResolveConflict call is required.
	StrategyManual Strategy = "manual"
)

// Resolution picks the winning side when resolving a held conflict.
type Resolution string

const (
	// ResolutionClient declares the local copy the last writer: it is
	// re-broadcast with a fresh timestamp.
	ResolutionClient Resolution = "client"
	// ResolutionServer discards local divergence and re-fetches the
	// authoritative copy.
	ResolutionServer Resolution = "server"
)

// Outcome of a resolver decision.
type Outcome int

const (
	OutcomeApply Outcome = iota
	OutcomeHold
)

// Conflict is a held remote update that lost to a newer local copy.
type Conflict struct {
	DashboardID    string
	Remote         *models.DashboardChangeEvent
	LocalUpdatedAt int64
	// Flagged marks conflicts that require an explicit ResolveConflict
	// call (manual strategy).
	Flagged    bool
	DetectedAt int64
}

// Resolver decides whether an inbound update applies to local state.
// Conflicts are not errors: they are first-class held state the consumer
// inspects and resolves. At most one conflict is held per dashboard; a
// second conflicting update before resolution overwrites the first (last
// inbound wins for the display slot).
type Resolver struct {
	strategy Strategy

	mu   sync.Mutex
	held map[string]*Conflict
}

func NewResolver(strategy Strategy) *Resolver {
	if strategy == "" {
		strategy = StrategyServer
	}
	return &Resolver{
		strategy: strategy,
		held:     make(map[string]*Conflict),
	}
}

func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Decide applies the decision table: the remote wins when there is no local
// copy or the local copy is not newer. A newer local copy wins only under
// the client and manual strategies, which hold the remote instead of
// applying it.
func (r *Resolver) Decide(hasLocal bool, localUpdatedAt int64, remote *models.DashboardChangeEvent) Outcome {
	if !hasLocal || localUpdatedAt <= remote.Timestamp {
		return OutcomeApply
	}

	switch r.strategy {
	case StrategyServer:
		return OutcomeApply
	default:
		r.mu.Lock()
		r.held[remote.DashboardID] = &Conflict{
			DashboardID:    remote.DashboardID,
			Remote:         remote,
			LocalUpdatedAt: localUpdatedAt,
			Flagged:        r.strategy == StrategyManual,
			DetectedAt:     models.NowMillis(),
		}
		r.mu.Unlock()
		return OutcomeHold
	}
}

// HasConflicts reports whether any conflict is held.
func (r *Resolver) HasConflicts() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held) > 0
}

// Held returns the conflict held for a dashboard, nil if none.
func (r *Resolver) Held(dashboardID string) *Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[dashboardID]
}

// Take removes and returns the held conflict for a dashboard. Resolving
// always clears the slot, whichever side wins.
func (r *Resolver) Take(dashboardID string) *Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.held[dashboardID]
	delete(r.held, dashboardID)
	return c
}
