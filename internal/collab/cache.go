package collab

import (
	"sort"
	"sync"

	"finboard-backend/internal/models"
)

// DashboardCache is the local dashboard store the sync façade keeps
// consistent with the room. The authoritative copy lives behind the REST
// API; the cache only mirrors it.
type DashboardCache interface {
	Find(id string) (*models.Dashboard, bool)
	List() []*models.Dashboard
	Update(d *models.Dashboard)
	Remove(id string)
}

// MemoryCache is a process-local DashboardCache.
type MemoryCache struct {
	mu         sync.RWMutex
	dashboards map[string]*models.Dashboard
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{dashboards: make(map[string]*models.Dashboard)}
}

func (c *MemoryCache) Find(id string) (*models.Dashboard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.dashboards[id]
	return d, ok
}

// List returns the cached dashboards, most recently updated first.
func (c *MemoryCache) List() []*models.Dashboard {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Dashboard, 0, len(c.dashboards))
	for _, d := range c.dashboards {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Update upserts a dashboard, replacing the document wholesale.
func (c *MemoryCache) Update(d *models.Dashboard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dashboards[d.ID.String()] = d
}

func (c *MemoryCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dashboards, id)
}

// Replace swaps the whole cache for a fresh listing from the API.
func (c *MemoryCache) Replace(dashboards []*models.Dashboard) {
	next := make(map[string]*models.Dashboard, len(dashboards))
	for _, d := range dashboards {
		next[d.ID.String()] = d
	}
	c.mu.Lock()
	c.dashboards = next
	c.mu.Unlock()
}
