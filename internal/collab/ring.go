package collab

import "finboard-backend/internal/models"

// activityRing is a fixed-capacity ring of activity records. Once full, a
// push overwrites the oldest entry. Not safe for concurrent use; the
// EditingTracker serializes access.
type activityRing struct {
	buf  []models.UserActivityEvent
	next int
	size int
}

func newActivityRing(capacity int) *activityRing {
	return &activityRing{buf: make([]models.UserActivityEvent, capacity)}
}

func (r *activityRing) push(ev models.UserActivityEvent) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// newestFirst returns the entries most-recent-first, keeping only those the
// filter accepts.
func (r *activityRing) newestFirst(keep func(*models.UserActivityEvent) bool) []models.UserActivityEvent {
	out := make([]models.UserActivityEvent, 0, r.size)
	for i := 1; i <= r.size; i++ {
		ev := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if keep(&ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (r *activityRing) clear() {
	r.next = 0
	r.size = 0
}
