package collab

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"finboard-backend/internal/models"
)

const (
	editingSessionTTL = 30 * time.Second
	staleSweepEvery   = 10 * time.Second
	activityCapacity  = 50
	activityMaxAge    = 5 * time.Minute
	cursorTTL         = 5 * time.Second
	cursorThrottle    = 100 * time.Millisecond
)

// EditingSession is a peer's advisory claim on a widget. It signals intent
// only; nothing stops concurrent edits.
type EditingSession struct {
	UserID       string
	WidgetID     string
	StartTime    time.Time
	LastActivity time.Time
}

// EditingTracker maintains per-widget editing sessions, a bounded feed of
// user activity, and throttled cursor positions for the current room. All
// tables are ephemeral and discarded on room switch. Events originating
// from the local user are ignored on the inbound path.
type EditingTracker struct {
	transport   *Transport
	localUserID string

	mu        sync.Mutex
	enabled   bool
	sessions  map[string]map[string]*EditingSession // widgetID → userID
	activity  *activityRing
	cursors   map[string]*models.CursorPositionEvent // userID+"\x00"+widgetID
	now       func() time.Time
	stopSweep chan struct{}

	// Trailing-edge cursor throttle: at most one send per window, carrying
	// the latest position.
	cursorPending *models.CursorPositionEvent
	cursorTimer   *time.Timer

	unsubs []func()
}

func NewEditingTracker(t *Transport, localUserID string) *EditingTracker {
	e := &EditingTracker{
		transport:   t,
		localUserID: localUserID,
		enabled:     true,
		sessions:    make(map[string]map[string]*EditingSession),
		activity:    newActivityRing(activityCapacity),
		cursors:     make(map[string]*models.CursorPositionEvent),
		now:         time.Now,
		stopSweep:   make(chan struct{}),
	}

	e.unsubs = append(e.unsubs,
		t.Subscribe(models.MsgWidgetEditing, e.handleWidgetEditing),
		t.Subscribe(models.MsgUserActivity, e.handleActivity),
		t.Subscribe(models.MsgCursorPosition, e.handleCursor),
	)

	go e.sweepLoop()
	return e
}

// SetEnabled toggles tracking. While disabled nothing is broadcast.
func (e *EditingTracker) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// StartEditingSession claims the widget for the local user and tells the
// room.
func (e *EditingTracker) StartEditingSession(widgetID string) {
	now := e.clockNow()
	e.mu.Lock()
	e.upsertSession(e.localUserID, widgetID, now, now)
	e.mu.Unlock()

	e.sendEditing(widgetID, models.EditingStart)
}

// UpdateEditingActivity refreshes the local user's claim on the widget.
func (e *EditingTracker) UpdateEditingActivity(widgetID string) {
	now := e.clockNow()
	e.mu.Lock()
	if byUser := e.sessions[widgetID]; byUser != nil && byUser[e.localUserID] != nil {
		byUser[e.localUserID].LastActivity = now
	} else {
		e.upsertSession(e.localUserID, widgetID, now, now)
	}
	e.mu.Unlock()

	e.sendEditing(widgetID, models.EditingUpdate)
}

// EndEditingSession releases the claim and tells the room.
func (e *EditingTracker) EndEditingSession(widgetID string) {
	e.mu.Lock()
	e.removeSession(e.localUserID, widgetID)
	e.mu.Unlock()

	e.sendEditing(widgetID, models.EditingEnd)
}

// BroadcastActivity records the local user's action in the feed and
// broadcasts it.
func (e *EditingTracker) BroadcastActivity(action models.ActivityAction, widgetID string) {
	ev := models.UserActivityEvent{
		UserID:    e.localUserID,
		Action:    action,
		WidgetID:  widgetID,
		Timestamp: models.NowMillis(),
	}

	e.mu.Lock()
	e.activity.push(ev)
	enabled := e.enabled
	e.mu.Unlock()

	if !enabled || !e.transport.Connected() {
		return
	}
	if err := e.transport.Send(models.MsgUserActivity, ev); err != nil {
		log.Printf("collab: activity broadcast failed: %v", err)
	}
}

// UpdateCursorPosition broadcasts the local cursor, throttled to one send
// per 100ms. Calls inside the window are coalesced into a single
// trailing-edge send carrying the latest position.
func (e *EditingTracker) UpdateCursorPosition(pos models.Position, widgetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled || !e.transport.Connected() {
		return
	}

	// Trailing edge only: the first call in an idle window arms the timer,
	// later calls just replace the pending position. One send per window,
	// always the latest position.
	e.cursorPending = &models.CursorPositionEvent{
		UserID:   e.localUserID,
		WidgetID: widgetID,
		Position: pos,
	}
	if e.cursorTimer == nil {
		e.cursorTimer = time.AfterFunc(cursorThrottle, e.flushCursor)
	}
}

// UsersEditingWidget returns the ids of users holding a fresh claim on the
// widget.
func (e *EditingTracker) UsersEditingWidget(widgetID string) []string {
	now := e.clockNow()
	e.mu.Lock()
	defer e.mu.Unlock()

	users := []string{}
	for userID, s := range e.sessions[widgetID] {
		if now.Sub(s.LastActivity) <= editingSessionTTL {
			users = append(users, userID)
		}
	}
	return users
}

// RecentActivities returns the feed most-recent-first, dropping records
// older than maxAge. Zero maxAge means the default five minutes.
func (e *EditingTracker) RecentActivities(maxAge time.Duration) []models.UserActivityEvent {
	if maxAge <= 0 {
		maxAge = activityMaxAge
	}
	cutoff := e.clockNow().Add(-maxAge).UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activity.newestFirst(func(ev *models.UserActivityEvent) bool {
		return ev.Timestamp >= cutoff
	})
}

// CursorPositions returns fresh peer cursors, optionally narrowed to one
// widget.
func (e *EditingTracker) CursorPositions(widgetID string) []*models.CursorPositionEvent {
	cutoff := e.clockNow().Add(-cursorTTL).UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	out := []*models.CursorPositionEvent{}
	for _, c := range e.cursors {
		if c.Timestamp < cutoff {
			continue
		}
		if widgetID != "" && c.WidgetID != widgetID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Reset discards all per-room tables and cancels the pending cursor send.
// Called on room switch.
func (e *EditingTracker) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions = make(map[string]map[string]*EditingSession)
	e.activity.clear()
	e.cursors = make(map[string]*models.CursorPositionEvent)
	e.cancelCursorLocked()
}

// Close stops the sweep loop, cancels timers and unsubscribes. The tracker
// must not be used afterwards.
func (e *EditingTracker) Close() {
	e.mu.Lock()
	close(e.stopSweep)
	e.cancelCursorLocked()
	e.mu.Unlock()

	for _, unsub := range e.unsubs {
		unsub()
	}
}

// ─── Inbound handlers ───

func (e *EditingTracker) handleWidgetEditing(data json.RawMessage) {
	var ev models.WidgetEditingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("collab: malformed widget_editing event: %v", err)
		return
	}
	if ev.UserID == e.localUserID {
		return
	}

	now := e.clockNow()
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Action {
	case models.EditingStart:
		e.upsertSession(ev.UserID, ev.WidgetID, now, now)
	case models.EditingUpdate:
		if byUser := e.sessions[ev.WidgetID]; byUser != nil && byUser[ev.UserID] != nil {
			byUser[ev.UserID].LastActivity = now
		} else {
			e.upsertSession(ev.UserID, ev.WidgetID, now, now)
		}
	case models.EditingEnd:
		e.removeSession(ev.UserID, ev.WidgetID)
	}
}

func (e *EditingTracker) handleActivity(data json.RawMessage) {
	var ev models.UserActivityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("collab: malformed user_activity event: %v", err)
		return
	}
	if ev.UserID == e.localUserID {
		return
	}

	e.mu.Lock()
	e.activity.push(ev)
	e.mu.Unlock()
}

func (e *EditingTracker) handleCursor(data json.RawMessage) {
	var ev models.CursorPositionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("collab: malformed cursor_position event: %v", err)
		return
	}
	if ev.UserID == e.localUserID {
		return
	}

	// Stamp arrival locally; staleness must not depend on the sender's
	// clock.
	ev.Timestamp = e.clockNow().UnixMilli()

	e.mu.Lock()
	e.cursors[ev.UserID+"\x00"+ev.WidgetID] = &ev
	e.mu.Unlock()
}

// ─── Internals ───

func (e *EditingTracker) upsertSession(userID, widgetID string, start, last time.Time) {
	byUser := e.sessions[widgetID]
	if byUser == nil {
		byUser = make(map[string]*EditingSession)
		e.sessions[widgetID] = byUser
	}
	byUser[userID] = &EditingSession{
		UserID:       userID,
		WidgetID:     widgetID,
		StartTime:    start,
		LastActivity: last,
	}
}

func (e *EditingTracker) removeSession(userID, widgetID string) {
	if byUser := e.sessions[widgetID]; byUser != nil {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(e.sessions, widgetID)
		}
	}
}

func (e *EditingTracker) sendEditing(widgetID string, action models.EditingAction) {
	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()

	if !enabled || !e.transport.Connected() {
		log.Printf("collab: widget_editing %s for %s not broadcast (enabled=%v, transport %s)",
			action, widgetID, enabled, e.transport.State())
		return
	}

	ev := models.WidgetEditingEvent{
		UserID:    e.localUserID,
		WidgetID:  widgetID,
		Action:    action,
		Timestamp: models.NowMillis(),
	}
	if err := e.transport.Send(models.MsgWidgetEditing, ev); err != nil {
		log.Printf("collab: widget_editing broadcast failed: %v", err)
	}
}

func (e *EditingTracker) sendCursorLocked(ev *models.CursorPositionEvent) {
	if err := e.transport.Send(models.MsgCursorPosition, ev); err != nil {
		log.Printf("collab: cursor broadcast failed: %v", err)
	}
}

func (e *EditingTracker) flushCursor() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cursorTimer = nil
	ev := e.cursorPending
	e.cursorPending = nil

	if ev == nil || !e.enabled || !e.transport.Connected() {
		return
	}
	ev.Timestamp = e.clockNow().UnixMilli()
	e.sendCursorLocked(ev)
}

func (e *EditingTracker) cancelCursorLocked() {
	if e.cursorTimer != nil {
		e.cursorTimer.Stop()
		e.cursorTimer = nil
	}
	e.cursorPending = nil
}

func (e *EditingTracker) sweepLoop() {
	ticker := time.NewTicker(staleSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopSweep:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep evicts time-expired sessions and cursors and prunes the activity
// feed. Reads filter by the same thresholds, so a record surviving until
// the next sweep is never observable past its TTL.
func (e *EditingTracker) sweep() {
	now := e.clockNow()
	activityCutoff := now.Add(-activityMaxAge).UnixMilli()
	cursorCutoff := now.Add(-cursorTTL).UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	for widgetID, byUser := range e.sessions {
		for userID, s := range byUser {
			if now.Sub(s.LastActivity) > editingSessionTTL {
				delete(byUser, userID)
			}
		}
		if len(byUser) == 0 {
			delete(e.sessions, widgetID)
		}
	}

	for key, c := range e.cursors {
		if c.Timestamp < cursorCutoff {
			delete(e.cursors, key)
		}
	}

	fresh := e.activity.newestFirst(func(ev *models.UserActivityEvent) bool {
		return ev.Timestamp >= activityCutoff
	})
	e.activity.clear()
	for i := len(fresh) - 1; i >= 0; i-- {
		e.activity.push(fresh[i])
	}
}

// clockNow must stay lock-free: callers invoke it both with and without
// e.mu held. Tests swap e.now before any concurrent use.
func (e *EditingTracker) clockNow() time.Time {
	return e.now()
}

