// Package presence maintains the set of participants believed online per
// room. It is mutated only by channel-event handlers.
package presence

import (
	"sort"
	"sync"
)

// Tracker holds one presence set per room. Membership is a set: add and
// remove are idempotent, and a snapshot always replaces whatever deltas
// were applied before it.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]map[string]struct{})}
}

// Snapshot replaces the room's set with the given participants.
// Last snapshot wins over any deltas applied before it.
func (t *Tracker) Snapshot(roomID string, users []string) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u != "" {
			set[u] = struct{}{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[roomID] = set
}

// Join adds one participant to the room's set.
func (t *Tracker) Join(roomID, user string) {
	if user == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		t.rooms[roomID] = set
	}
	set[user] = struct{}{}
}

// Leave removes one participant from the room's set.
func (t *Tracker) Leave(roomID, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.rooms[roomID]; ok {
		delete(set, user)
		if len(set) == 0 {
			delete(t.rooms, roomID)
		}
	}
}

// Online returns the room's participants, sorted for stable output.
func (t *Tracker) Online(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.rooms[roomID]
	users := make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Count returns the number of participants online in the room.
func (t *Tracker) Count(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[roomID])
}

// Clear drops the room's set entirely, e.g. when the session leaves.
func (t *Tracker) Clear(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}

// RoomSizes reports the per-room set sizes for debug output.
func (t *Tracker) RoomSizes() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sizes := make(map[string]int, len(t.rooms))
	for roomID, set := range t.rooms {
		sizes[roomID] = len(set)
	}
	return sizes
}
