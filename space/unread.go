package space

import "sync"

// UnreadTracker counts unread messages per space per user.
// Counters only grow, until the user marks the space as read.
type UnreadTracker struct {
	sync.RWMutex
	// space id -> uid -> count
	kv map[string]map[int32]int
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{
		kv: make(map[string]map[int32]int),
	}
}

// OnMessageObserved increments the counter of `localUID` iff it is not the author.
func (t *UnreadTracker) OnMessageObserved(spaceID string, authorID, localUID int32) bool {
	if authorID == localUID {
		return false
	}
	t.Lock()
	v, ok := t.kv[spaceID]
	if !ok {
		v = make(map[int32]int)
		t.kv[spaceID] = v
	}
	v[localUID]++
	t.Unlock()
	return true
}

// MarkRead resets the counter, returns the previous value.
func (t *UnreadTracker) MarkRead(spaceID string, uid int32) int {
	t.Lock()
	defer t.Unlock()
	v, ok := t.kv[spaceID]
	if !ok {
		return 0
	}
	n := v[uid]
	delete(v, uid)
	return n
}

func (t *UnreadTracker) Count(spaceID string, uid int32) int {
	t.RLock()
	defer t.RUnlock()
	return t.kv[spaceID][uid]
}

// Stats returns non-zero counters of the user, keyed by space id.
func (t *UnreadTracker) Stats(uid int32) map[string]int {
	t.RLock()
	defer t.RUnlock()
	out := make(map[string]int)
	for spaceID, v := range t.kv {
		if n := v[uid]; n > 0 {
			out[spaceID] = n
		}
	}
	return out
}

// Forget drops all counters of a space.
func (t *UnreadTracker) Forget(spaceID string) {
	t.Lock()
	delete(t.kv, spaceID)
	t.Unlock()
}
