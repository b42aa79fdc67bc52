package signaling

import (
	"sort"
	"sync"
)

// PresenceView is a read-only projection of who is currently online,
// derived from the last presence snapshot the client received. It is
// rebuilt wholesale on every broadcast; last write wins.
type PresenceView struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func newPresenceView() *PresenceView {
	return &PresenceView{online: make(map[string]struct{})}
}

// Online reports whether the given identity was online in the last snapshot.
func (v *PresenceView) Online(userID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.online[userID]
	return ok
}

// Snapshot returns the sorted identities from the last snapshot.
func (v *PresenceView) Snapshot() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]string, 0, len(v.online))
	for id := range v.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *PresenceView) replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	v.mu.Lock()
	v.online = next
	v.mu.Unlock()
}
