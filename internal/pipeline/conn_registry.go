package pipeline

import (
	"sync"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

// connRegistry maps a locally-attached session to the channel its
// respond-stage goroutine reads watch events from; a session forwarded
// from elsewhere in the cluster (not connected to this node) has no
// entry and its events are simply not delivered here.
type connRegistry struct {
	mu sync.RWMutex
	m  map[int64]chan<- v1.WatchEvent
}

func newConnRegistry() *connRegistry {
	return &connRegistry{m: make(map[int64]chan<- v1.WatchEvent)}
}

func (r *connRegistry) register(sessionID int64, ch chan<- v1.WatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[sessionID] = ch
}

func (r *connRegistry) unregister(sessionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, sessionID)
}

func (r *connRegistry) notify(sessionID int64, ev v1.WatchEvent) {
	r.mu.RLock()
	ch := r.m[sessionID]
	r.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		// respond-stage goroutine is behind; watch delivery is
		// best-effort like ZooKeeper's own (a slow client drops
		// events rather than blocking the pipeline).
	}
}
