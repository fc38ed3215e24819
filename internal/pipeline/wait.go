package pipeline

import "sync"

// pendingKey identifies one outstanding request: the pipeline guarantees
// at most one apply and one response per (session_id, xid) (§4.6).
type pendingKey struct {
	sessionID int64
	xid       int64
}

// waitList is hongbing-etcd's pkg/wait.List reimplemented keyed by
// pendingKey instead of a single uint64: register a channel per key,
// Trigger delivers the one value anyone will ever send and closes it.
type waitList struct {
	mu sync.Mutex
	m  map[pendingKey]chan any
}

func newWaitList() *waitList {
	return &waitList{m: make(map[pendingKey]chan any)}
}

func (w *waitList) register(k pendingKey) <-chan any {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.m[k]
	if ch == nil {
		ch = make(chan any, 1)
		w.m[k] = ch
	}
	return ch
}

func (w *waitList) trigger(k pendingKey, v any) {
	w.mu.Lock()
	ch := w.m[k]
	delete(w.m, k)
	w.mu.Unlock()
	if ch != nil {
		ch <- v
		close(ch)
	}
}

// cancel drops a registration without delivering a value, used when a
// request is evicted for OPERATIONTIMEOUT before any result arrives.
func (w *waitList) cancel(k pendingKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.m, k)
}
