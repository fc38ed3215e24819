// Package sessionmgr implements C8: it tracks every session's deadline in
// a structure ordered by deadline and, when one lapses, submits a
// closeSession write through the pipeline rather than mutating the
// keeper store directly — replicating the expiry itself is what keeps it
// deterministic on every replica (§4.8).
package sessionmgr

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/mrshabel/raftkeeper/internal/keeper"
	"go.uber.org/zap"
)

// Submitter is the write pipeline's entry point for a session-manager-
// initiated closeSession; kept as a narrow interface so this package
// never imports internal/pipeline directly.
type Submitter interface {
	SubmitExpire(sessionID int64)
}

type entry struct {
	sessionID  int64
	timeoutMs  int32
	deadlineNs int64
	index      int // heap.Interface bookkeeping
}

type deadlineHeap []*entry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadlineNs < h[j].deadlineNs }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *deadlineHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Manager tracks session deadlines and issues new session ids. It never
// expires a session itself: Run only ever calls Submitter.SubmitExpire,
// and that write's own apply (§4.4 applyCloseSession) is what actually
// removes the session, on every replica, in log order.
type Manager struct {
	mu     sync.Mutex
	h      deadlineHeap
	byID   map[int64]*entry
	ids    *idGenerator
	submit Submitter
	logger *zap.Logger

	wake chan struct{}
}

// New builds a Manager that issues session ids prefixed by serverID (must
// be unique per cluster member, matching Raft's own LocalID convention).
func New(serverID uint8, submit Submitter) *Manager {
	return &Manager{
		byID:   make(map[int64]*entry),
		ids:    newIDGenerator(serverID, time.Now()),
		submit: submit,
		logger: zap.L().Named("session"),
		wake:   make(chan struct{}, 1),
	}
}

// NextSessionID allocates the id a new createSession entry will carry;
// the node that accepts the client's connection calls this, and the
// serverID prefix keeps ids allocated on different nodes apart.
func (m *Manager) NextSessionID() int64 { return m.ids.next() }

// Track registers sessionID (just committed via createSession) with its
// initial deadline.
func (m *Manager) Track(sessionID int64, timeoutMs int32, nowNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &entry{sessionID: sessionID, timeoutMs: timeoutMs, deadlineNs: nowNs + int64(timeoutMs)*1e6}
	m.byID[sessionID] = e
	heap.Push(&m.h, e)
	m.poke()
}

// Touch refreshes sessionID's deadline after any committed request or
// heartbeat on it (§3.2); a session this manager is not tracking yet is
// left alone until the next Sync adds it.
func (m *Manager) Touch(sessionID int64, nowNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[sessionID]
	if !ok {
		return
	}
	e.deadlineNs = nowNs + int64(e.timeoutMs)*1e6
	heap.Fix(&m.h, e.index)
	m.poke()
}

// SessionRemaining is one entry of a C7 session_sync bulk refresh: the
// follower's view of how much time sessionID has left before its
// deadline, computed from whichever connection on that follower is
// actually receiving the client's pings.
type SessionRemaining struct {
	SessionID   int64
	RemainingMs int64
}

// Snapshot reports every tracked session's remaining time as of nowNs,
// for a follower's forwarder.Client to ship as a session_sync frame.
func (m *Manager) Snapshot(nowNs int64) []SessionRemaining {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRemaining, 0, len(m.byID))
	for _, e := range m.byID {
		remaining := (e.deadlineNs - nowNs) / int64(time.Millisecond)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, SessionRemaining{SessionID: e.sessionID, RemainingMs: remaining})
	}
	return out
}

// Nudge sets sessionID's deadline directly from a remaining-ms value
// rather than recomputing it from the tracked timeoutMs; this is the
// leader-side session_sync handler's entry point (§4.7), since the
// follower's view of how recently the client pinged is more accurate
// than anything the leader itself observed.
func (m *Manager) Nudge(sessionID, remainingMs, nowNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[sessionID]
	if !ok {
		return
	}
	e.deadlineNs = nowNs + remainingMs*int64(time.Millisecond)
	heap.Fix(&m.h, e.index)
	m.poke()
}

// Forget drops sessionID, e.g. once its closeSession has applied.
func (m *Manager) Forget(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[sessionID]
	if !ok {
		return
	}
	heap.Remove(&m.h, e.index)
	delete(m.byID, sessionID)
}

// Sync replaces the tracked set wholesale from a fresh keeper snapshot
// view, used after a snapshot install or process restart when this
// manager's in-memory heap has no history to resume from.
func (m *Manager) Sync(deadlines []keeper.SessionDeadline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = m.h[:0]
	m.byID = make(map[int64]*entry, len(deadlines))
	for _, d := range deadlines {
		e := &entry{sessionID: d.SessionID, timeoutMs: d.TimeoutMs, deadlineNs: d.DeadlineNs}
		m.byID[d.SessionID] = e
		heap.Push(&m.h, e)
	}
	m.poke()
}

// poke must be called with mu held; it wakes Run so it can recompute how
// long to sleep for the new earliest deadline.
func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run blocks, submitting a closeSession expiry the instant a tracked
// session's deadline passes, until ctx is cancelled. The agent runs this
// on every node; the pipeline's SubmitExpire ignores the call on a
// follower, which only ever learns of expiry through the replicated
// closeSession entry itself.
func (m *Manager) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		m.mu.Lock()
		var wait time.Duration
		var expired []int64
		now := time.Now().UnixNano()
		for len(m.h) > 0 && m.h[0].deadlineNs <= now {
			e := heap.Pop(&m.h).(*entry)
			delete(m.byID, e.sessionID)
			expired = append(expired, e.sessionID)
		}
		if len(m.h) > 0 {
			wait = time.Duration(m.h[0].deadlineNs-now) * time.Nanosecond
		} else {
			wait = time.Hour
		}
		m.mu.Unlock()

		for _, id := range expired {
			m.logger.Info("session expired", zap.Int64("session_id", id))
			m.submit.SubmitExpire(id)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-m.wake:
		}
	}
}
