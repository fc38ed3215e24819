// Package pipeline implements C6: receive -> dispatch (read vs write) ->
// write pipeline (leader accumulator / follower forwarder) -> respond,
// with per-session ordering and watch notifications interleaved no
// earlier than the response carrying the same zxid (§4.6).
package pipeline

import (
	"context"
	"time"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/keeper"
	"github.com/mrshabel/raftkeeper/internal/raftfsm"
	"github.com/mrshabel/raftkeeper/internal/sessionmgr"
	"go.uber.org/zap"
)

// Forwarder is C7's client-facing surface as seen from the pipeline: a
// follower routes every write through it instead of raftfsm.Adapter.
type Forwarder interface {
	Forward(ctx context.Context, sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte) (keeper.Response, []keeper.Event, error)
	Heartbeat(sessionID int64)
}

// Observer is C9's narrow metrics surface; Pipeline calls it inline as
// requests and watch events flow through, nil-safe when no admin surface
// is configured.
type Observer interface {
	ObserveRequest(op v1.OpCode, errCode v1.ErrorCode)
	ObserveWatchFire()
}

// Pipeline ties together C4 (direct local reads), C5 (leader writes), C7
// (follower writes) and C8 (expiry submission), and is the fsm.Sink every
// committed entry is delivered to.
type Pipeline struct {
	store       *keeper.Store
	adapter     *raftfsm.Adapter
	forwarder   Forwarder
	sessions    *sessionmgr.Manager
	waits       *waitList
	conns       *connRegistry
	accumulator *accumulator
	opTimeout   time.Duration
	obs         Observer
	logger      *zap.Logger
}

// SetObserver attaches C9's metrics surface; called once during agent
// wiring, after New, before Run.
func (p *Pipeline) SetObserver(o Observer) { p.obs = o }

// SetForwarder attaches C7's follower-side client once it exists; it
// can't be supplied to New up front because forwarder.Client's own
// constructor needs the *Pipeline that is being built.
func (p *Pipeline) SetForwarder(f Forwarder) { p.forwarder = f }

var _ raftfsm.Sink = (*Pipeline)(nil)
var _ sessionmgr.Submitter = (*Pipeline)(nil)

// New builds a Pipeline. adapter is this node's raftfsm.Adapter (used
// when leader); forwarder is used when follower. maxBatch/linger size
// the leader-side accumulator (§4.6 stage 3;
// `coordination.max_batch_size`/`batch_linger_ms`).
func New(store *keeper.Store, adapter *raftfsm.Adapter, forwarder Forwarder, sessions *sessionmgr.Manager, opTimeout time.Duration, maxBatch int, linger time.Duration) *Pipeline {
	p := &Pipeline{
		store:     store,
		adapter:   adapter,
		forwarder: forwarder,
		sessions:  sessions,
		waits:     newWaitList(),
		conns:     newConnRegistry(),
		opTimeout: opTimeout,
		logger:    zap.L().Named("pipeline"),
	}
	p.accumulator = newAccumulator(maxBatch, linger, p.fireTask)
	return p
}

// Run starts the accumulator's batching loop; call in a goroutine,
// cancel stop on shutdown.
func (p *Pipeline) Run(stop <-chan struct{}) {
	p.accumulator.run(stop)
}

// RunSessionSync periodically refreshes C8's deadline heap from C4's
// canonical session state (every `coordination.session_sync_period_ms`).
// Every node runs this, not just the leader: it's what lets the session
// manager notice deadlines extended by requests the accumulator applied
// directly, without threading Track/Touch calls through Deliver, and
// it's also what keeps a follower's own Manager fresh enough to serve as
// the source for the session_sync frames its forwarder.Client pushes
// upstream (§4.7). Manager.Run is started on every node, but
// SubmitExpire does nothing unless this node is the leader, so only the
// leader actually submits expiries from this tracked state.
func (p *Pipeline) RunSessionSync(stop <-chan struct{}, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sessions.Sync(p.store.SessionDeadlines())
		case <-stop:
			return
		}
	}
}

// fireTask issues one batched write task's ApplyAsync call; the result
// is correlated back to whichever goroutine is waiting on it (if any)
// through Deliver, not through this call's return value.
func (p *Pipeline) fireTask(t writeTask) {
	future := p.adapter.ApplyAsync(t.sessionID, t.xid, t.arrivalTimeMs, t.op, t.body, p.opTimeout)
	go func() {
		if err := future.Error(); err != nil {
			p.waits.trigger(pendingKey{sessionID: t.sessionID, xid: t.xid}, raftfsm.ApplyResult{
				SessionID: t.sessionID, Xid: t.xid, Err: v1.NewError(v1.ErrOperationTimeout),
			})
		}
	}()
}

// Deliver implements raftfsm.Sink: called from inside fsm.Apply (never
// blocking on I/O per §5) for every committed entry, leader or follower.
// It resolves the pending-response wait (if this node originated the
// request) and fans out any watch events to locally-attached
// connections.
func (p *Pipeline) Deliver(res raftfsm.ApplyResult) {
	p.waits.trigger(pendingKey{sessionID: res.SessionID, xid: res.Xid}, res)
	for _, ev := range res.Events {
		p.conns.notify(ev.SessionID, ev.Notify)
		if p.obs != nil {
			p.obs.ObserveWatchFire()
		}
	}
}

// SubmitExpire implements sessionmgr.Submitter: C8 calls this instead of
// mutating session state directly, so expiry replicates like any other
// write (§4.8).
func (p *Pipeline) SubmitExpire(sessionID int64) {
	if p.adapter == nil || !p.adapter.IsLeader() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.opTimeout)
	defer cancel()
	if _, _, err := p.submitWrite(ctx, sessionID, 0, nowMs(), v1.OpClose, nil); err != nil {
		p.logger.Warn("session expire submit failed", zap.Int64("session_id", sessionID), zap.Error(err))
	}
}

// Dispatch is the §4.6 stage-2 entry point called per request off a
// connection's receive loop. arrivalTimeMs is stamped once, by whichever
// node first received the frame off the wire (§3.5), and survives
// through to C5's replicated entry even if this node ends up forwarding
// the write to the leader. allowLocalRead controls whether this node may
// answer a pure read from its own store (the agent passes true on the
// leader, and on a follower only when `coordination.allow_stale_reads` is
// set). Otherwise the read goes through submitWrite like a write; an
// earlier `sync` on the session does not change that.
func (p *Pipeline) Dispatch(ctx context.Context, sessionID, xid int64, op v1.OpCode, body []byte, arrivalTimeMs int64, allowLocalRead bool) (keeper.Response, []keeper.Event, error) {
	if !keeper.IsWrite(op) && allowLocalRead {
		req, err := keeper.DecodeRequest(op, body)
		if err != nil {
			return keeper.Response{}, nil, err
		}
		return p.store.Apply(req, sessionID, arrivalTimeMs, int64(lastIndex(p)))
	}

	return p.submitWrite(ctx, sessionID, xid, arrivalTimeMs, op, body)
}

func (p *Pipeline) submitWrite(ctx context.Context, sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte) (keeper.Response, []keeper.Event, error) {
	if p.adapter != nil && p.adapter.IsLeader() {
		res, err := p.applyViaRaft(ctx, sessionID, xid, arrivalTimeMs, op, body)
		return res.Resp, res.Events, err
	}
	if p.forwarder != nil {
		return p.forwarder.Forward(ctx, sessionID, xid, arrivalTimeMs, op, body)
	}
	return keeper.Response{}, nil, v1.NewError(v1.ErrConnectionLoss)
}

// applyViaRaft queues the write with the accumulator and waits on the
// correlation entry Deliver resolves once Raft commits and applies it,
// or on ctx expiring (resolved as OPERATIONTIMEOUT, §5's eviction rule).
func (p *Pipeline) applyViaRaft(ctx context.Context, sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte) (raftfsm.ApplyResult, error) {
	key := pendingKey{sessionID: sessionID, xid: xid}
	ch := p.waits.register(key)
	p.accumulator.enqueue(writeTask{sessionID: sessionID, xid: xid, op: op, body: body, arrivalTimeMs: arrivalTimeMs})

	select {
	case v := <-ch:
		res := v.(raftfsm.ApplyResult)
		return res, res.Err
	case <-ctx.Done():
		p.waits.cancel(key)
		return raftfsm.ApplyResult{}, v1.NewError(v1.ErrOperationTimeout)
	}
}

// HandleForwarded is C7 server-side leader's entry point for a write
// forwarded from a follower lane; it returns only the zxid/error a
// forwarder response frame carries (§4.7), not the full typed response,
// since the follower already holds the original client connection and
// only needs the committed zxid plus error code to reply to its client
// (the follower's own replication of this same entry, resolved through
// Deliver, is what actually supplies that client its response body).
func (p *Pipeline) HandleForwarded(ctx context.Context, sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte) (int64, v1.ErrorCode) {
	if p.adapter == nil || !p.adapter.IsLeader() {
		return 0, v1.ErrConnectionLoss
	}
	res, err := p.applyViaRaft(ctx, sessionID, xid, arrivalTimeMs, op, body)
	return res.Zxid, v1.CodeOf(err)
}

// BeginLocalWait registers this node's interest in (sessionID, xid)'s
// eventual Deliver. C7's forwarder.Client calls this before it even sends
// a forwarded write to the leader, so that this follower's own later
// replication of the leader-committed entry resolves the original caller
// directly through Deliver — the same correlation path a leader-local
// write uses — without needing the full response body shipped back over
// the forwarder wire (only error+zxid cross that wire, per §4.7).
func (p *Pipeline) BeginLocalWait(sessionID, xid int64) *LocalWait {
	key := pendingKey{sessionID: sessionID, xid: xid}
	return &LocalWait{p: p, key: key, ch: p.waits.register(key)}
}

// LocalWait is one outstanding BeginLocalWait registration.
type LocalWait struct {
	p   *Pipeline
	key pendingKey
	ch  <-chan any
}

// Await blocks for Deliver or ctx expiring (OPERATIONTIMEOUT, §5).
func (w *LocalWait) Await(ctx context.Context) (keeper.Response, []keeper.Event, error) {
	select {
	case v := <-w.ch:
		res := v.(raftfsm.ApplyResult)
		return res.Resp, res.Events, res.Err
	case <-ctx.Done():
		w.p.waits.cancel(w.key)
		return keeper.Response{}, nil, v1.NewError(v1.ErrOperationTimeout)
	}
}

// Cancel drops the registration without waiting, used when the leader's
// forwarder ack itself already reported a failure (so no entry will ever
// replicate down to resolve it).
func (w *LocalWait) Cancel() { w.p.waits.cancel(w.key) }

// Heartbeat refreshes sessionID's deadline directly, used by the C7
// leader-side forwarder handler for a follower's single-session
// heartbeat frame (the fast path a ping takes, vs. session_sync's
// periodic bulk refresh).
func (p *Pipeline) Heartbeat(sessionID int64) {
	p.sessions.Touch(sessionID, nowNs())
}

// NotifyPing is a connection's receive loop's entry point for a client
// ping (§3.2): it always refreshes this node's own local view of the
// session, and additionally relays to the leader via the forwarder's
// single-session heartbeat frame when this node is a follower, so the
// leader's deadline tracking doesn't lapse a session whose pings only
// ever reach a follower.
func (p *Pipeline) NotifyPing(sessionID int64) {
	p.sessions.Touch(sessionID, nowNs())
	if p.forwarder != nil && (p.adapter == nil || !p.adapter.IsLeader()) {
		p.forwarder.Heartbeat(sessionID)
	}
}

// SessionSync applies a follower's bulk session_sync refresh, used by
// the C7 leader-side forwarder handler.
func (p *Pipeline) SessionSync(entries []sessionmgr.SessionRemaining) {
	now := nowNs()
	for _, e := range entries {
		p.sessions.Nudge(e.SessionID, e.RemainingMs, now)
	}
}

// SessionSnapshot reports this node's own tracked sessions' remaining
// time, used by a follower's forwarder.Client to build outgoing
// session_sync frames.
func (p *Pipeline) SessionSnapshot() []sessionmgr.SessionRemaining {
	return p.sessions.Snapshot(nowNs())
}

// Sync blocks until this node's applied index reaches
// adapter.LastCommitIndex as of the call. LastCommitIndex is this node's
// own applied index, so Sync does not wait for entries the leader has
// committed but this node has not yet applied. Nothing in this package
// calls Sync: a client `sync` request goes through Dispatch.
func (p *Pipeline) Sync(ctx context.Context) error {
	if p.adapter == nil {
		return v1.NewError(v1.ErrConnectionLoss)
	}
	target := p.adapter.LastCommitIndex()
	return p.adapter.WaitForCatchUp(ctx, target)
}

// ObserveRequest forwards one completed request to the attached
// Observer, if any; called by conn.go once a response is ready.
func (p *Pipeline) ObserveRequest(op v1.OpCode, errCode v1.ErrorCode) {
	if p.obs != nil {
		p.obs.ObserveRequest(op, errCode)
	}
}

// RegisterConn / UnregisterConn attach or detach a connection's watch
// delivery channel, keyed by session id, so Deliver can fan out events.
func (p *Pipeline) RegisterConn(sessionID int64, deliver chan<- v1.WatchEvent) {
	p.conns.register(sessionID, deliver)
}

func (p *Pipeline) UnregisterConn(sessionID int64) {
	p.conns.unregister(sessionID)
}

func nowMs() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

func nowNs() int64 { return time.Now().UnixNano() }

func lastIndex(p *Pipeline) uint64 {
	idx, _ := p.store.LastApplied()
	return idx
}
