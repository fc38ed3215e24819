package forwarder

import (
	"context"
	"time"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/keeper"
	"github.com/mrshabel/raftkeeper/internal/pipeline"
	"github.com/mrshabel/raftkeeper/internal/raftfsm"
	"go.uber.org/zap"
)

// Client is the follower-side half of C7: a fixed-size pool of lanes
// relaying writes to whichever node raftfsm.Adapter currently reports as
// leader, implementing pipeline.Forwarder.
type Client struct {
	lanes    []*lane
	adapter  *raftfsm.Adapter
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	stop     chan struct{}
}

var _ pipeline.Forwarder = (*Client)(nil)

// New starts lanes persistent connections, each independently dialing
// whichever address adapter.Leader() currently reports.
func New(myServerID uint8, lanes int, maxPendingPerLane int, adapter *raftfsm.Adapter, pl *pipeline.Pipeline) *Client {
	c := &Client{
		adapter:  adapter,
		pipeline: pl,
		logger:   zap.L().Named("forwarder"),
		stop:     make(chan struct{}),
	}
	dialAddr := func() string {
		if adapter.IsLeader() {
			return ""
		}
		return adapter.Leader()
	}
	for i := 0; i < lanes; i++ {
		c.lanes = append(c.lanes, newLane(int32(i), myServerID, dialAddr, maxPendingPerLane, c.logger))
	}
	return c
}

func (c *Client) Close() {
	close(c.stop)
	for _, l := range c.lanes {
		l.close()
	}
}

// RunSessionSync periodically pushes this follower's own tracked session
// deadlines to the leader as a bulk session_sync frame (§4.7), via lane 0
// since the refresh covers every session regardless of shard.
func (c *Client) RunSessionSync(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.adapter.IsLeader() || len(c.lanes) == 0 {
				continue
			}
			entries := c.pipeline.SessionSnapshot()
			if len(entries) == 0 {
				continue
			}
			out := make([]sessionRemaining, len(entries))
			for i, e := range entries {
				out[i] = sessionRemaining{SessionID: e.SessionID, RemainingMs: e.RemainingMs}
			}
			c.lanes[0].send(frameSessionSync, encodeSessionSyncBody(out), false)
		case <-c.stop:
			return
		}
	}
}

// Heartbeat relays a single session's ping to the leader immediately,
// the fast path §4.7 describes alongside session_sync's periodic bulk
// refresh.
func (c *Client) Heartbeat(sessionID int64) {
	if c.adapter.IsLeader() {
		return
	}
	l := c.lanes[laneFor(sessionID, len(c.lanes))]
	l.send(frameHeartbeat, encodeHeartbeatBody(sessionID), false)
}

// Forward implements pipeline.Forwarder: it registers this follower's own
// interest in (sessionID, xid) before ever writing to the wire, relays
// the write to the leader's lane, and either fails fast on the leader's
// ack (immediate rejection, e.g. ErrConnectionLoss if the target lost
// leadership between dial and ack) or blocks for this node's own later
// replication of the committed entry to resolve the original response
// (§4.7; see Pipeline.BeginLocalWait).
func (c *Client) Forward(ctx context.Context, sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte) (keeper.Response, []keeper.Event, error) {
	wait := c.pipeline.BeginLocalWait(sessionID, xid)

	l := c.lanes[laneFor(sessionID, len(c.lanes))]
	reqBody := encodeRequestBody(requestBody{
		SessionID:     sessionID,
		Xid:           xid,
		Op:            op,
		ArrivalTimeMs: arrivalTimeMs,
		Payload:       body,
	})
	ch, cid, err := l.send(frameRequest, reqBody, true)
	if err != nil {
		wait.Cancel()
		return keeper.Response{}, nil, v1.NewError(v1.ErrConnectionLoss)
	}

	select {
	case lf := <-ch:
		if lf.Err != v1.ErrOK {
			wait.Cancel()
			return keeper.Response{}, nil, v1.NewError(lf.Err)
		}
	case <-ctx.Done():
		l.cancelPending(cid)
		wait.Cancel()
		return keeper.Response{}, nil, v1.NewError(v1.ErrOperationTimeout)
	}

	return wait.Await(ctx)
}
