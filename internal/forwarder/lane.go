package forwarder

import (
	"errors"
	"net"
	"sync"
	"time"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/transport"
	"go.uber.org/zap"
)

var (
	errNotConnected      = errors.New("forwarder: lane not connected")
	errLaneFull          = errors.New("forwarder: lane pending map full")
	errHandshakeRejected = errors.New("forwarder: lane handshake rejected")
)

// lane is one of the fixed-size pool's persistent connections to the
// current leader (§4.7). Sessions are sharded across lanes by id hash, so
// one session's requests always use the same lane while several sessions
// may share a lane; every lane reconnects independently on leadership
// change or socket error.
type lane struct {
	id         int32
	myServerID uint8
	dialAddr   func() string
	logger     *zap.Logger
	maxPending int

	mu      sync.Mutex
	conn    net.Conn
	pending map[int64]chan leaderFrame
	nextCID int64
	closed  bool

	stop chan struct{}
}

func newLane(id int32, myServerID uint8, dialAddr func() string, maxPending int, logger *zap.Logger) *lane {
	l := &lane{
		id:         id,
		myServerID: myServerID,
		dialAddr:   dialAddr,
		maxPending: maxPending,
		pending:    make(map[int64]chan leaderFrame),
		logger:     logger,
		stop:       make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	c := l.conn
	l.mu.Unlock()
	close(l.stop)
	if c != nil {
		c.Close()
	}
}

// run owns the connect/reconnect loop: dial the current leader, perform
// the handshake, then read frames until the socket fails, at which point
// every pending entry on this lane is resolved CONNECTIONLOSS and the
// loop redials (§4.7).
func (l *lane) run() {
	backoff := 100 * time.Millisecond
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		addr := l.dialAddr()
		if addr == "" {
			time.Sleep(backoff)
			continue
		}

		conn, err := l.dial(addr)
		if err != nil {
			l.logger.Debug("lane dial failed", zap.Int32("lane", l.id), zap.Error(err))
			time.Sleep(backoff)
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		backoff = 100 * time.Millisecond

		l.readLoop(conn)

		l.mu.Lock()
		l.conn = nil
		closed := l.closed
		l.mu.Unlock()
		l.failAllPending()
		if closed {
			return
		}
	}
}

func (l *lane) dial(addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := transport.DialTagged("tcp", addr, transport.ForwarderRPC, d.Dial)
	if err != nil {
		return nil, err
	}
	hs := make([]byte, 8)
	enc.PutUint32(hs[0:4], uint32(l.myServerID))
	enc.PutUint32(hs[4:8], uint32(l.id))
	if _, err := conn.Write(hs); err != nil {
		conn.Close()
		return nil, err
	}
	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil {
		conn.Close()
		return nil, err
	}
	if ack[0] == 0 {
		conn.Close()
		return nil, errHandshakeRejected
	}
	return conn, nil
}

func (l *lane) readLoop(conn net.Conn) {
	for {
		body, err := v1.ReadFrame(conn)
		if err != nil {
			return
		}
		lf, err := decodeLeaderFrame(body)
		if err != nil {
			continue
		}
		l.mu.Lock()
		ch := l.pending[lf.CorrelationID]
		delete(l.pending, lf.CorrelationID)
		l.mu.Unlock()
		if ch != nil {
			ch <- lf
			close(ch)
		}
	}
}

func (l *lane) failAllPending() {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[int64]chan leaderFrame)
	l.mu.Unlock()
	for _, ch := range pending {
		ch <- leaderFrame{Err: v1.ErrConnectionLoss}
		close(ch)
	}
}

// send writes a followerFrame and, for frameRequest, registers a pending
// entry keyed by the returned correlation id; callers of frameHeartbeat
// and frameSessionSync pass waitAck=false and get back a nil channel.
func (l *lane) send(typ frameType, body []byte, waitAck bool) (<-chan leaderFrame, int64, error) {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return nil, 0, errNotConnected
	}
	l.nextCID++
	cid := l.nextCID
	var ch chan leaderFrame
	if waitAck {
		if len(l.pending) >= l.maxPending {
			l.mu.Unlock()
			return nil, 0, errLaneFull
		}
		ch = make(chan leaderFrame, 1)
		l.pending[cid] = ch
	}
	l.mu.Unlock()

	frame := encodeFollowerFrame(followerFrame{Type: typ, CorrelationID: cid, Body: body})
	if _, err := conn.Write(frame); err != nil {
		if waitAck {
			l.mu.Lock()
			delete(l.pending, cid)
			l.mu.Unlock()
		}
		conn.Close()
		return nil, 0, err
	}
	return ch, cid, nil
}

// cancelPending drops a registered correlation id without delivering,
// used when the caller's context expires before the leader's ack
// arrives.
func (l *lane) cancelPending(cid int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, cid)
}

func (l *lane) pendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// laneFor picks the lane index a session id hashes to, out of n lanes.
func laneFor(sessionID int64, n int) int {
	u := uint64(sessionID)
	u ^= u >> 33
	u *= 0xff51afd7ed558ccd
	u ^= u >> 33
	return int(u % uint64(n))
}
