package forwarder

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/pipeline"
	"github.com/mrshabel/raftkeeper/internal/sessionmgr"
	"go.uber.org/zap"
)

// Server is the leader-side half of C7: it accepts one connection per
// follower lane off transport.Mux.ForwarderListener(), and routes every
// decoded frame into the pipeline's write path or session bookkeeping.
type Server struct {
	pipeline  *pipeline.Pipeline
	opTimeout time.Duration
	logger    *zap.Logger
}

func NewServer(p *pipeline.Pipeline, opTimeout time.Duration) *Server {
	return &Server{pipeline: p, opTimeout: opTimeout, logger: zap.L().Named("forwarder")}
}

// Serve accepts connections off ln until it errors (listener closed on
// shutdown); each connection is handled regardless of whether this node
// is still leader by the time it's handshaked, since leadership can
// change mid-flight and the per-request HandleForwarded call already
// resolves to CONNECTIONLOSS in that case.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(nc net.Conn) {
	defer nc.Close()

	hs := make([]byte, 8)
	if _, err := io.ReadFull(nc, hs); err != nil {
		return
	}
	s.logger.Debug("forwarder lane connected",
		zap.Uint32("follower_id", enc.Uint32(hs[0:4])),
		zap.Uint32("lane_id", enc.Uint32(hs[4:8])))

	if _, err := nc.Write([]byte{1}); err != nil {
		return
	}

	var writeMu sync.Mutex
	write := func(b []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		nc.Write(b)
	}

	for {
		body, err := v1.ReadFrame(nc)
		if err != nil {
			return
		}
		ff, err := decodeFollowerFrame(body)
		if err != nil {
			continue
		}
		switch ff.Type {
		case frameRequest:
			go s.handleRequest(ff, write)
		case frameHeartbeat:
			sessionID, err := decodeHeartbeatBody(ff.Body)
			if err == nil {
				s.pipeline.Heartbeat(sessionID)
			}
		case frameSessionSync:
			entries, err := decodeSessionSyncBody(ff.Body)
			if err == nil {
				s.pipeline.SessionSync(toMgrEntries(entries))
			}
		}
	}
}

func (s *Server) handleRequest(ff followerFrame, write func([]byte)) {
	rb, err := decodeRequestBody(ff.Body)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	zxid, errCode := s.pipeline.HandleForwarded(ctx, rb.SessionID, rb.Xid, rb.ArrivalTimeMs, rb.Op, rb.Payload)
	write(encodeLeaderFrame(leaderFrame{Type: frameRequest, CorrelationID: ff.CorrelationID, Err: errCode, Zxid: zxid}))
}

func toMgrEntries(entries []sessionRemaining) []sessionmgr.SessionRemaining {
	out := make([]sessionmgr.SessionRemaining, len(entries))
	for i, e := range entries {
		out[i] = sessionmgr.SessionRemaining{SessionID: e.SessionID, RemainingMs: e.RemainingMs}
	}
	return out
}
