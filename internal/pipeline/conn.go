package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/keeper"
	"go.uber.org/zap"
)

// Server accepts client connections and runs each through the §4.6
// receive/respond stages. One Conn per accepted socket, matching the
// teacher's one-goroutine-per-connection shape in its gRPC handlers
// generalized to this package's raw framed protocol.
type Server struct {
	pipeline  *Pipeline
	allowRead func(sessionID int64) bool
	logger    *zap.Logger
}

func NewServer(p *Pipeline, allowRead func(sessionID int64) bool) *Server {
	return &Server{pipeline: p, allowRead: allowRead, logger: zap.L().Named("pipeline")}
}

// Serve accepts connections off ln until it returns an error (listener
// closed on shutdown).
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

	c := &clientConn{
		nc:     nc,
		events: make(chan v1.WatchEvent, 64),
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
		server: s,
	}

	if err := c.handshake(); err != nil {
		s.logger.Debug("handshake failed", zap.Error(err), zap.String("remote", nc.RemoteAddr().String()))
		return
	}
	defer s.pipeline.UnregisterConn(c.sessionID)
	s.pipeline.RegisterConn(c.sessionID, c.events)

	go c.respondLoop()
	c.receiveLoop()
	close(c.done)
}

// clientConn is the per-connection state: one owning goroutine reads
// requests (receiveLoop) and dispatches each to the pipeline; a second
// goroutine (respondLoop) drains responses and watch events back to the
// wire, in session order, exactly the split §4.6 stage 4 describes.
type clientConn struct {
	nc        net.Conn
	server    *Server
	sessionID int64
	lastZxid  int64

	events chan v1.WatchEvent
	out    chan []byte
	done   chan struct{}
}

func (c *clientConn) handshake() error {
	frame, err := v1.ReadFrame(c.nc)
	if err != nil {
		return err
	}
	req, err := v1.DecodeConnectRequest(frame)
	if err != nil {
		return err
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}

	var sessionID int64
	var resp keeper.Response
	var applyErr error
	if req.SessionID != 0 {
		sessionID = req.SessionID
	} else {
		sessionID = c.server.pipeline.sessions.NextSessionID()
		csReq := &v1.CreateSessionRequest{TimeoutMs: timeoutMs}
		resp, _, applyErr = c.server.pipeline.submitWrite(context.Background(), sessionID, 0, nowMs(), v1.OpCreateSessionInternal, csReq.Encode())
		if applyErr != nil {
			return applyErr
		}
		sessionID = resp.SessionID
	}
	c.sessionID = sessionID

	respFrame := &v1.ConnectResponse{
		ProtocolVersion: req.ProtocolVersion,
		TimeoutMs:       timeoutMs,
		SessionID:       sessionID,
	}
	_, err = c.nc.Write(v1.EncodeResponse(0, 0, v1.ErrOK, respFrame.Encode()))
	return err
}

func (c *clientConn) receiveLoop() {
	for {
		frame, err := v1.ReadFrame(c.nc)
		if err != nil {
			return
		}
		arrivalTimeMs := nowMs()
		hdr, body, err := v1.DecodeRequestHeader(frame)
		if err != nil {
			return
		}

		if hdr.OpCode == v1.OpPing {
			c.server.pipeline.NotifyPing(c.sessionID)
			c.out <- v1.EncodeResponse(v1.XidPing, c.lastZxid, v1.ErrOK, nil)
			continue
		}
		if hdr.OpCode == v1.OpClose {
			c.submitAndReply(hdr.Xid, hdr.OpCode, body, arrivalTimeMs)
			return
		}

		c.submitAndReply(hdr.Xid, hdr.OpCode, body, arrivalTimeMs)
	}
}

func (c *clientConn) submitAndReply(xid int64, op v1.OpCode, body []byte, arrivalTimeMs int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.server.opTimeout())
	defer cancel()

	allowRead := c.server.allowRead != nil && c.server.allowRead(c.sessionID)
	resp, _, err := c.server.pipeline.Dispatch(ctx, c.sessionID, xid, op, body, arrivalTimeMs, allowRead)

	errCode := v1.CodeOf(err)
	c.server.pipeline.ObserveRequest(op, errCode)
	var respBody []byte
	var zxid int64
	if errCode == v1.ErrOK {
		respBody = keeper.EncodeResponseBody(op, resp)
		zxid = c.lastZxid
		c.lastZxid = zxid
	}
	c.out <- v1.EncodeResponse(xid, zxid, errCode, respBody)
}

// respondLoop is the connection's sole writer, draining c.out (request
// responses, pushed in receive order by receiveLoop) and c.events (watch
// notifications, pushed by Pipeline.Deliver) so the two can never race
// on the socket; since receiveLoop only enqueues a response after its
// triggering request has fully applied, a watch event for zxid Z can
// only reach c.events after the matching response for Z was already
// queued, satisfying §4.6's ordering rule.
func (c *clientConn) respondLoop() {
	for {
		select {
		case b := <-c.out:
			c.write(b)
		case ev := <-c.events:
			c.write(v1.EncodeResponse(v1.XidNotify, -1, v1.ErrOK, ev.Encode()))
		case <-c.done:
			return
		}
	}
}

func (c *clientConn) write(b []byte) {
	c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := c.nc.Write(b); err != nil && !errors.Is(err, io.EOF) {
		c.server.logger.Debug("write failed", zap.Error(err))
	}
}

func (s *Server) opTimeout() time.Duration { return s.pipeline.opTimeout }
