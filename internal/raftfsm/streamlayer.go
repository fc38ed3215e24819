package raftfsm

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/hashicorp/raft"
	"github.com/mrshabel/raftkeeper/internal/transport"
)

// StreamLayer is the teacher's internal/log.StreamLayer, generalized
// from a hardcoded single-tag listener to pulling its accept side from a
// shared transport.Mux (so C7's forwarder lanes can share the same bind
// address without a second listening socket).
type StreamLayer struct {
	ln              net.Listener
	serverTLSConfig *tls.Config
	peerTLSConfig   *tls.Config
}

var _ raft.StreamLayer = (*StreamLayer)(nil)

// NewStreamLayer takes mux's Raft-tagged sub-listener.
func NewStreamLayer(mux *transport.Mux, serverTLSConfig, peerTLSConfig *tls.Config) *StreamLayer {
	return &StreamLayer{
		ln:              mux.RaftListener(),
		serverTLSConfig: serverTLSConfig,
		peerTLSConfig:   peerTLSConfig,
	}
}

func (s *StreamLayer) Dial(addr raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := transport.DialTagged("tcp", string(addr), transport.RaftRPC, dialer.Dial)
	if err != nil {
		return nil, err
	}
	if s.peerTLSConfig != nil {
		conn = tls.Client(conn, s.peerTLSConfig)
	}
	return conn, nil
}

func (s *StreamLayer) Accept() (net.Conn, error) {
	conn, err := s.ln.Accept()
	if err != nil {
		return nil, err
	}
	if s.serverTLSConfig != nil {
		return tls.Server(conn, s.serverTLSConfig), nil
	}
	return conn, nil
}

func (s *StreamLayer) Addr() net.Addr { return s.ln.Addr() }
func (s *StreamLayer) Close() error   { return s.ln.Close() }
