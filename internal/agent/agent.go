// Package agent wires together every component a running node needs:
// the replicated log (C5), the keeper store (C4), the write pipeline
// (C6), the request forwarder (C7), session expiry (C8), the admin
// surface (C9) and cluster membership, generalized from the teacher's
// own internal/agent setup-function-slice shape.
package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mrshabel/raftkeeper/internal/admin"
	"github.com/mrshabel/raftkeeper/internal/config"
	"github.com/mrshabel/raftkeeper/internal/discovery"
	"github.com/mrshabel/raftkeeper/internal/forwarder"
	"github.com/mrshabel/raftkeeper/internal/keeper"
	"github.com/mrshabel/raftkeeper/internal/pipeline"
	"github.com/mrshabel/raftkeeper/internal/raftfsm"
	"github.com/mrshabel/raftkeeper/internal/sessionmgr"
	"github.com/mrshabel/raftkeeper/internal/snapshot"
	"github.com/mrshabel/raftkeeper/internal/transport"
)

// Agent owns every long-lived component for one cluster member and
// coordinates their ordered shutdown, the same role the teacher's own
// Agent plays over a single grpc.Server and Replicator.
type Agent struct {
	Config config.Config

	logger *zap.Logger

	store     *keeper.Store
	snapshots *snapshot.Store
	sessions  *sessionmgr.Manager
	adapter   *raftfsm.Adapter
	sink      *sinkBox
	pipe      *pipeline.Pipeline

	mux          *transport.Mux
	clientServer *pipeline.Server
	clientLn     net.Listener
	fwdServer    *forwarder.Server
	fwdClient    *forwarder.Client
	membership   *discovery.Membership
	adminHTTP    *http.Server

	runStop   chan struct{}
	shutdown  bool
	shutdownL sync.Mutex
}

// New builds and starts every component named by cfg, the way the
// teacher's New walks its setup slice; on any step's error, New shuts
// down whatever was already started and returns that error.
func New(cfg config.Config) (*Agent, error) {
	a := &Agent{
		Config:  cfg,
		logger:  zap.L().Named("agent"),
		runStop: make(chan struct{}),
	}

	setup := []func() error{
		a.setupStore,
		a.setupTransport,
		a.setupRaft,
		a.setupPipeline,
		a.setupForwarder,
		a.setupMembership,
		a.setupAdmin,
		a.setupClientServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			_ = a.Shutdown()
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStore() error {
	var err error
	a.store, err = keeper.New(a.Config.Coordination.SuperDigest)
	if err != nil {
		return err
	}
	a.store.MaxNodeSize = a.Config.Coordination.MaxNodeSize
	a.snapshots, err = snapshot.NewStore(a.Config.DataDir + "/snapshots")
	if err != nil {
		return err
	}
	a.snapshots.SaveBatchSize = a.Config.Coordination.SnapshotSaveBatchSize
	a.snapshots.KeepSnapshots = a.Config.Coordination.KeepSnapshots
	return nil
}

// setupTransport binds the single listener Raft's network transport and
// C7's forwarder lanes share, tagged per connection by transport.Mux.
func (a *Agent) setupTransport() error {
	ln, err := net.Listen("tcp", a.Config.Server.Endpoint)
	if err != nil {
		return err
	}
	a.mux = transport.New(ln)
	return nil
}

// sinkBox lets the fsm's Sink be handed to raft.NewRaft before the
// Pipeline that will actually implement it exists yet (Pipeline itself
// needs the *Adapter already built, so the two can't be constructed in
// either order without this indirection).
type sinkBox struct {
	mu   sync.Mutex
	sink raftfsm.Sink
}

func (b *sinkBox) set(s raftfsm.Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = s
}

func (b *sinkBox) Deliver(res raftfsm.ApplyResult) {
	b.mu.Lock()
	s := b.sink
	b.mu.Unlock()
	if s != nil {
		s.Deliver(res)
	}
}

func (a *Agent) setupRaft() error {
	sl := raftfsm.NewStreamLayer(a.mux, nil, nil)
	a.sink = &sinkBox{}
	var err error
	a.adapter, err = raftfsm.New(a.Config.DataDir, a.Config, a.store, a.snapshots, a.sink, sl)
	return err
}

func (a *Agent) setupPipeline() error {
	a.sessions = sessionmgr.New(a.Config.Server.MyID, submitterBox{a})
	a.pipe = pipeline.New(a.store, a.adapter, nil, a.sessions, a.Config.Coordination.OperationTimeout(),
		a.Config.Coordination.MaxBatchSize, a.Config.Coordination.BatchLinger())
	a.sink.set(a.pipe)

	go a.pipe.Run(a.runStop)
	go a.pipe.RunSessionSync(a.runStop, a.Config.Coordination.SessionSyncPeriod())
	go a.sessions.Run(contextStopper(a.runStop))
	return nil
}

// submitterBox defers to a.pipe, which doesn't exist yet when
// sessionmgr.New is called (it needs the Manager being built right now
// as one of its own constructor arguments).
type submitterBox struct{ a *Agent }

func (s submitterBox) SubmitExpire(sessionID int64) { s.a.pipe.SubmitExpire(sessionID) }

func (a *Agent) setupForwarder() error {
	a.fwdClient = forwarder.New(a.Config.Server.MyID, a.Config.Coordination.ForwarderLanes,
		a.Config.Coordination.ForwarderMaxPending, a.adapter, a.pipe)
	a.pipe.SetForwarder(a.fwdClient)
	go a.fwdClient.RunSessionSync(a.Config.Coordination.SessionSyncPeriod())

	a.fwdServer = forwarder.NewServer(a.pipe, a.Config.Coordination.OperationTimeout())
	go func() {
		if err := a.fwdServer.Serve(a.mux.ForwarderListener()); err != nil {
			a.logger.Debug("forwarder listener stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *Agent) setupMembership() error {
	if a.Config.Server.GossipAddr == "" || len(a.Config.Server.Peers) == 0 {
		return nil
	}
	tags := map[string]string{
		"server_id": fmt.Sprintf("%d", a.Config.Server.MyID),
		"raft_addr": a.Config.Server.Endpoint,
		"voting":    "true",
	}
	var joinAddrs []string
	for _, p := range a.Config.Server.Peers {
		if p.ID == a.Config.Server.MyID {
			continue
		}
		joinAddrs = append(joinAddrs, p.Gossip)
	}
	var err error
	a.membership, err = discovery.New(membershipHandler{a.adapter}, discovery.Config{
		NodeName:       fmt.Sprintf("%d", a.Config.Server.MyID),
		BindAddr:       a.Config.Server.GossipAddr,
		Tags:           tags,
		StartJoinAddrs: joinAddrs,
	})
	return err
}

// membershipHandler adapts raftfsm.Adapter to discovery.Handler so
// discovery never has to import raftfsm directly.
type membershipHandler struct {
	adapter *raftfsm.Adapter
}

func (h membershipHandler) Join(serverID uint8, raftAddr string, voting bool) error {
	return h.adapter.AddServer(serverID, raftAddr, voting)
}

func (h membershipHandler) Leave(serverID uint8) error {
	return h.adapter.RemoveServer(serverID)
}

func (a *Agent) setupAdmin() error {
	if a.Config.Admin.BindAddr == "" {
		return nil
	}
	var authorizer *admin.Authorizer
	if a.Config.Admin.ACLModelFile != "" {
		authorizer = admin.New(a.Config.Admin.ACLModelFile, a.Config.Admin.ACLPolicyFile)
	}
	metrics := admin.NewMetrics(prometheus.DefaultRegisterer)
	a.pipe.SetObserver(metrics)

	srv := admin.NewServer(a.store, a.snapshots, a.adapter, authorizer, metrics)
	a.adminHTTP = &http.Server{Addr: a.Config.Admin.BindAddr, Handler: srv.Router()}
	ln, err := net.Listen("tcp", a.Config.Admin.BindAddr)
	if err != nil {
		return err
	}
	go func() {
		if err := a.adminHTTP.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Debug("admin listener stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *Agent) setupClientServer() error {
	ln, err := net.Listen("tcp", a.Config.Server.ClientEndpoint)
	if err != nil {
		return err
	}
	a.clientLn = ln
	a.clientServer = pipeline.NewServer(a.pipe, a.allowLocalRead)
	go func() {
		if err := a.clientServer.Serve(ln); err != nil {
			a.logger.Debug("client listener stopped", zap.Error(err))
		}
	}()
	return nil
}

// allowLocalRead is true on the leader always, and on a follower when
// `coordination.allow_stale_reads` permits answering a read from local
// state without a sync barrier (§4.6).
func (a *Agent) allowLocalRead(sessionID int64) bool {
	return a.adapter.IsLeader() || a.Config.Coordination.AllowStaleReads
}

// Shutdown tears every component down once, in reverse dependency order,
// mirroring the teacher's own ordered shutdown slice.
func (a *Agent) Shutdown() error {
	a.shutdownL.Lock()
	defer a.shutdownL.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.runStop)

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.clientLn != nil {
		record(a.clientLn.Close())
	}
	if a.adminHTTP != nil {
		record(a.adminHTTP.Close())
	}
	if a.membership != nil {
		record(a.membership.Leave())
	}
	if a.fwdClient != nil {
		a.fwdClient.Close()
	}
	if a.mux != nil {
		record(a.mux.Close())
	}
	if a.adapter != nil {
		record(a.adapter.Close())
	}
	return firstErr
}

func contextStopper(stop <-chan struct{}) stopContext {
	return stopContext{stop: stop}
}

// stopContext adapts a stop channel to context.Context for
// sessionmgr.Manager.Run, which only needs Done()/Err().
type stopContext struct{ stop <-chan struct{} }

func (s stopContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (s stopContext) Done() <-chan struct{}       { return s.stop }
func (s stopContext) Err() error {
	select {
	case <-s.stop:
		return context.Canceled
	default:
		return nil
	}
}
func (s stopContext) Value(key any) any { return nil }
