package raftfsm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/config"
	"github.com/mrshabel/raftkeeper/internal/keeper"
	"github.com/mrshabel/raftkeeper/internal/log"
	"github.com/mrshabel/raftkeeper/internal/snapshot"
	"go.uber.org/zap"
)

// Adapter wraps *raft.Raft the way the teacher's DistributedLog wraps it,
// generalized from a single Append entry point to the full client
// request surface, and exposing the NuKeeperServer.h-named surface
// (LastCommitIndex, GetDeadSessions, IsLeaderAlive, AddServer,
// RemoveServer) spec's C5 asks for.
type Adapter struct {
	cfg    config.Config
	store  *keeper.Store
	raft   *raft.Raft
	logs   *logStore
	logger *zap.Logger
}

// New sets up the log store, stable store, snapshot bridge, network
// transport and raft.Raft instance, mirroring the teacher's
// setupLog/setupRaft split in distributed.go.
func New(dataDir string, cfg config.Config, store *keeper.Store, snapshots *snapshot.Store, sink Sink, sl *StreamLayer) (*Adapter, error) {
	a := &Adapter{cfg: cfg, store: store, logger: zap.L().Named("raft")}

	raftLogDir := filepath.Join(dataDir, "raft", "log")
	if err := os.MkdirAll(raftLogDir, 0755); err != nil {
		return nil, err
	}
	logCfg := log.Config{}
	logCfg.Segment.MaxStoreBytes = cfg.Log.SegmentMaxBytes
	logCfg.Segment.InitialOffset = 1
	logCfg.FsyncEveryEntries = cfg.Log.FsyncIntervalEntries
	logCfg.FsyncEveryMs = cfg.Log.FsyncIntervalMs
	logs, err := newLogStore(raftLogDir, logCfg)
	if err != nil {
		return nil, err
	}
	a.logs = logs

	stablePath := filepath.Join(dataDir, "raft", "stable")
	stableStore, err := raftboltdb.NewBoltStore(stablePath)
	if err != nil {
		return nil, err
	}

	snapshotDir := filepath.Join(dataDir, "raft")
	snapshotStore, err := raft.NewFileSnapshotStore(snapshotDir, 1, os.Stderr)
	if err != nil {
		return nil, err
	}

	transport := raft.NewNetworkTransport(sl, 5, cfg.Coordination.OperationTimeout(), os.Stderr)

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(fmt.Sprintf("%d", cfg.Server.MyID))
	if cfg.Coordination.HeartbeatTimeoutMs != 0 {
		raftCfg.HeartbeatTimeout = cfg.Coordination.HeartbeatTimeout()
	}
	if cfg.Coordination.ElectionTimeoutMs != 0 {
		raftCfg.ElectionTimeout = cfg.Coordination.ElectionTimeout()
	}

	f := &fsm{store: store, snapshots: snapshots, sink: sink, logger: a.logger}
	r, err := raft.NewRaft(raftCfg, f, logs, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, err
	}
	a.raft = r

	hasState, err := raft.HasExistingState(logs, stableStore, snapshotStore)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Bootstrap && !hasState {
		servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		for _, p := range cfg.Server.Peers {
			if p.ID == cfg.Server.MyID {
				continue
			}
			servers = append(servers, raft.Server{
				ID:       raft.ServerID(fmt.Sprintf("%d", p.ID)),
				Address:  raft.ServerAddress(p.Endpoint),
				Suffrage: suffrage(p.Voting),
			})
		}
		if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func suffrage(voting bool) raft.ServerSuffrage {
	if voting {
		return raft.Voter
	}
	return raft.Nonvoter
}

// Apply submits a client write through Raft, blocking until it commits or
// timeout elapses (§4.5's leader path). req.Body is the raw frame body
// exactly as received off the wire; it is never re-encoded.
func (a *Adapter) Apply(sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte, timeout time.Duration) (ApplyResult, error) {
	future := a.ApplyAsync(sessionID, xid, arrivalTimeMs, op, body, timeout)
	if err := future.Error(); err != nil {
		return ApplyResult{}, err
	}
	res, ok := future.Response().(ApplyResult)
	if !ok {
		return ApplyResult{}, fmt.Errorf("raftfsm: unexpected apply response type %T", future.Response())
	}
	return res, nil
}

// ApplyAsync issues the entry to Raft and returns immediately; the
// accumulator (C6 §4.6 step 3) uses this to fire a whole batch of writes
// without blocking between them; hashicorp/raft coalesces concurrently
// pending Apply calls into its own AppendEntries batches internally, so
// this is what "submit to Raft as a group" reduces to against this
// library.
func (a *Adapter) ApplyAsync(sessionID, xid, arrivalTimeMs int64, op v1.OpCode, body []byte, timeout time.Duration) raft.ApplyFuture {
	entry := &v1.LogEntry{SessionID: sessionID, Xid: xid, ArrivalTimeMs: arrivalTimeMs, OpCode: op, Body: body}
	return a.raft.Apply(entry.Encode(), timeout)
}

// IsLeader reports whether this node currently holds leadership.
func (a *Adapter) IsLeader() bool { return a.raft.State() == raft.Leader }

// Leader returns the current leader's raft address, empty if unknown.
func (a *Adapter) Leader() string { return string(a.raft.Leader()) }

// LastCommitIndex is NuKeeperServer::getKeeperStateMachine()->getLastCommitIndex
// mapped onto hashicorp/raft's applied index.
func (a *Adapter) LastCommitIndex() uint64 {
	return a.raft.AppliedIndex()
}

// WaitForCatchUp blocks a `sync` request (§4.6) until this node's applied
// index reaches the leader's commit index at the time of the call, the
// NuKeeperServer::waitForCatchUp equivalent.
func (a *Adapter) WaitForCatchUp(ctx context.Context, target uint64) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.raft.AppliedIndex() >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsLeaderAlive is NuKeeperServer::isLeaderAlive: true while this node has
// a known leader (itself or otherwise) within the last election timeout.
func (a *Adapter) IsLeaderAlive() bool {
	return a.raft.Leader() != ""
}

// GetDeadSessions is NuKeeperServer::getDeadSessions, reporting sessions
// whose deadline has already elapsed per the keeper store's bookkeeping.
// Nothing in this repository calls it: C8 fills and refreshes its heap
// through Manager.Sync, fed by the pipeline's RunSessionSync.
func (a *Adapter) GetDeadSessions(nowNs int64) []int64 {
	var dead []int64
	for _, d := range a.store.SessionDeadlines() {
		if d.DeadlineNs <= nowNs {
			dead = append(dead, d.SessionID)
		}
	}
	return dead
}

// AddServer is NuKeeperServer::addServer, called when discovery observes
// a new cluster member join (§4.5: "the core must supply a stable
// server_id and endpoint per peer").
func (a *Adapter) AddServer(id uint8, endpoint string, voting bool) error {
	var future raft.IndexFuture
	if voting {
		future = a.raft.AddVoter(raft.ServerID(fmt.Sprintf("%d", id)), raft.ServerAddress(endpoint), 0, 0)
	} else {
		future = a.raft.AddNonvoter(raft.ServerID(fmt.Sprintf("%d", id)), raft.ServerAddress(endpoint), 0, 0)
	}
	return future.Error()
}

// RemoveServer is NuKeeperServer's corresponding removal path, invoked
// when discovery observes a member leave.
func (a *Adapter) RemoveServer(id uint8) error {
	return a.raft.RemoveServer(raft.ServerID(fmt.Sprintf("%d", id)), 0, 0).Error()
}

func (a *Adapter) Close() error {
	if err := a.raft.Shutdown().Error(); err != nil {
		return err
	}
	return a.logs.Close()
}
