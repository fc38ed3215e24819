package agent_test

import (
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/agent"
	"github.com/mrshabel/raftkeeper/internal/config"
)

// TestAgentReplicatesAcrossCluster brings up a 3-node cluster, creates a
// znode through the bootstrap node, and confirms a follower serves the
// same data once replication and gossip-driven membership settle, the
// same shape as the teacher's own agent_test but over this module's
// client wire protocol instead of grpc.
func TestAgentReplicatesAcrossCluster(t *testing.T) {
	const n = 3
	var cfgs []config.Config
	for i := 0; i < n; i++ {
		ports := dynaport.Get(3)
		cfgs = append(cfgs, config.Config{
			DataDir: mustTempDir(t),
			Server: config.Server{
				MyID:           uint8(i + 1),
				Endpoint:       fmt.Sprintf("127.0.0.1:%d", ports[0]),
				ClientEndpoint: fmt.Sprintf("127.0.0.1:%d", ports[1]),
				GossipAddr:     fmt.Sprintf("127.0.0.1:%d", ports[2]),
				Bootstrap:      i == 0,
			},
		})
	}
	for i := range cfgs {
		for _, c := range cfgs {
			cfgs[i].Server.Peers = append(cfgs[i].Server.Peers, config.Peer{
				ID: c.Server.MyID, Endpoint: c.Server.Endpoint, Gossip: c.Server.GossipAddr, Voting: true,
			})
		}
		cfgs[i].Coordination.AllowStaleReads = true
		cfgs[i].Coordination.HeartbeatTimeoutMs = 200
		cfgs[i].Coordination.ElectionTimeoutMs = 300
		cfgs[i].Coordination.OperationTimeoutMs = 5000
		cfgs[i].Coordination.SessionSyncPeriodMs = 500
		cfgs[i].Coordination.BatchLingerMs = 5
		cfgs[i].Coordination.MaxBatchSize = 100
		cfgs[i].Coordination.ForwarderLanes = 4
		cfgs[i].Coordination.ForwarderMaxPending = 256
		cfgs[i].Coordination.SnapshotSaveBatchSize = 10000
		cfgs[i].Coordination.KeepSnapshots = 3
		cfgs[i].Coordination.DefaultSessionTimeoutMs = 30000
	}

	var agents []*agent.Agent
	for i := range cfgs {
		a, err := agent.New(cfgs[i])
		require.NoError(t, err)
		agents = append(agents, a)
	}
	defer func() {
		for i, a := range agents {
			require.NoError(t, a.Shutdown())
			os.RemoveAll(cfgs[i].DataDir)
		}
	}()

	time.Sleep(3 * time.Second)

	leaderConn := dial(t, cfgs[0].Server.ClientEndpoint)
	defer leaderConn.Close()
	sessionID := connect(t, leaderConn)

	createBody := (&v1.CreateRequest{Path: "/agent-test", Data: []byte("hello"), Flags: v1.FlagPersistent}).Encode()
	_, err := request(t, leaderConn, 1, v1.OpCreate, createBody)
	require.NoError(t, err)

	time.Sleep(3 * time.Second)

	followerConn := dial(t, cfgs[1].Server.ClientEndpoint)
	defer followerConn.Close()
	_ = connect(t, followerConn)

	getBody := (&v1.PathWatchRequest{Path: "/agent-test"}).Encode()
	respBody, err := request(t, followerConn, 1, v1.OpGetData, getBody)
	require.NoError(t, err)

	got, err := v1.DecodeGetDataResponse(respBody)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Data)
	_ = sessionID
}

func mustTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "agent-test")
	require.NoError(t, err)
	return dir
}

func dial(t *testing.T, addr string) net.Conn {
	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", addr)
		return err == nil
	}, 5*time.Second, 100*time.Millisecond)
	return conn
}

func connect(t *testing.T, conn net.Conn) int64 {
	req := &v1.ConnectRequest{ProtocolVersion: 0, TimeoutMs: 30000}
	_, err := conn.Write(v1.EncodeRequest(0, v1.OpConnect, req.Encode()))
	require.NoError(t, err)

	frame, err := v1.ReadFrame(conn)
	require.NoError(t, err)
	_, body, err := v1.DecodeResponseHeader(frame)
	require.NoError(t, err)
	resp, err := v1.DecodeConnectResponse(body)
	require.NoError(t, err)
	return resp.SessionID
}

func request(t *testing.T, conn net.Conn, xid int64, op v1.OpCode, body []byte) ([]byte, error) {
	if _, err := conn.Write(v1.EncodeRequest(xid, op, body)); err != nil {
		return nil, err
	}
	frame, err := v1.ReadFrame(conn)
	require.NoError(t, err)
	hdr, respBody, err := v1.DecodeResponseHeader(frame)
	require.NoError(t, err)
	if hdr.Err != v1.ErrOK {
		return nil, v1.NewError(hdr.Err)
	}
	return respBody, nil
}
