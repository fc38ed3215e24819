package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/raftkeeper-test
server:
  my_id: 1
  endpoint: 127.0.0.1:9001
  client_endpoint: 127.0.0.1:9002
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, uint8(1), cfg.Server.MyID)
	require.Equal(t, "127.0.0.1:9001", cfg.Server.Endpoint)
	require.EqualValues(t, 1<<20, cfg.Coordination.MaxNodeSize)
	require.Equal(t, 100000, int(cfg.Coordination.SnapshotDistance))
	require.Equal(t, 3, cfg.Coordination.KeepSnapshots)
	require.Equal(t, 8, cfg.Coordination.ForwarderLanes)
	require.EqualValues(t, 64<<20, cfg.Log.SegmentMaxBytes)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raftkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/raftkeeper-test
server:
  my_id: 2
  endpoint: 127.0.0.1:9001
coordination:
  keep_snapshots: 7
  forwarder_lanes: 16
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Coordination.KeepSnapshots)
	require.Equal(t, 16, cfg.Coordination.ForwarderLanes)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	c := Coordination{
		HeartbeatTimeoutMs:  250,
		ElectionTimeoutMs:   400,
		OperationTimeoutMs:  5000,
		SessionSyncPeriodMs: 500,
		BatchLingerMs:       5,
	}
	require.Equal(t, 250, int(c.HeartbeatTimeout().Milliseconds()))
	require.Equal(t, 400, int(c.ElectionTimeout().Milliseconds()))
	require.Equal(t, 5000, int(c.OperationTimeout().Milliseconds()))
	require.Equal(t, 500, int(c.SessionSyncPeriod().Milliseconds()))
	require.Equal(t, 5, int(c.BatchLinger().Milliseconds()))
}
