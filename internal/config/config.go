// Package config loads the `server`/`coordination`/`log` sections named
// by spec §6.4 from YAML. cmd/server's cobra flags only choose the file
// (`--config`) and the logger (`--dev-log`); no flag overrides a value
// read from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Peer is one entry of `server.peers[]`.
type Peer struct {
	ID       uint8  `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
	Gossip   string `yaml:"gossip_addr"`
	Voting   bool   `yaml:"voting"`
}

// Server holds this node's identity and its view of the cluster.
// Endpoint is the shared Raft/forwarder transport.Mux address; clients
// never dial it directly, instead connecting to ClientEndpoint, which
// the client wire protocol (§4.6) listens on. GossipAddr is serf's own
// bind address, distinct from both since memberlist needs a dedicated
// socket the way the teacher's discovery.Config.BindAddr does.
type Server struct {
	MyID           uint8  `yaml:"my_id"`
	Endpoint       string `yaml:"endpoint"`
	ClientEndpoint string `yaml:"client_endpoint"`
	GossipAddr     string `yaml:"gossip_addr"`
	Peers          []Peer `yaml:"peers"`
	Bootstrap      bool   `yaml:"bootstrap"`
}

// Coordination holds the §6.4 `coordination.*` tunables.
type Coordination struct {
	MaxNodeSize            uint64 `yaml:"max_node_size"`
	SnapshotDistance        uint64 `yaml:"snapshot_distance"`
	KeepSnapshots           int    `yaml:"keep_snapshots"`
	OperationTimeoutMs      int64  `yaml:"operation_timeout_ms"`
	SessionSyncPeriodMs     int64  `yaml:"session_sync_period_ms"`
	BatchLingerMs           int64  `yaml:"batch_linger_ms"`
	MaxBatchSize            int    `yaml:"max_batch_size"`
	SnapshotSaveBatchSize   int    `yaml:"snapshot_save_batch_size"`
	SuperDigest             string `yaml:"super_digest"`
	AllowStaleReads         bool   `yaml:"allow_stale_reads"`
	ForwarderMaxPending     int    `yaml:"forwarder_max_pending"`
	ForwarderLanes          int    `yaml:"forwarder_lanes"`
	HeartbeatTimeoutMs      int64  `yaml:"heartbeat_timeout_ms"`
	ElectionTimeoutMs       int64  `yaml:"election_timeout_ms"`
	DefaultSessionTimeoutMs int64  `yaml:"default_session_timeout_ms"`
}

// Log holds `log.*`.
type Log struct {
	SegmentMaxBytes       uint64 `yaml:"segment_max_bytes"`
	FsyncIntervalEntries  uint64 `yaml:"fsync_interval_entries"`
	FsyncIntervalMs       uint64 `yaml:"fsync_interval_ms"`
}

// Admin holds the optional C9 surface's bind address and ACL files,
// named the same way the teacher's agent.Config carries ACLModelFile/
// ACLPolicyFile.
type Admin struct {
	BindAddr      string `yaml:"bind_addr"`
	ACLModelFile  string `yaml:"acl_model_file"`
	ACLPolicyFile string `yaml:"acl_policy_file"`
}

// Config is the top-level document, loaded from a single YAML file.
type Config struct {
	DataDir      string       `yaml:"data_dir"`
	Server       Server       `yaml:"server"`
	Coordination Coordination `yaml:"coordination"`
	Log          Log          `yaml:"log"`
	Admin        Admin        `yaml:"admin"`
}

// Load reads and parses path, filling in defaults for anything left zero.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Coordination.MaxNodeSize == 0 {
		c.Coordination.MaxNodeSize = 1 << 20
	}
	if c.Coordination.SnapshotDistance == 0 {
		c.Coordination.SnapshotDistance = 100000
	}
	if c.Coordination.KeepSnapshots == 0 {
		c.Coordination.KeepSnapshots = 3
	}
	if c.Coordination.OperationTimeoutMs == 0 {
		c.Coordination.OperationTimeoutMs = 10000
	}
	if c.Coordination.SessionSyncPeriodMs == 0 {
		c.Coordination.SessionSyncPeriodMs = 500
	}
	if c.Coordination.BatchLingerMs == 0 {
		c.Coordination.BatchLingerMs = 5
	}
	if c.Coordination.MaxBatchSize == 0 {
		c.Coordination.MaxBatchSize = 1000
	}
	if c.Coordination.SnapshotSaveBatchSize == 0 {
		c.Coordination.SnapshotSaveBatchSize = 10000
	}
	if c.Coordination.ForwarderMaxPending == 0 {
		c.Coordination.ForwarderMaxPending = 4096
	}
	if c.Coordination.ForwarderLanes == 0 {
		c.Coordination.ForwarderLanes = 8
	}
	if c.Coordination.HeartbeatTimeoutMs == 0 {
		c.Coordination.HeartbeatTimeoutMs = 1000
	}
	if c.Coordination.ElectionTimeoutMs == 0 {
		c.Coordination.ElectionTimeoutMs = 1000
	}
	if c.Coordination.DefaultSessionTimeoutMs == 0 {
		c.Coordination.DefaultSessionTimeoutMs = 30000
	}
	if c.Log.SegmentMaxBytes == 0 {
		c.Log.SegmentMaxBytes = 64 << 20
	}
	if c.Log.FsyncIntervalEntries == 0 {
		c.Log.FsyncIntervalEntries = 1000
	}
	if c.Log.FsyncIntervalMs == 0 {
		c.Log.FsyncIntervalMs = 1000
	}
}

// HeartbeatTimeout and ElectionTimeout convert the millisecond fields to
// the durations hashicorp/raft's config wants, the same conversion the
// teacher does inline in setupRaft.
func (c *Coordination) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

func (c *Coordination) ElectionTimeout() time.Duration {
	return time.Duration(c.ElectionTimeoutMs) * time.Millisecond
}

func (c *Coordination) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMs) * time.Millisecond
}

func (c *Coordination) SessionSyncPeriod() time.Duration {
	return time.Duration(c.SessionSyncPeriodMs) * time.Millisecond
}

func (c *Coordination) BatchLinger() time.Duration {
	return time.Duration(c.BatchLingerMs) * time.Millisecond
}
