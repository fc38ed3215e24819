// Package discovery implements cluster membership via serf gossip, the
// teacher's internal/discovery generalized so Handler.Join/Leave drive
// raftfsm.Adapter.AddServer/RemoveServer instead of a replicator.
package discovery

import (
	"net"
	"strconv"

	"github.com/hashicorp/serf/serf"
	"go.uber.org/zap"
)

// cluster membership definition for service discovery
type Membership struct {
	Config
	handler Handler
	serf    *serf.Serf
	// entry and exist events channel
	events chan serf.Event
	// logger instance for service discovery activities
	logger *zap.Logger
}

// New creates a new serf membership instance for the current node
func New(handler Handler, config Config) (*Membership, error) {
	c := &Membership{
		Config:  config,
		handler: handler,
		logger:  zap.L().Named("membership"),
	}
	if err := c.setupSerf(); err != nil {
		return nil, err
	}
	return c, nil
}

// configuration for current serf node
type Config struct {
	// unique name of the current node. defaults to its hostname
	NodeName string
	// address for gossiping
	BindAddr string

	// key value metadata tags to give more context about the node: this
	// node's raft server id, its raft endpoint, and whether it should
	// join the cluster as a voter
	Tags map[string]string
	// existing node addresses that any new node can join. the new node
	// will connect to one node in the defined addresses and then broadcast
	// its presence to the other nodes through gossiping
	StartJoinAddrs []string
}

func (m *Membership) setupSerf() error {
	addr, err := net.ResolveTCPAddr("tcp", m.BindAddr)
	if err != nil {
		return err
	}
	config := serf.DefaultConfig()
	config.Init()

	// include current node membership details for gossiping
	config.MemberlistConfig.BindAddr = addr.IP.String()
	config.MemberlistConfig.BindPort = addr.Port

	m.events = make(chan serf.Event)
	config.EventCh = m.events

	// key value metadata tags
	config.Tags = m.Tags
	if m.NodeName != "" {
		config.NodeName = m.NodeName
	}

	// create service discovery instance
	m.serf, err = serf.Create(config)
	if err != nil {
		return err
	}

	// handle events
	go m.eventHandler()
	if m.StartJoinAddrs != nil {
		// join an existing cluster
		if _, err = m.serf.Join(m.StartJoinAddrs, true); err != nil {
			return err
		}
	}
	return nil
}

// Handler is raftfsm.Adapter's AddServer/RemoveServer surface, narrowed
// to what membership needs so this package doesn't import raftfsm.
type Handler interface {
	Join(serverID uint8, raftAddr string, voting bool) error
	Leave(serverID uint8) error
}

// eventHandler handles Join and Leave events for its members. it runs in an
// endless loop to ensure that all events are delivered.
func (m *Membership) eventHandler() {
	for e := range m.events {
		switch e.EventType() {
		case serf.EventMemberJoin:
			// broadcast event to all members. the current event may contain
			// one or more members
			for _, member := range e.(serf.MemberEvent).Members {
				// skip broadcasting event to itself
				if !m.isLocal(member) {
					m.handleJoin(member)
				}
			}
		case serf.EventMemberLeave, serf.EventMemberFailed:
			for _, member := range e.(serf.MemberEvent).Members {
				// skip broadcasting event to itself
				if !m.isLocal(member) {
					m.handleLeave(member)
				}
			}
		}
	}
}

// handleJoin adds a new member to the raft cluster using their tagged
// server id, raft endpoint and voting flag
func (m *Membership) handleJoin(member serf.Member) {
	id, voting, ok := parseTags(member)
	if !ok {
		m.logger.Warn("skipping join with unparseable tags", zap.String("name", member.Name))
		return
	}
	if err := m.handler.Join(id, member.Tags["raft_addr"], voting); err != nil {
		m.logError(err, "failed to join", member)
	}
}

// handleLeave removes a member from the raft cluster with their server id
func (m *Membership) handleLeave(member serf.Member) {
	id, _, ok := parseTags(member)
	if !ok {
		return
	}
	if err := m.handler.Leave(id); err != nil {
		m.logError(err, "failed to leave", member)
	}
}

func parseTags(member serf.Member) (id uint8, voting bool, ok bool) {
	n, err := strconv.ParseUint(member.Tags["server_id"], 10, 8)
	if err != nil {
		return 0, false, false
	}
	voting = member.Tags["voting"] != "false"
	return uint8(n), voting, true
}

// isLocal checks whether the given member is the current local node
func (m *Membership) isLocal(member serf.Member) bool {
	return m.serf.LocalMember().Name == member.Name
}

// Members return a snapshot of  all the current members in the cluster
func (m *Membership) Members() []serf.Member {
	return m.serf.Members()
}

// Leave tells member to leave the cluster
func (m *Membership) Leave() error {
	return m.serf.Leave()
}

// logError logs the given error message with the member's details
func (m *Membership) logError(err error, msg string, member serf.Member) {
	m.logger.Error(
		msg, zap.Error(err), zap.String("name", member.Name), zap.String("raft_addr", member.Tags["raft_addr"]),
	)
}
