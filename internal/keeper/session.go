package keeper

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// sessionState mirrors §4.4's state machine: only active sessions may own
// ephemerals or receive watches.
type sessionState uint8

const (
	sessionNew sessionState = iota
	sessionActive
	sessionExpiring
	sessionClosing
	sessionClosed
)

type session struct {
	id         int64
	timeoutMs  int32
	deadlineNs int64
	state      sessionState

	// auth holds every successfully authenticated Id, keyed by
	// "<scheme>:<id>" to dedupe repeated auth() calls for the same
	// credential.
	auth map[string]v1.Id

	// isSuper is set once the session authenticates with the configured
	// super_digest and bypasses every ACL check for its lifetime
	// (KeeperUtils.cpp's checkAndGetSuperdigest / ZooKeeper's
	// authProvider.superDigest).
	isSuper bool

	ephemerals map[string]struct{}
}

func newSession(id int64, timeoutMs int32, nowNs int64) *session {
	return &session{
		id:         id,
		timeoutMs:  timeoutMs,
		deadlineNs: nowNs + int64(timeoutMs)*1e6,
		state:      sessionNew,
		auth:       make(map[string]v1.Id),
		ephemerals: make(map[string]struct{}),
	}
}

func (s *session) touch(nowNs int64) {
	s.deadlineNs = nowNs + int64(s.timeoutMs)*1e6
}
