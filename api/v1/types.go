package v1

// OpCode identifies a client request/response body shape (§4.1).
type OpCode int32

const (
	OpNotify        OpCode = -1 // watch event, carried out of band (xid=-1)
	OpCreate        OpCode = 1
	OpDelete        OpCode = 2
	OpExists        OpCode = 3
	OpGetData       OpCode = 4
	OpSetData       OpCode = 5
	OpGetACL        OpCode = 6
	OpSetACL        OpCode = 7
	OpGetChildren   OpCode = 8
	OpSync          OpCode = 9
	OpPing          OpCode = 11
	OpGetChildren2  OpCode = 12
	OpCheck         OpCode = 13
	OpMulti         OpCode = 14
	OpCreate2       OpCode = 15
	OpReconfig      OpCode = 16
	OpClose         OpCode = -11
	OpConnect       OpCode = 0
	OpAuth          OpCode = 100
	OpMultiSentinel OpCode = -2 // terminates a multi sub-op sequence
	// OpCreateSessionInternal never appears on the client wire: a session
	// is created implicitly by ConnectRequest, but C4 still dispatches it
	// through the same Request/Response shape as every other op.
	OpCreateSessionInternal OpCode = -200
)

// Reserved xids carried by control-plane frames (§6.1).
const (
	XidNotify = -1
	XidPing   = -2
	XidAuth   = -4
)

// CreateFlag is the ZooKeeper create-mode bitmask.
type CreateFlag int32

const (
	FlagPersistent             CreateFlag = 0
	FlagEphemeral              CreateFlag = 1
	FlagSequential             CreateFlag = 2
	FlagEphemeralSequential    CreateFlag = FlagEphemeral | FlagSequential
	FlagContainer              CreateFlag = 4
	FlagPersistentWithTTL      CreateFlag = 5
	FlagPersistentSequentialTTL CreateFlag = 6
)

func (f CreateFlag) Ephemeral() bool  { return f == FlagEphemeral || f == FlagEphemeralSequential }
func (f CreateFlag) Sequential() bool { return f&FlagSequential != 0 }

// WatchKind is the kind of subscription registered on a path (§3.3).
type WatchKind uint8

const (
	WatchData WatchKind = iota
	WatchChildren
	WatchExists
)

// EventType identifies the mutation a watch notification reports.
type EventType int32

const (
	EventNodeCreated       EventType = 1
	EventNodeDeleted       EventType = 2
	EventNodeDataChanged   EventType = 3
	EventNodeChildrenChanged EventType = 4
)

// Id is a single ACL principal: `{scheme, id}` e.g. {"digest", "user:hash"}.
type Id struct {
	Scheme string
	ID     string
}

// Perm is the ZooKeeper permission bitmask.
type Perm uint32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
	PermAll = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// ACLEntry grants Perms to Id.
type ACLEntry struct {
	Id    Id
	Perms Perm
}

// Stat mirrors §3.1's stat fields exactly.
type Stat struct {
	Czxid          int64
	Mzxid          int64
	Pzxid          int64
	Ctime          int64
	Mtime          int64
	Version        int32
	Cversion       int32
	Aversion       int32
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
}

// ConnectRequest is the handshake frame a client sends once, before any
// request frame (§6.1; confirmed by original_source's TestKeeperTCPHandler,
// which frames the handshake ahead of normal request processing).
type ConnectRequest struct {
	ProtocolVersion int32
	LastZxidSeen    int64
	TimeoutMs       int32
	SessionID       int64
	Password        [16]byte
}

// ConnectResponse mirrors the request and assigns or reuses SessionID.
type ConnectResponse struct {
	ProtocolVersion int32
	TimeoutMs       int32
	SessionID       int64
	Password        [16]byte
}
