package keeper

import (
	"sort"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

// Request is the decoded, already-dispatched unit of work C6 hands to
// Apply: exactly one of the typed fields is set, selected by OpCode.
type Request struct {
	OpCode v1.OpCode

	Create        *v1.CreateRequest
	Delete        *v1.DeleteRequest
	PathWatch     *v1.PathWatchRequest
	SetData       *v1.SetDataRequest
	SetACL        *v1.SetACLRequest
	Sync          *v1.SyncRequest
	Check         *v1.CheckRequest
	Multi         *v1.MultiRequest
	Auth          *v1.AuthRequest
	CreateSession *v1.CreateSessionRequest
}

// Response mirrors Request: exactly one typed field is set on success;
// void operations (delete, setACL-less ack, closeSession, check) carry
// only the OpCode.
type Response struct {
	OpCode v1.OpCode

	Create      *v1.CreateResponse
	Stat        *v1.StatResponse
	Exists      *v1.ExistsResponse
	GetData     *v1.GetDataResponse
	GetChildren *v1.GetChildrenResponse
	GetACL      *v1.GetACLResponse
	Sync        *v1.SyncResponse
	Multi       *v1.MultiResponse
	SessionID   int64
}

// Event is a watch notification produced as a side effect of a
// successful mutation, to be delivered by C6 no earlier than the
// response carrying the same zxid (§4.6).
type Event struct {
	SessionID int64
	Notify    v1.WatchEvent
}

// undo reverses exactly the mutation its paired apply made; used to keep
// a multi all-or-nothing without a second state copy.
type undo func()

// Apply is the single entry point mutating replicated state (§4.4): a
// call with the same (req, sessionID, timeMs, zxid) on every replica
// must produce the same Response and the same resulting state. It takes
// the store's exclusive lock for its whole duration; reads that don't go
// through Apply (getData etc. also route through here since they may
// register a watch) still take the exclusive lock because watch
// registration is itself a mutation of shared index state.
func (s *Store) Apply(req Request, sessionID int64, timeMs int64, zxid int64) (Response, []Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// every request refreshes its session's deadline (§3.2), whether it
	// reads or writes; createSession/close manage their own session
	// lifecycle and have nothing to refresh yet or anymore.
	if req.OpCode != v1.OpCreateSessionInternal && req.OpCode != v1.OpClose {
		if sess, ok := s.sessions[sessionID]; ok {
			sess.touch(timeMs * 1e6)
		}
	}

	resp, events, _, err := s.applyLocked(req, sessionID, timeMs, zxid)
	return resp, events, err
}

func (s *Store) applyLocked(req Request, sessionID int64, timeMs int64, zxid int64) (Response, []Event, undo, error) {
	switch req.OpCode {
	case v1.OpCreate, v1.OpCreate2:
		return s.applyCreate(req.Create, req.OpCode == v1.OpCreate2, sessionID, timeMs, zxid)
	case v1.OpDelete:
		return s.applyDelete(req.Delete, sessionID, zxid)
	case v1.OpExists:
		return s.applyExists(req.PathWatch, sessionID)
	case v1.OpGetData:
		return s.applyGetData(req.PathWatch, sessionID)
	case v1.OpSetData:
		return s.applySetData(req.SetData, sessionID, zxid, timeMs)
	case v1.OpGetChildren, v1.OpGetChildren2:
		return s.applyGetChildren(req.PathWatch, req.OpCode == v1.OpGetChildren2, sessionID)
	case v1.OpSetACL:
		return s.applySetACL(req.SetACL, sessionID)
	case v1.OpGetACL:
		return s.applyGetACL(req.GetACLPath(), sessionID)
	case v1.OpSync:
		return Response{OpCode: v1.OpSync, Sync: &v1.SyncResponse{Path: req.Sync.Path}}, nil, func() {}, nil
	case v1.OpCheck:
		return s.applyCheck(req.Check)
	case v1.OpMulti:
		return s.applyMulti(req.Multi, sessionID, timeMs, zxid)
	case v1.OpAuth:
		return s.applyAuth(req.Auth, sessionID)
	case v1.OpClose:
		return s.applyCloseSession(sessionID)
	case v1.OpCreateSessionInternal:
		return s.applyCreateSession(sessionID, req.CreateSession, timeMs)
	}
	return Response{}, nil, func() {}, v1.NewError(v1.ErrUnimplemented)
}

// GetACLPath exists so applyLocked's dispatch can stay table-shaped; the
// GetACL opcode reuses PathWatchRequest's Path field without the watch
// flag (ZooKeeper's getAcl never installs a watch).
func (r *Request) GetACLPath() string {
	if r.PathWatch != nil {
		return r.PathWatch.Path
	}
	return ""
}

func (s *Store) applyCreate(req *v1.CreateRequest, withStat bool, sessionID int64, timeMs, zxid int64) (Response, []Event, undo, error) {
	if !isValidPath(req.Path) {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadArguments)
	}
	if s.MaxNodeSize != 0 && uint64(len(req.Data)) > s.MaxNodeSize {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadArguments)
	}
	parent, ok := s.nodes[parentPath(req.Path)]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if parent.ephemeralOwner != 0 {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoChildrenForEphemerals)
	}
	if !s.hasPerm(sessionID, parent.aclID, v1.PermCreate) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}

	path := req.Path
	var counter uint64
	hadCounter, prevCounter := false, uint64(0)
	if req.Flags.Sequential() {
		counter, hadCounter = s.counters[parentPath(req.Path)]
		prevCounter = counter
		path = path + sequentialSuffix(counter)
	}
	if _, exists := s.nodes[path]; exists {
		return Response{}, nil, nil, v1.NewError(v1.ErrNodeExists)
	}

	ephemeralOwner := int64(0)
	if req.Flags.Ephemeral() {
		ephemeralOwner = sessionID
	}
	aclID := s.acls.intern(req.ACL)

	n := newNode(zxid, timeMs, append([]byte(nil), req.Data...), aclID, ephemeralOwner)
	childName := baseName(path)
	s.nodes[path] = n
	parent.children[childName] = struct{}{}
	parent.cversion++
	prevPzxid := parent.pzxid
	parent.pzxid = zxid
	if req.Flags.Sequential() {
		s.counters[parentPath(req.Path)] = counter + 1
	}
	if ephemeralOwner != 0 {
		if sess, ok := s.sessions[sessionID]; ok {
			sess.ephemerals[path] = struct{}{}
		}
	}

	events := s.fireOn(parentPath(req.Path), v1.WatchChildren, v1.EventNodeChildrenChanged, path)
	events = append(events, s.fireOn(path, v1.WatchExists, v1.EventNodeCreated, path)...)
	events = append(events, s.fireOn(path, v1.WatchData, v1.EventNodeCreated, path)...)

	u := func() {
		delete(s.nodes, path)
		delete(parent.children, childName)
		parent.cversion--
		parent.pzxid = prevPzxid
		s.acls.release(aclID)
		if req.Flags.Sequential() {
			if hadCounter {
				s.counters[parentPath(req.Path)] = prevCounter
			} else {
				delete(s.counters, parentPath(req.Path))
			}
		}
		if ephemeralOwner != 0 {
			if sess, ok := s.sessions[sessionID]; ok {
				delete(sess.ephemerals, path)
			}
		}
	}

	resp := Response{OpCode: v1.OpCreate, Create: &v1.CreateResponse{Path: path}}
	if withStat {
		st := n.stat()
		resp.Create.Stat = &st
	}
	return resp, events, u, nil
}

func (s *Store) applyDelete(req *v1.DeleteRequest, sessionID int64, zxid int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if req.Version != -1 && req.Version != n.version {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadVersion)
	}
	if len(n.children) > 0 {
		return Response{}, nil, nil, v1.NewError(v1.ErrNotEmpty)
	}
	if req.Path == "/" {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadArguments)
	}
	if !s.hasPerm(sessionID, n.aclID, v1.PermDelete) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}
	parent := s.nodes[parentPath(req.Path)]
	childName := baseName(req.Path)

	prevACL := append([]v1.ACLEntry(nil), s.acls.get(n.aclID)...)
	delete(s.nodes, req.Path)
	delete(parent.children, childName)
	parent.cversion++
	prevPzxid := parent.pzxid
	parent.pzxid = zxid
	s.acls.release(n.aclID)

	events := s.fireOn(req.Path, v1.WatchData, v1.EventNodeDeleted, req.Path)
	events = append(events, s.fireOn(req.Path, v1.WatchChildren, v1.EventNodeDeleted, req.Path)...)
	events = append(events, s.fireOn(parentPath(req.Path), v1.WatchChildren, v1.EventNodeChildrenChanged, parentPath(req.Path))...)

	u := func() {
		s.nodes[req.Path] = n
		parent.children[childName] = struct{}{}
		parent.cversion--
		parent.pzxid = prevPzxid
		n.aclID = s.acls.intern(prevACL)
	}
	return Response{OpCode: v1.OpDelete}, events, u, nil
}

func (s *Store) applyExists(req *v1.PathWatchRequest, sessionID int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		if req.Watch {
			s.watches.register(sessionID, req.Path, v1.WatchExists)
		}
		return Response{OpCode: v1.OpExists, Exists: &v1.ExistsResponse{}}, nil, func() {}, nil
	}
	if req.Watch {
		s.watches.register(sessionID, req.Path, v1.WatchData)
	}
	st := n.stat()
	return Response{OpCode: v1.OpExists, Exists: &v1.ExistsResponse{Stat: &st}}, nil, func() {}, nil
}

func (s *Store) applyGetData(req *v1.PathWatchRequest, sessionID int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if !s.hasPerm(sessionID, n.aclID, v1.PermRead) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}
	if req.Watch {
		s.watches.register(sessionID, req.Path, v1.WatchData)
	}
	resp := Response{OpCode: v1.OpGetData, GetData: &v1.GetDataResponse{Data: append([]byte(nil), n.data...), Stat: n.stat()}}
	return resp, nil, func() {}, nil
}

func (s *Store) applySetData(req *v1.SetDataRequest, sessionID int64, zxid, timeMs int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if req.Version != -1 && req.Version != n.version {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadVersion)
	}
	if s.MaxNodeSize != 0 && uint64(len(req.Data)) > s.MaxNodeSize {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadArguments)
	}
	if !s.hasPerm(sessionID, n.aclID, v1.PermWrite) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}
	prevData, prevMzxid, prevMtime, prevVersion := n.data, n.mzxid, n.mtime, n.version

	n.data = append([]byte(nil), req.Data...)
	n.mzxid = zxid
	n.mtime = timeMs
	n.version++

	events := s.fireOn(req.Path, v1.WatchData, v1.EventNodeDataChanged, req.Path)

	u := func() {
		n.data, n.mzxid, n.mtime, n.version = prevData, prevMzxid, prevMtime, prevVersion
	}
	return Response{OpCode: v1.OpSetData, Stat: &v1.StatResponse{Stat: n.stat()}}, events, u, nil
}

func (s *Store) applyGetChildren(req *v1.PathWatchRequest, withStat bool, sessionID int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if !s.hasPerm(sessionID, n.aclID, v1.PermRead) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}
	if req.Watch {
		s.watches.register(sessionID, req.Path, v1.WatchChildren)
	}
	children := sortedKeys(n.children)
	resp := Response{OpCode: v1.OpGetChildren, GetChildren: &v1.GetChildrenResponse{Children: children}}
	if withStat {
		st := n.stat()
		resp.GetChildren.Stat = &st
	}
	return resp, nil, func() {}, nil
}

func (s *Store) applySetACL(req *v1.SetACLRequest, sessionID int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if req.Version != -1 && req.Version != n.aversion {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadVersion)
	}
	if !s.hasPerm(sessionID, n.aclID, v1.PermAdmin) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}
	prevACLID, prevAversion := n.aclID, n.aversion
	prevACL := append([]v1.ACLEntry(nil), s.acls.get(prevACLID)...)
	newACLID := s.acls.intern(req.ACL)

	n.aclID = newACLID
	n.aversion++
	s.acls.release(prevACLID)

	u := func() {
		s.acls.release(newACLID)
		n.aclID = s.acls.intern(prevACL)
		n.aversion = prevAversion
	}
	return Response{OpCode: v1.OpSetACL, Stat: &v1.StatResponse{Stat: n.stat()}}, nil, u, nil
}

func (s *Store) applyGetACL(path string, sessionID int64) (Response, []Event, undo, error) {
	n, ok := s.nodes[path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if !s.hasPerm(sessionID, n.aclID, v1.PermRead) {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoAuth)
	}
	return Response{OpCode: v1.OpGetACL, GetACL: &v1.GetACLResponse{ACL: s.acls.get(n.aclID), Stat: n.stat()}}, nil, func() {}, nil
}

func (s *Store) applyCheck(req *v1.CheckRequest) (Response, []Event, undo, error) {
	n, ok := s.nodes[req.Path]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrNoNode)
	}
	if req.Version != -1 && req.Version != n.version {
		return Response{}, nil, nil, v1.NewError(v1.ErrBadVersion)
	}
	return Response{OpCode: v1.OpCheck}, nil, func() {}, nil
}

func (s *Store) applyAuth(req *v1.AuthRequest, sessionID int64) (Response, []Event, undo, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Response{}, nil, nil, v1.NewError(v1.ErrAuthFailed)
	}
	idValue := string(req.Auth)
	if req.Scheme == "digest" {
		digest, err := generateDigest(string(req.Auth))
		if err != nil {
			return Response{}, nil, nil, v1.NewError(v1.ErrAuthFailed)
		}
		idValue = digest
	}
	key := req.Scheme + ":" + idValue
	_, prevExisted := sess.auth[key]
	sess.auth[key] = v1.Id{Scheme: req.Scheme, ID: idValue}
	prevSuper := sess.isSuper
	if req.Scheme == "digest" && isSuperCredential(s.superDigest, idValue) {
		sess.isSuper = true
	}

	u := func() {
		if !prevExisted {
			delete(sess.auth, key)
		}
		sess.isSuper = prevSuper
	}
	return Response{OpCode: v1.OpAuth}, nil, u, nil
}

// authedIDs collects the Ids sessionID has authenticated so far, used by
// checkPerm; an unknown session authenticates as nobody.
func (s *Store) authedIDs(sessionID int64) []v1.Id {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	ids := make([]v1.Id, 0, len(sess.auth))
	for _, id := range sess.auth {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) hasPerm(sessionID int64, aclID uint64, perm v1.Perm) bool {
	if sess, ok := s.sessions[sessionID]; ok && sess.isSuper {
		return true
	}
	return checkPerm(s.acls.get(aclID), s.authedIDs(sessionID), perm)
}

func (s *Store) applyCloseSession(sessionID int64) (Response, []Event, undo, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Response{OpCode: v1.OpClose}, nil, func() {}, nil
	}
	sess.state = sessionClosing
	var events []Event
	for path := range sess.ephemerals {
		n, ok := s.nodes[path]
		if !ok {
			continue
		}
		parent := s.nodes[parentPath(path)]
		delete(s.nodes, path)
		s.acls.release(n.aclID)
		if parent != nil {
			delete(parent.children, baseName(path))
			parent.cversion++
		}
		events = append(events, s.fireOn(path, v1.WatchData, v1.EventNodeDeleted, path)...)
		events = append(events, s.fireOn(path, v1.WatchChildren, v1.EventNodeDeleted, path)...)
	}
	s.watches.dropSession(sessionID)
	sess.state = sessionClosed
	delete(s.sessions, sessionID)

	// closeSession is terminal and not meaningfully undoable within a
	// multi (ZooKeeper does not allow close inside multi); the undo here
	// only exists to satisfy applyLocked's signature.
	return Response{OpCode: v1.OpClose}, events, func() {}, nil
}

// applyCreateSession registers sessionID (already allocated by the
// caller, per the Raft log entry's session_id field) as ACTIVE.
func (s *Store) applyCreateSession(sessionID int64, req *v1.CreateSessionRequest, timeMs int64) (Response, []Event, undo, error) {
	sess := newSession(sessionID, req.TimeoutMs, timeMs*1e6)
	sess.state = sessionActive
	s.sessions[sessionID] = sess
	u := func() { delete(s.sessions, sessionID) }
	return Response{OpCode: v1.OpCreateSessionInternal, SessionID: sessionID}, nil, u, nil
}

func (s *Store) applyMulti(req *v1.MultiRequest, sessionID int64, timeMs, zxid int64) (Response, []Event, undo, error) {
	results := make([]v1.MultiSubResult, len(req.Ops))
	var undos []undo
	var events []Event
	failedAt := -1
	var failErr error

	for i, op := range req.Ops {
		sub, err := decodeSubRequest(op)
		if err != nil {
			failedAt, failErr = i, err
			break
		}
		resp, ev, u, err := s.applyLocked(sub, sessionID, timeMs, zxid)
		if err != nil {
			failedAt, failErr = i, err
			break
		}
		undos = append(undos, u)
		events = append(events, ev...)
		results[i] = v1.MultiSubResult{OpCode: op.OpCode, Err: v1.ErrOK, Body: encodeSubResponse(op.OpCode, resp)}
	}

	if failedAt >= 0 {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
		for i := range results {
			switch {
			case i == failedAt:
				results[i] = v1.MultiSubResult{OpCode: req.Ops[i].OpCode, Err: v1.CodeOf(failErr)}
			default:
				results[i] = v1.MultiSubResult{OpCode: req.Ops[i].OpCode, Err: v1.ErrRuntimeInconsistency}
			}
		}
		return Response{OpCode: v1.OpMulti, Multi: &v1.MultiResponse{Results: results}}, nil, func() {}, nil
	}

	u := func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}
	return Response{OpCode: v1.OpMulti, Multi: &v1.MultiResponse{Results: results}}, events, u, nil
}

// fireOn triggers watches of kind on path and returns the resulting
// Events, consuming the registrations (§3.3: at-most-once delivery).
func (s *Store) fireOn(path string, kind v1.WatchKind, eventType v1.EventType, eventPath string) []Event {
	regs := s.watches.fire(path, kind)
	if len(regs) == 0 {
		return nil
	}
	events := make([]Event, 0, len(regs))
	for _, r := range regs {
		events = append(events, Event{
			SessionID: r.sessionID,
			Notify:    v1.WatchEvent{Type: eventType, Kind: kind, Path: eventPath},
		})
	}
	return events
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
