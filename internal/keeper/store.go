package keeper

import (
	"sync"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/snapshot"
)

// Store is the single source of truth for the replicated state (§4.4).
// Every mutation goes through Apply; reads may take the shared lock
// directly. Store has no wall-clock or randomness of its own: every
// timestamp and zxid is supplied by the caller so two replicas applying
// the same sequence of entries always end up identical.
type Store struct {
	mu sync.RWMutex

	nodes    map[string]*node
	acls     *aclMap
	sessions map[int64]*session
	watches  *watchIndex
	counters map[string]uint64

	superDigest string

	// MaxNodeSize bounds the size in bytes of any node's data, enforced
	// by applyCreate/applySetData (§3.1, §4.4). Zero means unbounded;
	// callers set it after New the same way snapshot.Store's tunables
	// are set after NewStore.
	MaxNodeSize uint64

	lastAppliedIndex uint64
	lastAppliedTerm  uint64
}

// New builds an empty store with just the root znode, optionally
// enforcing a configured super user digest (§4.4 ambient: super-digest
// bypass, grounded on KeeperUtils.cpp's checkAndGetSuperdigest).
func New(superDigest string) (*Store, error) {
	validated, err := checkSuperdigest(superDigest)
	if err != nil {
		return nil, err
	}
	s := &Store{
		nodes:       make(map[string]*node),
		acls:        newACLMap(),
		sessions:    make(map[int64]*session),
		watches:     newWatchIndex(),
		counters:    make(map[string]uint64),
		superDigest: validated,
	}
	root := newNode(0, 0, nil, 0, 0)
	s.nodes["/"] = root
	return s, nil
}

var _ snapshot.Source = (*Store)(nil)

// Snapshot copies every top-level index under the shared-then-briefly-
// exclusive lock described in §4.4/§5: it takes the write lock only long
// enough to copy slice/map headers, then releases it before the (cheap,
// already-isolated) per-record encoding happens in the caller.
func (s *Store) Snapshot() (snapshot.Data, error) {
	s.mu.Lock()
	nodesCopy := make([]*node, 0, len(s.nodes))
	pathsCopy := make([]string, 0, len(s.nodes))
	for path, n := range s.nodes {
		pathsCopy = append(pathsCopy, path)
		nodesCopy = append(nodesCopy, n)
	}
	sessionsCopy := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessionsCopy = append(sessionsCopy, sess)
	}
	aclIDs := make([]uint64, 0, len(s.acls.byID))
	for id := range s.acls.byID {
		aclIDs = append(aclIDs, id)
	}
	countersCopy := make(map[string]uint64, len(s.counters))
	for p, c := range s.counters {
		countersCopy[p] = c
	}
	lastIdx, lastTerm := s.lastAppliedIndex, s.lastAppliedTerm
	s.mu.Unlock()

	d := snapshot.Data{LastIndex: lastIdx, LastTerm: lastTerm}
	for i, n := range nodesCopy {
		d.Nodes = append(d.Nodes, v1.NodeRecord{
			Path: pathsCopy[i], Data: n.data, ACLID: n.aclID,
			Czxid: n.czxid, Mzxid: n.mzxid, Ctime: n.ctime, Mtime: n.mtime,
			Version: n.version, Cversion: n.cversion, Aversion: n.aversion,
			EphemeralOwner: n.ephemeralOwner, Pzxid: n.pzxid,
		})
	}
	for _, sess := range sessionsCopy {
		authIDs := make([]v1.Id, 0, len(sess.auth))
		for _, id := range sess.auth {
			authIDs = append(authIDs, id)
		}
		d.Sessions = append(d.Sessions, v1.SessionRecord{
			SessionID: uint64(sess.id), TimeoutMs: uint32(sess.timeoutMs), Auth: authIDs,
		})
		if len(sess.ephemerals) > 0 {
			paths := make([]string, 0, len(sess.ephemerals))
			for p := range sess.ephemerals {
				paths = append(paths, p)
			}
			d.Ephemerals = append(d.Ephemerals, v1.EphemeralRecord{SessionID: uint64(sess.id), Paths: paths})
		}
	}
	for _, id := range aclIDs {
		d.ACLs = append(d.ACLs, v1.ACLRecord{ACLID: id, Entries: s.acls.get(id)})
	}
	for path, c := range countersCopy {
		d.Counters = append(d.Counters, v1.CounterRecord{Path: path, Counter: c})
	}
	return d, nil
}

// Restore replaces the live store with d, in the fixed load order ACL map
// -> sessions -> nodes -> ephemerals -> counters (§4.3 step 3). Children
// sets are reconstructed from node paths in a second pass since a
// snapshot only stores the parent/path relationship implicitly.
func (s *Store) Restore(d snapshot.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acls = newACLMap()
	for _, rec := range d.ACLs {
		id := s.acls.intern(rec.Entries)
		if id != rec.ACLID {
			// Re-stamp the interned id to match the persisted one so
			// node.aclID references stay valid; intern() always hands
			// out ids sequentially from 1, so a snapshot taken after
			// deletions can have gaps that a fresh aclMap wouldn't
			// reproduce on its own.
			s.acls.byID[rec.ACLID] = s.acls.byID[id]
			s.acls.refs[rec.ACLID] = s.acls.refs[id]
			s.acls.byValue[aclKey(rec.Entries)] = rec.ACLID
			if id != rec.ACLID {
				delete(s.acls.byID, id)
				delete(s.acls.refs, id)
			}
			if rec.ACLID >= s.acls.nextID {
				s.acls.nextID = rec.ACLID + 1
			}
		}
	}

	s.sessions = make(map[int64]*session)
	for _, rec := range d.Sessions {
		sess := &session{
			id:         int64(rec.SessionID),
			timeoutMs:  int32(rec.TimeoutMs),
			state:      sessionActive,
			auth:       make(map[string]v1.Id, len(rec.Auth)),
			ephemerals: make(map[string]struct{}),
		}
		for _, id := range rec.Auth {
			sess.auth[id.Scheme+":"+id.ID] = id
		}
		s.sessions[sess.id] = sess
	}

	s.nodes = make(map[string]*node, len(d.Nodes))
	for _, rec := range d.Nodes {
		s.nodes[rec.Path] = &node{
			data: rec.Data, aclID: rec.ACLID,
			czxid: rec.Czxid, mzxid: rec.Mzxid, pzxid: rec.Pzxid,
			ctime: rec.Ctime, mtime: rec.Mtime,
			version: rec.Version, cversion: rec.Cversion, aversion: rec.Aversion,
			ephemeralOwner: rec.EphemeralOwner,
			children:       make(map[string]struct{}),
		}
	}
	// each interned list's refcount is the number of nodes using it.
	for id := range s.acls.refs {
		s.acls.refs[id] = 0
	}
	for _, n := range s.nodes {
		if _, ok := s.acls.byID[n.aclID]; ok {
			s.acls.refs[n.aclID]++
		}
	}
	// second pass: derive each parent's children set from the loaded paths.
	for path := range s.nodes {
		if path == "/" {
			continue
		}
		if parent, ok := s.nodes[parentPath(path)]; ok {
			parent.children[baseName(path)] = struct{}{}
		}
	}

	for _, rec := range d.Ephemerals {
		sess, ok := s.sessions[int64(rec.SessionID)]
		if !ok {
			continue
		}
		for _, p := range rec.Paths {
			sess.ephemerals[p] = struct{}{}
		}
	}

	s.counters = make(map[string]uint64, len(d.Counters))
	for _, rec := range d.Counters {
		s.counters[rec.Path] = rec.Counter
	}

	s.watches = newWatchIndex()
	s.lastAppliedIndex = d.LastIndex
	s.lastAppliedTerm = d.LastTerm
	return nil
}

// LastApplied reports the index/term of the most recently applied entry,
// used by C5 to resume exactly where the log left off.
func (s *Store) LastApplied() (index, term uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAppliedIndex, s.lastAppliedTerm
}

// MarkApplied records the index/term the caller (C5) just applied, so a
// later Snapshot carries the right watermark. Apply itself never touches
// this: the Raft log index is not known inside applyLocked for every
// entry type (e.g. a no-op), so the adapter stamps it explicitly after
// every commit, write or not.
func (s *Store) MarkApplied(index, term uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAppliedIndex, s.lastAppliedTerm = index, term
}

// Stats is a point-in-time count of store size, reported by C9's
// four-letter/admin surface.
type Stats struct {
	NodeCount    int
	SessionCount int
	WatchCount   int
}

// Stats reports the current node/session/watch counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		NodeCount:    len(s.nodes),
		SessionCount: len(s.sessions),
		WatchCount:   s.watches.count(),
	}
}

// SessionDeadline is one entry of the deadline-ordered view C8 keeps in
// sync with C4 (§4.8); C4 remains the sole owner of session state, C8
// only ever reads a snapshot of it.
type SessionDeadline struct {
	SessionID  int64
	TimeoutMs  int32
	DeadlineNs int64
}

// SessionDeadlines returns every active session's current deadline,
// used by C8 to rebuild its heap after a snapshot install or restart.
func (s *Store) SessionDeadlines() []SessionDeadline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionDeadline, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, SessionDeadline{SessionID: id, TimeoutMs: sess.timeoutMs, DeadlineNs: sess.deadlineNs})
	}
	return out
}
