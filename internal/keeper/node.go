// Package keeper implements the deterministic replicated state machine
// (§4.4): an in-memory znode tree plus sessions, watches and the ACL map,
// mutated only through Apply so every replica reaches the same state from
// the same log.
package keeper

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// node is one znode. It has no parent pointer; parent lookups always go
// through the path string (strip the last segment), matching how a
// snapshot reconstructs the tree without serializing parent links.
type node struct {
	data  []byte
	aclID uint64

	czxid          int64
	mzxid          int64
	pzxid          int64
	ctime          int64
	mtime          int64
	version        int32
	cversion       int32
	aversion       int32
	ephemeralOwner int64

	children map[string]struct{}
}

func newNode(zxid, timeMs int64, data []byte, aclID uint64, ephemeralOwner int64) *node {
	return &node{
		data:           data,
		aclID:          aclID,
		czxid:          zxid,
		mzxid:          zxid,
		pzxid:          zxid,
		ctime:          timeMs,
		mtime:          timeMs,
		ephemeralOwner: ephemeralOwner,
		children:       make(map[string]struct{}),
	}
}

func (n *node) stat() v1.Stat {
	return v1.Stat{
		Czxid:          n.czxid,
		Mzxid:          n.mzxid,
		Pzxid:          n.pzxid,
		Ctime:          n.ctime,
		Mtime:          n.mtime,
		Version:        n.version,
		Cversion:       n.cversion,
		Aversion:       n.aversion,
		EphemeralOwner: n.ephemeralOwner,
		DataLength:     int32(len(n.data)),
		NumChildren:    int32(len(n.children)),
	}
}
