package keeper

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// aclMap interns ACL entry lists (§3.4): many nodes share the same list of
// {scheme, id, perms}, so each distinct list is stored once under a small
// integer handle and reference counted.
type aclMap struct {
	nextID  uint64
	byID    map[uint64][]v1.ACLEntry
	refs    map[uint64]int
	byValue map[string]uint64
}

func newACLMap() *aclMap {
	return &aclMap{
		nextID:  1,
		byID:    make(map[uint64][]v1.ACLEntry),
		refs:    make(map[uint64]int),
		byValue: make(map[string]uint64),
	}
}

func aclKey(entries []v1.ACLEntry) string {
	key := make([]byte, 0, len(entries)*24)
	for _, e := range entries {
		key = append(key, byte(e.Perms))
		key = append(key, e.Id.Scheme...)
		key = append(key, 0)
		key = append(key, e.Id.ID...)
		key = append(key, 0)
	}
	return string(key)
}

// intern returns the id for entries, creating one if this exact list
// hasn't been seen before, and increments its refcount.
func (m *aclMap) intern(entries []v1.ACLEntry) uint64 {
	k := aclKey(entries)
	if id, ok := m.byValue[k]; ok {
		m.refs[id]++
		return id
	}
	id := m.nextID
	m.nextID++
	cp := make([]v1.ACLEntry, len(entries))
	copy(cp, entries)
	m.byID[id] = cp
	m.refs[id] = 1
	m.byValue[k] = id
	return id
}

// release drops one reference; when it hits zero the entry is evicted so
// the map doesn't grow unbounded as nodes are deleted.
func (m *aclMap) release(id uint64) {
	m.refs[id]--
	if m.refs[id] <= 0 {
		if entries, ok := m.byID[id]; ok {
			delete(m.byValue, aclKey(entries))
		}
		delete(m.byID, id)
		delete(m.refs, id)
	}
}

func (m *aclMap) get(id uint64) []v1.ACLEntry {
	return m.byID[id]
}

// checkPerm reports whether entries grants perm to any of the
// authenticated ids, or whether entries is empty (ZooKeeper treats a node
// with no ACL as open, matching world:anyone:all in practice since every
// node gets at least the default ACL at creation time).
func checkPerm(entries []v1.ACLEntry, authed []v1.Id, perm v1.Perm) bool {
	if len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		if e.Perms&perm == 0 {
			continue
		}
		if e.Id.Scheme == "world" && e.Id.ID == "anyone" {
			return true
		}
		for _, a := range authed {
			if a.Scheme == e.Id.Scheme && a.ID == e.Id.ID {
				return true
			}
		}
	}
	return false
}
