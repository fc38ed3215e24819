package v1

import "bytes"

// BatchKind tags a snapshot batch body (§4.3/§6.3).
type BatchKind uint8

const (
	BatchNodes      BatchKind = iota
	BatchEphemerals
	BatchSessions
	BatchACLMap
	BatchStringMap
	BatchIntMap
	BatchConfig
)

// NodeRecord is one znode as persisted in a `nodes` batch (§6.3). Children
// are not stored directly: the loader reconstructs each parent's children
// set in a second pass over all loaded paths (§4.3 step 3).
type NodeRecord struct {
	Path          string
	Data          []byte
	ACLID         uint64
	Czxid         int64
	Mzxid         int64
	Ctime         int64
	Mtime         int64
	Version       int32
	Cversion      int32
	Aversion      int32
	EphemeralOwner int64
	Pzxid         int64
}

func (n *NodeRecord) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, n.Path)
	putBytes(&buf, n.Data)
	_ = binaryPutUint64(&buf, n.ACLID)
	putInt64(&buf, n.Czxid)
	putInt64(&buf, n.Mzxid)
	putInt64(&buf, n.Ctime)
	putInt64(&buf, n.Mtime)
	putInt32(&buf, n.Version)
	putInt32(&buf, n.Cversion)
	putInt32(&buf, n.Aversion)
	putInt64(&buf, n.EphemeralOwner)
	putInt64(&buf, n.Pzxid)
	return buf.Bytes()
}

func DecodeNodeRecord(b []byte) (*NodeRecord, int, error) {
	r := newReader(b)
	n := &NodeRecord{}
	var err error
	if n.Path, err = r.getString(); err != nil {
		return nil, 0, err
	}
	if n.Data, err = r.getBytes(); err != nil {
		return nil, 0, err
	}
	aclID, err := r.getUint64()
	if err != nil {
		return nil, 0, err
	}
	n.ACLID = aclID
	if n.Czxid, err = r.getInt64(); err != nil {
		return nil, 0, err
	}
	if n.Mzxid, err = r.getInt64(); err != nil {
		return nil, 0, err
	}
	if n.Ctime, err = r.getInt64(); err != nil {
		return nil, 0, err
	}
	if n.Mtime, err = r.getInt64(); err != nil {
		return nil, 0, err
	}
	if n.Version, err = r.getInt32(); err != nil {
		return nil, 0, err
	}
	if n.Cversion, err = r.getInt32(); err != nil {
		return nil, 0, err
	}
	if n.Aversion, err = r.getInt32(); err != nil {
		return nil, 0, err
	}
	if n.EphemeralOwner, err = r.getInt64(); err != nil {
		return nil, 0, err
	}
	if n.Pzxid, err = r.getInt64(); err != nil {
		return nil, 0, err
	}
	return n, r.pos, nil
}

// SessionRecord is one session as persisted in a `sessions` batch.
type SessionRecord struct {
	SessionID uint64
	TimeoutMs uint32
	Auth      []Id
}

func (s *SessionRecord) Encode() []byte {
	var buf bytes.Buffer
	binaryPutUint64(&buf, s.SessionID)
	binaryPutUint32(&buf, s.TimeoutMs)
	binaryPutUint32(&buf, uint32(len(s.Auth)))
	for _, id := range s.Auth {
		putString(&buf, id.Scheme)
		putString(&buf, id.ID)
	}
	return buf.Bytes()
}

func DecodeSessionRecord(b []byte) (*SessionRecord, int, error) {
	r := newReader(b)
	s := &SessionRecord{}
	var err error
	if s.SessionID, err = r.getUint64(); err != nil {
		return nil, 0, err
	}
	if s.TimeoutMs, err = r.getUint32(); err != nil {
		return nil, 0, err
	}
	n, err := r.getUint32()
	if err != nil {
		return nil, 0, err
	}
	s.Auth = make([]Id, 0, n)
	for i := uint32(0); i < n; i++ {
		scheme, err := r.getString()
		if err != nil {
			return nil, 0, err
		}
		id, err := r.getString()
		if err != nil {
			return nil, 0, err
		}
		s.Auth = append(s.Auth, Id{Scheme: scheme, ID: id})
	}
	return s, r.pos, nil
}

// ACLRecord is one interned ACL list, keyed by ACLID, as persisted in an
// `acl_map` batch.
type ACLRecord struct {
	ACLID   uint64
	Entries []ACLEntry
}

func (a *ACLRecord) Encode() []byte {
	var buf bytes.Buffer
	binaryPutUint64(&buf, a.ACLID)
	binaryPutUint32(&buf, uint32(len(a.Entries)))
	for _, e := range a.Entries {
		binaryPutUint32(&buf, uint32(e.Perms))
		putString(&buf, e.Id.Scheme)
		putString(&buf, e.Id.ID)
	}
	return buf.Bytes()
}

func DecodeACLRecord(b []byte) (*ACLRecord, int, error) {
	r := newReader(b)
	a := &ACLRecord{}
	var err error
	if a.ACLID, err = r.getUint64(); err != nil {
		return nil, 0, err
	}
	n, err := r.getUint32()
	if err != nil {
		return nil, 0, err
	}
	a.Entries = make([]ACLEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		perms, err := r.getUint32()
		if err != nil {
			return nil, 0, err
		}
		scheme, err := r.getString()
		if err != nil {
			return nil, 0, err
		}
		id, err := r.getString()
		if err != nil {
			return nil, 0, err
		}
		a.Entries = append(a.Entries, ACLEntry{Id: Id{Scheme: scheme, ID: id}, Perms: Perm(perms)})
	}
	return a, r.pos, nil
}

// CounterRecord is one parent path's sequential-create counter, persisted
// in an `int_map` batch.
type CounterRecord struct {
	Path    string
	Counter uint64
}

func (c *CounterRecord) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, c.Path)
	binaryPutUint64(&buf, c.Counter)
	return buf.Bytes()
}

func DecodeCounterRecord(b []byte) (*CounterRecord, int, error) {
	r := newReader(b)
	c := &CounterRecord{}
	var err error
	if c.Path, err = r.getString(); err != nil {
		return nil, 0, err
	}
	if c.Counter, err = r.getUint64(); err != nil {
		return nil, 0, err
	}
	return c, r.pos, nil
}

// EphemeralRecord lists all ephemeral paths owned by one session,
// persisted in an `ephemerals` batch.
type EphemeralRecord struct {
	SessionID uint64
	Paths     []string
}

func (e *EphemeralRecord) Encode() []byte {
	var buf bytes.Buffer
	binaryPutUint64(&buf, e.SessionID)
	binaryPutUint32(&buf, uint32(len(e.Paths)))
	for _, p := range e.Paths {
		putString(&buf, p)
	}
	return buf.Bytes()
}

func DecodeEphemeralRecord(b []byte) (*EphemeralRecord, int, error) {
	r := newReader(b)
	e := &EphemeralRecord{}
	var err error
	if e.SessionID, err = r.getUint64(); err != nil {
		return nil, 0, err
	}
	n, err := r.getUint32()
	if err != nil {
		return nil, 0, err
	}
	e.Paths = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := r.getString()
		if err != nil {
			return nil, 0, err
		}
		e.Paths = append(e.Paths, p)
	}
	return e, r.pos, nil
}

// StringMapRecord is a single key/value pair, used by the `string_map`
// batch kind to persist auxiliary string-keyed state (reserved today for
// cluster membership/config snapshotting alongside the core tree).
type StringMapRecord struct {
	Key   string
	Value string
}

func (s *StringMapRecord) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, s.Key)
	putString(&buf, s.Value)
	return buf.Bytes()
}

func DecodeStringMapRecord(b []byte) (*StringMapRecord, int, error) {
	r := newReader(b)
	s := &StringMapRecord{}
	var err error
	if s.Key, err = r.getString(); err != nil {
		return nil, 0, err
	}
	if s.Value, err = r.getString(); err != nil {
		return nil, 0, err
	}
	return s, r.pos, nil
}

// ConfigRecord carries one opaque configuration blob (the `config` batch
// kind), e.g. a serialized cluster membership list.
type ConfigRecord struct {
	Data []byte
}

func (c *ConfigRecord) Encode() []byte {
	var buf bytes.Buffer
	putBytes(&buf, c.Data)
	return buf.Bytes()
}

func DecodeConfigRecord(b []byte) (*ConfigRecord, int, error) {
	r := newReader(b)
	data, err := r.getBytes()
	if err != nil {
		return nil, 0, err
	}
	return &ConfigRecord{Data: data}, r.pos, nil
}

func binaryPutUint64(buf *bytes.Buffer, v uint64) error {
	var b [8]byte
	enc.PutUint64(b[:], v)
	_, err := buf.Write(b[:])
	return err
}

func binaryPutUint32(buf *bytes.Buffer, v uint32) error {
	var b [4]byte
	enc.PutUint32(b[:], v)
	_, err := buf.Write(b[:])
	return err
}

func (r *reader) getUint64() (uint64, error) {
	if len(r.b)-r.pos < 8 {
		return 0, errShortRead
	}
	v := enc.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) getUint32() (uint32, error) {
	if len(r.b)-r.pos < 4 {
		return 0, errShortRead
	}
	v := enc.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}
