package v1

import "bytes"

// CreateRequest encodes `create`/`create2` (flags select sequential/ephemeral).
type CreateRequest struct {
	Path  string
	Data  []byte
	ACL   []ACLEntry
	Flags CreateFlag
}

func (r *CreateRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	putBytes(&buf, r.Data)
	encodeACL(&buf, r.ACL)
	putInt32(&buf, int32(r.Flags))
	return buf.Bytes()
}

func DecodeCreateRequest(body []byte) (*CreateRequest, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	data, err := r.getBytes()
	if err != nil {
		return nil, err
	}
	acl, err := decodeACL(r)
	if err != nil {
		return nil, err
	}
	flags, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	return &CreateRequest{Path: path, Data: data, ACL: acl, Flags: CreateFlag(flags)}, nil
}

// CreateResponse carries the actual (possibly sequential-suffixed) path;
// create2 additionally carries the Stat.
type CreateResponse struct {
	Path string
	Stat *Stat // nil for plain `create`
}

func (r *CreateResponse) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	if r.Stat != nil {
		encodeStat(&buf, *r.Stat)
	}
	return buf.Bytes()
}

func DecodeCreateResponse(body []byte, withStat bool) (*CreateResponse, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	resp := &CreateResponse{Path: path}
	if withStat {
		st, err := decodeStat(r)
		if err != nil {
			return nil, err
		}
		resp.Stat = &st
	}
	return resp, nil
}

// DeleteRequest encodes `delete`.
type DeleteRequest struct {
	Path    string
	Version int32
}

func (r *DeleteRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	putInt32(&buf, r.Version)
	return buf.Bytes()
}

func DecodeDeleteRequest(body []byte) (*DeleteRequest, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	version, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	return &DeleteRequest{Path: path, Version: version}, nil
}

// PathWatchRequest encodes `exists`, `getData`, `getChildren[2]`.
type PathWatchRequest struct {
	Path  string
	Watch bool
}

func (r *PathWatchRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	if r.Watch {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func DecodePathWatchRequest(body []byte) (*PathWatchRequest, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	if r.pos >= len(r.b) {
		return nil, errShortRead
	}
	watch := r.b[r.pos] != 0
	r.pos++
	return &PathWatchRequest{Path: path, Watch: watch}, nil
}

var errShortRead = &Error{Code: ErrMarshallingError}

// ExistsResponse: stat is nil when the node does not exist (a non-error result).
type ExistsResponse struct {
	Stat *Stat
}

func (r *ExistsResponse) Encode() []byte {
	var buf bytes.Buffer
	if r.Stat == nil {
		buf.WriteByte(0)
		return buf.Bytes()
	}
	buf.WriteByte(1)
	encodeStat(&buf, *r.Stat)
	return buf.Bytes()
}

func DecodeExistsResponse(body []byte) (*ExistsResponse, error) {
	if len(body) == 0 {
		return nil, errShortRead
	}
	if body[0] == 0 {
		return &ExistsResponse{}, nil
	}
	r := newReader(body[1:])
	st, err := decodeStat(r)
	if err != nil {
		return nil, err
	}
	return &ExistsResponse{Stat: &st}, nil
}

// GetDataResponse carries data and the node's Stat.
type GetDataResponse struct {
	Data []byte
	Stat Stat
}

func (r *GetDataResponse) Encode() []byte {
	var buf bytes.Buffer
	putBytes(&buf, r.Data)
	encodeStat(&buf, r.Stat)
	return buf.Bytes()
}

func DecodeGetDataResponse(body []byte) (*GetDataResponse, error) {
	r := newReader(body)
	data, err := r.getBytes()
	if err != nil {
		return nil, err
	}
	st, err := decodeStat(r)
	if err != nil {
		return nil, err
	}
	return &GetDataResponse{Data: data, Stat: st}, nil
}

// SetDataRequest encodes `setData`.
type SetDataRequest struct {
	Path    string
	Data    []byte
	Version int32
}

func (r *SetDataRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	putBytes(&buf, r.Data)
	putInt32(&buf, r.Version)
	return buf.Bytes()
}

func DecodeSetDataRequest(body []byte) (*SetDataRequest, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	data, err := r.getBytes()
	if err != nil {
		return nil, err
	}
	version, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	return &SetDataRequest{Path: path, Data: data, Version: version}, nil
}

// StatResponse wraps a bare Stat, used by setData/setACL responses.
type StatResponse struct {
	Stat Stat
}

func (r *StatResponse) Encode() []byte {
	var buf bytes.Buffer
	encodeStat(&buf, r.Stat)
	return buf.Bytes()
}

func DecodeStatResponse(body []byte) (*StatResponse, error) {
	st, err := decodeStat(newReader(body))
	if err != nil {
		return nil, err
	}
	return &StatResponse{Stat: st}, nil
}

// GetChildrenResponse lists immediate children (lexicographically sorted
// by the producer, per §4.4's determinism requirement); Stat is populated
// only for getChildren2.
type GetChildrenResponse struct {
	Children []string
	Stat     *Stat
}

func (r *GetChildrenResponse) Encode() []byte {
	var buf bytes.Buffer
	putInt32(&buf, int32(len(r.Children)))
	for _, c := range r.Children {
		putString(&buf, c)
	}
	if r.Stat != nil {
		encodeStat(&buf, *r.Stat)
	}
	return buf.Bytes()
}

func DecodeGetChildrenResponse(body []byte, withStat bool) (*GetChildrenResponse, error) {
	r := newReader(body)
	n, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	children := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		c, err := r.getString()
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	resp := &GetChildrenResponse{Children: children}
	if withStat {
		st, err := decodeStat(r)
		if err != nil {
			return nil, err
		}
		resp.Stat = &st
	}
	return resp, nil
}

// SetACLRequest encodes `setACL`.
type SetACLRequest struct {
	Path    string
	ACL     []ACLEntry
	Version int32
}

func (r *SetACLRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	encodeACL(&buf, r.ACL)
	putInt32(&buf, r.Version)
	return buf.Bytes()
}

func DecodeSetACLRequest(body []byte) (*SetACLRequest, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	acl, err := decodeACL(r)
	if err != nil {
		return nil, err
	}
	version, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	return &SetACLRequest{Path: path, ACL: acl, Version: version}, nil
}

// GetACLResponse carries the resolved ACL list and the node's Stat.
type GetACLResponse struct {
	ACL  []ACLEntry
	Stat Stat
}

func (r *GetACLResponse) Encode() []byte {
	var buf bytes.Buffer
	encodeACL(&buf, r.ACL)
	encodeStat(&buf, r.Stat)
	return buf.Bytes()
}

func DecodeGetACLResponse(body []byte) (*GetACLResponse, error) {
	r := newReader(body)
	acl, err := decodeACL(r)
	if err != nil {
		return nil, err
	}
	st, err := decodeStat(r)
	if err != nil {
		return nil, err
	}
	return &GetACLResponse{ACL: acl, Stat: st}, nil
}

// SyncRequest/Response: sync is a barrier, body carries only the path for
// symmetry with the ZK wire format; the response echoes it.
type SyncRequest struct{ Path string }

func (r *SyncRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	return buf.Bytes()
}

func DecodeSyncRequest(body []byte) (*SyncRequest, error) {
	path, err := newReader(body).getString()
	if err != nil {
		return nil, err
	}
	return &SyncRequest{Path: path}, nil
}

type SyncResponse struct{ Path string }

func (r *SyncResponse) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	return buf.Bytes()
}

func DecodeSyncResponse(body []byte) (*SyncResponse, error) {
	path, err := newReader(body).getString()
	if err != nil {
		return nil, err
	}
	return &SyncResponse{Path: path}, nil
}

// CheckRequest encodes `check` (used standalone or inside a multi).
type CheckRequest struct {
	Path    string
	Version int32
}

func (r *CheckRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.Path)
	putInt32(&buf, r.Version)
	return buf.Bytes()
}

func DecodeCheckRequest(body []byte) (*CheckRequest, error) {
	r := newReader(body)
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	version, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	return &CheckRequest{Path: path, Version: version}, nil
}

// AuthRequest encodes the `auth` opcode (xid is always XidAuth on the wire).
type AuthRequest struct {
	Scheme string
	Auth   []byte
}

func (r *AuthRequest) Encode() []byte {
	var buf bytes.Buffer
	putInt32(&buf, 0) // reserved type field, mirrors ZK's AuthPacket
	putString(&buf, r.Scheme)
	putBytes(&buf, r.Auth)
	return buf.Bytes()
}

func DecodeAuthRequest(body []byte) (*AuthRequest, error) {
	r := newReader(body)
	if _, err := r.getInt32(); err != nil {
		return nil, err
	}
	scheme, err := r.getString()
	if err != nil {
		return nil, err
	}
	auth, err := r.getBytes()
	if err != nil {
		return nil, err
	}
	return &AuthRequest{Scheme: scheme, Auth: auth}, nil
}

// CreateSessionRequest/Response are internal-only (never on the client
// wire as a distinct opcode; createSession happens implicitly via
// ConnectRequest), used for C1's Raft log entry encoding of C4's
// createSession operation.
type CreateSessionRequest struct {
	TimeoutMs int32
}

func (r *CreateSessionRequest) Encode() []byte {
	var buf bytes.Buffer
	putInt32(&buf, r.TimeoutMs)
	return buf.Bytes()
}

func DecodeCreateSessionRequest(body []byte) (*CreateSessionRequest, error) {
	timeout, err := newReader(body).getInt32()
	if err != nil {
		return nil, err
	}
	return &CreateSessionRequest{TimeoutMs: timeout}, nil
}
