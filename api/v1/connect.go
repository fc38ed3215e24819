package v1

import "bytes"

func (r *ConnectRequest) Encode() []byte {
	var buf bytes.Buffer
	putInt32(&buf, r.ProtocolVersion)
	putInt64(&buf, r.LastZxidSeen)
	putInt32(&buf, r.TimeoutMs)
	putInt64(&buf, r.SessionID)
	buf.Write(r.Password[:])
	return buf.Bytes()
}

func DecodeConnectRequest(body []byte) (*ConnectRequest, error) {
	r := newReader(body)
	req := &ConnectRequest{}
	var err error
	if req.ProtocolVersion, err = r.getInt32(); err != nil {
		return nil, err
	}
	if req.LastZxidSeen, err = r.getInt64(); err != nil {
		return nil, err
	}
	if req.TimeoutMs, err = r.getInt32(); err != nil {
		return nil, err
	}
	if req.SessionID, err = r.getInt64(); err != nil {
		return nil, err
	}
	if len(r.b)-r.pos < len(req.Password) {
		return nil, errShortRead
	}
	copy(req.Password[:], r.b[r.pos:])
	r.pos += len(req.Password)
	return req, nil
}

func (r *ConnectResponse) Encode() []byte {
	var buf bytes.Buffer
	putInt32(&buf, r.ProtocolVersion)
	putInt32(&buf, r.TimeoutMs)
	putInt64(&buf, r.SessionID)
	buf.Write(r.Password[:])
	return buf.Bytes()
}

func DecodeConnectResponse(body []byte) (*ConnectResponse, error) {
	r := newReader(body)
	resp := &ConnectResponse{}
	var err error
	if resp.ProtocolVersion, err = r.getInt32(); err != nil {
		return nil, err
	}
	if resp.TimeoutMs, err = r.getInt32(); err != nil {
		return nil, err
	}
	if resp.SessionID, err = r.getInt64(); err != nil {
		return nil, err
	}
	if len(r.b)-r.pos < len(resp.Password) {
		return nil, errShortRead
	}
	copy(resp.Password[:], r.b[r.pos:])
	r.pos += len(resp.Password)
	return resp, nil
}

// WatchEvent is delivered out of band on xid=XidNotify, zxid=-1 (§6.1).
type WatchEvent struct {
	Type EventType
	Kind WatchKind
	Path string
}

func (e *WatchEvent) Encode() []byte {
	var buf bytes.Buffer
	putInt32(&buf, int32(e.Type))
	buf.WriteByte(byte(e.Kind))
	putString(&buf, e.Path)
	return buf.Bytes()
}

func DecodeWatchEvent(body []byte) (*WatchEvent, error) {
	r := newReader(body)
	t, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	if r.pos >= len(r.b) {
		return nil, errShortRead
	}
	kind := WatchKind(r.b[r.pos])
	r.pos++
	path, err := r.getString()
	if err != nil {
		return nil, err
	}
	return &WatchEvent{Type: EventType(t), Kind: kind, Path: path}, nil
}
