package v1

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// enc is the wire encoding for every length, integer and offset field:
// big-endian two's complement, as §4.1 mandates.
var enc = binary.BigEndian

const (
	nullLen int32 = -1 // "no value" marker for length-prefixed strings/bytes
	maxFrame       = 64 << 20
)

// putInt32/putInt64 append a big-endian integer to buf.
func putInt32(buf *bytes.Buffer, v int32) { _ = binary.Write(buf, enc, v) }
func putInt64(buf *bytes.Buffer, v int64) { _ = binary.Write(buf, enc, v) }

// putString encodes a path/string as `[int32 len][bytes]`; an empty Go
// string still encodes as len=0, never len=-1 (that marker is reserved
// for "absent", used by nullable fields such as ACL scheme on check ops).
func putString(buf *bytes.Buffer, s string) {
	putInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

// putNullableString encodes an absent value (present == false) as the -1
// sentinel and a present one, even "", as an ordinary `[int32 len][bytes]`
// string, for fields where ZooKeeper distinguishes an empty value from no
// value.
func putNullableString(buf *bytes.Buffer, present bool, s string) {
	if !present {
		putInt32(buf, nullLen)
		return
	}
	putString(buf, s)
}

func putBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		putInt32(buf, nullLen)
		return
	}
	putInt32(buf, int32(len(b)))
	buf.Write(b)
}

type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) getInt32() (int32, error) {
	if len(r.b)-r.pos < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := int32(enc.Uint32(r.b[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) getInt64() (int64, error) {
	if len(r.b)-r.pos < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := int64(enc.Uint64(r.b[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) getBytes() ([]byte, error) {
	n, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	if n == nullLen {
		return nil, nil
	}
	if n < 0 || int(n) > len(r.b)-r.pos {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) getString() (string, error) {
	b, err := r.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) done() bool { return r.pos >= len(r.b) }

// RequestHeader is the fixed prefix of every request frame.
type RequestHeader struct {
	Xid    int64
	OpCode OpCode
}

// ResponseHeader is the fixed prefix of every response frame.
type ResponseHeader struct {
	Xid  int64
	Zxid int64
	Err  ErrorCode
}

// EncodeRequest builds `[int32 len][int64 xid][int32 opcode][body]`.
func EncodeRequest(xid int64, op OpCode, body []byte) []byte {
	var buf bytes.Buffer
	putInt64(&buf, xid)
	putInt32(&buf, int32(op))
	buf.Write(body)
	return frame(buf.Bytes())
}

// EncodeResponse builds `[int32 len][int64 xid][int64 zxid][int32 err][body if err==0]`.
func EncodeResponse(xid, zxid int64, errCode ErrorCode, body []byte) []byte {
	var buf bytes.Buffer
	putInt64(&buf, xid)
	putInt64(&buf, zxid)
	putInt32(&buf, int32(errCode))
	if errCode == ErrOK {
		buf.Write(body)
	}
	return frame(buf.Bytes())
}

func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	enc.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// ReadFrame reads one length-prefixed frame off r. A malformed length
// (negative or exceeding maxFrame) is treated as a protocol error; per
// §7 the caller must close the connection, never retry on the same
// stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int32(enc.Uint32(lenBuf[:]))
	if n < 0 || n > maxFrame {
		return nil, fmt.Errorf("v1: invalid frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// DecodeRequestHeader parses the fixed prefix off a request frame body,
// returning the header and the remaining opcode-specific bytes.
func DecodeRequestHeader(frame []byte) (RequestHeader, []byte, error) {
	r := newReader(frame)
	xid, err := r.getInt64()
	if err != nil {
		return RequestHeader{}, nil, err
	}
	op, err := r.getInt32()
	if err != nil {
		return RequestHeader{}, nil, err
	}
	return RequestHeader{Xid: xid, OpCode: OpCode(op)}, frame[r.pos:], nil
}

// DecodeResponseHeader parses the fixed prefix off a response frame body.
func DecodeResponseHeader(frame []byte) (ResponseHeader, []byte, error) {
	r := newReader(frame)
	xid, err := r.getInt64()
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	zxid, err := r.getInt64()
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	errc, err := r.getInt32()
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	return ResponseHeader{Xid: xid, Zxid: zxid, Err: ErrorCode(errc)}, frame[r.pos:], nil
}

func encodeStat(buf *bytes.Buffer, s Stat) {
	putInt64(buf, s.Czxid)
	putInt64(buf, s.Mzxid)
	putInt64(buf, s.Pzxid)
	putInt64(buf, s.Ctime)
	putInt64(buf, s.Mtime)
	putInt32(buf, s.Version)
	putInt32(buf, s.Cversion)
	putInt32(buf, s.Aversion)
	putInt64(buf, s.EphemeralOwner)
	putInt32(buf, s.DataLength)
	putInt32(buf, s.NumChildren)
}

func decodeStat(r *reader) (Stat, error) {
	var s Stat
	var err error
	if s.Czxid, err = r.getInt64(); err != nil {
		return s, err
	}
	if s.Mzxid, err = r.getInt64(); err != nil {
		return s, err
	}
	if s.Pzxid, err = r.getInt64(); err != nil {
		return s, err
	}
	if s.Ctime, err = r.getInt64(); err != nil {
		return s, err
	}
	if s.Mtime, err = r.getInt64(); err != nil {
		return s, err
	}
	if s.Version, err = r.getInt32(); err != nil {
		return s, err
	}
	if s.Cversion, err = r.getInt32(); err != nil {
		return s, err
	}
	if s.Aversion, err = r.getInt32(); err != nil {
		return s, err
	}
	if s.EphemeralOwner, err = r.getInt64(); err != nil {
		return s, err
	}
	if s.DataLength, err = r.getInt32(); err != nil {
		return s, err
	}
	if s.NumChildren, err = r.getInt32(); err != nil {
		return s, err
	}
	return s, nil
}

func encodeACL(buf *bytes.Buffer, acl []ACLEntry) {
	putInt32(buf, int32(len(acl)))
	for _, e := range acl {
		putInt32(buf, int32(e.Perms))
		putString(buf, e.Id.Scheme)
		putString(buf, e.Id.ID)
	}
}

func decodeACL(r *reader) ([]ACLEntry, error) {
	n, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	acl := make([]ACLEntry, 0, n)
	for i := int32(0); i < n; i++ {
		perms, err := r.getInt32()
		if err != nil {
			return nil, err
		}
		scheme, err := r.getString()
		if err != nil {
			return nil, err
		}
		id, err := r.getString()
		if err != nil {
			return nil, err
		}
		acl = append(acl, ACLEntry{Id: Id{Scheme: scheme, ID: id}, Perms: Perm(perms)})
	}
	return acl, nil
}
