// Package forwarder implements C7: on a follower, one persistent TCP
// connection per worker lane to the current leader, sharded by session
// id hash, relaying writes, pings and session_sync bulk refreshes and
// correlating the leader's replies back to the waiting caller (§4.7).
package forwarder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

var enc = binary.BigEndian

// frameType tags both directions of the lane protocol.
type frameType int32

const (
	frameRequest     frameType = 1
	frameHeartbeat   frameType = 2
	frameSessionSync frameType = 3
)

// followerFrame is sent follower -> leader: `{type, correlation_id, body}`.
type followerFrame struct {
	Type          frameType
	CorrelationID int64
	Body          []byte
}

// leaderFrame is sent leader -> follower: `{type, correlation_id, error, zxid}`.
type leaderFrame struct {
	Type          frameType
	CorrelationID int64
	Err           v1.ErrorCode
	Zxid          int64
}

func encodeFollowerFrame(f followerFrame) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, enc, int32(f.Type))
	binary.Write(&buf, enc, f.CorrelationID)
	buf.Write(f.Body)
	return frame(buf.Bytes())
}

func decodeFollowerFrame(b []byte) (followerFrame, error) {
	if len(b) < 12 {
		return followerFrame{}, io.ErrUnexpectedEOF
	}
	f := followerFrame{
		Type:          frameType(int32(enc.Uint32(b[0:4]))),
		CorrelationID: int64(enc.Uint64(b[4:12])),
		Body:          b[12:],
	}
	return f, nil
}

func encodeLeaderFrame(f leaderFrame) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, enc, int32(f.Type))
	binary.Write(&buf, enc, f.CorrelationID)
	binary.Write(&buf, enc, int32(f.Err))
	binary.Write(&buf, enc, f.Zxid)
	return frame(buf.Bytes())
}

func decodeLeaderFrame(b []byte) (leaderFrame, error) {
	if len(b) < 24 {
		return leaderFrame{}, io.ErrUnexpectedEOF
	}
	return leaderFrame{
		Type:          frameType(int32(enc.Uint32(b[0:4]))),
		CorrelationID: int64(enc.Uint64(b[4:12])),
		Err:           v1.ErrorCode(int32(enc.Uint32(b[12:16]))),
		Zxid:          int64(enc.Uint64(b[16:24])),
	}, nil
}

func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	enc.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// requestBody is the frameRequest body: the write request the leader
// couldn't otherwise recover from a bare correlation_id, since the lane
// protocol has no concept of session/xid/op of its own.
type requestBody struct {
	SessionID     int64
	Xid           int64
	Op            v1.OpCode
	ArrivalTimeMs int64
	Payload       []byte
}

func encodeRequestBody(r requestBody) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, enc, r.SessionID)
	binary.Write(&buf, enc, r.Xid)
	binary.Write(&buf, enc, int32(r.Op))
	binary.Write(&buf, enc, r.ArrivalTimeMs)
	binary.Write(&buf, enc, int32(len(r.Payload)))
	buf.Write(r.Payload)
	return buf.Bytes()
}

func decodeRequestBody(b []byte) (requestBody, error) {
	if len(b) < 32 {
		return requestBody{}, io.ErrUnexpectedEOF
	}
	r := requestBody{
		SessionID:     int64(enc.Uint64(b[0:8])),
		Xid:           int64(enc.Uint64(b[8:16])),
		Op:            v1.OpCode(int32(enc.Uint32(b[16:20]))),
		ArrivalTimeMs: int64(enc.Uint64(b[20:28])),
	}
	n := int32(enc.Uint32(b[28:32]))
	if n < 0 || int(32+n) > len(b) {
		return requestBody{}, fmt.Errorf("forwarder: malformed request body length %d", n)
	}
	r.Payload = b[32 : 32+n]
	return r, nil
}

// heartbeatBody carries a single session id.
func encodeHeartbeatBody(sessionID int64) []byte {
	b := make([]byte, 8)
	enc.PutUint64(b, uint64(sessionID))
	return b
}

func decodeHeartbeatBody(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	return int64(enc.Uint64(b)), nil
}

// sessionSyncBody carries a repeated `{session_id, remaining_ms}` list.
func encodeSessionSyncBody(entries []sessionRemaining) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, enc, int32(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, enc, e.SessionID)
		binary.Write(&buf, enc, e.RemainingMs)
	}
	return buf.Bytes()
}

func decodeSessionSyncBody(b []byte) ([]sessionRemaining, error) {
	if len(b) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	n := int32(enc.Uint32(b[0:4]))
	out := make([]sessionRemaining, 0, n)
	pos := 4
	for i := int32(0); i < n; i++ {
		if len(b)-pos < 16 {
			return nil, io.ErrUnexpectedEOF
		}
		out = append(out, sessionRemaining{
			SessionID:   int64(enc.Uint64(b[pos : pos+8])),
			RemainingMs: int64(enc.Uint64(b[pos+8 : pos+16])),
		})
		pos += 16
	}
	return out, nil
}

// sessionRemaining mirrors sessionmgr.SessionRemaining; kept as a local
// type so this package's wire codec doesn't need to import sessionmgr.
type sessionRemaining struct {
	SessionID   int64
	RemainingMs int64
}
