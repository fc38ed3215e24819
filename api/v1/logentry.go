package v1

import "bytes"

// EntryType tags a log segment entry (§6.3); only `app` entries carry a
// LogEntry payload, `conf`/`noop` are opaque to this package and handled
// directly by the Raft library's own log store adapter.
type EntryType uint8

const (
	EntryApp  EntryType = 1
	EntryConf EntryType = 2
	EntryNoop EntryType = 3
)

// LogEntry is the payload Raft replicates for a client write: the
// originating session, the client's xid (for response correlation back
// to the pending request), the arrival time the accumulator stamped on
// it (§3.5's `arrival_time_ms`, carried so every replica's apply uses the
// same wall-clock value instead of reading its own), the opcode, and the
// opcode-specific body (`[session_id:i64][xid:i64][arrival_time_ms:i64][opcode:i32][body]`).
type LogEntry struct {
	SessionID     int64
	Xid           int64
	ArrivalTimeMs int64
	OpCode        OpCode
	Body          []byte
}

func (e *LogEntry) Encode() []byte {
	var buf bytes.Buffer
	putInt64(&buf, e.SessionID)
	putInt64(&buf, e.Xid)
	putInt64(&buf, e.ArrivalTimeMs)
	putInt32(&buf, int32(e.OpCode))
	buf.Write(e.Body)
	return buf.Bytes()
}

func DecodeLogEntry(b []byte) (*LogEntry, error) {
	r := newReader(b)
	entry := &LogEntry{}
	var err error
	if entry.SessionID, err = r.getInt64(); err != nil {
		return nil, err
	}
	if entry.Xid, err = r.getInt64(); err != nil {
		return nil, err
	}
	if entry.ArrivalTimeMs, err = r.getInt64(); err != nil {
		return nil, err
	}
	op, err := r.getInt32()
	if err != nil {
		return nil, err
	}
	entry.OpCode = OpCode(op)
	entry.Body = append([]byte(nil), b[r.pos:]...)
	return entry, nil
}
