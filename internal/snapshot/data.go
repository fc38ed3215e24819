package snapshot

import (
	"bytes"
	"fmt"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

// Data is a logical snapshot of the keeper store (§3.6): everything
// needed to restore a replica without replaying its whole log.
type Data struct {
	LastIndex uint64
	LastTerm  uint64

	Nodes      []v1.NodeRecord
	Ephemerals []v1.EphemeralRecord
	Sessions   []v1.SessionRecord
	ACLs       []v1.ACLRecord
	Counters   []v1.CounterRecord
	StringMap  []v1.StringMapRecord
	Config     []v1.ConfigRecord
}

// Source is implemented by the keeper store: it must return a consistent
// point-in-time copy, taking its exclusive lock only long enough to copy
// the top-level indices (§4.4, Open Question decision 4 in DESIGN.md).
type Source interface {
	Snapshot() (Data, error)
}

func encodeBatch(kind v1.BatchKind, count int, writeRecord func(*bytes.Buffer, int)) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	var countBuf [4]byte
	enc.PutUint32(countBuf[:], uint32(count))
	buf.Write(countBuf[:])
	for i := 0; i < count; i++ {
		writeRecord(&buf, i)
	}
	return buf.Bytes()
}

func decodeBatchHeader(data []byte) (v1.BatchKind, uint32, []byte, error) {
	if len(data) < 5 {
		return 0, 0, nil, fmt.Errorf("snapshot: batch too short")
	}
	kind := v1.BatchKind(data[0])
	count := enc.Uint32(data[1:5])
	return kind, count, data[5:], nil
}

// batchesFor splits Data into the ordered list of encoded batch bodies a
// Create call writes out, one per non-empty record set.
func batchesFor(d Data) [][]byte {
	var out [][]byte
	if len(d.ACLs) > 0 {
		out = append(out, encodeBatch(v1.BatchACLMap, len(d.ACLs), func(buf *bytes.Buffer, i int) {
			buf.Write(d.ACLs[i].Encode())
		}))
	}
	if len(d.Sessions) > 0 {
		out = append(out, encodeBatch(v1.BatchSessions, len(d.Sessions), func(buf *bytes.Buffer, i int) {
			buf.Write(d.Sessions[i].Encode())
		}))
	}
	if len(d.Nodes) > 0 {
		out = append(out, encodeBatch(v1.BatchNodes, len(d.Nodes), func(buf *bytes.Buffer, i int) {
			buf.Write(d.Nodes[i].Encode())
		}))
	}
	if len(d.Ephemerals) > 0 {
		out = append(out, encodeBatch(v1.BatchEphemerals, len(d.Ephemerals), func(buf *bytes.Buffer, i int) {
			buf.Write(d.Ephemerals[i].Encode())
		}))
	}
	if len(d.Counters) > 0 {
		out = append(out, encodeBatch(v1.BatchIntMap, len(d.Counters), func(buf *bytes.Buffer, i int) {
			buf.Write(d.Counters[i].Encode())
		}))
	}
	if len(d.StringMap) > 0 {
		out = append(out, encodeBatch(v1.BatchStringMap, len(d.StringMap), func(buf *bytes.Buffer, i int) {
			buf.Write(d.StringMap[i].Encode())
		}))
	}
	if len(d.Config) > 0 {
		out = append(out, encodeBatch(v1.BatchConfig, len(d.Config), func(buf *bytes.Buffer, i int) {
			buf.Write(d.Config[i].Encode())
		}))
	}
	return out
}

// parseBatch decodes one batch body into Data, appending to whichever
// slice its BatchKind selects.
func parseBatch(data []byte, into *Data) error {
	kind, count, rest, err := decodeBatchHeader(data)
	if err != nil {
		return err
	}
	pos := 0
	for i := uint32(0); i < count; i++ {
		remaining := rest[pos:]
		switch kind {
		case v1.BatchNodes:
			rec, n, err := v1.DecodeNodeRecord(remaining)
			if err != nil {
				return err
			}
			into.Nodes = append(into.Nodes, *rec)
			pos += n
		case v1.BatchEphemerals:
			rec, n, err := v1.DecodeEphemeralRecord(remaining)
			if err != nil {
				return err
			}
			into.Ephemerals = append(into.Ephemerals, *rec)
			pos += n
		case v1.BatchSessions:
			rec, n, err := v1.DecodeSessionRecord(remaining)
			if err != nil {
				return err
			}
			into.Sessions = append(into.Sessions, *rec)
			pos += n
		case v1.BatchACLMap:
			rec, n, err := v1.DecodeACLRecord(remaining)
			if err != nil {
				return err
			}
			into.ACLs = append(into.ACLs, *rec)
			pos += n
		case v1.BatchIntMap:
			rec, n, err := v1.DecodeCounterRecord(remaining)
			if err != nil {
				return err
			}
			into.Counters = append(into.Counters, *rec)
			pos += n
		case v1.BatchStringMap:
			rec, n, err := v1.DecodeStringMapRecord(remaining)
			if err != nil {
				return err
			}
			into.StringMap = append(into.StringMap, *rec)
			pos += n
		case v1.BatchConfig:
			rec, n, err := v1.DecodeConfigRecord(remaining)
			if err != nil {
				return err
			}
			into.Config = append(into.Config, *rec)
			pos += n
		default:
			return fmt.Errorf("snapshot: unknown batch kind %d", kind)
		}
	}
	return nil
}
