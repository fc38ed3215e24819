// Package log implements the append-only, segmented, CRC-checked on-disk
// log described in spec §4.2/§6.3: an in-memory tail cache over sealed
// and one open segment, random access by index, prefix and suffix
// truncation, and crash recovery by sequential scan.
package log

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// Entry is one record in the log. Index is not part of the on-disk
// encoding (§6.3 only encodes term/type/crc/payload); it is recovered
// from position in the segment's index.
type Entry struct {
	Index   uint64
	Term    uint64
	Type    v1.EntryType
	Payload []byte
}
