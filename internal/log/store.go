package log

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

var (
	enc = binary.BigEndian
	// castagnoli is the CRC32C polynomial §6.3 mandates.
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

const (
	lenWidth   = 4  // length-of-payload field width
	headWidth  = lenWidth + 8 + 1 + 4 // len + term + type + crc32c
	terminator = 0  // zero-length "entry" written on clean Close
)

// ErrSealedCRCMismatch is fatal per §7: a CRC mismatch inside a sealed
// (immutable) segment means on-disk corruption, not a partial write.
type ErrSealedCRCMismatch struct {
	Pos uint64
}

func (e ErrSealedCRCMismatch) Error() string {
	return fmt.Sprintf("log: CRC mismatch in sealed segment at byte %d", e.Pos)
}

// store is the append-only backing file for one segment. Its on-disk
// format is `[entry ...][terminator(0)]`, entry =
// `[len:u32][term:u64][type:u8][crc32c:u32][payload:len bytes]` (§6.3).
type store struct {
	*os.File
	mu   sync.Mutex
	buf  *bufio.Writer
	size uint64
}

func newStore(f *os.File) (*store, error) {
	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, err
	}
	return &store{
		File: f,
		size: uint64(fi.Size()),
		buf:  bufio.NewWriter(f),
	}, nil
}

// Append writes one entry and returns the bytes written and its start
// position.
func (s *store) Append(term uint64, typ v1.EntryType, payload []byte) (n uint64, pos uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos = s.size
	head := make([]byte, headWidth)
	enc.PutUint32(head[0:lenWidth], uint32(len(payload)))
	enc.PutUint64(head[lenWidth:lenWidth+8], term)
	head[lenWidth+8] = byte(typ)
	enc.PutUint32(head[lenWidth+9:headWidth], crc(term, typ, payload))

	if _, err := s.buf.Write(head); err != nil {
		return 0, 0, err
	}
	if _, err := s.buf.Write(payload); err != nil {
		return 0, 0, err
	}

	w := uint64(headWidth + len(payload))
	s.size += w
	return w, pos, nil
}

func crc(term uint64, typ v1.EntryType, payload []byte) uint32 {
	h := crc32.New(castagnoli)
	var termBuf [8]byte
	enc.PutUint64(termBuf[:], term)
	h.Write(termBuf[:])
	h.Write([]byte{byte(typ)})
	h.Write(payload)
	return h.Sum32()
}

// Read returns the entry at pos, failing if its CRC does not match. The
// caller is assumed to have validated pos via the segment's index (built
// by scan on open), so a mismatch here means on-disk corruption of an
// already-indexed entry.
func (s *store) Read(pos uint64) (term uint64, typ v1.EntryType, payload []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return 0, 0, nil, err
	}

	head := make([]byte, headWidth)
	if _, err := s.File.ReadAt(head, int64(pos)); err != nil {
		return 0, 0, nil, err
	}
	payloadLen := enc.Uint32(head[0:lenWidth])
	term = enc.Uint64(head[lenWidth : lenWidth+8])
	typ = v1.EntryType(head[lenWidth+8])
	wantCRC := enc.Uint32(head[lenWidth+9 : headWidth])

	payload = make([]byte, payloadLen)
	if _, err := s.File.ReadAt(payload, int64(pos+headWidth)); err != nil {
		return 0, 0, nil, err
	}
	if crc(term, typ, payload) != wantCRC {
		return 0, 0, nil, ErrSealedCRCMismatch{Pos: pos}
	}
	return term, typ, payload, nil
}

// scanEntry is one outcome of a recovery scan step.
type scanEntry struct {
	Term    uint64
	Type    v1.EntryType
	Payload []byte
	Pos     uint64
}

// scan walks the store from byte 0, validating every CRC, and calls fn for
// each good entry. It stops at the first of: clean EOF, the terminator
// marker, a partial (short) trailing entry, or a CRC mismatch — returning
// the byte offset recovery should consider the new end of file, and
// whether that stop was a CRC mismatch (vs. an expected partial-tail/
// terminator, which §4.2 says must never be surfaced as an error).
func (s *store) scan(fn func(scanEntry)) (truncateAt uint64, corrupt bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return 0, false, err
	}

	var pos uint64
	for pos < s.size {
		if s.size-pos < lenWidth {
			return pos, false, nil // partial tail: not even a full length field
		}
		lenBuf := make([]byte, lenWidth)
		if _, err := s.File.ReadAt(lenBuf, int64(pos)); err != nil {
			return 0, false, err
		}
		payloadLen := enc.Uint32(lenBuf)
		if payloadLen == terminator {
			return pos, false, nil // clean-shutdown marker; not an entry
		}
		if s.size-pos < uint64(headWidth)+uint64(payloadLen) {
			return pos, false, nil // partial tail entry
		}

		rest := make([]byte, headWidth-lenWidth+int(payloadLen))
		if _, err := s.File.ReadAt(rest, int64(pos+lenWidth)); err != nil {
			return 0, false, err
		}
		term := enc.Uint64(rest[0:8])
		typ := v1.EntryType(rest[8])
		wantCRC := enc.Uint32(rest[9:13])
		payload := rest[13:]

		if crc(term, typ, payload) != wantCRC {
			return pos, true, nil
		}

		fn(scanEntry{Term: term, Type: typ, Payload: payload, Pos: pos})
		pos += uint64(headWidth) + uint64(payloadLen)
	}
	return pos, false, nil
}

// writeTerminator marks a clean shutdown so the next open's scan stops at
// an explicit marker instead of relying on EOF alone.
func (s *store) writeTerminator() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero [lenWidth]byte
	if _, err := s.buf.Write(zero[:]); err != nil {
		return err
	}
	s.size += lenWidth
	return nil
}

// truncate drops everything from at onward (used after scan finds a
// partial tail or, on the open segment, a CRC mismatch) and resets the
// writer to append from there.
func (s *store) truncate(at uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.File.Truncate(int64(at)); err != nil {
		return err
	}
	s.size = at
	s.buf = bufio.NewWriter(s.File)
	_, err := s.File.Seek(int64(at), 0)
	return err
}

// FlushedReadAt flushes buffered writes then reads, for callers (like the
// log's whole-store Reader) that read raw bytes rather than decoded
// entries.
func (s *store) FlushedReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return 0, err
	}
	return s.File.ReadAt(p, off)
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.File.Close()
}
