package log

import (
	"fmt"
	"os"
	"path"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

// segment is one bounded file range of the log: a store (record bytes)
// and an index (offset -> position), either the single open segment or
// one of many sealed ones (§4.2).
type segment struct {
	store  *store
	index  *index
	dir    string
	config Config

	baseOffset uint64
	nextOffset uint64
	sealed     bool
}

// storePath/indexPath implement the naming convention recovery relies on
// to tell open from sealed segments by directory scan alone (§4.2).
func storePath(dir string, base uint64, sealed bool, end uint64) string {
	if sealed {
		return path.Join(dir, fmt.Sprintf("log_%d_%d.store", base, end))
	}
	return path.Join(dir, fmt.Sprintf("log_open_%d.store", base))
}

func indexPath(dir string, base uint64, sealed bool, end uint64) string {
	if sealed {
		return path.Join(dir, fmt.Sprintf("log_%d_%d.index", base, end))
	}
	return path.Join(dir, fmt.Sprintf("log_open_%d.index", base))
}

// newOpenSegment creates (or reopens) the one active, appendable segment
// starting at baseOffset.
func newOpenSegment(dir string, baseOffset uint64, c Config) (*segment, error) {
	s := &segment{dir: dir, baseOffset: baseOffset, config: c, sealed: false}
	if err := s.openFiles(storePath(dir, baseOffset, false, 0), indexPath(dir, baseOffset, false, 0)); err != nil {
		return nil, err
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// openSealedSegment reopens an already-sealed, immutable segment for
// reads. A CRC mismatch anywhere in it is fatal (§4.2/§7).
func openSealedSegment(dir string, baseOffset, endOffset uint64, c Config) (*segment, error) {
	s := &segment{dir: dir, baseOffset: baseOffset, nextOffset: endOffset + 1, config: c, sealed: true}
	if err := s.openFiles(storePath(dir, baseOffset, true, endOffset), indexPath(dir, baseOffset, true, endOffset)); err != nil {
		return nil, err
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *segment) openFiles(storeFile, indexFile string) error {
	sf, err := os.OpenFile(storeFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if s.store, err = newStore(sf); err != nil {
		return err
	}
	idxFile, err := os.OpenFile(indexFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if s.index, err = newIndex(idxFile, s.config); err != nil {
		return err
	}
	return nil
}

// recover performs the single sequential CRC-validating scan required by
// §4.2 and rebuilds the in-memory index from it. A partial tail entry is
// discarded silently; a CRC mismatch in a sealed segment is fatal; in the
// open segment it becomes the new truncation point.
func (s *segment) recover() error {
	s.index.reset()
	var count uint32
	truncateAt, corrupt, err := s.store.scan(func(e scanEntry) {
		_ = s.index.Write(count, e.Pos)
		count++
	})
	if err != nil {
		return err
	}
	if corrupt {
		if s.sealed {
			return ErrSealedCRCMismatch{Pos: truncateAt}
		}
	}
	if !s.sealed && truncateAt != s.store.size {
		if err := s.store.truncate(truncateAt); err != nil {
			return err
		}
	}
	if !s.sealed {
		s.nextOffset = s.baseOffset + uint64(count)
	}
	return nil
}

// Append writes a new entry to an open segment and indexes it.
func (s *segment) Append(term uint64, typ v1.EntryType, payload []byte) (offset uint64, err error) {
	cur := s.nextOffset
	_, pos, err := s.store.Append(term, typ, payload)
	if err != nil {
		return 0, err
	}
	if err := s.index.Write(uint32(cur-s.baseOffset), pos); err != nil {
		return 0, err
	}
	s.nextOffset++
	return cur, nil
}

// Read returns the entry at the given absolute offset.
func (s *segment) Read(off uint64) (Entry, error) {
	_, pos, err := s.index.Read(int64(off - s.baseOffset))
	if err != nil {
		return Entry{}, err
	}
	term, typ, payload, err := s.store.Read(pos)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Index: off, Term: term, Type: typ, Payload: payload}, nil
}

// IsMaxed reports whether this segment has reached its configured bound
// and should be sealed.
func (s *segment) IsMaxed() bool {
	return s.store.size >= s.config.Segment.MaxStoreBytes || s.index.size >= s.config.Segment.MaxIndexBytes
}

// Seal closes, fsyncs, and renames the open segment's files to the
// sealed naming convention (§4.2).
func (s *segment) Seal() error {
	if err := s.store.writeTerminator(); err != nil {
		return err
	}
	oldStore, oldIndex := s.store.Name(), s.index.Name()
	endOffset := s.nextOffset - 1
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Rename(oldStore, storePath(s.dir, s.baseOffset, true, endOffset)); err != nil {
		return err
	}
	if err := os.Rename(oldIndex, indexPath(s.dir, s.baseOffset, true, endOffset)); err != nil {
		return err
	}
	s.sealed = true
	return nil
}

func (s *segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.index.Name()); err != nil {
		return err
	}
	return os.Remove(s.store.Name())
}

func (s *segment) Close() error {
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.store.Close()
}
