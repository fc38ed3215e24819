package log

import (
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

var (
	sealedPattern = regexp.MustCompile(`^log_(\d+)_(\d+)\.store$`)
	openPattern   = regexp.MustCompile(`^log_open_(\d+)\.store$`)
)

// Log owns the ordered sequence of segments: many sealed, one open
// (§4.2). It is the unit of durability, recovery, and truncation.
type Log struct {
	mu sync.RWMutex

	Dir    string
	Config Config

	activeSegment *segment
	segments      []*segment // sealed segments, oldest first, then activeSegment is separate
}

// NewLog opens (or creates) a log directory, defaulting unset byte
// bounds to 1024 as a conservative starting point for small test runs.
func NewLog(dir string, c Config) (*Log, error) {
	if c.Segment.MaxStoreBytes == 0 {
		c.Segment.MaxStoreBytes = 1024
	}
	if c.Segment.MaxIndexBytes == 0 {
		c.Segment.MaxIndexBytes = 1024
	}
	l := &Log{Dir: dir, Config: c}
	return l, l.setup()
}

func (l *Log) setup() error {
	files, err := os.ReadDir(l.Dir)
	if err != nil {
		return err
	}

	type sealedRef struct{ base, end uint64 }
	var sealedRefs []sealedRef
	var openBase uint64
	haveOpen := false

	for _, f := range files {
		if m := sealedPattern.FindStringSubmatch(f.Name()); m != nil {
			base, _ := strconv.ParseUint(m[1], 10, 64)
			end, _ := strconv.ParseUint(m[2], 10, 64)
			sealedRefs = append(sealedRefs, sealedRef{base: base, end: end})
		} else if m := openPattern.FindStringSubmatch(f.Name()); m != nil {
			base, _ := strconv.ParseUint(m[1], 10, 64)
			openBase = base
			haveOpen = true
		}
	}
	sort.Slice(sealedRefs, func(i, j int) bool { return sealedRefs[i].base < sealedRefs[j].base })

	for _, ref := range sealedRefs {
		s, err := openSealedSegment(l.Dir, ref.base, ref.end, l.Config)
		if err != nil {
			return err
		}
		l.segments = append(l.segments, s)
	}

	if haveOpen {
		s, err := newOpenSegment(l.Dir, openBase, l.Config)
		if err != nil {
			return err
		}
		l.activeSegment = s
		return nil
	}
	return l.newActiveSegment(l.Config.Segment.InitialOffset)
}

func (l *Log) newActiveSegment(off uint64) error {
	s, err := newOpenSegment(l.Dir, off, l.Config)
	if err != nil {
		return err
	}
	l.activeSegment = s
	return nil
}

// Append writes one entry to the open segment, sealing and rotating when
// it reaches its configured bound.
func (l *Log) Append(term uint64, typ v1.EntryType, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	off, err := l.activeSegment.Append(term, typ, payload)
	if err != nil {
		return 0, err
	}
	if l.activeSegment.IsMaxed() {
		sealed := l.activeSegment
		if err := sealed.Seal(); err != nil {
			return off, err
		}
		reopened, err := openSealedSegment(l.Dir, sealed.baseOffset, sealed.nextOffset-1, l.Config)
		if err != nil {
			return off, err
		}
		l.segments = append(l.segments, reopened)
		if err := l.newActiveSegment(off + 1); err != nil {
			return off, err
		}
	}
	return off, nil
}

// Read returns the entry at off, searching sealed segments by binary
// search and falling back to the open segment.
func (l *Log) Read(off uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.activeSegment.baseOffset <= off && off < l.activeSegment.nextOffset {
		return l.activeSegment.Read(off)
	}
	i := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].nextOffset > off
	})
	if i < len(l.segments) && l.segments[i].baseOffset <= off {
		return l.segments[i].Read(off)
	}
	return Entry{}, ErrOffsetOutOfRange{Offset: off}
}

// ErrOffsetOutOfRange is returned when no segment covers the requested
// index.
type ErrOffsetOutOfRange struct{ Offset uint64 }

func (e ErrOffsetOutOfRange) Error() string { return "log: offset out of range" }

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.segments {
		if err := s.Close(); err != nil {
			return err
		}
	}
	if err := l.activeSegment.store.writeTerminator(); err != nil {
		return err
	}
	return l.activeSegment.Close()
}

func (l *Log) Remove() error {
	if err := l.Close(); err != nil {
		return err
	}
	return os.RemoveAll(l.Dir)
}

func (l *Log) Reset() error {
	if err := l.Remove(); err != nil {
		return err
	}
	l.segments = nil
	return l.setup()
}

func (l *Log) LowestOffset() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.segments) > 0 {
		return l.segments[0].baseOffset, nil
	}
	return l.activeSegment.baseOffset, nil
}

func (l *Log) HighestOffset() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	off := l.activeSegment.nextOffset
	if off == 0 {
		return 0, nil
	}
	return off - 1, nil
}

// TruncatePrefix deletes sealed segments entirely below idx (§4.2): used
// after a snapshot supersedes them.
func (l *Log) TruncatePrefix(idx uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kept []*segment
	for _, s := range l.segments {
		if s.nextOffset-1 < idx {
			if err := s.Remove(); err != nil {
				return err
			}
			continue
		}
		kept = append(kept, s)
	}
	l.segments = kept
	return nil
}

// TruncateSuffix drops every entry at or after idx (§4.2): used on a term
// conflict after a leadership change. The segment that used to contain
// idx becomes the new open segment; later sealed segments are deleted.
func (l *Log) TruncateSuffix(idx uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if idx < l.activeSegment.baseOffset {
		// idx lands inside a sealed segment; find it.
		open := l.activeSegment
		var kept []*segment
		for _, s := range l.segments {
			if s.baseOffset > idx {
				if err := s.Remove(); err != nil {
					return err
				}
				continue
			}
			if idx >= s.baseOffset && idx < s.nextOffset {
				if err := l.reopenAsActive(s, idx); err != nil {
					return err
				}
				continue
			}
			kept = append(kept, s)
		}
		if err := open.Remove(); err != nil {
			return err
		}
		l.segments = kept
		return nil
	}

	// idx lands inside the currently-open segment.
	if idx >= l.activeSegment.nextOffset {
		return nil
	}
	_, pos, err := l.activeSegment.index.Read(int64(idx - l.activeSegment.baseOffset))
	if err != nil {
		return err
	}
	if err := l.activeSegment.store.truncate(pos); err != nil {
		return err
	}
	l.activeSegment.index.size = (idx - l.activeSegment.baseOffset) * entWidth
	l.activeSegment.nextOffset = idx
	return nil
}

// reopenAsActive rewinds a sealed segment to idx, renames it back to the
// open naming convention, and installs it as the new active segment.
func (l *Log) reopenAsActive(s *segment, idx uint64) error {
	_, pos, err := s.index.Read(int64(idx - s.baseOffset))
	if err != nil {
		return err
	}
	sealedStore, sealedIndex := s.store.Name(), s.index.Name()
	if err := s.Close(); err != nil {
		return err
	}
	newStorePath := storePath(l.Dir, s.baseOffset, false, 0)
	newIndexPath := indexPath(l.Dir, s.baseOffset, false, 0)
	if err := os.Rename(sealedStore, newStorePath); err != nil {
		return err
	}
	if err := os.Rename(sealedIndex, newIndexPath); err != nil {
		return err
	}
	reopened, err := newOpenSegment(l.Dir, s.baseOffset, l.Config)
	if err != nil {
		return err
	}
	if err := reopened.store.truncate(pos); err != nil {
		return err
	}
	reopened.index.size = (idx - s.baseOffset) * entWidth
	reopened.nextOffset = idx
	l.activeSegment = reopened
	return nil
}

type originReader struct {
	*store
	off int64
}

func (o *originReader) Read(p []byte) (int, error) {
	n, err := o.FlushedReadAt(p, o.off)
	if err != nil && err != io.EOF {
		return 0, err
	}
	o.off += int64(n)
	return n, err
}

// Reader concatenates every segment's store for a full read (used by the
// Raft adapter's legacy raw snapshot path, kept for parity with the
// chunked snapshot store's own verification tooling).
func (l *Log) Reader() io.Reader {
	l.mu.RLock()
	defer l.mu.RUnlock()
	readers := make([]io.Reader, 0, len(l.segments)+1)
	for _, s := range l.segments {
		readers = append(readers, &originReader{store: s.store})
	}
	readers = append(readers, &originReader{store: l.activeSegment.store})
	return io.MultiReader(readers...)
}
