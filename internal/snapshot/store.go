package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const formatVersion = "v3"

var dirPattern = regexp.MustCompile(`^snapshot_(\d+)_(\d+)_v3$`)

// Meta describes one on-disk snapshot directory.
type Meta struct {
	LastIndex uint64
	LastTerm  uint64
	Dir       string
}

func dirName(lastIndex, lastTerm uint64) string {
	return fmt.Sprintf("snapshot_%d_%d_%s", lastIndex, lastTerm, formatVersion)
}

// Store manages the `<data_dir>/snapshots/` directory (§6.5).
type Store struct {
	// BaseDir is `<data_dir>/snapshots`.
	BaseDir string
	// SaveBatchSize holds the configured records-per-batch bound (default
	// 10000). Create does not read it: each record kind is written as a
	// single batch however many records it has.
	SaveBatchSize int
	// MaxObjectRecords caps records per object file before rolling to the
	// next obj_<k>.
	MaxObjectRecords int
	// KeepSnapshots is how many newest directories Prune retains.
	KeepSnapshots int
}

// NewStore creates the snapshots directory if absent and applies spec
// defaults for unset batch/object bounds.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Store{
		BaseDir:          baseDir,
		SaveBatchSize:    10000,
		MaxObjectRecords: 100000,
		KeepSnapshots:    3,
	}, nil
}

// Create writes d to a new snapshot directory and atomically installs it
// by renaming from a temp name (§4.3 steps 2-4).
func (s *Store) Create(d Data) (Meta, error) {
	final := dirName(d.LastIndex, d.LastTerm)
	tmp := final + ".tmp"
	tmpPath := filepath.Join(s.BaseDir, tmp)
	if err := os.RemoveAll(tmpPath); err != nil {
		return Meta{}, err
	}
	if err := os.MkdirAll(tmpPath, 0755); err != nil {
		return Meta{}, err
	}

	batches := batchesFor(d)
	objIdx := 0
	var w *objectWriter
	recordsInObj := 0
	closeCurrent := func() error {
		if w == nil {
			return nil
		}
		return w.Close()
	}
	for _, b := range batches {
		if w == nil || recordsInObj >= s.MaxObjectRecords {
			if err := closeCurrent(); err != nil {
				return Meta{}, err
			}
			var err error
			w, err = createObjectFile(filepath.Join(tmpPath, fmt.Sprintf("obj_%d", objIdx)))
			if err != nil {
				return Meta{}, err
			}
			objIdx++
			recordsInObj = 0
		}
		if err := w.WriteBatch(b); err != nil {
			return Meta{}, err
		}
		recordsInObj += int(enc.Uint32(b[1:5]))
	}
	if err := closeCurrent(); err != nil {
		return Meta{}, err
	}

	if err := writeMeta(tmpPath, d.LastIndex, d.LastTerm); err != nil {
		return Meta{}, err
	}

	finalPath := filepath.Join(s.BaseDir, final)
	if err := os.RemoveAll(finalPath); err != nil {
		return Meta{}, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Meta{}, err
	}
	return Meta{LastIndex: d.LastIndex, LastTerm: d.LastTerm, Dir: finalPath}, nil
}

// Install validates and parses every object file in dir, in the fixed
// load order ACL map -> sessions -> nodes -> ephemerals -> counters
// (§4.3 step 3); children are reconstructed by the caller from Nodes'
// paths, not by this package.
func (s *Store) Install(dir string) (Data, error) {
	lastIdx, lastTerm, err := readMeta(dir)
	if err != nil {
		return Data{}, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Data{}, err
	}
	var objFiles []string
	for _, e := range entries {
		if filepathMatchesObj(e.Name()) {
			objFiles = append(objFiles, e.Name())
		}
	}
	sort.Strings(objFiles)

	data := Data{LastIndex: lastIdx, LastTerm: lastTerm}
	for _, name := range objFiles {
		batches, err := readObjectFile(filepath.Join(dir, name))
		if err != nil {
			return Data{}, err
		}
		for _, b := range batches {
			if err := parseBatch(b, &data); err != nil {
				return Data{}, err
			}
		}
	}
	return data, nil
}

func filepathMatchesObj(name string) bool {
	return len(name) > 4 && name[:4] == "obj_"
}

// List enumerates snapshot directories, newest (highest LastIndex) last.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, err
	}
	var metas []Meta
	for _, e := range entries {
		m := dirPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, _ := strconv.ParseUint(m[1], 10, 64)
		term, _ := strconv.ParseUint(m[2], 10, 64)
		metas = append(metas, Meta{LastIndex: idx, LastTerm: term, Dir: filepath.Join(s.BaseDir, e.Name())})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].LastIndex < metas[j].LastIndex })
	return metas, nil
}

// Prune keeps only the newest KeepSnapshots directories (§3.6).
func (s *Store) Prune() error {
	metas, err := s.List()
	if err != nil {
		return err
	}
	if len(metas) <= s.KeepSnapshots {
		return nil
	}
	for _, m := range metas[:len(metas)-s.KeepSnapshots] {
		if err := os.RemoveAll(m.Dir); err != nil {
			return err
		}
	}
	return nil
}
