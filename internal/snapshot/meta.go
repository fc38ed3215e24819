package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const metaFileName = "meta"

// writeMeta persists the last-applied index/term (16 bytes, no format
// version) alongside the object files (§6.3).
func writeMeta(dir string, lastIndex, lastTerm uint64) error {
	var buf [8 + 8]byte
	enc.PutUint64(buf[0:8], lastIndex)
	enc.PutUint64(buf[8:16], lastTerm)
	path := filepath.Join(dir, metaFileName)
	if err := os.WriteFile(path, buf[:], 0644); err != nil {
		return err
	}
	return nil
}

// readMeta reads the last-applied index/term back out. The format
// version itself lives in the directory name, not the file body, and
// readMeta does not check the directory name: Install calls it on
// whatever directory it is given.
func readMeta(dir string) (lastIndex, lastTerm uint64, err error) {
	path := filepath.Join(dir, metaFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	if len(raw) != 16 {
		return 0, 0, fmt.Errorf("snapshot: malformed meta file %s", path)
	}
	lastIndex = binary.BigEndian.Uint64(raw[0:8])
	lastTerm = binary.BigEndian.Uint64(raw[8:16])
	return lastIndex, lastTerm, nil
}
