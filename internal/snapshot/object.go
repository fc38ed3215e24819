// Package snapshot implements the chunked, checksummed snapshot store
// (§4.3/§6.3): periodic logical dumps of the keeper store, written as a
// directory of checksummed object files and installed atomically.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

var (
	enc        = binary.BigEndian
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

var (
	magicHead = [8]byte{'S', 'n', 'a', 'p', 'H', 'e', 'a', 'd'}
	magicTail = [8]byte{'S', 'n', 'a', 'p', 'T', 'a', 'i', 'l'}
)

// ErrCorruptObject reports a magic, per-batch, or rolling-checksum
// mismatch found while validating an incoming snapshot object (§4.3 step
// 2: "validate magic, per-batch CRCs, and rolling checksum").
type ErrCorruptObject struct {
	Path   string
	Reason string
}

func (e ErrCorruptObject) Error() string {
	return fmt.Sprintf("snapshot: corrupt object %s: %s", e.Path, e.Reason)
}

// objectWriter streams batches into one object file, maintaining a
// rolling CRC32C over every byte written (§4.3 step 3).
type objectWriter struct {
	f       *os.File
	buf     *bufio.Writer
	rolling uint32
}

func createObjectFile(path string) (*objectWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	w := &objectWriter{f: f, buf: bufio.NewWriter(f)}
	if err := w.write(magicHead[:]); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *objectWriter) write(b []byte) error {
	w.rolling = crc32.Update(w.rolling, castagnoli, b)
	_, err := w.buf.Write(b)
	return err
}

// WriteBatch appends one checksummed batch (§6.3): `[data_length:u32]
// [data_crc32c:u32][data]`. data is already the kind-tagged,
// length-delimited record list built by the caller.
func (w *objectWriter) WriteBatch(data []byte) error {
	var header [8]byte
	enc.PutUint32(header[0:4], uint32(len(data)))
	enc.PutUint32(header[4:8], crc32.Checksum(data, castagnoli))
	if err := w.write(header[:]); err != nil {
		return err
	}
	return w.write(data)
}

// Close writes the trailing magic and rolling checksum, then fsyncs.
func (w *objectWriter) Close() error {
	if err := w.write(magicTail[:]); err != nil {
		return err
	}
	var crcBuf [4]byte
	enc.PutUint32(crcBuf[:], w.rolling)
	if _, err := w.buf.Write(crcBuf[:]); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

// readObjectFile validates an object file in full and returns its raw
// batch bodies in order.
func readObjectFile(path string) ([][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(magicHead)+len(magicTail)+4 {
		return nil, ErrCorruptObject{Path: path, Reason: "too short"}
	}
	if string(raw[:8]) != string(magicHead[:]) {
		return nil, ErrCorruptObject{Path: path, Reason: "bad head magic"}
	}

	wantRolling := enc.Uint32(raw[len(raw)-4:])
	gotRolling := crc32.Checksum(raw[:len(raw)-4], castagnoli)
	if wantRolling != gotRolling {
		return nil, ErrCorruptObject{Path: path, Reason: "rolling checksum mismatch"}
	}

	body := raw[8 : len(raw)-4-8]
	if string(raw[len(raw)-4-8:len(raw)-4]) != string(magicTail[:]) {
		return nil, ErrCorruptObject{Path: path, Reason: "bad tail magic"}
	}

	var batches [][]byte
	pos := 0
	for pos < len(body) {
		if len(body)-pos < 8 {
			return nil, ErrCorruptObject{Path: path, Reason: "truncated batch header"}
		}
		dataLen := enc.Uint32(body[pos : pos+4])
		wantCRC := enc.Uint32(body[pos+4 : pos+8])
		pos += 8
		if uint32(len(body)-pos) < dataLen {
			return nil, ErrCorruptObject{Path: path, Reason: "truncated batch body"}
		}
		data := body[pos : pos+int(dataLen)]
		if crc32.Checksum(data, castagnoli) != wantCRC {
			return nil, ErrCorruptObject{Path: path, Reason: "batch CRC mismatch"}
		}
		batches = append(batches, data)
		pos += int(dataLen)
	}
	return batches, nil
}
