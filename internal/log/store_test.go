package log

import (
	"os"
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendReadRoundTrip(t *testing.T) {
	f, err := os.CreateTemp("", "store_test")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	s, err := newStore(f)
	require.NoError(t, err)

	var positions []uint64
	for i := uint64(1); i < 4; i++ {
		_, pos, err := s.Append(i, v1.EntryApp, []byte("payload"))
		require.NoError(t, err)
		positions = append(positions, pos)
	}

	for i, pos := range positions {
		term, typ, payload, err := s.Read(pos)
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), term)
		require.Equal(t, v1.EntryApp, typ)
		require.Equal(t, []byte("payload"), payload)
	}
}

func TestStoreReadDetectsCRCMismatch(t *testing.T) {
	f, err := os.CreateTemp("", "store_test")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	s, err := newStore(f)
	require.NoError(t, err)
	_, pos, err := s.Append(1, v1.EntryApp, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// flip a payload byte to corrupt the CRC
	raw, err := os.OpenFile(f.Name(), os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte{'X'}, int64(pos)+int64(headWidth))
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	reopened, err := os.OpenFile(f.Name(), os.O_RDWR, 0644)
	require.NoError(t, err)
	s2, err := newStore(reopened)
	require.NoError(t, err)
	_, _, _, err = s2.Read(pos)
	require.Error(t, err)
	require.IsType(t, ErrSealedCRCMismatch{}, err)
}

func TestStoreScanStopsAtTerminator(t *testing.T) {
	f, err := os.CreateTemp("", "store_test")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	s, err := newStore(f)
	require.NoError(t, err)
	_, _, err = s.Append(1, v1.EntryApp, []byte("a"))
	require.NoError(t, err)
	_, _, err = s.Append(1, v1.EntryApp, []byte("b"))
	require.NoError(t, err)
	require.NoError(t, s.writeTerminator())

	var count int
	truncateAt, corrupt, err := s.scan(func(scanEntry) { count++ })
	require.NoError(t, err)
	require.False(t, corrupt)
	require.Equal(t, 2, count)
	require.Less(t, truncateAt, s.size)
}
