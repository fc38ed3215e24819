package log

import (
	"os"
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	var c Config
	c.Segment.MaxStoreBytes = 64
	c.Segment.MaxIndexBytes = 1024
	return c
}

func TestLogAppendReadRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	l, err := NewLog(dir, testConfig())
	require.NoError(t, err)

	off, err := l.Append(1, v1.EntryApp, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	got, err := l.Read(off)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got.Payload)
	require.Equal(t, uint64(1), got.Term)
	require.Equal(t, v1.EntryApp, got.Type)
}

func TestLogReadOutOfRange(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	l, err := NewLog(dir, testConfig())
	require.NoError(t, err)

	_, err = l.Read(1)
	require.Error(t, err)
}

func TestLogSealsAndRotatesSegments(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := testConfig()
	l, err := NewLog(dir, c)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := l.Append(1, v1.EntryApp, []byte("entry-payload"))
		require.NoError(t, err)
	}
	require.NotEmpty(t, l.segments, "some segments should have sealed")

	for i := uint64(0); i < 10; i++ {
		e, err := l.Read(i)
		require.NoError(t, err)
		require.Equal(t, []byte("entry-payload"), e.Payload)
	}
}

func TestLogRecoversAfterReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := testConfig()
	l, err := NewLog(dir, c)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.Append(1, v1.EntryApp, []byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	l2, err := NewLog(dir, c)
	require.NoError(t, err)
	for i := uint64(0); i < 5; i++ {
		e, err := l2.Read(i)
		require.NoError(t, err)
		require.Equal(t, []byte("x"), e.Payload)
	}
}

func TestLogDiscardsPartialTailOnRecovery(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := testConfig()
	l, err := NewLog(dir, c)
	require.NoError(t, err)
	_, err = l.Append(1, v1.EntryApp, []byte("good"))
	require.NoError(t, err)

	// simulate a crash mid-write: append a truncated trailing header
	// directly to the open segment's store file.
	storeName := l.activeSegment.store.Name()
	require.NoError(t, l.Close())

	f, err := os.OpenFile(storeName, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 99}) // claims a 99-byte payload that was never written
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := NewLog(dir, c)
	require.NoError(t, err)
	e, err := l2.Read(0)
	require.NoError(t, err)
	require.Equal(t, []byte("good"), e.Payload)

	// the partial tail must not have become a second visible entry
	_, err = l2.Read(1)
	require.Error(t, err)
}

func TestLogTruncatePrefix(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := testConfig()
	l, err := NewLog(dir, c)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := l.Append(1, v1.EntryApp, []byte("entry-payload"))
		require.NoError(t, err)
	}
	sealedCountBefore := len(l.segments)
	require.Greater(t, sealedCountBefore, 0)

	lowest, err := l.LowestOffset()
	require.NoError(t, err)

	require.NoError(t, l.TruncatePrefix(lowest+1))
	newLowest, err := l.LowestOffset()
	require.NoError(t, err)
	require.GreaterOrEqual(t, newLowest, lowest)
}

func TestLogTruncateSuffixWithinOpenSegment(t *testing.T) {
	dir, err := os.MkdirTemp("", "log_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := Config{}
	c.Segment.MaxStoreBytes = 4096
	c.Segment.MaxIndexBytes = 4096
	l, err := NewLog(dir, c)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Append(1, v1.EntryApp, []byte("v"))
		require.NoError(t, err)
	}
	require.NoError(t, l.TruncateSuffix(3))

	hi, err := l.HighestOffset()
	require.NoError(t, err)
	require.Equal(t, uint64(2), hi)

	_, err = l.Read(3)
	require.Error(t, err)
}
