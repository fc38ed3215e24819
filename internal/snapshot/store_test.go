package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func sampleData(lastIndex, lastTerm uint64) Data {
	return Data{
		LastIndex: lastIndex,
		LastTerm:  lastTerm,
		Nodes: []v1.NodeRecord{
			{Path: "/a", Data: []byte("hello"), ACLID: 1, Version: 0},
			{Path: "/a/b", Data: []byte("world"), ACLID: 1, Version: 2},
		},
		Ephemerals: []v1.EphemeralRecord{
			{SessionID: 42, Paths: []string{"/a/b"}},
		},
		Sessions: []v1.SessionRecord{
			{SessionID: 42, TimeoutMs: 30000},
		},
		ACLs: []v1.ACLRecord{
			{ACLID: 1, Entries: []v1.ACLEntry{{Id: v1.Id{Scheme: "world", ID: "anyone"}, Perms: v1.PermAll}}},
		},
		Counters: []v1.CounterRecord{
			{Path: "/a", Counter: 3},
		},
	}
}

func TestStoreCreateInstallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)

	d := sampleData(100, 5)
	meta, err := s.Create(d)
	require.NoError(t, err)
	require.Equal(t, uint64(100), meta.LastIndex)

	got, err := s.Install(meta.Dir)
	require.NoError(t, err)
	require.Equal(t, d.LastIndex, got.LastIndex)
	require.Equal(t, d.LastTerm, got.LastTerm)
	require.ElementsMatch(t, d.Nodes, got.Nodes)
	require.ElementsMatch(t, d.Ephemerals, got.Ephemerals)
	require.ElementsMatch(t, d.Sessions, got.Sessions)
	require.ElementsMatch(t, d.ACLs, got.ACLs)
	require.ElementsMatch(t, d.Counters, got.Counters)
}

func TestStoreInstallDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)

	meta, err := s.Create(sampleData(1, 1))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(meta.Dir, "obj_0"))
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(filepath.Join(meta.Dir, "obj_0"), raw, 0644))

	_, err = s.Install(meta.Dir)
	require.Error(t, err)
	require.IsType(t, ErrCorruptObject{}, err)
}

func TestStorePruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	s.KeepSnapshots = 2

	for i := uint64(1); i <= 4; i++ {
		_, err := s.Create(sampleData(i*10, 1))
		require.NoError(t, err)
	}

	require.NoError(t, s.Prune())
	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, uint64(30), metas[0].LastIndex)
	require.Equal(t, uint64(40), metas[1].LastIndex)
}

func TestStoreRollsObjectFilesAtMaxRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	s.MaxObjectRecords = 2

	d := sampleData(1, 1)
	meta, err := s.Create(d)
	require.NoError(t, err)

	entries, err := os.ReadDir(meta.Dir)
	require.NoError(t, err)
	var objCount int
	for _, e := range entries {
		if filepathMatchesObj(e.Name()) {
			objCount++
		}
	}
	require.GreaterOrEqual(t, objCount, 2)

	got, err := s.Install(meta.Dir)
	require.NoError(t, err)
	require.ElementsMatch(t, d.Nodes, got.Nodes)
}
