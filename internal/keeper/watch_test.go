package keeper

import (
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func TestWatchIndexFireIsAtMostOnce(t *testing.T) {
	w := newWatchIndex()
	w.register(1, "/a", v1.WatchData)

	fired := w.fire("/a", v1.WatchData)
	require.Len(t, fired, 1)

	fired = w.fire("/a", v1.WatchData)
	require.Empty(t, fired, "a registration must not fire twice")
}

func TestWatchIndexFireFiltersByKind(t *testing.T) {
	w := newWatchIndex()
	w.register(1, "/a", v1.WatchData)
	w.register(1, "/a", v1.WatchChildren)

	fired := w.fire("/a", v1.WatchChildren)
	require.Len(t, fired, 1)
	require.Equal(t, v1.WatchChildren, fired[0].kind)

	remaining := w.fire("/a", v1.WatchData)
	require.Len(t, remaining, 1)
}

func TestWatchIndexDropSessionDoesNotFire(t *testing.T) {
	w := newWatchIndex()
	w.register(1, "/a", v1.WatchData)
	w.register(1, "/b", v1.WatchExists)

	w.dropSession(1)

	require.Empty(t, w.fire("/a", v1.WatchData))
	require.Empty(t, w.fire("/b", v1.WatchExists))
	require.Empty(t, w.bySession[1])
}

func TestACLMapInternReuses(t *testing.T) {
	m := newACLMap()
	entries := []v1.ACLEntry{{Id: v1.Id{Scheme: "world", ID: "anyone"}, Perms: v1.PermAll}}

	id1 := m.intern(entries)
	id2 := m.intern(entries)
	require.Equal(t, id1, id2)
	require.Equal(t, 2, m.refs[id1])

	m.release(id1)
	require.Equal(t, 1, m.refs[id1])
	m.release(id1)
	_, stillPresent := m.byID[id1]
	require.False(t, stillPresent)
}
