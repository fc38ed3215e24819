package keeper

import (
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	require.NoError(t, err)
	return s
}

func worldACL() []v1.ACLEntry {
	return []v1.ACLEntry{{Id: v1.Id{Scheme: "world", ID: "anyone"}, Perms: v1.PermAll}}
}

func createSession(t *testing.T, s *Store, sessionID int64) {
	t.Helper()
	_, _, err := s.Apply(Request{
		OpCode:        v1.OpCreateSessionInternal,
		CreateSession: &v1.CreateSessionRequest{TimeoutMs: 30000},
	}, sessionID, 1000, 1)
	require.NoError(t, err)
}

func TestCreateAndGetData(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)

	resp, _, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/a", Data: []byte("hello"), ACL: worldACL()},
	}, 1, 1000, 2)
	require.NoError(t, err)
	require.Equal(t, "/a", resp.Create.Path)

	getResp, _, err := s.Apply(Request{
		OpCode:    v1.OpGetData,
		PathWatch: &v1.PathWatchRequest{Path: "/a"},
	}, 1, 1000, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), getResp.GetData.Data)
	require.Equal(t, int64(2), getResp.GetData.Stat.Czxid)
}

func TestCreateSequentialAppendsCounter(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)

	for i := 0; i < 3; i++ {
		resp, _, err := s.Apply(Request{
			OpCode: v1.OpCreate,
			Create: &v1.CreateRequest{Path: "/seq-", Data: nil, ACL: worldACL(), Flags: v1.FlagSequential},
		}, 1, 1000, int64(i+2))
		require.NoError(t, err)
		require.Equal(t, "/seq-"+sequentialSuffix(uint64(i)), resp.Create.Path)
	}
}

func TestCreateRejectsDataOverMaxNodeSize(t *testing.T) {
	s := newTestStore(t)
	s.MaxNodeSize = 4
	createSession(t, s, 1)

	_, _, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/a", Data: []byte("toolong"), ACL: worldACL()},
	}, 1, 1000, 2)
	require.Error(t, err)
	require.Equal(t, v1.ErrBadArguments, v1.CodeOf(err))
}

func TestSetDataRejectsDataOverMaxNodeSize(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/a", Data: []byte("ok"), ACL: worldACL()},
	}, 1, 1000, 2)
	require.NoError(t, err)

	s.MaxNodeSize = 4
	_, _, err = s.Apply(Request{
		OpCode:  v1.OpSetData,
		SetData: &v1.SetDataRequest{Path: "/a", Data: []byte("toolong"), Version: -1},
	}, 1, 1000, 3)
	require.Error(t, err)
	require.Equal(t, v1.ErrBadArguments, v1.CodeOf(err))
}

func TestExistsWatchFiresOnCreate(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)

	_, _, err := s.Apply(Request{
		OpCode:    v1.OpExists,
		PathWatch: &v1.PathWatchRequest{Path: "/a", Watch: true},
	}, 1, 1000, 2)
	require.NoError(t, err)

	_, events, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/a", ACL: worldACL()},
	}, 1, 1000, 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].SessionID)
	require.Equal(t, v1.EventNodeCreated, events[0].Notify.Type)
	require.Equal(t, v1.WatchExists, events[0].Notify.Kind)
	require.Equal(t, "/a", events[0].Notify.Path)
}

func TestSetACLUndoRestoresOriginalACL(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/a", ACL: worldACL()},
	}, 1, 1000, 2)
	require.NoError(t, err)

	multi := &v1.MultiRequest{Ops: []v1.MultiOp{
		{OpCode: v1.OpSetACL, Body: (&v1.SetACLRequest{Path: "/a", ACL: worldACL(), Version: -1}).Encode()},
		{OpCode: v1.OpDelete, Body: (&v1.DeleteRequest{Path: "/does-not-exist", Version: -1}).Encode()},
	}}
	resp, _, err := s.Apply(Request{OpCode: v1.OpMulti, Multi: multi}, 1, 1000, 3)
	require.NoError(t, err)
	require.Equal(t, v1.ErrRuntimeInconsistency, resp.Multi.Results[0].Err)
	require.Equal(t, v1.ErrNoNode, resp.Multi.Results[1].Err)

	getResp, _, err := s.Apply(Request{
		OpCode:    v1.OpGetData,
		PathWatch: &v1.PathWatchRequest{Path: "/a"},
	}, 1, 1000, 4)
	require.NoError(t, err)
	require.Equal(t, int32(0), getResp.GetData.Stat.Aversion)
}

func TestCreateMissingParentFails(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)

	_, _, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/a/b", Data: nil, ACL: worldACL()},
	}, 1, 1000, 2)
	require.Error(t, err)
	require.Equal(t, v1.ErrNoNode, v1.CodeOf(err))
}

func TestDeleteFiresWatchAndRemovesNode(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/a", ACL: worldACL()}}, 1, 1000, 2)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpExists, PathWatch: &v1.PathWatchRequest{Path: "/a", Watch: true}}, 1, 1000, 3)
	require.NoError(t, err)

	_, events, err := s.Apply(Request{OpCode: v1.OpDelete, Delete: &v1.DeleteRequest{Path: "/a", Version: -1}}, 1, 1000, 4)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, v1.EventNodeDeleted, events[0].Notify.Type)

	existsResp, _, err := s.Apply(Request{OpCode: v1.OpExists, PathWatch: &v1.PathWatchRequest{Path: "/a"}}, 1, 1000, 5)
	require.NoError(t, err)
	require.Nil(t, existsResp.Exists.Stat)
}

func TestDeleteNonEmptyFails(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/a", ACL: worldACL()}}, 1, 1000, 2)
	require.NoError(t, err)
	_, _, err = s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/a/b", ACL: worldACL()}}, 1, 1000, 3)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpDelete, Delete: &v1.DeleteRequest{Path: "/a", Version: -1}}, 1, 1000, 4)
	require.Error(t, err)
	require.Equal(t, v1.ErrNotEmpty, v1.CodeOf(err))
}

func TestGetChildrenReturnsSorted(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	for _, name := range []string{"/z", "/a", "/m"} {
		_, _, err := s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: name, ACL: worldACL()}}, 1, 1000, 2)
		require.NoError(t, err)
	}

	resp, _, err := s.Apply(Request{OpCode: v1.OpGetChildren, PathWatch: &v1.PathWatchRequest{Path: "/"}}, 1, 1000, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "m", "z"}, resp.GetChildren.Children)
}

func TestEphemeralRemovedOnSessionClose(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/e", ACL: worldACL(), Flags: v1.FlagEphemeral},
	}, 1, 1000, 2)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpClose}, 1, 1000, 3)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/e"}}, 1, 1000, 4)
	require.Error(t, err)
	require.Equal(t, v1.ErrNoNode, v1.CodeOf(err))
}

func TestMultiAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/a", ACL: worldACL()}}, 1, 1000, 2)
	require.NoError(t, err)

	multi := &v1.MultiRequest{Ops: []v1.MultiOp{
		{OpCode: v1.OpSetData, Body: (&v1.SetDataRequest{Path: "/a", Data: []byte("x"), Version: -1}).Encode()},
		{OpCode: v1.OpDelete, Body: (&v1.DeleteRequest{Path: "/does-not-exist", Version: -1}).Encode()},
	}}
	resp, _, err := s.Apply(Request{OpCode: v1.OpMulti, Multi: multi}, 1, 1000, 3)
	require.NoError(t, err)
	require.Len(t, resp.Multi.Results, 2)
	require.Equal(t, v1.ErrRuntimeInconsistency, resp.Multi.Results[0].Err)
	require.Equal(t, v1.ErrNoNode, resp.Multi.Results[1].Err)

	getResp, _, err := s.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/a"}}, 1, 1000, 4)
	require.NoError(t, err)
	require.Empty(t, getResp.GetData.Data, "setData must have rolled back")
}

func TestMultiCommitsAllOnSuccess(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/a", ACL: worldACL()}}, 1, 1000, 2)
	require.NoError(t, err)

	multi := &v1.MultiRequest{Ops: []v1.MultiOp{
		{OpCode: v1.OpSetData, Body: (&v1.SetDataRequest{Path: "/a", Data: []byte("x"), Version: -1}).Encode()},
		{OpCode: v1.OpCreate, Body: (&v1.CreateRequest{Path: "/b", ACL: worldACL()}).Encode()},
	}}
	resp, _, err := s.Apply(Request{OpCode: v1.OpMulti, Multi: multi}, 1, 1000, 3)
	require.NoError(t, err)
	for _, r := range resp.Multi.Results {
		require.Equal(t, v1.ErrOK, r.Err)
	}

	getResp, _, err := s.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/a"}}, 1, 1000, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), getResp.GetData.Data)
}

func TestDigestAuthAndACLEnforcement(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	createSession(t, s, 2)

	digest, err := generateDigest("alice:secret")
	require.NoError(t, err)
	_, _, err = s.Apply(Request{OpCode: v1.OpAuth, Auth: &v1.AuthRequest{Scheme: "digest", Auth: []byte("alice:secret")}}, 1, 1000, 2)
	require.NoError(t, err)

	aclOnlyAlice := []v1.ACLEntry{{Id: v1.Id{Scheme: "digest", ID: digest}, Perms: v1.PermAll}}
	_, _, err = s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/secret", ACL: aclOnlyAlice}}, 1, 1000, 3)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/secret"}}, 2, 1000, 4)
	require.Error(t, err)
	require.Equal(t, v1.ErrNoAuth, v1.CodeOf(err))

	_, _, err = s.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/secret"}}, 1, 1000, 5)
	require.NoError(t, err)
}

func TestSuperDigestBypassesACL(t *testing.T) {
	superDigest, err := generateDigest("super:secret")
	require.NoError(t, err)
	s, err := New(superDigest)
	require.NoError(t, err)
	createSession(t, s, 1)
	createSession(t, s, 2)

	aclOnlyAlice := []v1.ACLEntry{{Id: v1.Id{Scheme: "digest", ID: "alice:x"}, Perms: v1.PermAll}}
	_, _, err = s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/secret", ACL: aclOnlyAlice}}, 1, 1000, 2)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpAuth, Auth: &v1.AuthRequest{Scheme: "digest", Auth: []byte("super:secret")}}, 2, 1000, 3)
	require.NoError(t, err)

	_, _, err = s.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/secret"}}, 2, 1000, 4)
	require.NoError(t, err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	createSession(t, s, 1)
	_, _, err := s.Apply(Request{OpCode: v1.OpCreate, Create: &v1.CreateRequest{Path: "/a", Data: []byte("v"), ACL: worldACL()}}, 1, 1000, 2)
	require.NoError(t, err)
	_, _, err = s.Apply(Request{
		OpCode: v1.OpCreate,
		Create: &v1.CreateRequest{Path: "/e", ACL: worldACL(), Flags: v1.FlagEphemeral},
	}, 1, 1000, 3)
	require.NoError(t, err)

	data, err := s.Snapshot()
	require.NoError(t, err)

	s2 := newTestStore(t)
	require.NoError(t, s2.Restore(data))

	resp, _, err := s2.Apply(Request{OpCode: v1.OpGetData, PathWatch: &v1.PathWatchRequest{Path: "/a"}}, 1, 1000, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), resp.GetData.Data)

	childResp, _, err := s2.Apply(Request{OpCode: v1.OpGetChildren, PathWatch: &v1.PathWatchRequest{Path: "/"}}, 1, 1000, 101)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "e"}, childResp.GetChildren.Children)
}
