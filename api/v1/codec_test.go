package v1

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestResponseFrameRoundTrip(t *testing.T) {
	create := &CreateRequest{
		Path:  "/a",
		Data:  []byte("hello"),
		ACL:   []ACLEntry{{Id: Id{Scheme: "world", ID: "anyone"}, Perms: PermAll}},
		Flags: FlagPersistent,
	}
	frame := EncodeRequest(7, OpCreate, create.Encode())

	decoded, err := ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)

	hdr, body, err := DecodeRequestHeader(decoded)
	require.NoError(t, err)
	require.Equal(t, int64(7), hdr.Xid)
	require.Equal(t, OpCreate, hdr.OpCode)

	got, err := DecodeCreateRequest(body)
	require.NoError(t, err)
	require.Equal(t, create.Path, got.Path)
	require.Equal(t, create.Data, got.Data)
	require.Equal(t, create.ACL, got.ACL)
	require.Equal(t, create.Flags, got.Flags)
}

func TestResponseFrameOmitsBodyOnError(t *testing.T) {
	frame := EncodeResponse(1, 42, ErrNoNode, []byte("should not appear"))
	decoded, err := ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)

	hdr, body, err := DecodeResponseHeader(decoded)
	require.NoError(t, err)
	require.Equal(t, int64(1), hdr.Xid)
	require.Equal(t, int64(42), hdr.Zxid)
	require.Equal(t, ErrNoNode, hdr.Err)
	require.Empty(t, body)
}

func TestStatRoundTrip(t *testing.T) {
	resp := &GetDataResponse{
		Data: []byte("v1"),
		Stat: Stat{Czxid: 1, Mzxid: 2, Version: 3, DataLength: 2},
	}
	got, err := DecodeGetDataResponse(resp.Encode())
	require.NoError(t, err)
	require.Equal(t, resp.Data, got.Data)
	require.Equal(t, resp.Stat, got.Stat)
}

func TestExistsResponseNilStat(t *testing.T) {
	resp := &ExistsResponse{}
	got, err := DecodeExistsResponse(resp.Encode())
	require.NoError(t, err)
	require.Nil(t, got.Stat)
}

func TestGetChildrenResponseSorted(t *testing.T) {
	resp := &GetChildrenResponse{Children: []string{"item-0000000000", "item-0000000001"}}
	got, err := DecodeGetChildrenResponse(resp.Encode(), false)
	require.NoError(t, err)
	require.Equal(t, resp.Children, got.Children)
	require.Nil(t, got.Stat)
}

func TestMultiRequestRoundTrip(t *testing.T) {
	req := &MultiRequest{Ops: []MultiOp{
		{OpCode: OpCreate, Body: (&CreateRequest{Path: "/m", Flags: FlagPersistent}).Encode()},
		{OpCode: OpSetData, Body: (&SetDataRequest{Path: "/does-not-exist", Data: []byte("x"), Version: -1}).Encode()},
	}}
	got, err := DecodeMultiRequest(req.Encode())
	require.NoError(t, err)
	require.Len(t, got.Ops, 2)
	require.Equal(t, OpCreate, got.Ops[0].OpCode)
	require.Equal(t, OpSetData, got.Ops[1].OpCode)
}

func TestMultiResponseReportsRuntimeInconsistency(t *testing.T) {
	resp := &MultiResponse{Results: []MultiSubResult{
		{OpCode: OpCreate, Err: ErrRuntimeInconsistency},
		{OpCode: OpSetData, Err: ErrNoNode},
		{OpCode: OpCreate, Err: ErrRuntimeInconsistency},
	}}
	got, err := DecodeMultiResponse(resp.Encode())
	require.NoError(t, err)
	require.Equal(t, resp.Results, got.Results)
}

func TestLogEntryRoundTrip(t *testing.T) {
	entry := &LogEntry{
		SessionID:     100,
		Xid:           5,
		ArrivalTimeMs: 1700000000000,
		OpCode:        OpCreate,
		Body:          (&CreateRequest{Path: "/a", Flags: FlagEphemeralSequential}).Encode(),
	}
	got, err := DecodeLogEntry(entry.Encode())
	require.NoError(t, err)
	require.Equal(t, entry.SessionID, got.SessionID)
	require.Equal(t, entry.Xid, got.Xid)
	require.Equal(t, entry.ArrivalTimeMs, got.ArrivalTimeMs)
	require.Equal(t, entry.OpCode, got.OpCode)
	require.Equal(t, entry.Body, got.Body)
}

func TestNodeRecordRoundTrip(t *testing.T) {
	rec := &NodeRecord{
		Path: "/a/b", Data: []byte("v"), ACLID: 3,
		Czxid: 1, Mzxid: 2, Ctime: 10, Mtime: 20,
		Version: 1, Cversion: 2, Aversion: 0,
		EphemeralOwner: 0, Pzxid: 2,
	}
	got, n, err := DecodeNodeRecord(rec.Encode())
	require.NoError(t, err)
	require.Equal(t, len(rec.Encode()), n)
	require.Equal(t, rec, got)
}

func TestACLRecordRoundTrip(t *testing.T) {
	rec := &ACLRecord{ACLID: 9, Entries: []ACLEntry{
		{Id: Id{Scheme: "digest", ID: "u:h"}, Perms: PermRead | PermWrite},
	}}
	got, _, err := DecodeACLRecord(rec.Encode())
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestErrorCodeFromError(t *testing.T) {
	require.Equal(t, ErrNoNode, CodeOf(NewError(ErrNoNode)))
	require.Nil(t, NewError(ErrOK))
	require.Equal(t, ErrOK, CodeOf(nil))
}
