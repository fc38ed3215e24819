package forwarder

import (
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func TestFollowerFrameRoundTrip(t *testing.T) {
	reqBody := encodeRequestBody(requestBody{
		SessionID:     42,
		Xid:           7,
		Op:            v1.OpCreate,
		ArrivalTimeMs: 1234,
		Payload:       []byte("payload"),
	})
	encoded := encodeFollowerFrame(followerFrame{Type: frameRequest, CorrelationID: 99, Body: reqBody})

	// strip the frame()-prepended length prefix the way v1.ReadFrame would.
	decoded, err := decodeFollowerFrame(encoded[4:])
	require.NoError(t, err)
	require.Equal(t, frameRequest, decoded.Type)
	require.Equal(t, int64(99), decoded.CorrelationID)

	rb, err := decodeRequestBody(decoded.Body)
	require.NoError(t, err)
	require.Equal(t, int64(42), rb.SessionID)
	require.Equal(t, int64(7), rb.Xid)
	require.Equal(t, v1.OpCreate, rb.Op)
	require.Equal(t, int64(1234), rb.ArrivalTimeMs)
	require.Equal(t, []byte("payload"), rb.Payload)
}

func TestLeaderFrameRoundTrip(t *testing.T) {
	encoded := encodeLeaderFrame(leaderFrame{Type: frameRequest, CorrelationID: 5, Err: v1.ErrOK, Zxid: 77})
	decoded, err := decodeLeaderFrame(encoded[4:])
	require.NoError(t, err)
	require.Equal(t, int64(5), decoded.CorrelationID)
	require.Equal(t, v1.ErrOK, decoded.Err)
	require.Equal(t, int64(77), decoded.Zxid)
}

func TestHeartbeatBodyRoundTrip(t *testing.T) {
	b := encodeHeartbeatBody(123456)
	id, err := decodeHeartbeatBody(b)
	require.NoError(t, err)
	require.Equal(t, int64(123456), id)
}

func TestSessionSyncBodyRoundTrip(t *testing.T) {
	entries := []sessionRemaining{{SessionID: 1, RemainingMs: 500}, {SessionID: 2, RemainingMs: 900}}
	b := encodeSessionSyncBody(entries)
	out, err := decodeSessionSyncBody(b)
	require.NoError(t, err)
	require.Equal(t, entries, out)
}

func TestDecodeRequestBodyRejectsShortInput(t *testing.T) {
	_, err := decodeRequestBody(make([]byte, 31))
	require.Error(t, err)
}

func TestLaneForIsStableAndInRange(t *testing.T) {
	n := 8
	for _, id := range []int64{0, 1, 2, 1000, -5} {
		lane := laneFor(id, n)
		require.GreaterOrEqual(t, lane, 0)
		require.Less(t, lane, n)
		require.Equal(t, lane, laneFor(id, n))
	}
}
