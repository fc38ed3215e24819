package admin

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mrshabel/raftkeeper/internal/keeper"
	"github.com/mrshabel/raftkeeper/internal/snapshot"
)

func TestHandleStatReturnsStoreCounts(t *testing.T) {
	store, err := keeper.New("")
	require.NoError(t, err)
	snapshots, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	metrics := NewMetrics(prometheus.NewRegistry())
	srv := NewServer(store, snapshots, nil, nil, metrics)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stat", nil)
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var resp statResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.NodeCount) // root znode only
}

func TestHandleStatDeniesUnauthorizedSubject(t *testing.T) {
	store, err := keeper.New("")
	require.NoError(t, err)
	snapshots, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	authorizer := New("testdata/model.conf", "testdata/policy.csv")
	srv := NewServer(store, snapshots, nil, authorizer, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stat", nil)
	req.SetBasicAuth("intruder", "")
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, 403, rec.Code)
}

func TestHandleSnapshotsEmpty(t *testing.T) {
	store, err := keeper.New("")
	require.NoError(t, err)
	snapshots, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)

	srv := NewServer(store, snapshots, nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/snapshots", nil)
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}
