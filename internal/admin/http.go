package admin

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrshabel/raftkeeper/internal/keeper"
	"github.com/mrshabel/raftkeeper/internal/raftfsm"
	"github.com/mrshabel/raftkeeper/internal/snapshot"
)

// Server is C9's four-letter/admin HTTP surface: snapshot stats and
// connection stats (§2's "peripheral" C9), gated by an Authorizer the
// same way the teacher gates its gRPC calls, plus the /metrics endpoint
// prometheus/client_golang wires for scraping.
type Server struct {
	store      *keeper.Store
	snapshots  *snapshot.Store
	adapter    *raftfsm.Adapter
	authorizer *Authorizer
	metrics    *Metrics
}

func NewServer(store *keeper.Store, snapshots *snapshot.Store, adapter *raftfsm.Adapter, authorizer *Authorizer, metrics *Metrics) *Server {
	return &Server{store: store, snapshots: snapshots, adapter: adapter, authorizer: authorizer, metrics: metrics}
}

// Router builds the mux.Router the teacher's NewHTTPServer assembles
// inline, generalized to this surface's routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/stat", s.handleStat).Methods("GET")
	router.HandleFunc("/snapshots", s.handleSnapshots).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

type statResponse struct {
	NodeCount      int    `json:"node_count"`
	SessionCount   int    `json:"session_count"`
	WatchCount     int    `json:"watch_count"`
	IsLeader       bool   `json:"is_leader"`
	Leader         string `json:"leader"`
	LastCommitZxid int64  `json:"last_commit_zxid"`
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, "stat", "read"); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	stats := s.store.Stats()
	resp := statResponse{
		NodeCount:    stats.NodeCount,
		SessionCount: stats.SessionCount,
		WatchCount:   stats.WatchCount,
	}
	if s.adapter != nil {
		resp.IsLeader = s.adapter.IsLeader()
		resp.Leader = s.adapter.Leader()
		resp.LastCommitZxid = int64(s.adapter.LastCommitIndex())
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(stats.SessionCount))
	}
	writeJSON(w, resp)
}

type snapshotInfo struct {
	Dir       string `json:"dir"`
	LastIndex uint64 `json:"last_index"`
	LastTerm  uint64 `json:"last_term"`
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, "snapshots", "read"); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	metas, err := s.snapshots.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]snapshotInfo, len(metas))
	for i, m := range metas {
		out[i] = snapshotInfo{Dir: m.Dir, LastIndex: m.LastIndex, LastTerm: m.LastTerm}
	}
	if s.metrics != nil && len(metas) > 0 {
		newest := metas[len(metas)-1]
		if fi, err := os.Stat(filepath.Join(s.snapshots.BaseDir, newest.Dir)); err == nil {
			s.metrics.SnapshotAgeSecs.Set(time.Since(fi.ModTime()).Seconds())
		}
	}
	writeJSON(w, out)
}

// authorize reads the subject off the request's basic-auth username (the
// only credential carrier an admin HTTP surface has, unlike the client
// wire protocol's own auth opcode).
func (s *Server) authorize(r *http.Request, object, action string) error {
	if s.authorizer == nil {
		return nil
	}
	user, _, _ := r.BasicAuth()
	if user == "" {
		user = "anonymous"
	}
	return s.authorizer.Authorize(user, object, action)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
