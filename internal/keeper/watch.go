package keeper

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// watchReg is one subscription (§3.3). Registrations live in two indices
// so a trigger (by path) and a session teardown (by session id) are both
// O(registrations affected) rather than a full scan.
type watchReg struct {
	sessionID int64
	path      string
	kind      v1.WatchKind
}

type watchIndex struct {
	byPath    map[string]map[watchReg]struct{}
	bySession map[int64]map[watchReg]struct{}
}

func newWatchIndex() *watchIndex {
	return &watchIndex{
		byPath:    make(map[string]map[watchReg]struct{}),
		bySession: make(map[int64]map[watchReg]struct{}),
	}
}

// count reports the total number of live registrations, for C9's stats
// surface.
func (w *watchIndex) count() int {
	n := 0
	for _, regs := range w.byPath {
		n += len(regs)
	}
	return n
}

func (w *watchIndex) register(sessionID int64, path string, kind v1.WatchKind) {
	reg := watchReg{sessionID: sessionID, path: path, kind: kind}
	if w.byPath[path] == nil {
		w.byPath[path] = make(map[watchReg]struct{})
	}
	w.byPath[path][reg] = struct{}{}
	if w.bySession[sessionID] == nil {
		w.bySession[sessionID] = make(map[watchReg]struct{})
	}
	w.bySession[sessionID][reg] = struct{}{}
}

// fire removes and returns every registration on path matching one of
// kinds (at-most-once delivery per registration, §3.3).
func (w *watchIndex) fire(path string, kinds ...v1.WatchKind) []watchReg {
	regs := w.byPath[path]
	if len(regs) == 0 {
		return nil
	}
	want := make(map[v1.WatchKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var fired []watchReg
	for reg := range regs {
		if !want[reg.kind] {
			continue
		}
		fired = append(fired, reg)
		delete(regs, reg)
		if s := w.bySession[reg.sessionID]; s != nil {
			delete(s, reg)
		}
	}
	if len(regs) == 0 {
		delete(w.byPath, path)
	}
	return fired
}

// dropSession removes every watch owned by sessionID without firing it
// (§4.4: "a session's watches are dropped, not fired, when the session
// ends").
func (w *watchIndex) dropSession(sessionID int64) {
	regs := w.bySession[sessionID]
	for reg := range regs {
		if byPath := w.byPath[reg.path]; byPath != nil {
			delete(byPath, reg)
			if len(byPath) == 0 {
				delete(w.byPath, reg.path)
			}
		}
	}
	delete(w.bySession, sessionID)
}
