package raftfsm

import (
	"github.com/hashicorp/raft"
	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/mrshabel/raftkeeper/internal/log"
)

// logStore adapts C2's segmented log store to raft.LogStore, the same
// shape as the teacher's internal/log.logStore (distributed.go) but over
// our own Entry/EntryType instead of a protobuf api.Record.
type logStore struct {
	*log.Log
}

var _ raft.LogStore = (*logStore)(nil)

func newLogStore(dir string, cfg log.Config) (*logStore, error) {
	l, err := log.NewLog(dir, cfg)
	if err != nil {
		return nil, err
	}
	return &logStore{l}, nil
}

func (l *logStore) FirstIndex() (uint64, error) { return l.LowestOffset() }
func (l *logStore) LastIndex() (uint64, error)  { return l.HighestOffset() }

func (l *logStore) GetLog(index uint64, out *raft.Log) error {
	in, err := l.Read(index)
	if err != nil {
		return err
	}
	out.Index = in.Index
	out.Term = in.Term
	out.Type = raft.LogType(in.Type)
	out.Data = in.Payload
	return nil
}

func (l *logStore) StoreLog(record *raft.Log) error {
	return l.StoreLogs([]*raft.Log{record})
}

func (l *logStore) StoreLogs(records []*raft.Log) error {
	for _, record := range records {
		if _, err := l.Append(record.Term, v1.EntryType(record.Type), record.Data); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRange covers both directions the spec names separately
// (truncate-suffix on term conflict, truncate-prefix after a snapshot):
// raft.LogStore only exposes one DeleteRange call, so it is routed to
// whichever one actually applies to [min, max].
func (l *logStore) DeleteRange(min, max uint64) error {
	last, err := l.HighestOffset()
	if err != nil {
		return err
	}
	if max >= last {
		return l.TruncateSuffix(min)
	}
	return l.TruncatePrefix(max + 1)
}
