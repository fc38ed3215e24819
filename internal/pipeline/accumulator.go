package pipeline

import (
	"time"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

// writeTask is one write request queued for the accumulator.
type writeTask struct {
	sessionID     int64
	xid           int64
	op            v1.OpCode
	body          []byte
	arrivalTimeMs int64
}

// accumulator is the leader-only §4.6 stage-3 write pipeline: it batches
// contiguous write requests up to maxBatch or lingerMs and fires them at
// Raft as a group. hashicorp/raft's own Apply already queues and
// coalesces concurrently-pending commands into its internal AppendEntries
// batches, so "submit as a group" here means issuing every task in the
// batch window's ApplyAsync calls back-to-back without waiting on any of
// them individually; results are correlated later through Pipeline.Deliver.
type accumulator struct {
	in       chan writeTask
	maxBatch int
	linger   time.Duration
	submit   func(writeTask)
}

func newAccumulator(maxBatch int, linger time.Duration, submit func(writeTask)) *accumulator {
	return &accumulator{
		in:       make(chan writeTask, maxBatch*4),
		maxBatch: maxBatch,
		linger:   linger,
		submit:   submit,
	}
}

func (a *accumulator) enqueue(t writeTask) { a.in <- t }

// run drains a.in, grouping tasks that arrive within one linger window
// (or until maxBatch is reached) before firing each through submit.
// Grouping only affects timing of submission, not ordering: tasks are
// always submitted in enqueue order, preserving per-session ordering.
func (a *accumulator) run(stop <-chan struct{}) {
	var batch []writeTask
	timer := time.NewTimer(a.linger)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		for _, t := range batch {
			a.submit(t)
		}
		batch = batch[:0]
		if timerRunning {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerRunning = false
		}
	}

	for {
		select {
		case t := <-a.in:
			batch = append(batch, t)
			if len(batch) >= a.maxBatch {
				flush()
				continue
			}
			if !timerRunning {
				timer.Reset(a.linger)
				timerRunning = true
			}
		case <-timer.C:
			timerRunning = false
			flush()
		case <-stop:
			flush()
			return
		}
	}
}
