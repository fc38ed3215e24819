package sessionmgr

import (
	"math"
	"sync"
	"time"
)

// session ids are laid out the way hongbing-etcd's pkg/idutil.Generator
// lays out request ids: a one-byte server prefix followed by a
// millisecond timestamp and a counter, so ids allocated by different
// servers never collide and a restarted server never reissues one of its
// own old ids (the counter only resets forward in wall-clock time).
const (
	tsLen     = 5 * 8
	cntLen    = 2 * 8
	suffixLen = tsLen + cntLen
)

// idGenerator issues globally unique, monotonically increasing 64-bit
// session ids (§3.2).
type idGenerator struct {
	mu     sync.Mutex
	prefix uint64
	suffix uint64
}

func newIDGenerator(serverID uint8, now time.Time) *idGenerator {
	prefix := uint64(serverID) << suffixLen
	unixMilli := uint64(now.UnixNano()) / uint64(time.Millisecond/time.Nanosecond)
	suffix := lowbits(unixMilli, tsLen) << cntLen
	return &idGenerator{prefix: prefix, suffix: suffix}
}

func (g *idGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suffix++
	return int64(g.prefix | lowbits(g.suffix, suffixLen))
}

func lowbits(x uint64, n uint) uint64 {
	return x & (math.MaxUint64 >> (64 - n))
}
