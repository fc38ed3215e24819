package discovery

import (
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/serf/serf"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
)

type handler struct {
	joins  chan uint8
	leaves chan uint8
}

func (h *handler) Join(serverID uint8, raftAddr string, voting bool) error {
	if h.joins != nil {
		h.joins <- serverID
	}
	return nil
}

func (h *handler) Leave(serverID uint8) error {
	if h.leaves != nil {
		h.leaves <- serverID
	}
	return nil
}

func TestMembership(t *testing.T) {
	m, hnd := setupMember(t, nil)
	m, _ = setupMember(t, m)
	m, _ = setupMember(t, m)

	require.Eventually(t, func() bool {
		return len(hnd.joins) == 2 &&
			len(m[0].Members()) == 3 &&
			len(hnd.leaves) == 0
	}, 3*time.Second, 250*time.Millisecond)

	require.NoError(t, m[2].Leave())

	require.Eventually(t, func() bool {
		return len(hnd.joins) == 2 &&
			len(m[0].Members()) == 3 &&
			m[0].Members()[2].Status == serf.StatusLeft &&
			len(hnd.leaves) == 1
	}, 3*time.Second, 250*time.Millisecond)

	require.Equal(t, uint8(2), <-hnd.leaves)
}

func setupMember(t *testing.T, members []*Membership) ([]*Membership, *handler) {
	id := len(members)

	ports := dynaport.Get(1)
	addr := fmt.Sprintf("127.0.0.1:%d", ports[0])
	tags := map[string]string{
		"server_id": fmt.Sprintf("%d", id),
		"raft_addr": addr,
		"voting":    "true",
	}
	c := Config{
		NodeName: fmt.Sprintf("%d", id),
		BindAddr: addr,
		Tags:     tags,
	}

	h := &handler{}
	if len(members) == 0 {
		h.joins = make(chan uint8, 3)
		h.leaves = make(chan uint8, 3)
	} else {
		c.StartJoinAddrs = []string{members[0].BindAddr}
	}

	m, err := New(h, c)
	require.NoError(t, err)
	members = append(members, m)
	return members, h
}
