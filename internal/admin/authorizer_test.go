package admin

import (
	"testing"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeAllowsPolicyMatch(t *testing.T) {
	a := New("testdata/model.conf", "testdata/policy.csv")
	require.NoError(t, a.Authorize("root", "stat", "read"))
	require.NoError(t, a.Authorize("root", "snapshots", "read"))
	require.NoError(t, a.Authorize("anonymous", "stat", "read"))
}

func TestAuthorizeDeniesUnlistedSubject(t *testing.T) {
	a := New("testdata/model.conf", "testdata/policy.csv")
	err := a.Authorize("anonymous", "snapshots", "read")
	require.Error(t, err)
	require.Equal(t, v1.ErrNoAuth, v1.CodeOf(err))
}
