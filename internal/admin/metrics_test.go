package admin

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

func TestObserveRequestIncrementsCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveRequest(v1.OpCreate, v1.ErrOK)
	m.ObserveRequest(v1.OpCreate, v1.ErrNoNode)

	var metric dto.Metric
	require.NoError(t, m.RequestsTotal.WithLabelValues("1", "ok").Write(&metric))
	require.Equal(t, float64(1), metric.GetCounter().GetValue())
}

func TestObserveWatchFireIncrementsCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveWatchFire()
	m.ObserveWatchFire()

	var metric dto.Metric
	require.NoError(t, m.WatchFiresTotal.Write(&metric))
	require.Equal(t, float64(2), metric.GetCounter().GetValue())
}
