package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOperationCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Operation("enable", nil)
	m.Operation("enable", nil)
	m.Operation("enable", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("enable", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("enable", ResultError)))
}

func TestGaugeAndRefresh(t *testing.T) {
	m := New(nil)

	m.SetActive(3)
	m.Refresh(errors.New("offline"))
	m.ObserveActivation(10 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues(ResultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Activation))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Operation("install", nil)
	m.SetActive(1)
	m.Refresh(nil)
	m.ObserveActivation(time.Second)
}
