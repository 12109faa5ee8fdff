package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsDisabledReturnsNil(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNilMetricsMethodsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTaskStarted("us_equity")
		m.RecordTaskFinished("us_equity", "completed", time.Second)
		m.RecordStep("market_analyst", "ok", 10*time.Millisecond)
		m.SetTaskProgress("task-1", 42.5)
		m.DeleteTaskProgress("task-1")
		m.RecordCacheHit("market_analyst")
		m.RecordCacheMiss("market_analyst")
		m.RecordPause("pause")
		m.RecordStop("user_requested")
		m.RecordCheckpointSave("interval")
		m.RecordStoreOp("file", "update_state", nil)
		m.RecordPublish("memory", "analysis.progress")
		m.RecordDeliver("memory", "analysis.progress")
		m.SetTasksQueued(3)
	})
	assert.Nil(t, m.Registry())
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "hector_test"})
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordTaskStarted("us_equity")
	m.RecordTaskFinished("us_equity", "completed", 5*time.Second)
	m.RecordStep("market_analyst", "ok", 10*time.Millisecond)
	m.SetTaskProgress("task-1", 50)
	m.RecordCacheHit("market_analyst")
	m.RecordStoreOp("file", "update_state", nil)
	m.RecordPublish("memory", "analysis.progress")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
