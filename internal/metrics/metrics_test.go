package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRunMetrics(reg)

	m.TaskStarted()
	m.TaskStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.inFlight))

	m.TaskFinished("PowerGeneratingAsset", "COMPLETED", 3*time.Second)
	m.TaskFinished("PowerGeneratingAsset", "FAILED", time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("PowerGeneratingAsset", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("PowerGeneratingAsset", "FAILED")))

	expected := `
# HELP impact_datagen_tasks_total Finished tasks by asset class and final status.
# TYPE impact_datagen_tasks_total counter
impact_datagen_tasks_total{asset_class="PowerGeneratingAsset",status="COMPLETED"} 1
impact_datagen_tasks_total{asset_class="PowerGeneratingAsset",status="FAILED"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "impact_datagen_tasks_total"))
}

func TestNilRunMetrics(t *testing.T) {
	var m *RunMetrics
	assert.NotPanics(t, func() {
		m.TaskStarted()
		m.TaskFinished("RealEstateAsset", "COMPLETED", time.Second)
	})
}
