package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAudioMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioMetrics(registry)
	require.NoError(t, err)
	assert.Same(t, registry, m.Registry())

	_, err = NewAudioMetrics(registry)
	assert.Error(t, err, "registering twice on the same registry must fail")
}

func TestRecordReclaimByPath(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioMetrics(registry)
	require.NoError(t, err)

	m.RecordReclaim("main", ReclaimCallback)
	m.RecordReclaim("main", ReclaimCallback)
	m.RecordReclaim("main", ReclaimPoll)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.reclaims.WithLabelValues("main", ReclaimCallback)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reclaims.WithLabelValues("main", ReclaimPoll)))
}

func TestGrowthUpdatesCapacity(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioMetrics(registry)
	require.NoError(t, err)

	m.UpdateSlots("main", 4, 4)
	m.RecordGrowth("main", 8)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.poolGrowths.WithLabelValues("main")))
	assert.Equal(t, float64(8), testutil.ToFloat64(m.slotCapacity.WithLabelValues("main")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.slotsActive.WithLabelValues("main")))
}

func TestUpdateDurationHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioMetrics(registry)
	require.NoError(t, err)

	m.RecordUpdateDuration("main", 0.0001)
	m.RecordUpdateDuration("main", 0.002)

	families, err := registry.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, f := range families {
		if f.GetName() == "pointaudio_update_duration_seconds" {
			require.Len(t, f.GetMetric(), 1)
			hist = f.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.0021, hist.GetSampleSum(), 1e-9)
}

func TestCountersByLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioMetrics(registry)
	require.NoError(t, err)

	m.RecordInstanceStarted("main", "event:/SFX/Shot")
	m.RecordInstanceStop("main", "immediate")
	m.RecordStaleAccess("main", "stop")
	m.RecordParameterFailure("main", "global")
	m.RecordJobPanic("pose")
	m.UpdateBanksLoaded("main", 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.instancesStarted.WithLabelValues("main", "event:/SFX/Shot")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.instanceStops.WithLabelValues("main", "immediate")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.staleAccess.WithLabelValues("main", "stop")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.parameterFailures.WithLabelValues("main", "global")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobPanics.WithLabelValues("pose")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.banksLoaded.WithLabelValues("main")))
}
