package audiocore

import (
	"time"

	"github.com/pointaudio/pointaudio/internal/observability/metrics"
)

// metricsCollector forwards pool events to AudioMetrics. A nil metrics
// field disables collection.
type metricsCollector struct {
	metrics   *metrics.AudioMetrics
	managerID string
}

func (mc metricsCollector) enabled() bool {
	return mc.metrics != nil
}

func (mc metricsCollector) slots(capacity, active int) {
	if !mc.enabled() {
		return
	}
	mc.metrics.UpdateSlots(mc.managerID, capacity, active)
}

func (mc metricsCollector) growth(capacity int) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordGrowth(mc.managerID, capacity)
}

func (mc metricsCollector) reclaim(path string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordReclaim(mc.managerID, path)
}

func (mc metricsCollector) instanceStarted(event string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordInstanceStarted(mc.managerID, event)
}

func (mc metricsCollector) instanceStopped(mode string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordInstanceStop(mc.managerID, mode)
}

func (mc metricsCollector) staleAccess(op string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordStaleAccess(mc.managerID, op)
}

func (mc metricsCollector) parameterFailure(scope string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordParameterFailure(mc.managerID, scope)
}

func (mc metricsCollector) updateDuration(d time.Duration) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordUpdateDuration(mc.managerID, d.Seconds())
}

func (mc metricsCollector) jobPanic(job string) {
	if !mc.enabled() {
		return
	}
	mc.metrics.RecordJobPanic(job)
}

func (mc metricsCollector) banksLoaded(n int) {
	if !mc.enabled() {
		return
	}
	mc.metrics.UpdateBanksLoaded(mc.managerID, n)
}
