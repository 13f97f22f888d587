// Package metrics provides prometheus metrics for the audio handle pool
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reclaim paths reported by RecordReclaim.
const (
	ReclaimCallback = "callback"
	ReclaimPoll     = "poll"
	ReclaimDispose  = "dispose"
	ReclaimStop     = "stop"
)

// AudioMetrics contains Prometheus metrics for the handle pool and manager.
type AudioMetrics struct {
	registry *prometheus.Registry

	// Pool metrics
	slotCapacity *prometheus.GaugeVec
	slotsActive  *prometheus.GaugeVec
	poolGrowths  *prometheus.CounterVec
	reclaims     *prometheus.CounterVec

	// Playback metrics
	instancesStarted *prometheus.CounterVec
	instanceStops    *prometheus.CounterVec
	staleAccess      *prometheus.CounterVec

	// Parameter metrics
	parameterFailures *prometheus.CounterVec

	// Maintenance metrics
	updateDuration *prometheus.HistogramVec
	jobPanics      *prometheus.CounterVec

	// Bank metrics
	banksLoaded *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewAudioMetrics creates and registers new audio metrics
func NewAudioMetrics(registry *prometheus.Registry) (*AudioMetrics, error) {
	m := &AudioMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AudioMetrics) initMetrics() {
	m.slotCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pointaudio_slot_capacity",
			Help: "Allocated handle slots; grows to the peak concurrent instance count",
		},
		[]string{"manager_id"},
	)

	m.slotsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pointaudio_slots_active",
			Help: "Handle slots currently bound to a live instance",
		},
		[]string{"manager_id"},
	)

	m.poolGrowths = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_pool_growths_total",
			Help: "Number of times the slot pool doubled",
		},
		[]string{"manager_id"},
	)

	m.reclaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_slot_reclaims_total",
			Help: "Slots returned to the pool, by reclamation path",
		},
		[]string{"manager_id", "path"},
	)

	m.instancesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_instances_started_total",
			Help: "Event instances started",
		},
		[]string{"manager_id", "event"},
	)

	m.instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_instance_stops_total",
			Help: "Stop requests sent to live instances, by stop mode",
		},
		[]string{"manager_id", "mode"},
	)

	m.staleAccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_stale_access_total",
			Help: "Operations attempted through a handle whose slot was reclaimed",
		},
		[]string{"manager_id", "operation"},
	)

	m.parameterFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_parameter_failures_total",
			Help: "Parameter writes rejected by the middleware",
		},
		[]string{"manager_id", "scope"},
	)

	m.updateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pointaudio_update_duration_seconds",
			Help:    "Time from scheduling the maintenance jobs to their completion",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
		},
		[]string{"manager_id"},
	)

	m.jobPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pointaudio_job_panics_total",
			Help: "Recovered panics in maintenance job batches",
		},
		[]string{"job"},
	)

	m.banksLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pointaudio_banks_loaded",
			Help: "Currently loaded banks",
		},
		[]string{"manager_id"},
	)

	m.collectors = []prometheus.Collector{
		m.slotCapacity,
		m.slotsActive,
		m.poolGrowths,
		m.reclaims,
		m.instancesStarted,
		m.instanceStops,
		m.staleAccess,
		m.parameterFailures,
		m.updateDuration,
		m.jobPanics,
		m.banksLoaded,
	}
}

// Describe implements the Collector interface
func (m *AudioMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *AudioMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Registry returns the registry the metrics were registered on
func (m *AudioMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpdateSlots records the current capacity and bound slot count
func (m *AudioMetrics) UpdateSlots(managerID string, capacity, active int) {
	m.slotCapacity.WithLabelValues(managerID).Set(float64(capacity))
	m.slotsActive.WithLabelValues(managerID).Set(float64(active))
}

// RecordGrowth records a pool doubling
func (m *AudioMetrics) RecordGrowth(managerID string, newCapacity int) {
	m.poolGrowths.WithLabelValues(managerID).Inc()
	m.slotCapacity.WithLabelValues(managerID).Set(float64(newCapacity))
}

// RecordReclaim records a slot returned to the pool through path
func (m *AudioMetrics) RecordReclaim(managerID, path string) {
	m.reclaims.WithLabelValues(managerID, path).Inc()
}

// RecordInstanceStarted records an instance start for the given event path
func (m *AudioMetrics) RecordInstanceStarted(managerID, event string) {
	m.instancesStarted.WithLabelValues(managerID, event).Inc()
}

// RecordInstanceStop records a stop request with mode "fadeout" or "immediate"
func (m *AudioMetrics) RecordInstanceStop(managerID, mode string) {
	m.instanceStops.WithLabelValues(managerID, mode).Inc()
}

// RecordStaleAccess records an operation attempted through a stale handle
func (m *AudioMetrics) RecordStaleAccess(managerID, operation string) {
	m.staleAccess.WithLabelValues(managerID, operation).Inc()
}

// RecordParameterFailure records a rejected parameter write, scope "local" or "global"
func (m *AudioMetrics) RecordParameterFailure(managerID, scope string) {
	m.parameterFailures.WithLabelValues(managerID, scope).Inc()
}

// RecordUpdateDuration records how long one maintenance pass took
func (m *AudioMetrics) RecordUpdateDuration(managerID string, seconds float64) {
	m.updateDuration.WithLabelValues(managerID).Observe(seconds)
}

// RecordJobPanic records a recovered panic inside a job batch
func (m *AudioMetrics) RecordJobPanic(job string) {
	m.jobPanics.WithLabelValues(job).Inc()
}

// UpdateBanksLoaded records the number of loaded banks
func (m *AudioMetrics) UpdateBanksLoaded(managerID string, count int) {
	m.banksLoaded.WithLabelValues(managerID).Set(float64(count))
}
