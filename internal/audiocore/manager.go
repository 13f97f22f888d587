package audiocore

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/jobs"
	"github.com/pointaudio/pointaudio/internal/logging"
	"github.com/pointaudio/pointaudio/internal/observability/metrics"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// ManagerConfig configures a Manager. Zero fields take defaults.
type ManagerConfig struct {
	// ID labels this manager's metrics
	ID string
	// InitialCapacity is the starting slot count
	InitialCapacity int
	// BatchSize is the number of slots per job batch
	BatchSize int
	// Workers limits concurrent job batches; 0 uses the core count
	Workers int
	// TickRate is the fixed-update frequency in Hz used by Start
	TickRate int
	// Strict makes stale-handle access return ErrInvalidAudio
	Strict bool

	Metrics *metrics.AudioMetrics
	Logger  *slog.Logger
}

// GlobalParameterEnum is a host enum mapped onto a global parameter.
type GlobalParameterEnum interface {
	StudioParameter() string
	Value() float32
}

// Manager owns a middleware system, the handle pool and the fixed-tick
// driver. All mutating calls are serialised; several managers may coexist.
type Manager struct {
	config    ManagerConfig
	system    studio.System
	container *HandleContainer
	scheduler *jobs.Scheduler
	metrics   metricsCollector
	logger    *slog.Logger

	events   *cache.Cache
	globals  *cache.Cache
	staleLog rate.Sometimes

	// mu serialises main-thread operations
	mu      sync.Mutex
	banks   []string
	runtime *RuntimeVariables

	paused  atomic.Bool
	focused atomic.Bool
	closed  atomic.Bool

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager over sys.
func NewManager(sys studio.System, cfg ManagerConfig) (*Manager, error) {
	if sys == nil {
		return nil, errors.Newf("audio manager requires a studio system").
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.ID == "" {
		cfg.ID = DefaultManagerID
	}
	if cfg.InitialCapacity == 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.ForService("audiocore")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("manager_id", cfg.ID)

	m := &Manager{
		config:   cfg,
		system:   sys,
		metrics:  metricsCollector{metrics: cfg.Metrics, managerID: cfg.ID},
		logger:   logger.With("component", "manager"),
		events:   cache.New(descriptionCacheTTL, 0),
		globals:  cache.New(descriptionCacheTTL, 0),
		staleLog: rate.Sometimes{Interval: staleLogInterval},
	}
	m.focused.Store(true)

	m.scheduler = jobs.NewScheduler(cfg.Workers,
		jobs.WithLogger(logger.With("component", "jobs")),
		jobs.WithPanicHandler(func(job string, _ error) { m.metrics.jobPanic(job) }))

	container, err := NewHandleContainer(cfg.InitialCapacity, m.scheduler,
		WithBatchSize(cfg.BatchSize),
		WithContainerLogger(logger.With("component", "handle_container")),
		WithReclaimHook(m.metrics.reclaim),
		WithGrowthHook(m.metrics.growth),
		WithParameterFailureHook(func() { m.metrics.parameterFailure("local") }))
	if err != nil {
		return nil, err
	}
	m.container = container
	m.metrics.slots(container.Capacity(), 0)

	return m, nil
}

// ID returns the manager's metrics label.
func (m *Manager) ID() string {
	return m.config.ID
}

// System returns the underlying middleware.
func (m *Manager) System() studio.System {
	return m.system
}

// Capacity returns the number of pooled slots.
func (m *Manager) Capacity() int {
	return m.container.Capacity()
}

// ActiveCount returns the number of bound slots.
func (m *Manager) ActiveCount() int {
	return m.container.ActiveCount()
}

// Start launches the fixed-tick goroutine. It stops when ctx is cancelled
// or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return stateError(ErrManagerClosed, "start")
	}
	if m.started {
		m.logger.Warn("audio manager already started")
		return errors.Newf("manager already started").
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Build()
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	interval := time.Second / time.Duration(m.config.TickRate)
	m.wg.Add(1)
	go m.tickLoop(ctx, interval)

	m.logger.Info("audio manager started",
		"tick_rate", m.config.TickRate,
		"capacity", m.container.Capacity(),
		"batch_size", m.config.BatchSize,
		"workers", m.scheduler.Workers())
	return nil
}

// Close stops ticking, completes outstanding jobs, releases every pooled
// instance and unloads the banks this manager loaded. The system itself is
// left open.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.container.ActiveCount()
	m.container.Dispose()
	m.scheduler.Wait()

	var errs []error
	for _, name := range slices.Backward(m.banks) {
		if err := m.system.UnloadBank(name); err != nil && !errors.Is(err, studio.ErrBankNotLoaded) {
			m.logger.Error("failed to unload bank", "bank", name, "error", err)
			errs = append(errs, err)
		}
	}
	m.banks = nil
	m.events.Flush()
	m.globals.Flush()
	m.metrics.slots(0, 0)
	m.metrics.banksLoaded(len(m.system.Banks()))

	m.logger.Info("audio manager closed", "released_instances", active)
	return errors.Join(errs...)
}

// IsClosed reports whether Close has been called.
func (m *Manager) IsClosed() bool {
	return m.closed.Load()
}

// Pause suspends maintenance ticks while paused is true.
func (m *Manager) Pause(paused bool) {
	if m.paused.Swap(paused) != paused {
		m.logger.Debug("maintenance pause changed", "paused", paused)
	}
}

// IsPaused reports whether ticks are suspended.
func (m *Manager) IsPaused() bool {
	return m.paused.Load()
}

// SetFocus records whether the host application has focus.
func (m *Manager) SetFocus(focused bool) {
	if m.focused.Swap(focused) != focused {
		m.logger.Debug("application focus changed", "focused", focused)
	}
}

// IsFocused reports the last focus state passed to SetFocus.
func (m *Manager) IsFocused() bool {
	return m.focused.Load()
}

// Tick runs one fixed update: it completes the previous maintenance jobs
// and schedules the next ones. The returned handle completes when this
// tick's jobs have finished.
func (m *Manager) Tick() jobs.Handle {
	if m.closed.Load() || m.paused.Load() {
		return jobs.Handle{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return jobs.Handle{}
	}

	start := time.Now()
	h := m.container.ScheduleUpdate()
	m.metrics.updateDuration(time.Since(start))
	m.metrics.slots(m.container.Capacity(), m.container.ActiveCount())
	return h
}

// CompleteAllJobs waits for outstanding maintenance jobs.
func (m *Manager) CompleteAllJobs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.container.CompleteAllJobs()
}

// GetAudio resolves an event path into an unbound Audio.
func (m *Manager) GetAudio(path string) (Audio, error) {
	desc, err := m.resolveEvent(path)
	if err != nil {
		return Audio{}, err
	}
	return newAudio(m, desc), nil
}

// GetAudioByID resolves an event GUID into an unbound Audio.
func (m *Manager) GetAudioByID(id studio.GUID) (Audio, error) {
	desc, err := m.resolveEventByID(id)
	if err != nil {
		return Audio{}, err
	}
	return newAudio(m, desc), nil
}

// MustGetAudio is GetAudio for paths known at build time. It panics when
// the path does not resolve.
func (m *Manager) MustGetAudio(path string) Audio {
	a, err := m.GetAudio(path)
	if err != nil {
		panic(err)
	}
	return a
}

// ResetAudio points an unbound Audio at a different event and drops its
// queued parameters.
func (m *Manager) ResetAudio(a *Audio, id studio.GUID) error {
	if a.IsValid() {
		return errors.New(fmt.Errorf("%w: cannot change the event of a playing audio", ErrInvalidAudio)).
			Component(ComponentAudioCore).
			Category(errors.CategoryState).
			Context("audio", a.String()).
			Build()
	}

	desc, err := m.resolveEventByID(id)
	if err != nil {
		return err
	}

	a.manager = m
	a.desc = desc
	a.params = nil
	a.bound = false
	a.ref = SlotRef{}
	return nil
}

func (m *Manager) resolveEvent(path string) (studio.EventDescription, error) {
	if v, ok := m.events.Get(path); ok {
		if desc := v.(studio.EventDescription); desc.IsValid() {
			return desc, nil
		}
		m.events.Delete(path)
	}

	desc, err := m.system.GetEvent(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %s: %w", ErrInvalidEvent, path, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Context("event", path).
			Build()
	}
	m.events.SetDefault(path, desc)
	return desc, nil
}

func (m *Manager) resolveEventByID(id studio.GUID) (studio.EventDescription, error) {
	key := "guid:" + id.String()
	if v, ok := m.events.Get(key); ok {
		if desc := v.(studio.EventDescription); desc.IsValid() {
			return desc, nil
		}
		m.events.Delete(key)
	}

	desc, err := m.system.GetEventByID(id)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %s: %w", ErrInvalidEvent, id, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Context("event_id", id.String()).
			Build()
	}
	m.events.SetDefault(key, desc)
	return desc, nil
}

// CreateInstance binds a to a pooled instance without starting it.
func (m *Manager) CreateInstance(a *Audio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createInstanceLocked(a)
}

func (m *Manager) createInstanceLocked(a *Audio) error {
	if m.closed.Load() {
		return stateError(ErrManagerClosed, opCreateInstance)
	}
	if !a.IsValidID() {
		m.logger.Error("audio has an invalid event and cannot be instantiated", "audio", a.String())
		return errors.New(fmt.Errorf("%w: %s", ErrInvalidEvent, a)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("operation", opCreateInstance).
			Build()
	}

	a.manager = m
	ref, err := m.container.Insert(a)
	if err != nil {
		m.logger.Error("failed to create event instance",
			"event", a.desc.Path(),
			"error", err)
		return err
	}
	a.ref = ref
	a.bound = true
	return nil
}

// Play starts a. An unbound or stale Audio gets a new instance first. The
// cached pose and queued parameters are pushed before the instance starts.
func (m *Manager) Play(a *Audio) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return stateError(ErrManagerClosed, opPlay)
	}

	s, b := a.binding()
	if b == nil {
		if err := m.createInstanceLocked(a); err != nil {
			return err
		}
		if s, b = a.binding(); b == nil {
			return m.staleAccess(opPlay, a)
		}
	}

	s.set3DAttributes()
	s.setParameters(b, a)

	if err := s.startInstance(b); err != nil {
		s.clear(b, metrics.ReclaimStop)
		m.logger.Error("failed to start event instance",
			"event", b.event,
			"slot", a.ref.String(),
			"error", err)
		return errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", opPlay).
			Context("event", b.event).
			Build()
	}

	m.metrics.instanceStarted(b.event)
	m.logger.Debug("audio started",
		"event", b.event,
		"slot", a.ref.String(),
		"params", len(a.params))
	return nil
}

// Stop stops a's instance, with fade-out when a allows it. Stopping a
// stale Audio is logged and, in strict mode, returns ErrInvalidAudio.
func (m *Manager) Stop(a *Audio) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, b := a.binding()
	if b == nil {
		return m.staleAccess(opStop, a)
	}

	mode := studio.StopImmediate
	if a.allowFadeout {
		mode = studio.StopAllowFadeout
	}
	if err := s.stopInstance(b, a.allowFadeout); err != nil {
		m.logger.Warn("failed to stop event instance",
			"event", b.event,
			"mode", mode.String(),
			"error", err)
		return err
	}
	m.metrics.instanceStopped(mode.String())
	return nil
}

// staleAccess reports an operation through an Audio with no live instance.
func (m *Manager) staleAccess(op string, a *Audio) error {
	m.metrics.staleAccess(op)
	m.staleLog.Do(func() {
		m.logger.Error("operation on invalid audio",
			"operation", op,
			"audio", a.String())
	})
	if !m.config.Strict {
		return nil
	}
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidAudio, a)).
		Component(ComponentAudioCore).
		Category(errors.CategoryStaleAudio).
		Context("operation", op).
		Build()
}

// FindEventInstancesOf yields pooled instances of desc. Results may be up
// to one tick out of date.
func (m *Manager) FindEventInstancesOf(desc studio.EventDescription) iter.Seq[InstanceInfo] {
	return m.container.FindEventInstancesOf(desc)
}

// Instances yields every pooled instance.
func (m *Manager) Instances() iter.Seq[InstanceInfo] {
	return m.container.Instances()
}

// GlobalParamReference resolves a global parameter by name.
func (m *Manager) GlobalParamReference(name string, value float32) (ParamReference, error) {
	if v, ok := m.globals.Get(name); ok {
		return ParamReference{Description: v.(studio.ParameterDescription), Value: value, Global: true}, nil
	}

	pd, err := m.system.ParameterDescriptionByName(name)
	if err != nil {
		m.logger.Error("global parameter is not present", "param", name, "error", err)
		return ParamReference{}, errors.New(fmt.Errorf("%w %q: %w", ErrGlobalParameter, name, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryNotFound).
			Context("parameter", name).
			Build()
	}
	m.globals.SetDefault(name, pd)
	return ParamReference{Description: pd, Value: value, Global: true}, nil
}

// GetGlobalParameter returns a global parameter with its current value.
func (m *Manager) GetGlobalParameter(name string) (ParamReference, error) {
	ref, err := m.GlobalParamReference(name, 0)
	if err != nil {
		return ParamReference{}, err
	}
	v, err := m.system.ParameterByName(name)
	if err != nil {
		return ParamReference{}, errors.New(fmt.Errorf("%w %q: %w", ErrGlobalParameter, name, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryParameter).
			Context("parameter", name).
			Build()
	}
	ref.Value = v
	return ref, nil
}

// SetGlobalParameter writes a global parameter by name.
func (m *Manager) SetGlobalParameter(name string, value float32) error {
	ref, err := m.GlobalParamReference(name, value)
	if err != nil {
		return err
	}
	return m.SetGlobalParameterRef(ref)
}

// SetGlobalParameterRef writes a resolved global parameter.
func (m *Manager) SetGlobalParameterRef(p ParamReference) error {
	if !p.Global {
		return errors.New(fmt.Errorf("%w: %q is event-local", ErrGlobalParameter, p.Description.Name)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("parameter", p.Description.Name).
			Build()
	}

	if err := m.system.SetParameterByID(p.Description.ID, p.Value, p.IgnoreSeekSpeed); err != nil {
		m.metrics.parameterFailure("global")
		m.logger.Error("failed to set global parameter",
			"param", p.Description.Name,
			"param_id", p.Description.ID,
			"value", p.Value,
			"error", err)
		return errors.New(fmt.Errorf("%w %q: %w", ErrGlobalParameter, p.Description.Name, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryParameter).
			Context("parameter", p.Description.Name).
			Build()
	}
	return nil
}

// SetGlobalParameterEnum writes e's value to the parameter e names.
func (m *Manager) SetGlobalParameterEnum(e GlobalParameterEnum) error {
	return m.SetGlobalParameter(e.StudioParameter(), e.Value())
}

// LoadBank loads a bank through the middleware and remembers it for Close.
func (m *Manager) LoadBank(name string, loadSamples bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.system.LoadBank(name, loadSamples); err != nil {
		m.logger.Error("failed to load bank", "bank", name, "error", err)
		return errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryBank).
			Context("bank", name).
			Build()
	}
	m.banks = append(m.banks, name)
	m.metrics.banksLoaded(len(m.system.Banks()))
	m.logger.Info("bank loaded", "bank", name, "load_samples", loadSamples)
	return nil
}

// UnloadBank unloads a bank. Cached descriptions are dropped; instances of
// its events stop and are reclaimed on the next tick.
func (m *Manager) UnloadBank(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.system.UnloadBank(name); err != nil {
		cause := err
		if errors.Is(err, studio.ErrBankNotLoaded) {
			cause = fmt.Errorf("%w: %w", ErrBankNotLoaded, err)
		}
		return errors.New(cause).
			Component(ComponentAudioCore).
			Category(errors.CategoryBank).
			Context("bank", name).
			Build()
	}

	m.banks = slices.DeleteFunc(m.banks, func(b string) bool { return b == name })
	m.events.Flush()
	m.globals.Flush()
	m.metrics.banksLoaded(len(m.system.Banks()))
	m.logger.Info("bank unloaded", "bank", name)
	return nil
}

// IsBankLoaded reports whether the middleware has name loaded.
func (m *Manager) IsBankLoaded(name string) bool {
	return slices.Contains(m.system.Banks(), name)
}

// SetRuntimeVariables attaches scene dependencies used by SceneLoaded.
func (m *Manager) SetRuntimeVariables(rv *RuntimeVariables) {
	m.mu.Lock()
	m.runtime = rv
	m.mu.Unlock()
}

// SceneLoaded starts the global parameters and audios configured for
// scene. Without runtime variables it does nothing.
func (m *Manager) SceneLoaded(scene string) error {
	m.mu.Lock()
	rv := m.runtime
	m.mu.Unlock()

	if rv == nil {
		return nil
	}
	return rv.StartSceneDependencies(m, scene)
}
