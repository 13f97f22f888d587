package audiocore

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/jobs"
	"github.com/pointaudio/pointaudio/internal/logging"
	"github.com/pointaudio/pointaudio/internal/observability/metrics"
	"github.com/pointaudio/pointaudio/internal/studio"
)

// SlotRef addresses a slot in a HandleContainer. It stays stable across
// growth; Generation detects reuse.
type SlotRef struct {
	Index      int
	Generation uint32
}

func (r SlotRef) String() string {
	return fmt.Sprintf("%d@%d", r.Index, r.Generation)
}

// InstanceInfo describes one bound slot.
type InstanceInfo struct {
	Index         int
	Generation    uint32
	InstanceHash  Hash
	Event         string
	Instance      studio.EventInstance
	PlaybackState studio.PlaybackState
}

// ContainerOption configures a HandleContainer.
type ContainerOption func(*HandleContainer)

// WithBatchSize sets how many slots one job batch visits.
func WithBatchSize(n int) ContainerOption {
	return func(c *HandleContainer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithContainerLogger overrides the container logger.
func WithContainerLogger(l *slog.Logger) ContainerOption {
	return func(c *HandleContainer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReclaimHook is called every time a slot returns to the pool.
func WithReclaimHook(fn func(path string)) ContainerOption {
	return func(c *HandleContainer) { c.onReclaim = fn }
}

// WithGrowthHook is called after the slot array doubles.
func WithGrowthHook(fn func(capacity int)) ContainerOption {
	return func(c *HandleContainer) { c.onGrow = fn }
}

// WithParameterFailureHook is called when a queued parameter cannot be applied.
func WithParameterFailureHook(fn func()) ContainerOption {
	return func(c *HandleContainer) { c.onParamFailure = fn }
}

// HandleContainer is a growable pool of slots. Insert, ScheduleUpdate,
// CompleteAllJobs and Dispose must be called from one goroutine at a time;
// readers may run concurrently and see a snapshot of the slot array.
type HandleContainer struct {
	slots     atomicSlots
	scheduler *jobs.Scheduler
	batchSize int
	tracked   jobs.Handle
	disposed  bool
	logger    *slog.Logger

	onReclaim      func(path string)
	onGrow         func(capacity int)
	onParamFailure func()
}

// NewHandleContainer allocates capacity empty slots.
func NewHandleContainer(capacity int, scheduler *jobs.Scheduler, opts ...ContainerOption) (*HandleContainer, error) {
	if capacity < 1 {
		return nil, errors.New(fmt.Errorf("handle container capacity must be positive, got %d", capacity)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("capacity", capacity).
			Build()
	}
	if scheduler == nil {
		scheduler = jobs.NewScheduler(0)
	}

	logger := logging.ForService("audiocore")
	if logger == nil {
		logger = slog.Default()
	}

	c := &HandleContainer{
		scheduler: scheduler,
		batchSize: DefaultBatchSize,
		logger:    logger.With("component", "handle_container"),
	}
	for _, opt := range opts {
		opt(c)
	}

	slots := make([]*slot, capacity)
	for i := range slots {
		slots[i] = newSlot(c)
	}
	c.slots.store(slots)
	return c, nil
}

// Capacity returns the number of slots.
func (c *HandleContainer) Capacity() int {
	return len(c.slots.load())
}

// ActiveCount returns the number of bound slots.
func (c *HandleContainer) ActiveCount() int {
	n := 0
	for _, s := range c.slots.load() {
		if !s.isEmpty() {
			n++
		}
	}
	return n
}

// Insert binds a to the first empty slot, growing the pool when none is
// free, and creates its middleware instance.
func (c *HandleContainer) Insert(a *Audio) (SlotRef, error) {
	if c.disposed {
		return SlotRef{}, stateError(ErrManagerClosed, "insert")
	}

	for {
		slots := c.slots.load()
		for i, s := range slots {
			if !s.isEmpty() {
				continue
			}

			gen := s.generation.Add(1)
			s.setPose(a.translation, a.rotation)
			if _, err := s.createInstance(a); err != nil {
				return SlotRef{}, err
			}
			return SlotRef{Index: i, Generation: gen}, nil
		}
		c.grow()
	}
}

func (c *HandleContainer) grow() {
	c.CompleteAllJobs()

	old := c.slots.load()
	next := make([]*slot, len(old)*2)
	copy(next, old)
	for i := len(old); i < len(next); i++ {
		next[i] = newSlot(c)
	}
	c.slots.store(next)

	c.logger.Info("handle pool grown",
		"from", len(old),
		"to", len(next))
	if c.onGrow != nil {
		c.onGrow(len(next))
	}
}

// resolve returns the slot at ref.Index if it still carries ref.Generation.
func (c *HandleContainer) resolve(ref SlotRef) (*slot, bool) {
	slots := c.slots.load()
	if ref.Index < 0 || ref.Index >= len(slots) {
		return nil, false
	}
	s := slots[ref.Index]
	if s.generation.Load() != ref.Generation {
		return nil, false
	}
	return s, true
}

// FindEventInstancesOf yields every bound slot playing desc. The slot array
// is captured when iteration starts.
func (c *HandleContainer) FindEventInstancesOf(desc studio.EventDescription) iter.Seq[InstanceInfo] {
	return func(yield func(InstanceInfo) bool) {
		for i, s := range c.slots.load() {
			b := s.bound.Load()
			if b == nil || !b.instance.IsValid() {
				continue
			}
			d, err := b.instance.Description()
			if err != nil || !studio.SameEvent(d, desc) {
				continue
			}
			state, err := b.instance.PlaybackState()
			if err != nil {
				continue
			}
			info := InstanceInfo{
				Index:         i,
				Generation:    s.generation.Load(),
				InstanceHash:  b.instanceHash,
				Event:         b.event,
				Instance:      b.instance,
				PlaybackState: state,
			}
			if !yield(info) {
				return
			}
		}
	}
}

// Instances yields every bound slot.
func (c *HandleContainer) Instances() iter.Seq[InstanceInfo] {
	return func(yield func(InstanceInfo) bool) {
		for i, s := range c.slots.load() {
			b := s.bound.Load()
			if b == nil || !b.instance.IsValid() {
				continue
			}
			info := InstanceInfo{
				Index:         i,
				Generation:    s.generation.Load(),
				InstanceHash:  b.instanceHash,
				Event:         b.event,
				Instance:      b.instance,
				PlaybackState: s.playbackState(),
			}
			if !yield(info) {
				return
			}
		}
	}
}

// ScheduleUpdate completes the previous tick's jobs and schedules this
// tick's pose push and stop detection.
func (c *HandleContainer) ScheduleUpdate() jobs.Handle {
	c.tracked.Complete()
	if c.disposed {
		return jobs.Handle{}
	}

	slots := c.slots.load()
	pose := c.scheduler.ScheduleParallelFor("set_3d_attributes", len(slots), c.batchSize, c.tracked,
		func(i int) { slots[i].set3DAttributes() })
	stopped := c.scheduler.ScheduleParallelFor("detect_stopped", len(slots), c.batchSize, c.tracked,
		func(i int) { slots[i].pollStopped() })

	c.tracked = jobs.Combine(pose, stopped)
	return c.tracked
}

// CompleteAllJobs blocks until every scheduled maintenance job has finished.
func (c *HandleContainer) CompleteAllJobs() {
	c.tracked.Complete()
	c.tracked = jobs.Handle{}
}

// Dispose completes outstanding jobs, stops and releases every bound
// instance and drops the slot array. Calling it again does nothing.
func (c *HandleContainer) Dispose() {
	if c.disposed {
		return
	}
	c.CompleteAllJobs()

	for _, s := range c.slots.load() {
		s.clear(s.bound.Load(), metrics.ReclaimDispose)
	}
	c.slots.store(nil)
	c.disposed = true
}

func (c *HandleContainer) reclaimed(path string) {
	if c.onReclaim != nil {
		c.onReclaim(path)
	}
}

func (c *HandleContainer) parameterFailed(event string, p ParamReference, err error) {
	c.logger.Warn("failed to apply parameter",
		"event", event,
		"param", p.Description.Name,
		"param_id", p.Description.ID,
		"value", p.Value,
		"error", err)
	if c.onParamFailure != nil {
		c.onParamFailure()
	}
}
