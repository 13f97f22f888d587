// Package simstudio is a deterministic in-memory middleware. It resolves
// events from bank manifests, keeps every instance in memory, advances
// playback on a virtual clock and records each call it receives.
package simstudio

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

var eventNamespace = uuid.MustParse("0d8b3f5a-2c49-4e71-b6a3-51f0c2e9d874")

// Option configures a System.
type Option func(*System)

// WithBankDir sets the directory LoadBank reads manifests from.
func WithBankDir(dir string) Option {
	return func(s *System) { s.bankDir = dir }
}

// WithBank registers an already parsed bank as loaded.
func WithBank(b *studio.Bank) Option {
	return func(s *System) { s.pending = append(s.pending, b) }
}

// WithStopCallbacks controls whether stopped callbacks fire. Disabling them
// leaves reclamation to polling.
func WithStopCallbacks(enabled bool) Option {
	return func(s *System) { s.stopCallbacks = enabled }
}

// WithAsyncCallbacks fires stopped callbacks on their own goroutine, the way
// a middleware update thread would.
func WithAsyncCallbacks() Option {
	return func(s *System) { s.async = true }
}

// System is an in-memory studio.System.
type System struct {
	mu          sync.RWMutex
	closed      bool
	bankDir     string
	pending     []*studio.Bank
	banks       map[string]*studio.Bank
	events      map[string]*description
	eventsByID  map[studio.GUID]*description
	globals     map[string]*globalParam
	globalsByID map[studio.ParameterID]*globalParam
	rejected    map[studio.ParameterID]bool

	stopCallbacks bool
	async         bool
	callbacks     sync.WaitGroup

	instMu    sync.Mutex
	instances []*Instance
	nextID    atomic.Uint64
	now       time.Duration

	calls          callLog
	doubleReleases atomic.Int64
	rejectStarts   atomic.Bool
}

type globalParam struct {
	desc  studio.ParameterDescription
	value float32
}

var _ studio.System = (*System)(nil)

// New creates a System. Banks passed with WithBank are loaded immediately.
func New(opts ...Option) (*System, error) {
	s := &System{
		banks:         make(map[string]*studio.Bank),
		events:        make(map[string]*description),
		eventsByID:    make(map[studio.GUID]*description),
		globals:       make(map[string]*globalParam),
		globalsByID:   make(map[studio.ParameterID]*globalParam),
		rejected:      make(map[studio.ParameterID]bool),
		stopCallbacks: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, b := range s.pending {
		if err := s.addBank(b); err != nil {
			return nil, err
		}
	}
	s.pending = nil
	return s, nil
}

// DefaultBank names the implicit bank holding events added with DefineEvent.
const DefaultBank = "sim"

// DefineEvent registers a single event in the implicit DefaultBank and returns
// its description. Intended for tests.
func (s *System) DefineEvent(path string, is3D bool, params ...studio.ParameterDefinition) studio.EventDescription {
	def := studio.EventDefinition{
		Path:       path,
		ID:         uuid.NewSHA1(eventNamespace, []byte(path)).String(),
		Is3D:       is3D,
		Parameters: params,
	}
	return s.DefineEventWith(def)
}

// DefineEventWith registers def in the implicit DefaultBank.
func (s *System) DefineEventWith(def studio.EventDefinition) studio.EventDescription {
	s.mu.Lock()
	defer s.mu.Unlock()

	bank, ok := s.banks[DefaultBank]
	if !ok {
		bank = &studio.Bank{Name: DefaultBank}
		s.banks[DefaultBank] = bank
	}
	bank.Events = append(bank.Events, def)
	return s.registerEventLocked(DefaultBank, def)
}

// DefineGlobalParameter registers a global parameter outside any bank.
func (s *System) DefineGlobalParameter(p studio.ParameterDefinition) studio.ParameterDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerGlobalLocked(p)
}

func (s *System) addBank(b *studio.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.banks[b.Name]; ok {
		return fmt.Errorf("bank %q: %w", b.Name, studio.ErrBankLoaded)
	}
	s.banks[b.Name] = b
	for _, def := range b.Events {
		s.registerEventLocked(b.Name, def)
	}
	for _, p := range b.GlobalParameters {
		s.registerGlobalLocked(p)
	}
	return nil
}

func (s *System) registerEventLocked(bank string, def studio.EventDefinition) *description {
	d := newDescription(s, bank, def)
	s.events[def.Path] = d
	s.eventsByID[d.id] = d
	return d
}

func (s *System) registerGlobalLocked(p studio.ParameterDefinition) studio.ParameterDescription {
	g := &globalParam{desc: p.Describe(true), value: p.Default}
	s.globals[p.Name] = g
	s.globalsByID[g.desc.ID] = g
	return g.desc
}

// GetEvent resolves an event by path.
func (s *System) GetEvent(path string) (studio.EventDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, studio.ErrClosed
	}
	d, ok := s.events[path]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", path, studio.ErrNotFound)
	}
	return d, nil
}

// GetEventByID resolves an event by GUID.
func (s *System) GetEventByID(id studio.GUID) (studio.EventDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, studio.ErrClosed
	}
	d, ok := s.eventsByID[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, studio.ErrNotFound)
	}
	return d, nil
}

// ParameterDescriptionByName looks up a global parameter.
func (s *System) ParameterDescriptionByName(name string) (studio.ParameterDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.globals[name]
	if !ok {
		return studio.ParameterDescription{}, fmt.Errorf("global parameter %q: %w", name, studio.ErrNotFound)
	}
	return g.desc, nil
}

// ParameterByName reads a global parameter value.
func (s *System) ParameterByName(name string) (float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.globals[name]
	if !ok {
		return 0, fmt.Errorf("global parameter %q: %w", name, studio.ErrNotFound)
	}
	return g.value, nil
}

// SetParameterByName writes a global parameter value.
func (s *System) SetParameterByName(name string, value float32, ignoreSeekSpeed bool) error {
	s.mu.Lock()
	g, ok := s.globals[name]
	if ok && !s.rejected[g.desc.ID] {
		g.value = g.desc.Clamp(value)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("global parameter %q: %w", name, studio.ErrNotFound)
	}
	if s.isRejected(g.desc.ID) {
		return fmt.Errorf("global parameter %q: %w", name, studio.ErrInvalidParam)
	}
	s.calls.add(Call{Kind: CallSetGlobal, Param: g.desc.ID, Name: name, Value: value, IgnoreSeekSpeed: ignoreSeekSpeed})
	return nil
}

// SetParameterByID writes a global parameter value by ID.
func (s *System) SetParameterByID(id studio.ParameterID, value float32, ignoreSeekSpeed bool) error {
	s.mu.Lock()
	g, ok := s.globalsByID[id]
	if ok && !s.rejected[id] {
		g.value = g.desc.Clamp(value)
	}
	s.mu.Unlock()

	if !ok || s.isRejected(id) {
		return fmt.Errorf("global parameter %v: %w", id, studio.ErrInvalidParam)
	}
	s.calls.add(Call{Kind: CallSetGlobal, Param: id, Name: g.desc.Name, Value: value, IgnoreSeekSpeed: ignoreSeekSpeed})
	return nil
}

// LoadBank loads <bankDir>/<name>.yaml.
func (s *System) LoadBank(name string, _ bool) error {
	s.mu.RLock()
	_, loaded := s.banks[name]
	dir := s.bankDir
	s.mu.RUnlock()

	if loaded {
		return fmt.Errorf("bank %q: %w", name, studio.ErrBankLoaded)
	}

	bank, err := studio.LoadBankManifest(dir, name)
	if err != nil {
		return err
	}
	return s.addBank(bank)
}

// UnloadBank removes a bank. Live instances of its events stop immediately.
func (s *System) UnloadBank(name string) error {
	s.mu.Lock()
	bank, ok := s.banks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("bank %q: %w", name, studio.ErrBankNotLoaded)
	}
	delete(s.banks, name)

	var removed []*description
	for _, def := range bank.Events {
		if d, ok := s.events[def.Path]; ok && d.bank == name {
			d.valid.Store(false)
			delete(s.events, def.Path)
			delete(s.eventsByID, d.id)
			removed = append(removed, d)
		}
	}
	s.mu.Unlock()

	for _, inst := range s.Instances() {
		if slices.Contains(removed, inst.desc) {
			_ = inst.Stop(studio.StopImmediate)
		}
	}
	return nil
}

// Banks lists loaded bank names in sorted order.
func (s *System) Banks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.banks))
}

// Close waits for outstanding asynchronous callbacks.
func (s *System) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.callbacks.Wait()
	return nil
}

// RejectParameter makes every future write to id fail.
func (s *System) RejectParameter(id studio.ParameterID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[id] = true
}

// RejectStarts makes every future Start fail while enabled.
func (s *System) RejectStarts(enabled bool) {
	s.rejectStarts.Store(enabled)
}

func (s *System) isRejected(id studio.ParameterID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejected[id]
}

// Advance moves the virtual clock forward, ending instances whose length or
// fadeout has elapsed.
func (s *System) Advance(d time.Duration) {
	s.instMu.Lock()
	s.now += d
	now := s.now
	instances := slices.Clone(s.instances)
	s.instMu.Unlock()

	for _, inst := range instances {
		inst.advance(now)
	}
}

func (s *System) clock() time.Duration {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	return s.now
}

// Instances returns every instance ever created, in creation order.
func (s *System) Instances() []*Instance {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	return slices.Clone(s.instances)
}

// LiveInstances returns instances that have not been released.
func (s *System) LiveInstances() []*Instance {
	var live []*Instance
	for _, inst := range s.Instances() {
		if inst.IsValid() {
			live = append(live, inst)
		}
	}
	return live
}

// Calls returns a copy of the call log.
func (s *System) Calls() []Call {
	return s.calls.snapshot()
}

// CallsFor returns the calls made on one instance.
func (s *System) CallsFor(inst *Instance) []Call {
	var out []Call
	for _, c := range s.calls.snapshot() {
		if c.Instance == inst.id {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *System) ResetCalls() {
	s.calls.reset()
}

// DoubleReleases counts Release calls on already released instances.
func (s *System) DoubleReleases() int64 {
	return s.doubleReleases.Load()
}

// WaitCallbacks blocks until every asynchronous stopped callback has returned.
func (s *System) WaitCallbacks() {
	s.callbacks.Wait()
}

func (s *System) fire(fn func()) {
	if fn == nil || !s.stopCallbacks {
		return
	}
	if !s.async {
		fn()
		return
	}
	s.callbacks.Add(1)
	go func() {
		defer s.callbacks.Done()
		fn()
	}()
}

func (s *System) newInstance(d *description) *Instance {
	inst := &Instance{
		sys:    s,
		id:     s.nextID.Add(1),
		desc:   d,
		state:  studio.PlaybackStopped,
		params: make(map[studio.ParameterID]float32),
		props:  make(map[studio.EventProperty]float32),
		volume: 1,
	}
	for _, p := range d.params {
		inst.params[p.ID] = p.DefaultValue
	}

	s.instMu.Lock()
	s.instances = append(s.instances, inst)
	s.instMu.Unlock()

	s.calls.add(Call{Kind: CallCreate, Instance: inst.id, Event: d.def.Path})
	return inst
}

// errInvalid wraps ErrInvalidHandle with the instance id.
func errInvalid(id uint64) error {
	return errors.New(fmt.Errorf("instance %d: %w", id, studio.ErrInvalidHandle)).
		Category(errors.CategoryAudioSource).
		Build()
}
