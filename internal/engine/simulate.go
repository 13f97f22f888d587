package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pointaudio/pointaudio/internal/audiocore"
	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
	"github.com/pointaudio/pointaudio/internal/studio/simstudio"
)

// SimulateOptions configures a load simulation on the simulated backend.
type SimulateOptions struct {
	// Instances is the most new instances played per tick
	Instances int
	Ticks     int
	Capacity  int
	Events    int
	Seed      uint64
}

// SimulationReport summarises a simulation run.
type SimulationReport struct {
	Ticks           int
	Started         int
	InitialCapacity int
	PeakCapacity    int
	PeakActive      int
	FinalActive     int
	Elapsed         time.Duration
}

func (r SimulationReport) String() string {
	return fmt.Sprintf("ticks=%d started=%d capacity=%d->%d peak_active=%d final_active=%d elapsed=%s",
		r.Ticks, r.Started, r.InitialCapacity, r.PeakCapacity, r.PeakActive, r.FinalActive, r.Elapsed)
}

// maxDrainTicks bounds the ticks spent waiting for the last instances to end.
const maxDrainTicks = 1000

// Simulate plays random short events on the simulated backend for
// opts.Ticks fixed updates, then lets everything finish. Stopped callbacks
// arrive on their own goroutines so both reclaim paths race.
func Simulate(ctx context.Context, settings *conf.Settings, opts SimulateOptions, engineOpts ...Option) (SimulationReport, error) {
	if opts.Instances < 1 || opts.Ticks < 1 || opts.Events < 1 {
		return SimulationReport{}, errors.Newf("simulation needs instances, ticks and events above zero").
			Component("engine").
			Category(errors.CategoryValidation).
			Build()
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	sys, err := simstudio.New(simstudio.WithAsyncCallbacks())
	if err != nil {
		return SimulationReport{}, err
	}
	paths := make([]string, opts.Events)
	for i := range paths {
		paths[i] = fmt.Sprintf("event:/Sim/Voice%02d", i)
		sys.DefineEventWith(studio.EventDefinition{
			Path:       paths[i],
			ID:         fmt.Sprintf("00000000-0000-4000-8000-%012d", i+1),
			Is3D:       true,
			Length:     time.Duration(50+rng.IntN(450)) * time.Millisecond,
			Parameters: []studio.ParameterDefinition{{Name: "Intensity", Min: 0, Max: 1}},
		})
	}

	s := *settings
	s.Audio.Banks = nil
	s.Audio.RuntimeVariables = ""
	if opts.Capacity > 0 {
		s.Audio.Handlers.Capacity = opts.Capacity
	}

	e, err := New(&s, append([]Option{WithSystem(sys)}, engineOpts...)...)
	if err != nil {
		return SimulationReport{}, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			e.logger.Error("engine shutdown failed", "error", err)
		}
	}()

	m := e.Manager
	interval := time.Second / time.Duration(max(s.Audio.TickRate, 1))
	report := SimulationReport{InitialCapacity: m.Capacity()}
	begin := time.Now()

	step := func() {
		sys.Advance(interval)
		m.Tick().Complete()
		report.Ticks++
		report.PeakCapacity = max(report.PeakCapacity, m.Capacity())
		report.PeakActive = max(report.PeakActive, m.ActiveCount())
	}

	for range opts.Ticks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		for range rng.IntN(opts.Instances + 1) {
			a := m.MustGetAudio(paths[rng.IntN(len(paths))])
			a.SetPosition(audiocore.Vector3{X: rng.Float32()*20 - 10, Z: rng.Float32() * 20})
			if err := a.SetParameter("Intensity", rng.Float32()); err != nil {
				return report, err
			}
			if err := a.Play(); err != nil {
				return report, err
			}
			report.Started++
		}
		report.PeakActive = max(report.PeakActive, m.ActiveCount())
		step()
	}

	for range maxDrainTicks {
		if m.ActiveCount() == 0 {
			break
		}
		step()
	}
	sys.WaitCallbacks()
	m.CompleteAllJobs()

	report.FinalActive = m.ActiveCount()
	report.Elapsed = time.Since(begin)
	e.logger.Info("simulation finished",
		"ticks", report.Ticks,
		"started", report.Started,
		"peak_capacity", report.PeakCapacity,
		"peak_active", report.PeakActive)
	return report, nil
}
