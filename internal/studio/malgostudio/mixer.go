package malgostudio

import (
	"slices"
	"sync"
)

// mixer sums active voices. Finished voices are dropped during the pass
// and their stopped callbacks run after the mixer lock is released, on the
// goroutine doing the mixing.
type mixer struct {
	channels int

	mu     sync.Mutex
	voices []*Instance
}

func (m *mixer) add(i *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.voices, i) {
		m.voices = append(m.voices, i)
	}
}

func (m *mixer) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// render overwrites out with the mix of every active voice.
func (m *mixer) render(out []float32) {
	clear(out)

	var callbacks []func()
	m.mu.Lock()
	m.voices = slices.DeleteFunc(m.voices, func(i *Instance) bool {
		done, cb := i.mixInto(out, m.channels)
		if cb != nil {
			callbacks = append(callbacks, cb)
		}
		return done
	})
	m.mu.Unlock()

	for i, v := range out {
		out[i] = max(-1, min(1, v))
	}
	for _, cb := range callbacks {
		cb()
	}
}
