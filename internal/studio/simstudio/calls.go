package simstudio

import (
	"slices"
	"sync"

	"github.com/pointaudio/pointaudio/internal/studio"
)

// CallKind names a recorded middleware call.
type CallKind string

const (
	CallCreate       CallKind = "create"
	CallSetParameter CallKind = "setParameterByID"
	CallSetProperty  CallKind = "setProperty"
	CallSet3D        CallKind = "set3DAttributes"
	CallSetVolume    CallKind = "setVolume"
	CallStart        CallKind = "start"
	CallStop         CallKind = "stop"
	CallRelease      CallKind = "release"
	CallSetGlobal    CallKind = "setGlobalParameter"
)

// Call is one recorded middleware call.
type Call struct {
	Kind            CallKind
	Instance        uint64
	Event           string
	Name            string
	Param           studio.ParameterID
	Property        studio.EventProperty
	Value           float32
	IgnoreSeekSpeed bool
	Attributes      studio.Attributes3D
	Mode            studio.StopMode
}

type callLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *callLog) add(c Call) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *callLog) reset() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

// IndexOf returns the position of the first call matching pred, or -1.
func IndexOf(calls []Call, pred func(Call) bool) int {
	return slices.IndexFunc(calls, pred)
}

// OfKind filters calls by kind.
func OfKind(calls []Call, kind CallKind) []Call {
	var out []Call
	for _, c := range calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
