// Package audiocore pools playable audio-event instances behind stable,
// copyable Audio values.
//
// # Architecture Overview
//
// The package consists of a few small pieces:
//
//   - Audio: a value naming an event, its queued parameters and pose
//   - slot: one reusable binding between an Audio and a middleware instance
//   - HandleContainer: a growable array of slots plus the per-tick jobs
//   - Manager: the facade owning the middleware system, the container and
//     the fixed-tick driver
//
// An Audio refers to its slot by index and generation. When the slot is
// reclaimed and reused, the generation moves on and every older Audio
// reports IsValid() == false instead of touching the new occupant.
//
// # Concurrency and Thread Safety
//
// Manager serialises every mutating call (Play, Stop, CreateInstance, Tick)
// behind one mutex. Maintenance jobs scheduled by a tick run on worker
// goroutines and may overlap the next main-thread call; they only touch a
// slot through its atomic binding and its pose lock.
//
// A slot is reclaimed on two paths: the middleware's stopped callback, and
// the per-tick stop-detection pass. Both release through a compare-and-swap
// on the binding, so exactly one of them calls Release on the instance.
//
// Readers such as FindEventInstancesOf work on a snapshot of the slot array
// and may observe state up to one tick old.
//
// # Error Handling
//
// Resolution failures (unknown event path or GUID) are returned as errors.
// Failures at the middleware boundary during playback are logged and
// skipped. Operations through a stale Audio log a throttled error and, in
// strict mode, also return ErrInvalidAudio.
package audiocore
