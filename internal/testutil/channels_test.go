package testutil

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingT captures failures instead of stopping the test.
type recordingT struct {
	testing.TB
	failed   bool
	messages []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

func (r *recordingT) FailNow() {
	r.failed = true
}

func TestWaitForChannel(t *testing.T) {
	ch := make(chan struct{})
	go func() {
		time.Sleep(time.Millisecond)
		close(ch)
	}()
	WaitForChannel(t, ch, ShortTestTimeout, "channel closed")
}

func TestWaitForChannelTimeout(t *testing.T) {
	rec := &recordingT{TB: t}
	WaitForChannel(rec, make(chan struct{}), time.Millisecond, "never closed")

	assert.True(t, rec.failed)
	if assert.Len(t, rec.messages, 1) {
		assert.Contains(t, rec.messages[0], "never closed")
		assert.Contains(t, rec.messages[0], "timeout after 1ms")
	}
}

func TestWaitForError(t *testing.T) {
	ch := make(chan error, 1)
	want := errors.New("stopped")
	ch <- want
	assert.Equal(t, want, WaitForError(t, ch, ShortTestTimeout, "result sent"))
}

func TestWaitForErrorTimeout(t *testing.T) {
	rec := &recordingT{TB: t}
	err := WaitForError(rec, make(chan error), time.Millisecond, "no result")

	assert.NoError(t, err)
	assert.True(t, rec.failed)
	if assert.Len(t, rec.messages, 1) {
		assert.Contains(t, rec.messages[0], "no result")
	}
}
