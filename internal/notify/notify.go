package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giuliastro/opencode-remote/internal/model"
)

// Signal is one completion notification: the selected session stopped
// running.
type Signal struct {
	ID        string
	SessionID string
	Title     string
	At        time.Time
}

// Sink receives completion signals. The playback mechanism behind it is up
// to the caller.
type Sink interface {
	Notify(Signal)
}

type SinkFunc func(Signal)

func (f SinkFunc) Notify(sig Signal) {
	f(sig)
}

// Multi fans one signal out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(sig Signal) {
		for _, s := range sinks {
			if s != nil {
				s.Notify(sig)
			}
		}
	})
}

// WriterSink prints one line per completion, optionally with a terminal
// bell.
type WriterSink struct {
	W    io.Writer
	Bell bool
}

func (s *WriterSink) Notify(sig Signal) {
	if s == nil || s.W == nil {
		return
	}
	title := sig.Title
	if title == "" {
		title = sig.SessionID
	}
	bell := ""
	if s.Bell {
		bell = "\a"
	}
	_, _ = fmt.Fprintf(s.W, "%s completed: %s%s\n", sig.At.Format("15:04:05"), title, bell)
}

// Detector tracks the selected session's running state across session-list
// commits and emits one signal per running to not-running edge. Busy and
// retry count as running.
type Detector struct {
	mu         sync.Mutex
	sink       Sink
	sessionID  string
	wasRunning bool
	now        func() time.Time
}

func NewDetector(sink Sink) *Detector {
	return &Detector{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Reset points the detector at a new selection without emitting, so a
// session switch never produces a false completion.
func (d *Detector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = sessionID
	d.wasRunning = false
}

// Observe records the selected session's status after a list commit. It
// emits at most one signal, outside the detector lock.
func (d *Detector) Observe(session model.Session) {
	d.mu.Lock()
	if session.ID != d.sessionID {
		d.sessionID = session.ID
		d.wasRunning = false
	}
	running := session.Status.Running()
	emit := d.wasRunning && !running
	d.wasRunning = running
	sink := d.sink
	var sig Signal
	if emit {
		sig = Signal{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Title:     session.Title,
			At:        d.now(),
		}
	}
	d.mu.Unlock()
	if emit && sink != nil {
		sink.Notify(sig)
	}
}
