package delivery

import (
	"sync"
	"time"

	"github.com/sznuper/crashrelay/internal/fault"
)

// Status is the terminal state of a delivery attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Outcome captures the result of delivering a single fault. Errors are
// stored in Err/ErrStage rather than returned, so the caller always has
// something to display and its own error path is never triggered twice.
type Outcome struct {
	Fault    *fault.Fault // the reported fault, never lost
	Label    string
	EventID  string
	Status   Status
	Attached string // attachment mode, "" when none
	Duration time.Duration
	Err      error
	ErrStage string // "submit", "notify", "deliver"
}

// Sent reports whether the transport accepted the report.
func (o Outcome) Sent() bool {
	return o.Status == StatusSent
}

// Completion is a one-shot future for an Outcome. The client resolves it
// exactly once; any number of goroutines may wait on it.
type Completion struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve stores o and wakes waiters. Only the first call has an effect;
// it reports whether this call was the one that resolved.
func (c *Completion) resolve(o Outcome) bool {
	resolved := false
	c.once.Do(func() {
		c.outcome = o
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the outcome is available.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the outcome is available. There is no timeout: a
// transport that never reports back blocks the caller.
func (c *Completion) Wait() Outcome {
	<-c.done
	return c.outcome
}
