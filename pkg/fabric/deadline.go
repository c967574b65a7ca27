package fabric

import (
	"sync/atomic"
	"time"
)

// Deadline is a cooperative cancellation flag: in-flight chunk decodes
// and regex/bitmap ops run to completion rather than being preempted.
// No package in this module polls it; pkg/query checks its own
// EvalOptions.Deadline at every step and sub-expression instead.
type Deadline struct {
	at      time.Time
	expired atomic.Bool
}

// NewDeadline returns a Deadline that expires at at. A zero at means
// no deadline; Expired always reports false.
func NewDeadline(at time.Time) *Deadline {
	return &Deadline{at: at}
}

// Expired reports whether the deadline has passed, as of the last
// Poll. Cheap to call from a hot loop.
func (d *Deadline) Expired() bool {
	return d.expired.Load()
}

// Poll checks wall time against the deadline and latches Expired if
// it has passed, returning the latched state.
func (d *Deadline) Poll() bool {
	if d.at.IsZero() {
		return false
	}
	if !time.Now().Before(d.at) {
		d.expired.Store(true)
	}
	return d.expired.Load()
}
