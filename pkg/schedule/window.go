package schedule

import (
	"time"
)

// DefaultTolerance is the firing tolerance used when none is configured
const DefaultTolerance = 60 * time.Second

// Window decides whether an event is due. Evaluation is poll driven, so Tolerance has to
// cover the polling interval for every occurrence to be seen at least once.
type Window struct {
	Location  *time.Location
	Tolerance time.Duration
}

// NewWindow returns a Window in loc, falling back to UTC and DefaultTolerance
func NewWindow(loc *time.Location, tolerance time.Duration) Window {
	if loc == nil {
		loc = time.UTC
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return Window{Location: loc, Tolerance: tolerance}
}

// Scheduled returns today's occurrence of ev in the window's location
func (w Window) Scheduled(ev Event, now time.Time) time.Time {
	return ev.Time.On(now, w.location())
}

// Delta is the signed offset of today's occurrence of ev from now, truncated toward zero
// to whole seconds
func (w Window) Delta(ev Event, now time.Time) time.Duration {
	return w.Scheduled(ev, now).Sub(now).Truncate(time.Second)
}

// Fires reports whether now lies within Tolerance of today's occurrence of ev
func (w Window) Fires(ev Event, now time.Time) bool {
	offset := w.Scheduled(ev, now).Sub(now)
	if offset < 0 {
		offset = -offset
	}
	return offset <= w.Tolerance
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}
