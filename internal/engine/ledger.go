package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
)

// Ledger remembers occurrences already dispatched by this process, so consecutive polls
// inside one firing window act on an occurrence once
type Ledger struct {
	entries sync.Map
	ttl     time.Duration
}

// NewLedger keeps each occurrence for ttl past its scheduled instant
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{ttl: ttl}
}

func occurrenceKey(ev schedule.Event, scheduled time.Time) string {
	return fmt.Sprintf("%s|%s|%d", ev.Cluster, ev.EventType, scheduled.Unix())
}

// Claim returns true the first time it sees the occurrence of ev at scheduled
func (l *Ledger) Claim(ev schedule.Event, scheduled time.Time) bool {
	_, loaded := l.entries.LoadOrStore(occurrenceKey(ev, scheduled), scheduled.Add(l.ttl))
	return !loaded
}

// Prune drops occurrences that expired before now
func (l *Ledger) Prune(now time.Time) {
	l.entries.Range(func(key, value any) bool {
		if value.(time.Time).Before(now) {
			l.entries.Delete(key)
		}
		return true
	})
}

// Len returns the number of remembered occurrences
func (l *Ledger) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
