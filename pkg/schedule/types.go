package schedule

import (
	"fmt"
	"time"
)

// Kind tells whether a record is a cluster's baseline schedule or a one-time override
type Kind string

const (
	KindDefault Kind = "default"
	KindCustom  Kind = "custom"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	return k == KindDefault || k == KindCustom
}

// State makes the default -> override -> mirror life cycle of a record explicit.
// A default record is always StateBaseline. A custom record written by an operator is
// StateOverride until its end event fires, after which the reset coordinator rewrites it
// as StateMirror, a copy of the cluster's default times.
type State string

const (
	StateBaseline State = "baseline"
	StateOverride State = "override"
	StateMirror   State = "mirror"
)

// EventType is the edge of a schedule an event represents
type EventType string

const (
	EventStart EventType = "start"
	EventEnd   EventType = "end"
)

// Record is a persisted daily start/end definition for one cluster
type Record struct {
	ID       string `json:"id"`
	Cluster  string `json:"cluster"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Kind     Kind   `json:"kind"`
	Disabled bool   `json:"disabled"`

	State State `json:"state,omitempty"`
	// Version is bumped by the store on every write, 0 means the record was never stored
	Version   int64      `json:"version,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
}

// RecordID returns the store key of a cluster's record of the given kind
func RecordID(cluster string, kind Kind) string {
	return fmt.Sprintf("%s_%s", cluster, kind)
}

// DefaultState returns the state a freshly written record of kind k starts in
func DefaultState(k Kind) State {
	if k == KindCustom {
		return StateOverride
	}
	return StateBaseline
}

// Validate checks the fields the engine interprets
func (r Record) Validate() error {
	if r.Cluster == "" {
		return fmt.Errorf("%w: cluster", ErrMissingField)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidKind, r.Kind)
	}
	if r.ID != RecordID(r.Cluster, r.Kind) {
		return fmt.Errorf("%w: id %q, expected %q", ErrInvalidID, r.ID, RecordID(r.Cluster, r.Kind))
	}
	if _, err := ParseTimeOfDay(r.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := ParseTimeOfDay(r.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

// Mirrors reports whether r carries the same schedule as the default record d
func (r Record) Mirrors(d Record) bool {
	return r.Cluster == d.Cluster && r.Start == d.Start && r.End == d.End && r.Disabled == d.Disabled
}

// Event is one timed edge derived from a record. Events are recomputed every pass.
type Event struct {
	Cluster   string
	Time      TimeOfDay
	EventType EventType
	Kind      Kind

	// RecordID and Version identify the record the event came from
	RecordID string
	Version  int64
}

func (e Event) String() string {
	return fmt.Sprintf("%s/%s@%s(%s)", e.Cluster, e.EventType, e.Time, e.Kind)
}
