package store

import (
	"context"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
)

// Store holds schedule records
type Store interface {
	// ListActive returns every record with disabled = false
	ListActive(ctx context.Context) ([]schedule.Record, error)
	// Get returns the record stored under id, or ErrNotFound
	Get(ctx context.Context, id string) (schedule.Record, error)
	// Put writes record unconditionally and returns it with its new version
	Put(ctx context.Context, record schedule.Record) (schedule.Record, error)
	// CompareAndPut writes record only if the stored version equals expectedVersion.
	// An expectedVersion of 0 requires that no record exists under the id.
	// A mismatch returns ErrConflict.
	CompareAndPut(ctx context.Context, record schedule.Record, expectedVersion int64) (schedule.Record, error)
}

// Prepare fills the fields every backend derives on write
func Prepare(record schedule.Record) schedule.Record {
	if record.ID == "" {
		record.ID = schedule.RecordID(record.Cluster, record.Kind)
	}
	if record.State == "" {
		record.State = schedule.DefaultState(record.Kind)
	}
	return record
}
