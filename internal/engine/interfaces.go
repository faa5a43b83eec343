package engine

import (
	"context"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
)

// ScalerControl sets the capacity ceiling of a cluster
type ScalerControl interface {
	SetClusterCapacity(ctx context.Context, cluster string, cpuLimit int64) error
}

// InstanceReaper terminates the running workers of a cluster and returns their ids
type InstanceReaper interface {
	TerminateWorkers(ctx context.Context, cluster string) ([]string, error)
}

// Resetter collapses a consumed custom schedule back onto the cluster's default
type Resetter interface {
	Reset(ctx context.Context, ev schedule.Event) (ResetResult, error)
}
