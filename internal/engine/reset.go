package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ResetResult is how a reset attempt ended
type ResetResult string

const (
	ResetSkipped ResetResult = ""
	// ResetApplied means this pass wrote the mirror record
	ResetApplied ResetResult = "applied"
	// ResetAlreadyDone means a concurrent pass wrote the same mirror first
	ResetAlreadyDone ResetResult = "already-done"
	ResetConflicted  ResetResult = "conflicted"
	ResetFailed      ResetResult = "failed"
)

// ResetCoordinator rewrites <cluster>_custom as a mirror of <cluster>_default once the
// custom schedule's end event has fired
type ResetCoordinator struct {
	store  store.Store
	clock  clock.PassiveClock
	logger *zap.Logger
}

func NewResetCoordinator(logger *zap.Logger, st store.Store, clk clock.PassiveClock) *ResetCoordinator {
	return &ResetCoordinator{
		store:  st,
		clock:  clk,
		logger: logger.Named("resetCoordinator"),
	}
}

// Reset writes the mirror only if the custom record still has the version ev was
// resolved from, so an override saved after the pass read the store is never lost
func (c *ResetCoordinator) Reset(ctx context.Context, ev schedule.Event) (ResetResult, error) {
	defaultID := schedule.RecordID(ev.Cluster, schedule.KindDefault)
	def, err := c.store.Get(ctx, defaultID)
	if err != nil {
		return ResetFailed, fmt.Errorf("Reset - GET %s: %w", defaultID, err)
	}

	now := c.clock.Now()
	mirror := schedule.Record{
		ID:       schedule.RecordID(ev.Cluster, schedule.KindCustom),
		Cluster:  def.Cluster,
		Start:    def.Start,
		End:      def.End,
		Kind:     schedule.KindCustom,
		Disabled: def.Disabled,
		State:    schedule.StateMirror,
		ResetAt:  &now,
	}

	written, err := c.store.CompareAndPut(ctx, mirror, ev.Version)
	if err == nil {
		c.logger.Info("custom schedule reset to default",
			zap.String("cluster", ev.Cluster),
			zap.String("start", written.Start),
			zap.String("end", written.End),
			zap.Int64("version", written.Version))
		return ResetApplied, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return ResetFailed, fmt.Errorf("Reset - CompareAndPut %s: %w", mirror.ID, err)
	}

	current, getErr := c.store.Get(ctx, mirror.ID)
	if getErr == nil && current.Mirrors(def) {
		c.logger.Info("custom schedule already reset", zap.String("cluster", ev.Cluster), zap.Int64("version", current.Version))
		return ResetAlreadyDone, nil
	}
	if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
		return ResetFailed, fmt.Errorf("Reset - GET %s after conflict: %w", mirror.ID, getErr)
	}
	return ResetConflicted, fmt.Errorf("Reset - %s expected version %d: %w", mirror.ID, ev.Version, errors.Join(ErrResetConflict, err))
}
