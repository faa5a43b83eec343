package engine

import (
	"context"
	"fmt"

	"github.com/truefoundry/capacity-scheduler/internal/prom"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/values"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Outcome is what happened to one fired event
type Outcome struct {
	Event      schedule.Event `json:"-"`
	Cluster    string         `json:"cluster"`
	EventType  string         `json:"eventType"`
	Kind       string         `json:"kind"`
	Time       string         `json:"time"`
	Terminated []string       `json:"terminated,omitempty"`
	Reset      ResetResult    `json:"reset,omitempty"`
	Error      string         `json:"error,omitempty"`
	ResetError string         `json:"resetError,omitempty"`

	Err      error `json:"-"`
	ResetErr error `json:"-"`
}

// Failed reports whether a scale or terminate call failed
func (o Outcome) Failed() bool {
	return o.Err != nil
}

type DispatcherParams struct {
	Scaler   ScalerControl
	Reaper   InstanceReaper
	Resetter Resetter
	// HighCapacity is the cpu limit applied on start events
	HighCapacity int64
	Logger       *zap.Logger
}

// Dispatcher maps a fired event onto scale, terminate and reset calls
type Dispatcher struct {
	scaler       ScalerControl
	reaper       InstanceReaper
	resetter     Resetter
	highCapacity int64
	logger       *zap.Logger
}

func NewDispatcher(params *DispatcherParams) *Dispatcher {
	highCapacity := params.HighCapacity
	if highCapacity <= 0 {
		highCapacity = values.DefaultScaleUpCPULimit
	}
	return &Dispatcher{
		scaler:       params.Scaler,
		reaper:       params.Reaper,
		resetter:     params.Resetter,
		highCapacity: highCapacity,
		logger:       params.Logger.Named("dispatcher"),
	}
}

// Dispatch performs the actions of ev. Failures are returned in the Outcome and never
// prevent the remaining actions of the event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev schedule.Event) Outcome {
	outcome := Outcome{
		Event:     ev,
		Cluster:   ev.Cluster,
		EventType: string(ev.EventType),
		Kind:      string(ev.Kind),
		Time:      ev.Time.String(),
	}

	switch ev.EventType {
	case schedule.EventStart:
		outcome.Err = d.setCapacity(ctx, ev.Cluster, d.highCapacity)
	case schedule.EventEnd:
		scaleErr := d.setCapacity(ctx, ev.Cluster, 0)
		terminated, terminateErr := d.terminate(ctx, ev.Cluster)
		outcome.Terminated = terminated
		outcome.Err = multierr.Combine(scaleErr, terminateErr)

		if ev.Kind == schedule.KindCustom && d.resetter != nil {
			outcome.Reset, outcome.ResetErr = d.resetter.Reset(ctx, ev)
			prom.ResetCounter.WithLabelValues(ev.Cluster, string(outcome.Reset)).Inc()
			if outcome.ResetErr != nil {
				d.logger.Error("failed to reset custom schedule", zap.String("cluster", ev.Cluster), zap.String("result", string(outcome.Reset)), zap.Error(outcome.ResetErr))
				outcome.ResetError = outcome.ResetErr.Error()
			}
		}
	default:
		outcome.Err = fmt.Errorf("Dispatch - %s: %w", ev, ErrUnknownEvent)
	}

	if outcome.Err != nil {
		d.logger.Error("event actions failed", zap.Stringer("event", ev), zap.Error(outcome.Err))
		outcome.Error = outcome.Err.Error()
	} else {
		d.logger.Info("event actions completed", zap.Stringer("event", ev), zap.Strings("terminated", outcome.Terminated))
	}
	return outcome
}

func (d *Dispatcher) setCapacity(ctx context.Context, cluster string, cpuLimit int64) error {
	err := d.scaler.SetClusterCapacity(ctx, cluster, cpuLimit)
	action := "scale-up"
	if cpuLimit == 0 {
		action = "scale-down"
	}
	countAction(cluster, action, err)
	if err != nil {
		return fmt.Errorf("setCapacity - %s to %d: %w", cluster, cpuLimit, err)
	}
	return nil
}

func (d *Dispatcher) terminate(ctx context.Context, cluster string) ([]string, error) {
	ids, err := d.reaper.TerminateWorkers(ctx, cluster)
	countAction(cluster, "terminate", err)
	if err != nil {
		return ids, fmt.Errorf("terminate - %s: %w", cluster, err)
	}
	return ids, nil
}

func countAction(cluster, action string, err error) {
	label := values.Success
	if err != nil {
		label = "failed"
	}
	prom.ActionCounter.WithLabelValues(cluster, action, label).Inc()
}
