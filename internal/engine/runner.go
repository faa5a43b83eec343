package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/truefoundry/capacity-scheduler/internal/prom"
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
	"github.com/truefoundry/capacity-scheduler/pkg/store"
	"github.com/truefoundry/capacity-scheduler/pkg/values"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Report summarises one evaluation pass
type Report struct {
	PassID        string    `json:"passId"`
	Trigger       string    `json:"trigger"`
	Now           time.Time `json:"now"`
	Records       int       `json:"records"`
	Evaluated     int       `json:"evaluated"`
	Fired         int       `json:"fired"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Resets        int       `json:"resets"`
	ResetFailures int       `json:"resetFailures"`
	Outcomes      []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	r.Fired++
	if o.Failed() {
		r.Failed++
	}
	switch o.Reset {
	case ResetApplied, ResetAlreadyDone:
		r.Resets++
	case ResetConflicted, ResetFailed:
		r.ResetFailures++
	}
	r.Outcomes = append(r.Outcomes, o)
}

type RunnerParams struct {
	Store      store.Store
	Dispatcher *Dispatcher
	Window     schedule.Window
	Clock      clock.PassiveClock
	// Ledger is optional, a nil ledger lets every poll inside a window dispatch
	Ledger *Ledger
	Logger *zap.Logger
}

// Runner executes evaluation passes: read, resolve, evaluate, dispatch
type Runner struct {
	store      store.Store
	dispatcher *Dispatcher
	window     schedule.Window
	clock      clock.PassiveClock
	ledger     *Ledger
	logger     *zap.Logger
}

func NewRunner(params *RunnerParams) *Runner {
	clk := params.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Runner{
		store:      params.Store,
		dispatcher: params.Dispatcher,
		window:     params.Window,
		clock:      clk,
		ledger:     params.Ledger,
		logger:     params.Logger.Named("runner"),
	}
}

type triggerKey struct{}

// WithTrigger labels the passes run under ctx, e.g. "cron" or "api"
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "manual"
}

// RunPass evaluates every active schedule against a single reading of the clock.
// It only returns an error when the store cannot be read, in which case nothing is
// dispatched. Action and reset failures are reported in the Report.
func (r *Runner) RunPass(ctx context.Context) (Report, error) {
	trigger := triggerFrom(ctx)
	now := r.clock.Now()
	report := Report{
		PassID:   uuid.NewString(),
		Trigger:  trigger,
		Now:      now,
		Outcomes: []Outcome{},
	}
	logger := r.logger.With(zap.String("pass", report.PassID))
	defer func(start time.Time) {
		prom.PassHistogram.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}(time.Now())

	records, err := r.store.ListActive(ctx)
	if err != nil {
		prom.PassCounter.WithLabelValues(trigger, "failed").Inc()
		logger.Error("failed to list schedules", zap.Error(err))
		return report, fmt.Errorf("RunPass - ListActive: %w", err)
	}
	report.Records = len(records)
	prom.ActiveRecordsGauge.Set(float64(len(records)))

	events := schedule.Resolve(logger, records)
	report.Evaluated = len(events)

	for _, ev := range events {
		if !r.window.Fires(ev, now) {
			continue
		}
		scheduled := r.window.Scheduled(ev, now)
		if r.ledger != nil && !r.ledger.Claim(ev, scheduled) {
			logger.Debug("occurrence already dispatched", zap.Stringer("event", ev), zap.Time("scheduled", scheduled))
			report.Skipped++
			continue
		}
		logger.Info("event fired", zap.Stringer("event", ev), zap.Duration("delta", r.window.Delta(ev, now)))
		prom.EventFiredCounter.WithLabelValues(ev.Cluster, string(ev.EventType), string(ev.Kind)).Inc()
		report.add(r.dispatcher.Dispatch(ctx, ev))
	}
	if r.ledger != nil {
		r.ledger.Prune(now)
	}

	prom.PassCounter.WithLabelValues(trigger, values.Success).Inc()
	logger.Info("pass completed",
		zap.Int("records", report.Records),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("fired", report.Fired),
		zap.Int("failed", report.Failed),
		zap.Int("resets", report.Resets),
		zap.Int("resetFailures", report.ResetFailures))
	return report, nil
}
