package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/truefoundry/capacity-scheduler/internal/engine"
	"go.uber.org/zap"
)

// cronLogger routes robfig/cron logs to zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// pollInterval estimates the spacing of a cron spec from two consecutive activations
func pollInterval(spec string, loc *time.Location, from time.Time) (time.Duration, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, fmt.Errorf("pollInterval - %q: %w", spec, err)
	}
	first := sched.Next(from.In(loc))
	return sched.Next(first).Sub(first), nil
}

// newTrigger schedules runner passes on spec. A pass still running when the next one is
// due makes the next one skip.
func newTrigger(logger *zap.Logger, runner *engine.Runner, spec string, loc *time.Location, passTimeout time.Duration) (*cron.Cron, error) {
	cl := cronLogger{logger: logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(engine.WithTrigger(context.Background(), "cron"), passTimeout)
		defer cancel()
		if _, err := runner.RunPass(ctx); err != nil {
			logger.Error("scheduled pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("newTrigger - %q: %w", spec, err)
	}
	return c, nil
}
