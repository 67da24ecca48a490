package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// CronTrigger fires scheduler passes on a standard 5-field cron expression,
// as an alternative to the fixed-interval ticker. A pass that is still
// running when the next one is due causes that firing to be skipped.
type CronTrigger struct {
	loop   *Loop
	spec   string
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
}

// NewCronTrigger parses spec and registers the loop with a UTC cron scheduler
func NewCronTrigger(loop *Loop, spec string, log *zap.SugaredLogger) (*CronTrigger, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, errors.Wrapf(err, "invalid cron expression %q", spec)
	}
	if log == nil {
		log = logger.Logger
	}
	log = logger.AddPulseSymbol(log.Named("cron"))

	ctx, cancel := context.WithCancel(context.Background())
	t := &CronTrigger{
		loop:   loop,
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}

	adapter := cronLogger{log: log}
	t.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	if _, err := t.cron.AddFunc(spec, t.fire); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to register cron expression %q", spec)
	}
	return t, nil
}

// Start begins firing
func (t *CronTrigger) Start() {
	t.cron.Start()
	t.log.Infow("Cron trigger started", "cron", t.spec, "next_run", t.Next(t.loop.clock()))
}

// Stop stops firing and waits for a pass in progress
func (t *CronTrigger) Stop() {
	<-t.cron.Stop().Done()
	t.cancel()
	t.log.Infow("Cron trigger stopped")
}

// Next returns the next firing time after from
func (t *CronTrigger) Next(from time.Time) time.Time {
	sched, err := cron.ParseStandard(t.spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(from.UTC())
}

func (t *CronTrigger) fire() {
	summary, err := t.loop.run(t.ctx, t.loop.clock(), TriggerCron)
	if err != nil {
		t.log.Warnw("Cron pass error", logger.FieldError, err)
		return
	}
	t.log.Debugw("Cron pass finished", logger.FieldCount, summary.ProcessedJobs)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, logger.FieldError, err)...)
}
