// Package sweep runs periodic expiry passes over in-memory stores on a
// cron schedule.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper drops entries that have expired as of now and reports how many
// were removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

type SweeperFunc func(now time.Time) int

func (f SweeperFunc) Sweep(now time.Time) int {
	return f(now)
}

// Parser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as "@every 1m".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	now    func() time.Time
}

// NewScheduler creates a stopped scheduler. A nil location means UTC.
func NewScheduler(logger *zap.Logger, location *time.Location) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}

	cronLogger := NewZapCronLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithParser(Parser),
			cron.WithLocation(location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
		now:    time.Now,
	}
}

// Add schedules sw under spec. name only labels log lines.
func (s *Scheduler) Add(spec, name string, sw Sweeper) error {
	_, err := s.cron.AddJob(spec, &sweepJob{scheduler: s, name: name, sweeper: sw})
	if err != nil {
		return fmt.Errorf("scheduling sweep %s at %q: %w", name, spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents further runs. The returned context is done once any
// running sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

type sweepJob struct {
	scheduler *Scheduler
	name      string
	sweeper   Sweeper
}

func (j *sweepJob) Run() {
	removed := j.sweeper.Sweep(j.scheduler.now())
	j.scheduler.logger.Debug("Sweep finished",
		zap.String("sweep", j.name),
		zap.Int("removed", removed),
	)
}

// ZapCronLogger adapts a zap.Logger to implement the cron.Logger interface
type ZapCronLogger struct {
	logger *zap.Logger
}

func NewZapCronLogger(logger *zap.Logger) *ZapCronLogger {
	return &ZapCronLogger{logger: logger}
}

// Info logs cron's routine chatter at debug level.
func (z *ZapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Debug(msg, fields(keysAndValues)...)
}

func (z *ZapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			out = append(out, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return out
}
