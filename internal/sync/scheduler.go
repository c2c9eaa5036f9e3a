package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultSchedule polls twice a day.
const DefaultSchedule = "@every 12h"

// Runner performs one sync pass.
type Runner interface {
	RunOnce(ctx context.Context) (Report, error)
}

// Scheduler runs a Runner on a cron schedule. A run that is still going when
// the next one is due causes that next run to be skipped, so passes never
// overlap.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	logger   cron.Logger
	job      cron.Job
	ctx      context.Context
}

// NewScheduler parses spec, a standard five-field cron expression or a
// descriptor such as "@every 12h" or "@daily".
func NewScheduler(spec string, runner Runner) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		logger:   cron.PrintfLogger(log.StandardLogger()),
		ctx:      context.Background(),
	}
	s.job = cron.NewChain(cron.SkipIfStillRunning(s.logger)).Then(cron.FuncJob(s.run))
	return s, nil
}

// Run syncs once straight away and then on every tick until ctx is done.
// It returns after the in-flight run, if any, has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.job.Run()

	c := cron.New(cron.WithLogger(s.logger))
	c.Schedule(s.schedule, s.job)
	c.Start()
	log.Infof("Next sync at %s", s.schedule.Next(time.Now()).Format("2006-01-02 15:04:05"))

	<-ctx.Done()
	log.Info("Stopping scheduler...")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunOnce(s.ctx); err != nil {
		log.Errorf("Sync failed: %v", err)
	}
}
