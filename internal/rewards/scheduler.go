package rewards

import (
	"context"
	"fmt"
	"time"

	"compensation-engine/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RankSweeper re-evaluates the rank of every active user.
type RankSweeper interface {
	SweepRanks(ctx context.Context, batchSize int) (int, error)
}

// Scheduler triggers the periodic batches. The monthly leadership and club
// bonus runs work on the previous month; the rank sweep runs daily.
type Scheduler struct {
	cron      *cron.Cron
	service   *Service
	sweeper   RankSweeper
	batchSize int
	log       *logrus.Logger
	ctx       context.Context
}

func NewScheduler(cfg config.SchedulerConfig, service *Service, sweeper RankSweeper, log *logrus.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	logger := cron.PrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		service:   service,
		sweeper:   sweeper,
		batchSize: cfg.BatchSize,
		log:       log,
		ctx:       context.Background(),
	}

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"monthly-generate", cfg.MonthlyGenerateSpec, s.generate},
		{"monthly-process", cfg.MonthlyProcessSpec, s.process},
		{"club-bonus", cfg.ClubBonusSpec, s.club},
		{"rank-sweep", cfg.RankSweepSpec, s.sweep},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.spec, job.name, err)
		}
		log.WithFields(logrus.Fields{
			"job":      job.name,
			"schedule": job.spec,
			"timezone": loc.String(),
		}).Info("job scheduled")
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) period() Period {
	return PreviousMonth(time.Now().In(s.cron.Location()))
}

func (s *Scheduler) generate() {
	period := s.period()
	if _, err := s.service.Generate(s.ctx, period); err != nil {
		s.log.WithFields(logrus.Fields{
			"period": period.String(),
			"error":  err,
		}).Error("monthly reward generation failed")
	}
}

// process also generates, so a missed generation run does not skip a month.
func (s *Scheduler) process() {
	period := s.period()
	if _, err := s.service.Generate(s.ctx, period); err != nil {
		s.log.WithFields(logrus.Fields{
			"period": period.String(),
			"error":  err,
		}).Error("monthly reward generation failed")
		return
	}
	if _, err := s.service.Process(s.ctx, period); err != nil {
		s.log.WithFields(logrus.Fields{
			"period": period.String(),
			"error":  err,
		}).Error("monthly reward processing failed")
	}
}

func (s *Scheduler) club() {
	period := s.period()
	if _, err := s.service.GenerateClub(s.ctx, period); err != nil {
		s.log.WithFields(logrus.Fields{
			"period": period.String(),
			"error":  err,
		}).Error("club bonus generation failed")
		return
	}
	if _, err := s.service.Process(s.ctx, period); err != nil {
		s.log.WithFields(logrus.Fields{
			"period": period.String(),
			"error":  err,
		}).Error("club bonus processing failed")
	}
}

func (s *Scheduler) sweep() {
	if _, err := s.sweeper.SweepRanks(s.ctx, s.batchSize); err != nil {
		s.log.WithError(err).Error("rank sweep failed")
	}
}
