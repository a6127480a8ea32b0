package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/config"
)

// Ticker runs one dispatch pass.
type Ticker interface {
	RunTick(ctx context.Context) (*TickSummary, error)
}

// Scheduler is the in-process trigger. Deployments that use an external
// cron call the dispatch endpoint or command instead and disable it.
type Scheduler struct {
	config     *config.SchedulerConfig
	logger     *zap.Logger
	dispatcher Ticker
	ticker     *time.Ticker
	stopCh     chan struct{}
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, dispatcher Ticker) *Scheduler {
	return &Scheduler{
		config:     cfg,
		logger:     logger,
		dispatcher: dispatcher,
		stopCh:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.Interval)
	if err != nil {
		s.logger.Error("Invalid dispatch interval", zap.String("interval", s.config.Interval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("interval", s.config.Interval))

	s.ticker = time.NewTicker(interval)

	go func() {
		s.logger.Info("Running initial dispatch")
		s.runTick(ctx)

		for {
			select {
			case <-s.ticker.C:
				s.runTick(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runTick(ctx context.Context) {
	summary, err := s.dispatcher.RunTick(ctx)
	if err != nil {
		s.logger.Error("Scheduled dispatch failed", zap.Error(err))
		return
	}

	s.logger.Debug("Scheduled dispatch completed",
		zap.Int("claimed", summary.Claimed),
		zap.Duration("duration", summary.Duration))
}
