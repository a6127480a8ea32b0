package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StatsUpdater handles periodic statistics updates
type StatsUpdater struct {
	monitoringService *MonitoringService
	logger            *zap.Logger
	retentionDays     int
	ticker            *time.Ticker
	done              chan bool
}

func NewStatsUpdater(monitoringService *MonitoringService, logger *zap.Logger, interval time.Duration, retentionDays int) *StatsUpdater {
	return &StatsUpdater{
		monitoringService: monitoringService,
		logger:            logger,
		retentionDays:     retentionDays,
		ticker:            time.NewTicker(interval),
		done:              make(chan bool),
	}
}

// Start begins the periodic stats update process
func (s *StatsUpdater) Start(ctx context.Context) {
	go func() {
		s.logger.Info("Starting stats updater")
		for {
			select {
			case <-s.done:
				s.logger.Info("Stats updater stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped due to context cancellation")
				return
			case <-s.ticker.C:
				s.updateStats(ctx)
			}
		}
	}()
}

func (s *StatsUpdater) Stop() {
	s.ticker.Stop()
	close(s.done)
}

func (s *StatsUpdater) updateStats(ctx context.Context) {
	s.logger.Debug("Updating statistics")

	if err := s.monitoringService.UpdatePlatformStats(ctx); err != nil {
		s.logger.Error("Failed to update platform stats", zap.Error(err))
	}

	if s.retentionDays > 0 {
		if err := s.monitoringService.CleanupOldData(ctx, s.retentionDays); err != nil {
			s.logger.Error("Failed to cleanup old data", zap.Error(err))
		}
	}

	s.logger.Debug("Statistics updated successfully")
}
