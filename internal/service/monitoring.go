package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/educlopez/airlume/internal/models"
)

// Recorder receives operator-facing failure detail and counters.
type Recorder interface {
	RecordError(level, source, title, message string, options ...ErrorLogOption) error
	RecordMetric(name, metricType string, value float64, tags map[string]any) error
}

type nopRecorder struct{}

func (nopRecorder) RecordError(string, string, string, string, ...ErrorLogOption) error { return nil }
func (nopRecorder) RecordMetric(string, string, float64, map[string]any) error         { return nil }

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ Recorder = (*MonitoringService)(nil)

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordError stores an error log row
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	return m.db.Create(errorLog).Error
}

type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(platformName string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Platform = platformName
	}
}

// WithKind tags the log with the publish failure kind.
func WithKind(kind string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Kind = kind
	}
}

func WithGeneration(generationID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.GenerationID = &generationID
	}
}

func WithRequest(requestID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.RequestID = &requestID
	}
}

// WithContext attaches arbitrary JSON context, such as the raw platform body.
func WithContext(context map[string]any) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = datatypes.JSON(contextBytes)
		}
	}
}

// RecordMetric stores a single metric sample
func (m *MonitoringService) RecordMetric(name, metricType string, value float64, tags map[string]any) error {
	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Timestamp:  m.now(),
	}
	if tags != nil {
		if tagsBytes, err := json.Marshal(tags); err == nil {
			metric.Tags = datatypes.JSON(tagsBytes)
		}
	}

	return m.db.Create(metric).Error
}

type platformStatusCount struct {
	Platform string
	Status   string
	Count    int64
}

// UpdatePlatformStats upserts today's snapshot for every platform that has
// publish requests.
func (m *MonitoringService) UpdatePlatformStats(ctx context.Context) error {
	now := m.now()
	today := now.Truncate(24 * time.Hour)
	db := m.db.WithContext(ctx)

	var counts []platformStatusCount
	if err := db.Model(&models.PublishRequest{}).
		Select("platform, status, count(*) as count").
		Group("platform, status").
		Scan(&counts).Error; err != nil {
		return fmt.Errorf("count publish requests: %w", err)
	}

	byPlatform := make(map[string]*models.PlatformStats)
	for _, c := range counts {
		stats, ok := byPlatform[c.Platform]
		if !ok {
			stats = &models.PlatformStats{Date: today, Platform: c.Platform}
			byPlatform[c.Platform] = stats
		}
		n := int(c.Count)
		stats.TotalRequests += n
		switch models.PublishStatus(c.Status) {
		case models.PublishStatusSent:
			stats.SentRequests = n
		case models.PublishStatusFailed:
			stats.FailedRequests = n
		case models.PublishStatusQueue:
			stats.QueuedRequests = n
		case models.PublishStatusInProgress:
			stats.InFlight = n
		}
	}

	for platform, stats := range byPlatform {
		stats.LastSuccessAt = m.lastUpdate(db, platform, models.PublishStatusSent)
		stats.LastFailureAt = m.lastUpdate(db, platform, models.PublishStatusFailed)

		var errorCount int64
		db.Model(&models.ErrorLog{}).Where("platform = ? AND created_at >= ?", platform, today).Count(&errorCount)
		stats.ErrorCount = int(errorCount)

		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_requests", "sent_requests", "failed_requests", "queued_requests",
				"in_flight", "last_success_at", "last_failure_at", "error_count", "updated_at",
			}),
		}).Create(stats).Error
		if err != nil {
			return fmt.Errorf("save %s stats: %w", platform, err)
		}
	}

	return nil
}

func (m *MonitoringService) lastUpdate(db *gorm.DB, platform string, status models.PublishStatus) *time.Time {
	var req models.PublishRequest
	err := db.Where("platform = ? AND status = ?", platform, string(status)).
		Order("updated_at desc").
		First(&req).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			m.logger.Warn("Failed to load last update", zap.String("platform", platform), zap.Error(err))
		}
		return nil
	}
	return &req.UpdatedAt
}

// GetRecentErrors returns the newest error logs first
func (m *MonitoringService) GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error) {
	var errorLogs []models.ErrorLog
	err := m.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&errorLogs).Error
	return errorLogs, err
}

// GetPlatformStats returns the snapshots of the last days
func (m *MonitoringService) GetPlatformStats(ctx context.Context, days int) ([]models.PlatformStats, error) {
	var stats []models.PlatformStats
	startDate := m.now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	err := m.db.WithContext(ctx).
		Where("date >= ?", startDate).
		Order("date desc, platform").
		Find(&stats).Error
	return stats, err
}

// CleanupOldData removes samples, snapshots and resolved errors older than
// the retention window.
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) error {
	cutoffDate := m.now().AddDate(0, 0, -daysToKeep)
	db := m.db.WithContext(ctx)

	if err := db.Where("timestamp < ?", cutoffDate).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}

	if err := db.Where("date < ?", cutoffDate).Delete(&models.PlatformStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup platform stats: %w", err)
	}

	if err := db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	return nil
}
