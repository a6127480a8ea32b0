package models

import (
	"time"

	"gorm.io/datatypes"
)

// PlatformStats is a daily per-platform snapshot of publish outcomes.
type PlatformStats struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Date           time.Time  `gorm:"not null;uniqueIndex:idx_stats_date_platform" json:"date"`
	Platform       string     `gorm:"size:50;not null;uniqueIndex:idx_stats_date_platform" json:"platform"`
	TotalRequests  int        `gorm:"default:0" json:"total_requests"`
	SentRequests   int        `gorm:"default:0" json:"sent_requests"`
	FailedRequests int        `gorm:"default:0" json:"failed_requests"`
	QueuedRequests int        `gorm:"default:0" json:"queued_requests"`
	InFlight       int        `gorm:"default:0" json:"in_flight"`
	LastSuccessAt  *time.Time `json:"last_success_at"`
	LastFailureAt  *time.Time `json:"last_failure_at"`
	ErrorCount     int        `gorm:"default:0" json:"error_count"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrorLog keeps operator-facing detail for failures, including raw platform
// responses that could not be parsed.
type ErrorLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Level        string         `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN, INFO
	Source       string         `gorm:"size:100;not null;index" json:"source"` // dispatcher, scheduler, credential
	Platform     string         `gorm:"size:50;index" json:"platform"`
	Kind         string         `gorm:"size:50;index" json:"kind"`
	GenerationID *string        `gorm:"size:36;index" json:"generation_id"`
	RequestID    *string        `gorm:"size:36;index" json:"request_id"`
	Title        string         `gorm:"size:500;not null" json:"title"`
	Message      string         `gorm:"type:text;not null" json:"message"`
	Context      datatypes.JSON `json:"context"`
	Resolved     bool           `gorm:"default:false;index" json:"resolved"`
	ResolvedAt   *time.Time     `json:"resolved_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// MetricsSample is a single recorded metric value.
type MetricsSample struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	MetricName string         `gorm:"size:100;not null;index" json:"metric_name"`
	MetricType string         `gorm:"size:50;not null" json:"metric_type"` // gauge, counter
	Value      float64        `gorm:"not null" json:"value"`
	Tags       datatypes.JSON `json:"tags"`
	Timestamp  time.Time      `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// All returns every model managed by AutoMigrate.
func All() []any {
	return []any{
		&Generation{},
		&PublishRequest{},
		&Credential{},
		&PlatformStats{},
		&ErrorLog{},
		&MetricsSample{},
	}
}
