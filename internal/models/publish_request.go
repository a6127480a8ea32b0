package models

import (
	"errors"
	"fmt"
	"time"
)

type PublishStatus string

const (
	PublishStatusQueue PublishStatus = "queue"
	// PublishStatusInProgress marks a row claimed by a dispatcher run.
	PublishStatusInProgress PublishStatus = "in_progress"
	PublishStatusSent       PublishStatus = "sent"
	PublishStatusFailed     PublishStatus = "failed"
)

func (s PublishStatus) Terminal() bool {
	return s == PublishStatusSent || s == PublishStatusFailed
}

func (s PublishStatus) Valid() bool {
	switch s {
	case PublishStatusQueue, PublishStatusInProgress, PublishStatusSent, PublishStatusFailed:
		return true
	}
	return false
}

var ErrInvalidPublishRequest = errors.New("invalid publish request")

// PublishRequest is one intended publish of a Generation to one platform.
type PublishRequest struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	GenerationID    string        `gorm:"not null;size:36;uniqueIndex:idx_generation_platform" json:"generation_id"`
	Platform        string        `gorm:"not null;size:50;uniqueIndex:idx_generation_platform" json:"platform"`
	Status          PublishStatus `gorm:"size:20;not null;default:'queue';index:idx_status_scheduled" json:"status"`
	ScheduledAt     time.Time     `gorm:"not null;index:idx_status_scheduled" json:"scheduled_at"`
	ErrorMessage    *string       `gorm:"type:text" json:"error_message"`
	PublishedPostID *string       `gorm:"size:255" json:"published_post_id"`
	Attempts        int           `gorm:"not null;default:0" json:"attempts"`
	ClaimedAt       *time.Time    `json:"claimed_at,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Validate enforces the field invariants every stored row must satisfy:
// published_post_id is set iff the row is sent, error_message iff it failed.
func (r *PublishRequest) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPublishRequest, r.Status)
	}
	if r.GenerationID == "" || r.Platform == "" {
		return fmt.Errorf("%w: generation and platform are required", ErrInvalidPublishRequest)
	}

	hasPostID := r.PublishedPostID != nil && *r.PublishedPostID != ""
	if hasPostID != (r.Status == PublishStatusSent) {
		return fmt.Errorf("%w: published_post_id must be set only when sent (status %s)", ErrInvalidPublishRequest, r.Status)
	}

	hasError := r.ErrorMessage != nil && *r.ErrorMessage != ""
	if hasError != (r.Status == PublishStatusFailed) {
		return fmt.Errorf("%w: error_message must be set only when failed (status %s)", ErrInvalidPublishRequest, r.Status)
	}

	return nil
}

// Due reports whether a queued row should be dispatched at now.
func (r *PublishRequest) Due(now time.Time) bool {
	return r.Status == PublishStatusQueue && !r.ScheduledAt.After(now)
}

// Abandoned reports whether a claimed row has been in flight past the claim timeout.
func (r *PublishRequest) Abandoned(now time.Time, claimTimeout time.Duration) bool {
	if r.Status != PublishStatusInProgress || r.ClaimedAt == nil {
		return false
	}
	return !r.ClaimedAt.After(now.Add(-claimTimeout))
}
