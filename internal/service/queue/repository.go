// Package queue stores generations and their per-platform publish requests.
//
// A request leaves the queue exactly once: dispatchers must win Claim before
// calling a platform, and terminal transitions only apply to rows that are
// still queued or claimed.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/educlopez/airlume/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPublishInFlight  = errors.New("publish already in flight")
	ErrAlreadyPublished = errors.New("already published")
	ErrGenerationSent   = errors.New("generation already sent")

	// ErrInvalidRequest wraps field validation failures at the repository boundary.
	ErrInvalidRequest = models.ErrInvalidPublishRequest
)

// DefaultClaimTimeout replaces a non-positive claim timeout. With a zero
// timeout every in_progress row would look abandoned the moment it is claimed.
const DefaultClaimTimeout = 10 * time.Minute

func claimTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultClaimTimeout
	}
	return d
}

// Repository is the publish request queue.
type Repository interface {
	// ListDue returns a snapshot of queued rows scheduled at or before now,
	// plus claimed rows whose claim is older than the claim timeout.
	ListDue(ctx context.Context, now time.Time) ([]models.PublishRequest, error)
	// Claim atomically moves a due row to in_progress. It reports false when
	// another run already claimed or finished the row.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkSent and MarkFailed are no-ops on rows that are already terminal.
	MarkSent(ctx context.Context, id, externalPostID string) error
	MarkFailed(ctx context.Context, id, message string) error
	// Cancel removes a row that no dispatcher has claimed.
	Cancel(ctx context.Context, generationID, platform string) error
	// Schedule creates the row for (generation, platform) or moves an
	// existing queued or failed row to the new time.
	Schedule(ctx context.Context, generationID, platform string, at time.Time) (*models.PublishRequest, error)
	Get(ctx context.Context, id string) (*models.PublishRequest, error)
	ListByGeneration(ctx context.Context, generationID string) ([]models.PublishRequest, error)
}

// GenerationStore holds the parent content records.
type GenerationStore interface {
	CreateGeneration(ctx context.Context, g *models.Generation) error
	GetGeneration(ctx context.Context, id string) (*models.Generation, error)
	// UpdateGenerationBody fails with ErrGenerationSent once the generation is sent.
	UpdateGenerationBody(ctx context.Context, id, body string) error
	SetGenerationStatus(ctx context.Context, id string, status models.GenerationStatus) error
}

// Store is implemented by both the gorm and the in-memory backends.
type Store interface {
	Repository
	GenerationStore
}

// conflictFor maps the status of a row that could not be changed to the
// error the caller should see.
func conflictFor(status models.PublishStatus) error {
	switch status {
	case models.PublishStatusInProgress:
		return ErrPublishInFlight
	case models.PublishStatusSent:
		return ErrAlreadyPublished
	}
	return nil
}
