package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/educlopez/airlume/internal/models"
)

// GormRepository is the database-backed Store.
type GormRepository struct {
	db           *gorm.DB
	claimTimeout time.Duration
}

var _ Store = (*GormRepository)(nil)

func NewGormRepository(db *gorm.DB, claimTimeout time.Duration) *GormRepository {
	return &GormRepository{
		db:           db,
		claimTimeout: claimTimeoutOrDefault(claimTimeout),
	}
}

const dueCondition = "(status = ? AND scheduled_at <= ?) OR (status = ? AND claimed_at <= ?)"

func (r *GormRepository) dueArgs(now time.Time) []any {
	now = now.UTC()
	return []any{
		string(models.PublishStatusQueue), now,
		string(models.PublishStatusInProgress), now.Add(-r.claimTimeout),
	}
}

func (r *GormRepository) ListDue(ctx context.Context, now time.Time) ([]models.PublishRequest, error) {
	var rows []models.PublishRequest
	err := r.db.WithContext(ctx).
		Where(dueCondition, r.dueArgs(now)...).
		Order("scheduled_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list due requests: %w", err)
	}
	return rows, nil
}

func (r *GormRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	args := append([]any{id}, r.dueArgs(now)...)
	result := r.db.WithContext(ctx).
		Model(&models.PublishRequest{}).
		Where("id = ? AND ("+dueCondition+")", args...).
		Updates(map[string]any{
			"status":     string(models.PublishStatusInProgress),
			"claimed_at": now.UTC(),
			"attempts":   gorm.Expr("attempts + ?", 1),
		})
	if result.Error != nil {
		return false, fmt.Errorf("claim request %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormRepository) MarkSent(ctx context.Context, id, externalPostID string) error {
	if externalPostID == "" {
		return fmt.Errorf("%w: sent request needs a published post id", models.ErrInvalidPublishRequest)
	}
	return r.finish(ctx, id, map[string]any{
		"status":            string(models.PublishStatusSent),
		"published_post_id": externalPostID,
		"error_message":     nil,
		"claimed_at":        nil,
	})
}

func (r *GormRepository) MarkFailed(ctx context.Context, id, message string) error {
	if message == "" {
		return fmt.Errorf("%w: failed request needs an error message", models.ErrInvalidPublishRequest)
	}
	return r.finish(ctx, id, map[string]any{
		"status":            string(models.PublishStatusFailed),
		"error_message":     message,
		"published_post_id": nil,
		"claimed_at":        nil,
	})
}

func (r *GormRepository) finish(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.PublishRequest{}).
		Where("id = ? AND status IN ?", id, []string{
			string(models.PublishStatusQueue),
			string(models.PublishStatusInProgress),
		}).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update request %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Already terminal rows are left untouched
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

func (r *GormRepository) Cancel(ctx context.Context, generationID, platform string) error {
	result := r.db.WithContext(ctx).
		Where("generation_id = ? AND platform = ? AND status IN ?", generationID, platform, []string{
			string(models.PublishStatusQueue),
			string(models.PublishStatusFailed),
		}).
		Delete(&models.PublishRequest{})
	if result.Error != nil {
		return fmt.Errorf("cancel request: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	existing, err := r.find(ctx, generationID, platform)
	if err != nil {
		return err
	}
	if conflict := conflictFor(existing.Status); conflict != nil {
		return conflict
	}
	return fmt.Errorf("cancel request: unexpected status %s", existing.Status)
}

func (r *GormRepository) Schedule(ctx context.Context, generationID, platform string, at time.Time) (*models.PublishRequest, error) {
	if generationID == "" || platform == "" {
		return nil, fmt.Errorf("%w: generation and platform are required", models.ErrInvalidPublishRequest)
	}
	if _, err := r.GetGeneration(ctx, generationID); err != nil {
		return nil, err
	}

	at = at.UTC()
	existing, err := r.find(ctx, generationID, platform)
	switch {
	case errors.Is(err, ErrNotFound):
		req := &models.PublishRequest{
			ID:           uuid.NewString(),
			GenerationID: generationID,
			Platform:     platform,
			Status:       models.PublishStatusQueue,
			ScheduledAt:  at,
		}
		if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, ErrPublishInFlight
			}
			return nil, fmt.Errorf("create request: %w", err)
		}
		return req, nil
	case err != nil:
		return nil, err
	}

	if conflict := conflictFor(existing.Status); conflict != nil {
		return nil, conflict
	}

	result := r.db.WithContext(ctx).
		Model(&models.PublishRequest{}).
		Where("id = ? AND status IN ?", existing.ID, []string{
			string(models.PublishStatusQueue),
			string(models.PublishStatusFailed),
		}).
		Updates(map[string]any{
			"status":            string(models.PublishStatusQueue),
			"scheduled_at":      at,
			"error_message":     nil,
			"published_post_id": nil,
			"claimed_at":        nil,
			"attempts":          0,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("reschedule request: %w", result.Error)
	}

	updated, err := r.Get(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		// Claimed between the read and the update
		if conflict := conflictFor(updated.Status); conflict != nil {
			return nil, conflict
		}
	}
	return updated, nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*models.PublishRequest, error) {
	var req models.PublishRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return &req, nil
}

func (r *GormRepository) ListByGeneration(ctx context.Context, generationID string) ([]models.PublishRequest, error) {
	var rows []models.PublishRequest
	err := r.db.WithContext(ctx).
		Where("generation_id = ?", generationID).
		Order("platform ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list requests for generation %s: %w", generationID, err)
	}
	return rows, nil
}

func (r *GormRepository) find(ctx context.Context, generationID, platform string) (*models.PublishRequest, error) {
	var req models.PublishRequest
	err := r.db.WithContext(ctx).
		Where("generation_id = ? AND platform = ?", generationID, platform).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}
	return &req, nil
}

func (r *GormRepository) CreateGeneration(ctx context.Context, g *models.Generation) error {
	if g.OwnerID == "" || strings.TrimSpace(g.Body) == "" {
		return fmt.Errorf("%w: generation needs an owner and a body", models.ErrInvalidPublishRequest)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GenerationStatusDraft
	}
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	return nil
}

func (r *GormRepository) GetGeneration(ctx context.Context, id string) (*models.Generation, error) {
	var g models.Generation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation %s: %w", id, err)
	}
	return &g, nil
}

func (r *GormRepository) UpdateGenerationBody(ctx context.Context, id, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: body must not be empty", models.ErrInvalidPublishRequest)
	}
	result := r.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ? AND status <> ?", id, string(models.GenerationStatusSent)).
		Update("body", body)
	if result.Error != nil {
		return fmt.Errorf("update generation %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetGeneration(ctx, id); err != nil {
		return err
	}
	return ErrGenerationSent
}

func (r *GormRepository) SetGenerationStatus(ctx context.Context, id string, status models.GenerationStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Generation{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return fmt.Errorf("set generation %s status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
