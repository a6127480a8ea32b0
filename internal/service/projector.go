package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/models"
	"github.com/educlopez/airlume/internal/service/queue"
)

// ProjectStatus derives a generation's status from its publish requests:
// any sent row wins, then anything still pending, then all failed.
func ProjectStatus(rows []models.PublishRequest) models.GenerationStatus {
	if len(rows) == 0 {
		return models.GenerationStatusDraft
	}

	pending := false
	for _, row := range rows {
		switch row.Status {
		case models.PublishStatusSent:
			return models.GenerationStatusSent
		case models.PublishStatusQueue, models.PublishStatusInProgress:
			pending = true
		}
	}
	if pending {
		return models.GenerationStatusQueue
	}
	return models.GenerationStatusFailed
}

// Projector writes the derived status back to the generation.
type Projector struct {
	store  queue.Store
	logger *zap.Logger
}

func NewProjector(store queue.Store, logger *zap.Logger) *Projector {
	return &Projector{
		store:  store,
		logger: logger,
	}
}

func (p *Projector) Project(ctx context.Context, generationID string) (models.GenerationStatus, error) {
	rows, err := p.store.ListByGeneration(ctx, generationID)
	if err != nil {
		return "", fmt.Errorf("project generation %s: %w", generationID, err)
	}

	status := ProjectStatus(rows)

	gen, err := p.store.GetGeneration(ctx, generationID)
	if err != nil {
		return "", fmt.Errorf("project generation %s: %w", generationID, err)
	}
	if gen.Status == status {
		return status, nil
	}

	if err := p.store.SetGenerationStatus(ctx, generationID, status); err != nil {
		return "", fmt.Errorf("project generation %s: %w", generationID, err)
	}

	p.logger.Info("Generation status updated",
		zap.String("generation_id", generationID),
		zap.String("from", string(gen.Status)),
		zap.String("to", string(status)))
	return status, nil
}
