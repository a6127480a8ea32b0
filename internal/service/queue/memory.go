package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/educlopez/airlume/internal/models"
)

// MemoryRepository is an in-process Store used by tests and the dry-run
// dispatch command. All methods return copies.
type MemoryRepository struct {
	mu           sync.Mutex
	claimTimeout time.Duration
	generations  map[string]models.Generation
	requests     map[string]models.PublishRequest
}

var _ Store = (*MemoryRepository)(nil)

func NewMemoryRepository(claimTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		claimTimeout: claimTimeoutOrDefault(claimTimeout),
		generations:  make(map[string]models.Generation),
		requests:     make(map[string]models.PublishRequest),
	}
}

func (m *MemoryRepository) due(req models.PublishRequest, now time.Time) bool {
	return req.Due(now) || req.Abandoned(now, m.claimTimeout)
}

func (m *MemoryRepository) ListDue(_ context.Context, now time.Time) ([]models.PublishRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []models.PublishRequest
	for _, req := range m.requests {
		if m.due(req, now) {
			rows = append(rows, req)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ScheduledAt.Before(rows[j].ScheduledAt)
	})
	return rows, nil
}

func (m *MemoryRepository) Claim(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok || !m.due(req, now) {
		return false, nil
	}

	claimedAt := now.UTC()
	req.Status = models.PublishStatusInProgress
	req.ClaimedAt = &claimedAt
	req.Attempts++
	req.UpdatedAt = claimedAt
	m.requests[id] = req
	return true, nil
}

func (m *MemoryRepository) MarkSent(_ context.Context, id, externalPostID string) error {
	if externalPostID == "" {
		return fmt.Errorf("%w: sent request needs a published post id", models.ErrInvalidPublishRequest)
	}
	return m.finish(id, func(req *models.PublishRequest) {
		req.Status = models.PublishStatusSent
		req.PublishedPostID = &externalPostID
		req.ErrorMessage = nil
	})
}

func (m *MemoryRepository) MarkFailed(_ context.Context, id, message string) error {
	if message == "" {
		return fmt.Errorf("%w: failed request needs an error message", models.ErrInvalidPublishRequest)
	}
	return m.finish(id, func(req *models.PublishRequest) {
		req.Status = models.PublishStatusFailed
		req.ErrorMessage = &message
		req.PublishedPostID = nil
	})
}

func (m *MemoryRepository) finish(id string, apply func(*models.PublishRequest)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status.Terminal() {
		return nil
	}

	apply(&req)
	req.ClaimedAt = nil
	req.UpdatedAt = time.Now().UTC()
	m.requests[id] = req
	return nil
}

func (m *MemoryRepository) Cancel(_ context.Context, generationID, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.findLocked(generationID, platform)
	if !ok {
		return ErrNotFound
	}
	if conflict := conflictFor(req.Status); conflict != nil {
		return conflict
	}
	delete(m.requests, req.ID)
	return nil
}

func (m *MemoryRepository) Schedule(_ context.Context, generationID, platform string, at time.Time) (*models.PublishRequest, error) {
	if generationID == "" || platform == "" {
		return nil, fmt.Errorf("%w: generation and platform are required", models.ErrInvalidPublishRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.generations[generationID]; !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	req, ok := m.findLocked(generationID, platform)
	if ok {
		if conflict := conflictFor(req.Status); conflict != nil {
			return nil, conflict
		}
	} else {
		req = models.PublishRequest{
			ID:           uuid.NewString(),
			GenerationID: generationID,
			Platform:     platform,
			CreatedAt:    now,
		}
	}

	req.Status = models.PublishStatusQueue
	req.ScheduledAt = at.UTC()
	req.ErrorMessage = nil
	req.PublishedPostID = nil
	req.ClaimedAt = nil
	req.Attempts = 0
	req.UpdatedAt = now
	m.requests[req.ID] = req

	out := req
	return &out, nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*models.PublishRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (m *MemoryRepository) ListByGeneration(_ context.Context, generationID string) ([]models.PublishRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []models.PublishRequest
	for _, req := range m.requests {
		if req.GenerationID == generationID {
			rows = append(rows, req)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Platform < rows[j].Platform
	})
	return rows, nil
}

func (m *MemoryRepository) findLocked(generationID, platform string) (models.PublishRequest, bool) {
	for _, req := range m.requests {
		if req.GenerationID == generationID && req.Platform == platform {
			return req, true
		}
	}
	return models.PublishRequest{}, false
}

func (m *MemoryRepository) CreateGeneration(_ context.Context, g *models.Generation) error {
	if g.OwnerID == "" || strings.TrimSpace(g.Body) == "" {
		return fmt.Errorf("%w: generation needs an owner and a body", models.ErrInvalidPublishRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if _, exists := m.generations[g.ID]; exists {
		return fmt.Errorf("create generation: duplicate id %s", g.ID)
	}
	if g.Status == "" {
		g.Status = models.GenerationStatusDraft
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now

	stored := *g
	stored.Requests = nil
	m.generations[g.ID] = stored
	return nil
}

func (m *MemoryRepository) GetGeneration(_ context.Context, id string) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *MemoryRepository) UpdateGenerationBody(_ context.Context, id, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: body must not be empty", models.ErrInvalidPublishRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.generations[id]
	if !ok {
		return ErrNotFound
	}
	if g.Status == models.GenerationStatusSent {
		return ErrGenerationSent
	}
	g.Body = body
	g.UpdatedAt = time.Now().UTC()
	m.generations[id] = g
	return nil
}

func (m *MemoryRepository) SetGenerationStatus(_ context.Context, id string, status models.GenerationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.generations[id]
	if !ok {
		return ErrNotFound
	}
	g.Status = status
	g.UpdatedAt = time.Now().UTC()
	m.generations[id] = g
	return nil
}
