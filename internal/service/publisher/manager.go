package publisher

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager is the registry of platform adapters keyed by platform name.
type Manager struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	logger     *zap.Logger
}

func NewPublishManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		logger:     logger,
	}
}

func (m *Manager) RegisterPublisher(publisher Publisher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	platformName := publisher.GetPlatformName()
	if _, exists := m.publishers[platformName]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platformName)
	}

	m.publishers[platformName] = publisher
	m.logger.Info("Publisher registered",
		zap.String("platform", platformName),
		zap.Bool("media", publisher.SupportsMedia()))
	return nil
}

// GetPublisher returns the adapter for platformName or an
// unsupported_platform error.
func (m *Manager) GetPublisher(platformName string) (Publisher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publisher, exists := m.publishers[platformName]
	if !exists {
		return nil, NewError(KindUnsupportedPlatform, "no publisher registered for platform %q", platformName)
	}
	return publisher, nil
}

// Platforms returns the registered platform names in sorted order.
func (m *Manager) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.publishers))
	for name := range m.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
