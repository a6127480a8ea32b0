package service

import (
	"go.uber.org/zap"

	"github.com/educlopez/airlume/internal/config"
	"github.com/educlopez/airlume/internal/service/publisher"
	"github.com/educlopez/airlume/internal/service/publisher/bluesky"
	"github.com/educlopez/airlume/internal/service/publisher/linkedin"
	"github.com/educlopez/airlume/internal/service/publisher/twitter"
)

// NewPublisherRegistry registers an adapter for every enabled platform.
func NewPublisherRegistry(cfg *config.PublisherConfig, logger *zap.Logger) (*publisher.Manager, error) {
	manager := publisher.NewPublishManager(logger)
	timeout := config.Duration(cfg.Timeout)

	var publishers []publisher.Publisher

	if cfg.Twitter.Enabled {
		publishers = append(publishers, twitter.NewTwitterPublisher(twitter.Config{
			BaseURL:        cfg.Twitter.BaseURL,
			UploadURL:      cfg.Twitter.UploadURL,
			MediaEnabled:   cfg.Twitter.MediaEnabled,
			ConsumerKey:    cfg.Twitter.ConsumerKey,
			ConsumerSecret: cfg.Twitter.ConsumerSecret,
			Timeout:        timeout,
		}, logger))
	}

	if cfg.Bluesky.Enabled {
		publishers = append(publishers, bluesky.NewBlueskyPublisher(bluesky.Config{
			ServiceURL: cfg.Bluesky.ServiceURL,
			Timeout:    timeout,
		}, logger))
	}

	if cfg.LinkedIn.Enabled {
		publishers = append(publishers, linkedin.NewLinkedInPublisher(linkedin.Config{
			BaseURL: cfg.LinkedIn.BaseURL,
			Timeout: timeout,
		}, logger))
	}

	for _, p := range publishers {
		if err := manager.RegisterPublisher(p); err != nil {
			return nil, err
		}
	}

	if len(publishers) == 0 {
		logger.Warn("No publishers enabled, every publish request will fail as unsupported_platform")
	}

	return manager, nil
}
