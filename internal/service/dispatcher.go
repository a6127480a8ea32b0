package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/educlopez/airlume/internal/models"
	"github.com/educlopez/airlume/internal/service/credential"
	"github.com/educlopez/airlume/internal/service/media"
	"github.com/educlopez/airlume/internal/service/publisher"
	"github.com/educlopez/airlume/internal/service/queue"
)

// CredentialSource is the read side of the credential store.
type CredentialSource interface {
	Get(ctx context.Context, ownerID, platform string) (string, error)
}

// PublisherRegistry resolves the adapter for a platform.
type PublisherRegistry interface {
	GetPublisher(platformName string) (publisher.Publisher, error)
}

// writeTimeout bounds the store writes that settle a claimed row. They run
// detached from the tick context so a cancelled request or shutdown cannot
// strand a row in_progress after the platform already accepted the post.
const writeTimeout = 10 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

type DispatcherOptions struct {
	Workers        int
	MaxClaims      int
	PublishTimeout time.Duration
	Retry          publisher.RetryPolicy
}

// Dispatcher drains due publish requests. Overlapping ticks are safe: a
// row is only published by the run that wins its claim.
type Dispatcher struct {
	store       queue.Store
	credentials CredentialSource
	publishers  PublisherRegistry
	media       media.Fetcher
	projector   *Projector
	monitor     Recorder
	clock       Clock
	logger      *zap.Logger
	opts        DispatcherOptions
}

// TickSummary reports what one dispatcher run did.
type TickSummary struct {
	Due         int           `json:"due"`
	Claimed     int           `json:"claimed"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Generations int           `json:"generations"`
	Duration    time.Duration `json:"duration"`
}

func NewDispatcher(
	store queue.Store,
	credentials CredentialSource,
	publishers PublisherRegistry,
	fetcher media.Fetcher,
	monitor Recorder,
	clock Clock,
	logger *zap.Logger,
	opts DispatcherOptions,
) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxClaims < 1 {
		opts.MaxClaims = 1
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 60 * time.Second
	}
	if monitor == nil {
		monitor = nopRecorder{}
	}
	if clock == nil {
		clock = RealClock{}
	}

	return &Dispatcher{
		store:       store,
		credentials: credentials,
		publishers:  publishers,
		media:       fetcher,
		projector:   NewProjector(store, logger),
		monitor:     monitor,
		clock:       clock,
		logger:      logger,
		opts:        opts,
	}
}

// tick holds the counters shared by the workers of one run.
type tick struct {
	mu          sync.Mutex
	summary     TickSummary
	generations map[string]struct{}
}

func (t *tick) record(fn func(s *TickSummary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.summary)
}

func (t *tick) touch(generationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generations[generationID] = struct{}{}
}

// RunTick processes every row that is due now. Per-row publish failures are
// recorded on the row; only repository failures are returned.
func (d *Dispatcher) RunTick(ctx context.Context) (*TickSummary, error) {
	start := time.Now()
	now := d.clock.Now()

	rows, err := d.store.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("dispatch tick: %w", err)
	}

	t := &tick{generations: make(map[string]struct{})}
	t.summary.Due = len(rows)

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, row := range rows {
		g.Go(func() error {
			return d.processRow(ctx, t, row, now)
		})
	}
	err = g.Wait()

	projectErr := d.projectTouched(ctx, t)
	if err == nil {
		err = projectErr
	}

	t.summary.Generations = len(t.generations)
	t.summary.Duration = time.Since(start)
	summary := t.summary

	d.logger.Info("Dispatch tick completed",
		zap.Int("due", summary.Due),
		zap.Int("claimed", summary.Claimed),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))

	if err != nil {
		return &summary, fmt.Errorf("dispatch tick: %w", err)
	}
	return &summary, nil
}

func (d *Dispatcher) projectTouched(ctx context.Context, t *tick) error {
	ids := make([]string, 0, len(t.generations))
	for id := range t.generations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx, cancel := detached(ctx)
	defer cancel()

	var firstErr error
	for _, id := range ids {
		if _, err := d.projector.Project(ctx, id); err != nil {
			d.logger.Error("Failed to project generation status",
				zap.String("generation_id", id),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) processRow(ctx context.Context, t *tick, row models.PublishRequest, now time.Time) error {
	claimed, err := d.store.Claim(ctx, row.ID, now)
	if err != nil {
		d.logger.Error("Failed to claim publish request",
			zap.String("request_id", row.ID),
			zap.Error(err))
		return err
	}
	if !claimed {
		t.record(func(s *TickSummary) { s.Skipped++ })
		return nil
	}

	t.record(func(s *TickSummary) { s.Claimed++ })
	t.touch(row.GenerationID)

	logger := d.logger.With(
		zap.String("request_id", row.ID),
		zap.String("generation_id", row.GenerationID),
		zap.String("platform", row.Platform))

	var (
		result *publisher.PublishResult
		pubErr *publisher.Error
	)
	if row.Status == models.PublishStatusInProgress {
		// Reclaimed after a crashed or stuck run
		claims := row.Attempts + 1
		logger.Warn("Reclaiming abandoned publish request", zap.Int("claims", claims))
		if claims > d.opts.MaxClaims {
			pubErr = publisher.NewError(publisher.KindNetworkError, "publish abandoned after %d claims", row.Attempts)
		}
	}
	if pubErr == nil {
		result, pubErr = d.publish(ctx, logger, row)
	}

	if pubErr != nil {
		return d.fail(ctx, t, logger, row, pubErr)
	}
	return d.succeed(ctx, t, logger, row, result)
}

func (d *Dispatcher) succeed(ctx context.Context, t *tick, logger *zap.Logger, row models.PublishRequest, result *publisher.PublishResult) error {
	writeCtx, cancel := detached(ctx)
	defer cancel()

	if err := d.store.MarkSent(writeCtx, row.ID, result.ExternalPostID); err != nil {
		// The post is live but the row is still claimed
		logger.Error("Failed to mark request sent",
			zap.String("external_post_id", result.ExternalPostID),
			zap.Error(err))
		return err
	}

	t.record(func(s *TickSummary) { s.Sent++ })
	logger.Info("Publish request sent", zap.String("external_post_id", result.ExternalPostID))

	if err := d.monitor.RecordMetric("publish_success", "counter", 1, map[string]any{
		"platform": row.Platform,
	}); err != nil {
		logger.Warn("Failed to record metric", zap.Error(err))
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, t *tick, logger *zap.Logger, row models.PublishRequest, pubErr *publisher.Error) error {
	writeCtx, cancel := detached(ctx)
	defer cancel()

	message := pubErr.RowMessage()
	if err := d.store.MarkFailed(writeCtx, row.ID, message); err != nil {
		logger.Error("Failed to mark request failed",
			zap.String("error_message", message),
			zap.Error(err))
		return err
	}

	t.record(func(s *TickSummary) { s.Failed++ })
	logger.Warn("Publish request failed",
		zap.String("kind", string(pubErr.Kind)),
		zap.String("error_message", message))

	if err := d.monitor.RecordMetric("publish_failure", "counter", 1, map[string]any{
		"platform": row.Platform,
		"kind":     string(pubErr.Kind),
	}); err != nil {
		logger.Warn("Failed to record metric", zap.Error(err))
	}

	errCtx := map[string]any{
		"attempts": row.Attempts + 1,
		"status":   pubErr.Status,
	}
	if pubErr.Body != "" {
		errCtx["body"] = pubErr.Body
	}
	if err := d.monitor.RecordError("ERROR", "dispatcher",
		fmt.Sprintf("Failed to publish to %s", row.Platform), message,
		WithPlatform(row.Platform),
		WithKind(string(pubErr.Kind)),
		WithGeneration(row.GenerationID),
		WithRequest(row.ID),
		WithContext(errCtx)); err != nil {
		logger.Warn("Failed to record error log", zap.Error(err))
	}
	return nil
}

// publish resolves everything the adapter needs and calls it under the retry
// policy. Every failure comes back classified.
func (d *Dispatcher) publish(ctx context.Context, logger *zap.Logger, row models.PublishRequest) (*publisher.PublishResult, *publisher.Error) {
	gen, err := d.store.GetGeneration(ctx, row.GenerationID)
	if err != nil {
		return nil, publisher.NewError(publisher.KindNetworkError, "load generation: %v", err)
	}

	adapter, err := d.publishers.GetPublisher(row.Platform)
	if err != nil {
		return nil, publisher.AsError(err)
	}

	secret, err := d.credentials.Get(ctx, gen.OwnerID, row.Platform)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return nil, publisher.NewError(publisher.KindCredentialMissing, "no %s credential connected for this account", row.Platform)
	case errors.Is(err, credential.ErrDecryption):
		return nil, publisher.NewError(publisher.KindCredentialInvalid, "stored %s credential could not be decrypted", row.Platform)
	case err != nil:
		return nil, publisher.NewError(publisher.KindNetworkError, "load credential: %v", err)
	}
	creds := publisher.ParseCredentials(secret)

	content := publisher.PublishContent{Text: gen.Body}
	if gen.HasImage() {
		if adapter.SupportsMedia() {
			image, pubErr := d.fetchImage(ctx, gen)
			if pubErr != nil {
				return nil, pubErr
			}
			content.Image = image
		} else {
			logger.Warn("Platform does not support media, publishing text only")
		}
	}

	var result *publisher.PublishResult
	attempts, err := d.opts.Retry.Do(ctx, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
		defer cancel()

		res, err := adapter.Publish(publishCtx, content, creds)
		if err != nil {
			return err
		}
		if res == nil || res.ExternalPostID == "" {
			return publisher.NewError(publisher.KindUnknownPlatformResponse, "adapter returned no post id")
		}
		result = res
		return nil
	})
	if err != nil {
		logger.Debug("Publish attempts exhausted", zap.Int("attempts", attempts), zap.Error(err))
		return nil, publisher.AsError(err)
	}
	return result, nil
}

func (d *Dispatcher) fetchImage(ctx context.Context, gen *models.Generation) (*publisher.Image, *publisher.Error) {
	if d.media == nil {
		return nil, publisher.NewError(publisher.KindMediaUnavailable, "no media fetcher configured")
	}

	obj, err := d.media.Fetch(ctx, gen.ImageRef)
	if err != nil {
		return nil, publisher.NewError(publisher.KindMediaUnavailable, "%v", err)
	}
	return &publisher.Image{
		Data:        obj.Data,
		ContentType: obj.ContentType,
		AltText:     gen.ImageAlt,
		Width:       obj.Width,
		Height:      obj.Height,
	}, nil
}
