package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/metrics"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	maxBackoff     = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id int64) error
	MarkFailedTx(tx *gorm.DB, id int64, err error) error
	MarkTerminalTx(tx *gorm.DB, id int64, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	Metrics          *metrics.OutboxMetrics
	PublisherFactory publisherFactory
}

// Service drains outbox_events to Pub/Sub. Rows are claimed with SKIP LOCKED
// so several publishers can run side by side.
type Service struct {
	logg     *logger.Logger
	db       dbClient
	pubsub   pubSubClient
	repo     outboxRepository
	registry registryResolver
	metrics  *metrics.OutboxMetrics
	factory  publisherFactory
	cfg      config.OutboxConfig

	mu         sync.Mutex
	publishers map[string]publisher
	jitter     *rand.Rand
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config.Outbox
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}

	s := &Service{
		logg:       params.Logger,
		db:         params.DB,
		pubsub:     params.PubSub,
		repo:       params.Repository,
		registry:   params.Registry,
		metrics:    params.Metrics,
		factory:    params.PublisherFactory,
		cfg:        cfg,
		publishers: map[string]publisher{},
		jitter:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.factory == nil {
		s.factory = s.gcpPublisher
	}
	return s, nil
}

func (s *Service) pollInterval() time.Duration {
	return time.Duration(s.cfg.PollIntervalMS) * time.Millisecond
}

// Run polls until ctx is cancelled. A failed batch backs off exponentially up
// to maxBackoff; a full batch is followed immediately by the next one.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	defer s.stopPublishers()

	base := s.pollInterval()
	wait := base
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = nextBackoff(wait, base, maxBackoff)
		case processed:
			wait = base
			continue
		default:
			wait = base
		}
		if err := sleep(ctx, wait+s.nextJitter()); err != nil {
			return err
		}
	}
}

type outcome string

const (
	outcomePublished outcome = metrics.OutboxPublished
	outcomeRetry     outcome = metrics.OutboxRetried
	outcomePark      outcome = metrics.OutboxParked
)

// processBatch claims one batch inside a transaction and settles every row
// before committing. It reports whether any rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.cfg.BatchSize, s.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		s.metrics.Batch(claimed)
		for _, event := range events {
			if err := s.settle(ctx, tx, event, s.dispatch(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

type dispatchResult struct {
	outcome outcome
	err     error
	fields  map[string]any
}

// dispatch resolves and publishes one row and decides what happens to it.
func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) dispatchResult {
	fields := map[string]any{
		"outbox_id":      event.ID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
	}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return dispatchResult{outcomePark, err, fields}
	}
	fields["topic"] = resolved.Descriptor.Topic
	fields["event_id"] = resolved.Envelope.EventID

	err = s.publish(ctx, event, resolved)
	switch {
	case err == nil:
		return dispatchResult{outcomePublished, nil, fields}
	case errors.As(err, new(registry.NonRetryableError)):
		return dispatchResult{outcomePark, err, fields}
	case event.AttemptCount+1 >= s.cfg.MaxAttempts:
		return dispatchResult{outcomePark, fmt.Errorf("max publish attempts reached: %w", err), fields}
	default:
		fields["attempt_count"] = event.AttemptCount + 1
		return dispatchResult{outcomeRetry, err, fields}
	}
}

// settle records the dispatch result on the row. Parked rows keep their
// payload and last_error; resetting attempt_count replays them.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, res dispatchResult) error {
	s.metrics.Dispatched(string(event.EventType), string(res.outcome))
	ctx = s.logg.WithFields(ctx, res.fields)
	pubErr := res.err

	switch res.outcome {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %d: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
			return fmt.Errorf("mark failure %d: %w", event.ID, err)
		}
	case outcomePark:
		s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox event parked")
		if err := s.repo.MarkTerminalTx(tx, event.ID, pubErr, s.cfg.MaxAttempts); err != nil {
			return fmt.Errorf("mark terminal %d: %w", event.ID, err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if actor := resolved.Envelope.Actor; actor != nil {
		attrs["actor_kind"] = actor.Kind
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{Data: event.Payload, Attributes: attrs})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// publisherFor caches one publisher per topic for the life of the service.
func (s *Service) publisherFor(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.factory(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

func (s *Service) stopPublishers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		if p, ok := pub.(*gcpPublisher); ok {
			p.Stop()
		}
		delete(s.publishers, topic)
	}
}

func (s *Service) nextJitter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.jitter.Int63n(int64(jitterWindow)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func (s *Service) gcpPublisher(topic string) publisher {
	p := s.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
