package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/internal/models"
	"github.com/noah-isme/memoire-api/pkg/jobs"
)

// NotificationSink delivers one event to the notification collaborator.
type NotificationSink interface {
	Publish(ctx context.Context, event models.NotificationEvent) error
}

// RedisNotificationSink publishes JSON events on a Redis pub/sub channel.
type RedisNotificationSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotificationSink builds a sink on channel.
func NewRedisNotificationSink(client redis.UniversalClient, channel string) *RedisNotificationSink {
	return &RedisNotificationSink{client: client, channel: channel}
}

// Publish implements NotificationSink.
func (s *RedisNotificationSink) Publish(ctx context.Context, event models.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogNotificationSink writes events to the log. Used when Redis is disabled.
type LogNotificationSink struct {
	logger *zap.Logger
}

// NewLogNotificationSink builds a log-only sink.
func NewLogNotificationSink(logger *zap.Logger) *LogNotificationSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSink{logger: logger}
}

// Publish implements NotificationSink.
func (s *LogNotificationSink) Publish(_ context.Context, event models.NotificationEvent) error {
	s.logger.Info("notification",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Strings("recipients", event.Recipients),
	)
	return nil
}

// NotificationServiceConfig tunes the dispatcher.
type NotificationServiceConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationService hands events to a worker pool so that callers never wait on delivery.
type NotificationService struct {
	queue   *jobs.Queue[models.NotificationEvent]
	sink    NotificationSink
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
	now     func() time.Time
}

// NewNotificationService constructs the dispatcher. Call Start before Notify.
func NewNotificationService(sink NotificationSink, metrics *MetricsService, logger *zap.Logger, cfg NotificationServiceConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogNotificationSink(logger)
	}
	svc := &NotificationService{
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		enabled: cfg.Enabled,
		now:     time.Now,
	}
	svc.queue = jobs.New[models.NotificationEvent]("notifications", svc.deliver, jobs.Config[models.NotificationEvent]{
		Workers:    cfg.Workers,
		BufferSize: 256,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		OnAbandon: func(job jobs.Job[models.NotificationEvent], _ error) {
			metrics.RecordNotification(job.Kind, "abandoned")
		},
		Logger: logger,
	})
	return svc
}

// Start launches the workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	if s == nil || !s.enabled {
		return
	}
	s.queue.Stop()
}

// Notify enqueues an event for the given recipients. Delivery is fire-and-forget:
// failures are logged and counted, never returned.
func (s *NotificationService) Notify(_ context.Context, eventType models.NotificationType, recipients []string, payload map[string]interface{}) {
	if s == nil || !s.enabled {
		return
	}
	recipients = uniqueRecipients(recipients)
	if len(recipients) == 0 {
		return
	}
	event := models.NotificationEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Recipients: recipients,
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(jobs.Job[models.NotificationEvent]{ID: event.ID, Kind: string(eventType), Payload: event}); err != nil {
		s.metrics.RecordNotification(string(eventType), "dropped")
		s.logger.Warn("notification dropped", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// Broadcast enqueues an event addressed to every user. Unlike Notify it reports
// an event that could not be queued, so callers can retry.
func (s *NotificationService) Broadcast(_ context.Context, eventType models.NotificationType, payload map[string]interface{}) error {
	if s == nil || !s.enabled {
		return nil
	}
	event := models.NotificationEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Recipients: []string{models.RecipientBroadcast},
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(jobs.Job[models.NotificationEvent]{ID: event.ID, Kind: string(eventType), Payload: event}); err != nil {
		s.metrics.RecordNotification(string(eventType), "dropped")
		return fmt.Errorf("enqueue broadcast: %w", err)
	}
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job[models.NotificationEvent]) error {
	event := job.Payload
	if err := s.sink.Publish(ctx, event); err != nil {
		s.metrics.RecordNotification(string(event.Type), "failed")
		return err
	}
	s.metrics.RecordNotification(string(event.Type), "delivered")
	return nil
}

func uniqueRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	result := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		if recipient == "" {
			continue
		}
		if _, ok := seen[recipient]; ok {
			continue
		}
		seen[recipient] = struct{}{}
		result = append(result, recipient)
	}
	return result
}
