package service

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
	"github.com/noah-isme/dronexam-api/pkg/jobs"
)

// EventHandlerFunc consumes one committed event.
type EventHandlerFunc func(ctx context.Context, event models.Event) error

type subscriber struct {
	name    string
	handler EventHandlerFunc
}

// EventDispatcherConfig sizes the asynchronous fan-out.
type EventDispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

// EventDispatcher fans committed events out to subscribers. Once started,
// delivery is asynchronous through a worker queue with one job per
// subscriber and event; before Start and after Stop it is synchronous.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers []subscriber
	queue       *jobs.Queue
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewEventDispatcher constructs a dispatcher.
func NewEventDispatcher(cfg EventDispatcherConfig, metrics *MetricsService, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &EventDispatcher{metrics: metrics, logger: logger}
	d.queue = jobs.NewQueue("events", d.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return d
}

// Subscribe registers a named handler. Handlers must be safe for concurrent use.
func (d *EventDispatcher) Subscribe(name string, handler EventHandlerFunc) {
	d.mu.Lock()
	d.subscribers = append(d.subscribers, subscriber{name: name, handler: handler})
	d.mu.Unlock()
}

// Start switches delivery to the worker queue.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains queued deliveries.
func (d *EventDispatcher) Stop() {
	d.queue.Stop()
}

// Publish implements EventPublisher.
func (d *EventDispatcher) Publish(events ...models.Event) {
	d.mu.RLock()
	subs := append([]subscriber(nil), d.subscribers...)
	d.mu.RUnlock()

	for _, event := range events {
		for _, sub := range subs {
			job := jobs.Job{ID: event.ID, Type: sub.name, Payload: delivery{sub: sub, event: event}}
			err := d.queue.TryEnqueue(job)
			switch {
			case err == nil:
			case errors.Is(err, jobs.ErrQueueStopped):
				if herr := sub.handler(context.Background(), event); herr != nil {
					d.logger.Warn("event handler failed", zap.String("subscriber", sub.name), zap.String("event", string(event.Type)), zap.Error(herr))
				}
			default:
				d.metrics.RecordDroppedEvent()
				d.logger.Warn("event dropped", zap.String("subscriber", sub.name), zap.String("event", string(event.Type)), zap.Error(err))
			}
		}
	}
}

type delivery struct {
	sub   subscriber
	event models.Event
}

func (d *EventDispatcher) handleJob(ctx context.Context, job jobs.Job) error {
	del, ok := job.Payload.(delivery)
	if !ok {
		return nil
	}
	return del.sub.handler(ctx, del.event)
}
