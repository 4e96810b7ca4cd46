// Package pubsub implements the branch-task queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/intel-archiver/internal/queue"
)

const keyAttribute = "archiver-key"

// Config names the topic and subscription. Both accept a short id or a fully
// qualified resource name.
type Config struct {
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// Queue publishes to a topic and receives from a subscription. Receiving
// starts lazily on the first Dequeue so publish-only processes never pull.
type Queue struct {
	client      *pubsub.Client
	ownsClient  bool
	publisher   *pubsub.Publisher
	subscriber  *pubsub.Subscriber
	deliveries  chan queue.Message
	logger      *zap.Logger
	startOnce   sync.Once
	stopReceive context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	receiveErr  error
}

// New creates a Pub/Sub client for cfg.ProjectID and wraps it.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Queue, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	q, err := NewWithClient(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	q.ownsClient = true
	return q, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		client:     client,
		publisher:  client.Publisher(cfg.Topic),
		deliveries: make(chan queue.Message),
		logger:     logger.Named("pubsub_queue"),
		done:       make(chan struct{}),
	}
	if cfg.Subscription != "" {
		q.subscriber = client.Subscriber(cfg.Subscription)
		if cfg.MaxOutstanding > 0 {
			q.subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
		}
	}
	return q, nil
}

// Enqueue publishes msg and waits for the server acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	attrs := make(map[string]string, len(msg.Attributes)+1)
	maps.Copy(attrs, msg.Attributes)
	if msg.Key != "" {
		attrs[keyAttribute] = msg.Key
	}
	result := q.publisher.Publish(ctx, &pubsub.Message{Data: msg.Body, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	q.logger.Debug("message published", zap.String("message_id", id), zap.String("key", msg.Key))
	return nil
}

// Dequeue returns the next delivered message. The message must be acked or
// nacked by the caller.
func (q *Queue) Dequeue(ctx context.Context) (queue.Message, error) {
	if q.subscriber == nil {
		return queue.Message{}, fmt.Errorf("pubsub subscription is not configured")
	}
	q.startOnce.Do(q.startReceive)
	select {
	case <-ctx.Done():
		return queue.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg := <-q.deliveries:
		return msg, nil
	case <-q.done:
		q.mu.Lock()
		err := q.receiveErr
		q.mu.Unlock()
		if err != nil {
			return queue.Message{}, fmt.Errorf("%w: %v", queue.ErrQueueClosed, err)
		}
		return queue.Message{}, queue.ErrQueueClosed
	}
}

func (q *Queue) startReceive() {
	ctx, cancel := context.WithCancel(context.Background())
	q.stopReceive = cancel
	go func() {
		defer close(q.done)
		err := q.subscriber.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			attrs := maps.Clone(m.Attributes)
			msg := queue.Message{
				ID:         m.ID,
				Key:        attrs[keyAttribute],
				Body:       m.Data,
				Attributes: attrs,
			}.WithAcker(m.Ack, m.Nack)
			select {
			case q.deliveries <- msg:
			case <-ctx.Done():
				m.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.mu.Lock()
			q.receiveErr = err
			q.mu.Unlock()
		}
	}()
}

// Close stops receiving, flushes the publisher and closes an owned client.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		started := false
		q.startOnce.Do(func() {
			close(q.done)
		})
		if q.stopReceive != nil {
			started = true
			q.stopReceive()
		}
		if started {
			<-q.done
		}
		q.publisher.Stop()
		if q.ownsClient {
			if cerr := q.client.Close(); cerr != nil {
				err = fmt.Errorf("failed to close pubsub client: %w", cerr)
			}
		}
	})
	return err
}
