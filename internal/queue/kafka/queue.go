// Package kafka implements the branch-task queue on Kafka using a consumer
// group, so each task is processed by one worker.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-archiver/internal/queue"
)

// Config selects brokers, topic and consumer group.
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue writes tasks with a kafka.Writer and consumes them with a group reader.
type Queue struct {
	writer messageWriter
	reader messageReader
	logger *zap.Logger
}

// New builds a Queue for cfg. The reader is created only when a group id is
// configured.
func New(cfg Config, logger *zap.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
	}
	var reader messageReader
	if cfg.GroupID != "" {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return newWithClients(writer, reader, logger), nil
}

func newWithClients(writer messageWriter, reader messageReader, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{writer: writer, reader: reader, logger: logger.Named("kafka_queue")}
}

// Enqueue writes msg; the message key is the partitioning key.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	km := kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Body,
		Time:  time.Now().UTC(),
	}
	for k, v := range msg.Attributes {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := q.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Dequeue fetches the next message. Ack commits its offset; Nack leaves it
// uncommitted so it is redelivered after a rebalance.
func (q *Queue) Dequeue(ctx context.Context) (queue.Message, error) {
	if q.reader == nil {
		return queue.Message{}, fmt.Errorf("kafka consumer group is not configured")
	}
	km, err := q.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return queue.Message{}, queue.ErrQueueClosed
		}
		if ctx.Err() != nil {
			return queue.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		}
		return queue.Message{}, fmt.Errorf("fetch message: %w", err)
	}
	attrs := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		attrs[h.Key] = string(h.Value)
	}
	msg := queue.Message{
		ID:         messageID(km),
		Key:        string(km.Key),
		Body:       km.Value,
		Attributes: attrs,
	}
	ack := func() {
		// Commit outlives the caller context so a finished task is not replayed.
		commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := q.reader.CommitMessages(commitCtx, km); err != nil {
			q.logger.Warn("commit failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	nack := func() {
		q.logger.Debug("message left uncommitted", zap.String("message_id", msg.ID))
	}
	return msg.WithAcker(ack, nack), nil
}

func messageID(km kafka.Message) string {
	return strings.Join([]string{km.Topic, strconv.Itoa(km.Partition), strconv.FormatInt(km.Offset, 10)}, "/")
}

// Close closes the reader and writer.
func (q *Queue) Close() error {
	var errs []error
	if q.reader != nil {
		if err := q.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}
	if err := q.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	return errors.Join(errs...)
}
