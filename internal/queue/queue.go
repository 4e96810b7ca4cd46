// Package queue defines the branch-task queue used to fan work out from the
// coordinating run to the worker pool. Backends live in subpackages.
package queue

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
)

// ErrQueueClosed is returned by Dequeue once the queue has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Message is one queued payload. Attributes carry metadata such as trace
// context and are preserved by every backend.
type Message struct {
	ID         string
	Key        string
	Body       []byte
	Attributes map[string]string

	ack  func()
	nack func()
}

// WithAcker returns a copy of m that settles through the given callbacks.
// Backends use it to bind delivery acknowledgement.
func (m Message) WithAcker(ack, nack func()) Message {
	m.ack = ack
	m.nack = nack
	return m
}

// Ack marks the message processed.
func (m Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Nack asks the backend to redeliver the message where supported.
func (m Message) Nack() {
	if m.nack != nil {
		m.nack()
	}
}

// Queue is a durable or in-process FIFO of messages.
type Queue interface {
	// Enqueue submits a message. It blocks until the backend accepted it.
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue blocks until a message is available, the context ends or the
	// queue is closed.
	Dequeue(ctx context.Context) (Message, error)
	// Close releases client connections.
	Close() error
}

// InjectTrace writes the trace context of ctx into msg attributes.
func InjectTrace(ctx context.Context, msg *Message) {
	if msg.Attributes == nil {
		msg.Attributes = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, attributeCarrier(msg.Attributes))
}

// ExtractTrace returns ctx enriched with the trace context carried by msg.
func ExtractTrace(ctx context.Context, msg Message) context.Context {
	if len(msg.Attributes) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, attributeCarrier(msg.Attributes))
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier map[string]string

func (c attributeCarrier) Get(key string) string {
	return c[key]
}

func (c attributeCarrier) Set(key, value string) {
	c[key] = value
}

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
