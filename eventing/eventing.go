// Package eventing fans session events out to external observers over a
// publish/subscribe transport.
package eventing

import (
	"context"
)

// Message represents a message received from the event system
type Message interface {
	Subject() string
	Data() []byte
	Headers() Headers
}

// Headers represents message headers that can be used for both map operations and propagation
type Headers map[string]string

func (h Headers) Get(key string) string {
	return h[key]
}

func (h Headers) Set(key string, value string) {
	h[key] = value
}

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

type MessageCallback func(ctx context.Context, msg Message)

type Subscriber interface {
	// Close stops the subscriber
	Close() error
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	Headers [][]string
}

func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		o.Headers = append(o.Headers, []string{key, value})
	}
}

// Client defines the interface for event clients
type Client interface {
	// Publish publishes a message to a subject
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// Subscribe subscribes to a subject. Subjects may contain glob patterns.
	Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error)
	// Close closes the client
	Close() error
}
