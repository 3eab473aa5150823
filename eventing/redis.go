package eventing

import (
	"context"
	"fmt"
	"strings"

	"github.com/inoueakimitsu/cline/logger"
	"github.com/inoueakimitsu/cline/sys"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type redisMsgPayload struct {
	InternalData    []byte  `msgpack:"data"`
	InternalHeaders Headers `msgpack:"headers"`
	subject         string
}

func (m *redisMsgPayload) Subject() string {
	return m.subject
}

func (m *redisMsgPayload) Data() []byte {
	return m.InternalData
}

func (m *redisMsgPayload) Headers() Headers {
	return m.InternalHeaders
}

type redisSubscriber struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscriber) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

type redisEventingClient struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

var _ Client = (*redisEventingClient)(nil)

// NewRedisClient returns a Client that publishes over Redis pub/sub.
// The caller owns the redis.Client.
func NewRedisClient(ctx context.Context, log logger.Logger, rdb *redis.Client) Client {
	ctx, cancel := context.WithCancel(ctx)
	return &redisEventingClient{
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(map[string]interface{}{"component": "eventing"}),
	}
}

func newPubRedisMessage(data []byte, opts ...PublishOption) redisMsgPayload {
	msg := redisMsgPayload{
		InternalData:    data,
		InternalHeaders: make(map[string]string),
	}
	options := &publishOptions{}
	for _, opt := range opts {
		opt(options)
	}
	for _, header := range options.Headers {
		if len(header) == 2 {
			msg.InternalHeaders[header[0]] = header[1]
		}
	}
	return msg
}

func (c *redisEventingClient) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	msg := newPubRedisMessage(data, opts...)
	// inject the trace context into the headers before starting a span
	propagator.Inject(ctx, msg.InternalHeaders)

	spanCtx, span := tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.rdb.Publish(spanCtx, subject, payload).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetStatus(codes.Ok, "message published")
	return nil
}

func (c *redisEventingClient) internalCallback(ctx context.Context, subject string, payload []byte, cb MessageCallback) {
	var msg redisMsgPayload
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		c.logger.Error("failed to decode message on %s: %s", subject, err)
		return
	}
	msg.subject = subject
	if msg.InternalHeaders == nil {
		msg.InternalHeaders = Headers{}
	}
	// extract the trace context from the headers
	spanCtx, span := tracer.Start(
		propagator.Extract(ctx, msg.InternalHeaders),
		"internalCallback",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()
	defer sys.RecoverPanic(c.logger)

	cb(spanCtx, &msg)
}

func (c *redisEventingClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(subject, "*?[") {
		pubsub = c.rdb.PSubscribe(ctx, subject)
	} else {
		pubsub = c.rdb.Subscribe(ctx, subject)
	}

	// wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	subctx, cancel := context.WithCancel(c.ctx)
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subctx.Done():
				return
			case <-ctx.Done():
				return
			case redisMsg, ok := <-ch:
				if !ok {
					return
				}
				c.internalCallback(subctx, redisMsg.Channel, []byte(redisMsg.Payload), cb)
			}
		}
	}()

	return &redisSubscriber{
		pubsub: pubsub,
		cancel: cancel,
	}, nil
}

func (c *redisEventingClient) Close() error {
	c.cancel()
	return nil
}
