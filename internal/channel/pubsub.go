// internal/channel/pubsub.go
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/xkilldash9x/computer-worker/api/schemas"
	"github.com/xkilldash9x/computer-worker/internal/config"
)

const defaultPublishTimeout = 30 * time.Second

// PubSubChannel receives commands from a per-session subscription and
// publishes results to a per-session topic.
type PubSubChannel struct {
	client  *pubsub.Client
	cfg     config.PubSubConfig
	logger  *zap.Logger
	failure failure

	commandTopic string
	subscription string
	resultTopic  string

	mu      sync.Mutex
	results *pubsub.Topic
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

var _ Channel = (*PubSubChannel)(nil)

// NewPubSubChannel connects to Pub/Sub. opts are passed to the client, which
// also honours PUBSUB_EMULATOR_HOST.
func NewPubSubChannel(ctx context.Context, cfg config.PubSubConfig, sessionID string, logger *zap.Logger, opts ...option.ClientOption) (*PubSubChannel, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	commandTopic, subscription, resultTopic := cfg.Names(sessionID)
	return &PubSubChannel{
		client:       client,
		cfg:          cfg,
		logger:       logger.Named("pubsub_channel").With(zap.String("session_id", sessionID)),
		failure:      newFailure(),
		commandTopic: commandTopic,
		subscription: subscription,
		resultTopic:  resultTopic,
	}, nil
}

// Subscribe creates the session subscription, reusing it when it already
// exists, and starts receiving one message at a time.
func (c *PubSubChannel) Subscribe(ctx context.Context, h Handler) error {
	c.mu.Lock()
	if c.closed || c.done != nil {
		c.mu.Unlock()
		return &TransportError{Op: "subscribe", Err: errors.New("channel already subscribed or disconnected")}
	}
	c.mu.Unlock()

	c.logger.Info("Creating subscription.",
		zap.String("subscription", c.subscription),
		zap.String("topic", c.commandTopic))

	sub, err := c.client.CreateSubscription(ctx, c.subscription, pubsub.SubscriptionConfig{
		Topic:       c.client.Topic(c.commandTopic),
		AckDeadline: c.cfg.AckDeadline,
	})
	switch {
	case status.Code(err) == codes.AlreadyExists:
		c.logger.Info("Subscription already exists; reusing it.", zap.String("subscription", c.subscription))
		sub = c.client.Subscription(c.subscription)
	case err != nil:
		return &TransportError{Op: "create subscription", Err: err}
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1

	// Receiving outlives the setup context; Disconnect stops it.
	recvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.results = c.client.Topic(c.resultTopic)
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		err := sub.Receive(recvCtx, func(msgCtx context.Context, m *pubsub.Message) {
			// At-most-once: the command is acknowledged before it runs.
			m.Ack()
			c.deliver(context.WithoutCancel(msgCtx), m, h)
		})
		if err != nil && recvCtx.Err() == nil {
			c.logger.Error("Receiving stopped.", zap.Error(err))
			c.failure.report(&TransportError{Op: "receive", Err: err})
		}
	}()
	c.logger.Info("Subscribed.", zap.String("results_topic", c.resultTopic))
	return nil
}

func (c *PubSubChannel) deliver(ctx context.Context, m *pubsub.Message, h Handler) {
	env, err := schemas.DecodeCommandEnvelope(m.Data)
	if err != nil {
		c.logger.Warn("Dropping malformed command message.",
			zap.String("message_id", m.ID),
			zap.Error(err))
		return
	}
	h(ctx, &pubsubMessage{channel: c, id: env.ID, payload: env.Command})
}

// publish sends one result and waits for the server to accept it.
func (c *PubSubChannel) publish(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	c.mu.Lock()
	results := c.results
	c.mu.Unlock()
	if results == nil {
		return &TransportError{Op: "publish", Err: errors.New("channel is not subscribed")}
	}

	timeout := c.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := results.Publish(pubCtx, &pubsub.Message{Data: data}).Get(pubCtx); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Err implements Channel.
func (c *PubSubChannel) Err() <-chan error {
	return c.failure.ch
}

// Disconnect stops receiving, flushes pending results and closes the client.
func (c *PubSubChannel) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done, results := c.cancel, c.done, c.results
	c.mu.Unlock()

	c.logger.Info("Disconnecting from Pub/Sub.")
	var errs []error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, &TransportError{Op: "disconnect", Err: ctx.Err()})
		}
	}
	if results != nil {
		results.Stop()
	}
	if err := c.client.Close(); err != nil {
		errs = append(errs, &TransportError{Op: "close", Err: err})
	}
	return errors.Join(errs...)
}

// pubsubMessage answers on the results topic, tagged with the inbound id.
type pubsubMessage struct {
	guard   publishGuard
	channel *PubSubChannel
	id      string
	payload json.RawMessage
}

func (m *pubsubMessage) ID() string { return m.id }

func (m *pubsubMessage) Payload() json.RawMessage { return m.payload }

func (m *pubsubMessage) PublishScreenshot(ctx context.Context, screenshot, sessionID, url string) error {
	if err := m.guard.claim(); err != nil {
		return err
	}
	m.channel.logger.Debug("Publishing screenshot.", zap.String("id", m.id))
	return m.channel.publish(ctx, schemas.ScreenshotResult{
		ID:         m.id,
		SessionID:  sessionID,
		Screenshot: screenshot,
		URL:        url,
	})
}

func (m *pubsubMessage) PublishError(ctx context.Context, msg string) error {
	if err := m.guard.claim(); err != nil {
		return err
	}
	m.channel.logger.Debug("Publishing error.", zap.String("id", m.id))
	return m.channel.publish(ctx, schemas.ErrorResult{ID: m.id, Error: msg})
}
