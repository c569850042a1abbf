package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
)

// ConfirmationConsumer receives batch confirmations from the on-chain
// submitter and settles the corresponding batches.
type ConfirmationConsumer interface {
	// Run starts consuming confirmations; blocks until the context is canceled
	Run(ctx context.Context) error
	// Close closes the consumer and its NATS connection
	Close()
}

type confirmationConsumer struct {
	nc      adapter.NatsConn
	js      adapter.JetStream
	service Service
	json    adapter.JSON
	config  config.NATSConfig
}

// NewConfirmationConsumer connects to NATS and prepares a confirmation
// consumer. The connection is owned by the consumer and closed with it.
func NewConfirmationConsumer(
	cfg config.NATSConfig,
	natsJS adapter.NatsJetStream,
	service Service,
	jsonAdapter adapter.JSON,
) (ConfirmationConsumer, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &confirmationConsumer{
		nc:      nc,
		js:      js,
		service: service,
		json:    jsonAdapter,
		config:  cfg,
	}, nil
}

// Run starts the confirmation consumer
func (c *confirmationConsumer) Run(ctx context.Context) error {
	logger.Info("Starting confirmation consumer",
		zap.String("stream", c.config.StreamName),
		zap.String("consumer", c.config.ConsumerName),
		zap.String("subject", c.config.ConfirmSubject),
	)

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
		FilterSubject: c.config.ConfirmSubject,
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	msgChan := make(chan adapter.Message, 100)
	sub, err := consumer.Consume(func(msg adapter.Message) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming confirmations")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down confirmation consumer")
			return ctx.Err()
		case msg := <-msgChan:
			go c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage settles one confirmation message. Malformed payloads and
// confirmations that can never apply terminate; transient store failures
// NAK so redelivery retries them.
func (c *confirmationConsumer) handleMessage(ctx context.Context, msg adapter.Message) {
	metadata, _ := msg.Metadata()

	var confirmation domain.BatchConfirmation
	if err := c.json.Unmarshal(msg.Data(), &confirmation); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal confirmation"))
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	var deliveryCount uint64
	if metadata != nil {
		deliveryCount = metadata.NumDelivered
	}
	logger.Info("Received batch confirmation",
		zap.String("batch_id", confirmation.BatchID),
		zap.String("tx_id", confirmation.TxID),
		zap.Bool("confirmed", confirmation.Confirmed),
		zap.Uint64("deliveryCount", deliveryCount),
	)

	if err := c.service.ApplyConfirmation(ctx, &confirmation); err != nil {
		if isPermanentConfirmationError(err) {
			logger.Error(err, zap.String("message", "Dropping confirmation that can never apply"),
				zap.String("batch_id", confirmation.BatchID))
			if err := msg.Term(); err != nil {
				logger.Error(err, zap.String("message", "Failed to terminate message"))
			}
			return
		}

		logger.Error(err, zap.String("message", "Failed to apply confirmation"),
			zap.String("batch_id", confirmation.BatchID))
		if err := msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ACK message"))
	}
}

// isPermanentConfirmationError reports whether redelivery could ever help.
// Unknown batch IDs, conflicting status reports and malformed confirmations
// stay broken no matter how often they are redelivered.
func isPermanentConfirmationError(err error) bool {
	return errors.Is(err, domain.ErrBatchNotFound) ||
		errors.Is(err, domain.ErrInvalidStatusTransition) ||
		errors.Is(err, domain.ErrInvalidInput)
}

// Close closes the consumer and cleans up resources
func (c *confirmationConsumer) Close() {
	if c.nc == nil {
		return
	}

	c.nc.Close()
}
