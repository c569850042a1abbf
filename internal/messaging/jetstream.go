package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
)

type jetStreamPublisher struct {
	nc        adapter.NatsConn
	js        adapter.JetStream
	json      adapter.JSON
	subject   string
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewJetStreamPublisher connects to NATS and returns a publisher that hands
// batch submit requests to the on-chain submitter. The connection is owned
// by the publisher and closed with it.
func NewJetStreamPublisher(
	cfg config.NATSConfig,
	natsJS adapter.NatsJetStream,
	jsonAdapter adapter.JSON,
) (Publisher, error) {
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

	return &jetStreamPublisher{
		nc:      nc,
		js:      js,
		json:    jsonAdapter,
		subject: cfg.SubmitSubject,
		closeCh: make(chan struct{}),
	}, nil
}

// PublishBatchSubmission publishes a batch submit request. The batch ID is
// used as the JetStream message ID, so a batch republished after a crash or
// a retry deduplicates on the broker instead of reaching the submitter twice.
func (p *jetStreamPublisher) PublishBatchSubmission(ctx context.Context, batch *domain.BatchSubmitRequest) error {
	logger.Debug("Publishing batch submission",
		zap.String("batch_id", batch.BatchID),
		zap.Int("records", len(batch.Entries)),
	)

	data, err := p.json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch submit request: %w", err)
	}

	_, err = p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(batch.BatchID))
	if err != nil {
		return fmt.Errorf("failed to publish batch submit request: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (p *jetStreamPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		if p.nc != nil {
			if err := p.nc.LastError(); err != nil {
				logger.Warn("NATS connection closing with outstanding error", zap.Error(err))
			}
			p.nc.Close()
		}
	})
}

// CloseChan returns a channel that is closed when the publisher is closed
func (p *jetStreamPublisher) CloseChan() <-chan struct{} {
	return p.closeCh
}
