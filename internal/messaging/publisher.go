package messaging

import (
	"context"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// Publisher defines the interface for handing migration batches to the
// message broker
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishBatchSubmission publishes a batch submit request for the
	// on-chain submitter
	PublishBatchSubmission(ctx context.Context, batch *domain.BatchSubmitRequest) error
	// Close closes the connection
	Close()
	// CloseChan returns a channel that is closed when the publisher is closed
	CloseChan() <-chan struct{}
}
