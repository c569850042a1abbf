package migration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/messaging"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/store"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

// Worker defines the interface for long-running background jobs
type Worker interface {
	// Start begins the worker loop; blocks until the context is canceled
	// or Stop is called
	Start(ctx context.Context) error
	// Stop gracefully stops the worker
	Stop(ctx context.Context) error
	// Name returns the worker name for logging
	Name() string
}

// coordinator polls for authorized records and hands them to the on-chain
// submitter in batches. Batch creation is sequential (each CreateMigrationBatch
// stamps its records so the next poll skips them); publishing runs on the
// worker pool so a slow broker does not stall batch building.
type coordinator struct {
	config    config.MigrationConfig
	store     store.Store
	publisher messaging.Publisher
	namespace naming.Namespace
	json      adapter.JSON
	clock     adapter.Clock

	pool      pond.Pool
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewCoordinator creates a migration batch coordinator
func NewCoordinator(
	cfg config.MigrationConfig,
	st store.Store,
	publisher messaging.Publisher,
	namespace naming.Namespace,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
) Worker {
	return &coordinator{
		config:    cfg,
		store:     st,
		publisher: publisher,
		namespace: namespace,
		json:      jsonAdapter,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (c *coordinator) Name() string {
	return "migration-coordinator"
}

// Start runs the coordinator loop until the context is canceled or Stop is called
func (c *coordinator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("migration coordinator is already running")
	}

	defer func() {
		c.running.Store(false)
		close(c.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting migration coordinator",
		zap.Duration("poll_interval", c.config.PollInterval),
		zap.Int("batch_size", c.config.BatchSize),
		zap.Int("worker_pool_size", c.config.Worker.WorkerPoolSize),
		zap.String("parent_domain", c.namespace.Parent()),
	)

	c.pool = pond.NewPool(
		c.config.Worker.WorkerPoolSize,
		pond.WithQueueSize(c.config.Worker.WorkerQueueSize),
		pond.WithContext(ctx),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Migration coordinator stopping due to context cancellation", zap.Error(ctx.Err()))
			c.cleanup()
			return nil
		case <-c.stopChan:
			logger.InfoCtx(ctx, "Migration coordinator stop requested")
			c.cleanup()
			return nil
		default:
			if err := c.runCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err)
				}
				// Back off on cycle errors so a failing store does not spin
				if !c.sleep(ctx, c.config.PollInterval) {
					c.cleanup()
					return nil
				}
			}
		}
	}
}

// cleanup stops the worker pool and waits for in-flight publishes
func (c *coordinator) cleanup() {
	if c.pool != nil {
		c.pool.StopAndWait()
	}
}

// Stop gracefully stops the coordinator with timeout support
func (c *coordinator) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "Stopping migration coordinator")
	close(c.stopChan)

	select {
	case <-c.stoppedCh:
		logger.InfoCtx(ctx, "Migration coordinator stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Migration coordinator stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runCycle builds and dispatches one batch of authorized records. A full
// batch means more records are likely waiting, so the next cycle starts
// immediately; a short or empty batch sleeps out the poll interval.
func (c *coordinator) runCycle(ctx context.Context) error {
	startTime := c.clock.Now()

	records, err := c.store.ListAuthorizedUnbatched(ctx, c.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list authorized records: %w", err)
	}

	if len(records) == 0 {
		if !c.sleep(ctx, c.config.PollInterval) {
			return ctx.Err()
		}
		return nil
	}

	batch, err := c.buildBatch(ctx, records)
	if err != nil {
		return err
	}
	if batch == nil {
		// Every candidate record was skipped; nothing to submit
		if !c.sleep(ctx, c.config.PollInterval) {
			return ctx.Err()
		}
		return nil
	}

	snapshot, err := c.json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to serialize batch %s: %w", batch.BatchID, err)
	}

	nameHashes := make([]string, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		nameHashes = append(nameHashes, entry.NameHash.Hex())
	}

	// Stamping the records inside the batch transaction keeps the next
	// ListAuthorizedUnbatched from seeing them again
	if err := c.store.CreateMigrationBatch(ctx, store.CreateMigrationBatchInput{
		BatchID:         batch.BatchID,
		NameHashes:      nameHashes,
		EntriesSnapshot: snapshot,
	}); err != nil {
		return fmt.Errorf("failed to create batch %s: %w", batch.BatchID, err)
	}

	logger.InfoCtx(ctx, "Migration batch created",
		zap.String("batch_id", batch.BatchID),
		zap.Int("entries", len(batch.Entries)),
		zap.Duration("build_time", c.clock.Since(startTime)),
	)

	c.pool.Submit(func() {
		c.submitBatch(ctx, batch)
	})

	if len(records) == c.config.BatchSize {
		// Full batch: drain the backlog before sleeping
		return nil
	}

	if !c.sleep(ctx, c.config.PollInterval) {
		return ctx.Err()
	}
	return nil
}

// buildBatch converts records into a submit request under a fresh ULID.
// Records whose stored authorization cannot be decoded are skipped and
// logged; they stay unbatched for operator attention rather than poisoning
// the whole batch.
func (c *coordinator) buildBatch(ctx context.Context, records []*schema.NicknameRecord) (*domain.BatchSubmitRequest, error) {
	entries := make([]domain.BatchEntry, 0, len(records))
	for _, record := range records {
		var authorization domain.MigrationAuthorization
		if err := c.json.Unmarshal(record.MigrationAuthorization, &authorization); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("skipping record with unreadable authorization: %w", err),
				zap.String("name_hash", record.NameHash),
				zap.String("nickname", record.NormalizedNickname),
			)
			continue
		}
		if len(authorization.Signature) == 0 {
			logger.ErrorCtx(ctx, errors.New("skipping record with empty authorization signature"),
				zap.String("name_hash", record.NameHash),
				zap.String("nickname", record.NormalizedNickname),
			)
			continue
		}

		entries = append(entries, domain.BatchEntry{
			Label:         record.NormalizedNickname,
			NameHash:      common.HexToHash(record.NameHash),
			LabelHash:     common.HexToHash(record.LabelHash),
			Owner:         common.HexToAddress(record.OwnerAddress),
			Authorization: authorization.Signature,
		})
	}

	if len(entries) == 0 {
		return nil, nil
	}

	return &domain.BatchSubmitRequest{
		BatchID:        ulid.MustNewDefault(c.clock.Now()).String(),
		ParentNameHash: c.namespace.ParentHash(),
		Entries:        entries,
		SubmittedAt:    c.clock.Now(),
	}, nil
}

// submitBatch publishes a batch with retry and settles its status. Publish
// failure closes the batch as failed, which releases the records to join a
// fresh batch on a later cycle; the batch ID is never reused.
func (c *coordinator) submitBatch(ctx context.Context, batch *domain.BatchSubmitRequest) {
	if err := c.publishWithRetry(ctx, batch); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("CRITICAL: failed to publish batch after retries: %w", err),
			zap.String("batch_id", batch.BatchID),
			zap.Int("entries", len(batch.Entries)),
		)
		// Close the batch even when the retry loop was cut short by
		// shutdown, otherwise its records stay stamped forever
		if failErr := c.store.FailMigrationBatch(context.WithoutCancel(ctx), batch.BatchID); failErr != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to close unpublished batch: %w", failErr),
				zap.String("batch_id", batch.BatchID),
			)
		}
		return
	}

	if err := c.store.MarkBatchSubmitted(ctx, batch.BatchID); err != nil {
		// The message is out; the batch stays pending and the confirmation
		// consumer can still settle it
		logger.ErrorCtx(ctx, fmt.Errorf("failed to mark batch submitted: %w", err),
			zap.String("batch_id", batch.BatchID),
		)
		return
	}

	logger.InfoCtx(ctx, "Migration batch submitted",
		zap.String("batch_id", batch.BatchID),
		zap.Int("entries", len(batch.Entries)),
	)
}

// publishWithRetry publishes the batch with exponential backoff. The batch ID
// doubles as the JetStream message ID, so retried publishes deduplicate on
// the broker side.
func (c *coordinator) publishWithRetry(ctx context.Context, batch *domain.BatchSubmitRequest) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	backoffWithContext := backoff.WithContext(b, ctx)

	operation := func() error {
		return c.publisher.PublishBatchSubmission(ctx, batch)
	}

	attemptCount := 0
	notifyOnError := func(err error, duration time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Failed to publish migration batch, retrying",
			zap.Error(err),
			zap.String("batch_id", batch.BatchID),
			zap.Int("attempt", attemptCount),
			zap.Duration("retry_after", duration),
		)
	}

	return backoff.RetryNotify(operation, backoffWithContext, notifyOnError)
}

// sleep waits out the duration but can be interrupted by context
// cancellation or a stop request. Returns false when interrupted.
func (c *coordinator) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-c.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-c.stopChan:
		return false
	}
}
