// Package migration moves authorized nickname records on-chain in batches.
// The coordinator polls for authorized records, groups them under ULID batch
// IDs and hands them to the external on-chain submitter over JetStream; the
// confirmation consumer settles batches when the submitter reports back.
package migration

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/signing"
	"github.com/rockfridrich/villa-sub002/internal/store"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

// Service covers the migration operations the REST surface exposes:
// post-claim authorization, batch lookup, and batch confirmation. The
// confirmation path is shared between the JetStream consumer and the
// HTTP fallback endpoint so both apply identical state transitions.
//
//go:generate mockgen -source=service.go -destination=../mocks/migration_service.go -package=mocks -mock_names=Service=MockMigrationService
type Service interface {
	// Authorize upgrades an off-chain record to authorized after verifying
	// the owner's migration signature. Re-authorizing an authorized record
	// refreshes the stored bundle; migrated records reject the call.
	Authorize(ctx context.Context, rawName string, authorization *domain.MigrationAuthorization) (*schema.NicknameRecord, error)

	// GetBatch returns a migration batch by ID, or domain.ErrBatchNotFound
	GetBatch(ctx context.Context, batchID string) (*schema.MigrationBatch, error)

	// ApplyConfirmation settles a batch from a submitter report: confirmed
	// batches move to confirmed and their records to migrated, rejected
	// batches close as failed and release their records for re-batching.
	ApplyConfirmation(ctx context.Context, confirmation *domain.BatchConfirmation) error
}

type service struct {
	store     store.Store
	namespace naming.Namespace
	json      adapter.JSON
	clock     adapter.Clock
}

// NewService creates a migration service
func NewService(st store.Store, namespace naming.Namespace, jsonAdapter adapter.JSON, clock adapter.Clock) Service {
	return &service{
		store:     st,
		namespace: namespace,
		json:      jsonAdapter,
		clock:     clock,
	}
}

// Authorize verifies and stores an owner-signed migration authorization for
// an existing record. The record is addressed by name, not by hash, so the
// caller signs exactly what it sees; the hash binding is recomputed here.
func (s *service) Authorize(ctx context.Context, rawName string, authorization *domain.MigrationAuthorization) (*schema.NicknameRecord, error) {
	if authorization == nil {
		return nil, fmt.Errorf("%w: missing migration authorization", domain.ErrInvalidInput)
	}

	label, err := s.namespace.CanonicalLabel(rawName)
	if err != nil {
		return nil, err
	}
	nameHash, _ := s.namespace.Hashes(label)

	record, err := s.store.GetByNameHash(ctx, nameHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to load nickname record: %w", err)
	}
	if record == nil || record.ReplacedAt != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNicknameNotFound, s.namespace.FullName(label))
	}

	owner := common.HexToAddress(record.OwnerAddress)
	if authorization.Owner != (common.Address{}) && authorization.Owner != owner {
		return nil, fmt.Errorf("%w: authorization owner %s does not match record owner %s",
			domain.ErrInvalidSignature, authorization.Owner.Hex(), owner.Hex())
	}
	if authorization.NameHash != (common.Hash{}) && authorization.NameHash != nameHash {
		return nil, fmt.Errorf("%w: authorization bound to a different name", domain.ErrInvalidSignature)
	}

	if err := signing.VerifyMigrationAuthorization(nameHash, owner, authorization.Signature); err != nil {
		return nil, err
	}

	sealed := domain.MigrationAuthorization{
		NameHash:  nameHash,
		Owner:     owner,
		Signature: authorization.Signature,
		SignedAt:  authorization.SignedAt,
	}
	if sealed.SignedAt.IsZero() {
		sealed.SignedAt = s.clock.Now()
	}

	bundle, err := s.json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize migration authorization: %w", err)
	}

	updated, err := s.store.SetMigrationAuthorization(ctx, nameHash.Hex(), bundle)
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Migration authorized",
		zap.String("nickname", updated.NormalizedNickname),
		zap.String("name_hash", updated.NameHash),
		zap.String("owner", updated.OwnerAddress),
	)

	return updated, nil
}

func (s *service) GetBatch(ctx context.Context, batchID string) (*schema.MigrationBatch, error) {
	batch, err := s.store.GetMigrationBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	return batch, nil
}

// ApplyConfirmation applies a submitter confirmation to its batch. A
// confirmed report needs the on-chain transaction reference; a rejection
// closes the batch and frees its records to join a future batch.
func (s *service) ApplyConfirmation(ctx context.Context, confirmation *domain.BatchConfirmation) error {
	if confirmation == nil || confirmation.BatchID == "" {
		return fmt.Errorf("%w: confirmation missing batch ID", domain.ErrInvalidInput)
	}

	if confirmation.Confirmed {
		if confirmation.TxID == "" {
			return fmt.Errorf("%w: confirmed batch %s missing transaction reference",
				domain.ErrInvalidInput, confirmation.BatchID)
		}
		if err := s.store.ConfirmMigrationBatch(ctx, confirmation.BatchID, confirmation.TxID); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "Migration batch confirmed",
			zap.String("batch_id", confirmation.BatchID),
			zap.String("tx_id", confirmation.TxID),
		)
		return nil
	}

	if err := s.store.FailMigrationBatch(ctx, confirmation.BatchID); err != nil {
		return err
	}
	logger.WarnCtx(ctx, "Migration batch rejected by submitter",
		zap.String("batch_id", confirmation.BatchID),
		zap.String("reason", confirmation.Reason),
	)
	return nil
}
