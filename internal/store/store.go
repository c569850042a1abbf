package store

import (
	"context"

	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

// ClaimNicknameInput carries everything a claim writes. Hashes arrive
// precomputed (0x-prefixed hex) so the store never re-derives them.
type ClaimNicknameInput struct {
	Nickname           string
	NormalizedNickname string
	NameHash           string
	LabelHash          string
	ParentNameHash     string
	// OwnerAddress is stored lowercase
	OwnerAddress    string
	MigrationStatus domain.MigrationStatus
	// MigrationAuthorization is the serialized authorization bundle, nil when absent
	MigrationAuthorization []byte
	// ReplaceExisting deprecates the owner's current active record in the
	// same transaction instead of failing with an ownership conflict
	ReplaceExisting bool
}

// CreateMigrationBatchInput creates a batch and stamps its records in one transaction
type CreateMigrationBatchInput struct {
	BatchID string
	// NameHashes identify the authorized records joining the batch
	NameHashes []string
	// EntriesSnapshot is the exact submit payload, kept for idempotent re-publish
	EntriesSnapshot []byte
}

// Store defines the interface for database operations
type Store interface {
	// CheckAvailability classifies a canonical nickname as available, taken
	// or reserved; the returned string carries the reservation reason.
	// Runs the same lookups the claim transaction performs.
	CheckAvailability(ctx context.Context, normalized string) (domain.AvailabilityStatus, string, error)
	// ClaimNickname inserts a nickname record in a single transaction:
	// reserved-name check, uniqueness enforcement via the table's unique
	// indexes, no partial writes. Losing a race yields a typed conflict error.
	ClaimNickname(ctx context.Context, input ClaimNicknameInput) (*schema.NicknameRecord, error)
	// GetByNormalized retrieves the record holding a normalized name,
	// active or deprecated; nil when no row exists
	GetByNormalized(ctx context.Context, normalized string) (*schema.NicknameRecord, error)
	// GetByNameHash retrieves the active record for a name hash; nil when none
	GetByNameHash(ctx context.Context, nameHash string) (*schema.NicknameRecord, error)
	// GetActiveByOwner retrieves the owner's active record; nil when none
	GetActiveByOwner(ctx context.Context, owner string) (*schema.NicknameRecord, error)

	// SetMigrationAuthorization stores an owner-signed authorization and
	// moves an off-chain record to authorized. Re-authorizing an authorized
	// record refreshes the bundle; touching a migrated record fails.
	SetMigrationAuthorization(ctx context.Context, nameHash string, authorization []byte) (*schema.NicknameRecord, error)
	// ListAuthorizedUnbatched returns active authorized records not yet
	// assigned to a batch, oldest first
	ListAuthorizedUnbatched(ctx context.Context, limit int) ([]*schema.NicknameRecord, error)
	// CreateMigrationBatch inserts a pending batch and stamps its records
	// with the batch ID in one transaction
	CreateMigrationBatch(ctx context.Context, input CreateMigrationBatchInput) error
	// MarkBatchSubmitted moves a pending batch to submitted after a
	// successful publish; marking an already-submitted batch is a no-op
	MarkBatchSubmitted(ctx context.Context, batchID string) error
	// ConfirmMigrationBatch moves a batch to confirmed and its records to
	// migrated with the transaction reference; re-confirmation is a no-op
	ConfirmMigrationBatch(ctx context.Context, batchID string, txID string) error
	// FailMigrationBatch closes a batch as failed and releases its records
	// for re-batching under a fresh ID
	FailMigrationBatch(ctx context.Context, batchID string) error
	// GetMigrationBatch retrieves a batch by ID; nil when none
	GetMigrationBatch(ctx context.Context, batchID string) (*schema.MigrationBatch, error)

	// ListReservedNames returns the reserved seed table
	ListReservedNames(ctx context.Context) ([]schema.ReservedName, error)
	// CountActiveNicknames returns the number of active records
	CountActiveNicknames(ctx context.Context) (int64, error)
}
