package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MigrationStatus represents where a nickname record sits on its path
// from off-chain registration to an on-chain ENS subdomain.
type MigrationStatus string

const (
	// MigrationStatusOffChain is the default state: the record lives only in this registry
	MigrationStatusOffChain MigrationStatus = "off-chain"
	// MigrationStatusAuthorized means the owner signed a migration authorization and the record awaits batching
	MigrationStatusAuthorized MigrationStatus = "authorized"
	// MigrationStatusMigrated means the record is anchored on-chain; this state is terminal
	MigrationStatusMigrated MigrationStatus = "migrated"
)

// IsValidMigrationStatus checks if a migration status is valid
func IsValidMigrationStatus(s MigrationStatus) bool {
	return s == MigrationStatusOffChain ||
		s == MigrationStatusAuthorized ||
		s == MigrationStatusMigrated
}

// IsTerminal reports whether the status permits no further transitions
func (s MigrationStatus) IsTerminal() bool {
	return s == MigrationStatusMigrated
}

// CanTransitionTo enforces the off-chain -> authorized -> migrated ordering.
// Skipping states and leaving the terminal state are both forbidden.
func (s MigrationStatus) CanTransitionTo(next MigrationStatus) bool {
	switch s {
	case MigrationStatusOffChain:
		return next == MigrationStatusAuthorized
	case MigrationStatusAuthorized:
		return next == MigrationStatusMigrated
	default:
		return false
	}
}

// BatchStatus represents the lifecycle of a migration batch handed to the on-chain submitter
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusSubmitted BatchStatus = "submitted"
	BatchStatusConfirmed BatchStatus = "confirmed"
	BatchStatusFailed    BatchStatus = "failed"
)

// AvailabilityStatus is the outcome of an availability check against the registry
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityTaken     AvailabilityStatus = "taken"
	AvailabilityReserved  AvailabilityStatus = "reserved"
)

// NicknameRecord is the registry entry for one claimed nickname.
// NormalizedNickname is the canonical uniqueness key; Nickname keeps the
// display form as the owner typed it. The three hashes are computed at claim
// time and never change: NameHash = keccak256(ParentNameHash || LabelHash),
// byte-identical to the on-chain namehash of the full name.
type NicknameRecord struct {
	Nickname           string          `json:"nickname"`
	NormalizedNickname string          `json:"normalized_nickname"`
	NameHash           common.Hash     `json:"name_hash"`
	LabelHash          common.Hash     `json:"label_hash"`
	ParentNameHash     common.Hash     `json:"parent_name_hash"`
	OwnerAddress       common.Address  `json:"owner_address"`
	MigrationStatus    MigrationStatus `json:"migration_status"`

	// MigrationAuthorization is present only when the owner opted into
	// on-chain migration, at claim time or later.
	MigrationAuthorization *MigrationAuthorization `json:"migration_authorization,omitempty"`

	// MigratedTxID references the on-chain transaction once the record is migrated
	MigratedTxID *string `json:"migrated_tx_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// ReplacedAt marks a record deprecated by a newer claim from the same
	// owner. Deprecated records are kept forever and excluded from active
	// lookups; they never free the normalized name or the name hash.
	ReplacedAt *time.Time `json:"replaced_at,omitempty"`
}

// Active reports whether the record is the owner's current nickname
func (r *NicknameRecord) Active() bool {
	return r.ReplacedAt == nil
}

// MigrationAuthorization is the owner's signed consent to migrate a nickname
// on-chain. The signature covers the domain-separated digest of the exact
// (NameHash, Owner) pair, so it cannot be replayed for another name or owner.
type MigrationAuthorization struct {
	NameHash  common.Hash    `json:"name_hash"`
	Owner     common.Address `json:"owner"`
	Signature hexutil.Bytes  `json:"signature"`
	SignedAt  time.Time      `json:"signed_at"`
}

// MigrationBatch groups authorized records handed to the external on-chain
// submitter in one unit. BatchID is a ULID minted once per batch; resubmission
// after a failure always creates a new batch, never reuses an ID.
type MigrationBatch struct {
	BatchID     string        `json:"batch_id"`
	Status      BatchStatus   `json:"status"`
	NameHashes  []common.Hash `json:"name_hashes"`
	TxID        *string       `json:"tx_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	FailedAt    *time.Time    `json:"failed_at,omitempty"`
}

// BatchEntry is one record inside a BatchSubmitRequest
type BatchEntry struct {
	Label         string         `json:"label"`
	NameHash      common.Hash    `json:"name_hash"`
	LabelHash     common.Hash    `json:"label_hash"`
	Owner         common.Address `json:"owner"`
	Authorization hexutil.Bytes  `json:"authorization"`
}

// BatchSubmitRequest is the message handed to the on-chain submitter.
// This is the standard format published to NATS.
type BatchSubmitRequest struct {
	BatchID        string       `json:"batch_id"`
	ParentNameHash common.Hash  `json:"parent_name_hash"`
	Entries        []BatchEntry `json:"entries"`
	SubmittedAt    time.Time    `json:"submitted_at"`
}

// BatchConfirmation is the message the on-chain submitter publishes back
// once a batch transaction settles (or definitively fails).
type BatchConfirmation struct {
	BatchID   string    `json:"batch_id"`
	TxID      string    `json:"tx_id"`
	Confirmed bool      `json:"confirmed"`
	Reason    string    `json:"reason,omitempty"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AvailabilityResult is the answer to an availability check. Normalized
// always carries the canonical form the registry would store, so clients
// see exactly what they would claim.
type AvailabilityResult struct {
	Status     AvailabilityStatus `json:"status"`
	Normalized string             `json:"normalized"`
	Reason     string             `json:"reason,omitempty"`
	Suggestion string             `json:"suggestion,omitempty"`
}

// Available is a convenience for transport layers
func (a *AvailabilityResult) Available() bool {
	return a.Status == AvailabilityAvailable
}

// ReservedName is a seed-table entry blocking a normalized name from claims
type ReservedName struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
