package dto

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// AvailabilityResponse answers GET /api/v1/nicknames/availability. Normalized
// always carries the canonical form a claim would store; Suggestion is a free
// numbered variant when the name is taken.
type AvailabilityResponse struct {
	Available  bool   `json:"available"`
	Normalized string `json:"normalized"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewAvailabilityResponse maps an availability result onto the wire shape
func NewAvailabilityResponse(result *domain.AvailabilityResult) *AvailabilityResponse {
	return &AvailabilityResponse{
		Available:  result.Available(),
		Normalized: result.Normalized,
		Reason:     result.Reason,
		Suggestion: result.Suggestion,
	}
}

// NicknameRecordResponse is the record body returned by claim and
// migration-authorization endpoints. Hashes and addresses marshal as
// 0x-prefixed hex.
type NicknameRecordResponse struct {
	Nickname               string                         `json:"nickname"`
	NormalizedNickname     string                         `json:"normalized_nickname"`
	FullName               string                         `json:"full_name"`
	NameHash               common.Hash                    `json:"name_hash"`
	LabelHash              common.Hash                    `json:"label_hash"`
	ParentNameHash         common.Hash                    `json:"parent_name_hash"`
	OwnerAddress           common.Address                 `json:"owner_address"`
	MigrationStatus        domain.MigrationStatus         `json:"migration_status"`
	MigrationAuthorization *domain.MigrationAuthorization `json:"migration_authorization,omitempty"`
	MigratedTxID           *string                        `json:"migrated_tx_id,omitempty"`
	CreatedAt              time.Time                      `json:"created_at"`
	ReplacedAt             *time.Time                     `json:"replaced_at,omitempty"`
}

// NewNicknameRecordResponse maps a domain record onto the wire shape.
// fullName is the fully qualified name under the registry's parent domain.
func NewNicknameRecordResponse(record *domain.NicknameRecord, fullName string) *NicknameRecordResponse {
	return &NicknameRecordResponse{
		Nickname:               record.Nickname,
		NormalizedNickname:     record.NormalizedNickname,
		FullName:               fullName,
		NameHash:               record.NameHash,
		LabelHash:              record.LabelHash,
		ParentNameHash:         record.ParentNameHash,
		OwnerAddress:           record.OwnerAddress,
		MigrationStatus:        record.MigrationStatus,
		MigrationAuthorization: record.MigrationAuthorization,
		MigratedTxID:           record.MigratedTxID,
		CreatedAt:              record.CreatedAt,
		ReplacedAt:             record.ReplacedAt,
	}
}

// MigrationBatchResponse is the batch body returned by the migration batch
// endpoints
type MigrationBatchResponse struct {
	BatchID     string             `json:"batch_id"`
	Status      domain.BatchStatus `json:"status"`
	RecordCount int                `json:"record_count"`
	NameHashes  []common.Hash      `json:"name_hashes"`
	TxID        *string            `json:"tx_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	SubmittedAt *time.Time         `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time         `json:"confirmed_at,omitempty"`
	FailedAt    *time.Time         `json:"failed_at,omitempty"`
}

// NewMigrationBatchResponse maps a domain batch onto the wire shape
func NewMigrationBatchResponse(batch *domain.MigrationBatch) *MigrationBatchResponse {
	return &MigrationBatchResponse{
		BatchID:     batch.BatchID,
		Status:      batch.Status,
		RecordCount: len(batch.NameHashes),
		NameHashes:  batch.NameHashes,
		TxID:        batch.TxID,
		CreatedAt:   batch.CreatedAt,
		SubmittedAt: batch.SubmittedAt,
		ConfirmedAt: batch.ConfirmedAt,
		FailedAt:    batch.FailedAt,
	}
}
