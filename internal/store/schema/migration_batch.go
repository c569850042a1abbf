package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// MigrationBatch represents the migration_batches table - one row per batch
// of authorized records handed to the on-chain submitter. BatchID is a ULID
// minted when the batch is built; a failed batch is closed and its records
// re-batched under a fresh ID, so IDs are never reused.
type MigrationBatch struct {
	// BatchID is the ULID identifying the batch towards the submitter
	BatchID string `gorm:"column:batch_id;primaryKey;type:text"`
	// Status tracks pending -> submitted -> confirmed/failed
	Status domain.BatchStatus `gorm:"column:status;not null;type:text;default:'pending';index"`
	// RecordCount is the number of records in the batch
	RecordCount int `gorm:"column:record_count;not null"`
	// EntriesSnapshot stores the exact entries published to the submitter,
	// so a re-publish after a crash carries identical bytes
	EntriesSnapshot datatypes.JSON `gorm:"column:entries_snapshot;type:jsonb"`
	// TxID is the on-chain transaction reference reported by the submitter
	TxID        *string    `gorm:"column:tx_id;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;default:now()"`
	SubmittedAt *time.Time `gorm:"column:submitted_at"`
	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
	FailedAt    *time.Time `gorm:"column:failed_at"`
}

// TableName specifies the table name for the MigrationBatch model
func (MigrationBatch) TableName() string {
	return "migration_batches"
}
