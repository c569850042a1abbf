package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// NicknameRecord represents the nickname_records table - one row per claimed
// nickname. Rows are never deleted: a nickname replaced by its owner gets
// replaced_at set and drops out of active lookups, but keeps holding the
// normalized name and name hash forever.
type NicknameRecord struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Nickname is the display form exactly as the owner typed it at claim time
	Nickname string `gorm:"column:nickname;not null;type:text"`
	// NormalizedNickname is the canonical lowercase [a-z0-9] form and the global uniqueness key
	NormalizedNickname string `gorm:"column:normalized_nickname;not null;uniqueIndex;type:text"`
	// NameHash is the 0x-prefixed hex ENS namehash of the fully qualified name (e.g. alice.villa.eth)
	NameHash string `gorm:"column:name_hash;not null;uniqueIndex;type:text"`
	// LabelHash is the 0x-prefixed hex keccak256 of the normalized label
	LabelHash string `gorm:"column:label_hash;not null;type:text"`
	// ParentNameHash is the 0x-prefixed hex namehash of the parent domain the label lives under
	ParentNameHash string `gorm:"column:parent_name_hash;not null;type:text"`
	// OwnerAddress is the owner's wallet address, stored lowercase; at most one
	// active (replaced_at IS NULL) record may exist per owner
	OwnerAddress string `gorm:"column:owner_address;not null;type:text;uniqueIndex:idx_nickname_records_active_owner,where:replaced_at IS NULL"`
	// MigrationStatus tracks the off-chain -> authorized -> migrated state machine
	MigrationStatus domain.MigrationStatus `gorm:"column:migration_status;not null;type:text;default:'off-chain';index"`
	// MigrationAuthorization holds the owner-signed authorization bundle as JSON, when present
	MigrationAuthorization datatypes.JSON `gorm:"column:migration_authorization;type:jsonb"`
	// MigrationBatchID references the batch this record was last submitted in
	MigrationBatchID *string `gorm:"column:migration_batch_id;type:text;index"`
	// MigratedTxID is the on-chain transaction reference set when the record reaches migrated
	MigratedTxID *string `gorm:"column:migrated_tx_id;type:text"`
	// CreatedAt is the claim timestamp
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// ReplacedAt marks the record deprecated by a newer claim from the same owner
	ReplacedAt *time.Time `gorm:"column:replaced_at"`
}

// TableName specifies the table name for the NicknameRecord model
func (NicknameRecord) TableName() string {
	return "nickname_records"
}
