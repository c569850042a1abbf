package schema

import "time"

// ReservedName represents the reserved_names table - a static seed table of
// normalized names that can never be claimed (brand, abuse and infrastructure
// terms). Checked inside the claim transaction and by availability lookups.
type ReservedName struct {
	// Name is the normalized reserved name
	Name string `gorm:"column:name;primaryKey;type:text"`
	// Reason explains why the name is blocked, surfaced to clients on rejection
	Reason    string    `gorm:"column:reason;not null;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the ReservedName model
func (ReservedName) TableName() string {
	return "reserved_names"
}
