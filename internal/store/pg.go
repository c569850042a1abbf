package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

func (s *pgStore) CheckAvailability(ctx context.Context, normalized string) (domain.AvailabilityStatus, string, error) {
	// Reserved wins over everything else so clients always learn the reason
	var reserved schema.ReservedName
	err := s.db.WithContext(ctx).Where("name = ?", normalized).First(&reserved).Error
	if err == nil {
		return domain.AvailabilityReserved, reserved.Reason, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", fmt.Errorf("failed to check reserved names: %w", err)
	}

	// Deprecated records keep holding their normalized name, so existence of
	// any row makes the name taken
	var count int64
	if err := s.db.WithContext(ctx).Model(&schema.NicknameRecord{}).
		Where("normalized_nickname = ?", normalized).
		Count(&count).Error; err != nil {
		return "", "", fmt.Errorf("failed to check nickname existence: %w", err)
	}
	if count > 0 {
		return domain.AvailabilityTaken, "", nil
	}

	return domain.AvailabilityAvailable, "", nil
}

func (s *pgStore) ClaimNickname(ctx context.Context, input ClaimNicknameInput) (*schema.NicknameRecord, error) {
	owner := strings.ToLower(input.OwnerAddress)

	record := schema.NicknameRecord{
		Nickname:               input.Nickname,
		NormalizedNickname:     input.NormalizedNickname,
		NameHash:               input.NameHash,
		LabelHash:              input.LabelHash,
		ParentNameHash:         input.ParentNameHash,
		OwnerAddress:           owner,
		MigrationStatus:        input.MigrationStatus,
		MigrationAuthorization: input.MigrationAuthorization,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Reserved names are checked inside the transaction so a claim and
		// an availability check can never disagree
		var reserved schema.ReservedName
		err := tx.Where("name = ?", input.NormalizedNickname).First(&reserved).Error
		if err == nil {
			return &domain.ReservedNameError{Name: reserved.Name, Reason: reserved.Reason}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check reserved names: %w", err)
		}

		// 2. Optionally deprecate the owner's current record; the partial
		// unique index on (owner_address) WHERE replaced_at IS NULL then
		// admits the new row
		if input.ReplaceExisting {
			if err := tx.Model(&schema.NicknameRecord{}).
				Where("owner_address = ? AND replaced_at IS NULL", owner).
				Update("replaced_at", time.Now().UTC()).Error; err != nil {
				return fmt.Errorf("failed to deprecate existing nickname: %w", err)
			}
		}

		// 3. Insert guarded by the unique indexes on normalized_nickname,
		// name_hash and the active-owner partial index. ON CONFLICT DO
		// NOTHING keeps races from erroring; ID == 0 afterwards means the
		// insert lost and we classify the conflict.
		if err := tx.Clauses(clause.OnConflict{
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{}}).
			Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create nickname record: %w", err)
		}

		if record.ID == 0 {
			var existing schema.NicknameRecord
			err := tx.Where("normalized_nickname = ?", input.NormalizedNickname).First(&existing).Error
			if err == nil {
				return domain.ErrNicknameTaken
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to classify claim conflict: %w", err)
			}
			// The name itself is free, so the active-owner index rejected us
			return domain.ErrOwnerHasNickname
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *pgStore) GetByNormalized(ctx context.Context, normalized string) (*schema.NicknameRecord, error) {
	var record schema.NicknameRecord
	err := s.db.WithContext(ctx).
		Where("normalized_nickname = ?", normalized).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get nickname by normalized name: %w", err)
	}
	return &record, nil
}

func (s *pgStore) GetByNameHash(ctx context.Context, nameHash string) (*schema.NicknameRecord, error) {
	var record schema.NicknameRecord
	err := s.db.WithContext(ctx).
		Where("name_hash = ? AND replaced_at IS NULL", strings.ToLower(nameHash)).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get nickname by name hash: %w", err)
	}
	return &record, nil
}

func (s *pgStore) GetActiveByOwner(ctx context.Context, owner string) (*schema.NicknameRecord, error) {
	var record schema.NicknameRecord
	err := s.db.WithContext(ctx).
		Where("owner_address = ? AND replaced_at IS NULL", strings.ToLower(owner)).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get nickname by owner: %w", err)
	}
	return &record, nil
}

func (s *pgStore) SetMigrationAuthorization(ctx context.Context, nameHash string, authorization []byte) (*schema.NicknameRecord, error) {
	var record schema.NicknameRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name_hash = ? AND replaced_at IS NULL", strings.ToLower(nameHash)).
			First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNicknameNotFound
			}
			return fmt.Errorf("failed to load nickname record: %w", err)
		}

		if record.MigrationStatus.IsTerminal() {
			return domain.ErrInvalidStatusTransition
		}

		updates := map[string]interface{}{
			"migration_authorization": authorization,
			"migration_status":        domain.MigrationStatusAuthorized,
		}
		if err := tx.Model(&record).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to store migration authorization: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *pgStore) ListAuthorizedUnbatched(ctx context.Context, limit int) ([]*schema.NicknameRecord, error) {
	var records []*schema.NicknameRecord
	err := s.db.WithContext(ctx).
		Where("migration_status = ? AND migration_batch_id IS NULL AND replaced_at IS NULL",
			domain.MigrationStatusAuthorized).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized records: %w", err)
	}
	return records, nil
}

func (s *pgStore) CreateMigrationBatch(ctx context.Context, input CreateMigrationBatchInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch := schema.MigrationBatch{
			BatchID:         input.BatchID,
			Status:          domain.BatchStatusPending,
			RecordCount:     len(input.NameHashes),
			EntriesSnapshot: input.EntriesSnapshot,
		}
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("failed to create migration batch: %w", err)
		}

		result := tx.Model(&schema.NicknameRecord{}).
			Where("name_hash IN ? AND migration_status = ? AND migration_batch_id IS NULL",
				input.NameHashes, domain.MigrationStatusAuthorized).
			Update("migration_batch_id", input.BatchID)
		if result.Error != nil {
			return fmt.Errorf("failed to assign records to batch: %w", result.Error)
		}
		// A mismatch means a record changed state between listing and
		// batching; roll back and let the next poll rebuild the batch
		if result.RowsAffected != int64(len(input.NameHashes)) {
			return fmt.Errorf("batch %s expected %d records, stamped %d: %w",
				input.BatchID, len(input.NameHashes), result.RowsAffected, domain.ErrInvalidStatusTransition)
		}
		return nil
	})
}

func (s *pgStore) MarkBatchSubmitted(ctx context.Context, batchID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatch(tx, batchID)
		if err != nil {
			return err
		}

		switch batch.Status {
		case domain.BatchStatusSubmitted:
			return nil
		case domain.BatchStatusPending:
			now := time.Now().UTC()
			return tx.Model(batch).Updates(map[string]interface{}{
				"status":       domain.BatchStatusSubmitted,
				"submitted_at": now,
			}).Error
		default:
			return domain.ErrInvalidStatusTransition
		}
	})
}

func (s *pgStore) ConfirmMigrationBatch(ctx context.Context, batchID string, txID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatch(tx, batchID)
		if err != nil {
			return err
		}

		switch batch.Status {
		case domain.BatchStatusConfirmed:
			// Duplicate confirmation delivery
			return nil
		case domain.BatchStatusFailed:
			return domain.ErrInvalidStatusTransition
		}

		now := time.Now().UTC()
		if err := tx.Model(batch).Updates(map[string]interface{}{
			"status":       domain.BatchStatusConfirmed,
			"tx_id":        txID,
			"confirmed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to confirm batch: %w", err)
		}

		if err := tx.Model(&schema.NicknameRecord{}).
			Where("migration_batch_id = ? AND migration_status = ?",
				batchID, domain.MigrationStatusAuthorized).
			Updates(map[string]interface{}{
				"migration_status": domain.MigrationStatusMigrated,
				"migrated_tx_id":   txID,
			}).Error; err != nil {
			return fmt.Errorf("failed to migrate batch records: %w", err)
		}
		return nil
	})
}

func (s *pgStore) FailMigrationBatch(ctx context.Context, batchID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := lockBatch(tx, batchID)
		if err != nil {
			return err
		}

		switch batch.Status {
		case domain.BatchStatusFailed:
			return nil
		case domain.BatchStatusConfirmed:
			return domain.ErrInvalidStatusTransition
		}

		now := time.Now().UTC()
		if err := tx.Model(batch).Updates(map[string]interface{}{
			"status":    domain.BatchStatusFailed,
			"failed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}

		// Release the records so the next poll batches them under a new ID
		if err := tx.Model(&schema.NicknameRecord{}).
			Where("migration_batch_id = ? AND migration_status = ?",
				batchID, domain.MigrationStatusAuthorized).
			Update("migration_batch_id", nil).Error; err != nil {
			return fmt.Errorf("failed to release batch records: %w", err)
		}
		return nil
	})
}

func (s *pgStore) GetMigrationBatch(ctx context.Context, batchID string) (*schema.MigrationBatch, error) {
	var batch schema.MigrationBatch
	err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get migration batch: %w", err)
	}
	return &batch, nil
}

func (s *pgStore) ListReservedNames(ctx context.Context) ([]schema.ReservedName, error) {
	var names []schema.ReservedName
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&names).Error; err != nil {
		return nil, fmt.Errorf("failed to list reserved names: %w", err)
	}
	return names, nil
}

func (s *pgStore) CountActiveNicknames(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&schema.NicknameRecord{}).
		Where("replaced_at IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active nicknames: %w", err)
	}
	return count, nil
}

// lockBatch loads a batch FOR UPDATE so concurrent confirmations serialize
func lockBatch(tx *gorm.DB, batchID string) (*schema.MigrationBatch, error) {
	var batch schema.MigrationBatch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_id = ?", batchID).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to load migration batch: %w", err)
	}
	return &batch, nil
}
