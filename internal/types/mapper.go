package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

// RecordToDomain converts a stored nickname row into its domain form. Hex
// columns become typed hashes and the authorization bundle is decoded when
// present; the internal row ID is not exposed.
func RecordToDomain(record *schema.NicknameRecord, json adapter.JSON) (*domain.NicknameRecord, error) {
	if record == nil {
		return nil, nil
	}

	out := &domain.NicknameRecord{
		Nickname:           record.Nickname,
		NormalizedNickname: record.NormalizedNickname,
		NameHash:           common.HexToHash(record.NameHash),
		LabelHash:          common.HexToHash(record.LabelHash),
		ParentNameHash:     common.HexToHash(record.ParentNameHash),
		OwnerAddress:       common.HexToAddress(record.OwnerAddress),
		MigrationStatus:    record.MigrationStatus,
		MigratedTxID:       record.MigratedTxID,
		CreatedAt:          record.CreatedAt,
		ReplacedAt:         record.ReplacedAt,
	}

	if len(record.MigrationAuthorization) > 0 {
		var authorization domain.MigrationAuthorization
		if err := json.Unmarshal(record.MigrationAuthorization, &authorization); err != nil {
			return nil, fmt.Errorf("failed to decode migration authorization: %w", err)
		}
		out.MigrationAuthorization = &authorization
	}

	return out, nil
}

// BatchToDomain converts a stored migration batch into its domain form. The
// member name hashes are recovered from the entries snapshot, which carries
// the exact payload published to the submitter.
func BatchToDomain(batch *schema.MigrationBatch, json adapter.JSON) (*domain.MigrationBatch, error) {
	if batch == nil {
		return nil, nil
	}

	out := &domain.MigrationBatch{
		BatchID:     batch.BatchID,
		Status:      batch.Status,
		TxID:        batch.TxID,
		CreatedAt:   batch.CreatedAt,
		SubmittedAt: batch.SubmittedAt,
		ConfirmedAt: batch.ConfirmedAt,
		FailedAt:    batch.FailedAt,
	}

	if len(batch.EntriesSnapshot) > 0 {
		var request domain.BatchSubmitRequest
		if err := json.Unmarshal(batch.EntriesSnapshot, &request); err != nil {
			return nil, fmt.Errorf("failed to decode batch snapshot: %w", err)
		}
		out.NameHashes = make([]common.Hash, 0, len(request.Entries))
		for _, entry := range request.Entries {
			out.NameHashes = append(out.NameHashes, entry.NameHash)
		}
	}

	return out, nil
}
