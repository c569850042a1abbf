package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/naming"
)

// =============================================================================
// Test Data Builders
// =============================================================================

var testNamespace = naming.NewNamespace("villa.eth")

// buildClaimInput creates a claim input with hashes derived the same way the
// claim service derives them
func buildClaimInput(nickname, owner string) ClaimNicknameInput {
	normalized := naming.Normalize(nickname)
	nameHash, labelHash := testNamespace.Hashes(normalized)
	return ClaimNicknameInput{
		Nickname:           nickname,
		NormalizedNickname: normalized,
		NameHash:           nameHash.Hex(),
		LabelHash:          labelHash.Hex(),
		ParentNameHash:     testNamespace.ParentHash().Hex(),
		OwnerAddress:       owner,
		MigrationStatus:    domain.MigrationStatusOffChain,
	}
}

// buildAuthorizationBundle creates a JSON authorization payload like the one
// the claim service persists
func buildAuthorizationBundle(t *testing.T, nameHash, owner string) []byte {
	bundle, err := json.Marshal(map[string]interface{}{
		"name_hash": nameHash,
		"owner":     owner,
		"signature": "0x" + fmt.Sprintf("%0130d", 1),
	})
	require.NoError(t, err)
	return bundle
}

// claimAndAuthorize claims a nickname and moves it to authorized
func claimAndAuthorize(t *testing.T, store Store, nickname, owner string) string {
	ctx := context.Background()
	input := buildClaimInput(nickname, owner)
	record, err := store.ClaimNickname(ctx, input)
	require.NoError(t, err)

	_, err = store.SetMigrationAuthorization(ctx, record.NameHash,
		buildAuthorizationBundle(t, record.NameHash, owner))
	require.NoError(t, err)

	return record.NameHash
}

// =============================================================================
// Test: ClaimNickname
// =============================================================================

func testClaimNickname(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("successful claim persists all fields", func(t *testing.T) {
		input := buildClaimInput("Alice", "0x1111111111111111111111111111111111111111")

		record, err := store.ClaimNickname(ctx, input)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.NotZero(t, record.ID)
		assert.Equal(t, "Alice", record.Nickname)
		assert.Equal(t, "alice", record.NormalizedNickname)
		assert.Equal(t, input.NameHash, record.NameHash)
		assert.Equal(t, input.LabelHash, record.LabelHash)
		assert.Equal(t, input.ParentNameHash, record.ParentNameHash)
		assert.Equal(t, input.OwnerAddress, record.OwnerAddress)
		assert.Equal(t, domain.MigrationStatusOffChain, record.MigrationStatus)
		assert.Nil(t, record.ReplacedAt)
		assert.Nil(t, record.MigratedTxID)
	})

	t.Run("same normalized name is rejected regardless of casing", func(t *testing.T) {
		_, err := store.ClaimNickname(ctx, buildClaimInput("bob", "0x2222222222222222222222222222222222222222"))
		require.NoError(t, err)

		_, err = store.ClaimNickname(ctx, buildClaimInput("BOB", "0x3333333333333333333333333333333333333333"))
		assert.ErrorIs(t, err, domain.ErrNicknameTaken)
	})

	t.Run("owner with an active nickname cannot claim a second one", func(t *testing.T) {
		owner := "0x4444444444444444444444444444444444444444"
		_, err := store.ClaimNickname(ctx, buildClaimInput("carol", owner))
		require.NoError(t, err)

		_, err = store.ClaimNickname(ctx, buildClaimInput("carola", owner))
		assert.ErrorIs(t, err, domain.ErrOwnerHasNickname)
	})

	t.Run("reserved name is rejected with its reason", func(t *testing.T) {
		_, err := store.ClaimNickname(ctx, buildClaimInput("admin", "0x5555555555555555555555555555555555555555"))
		require.Error(t, err)

		var reservedErr *domain.ReservedNameError
		require.ErrorAs(t, err, &reservedErr)
		assert.Equal(t, "admin", reservedErr.Name)
		assert.NotEmpty(t, reservedErr.Reason)
		assert.True(t, domain.IsPolicyError(err))
	})

	t.Run("replace existing deprecates the old record", func(t *testing.T) {
		owner := "0x6666666666666666666666666666666666666666"
		first, err := store.ClaimNickname(ctx, buildClaimInput("dave", owner))
		require.NoError(t, err)

		replacement := buildClaimInput("davey", owner)
		replacement.ReplaceExisting = true
		second, err := store.ClaimNickname(ctx, replacement)
		require.NoError(t, err)
		assert.Equal(t, "davey", second.NormalizedNickname)

		// Old row survives with replaced_at set
		old, err := store.GetByNormalized(ctx, first.NormalizedNickname)
		require.NoError(t, err)
		require.NotNil(t, old)
		assert.NotNil(t, old.ReplacedAt)

		// Active lookup now finds the replacement
		active, err := store.GetActiveByOwner(ctx, owner)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "davey", active.NormalizedNickname)
	})

	t.Run("deprecated name stays taken forever", func(t *testing.T) {
		owner := "0x7777777777777777777777777777777777777777"
		_, err := store.ClaimNickname(ctx, buildClaimInput("erin", owner))
		require.NoError(t, err)

		replacement := buildClaimInput("erinn", owner)
		replacement.ReplaceExisting = true
		_, err = store.ClaimNickname(ctx, replacement)
		require.NoError(t, err)

		_, err = store.ClaimNickname(ctx, buildClaimInput("erin", "0x8888888888888888888888888888888888888888"))
		assert.ErrorIs(t, err, domain.ErrNicknameTaken)
	})

	t.Run("owner address is stored lowercase", func(t *testing.T) {
		record, err := store.ClaimNickname(ctx, buildClaimInput("frank", "0xAbCdEf9999999999999999999999999999999999"))
		require.NoError(t, err)
		assert.Equal(t, "0xabcdef9999999999999999999999999999999999", record.OwnerAddress)
	})
}

// =============================================================================
// Test: CheckAvailability
// =============================================================================

func testCheckAvailability(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("unclaimed name is available", func(t *testing.T) {
		status, reason, err := store.CheckAvailability(ctx, "unclaimed")
		require.NoError(t, err)
		assert.Equal(t, domain.AvailabilityAvailable, status)
		assert.Empty(t, reason)
	})

	t.Run("claimed name is taken", func(t *testing.T) {
		_, err := store.ClaimNickname(ctx, buildClaimInput("george", "0x1111111111111111111111111111111111111111"))
		require.NoError(t, err)

		status, _, err := store.CheckAvailability(ctx, "george")
		require.NoError(t, err)
		assert.Equal(t, domain.AvailabilityTaken, status)
	})

	t.Run("deprecated name is still taken", func(t *testing.T) {
		owner := "0x2222222222222222222222222222222222222222"
		_, err := store.ClaimNickname(ctx, buildClaimInput("harry", owner))
		require.NoError(t, err)

		replacement := buildClaimInput("harold", owner)
		replacement.ReplaceExisting = true
		_, err = store.ClaimNickname(ctx, replacement)
		require.NoError(t, err)

		status, _, err := store.CheckAvailability(ctx, "harry")
		require.NoError(t, err)
		assert.Equal(t, domain.AvailabilityTaken, status)
	})

	t.Run("reserved name reports reserved with reason", func(t *testing.T) {
		status, reason, err := store.CheckAvailability(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, domain.AvailabilityReserved, status)
		assert.NotEmpty(t, reason)
	})
}

// =============================================================================
// Test: Lookups
// =============================================================================

func testLookups(t *testing.T, store Store) {
	ctx := context.Background()

	owner := "0x1111111111111111111111111111111111111111"
	input := buildClaimInput("iris", owner)
	record, err := store.ClaimNickname(ctx, input)
	require.NoError(t, err)

	t.Run("GetByNormalized finds the record", func(t *testing.T) {
		found, err := store.GetByNormalized(ctx, "iris")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, record.ID, found.ID)
	})

	t.Run("GetByNameHash finds the active record", func(t *testing.T) {
		found, err := store.GetByNameHash(ctx, record.NameHash)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, record.ID, found.ID)
	})

	t.Run("GetActiveByOwner is case-insensitive on the address", func(t *testing.T) {
		found, err := store.GetActiveByOwner(ctx, "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		require.NotNil(t, found)

		found, err = store.GetActiveByOwner(ctx, "0X1111111111111111111111111111111111111111")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, record.ID, found.ID)
	})

	t.Run("missing rows return nil without error", func(t *testing.T) {
		found, err := store.GetByNormalized(ctx, "nosuchname")
		require.NoError(t, err)
		assert.Nil(t, found)

		found, err = store.GetByNameHash(ctx, "0x0000000000000000000000000000000000000000000000000000000000000001")
		require.NoError(t, err)
		assert.Nil(t, found)

		found, err = store.GetActiveByOwner(ctx, "0x9999999999999999999999999999999999999999")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("deprecated record drops out of active lookups only", func(t *testing.T) {
		replacement := buildClaimInput("irina", owner)
		replacement.ReplaceExisting = true
		_, err := store.ClaimNickname(ctx, replacement)
		require.NoError(t, err)

		// Name hash lookup resolves active records only
		found, err := store.GetByNameHash(ctx, record.NameHash)
		require.NoError(t, err)
		assert.Nil(t, found)

		// Normalized lookup still sees the deprecated row
		found, err = store.GetByNormalized(ctx, "iris")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.NotNil(t, found.ReplacedAt)
	})
}

// =============================================================================
// Test: SetMigrationAuthorization
// =============================================================================

func testSetMigrationAuthorization(t *testing.T, store Store) {
	ctx := context.Background()

	owner := "0x1111111111111111111111111111111111111111"
	record, err := store.ClaimNickname(ctx, buildClaimInput("jane", owner))
	require.NoError(t, err)

	t.Run("off-chain record becomes authorized", func(t *testing.T) {
		bundle := buildAuthorizationBundle(t, record.NameHash, owner)
		updated, err := store.SetMigrationAuthorization(ctx, record.NameHash, bundle)
		require.NoError(t, err)
		assert.Equal(t, domain.MigrationStatusAuthorized, updated.MigrationStatus)

		found, err := store.GetByNameHash(ctx, record.NameHash)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, domain.MigrationStatusAuthorized, found.MigrationStatus)
		assert.JSONEq(t, string(bundle), string(found.MigrationAuthorization))
	})

	t.Run("authorized record accepts a refreshed bundle", func(t *testing.T) {
		refreshed := buildAuthorizationBundle(t, record.NameHash, owner)
		_, err := store.SetMigrationAuthorization(ctx, record.NameHash, refreshed)
		require.NoError(t, err)
	})

	t.Run("unknown name hash returns not found", func(t *testing.T) {
		_, err := store.SetMigrationAuthorization(ctx,
			"0x0000000000000000000000000000000000000000000000000000000000000002",
			buildAuthorizationBundle(t, "0x02", owner))
		assert.ErrorIs(t, err, domain.ErrNicknameNotFound)
	})

	t.Run("migrated record rejects re-authorization", func(t *testing.T) {
		// Drive the record to migrated through a batch
		batchID := ulid.Make().String()
		err := store.CreateMigrationBatch(ctx, CreateMigrationBatchInput{
			BatchID:    batchID,
			NameHashes: []string{record.NameHash},
		})
		require.NoError(t, err)
		require.NoError(t, store.MarkBatchSubmitted(ctx, batchID))
		require.NoError(t, store.ConfirmMigrationBatch(ctx, batchID, "0xtx1"))

		_, err = store.SetMigrationAuthorization(ctx, record.NameHash,
			buildAuthorizationBundle(t, record.NameHash, owner))
		assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	})
}

// =============================================================================
// Test: Migration batch lifecycle
// =============================================================================

func testMigrationBatchLifecycle(t *testing.T, store Store) {
	ctx := context.Background()

	hashA := claimAndAuthorize(t, store, "kara", "0x1111111111111111111111111111111111111111")
	hashB := claimAndAuthorize(t, store, "liam", "0x2222222222222222222222222222222222222222")
	hashC := claimAndAuthorize(t, store, "mona", "0x3333333333333333333333333333333333333333")

	t.Run("ListAuthorizedUnbatched returns oldest first and honors the limit", func(t *testing.T) {
		records, err := store.ListAuthorizedUnbatched(ctx, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, hashA, records[0].NameHash)
		assert.Equal(t, hashB, records[1].NameHash)

		records, err = store.ListAuthorizedUnbatched(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	batchID := ulid.Make().String()

	t.Run("CreateMigrationBatch stamps the records", func(t *testing.T) {
		snapshot, err := json.Marshal([]map[string]string{
			{"name_hash": hashA}, {"name_hash": hashB},
		})
		require.NoError(t, err)

		err = store.CreateMigrationBatch(ctx, CreateMigrationBatchInput{
			BatchID:         batchID,
			NameHashes:      []string{hashA, hashB},
			EntriesSnapshot: snapshot,
		})
		require.NoError(t, err)

		batch, err := store.GetMigrationBatch(ctx, batchID)
		require.NoError(t, err)
		require.NotNil(t, batch)
		assert.Equal(t, domain.BatchStatusPending, batch.Status)
		assert.Equal(t, 2, batch.RecordCount)
		assert.Nil(t, batch.SubmittedAt)

		// Batched records no longer show up for the next poll
		records, err := store.ListAuthorizedUnbatched(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, hashC, records[0].NameHash)
	})

	t.Run("CreateMigrationBatch rolls back when a record changed underneath", func(t *testing.T) {
		err := store.CreateMigrationBatch(ctx, CreateMigrationBatchInput{
			BatchID:    ulid.Make().String(),
			NameHashes: []string{hashA, hashC}, // hashA already batched
		})
		require.Error(t, err)

		// hashC must not be stamped by the failed batch
		records, err := store.ListAuthorizedUnbatched(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, hashC, records[0].NameHash)
	})

	t.Run("MarkBatchSubmitted is idempotent", func(t *testing.T) {
		require.NoError(t, store.MarkBatchSubmitted(ctx, batchID))
		require.NoError(t, store.MarkBatchSubmitted(ctx, batchID))

		batch, err := store.GetMigrationBatch(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusSubmitted, batch.Status)
		assert.NotNil(t, batch.SubmittedAt)
	})

	t.Run("ConfirmMigrationBatch migrates the records", func(t *testing.T) {
		require.NoError(t, store.ConfirmMigrationBatch(ctx, batchID, "0xtxabc"))

		batch, err := store.GetMigrationBatch(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusConfirmed, batch.Status)
		require.NotNil(t, batch.TxID)
		assert.Equal(t, "0xtxabc", *batch.TxID)
		assert.NotNil(t, batch.ConfirmedAt)

		for _, h := range []string{hashA, hashB} {
			record, err := store.GetByNameHash(ctx, h)
			require.NoError(t, err)
			require.NotNil(t, record)
			assert.Equal(t, domain.MigrationStatusMigrated, record.MigrationStatus)
			require.NotNil(t, record.MigratedTxID)
			assert.Equal(t, "0xtxabc", *record.MigratedTxID)
		}

		// Unbatched record is untouched
		record, err := store.GetByNameHash(ctx, hashC)
		require.NoError(t, err)
		assert.Equal(t, domain.MigrationStatusAuthorized, record.MigrationStatus)
	})

	t.Run("duplicate confirmation is a no-op", func(t *testing.T) {
		require.NoError(t, store.ConfirmMigrationBatch(ctx, batchID, "0xtxabc"))
	})

	t.Run("confirmed batch cannot fail", func(t *testing.T) {
		err := store.FailMigrationBatch(ctx, batchID)
		assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	})

	t.Run("unknown batch returns typed errors", func(t *testing.T) {
		err := store.ConfirmMigrationBatch(ctx, "01JUNKBATCHIDXXXXXXXXXXXXX", "0xtx")
		assert.ErrorIs(t, err, domain.ErrBatchNotFound)

		batch, err := store.GetMigrationBatch(ctx, "01JUNKBATCHIDXXXXXXXXXXXXX")
		require.NoError(t, err)
		assert.Nil(t, batch)
	})
}

// =============================================================================
// Test: FailMigrationBatch
// =============================================================================

func testFailMigrationBatch(t *testing.T, store Store) {
	ctx := context.Background()

	hash := claimAndAuthorize(t, store, "nina", "0x1111111111111111111111111111111111111111")

	batchID := ulid.Make().String()
	err := store.CreateMigrationBatch(ctx, CreateMigrationBatchInput{
		BatchID:    batchID,
		NameHashes: []string{hash},
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkBatchSubmitted(ctx, batchID))

	t.Run("failing a batch releases its records", func(t *testing.T) {
		require.NoError(t, store.FailMigrationBatch(ctx, batchID))

		batch, err := store.GetMigrationBatch(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusFailed, batch.Status)
		assert.NotNil(t, batch.FailedAt)

		// Record is back in the pool, still authorized
		records, err := store.ListAuthorizedUnbatched(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, hash, records[0].NameHash)
		assert.Equal(t, domain.MigrationStatusAuthorized, records[0].MigrationStatus)
	})

	t.Run("duplicate failure is a no-op", func(t *testing.T) {
		require.NoError(t, store.FailMigrationBatch(ctx, batchID))
	})

	t.Run("failed batch cannot confirm", func(t *testing.T) {
		err := store.ConfirmMigrationBatch(ctx, batchID, "0xtx")
		assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	})

	t.Run("released record can join a fresh batch", func(t *testing.T) {
		retryID := ulid.Make().String()
		err := store.CreateMigrationBatch(ctx, CreateMigrationBatchInput{
			BatchID:    retryID,
			NameHashes: []string{hash},
		})
		require.NoError(t, err)
		require.NoError(t, store.MarkBatchSubmitted(ctx, retryID))
		require.NoError(t, store.ConfirmMigrationBatch(ctx, retryID, "0xtxretry"))

		record, err := store.GetByNameHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, domain.MigrationStatusMigrated, record.MigrationStatus)
	})
}

// =============================================================================
// Test: Reserved names and counts
// =============================================================================

func testReservedNamesAndCounts(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("ListReservedNames returns the seeded set", func(t *testing.T) {
		names, err := store.ListReservedNames(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, names)

		seen := make(map[string]bool, len(names))
		for _, n := range names {
			seen[n.Name] = true
			assert.NotEmpty(t, n.Reason)
		}
		assert.True(t, seen["admin"])
		assert.True(t, seen["villa"])
	})

	t.Run("CountActiveNicknames ignores deprecated rows", func(t *testing.T) {
		before, err := store.CountActiveNicknames(ctx)
		require.NoError(t, err)

		owner := "0x1111111111111111111111111111111111111111"
		_, err = store.ClaimNickname(ctx, buildClaimInput("oscar", owner))
		require.NoError(t, err)

		replacement := buildClaimInput("oskar", owner)
		replacement.ReplaceExisting = true
		_, err = store.ClaimNickname(ctx, replacement)
		require.NoError(t, err)

		after, err := store.CountActiveNicknames(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	})
}

// =============================================================================
// Test Suite Runner
// =============================================================================

// RunStoreTests runs all store tests against a Store implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"ClaimNickname", testClaimNickname},
		{"CheckAvailability", testCheckAvailability},
		{"Lookups", testLookups},
		{"SetMigrationAuthorization", testSetMigrationAuthorization},
		{"MigrationBatchLifecycle", testMigrationBatchLifecycle},
		{"FailMigrationBatch", testFailMigrationBatch},
		{"ReservedNamesAndCounts", testReservedNamesAndCounts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			tt.fn(t, store)
		})
	}
}
