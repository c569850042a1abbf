package migration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/migration"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

const signalTimeout = 5 * time.Second

// fakePublisher captures published batches and signals each attempt.
type fakePublisher struct {
	mu         sync.Mutex
	published  []*domain.BatchSubmitRequest
	publishErr error
	attemptCh  chan *domain.BatchSubmitRequest
	closeCh    chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		attemptCh: make(chan *domain.BatchSubmitRequest, 8),
		closeCh:   make(chan struct{}),
	}
}

func (f *fakePublisher) PublishBatchSubmission(_ context.Context, batch *domain.BatchSubmitRequest) error {
	f.mu.Lock()
	err := f.publishErr
	if err == nil {
		f.published = append(f.published, batch)
	}
	f.mu.Unlock()

	select {
	case f.attemptCh <- batch:
	default:
	}
	return err
}

func (f *fakePublisher) Close() {}

func (f *fakePublisher) CloseChan() <-chan struct{} { return f.closeCh }

func (f *fakePublisher) publishedBatches() []*domain.BatchSubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.BatchSubmitRequest(nil), f.published...)
}

type coordinatorFixture struct {
	worker    migration.Worker
	store     *fakeStore
	publisher *fakePublisher
	namespace naming.Namespace
	clock     *manualClock
}

func newCoordinatorFixture(batchSize int) *coordinatorFixture {
	f := &coordinatorFixture{
		store:     newFakeStore(),
		publisher: newFakePublisher(),
		namespace: naming.NewNamespace(domain.DEFAULT_PARENT_DOMAIN),
		clock:     newManualClock(),
	}

	f.worker = migration.NewCoordinator(
		config.MigrationConfig{
			PollInterval: 30 * time.Second,
			BatchSize:    batchSize,
			Worker:       config.WorkerConfig{WorkerPoolSize: 2, WorkerQueueSize: 8},
		},
		f.store, f.publisher, f.namespace, adapter.NewJSON(), f.clock,
	)
	return f
}

// start runs the coordinator and returns its exit channel.
func (f *coordinatorFixture) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- f.worker.Start(ctx)
	}()
	return done
}

func (f *coordinatorFixture) stop(t *testing.T, done <-chan error) {
	t.Helper()

	stopCtx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	require.NoError(t, f.worker.Stop(stopCtx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(signalTimeout):
		t.Fatal("coordinator did not exit")
	}
}

// authorizedRecord builds a stored record carrying a sealed authorization.
func (f *coordinatorFixture) authorizedRecord(t *testing.T, label string, owner common.Address) *schema.NicknameRecord {
	t.Helper()

	nameHash, labelHash := f.namespace.Hashes(label)
	bundle, err := json.Marshal(domain.MigrationAuthorization{
		NameHash:  nameHash,
		Owner:     owner,
		Signature: bytes.Repeat([]byte{0x11}, 65),
		SignedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	return &schema.NicknameRecord{
		Nickname:               label,
		NormalizedNickname:     label,
		NameHash:               nameHash.Hex(),
		LabelHash:              labelHash.Hex(),
		ParentNameHash:         f.namespace.ParentHash().Hex(),
		OwnerAddress:           strings.ToLower(owner.Hex()),
		MigrationStatus:        domain.MigrationStatusAuthorized,
		MigrationAuthorization: datatypes.JSON(bundle),
	}
}

func awaitString(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(signalTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func awaitBatch(t *testing.T, ch <-chan *domain.BatchSubmitRequest, what string) *domain.BatchSubmitRequest {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(signalTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func awaitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(signalTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestCoordinator_SubmitsBatch(t *testing.T) {
	f := newCoordinatorFixture(10)
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	record := f.authorizedRecord(t, "alice", owner)
	f.store.listQueue = [][]*schema.NicknameRecord{{record}}

	done := f.start(context.Background())

	published := awaitBatch(t, f.publisher.attemptCh, "batch publish")
	markedID := awaitString(t, f.store.markedCh, "batch submit mark")

	assert.Len(t, published.BatchID, 26, "batch IDs are ULIDs")
	assert.Equal(t, published.BatchID, markedID)
	assert.Equal(t, f.namespace.ParentHash(), published.ParentNameHash)
	assert.Equal(t, f.clock.Now(), published.SubmittedAt)

	require.Len(t, published.Entries, 1)
	entry := published.Entries[0]
	assert.Equal(t, "alice", entry.Label)
	assert.Equal(t, record.NameHash, entry.NameHash.Hex())
	assert.Equal(t, record.LabelHash, entry.LabelHash.Hex())
	assert.Equal(t, owner, entry.Owner)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 65), []byte(entry.Authorization))

	created := f.store.createdBatches()
	require.Len(t, created, 1)
	assert.Equal(t, published.BatchID, created[0].BatchID)
	assert.Equal(t, []string{record.NameHash}, created[0].NameHashes)

	// The snapshot must replay into the exact published request
	var snapshot domain.BatchSubmitRequest
	require.NoError(t, json.Unmarshal(created[0].EntriesSnapshot, &snapshot))
	assert.Equal(t, *published, snapshot)

	f.stop(t, done)
}

func TestCoordinator_DrainsBacklogBeforeSleeping(t *testing.T) {
	f := newCoordinatorFixture(2)
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	f.store.listQueue = [][]*schema.NicknameRecord{
		{f.authorizedRecord(t, "alice", owner), f.authorizedRecord(t, "bob", owner)},
		{f.authorizedRecord(t, "carol", owner), f.authorizedRecord(t, "dave", owner)},
	}

	done := f.start(context.Background())

	first := awaitString(t, f.store.markedCh, "first batch mark")
	second := awaitString(t, f.store.markedCh, "second batch mark")
	assert.NotEqual(t, first, second, "every batch gets a fresh ID")

	awaitSignal(t, f.clock.afterSignal, "poll sleep")

	// Two full batches drain back to back; only the empty cycle sleeps
	assert.Equal(t, 1, f.clock.afterCalls())
	assert.GreaterOrEqual(t, f.store.listCallCount(), 3)

	batches := f.publisher.publishedBatches()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Entries, 2)
	assert.Len(t, batches[1].Entries, 2)

	f.stop(t, done)
}

func TestCoordinator_PublishFailureClosesBatch(t *testing.T) {
	f := newCoordinatorFixture(10)
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	f.store.listQueue = [][]*schema.NicknameRecord{{f.authorizedRecord(t, "alice", owner)}}
	f.publisher.publishErr = errors.New("broker unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := f.start(ctx)

	attempted := awaitBatch(t, f.publisher.attemptCh, "first publish attempt")
	// Cut the retry loop short; the batch must still be closed
	cancel()

	failedID := awaitString(t, f.store.failedCh, "batch failure")
	assert.Equal(t, attempted.BatchID, failedID)

	f.store.mu.Lock()
	assert.True(t, f.store.failed[failedID])
	assert.Empty(t, f.store.marked)
	f.store.mu.Unlock()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(signalTimeout):
		t.Fatal("coordinator did not exit after cancellation")
	}
}

func TestCoordinator_SkipsUnreadableAuthorizations(t *testing.T) {
	f := newCoordinatorFixture(10)
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	good := f.authorizedRecord(t, "alice", owner)

	truncated := f.authorizedRecord(t, "bob", owner)
	truncated.MigrationAuthorization = datatypes.JSON(`{"name_hash":`)

	unsigned := f.authorizedRecord(t, "carol", owner)
	emptyBundle, err := json.Marshal(domain.MigrationAuthorization{})
	require.NoError(t, err)
	unsigned.MigrationAuthorization = datatypes.JSON(emptyBundle)

	f.store.listQueue = [][]*schema.NicknameRecord{{good, truncated, unsigned}}

	done := f.start(context.Background())

	published := awaitBatch(t, f.publisher.attemptCh, "batch publish")
	awaitString(t, f.store.markedCh, "batch submit mark")

	require.Len(t, published.Entries, 1)
	assert.Equal(t, "alice", published.Entries[0].Label)

	created := f.store.createdBatches()
	require.Len(t, created, 1)
	assert.Equal(t, []string{good.NameHash}, created[0].NameHashes)

	f.stop(t, done)
}

func TestCoordinator_AllRecordsSkippedSubmitsNothing(t *testing.T) {
	f := newCoordinatorFixture(10)
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	truncated := f.authorizedRecord(t, "bob", owner)
	truncated.MigrationAuthorization = datatypes.JSON(`{"name_hash":`)
	f.store.listQueue = [][]*schema.NicknameRecord{{truncated}}

	done := f.start(context.Background())

	awaitSignal(t, f.clock.afterSignal, "poll sleep")

	assert.Empty(t, f.store.createdBatches())
	assert.Empty(t, f.publisher.publishedBatches())

	f.stop(t, done)
}

func TestCoordinator_ListErrorBacksOff(t *testing.T) {
	f := newCoordinatorFixture(10)
	f.store.listErr = errors.New("connection reset")

	done := f.start(context.Background())

	awaitSignal(t, f.clock.afterSignal, "error backoff sleep")
	assert.Equal(t, 1, f.store.listCallCount())

	f.stop(t, done)
}

func TestCoordinator_StartTwice(t *testing.T) {
	f := newCoordinatorFixture(10)

	done := f.start(context.Background())
	awaitSignal(t, f.clock.afterSignal, "idle sleep")

	err := f.worker.Start(context.Background())
	assert.ErrorContains(t, err, "already running")

	f.stop(t, done)
}

func TestCoordinator_StopWithoutStart(t *testing.T) {
	f := newCoordinatorFixture(10)
	assert.NoError(t, f.worker.Stop(context.Background()))
	assert.Equal(t, "migration-coordinator", f.worker.Name())
}
