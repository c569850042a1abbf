package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/config"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/messaging"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{Debug: false})
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeNatsConn struct {
	closed bool
}

func (f *fakeNatsConn) Close()               { f.closed = true }
func (f *fakeNatsConn) LastError() error     { return nil }
func (f *fakeNatsConn) ConnectedUrl() string { return "nats://localhost:4222" }

type fakeJetStream struct {
	publishErr error

	gotSubject string
	gotData    []byte
	gotOpts    []jetstream.PublishOpt
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.gotSubject = subject
	f.gotData = data
	f.gotOpts = opts
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	return &jetstream.PubAck{Stream: "MIGRATION", Sequence: 1}, nil
}

func (f *fakeJetStream) CreateOrUpdateConsumer(_ context.Context, _ string, _ jetstream.ConsumerConfig) (adapter.Consumer, error) {
	return nil, errors.New("not implemented")
}

type fakeNatsJetStream struct {
	conn       *fakeNatsConn
	js         *fakeJetStream
	connectErr error
	gotURL     string
}

func (f *fakeNatsJetStream) Connect(url string, _ ...nats.Option) (adapter.NatsConn, adapter.JetStream, error) {
	f.gotURL = url
	if f.connectErr != nil {
		return nil, nil, f.connectErr
	}
	return f.conn, f.js, nil
}

func testNATSConfig() config.NATSConfig {
	return config.NATSConfig{
		URL:            "nats://localhost:4222",
		StreamName:     "MIGRATION",
		SubmitSubject:  "migration.batches.submit",
		ConfirmSubject: "migration.batches.confirm",
		MaxReconnects:  3,
		ReconnectWait:  time.Second,
		ConnectionName: "villa-registry-migrator",
	}
}

func testBatch() *domain.BatchSubmitRequest {
	return &domain.BatchSubmitRequest{
		BatchID:        "01JWC0FFAA00000000000000AB",
		ParentNameHash: common.HexToHash("0xdeadbeef"),
		Entries: []domain.BatchEntry{
			{
				Label:     "alice",
				NameHash:  common.HexToHash("0x01"),
				LabelHash: common.HexToHash("0x02"),
				Owner:     common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72"),
			},
		},
		SubmittedAt: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublishBatchSubmission(t *testing.T) {
	t.Run("publishes batch to submit subject", func(t *testing.T) {
		js := &fakeJetStream{}
		natsJS := &fakeNatsJetStream{conn: &fakeNatsConn{}, js: js}

		publisher, err := messaging.NewJetStreamPublisher(testNATSConfig(), natsJS, adapter.NewJSON())
		require.NoError(t, err)
		assert.Equal(t, "nats://localhost:4222", natsJS.gotURL)

		batch := testBatch()
		err = publisher.PublishBatchSubmission(context.Background(), batch)
		require.NoError(t, err)

		assert.Equal(t, "migration.batches.submit", js.gotSubject)

		var published domain.BatchSubmitRequest
		require.NoError(t, json.Unmarshal(js.gotData, &published))
		assert.Equal(t, batch.BatchID, published.BatchID)
		require.Len(t, published.Entries, 1)
		assert.Equal(t, "alice", published.Entries[0].Label)

		// The batch ID rides along as the JetStream message ID so broker
		// dedup absorbs republished batches.
		assert.Len(t, js.gotOpts, 1)
	})

	t.Run("propagates publish errors", func(t *testing.T) {
		js := &fakeJetStream{publishErr: errors.New("no responders")}
		natsJS := &fakeNatsJetStream{conn: &fakeNatsConn{}, js: js}

		publisher, err := messaging.NewJetStreamPublisher(testNATSConfig(), natsJS, adapter.NewJSON())
		require.NoError(t, err)

		err = publisher.PublishBatchSubmission(context.Background(), testBatch())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish batch submit request")
	})

	t.Run("fails when the connection cannot be established", func(t *testing.T) {
		natsJS := &fakeNatsJetStream{connectErr: errors.New("connection refused")}

		_, err := messaging.NewJetStreamPublisher(testNATSConfig(), natsJS, adapter.NewJSON())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to NATS")
	})
}

func TestPublisherClose(t *testing.T) {
	conn := &fakeNatsConn{}
	natsJS := &fakeNatsJetStream{conn: conn, js: &fakeJetStream{}}

	publisher, err := messaging.NewJetStreamPublisher(testNATSConfig(), natsJS, adapter.NewJSON())
	require.NoError(t, err)

	select {
	case <-publisher.CloseChan():
		t.Fatal("close channel closed before Close")
	default:
	}

	publisher.Close()
	publisher.Close() // idempotent

	assert.True(t, conn.closed)
	select {
	case <-publisher.CloseChan():
	default:
		t.Fatal("close channel not closed after Close")
	}
}
