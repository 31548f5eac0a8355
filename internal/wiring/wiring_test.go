package wiring

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"minutebars/internal/config"
	"minutebars/internal/domain"
	"minutebars/internal/infra/memory"
	"minutebars/internal/infra/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		ConnectAttempts: 1,
		RetryDelay:      time.Millisecond,
		Broker:          config.BrokerConfig{Kind: "memory"},
		AckLog:          config.AckLogConfig{Kind: "memory"},
		Sink:            config.SinkConfig{Kind: "memory"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResources_MemoryStack(t *testing.T) {
	ctx := context.Background()
	res := New(testConfig(), discardLogger())

	q, err := res.Queue(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.Queue{}, q)

	acks, err := res.AckLog(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.AckLog{}, acks)

	sink, err := res.Sink(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.Sink{}, sink)

	archive, err := res.Archive(ctx)
	require.NoError(t, err)
	assert.Nil(t, archive)

	runs, err := res.Runs(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.RunRepository{}, runs)

	locker, err := res.Locker(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.Locker{}, locker)

	require.NoError(t, res.Close(ctx))
	assert.ErrorIs(t, q.Publish(ctx, domain.QueueURL, []byte("{}")), memory.ErrClosed)
}

func TestResources_GormSqliteAndArchive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Sink = config.SinkConfig{
		Kind: "gorm",
		Gorm: config.GormConfig{Dialect: "sqlite", DSN: ":memory:", BatchSize: 100},
	}
	cfg.Archive.URL = "mem://"
	res := New(cfg, discardLogger())
	t.Cleanup(func() { _ = res.Close(ctx) })

	sink, err := res.Sink(ctx)
	require.NoError(t, err)
	require.IsType(t, &sqlstore.Sink{}, sink)

	bar := domain.Bar{
		Symbol:    "A",
		Exchange:  "NYSE",
		Duration:  domain.BarDurationMinute,
		Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      1,
		High:      2,
		Low:       0.5,
		Close:     1.5,
		Volume:    10,
	}
	require.NoError(t, sink.InsertBars(ctx, []domain.Bar{bar}))
	stored, err := sink.(*sqlstore.Sink).Bars(ctx, "NYSE", "A")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, bar.Timestamp.Equal(stored[0].Timestamp))

	archive, err := res.Archive(ctx)
	require.NoError(t, err)
	require.NotNil(t, archive)
	require.NoError(t, archive.Store(ctx, "run-1", domain.Asset{Symbol: "A", ExchangeCode: "NYSE", RawResponse: "body"}))
}

func TestResources_EtcdRequired(t *testing.T) {
	cfg := testConfig()
	cfg.AckLog.Kind = "etcd"
	res := New(cfg, discardLogger())

	_, err := res.AckLog(context.Background())
	assert.ErrorIs(t, err, ErrNoEtcd)
	assert.False(t, res.HasEtcd())
}

func TestResources_UnknownKinds(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Broker.Kind = "sqs"
	cfg.Sink.Kind = "cassandra"
	res := New(cfg, discardLogger())

	_, err := res.Queue(ctx)
	assert.Error(t, err)
	_, err = res.Sink(ctx)
	assert.Error(t, err)
}
