//go:build integration

package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"minutebars/internal/domain"
	"minutebars/internal/infra/connect"
	"minutebars/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationCopyBars(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env := testutils.StartPostgres(t, ctx)
	dsn := "postgres://minutebars:minutebars@" + env.Endpoint + "/minutebars?sslmode=disable"
	sink, err := NewSink(ctx, dsn, connect.Policy{Attempts: 10, Delay: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer sink.Close(ctx)

	anchor := time.Unix(1609459200, 0).UTC()
	bars := []domain.Bar{
		{Symbol: "A", Exchange: "NYSE", Duration: "1m", Timestamp: anchor, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10},
		{Symbol: "A", Exchange: "NYSE", Duration: "1m", Timestamp: anchor.Add(time.Minute), Open: 2, High: 3, Low: 2, Close: 3, Volume: 20},
	}
	require.NoError(t, sink.InsertBars(ctx, bars))
	require.NoError(t, sink.InsertBars(ctx, bars))

	var n int
	require.NoError(t, sink.pool.QueryRow(ctx, "SELECT count(*) FROM bars WHERE symbol = 'A'").Scan(&n))
	assert.Equal(t, 4, n)
}
