package blob

import (
	"context"
	"testing"

	"minutebars/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_StoreAndLoad(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, "mem://")
	require.NoError(t, err)
	defer a.Close()

	asset := domain.Asset{Symbol: "ABEV", ExchangeCode: "NYSE", RawResponse: "a1609459200,1,1,1,1,1\n"}
	require.NoError(t, a.Store(ctx, "run-1", asset))

	got, err := a.Load(ctx, "run-1", asset)
	require.NoError(t, err)
	assert.Equal(t, asset.RawResponse, got)

	// Redelivery overwrites.
	require.NoError(t, a.Store(ctx, "run-1", asset.WithResponse("")))
	got, err = a.Load(ctx, "run-1", asset)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestArchive_FileBucket(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, "file://"+t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	asset := domain.Asset{Symbol: "CAT", ExchangeCode: "NYSE", RawResponse: "body"}
	require.NoError(t, a.Store(ctx, "run-9", asset))

	got, err := a.Load(ctx, "run-9", asset)
	require.NoError(t, err)
	assert.Equal(t, "body", got)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "run-1/NYSE/A.txt", Key("run-1", domain.Asset{Symbol: "A", ExchangeCode: "NYSE"}))
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "nope://bucket")
	assert.Error(t, err)
}
