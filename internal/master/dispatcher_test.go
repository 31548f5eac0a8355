package master

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"minutebars/internal/domain"
	"minutebars/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyQueue struct {
	*memory.Queue
	failAfter int
	published int
}

var errBrokerDown = errors.New("broker down")

func (f *flakyQueue) Publish(ctx context.Context, queue string, payload []byte) error {
	if f.published >= f.failAfter {
		return errBrokerDown
	}
	f.published++
	return f.Queue.Publish(ctx, queue, payload)
}

func TestDispatcher_PublishesOneTaskPerAsset(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue()
	acks := memory.NewAckLog()
	d := NewDispatcher(queue, acks, "", discardLogger())

	n, err := d.Dispatch(ctx, "run-1", testAssets())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	expected, err := acks.Expected(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, expected)

	payloads := queue.Drain(domain.QueueURL)
	require.Len(t, payloads, 3)

	var first domain.Asset
	require.NoError(t, json.Unmarshal(payloads[0], &first))
	assert.Equal(t, "A", first.Symbol)
	assert.Equal(t, "run-1", first.RunID)
	assert.Empty(t, first.RawResponse)
	assert.Equal(t, "https://www.google.com/finance/getprices?e=NYSE&q=A&i=60s&p=2d&f=d,o,h,l,c,v", first.FetchURL)
}

func TestDispatcher_UsesConfiguredURLBase(t *testing.T) {
	queue := memory.NewQueue()
	d := NewDispatcher(queue, memory.NewAckLog(), "http://localhost:9999/getprices", discardLogger())

	_, err := d.Dispatch(context.Background(), "run-1", testAssets()[:1])
	require.NoError(t, err)

	var task domain.Asset
	require.NoError(t, json.Unmarshal(queue.Drain(domain.QueueURL)[0], &task))
	assert.Equal(t, "http://localhost:9999/getprices?e=NYSE&q=A&i=60s&p=2d&f=d,o,h,l,c,v", task.FetchURL)
}

func TestDispatcher_InvalidAssetPublishesNothing(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue()
	acks := memory.NewAckLog()
	d := NewDispatcher(queue, acks, "", discardLogger())

	assets := append(testAssets(), domain.Asset{Symbol: "CAT"})
	n, err := d.Dispatch(ctx, "run-1", assets)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, queue.Len(domain.QueueURL))

	_, err = acks.Expected(ctx, "run-1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestDispatcher_PartialPublishLowersExpected(t *testing.T) {
	ctx := context.Background()
	queue := &flakyQueue{Queue: memory.NewQueue(), failAfter: 2}
	acks := memory.NewAckLog()
	d := NewDispatcher(queue, acks, "", discardLogger())

	n, err := d.Dispatch(ctx, "run-1", testAssets())
	require.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, queue.Len(domain.QueueURL))

	expected, err := acks.Expected(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, expected)
}

func TestDispatcher_EmptyAssetList(t *testing.T) {
	ctx := context.Background()
	acks := memory.NewAckLog()
	d := NewDispatcher(memory.NewQueue(), acks, "", discardLogger())

	n, err := d.Dispatch(ctx, "run-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	expected, err := acks.Expected(ctx, "run-1")
	require.NoError(t, err)
	assert.Zero(t, expected)
}

func TestDispatcher_DuplicateAssetsAreSentOnce(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue()
	acks := memory.NewAckLog()
	d := NewDispatcher(queue, acks, "", discardLogger())

	a := testAssets()[0]
	n, err := d.Dispatch(ctx, "run-1", []domain.Asset{a, testAssets()[1], a})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, queue.Len(domain.QueueURL))

	expected, err := acks.Expected(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, expected)
}
