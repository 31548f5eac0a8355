package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"minutebars/internal/domain"
	"minutebars/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	runs domain.RunRepository
	seen [][]domain.Asset
	err  error
}

func (r *recordingRunner) Run(ctx context.Context, assets []domain.Asset) (*domain.RunRecord, error) {
	r.seen = append(r.seen, assets)
	for i := range assets {
		assets[i].RunID = "mutated"
	}
	if r.err != nil {
		return nil, r.err
	}
	rec := &domain.RunRecord{
		ID:        time.Now().Format(time.RFC3339Nano),
		Status:    domain.RunStatusComplete,
		Expected:  len(assets),
		Processed: len(assets),
		StartedAt: time.Now(),
	}
	return rec, r.runs.Save(ctx, rec)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunService_TriggerPassesACopyOfTheAssets(t *testing.T) {
	repo := memory.NewRunRepository()
	runner := &recordingRunner{runs: repo}
	assets := []domain.Asset{{Symbol: "A", ExchangeCode: "NYSE"}, {Symbol: "CAT", ExchangeCode: "NYSE"}}
	svc := NewRunService(runner, repo, assets, discardLogger())

	rec, err := svc.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Processed)
	assert.Empty(t, assets[0].RunID, "configured assets must not be modified by a run")

	_, err = svc.Trigger(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.seen, 2)
	assert.Empty(t, assets[1].RunID)
}

func TestRunService_TriggerLockHeld(t *testing.T) {
	repo := memory.NewRunRepository()
	svc := NewRunService(&recordingRunner{runs: repo, err: domain.ErrLockNotAcquired}, repo, nil, discardLogger())

	_, err := svc.Trigger(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
}

func TestRunService_GetAndList(t *testing.T) {
	repo := memory.NewRunRepository()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, repo.Save(context.Background(), &domain.RunRecord{
			ID:        id,
			Status:    domain.RunStatusComplete,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	svc := NewRunService(&recordingRunner{runs: repo}, repo, nil, discardLogger())

	rec, err := svc.Get(context.Background(), "r2")
	require.NoError(t, err)
	assert.Equal(t, "r2", rec.ID)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	page, err := svc.List(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "r3", page[0].ID)
	assert.Equal(t, "r2", page[1].ID)
}
