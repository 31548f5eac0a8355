package usecase

import (
	"context"
	"log/slog"

	"minutebars/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Runner executes one run over a list of assets.
type Runner interface {
	Run(ctx context.Context, assets []domain.Asset) (*domain.RunRecord, error)
}

// RunService 负责触发运行以及查询运行历史。
type RunService struct {
	runner Runner
	runs   domain.RunRepository
	assets []domain.Asset
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRunService creates a RunService that runs over assets.
func NewRunService(runner Runner, runs domain.RunRepository, assets []domain.Asset, logger *slog.Logger) *RunService {
	return &RunService{
		runner: runner,
		runs:   runs,
		assets: assets,
		logger: logger.With("component", "run-service"),
		tracer: otel.Tracer("minutebars-usecase"),
	}
}

// Trigger 执行一次完整的运行。
func (s *RunService) Trigger(ctx context.Context) (*domain.RunRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Trigger")
	defer span.End()
	span.SetAttributes(attribute.Int("run.assets", len(s.assets)))

	// The runner mutates its copy of each asset.
	assets := make([]domain.Asset, len(s.assets))
	copy(assets, s.assets)

	record, err := s.runner.Run(ctx, assets)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run did not complete")
	}
	return record, err
}

// Get 获取一次运行的记录。
func (s *RunService) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Get")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	record, err := s.runs.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get run from repository")
	}
	return record, err
}

// List 分页列出运行历史，最新的在前。
func (s *RunService) List(ctx context.Context, page, pageSize int) ([]*domain.RunRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.List")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	records, err := s.runs.List(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list runs from repository")
	}
	return records, err
}
