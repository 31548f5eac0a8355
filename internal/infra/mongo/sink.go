// internal/infra/mongo/sink.go
package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"minutebars/internal/domain"
	"minutebars/internal/infra/connect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the MongoDB sink settings.
type Config struct {
	URI        string
	Database   string
	Collection string
	Connect    connect.Policy
}

// Sink writes bars to a MongoDB collection, one document per bar.
type Sink struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewSink connects to MongoDB and ensures the lookup index exists.
func NewSink(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	logger = logger.With("component", "mongo-sink")

	client, err := connect.Retry(ctx, cfg.Connect, logger, "mongo", func(ctx context.Context) (*mongo.Client, error) {
		c, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx, nil); err != nil {
			_ = c.Disconnect(context.Background())
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}

	s := &Sink{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
		tracer:     otel.Tracer("minutebars-mongo-sink"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index ensure failed: %w", err)
	}
	return s, nil
}

// ensureIndexes creates a non-unique lookup index; redelivered batches may
// insert the same bar twice.
func (s *Sink) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "exchange", Value: 1},
			{Key: "symbol", Value: 1},
			{Key: "timestamp", Value: 1},
		},
		Options: options.Index().SetName("exchange_symbol_timestamp"),
	})
	return err
}

// InsertBars stores the batch with a single unordered InsertMany.
func (s *Sink) InsertBars(ctx context.Context, bars []domain.Bar) error {
	ctx, span := s.tracer.Start(ctx, "sink.mongo.InsertBars")
	defer span.End()
	span.SetAttributes(attribute.Int("bars", len(bars)))

	docs := make([]any, len(bars))
	for i := range bars {
		docs[i] = bars[i]
	}

	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert many failed")
		return fmt.Errorf("mongo insert of %d bars failed: %w", len(bars), err)
	}
	return nil
}

// Close disconnects the client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
