// internal/infra/postgres/sink.go
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"minutebars/internal/domain"
	"minutebars/internal/infra/connect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Schema creates the bars table. No uniqueness: redelivery may repeat rows.
const Schema = `CREATE TABLE IF NOT EXISTS bars (
	symbol    TEXT             NOT NULL,
	exchange  TEXT             NOT NULL,
	duration  TEXT             NOT NULL,
	ts        TIMESTAMPTZ      NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	volume    BIGINT           NOT NULL
);
CREATE INDEX IF NOT EXISTS bars_exchange_symbol_ts ON bars (exchange, symbol, ts);`

var barColumns = []string{"symbol", "exchange", "duration", "ts", "open", "high", "low", "close", "volume"}

// Sink bulk-loads bars into PostgreSQL with COPY.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	tracer trace.Tracer
}

// NewSink connects to PostgreSQL and creates the bars table if needed.
func NewSink(ctx context.Context, dsn string, policy connect.Policy, logger *slog.Logger) (*Sink, error) {
	logger = logger.With("component", "postgres-sink")

	pool, err := connect.Retry(ctx, policy, logger, "postgres", func(ctx context.Context) (*pgxpool.Pool, error) {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connect failed: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema setup failed: %w", err)
	}
	return &Sink{pool: pool, logger: logger, tracer: otel.Tracer("minutebars-postgres-sink")}, nil
}

// InsertBars copies the batch inside one transaction.
func (s *Sink) InsertBars(ctx context.Context, bars []domain.Bar) error {
	ctx, span := s.tracer.Start(ctx, "sink.postgres.InsertBars")
	defer span.End()
	span.SetAttributes(attribute.Int("bars", len(bars)))

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"bars"}, barColumns, pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
			return barRow(bars[i]), nil
		}))
		if err != nil {
			return err
		}
		if int(n) != len(bars) {
			return fmt.Errorf("copied %d of %d bars", n, len(bars))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "copy failed")
		return fmt.Errorf("postgres insert of %d bars failed: %w", len(bars), err)
	}
	return nil
}

func barRow(b domain.Bar) []any {
	return []any{b.Symbol, b.Exchange, b.Duration, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume}
}

// Close closes the pool.
func (s *Sink) Close(context.Context) error {
	s.pool.Close()
	return nil
}
