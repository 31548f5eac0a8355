// Package sqlstore is a bar sink on gorm, usable with PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"minutebars/internal/domain"

	sloggorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

// barModel is the row layout of a bar.
type barModel struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"not null;index:idx_minute_bars_lookup,priority:2"`
	Exchange  string    `gorm:"not null;index:idx_minute_bars_lookup,priority:1"`
	Duration  string    `gorm:"not null"`
	Timestamp time.Time `gorm:"column:ts;not null;index:idx_minute_bars_lookup,priority:3"`
	Open      float64   `gorm:"not null"`
	High      float64   `gorm:"not null"`
	Low       float64   `gorm:"not null"`
	Close     float64   `gorm:"not null"`
	Volume    int64     `gorm:"not null"`
}

func (barModel) TableName() string { return "minute_bars" }

func toModel(b domain.Bar) barModel {
	return barModel{
		Symbol:    b.Symbol,
		Exchange:  b.Exchange,
		Duration:  b.Duration,
		Timestamp: b.Timestamp.UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func (m barModel) toDomain() domain.Bar {
	return domain.Bar{
		Symbol:    m.Symbol,
		Exchange:  m.Exchange,
		Duration:  m.Duration,
		Timestamp: m.Timestamp.UTC(),
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		Volume:    m.Volume,
	}
}

// Open opens a gorm database. dialect is "postgres" or "sqlite".
func Open(dialect, dsn string, logHandler slog.Handler) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: sloggorm.New(sloggorm.WithHandler(logHandler)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	return db, nil
}

// Sink writes bars through gorm.
type Sink struct {
	db        *gorm.DB
	batchSize int
}

// NewSink migrates the bar table and returns a sink over db.
func NewSink(ctx context.Context, db *gorm.DB, batchSize int) (*Sink, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if err := db.WithContext(ctx).AutoMigrate(&barModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate bar table: %w", err)
	}
	return &Sink{db: db, batchSize: batchSize}, nil
}

// InsertBars creates the batch inside one transaction.
func (s *Sink) InsertBars(ctx context.Context, bars []domain.Bar) error {
	models := make([]barModel, len(bars))
	for i, b := range bars {
		models[i] = toModel(b)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&models, s.batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("sql insert of %d bars failed: %w", len(bars), err)
	}
	return nil
}

// Bars returns the stored bars of one instrument in timestamp order.
func (s *Sink) Bars(ctx context.Context, exchange, symbol string) ([]domain.Bar, error) {
	var models []barModel
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ?", exchange, symbol).
		Order("ts, id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}

	bars := make([]domain.Bar, len(models))
	for i, m := range models {
		bars[i] = m.toDomain()
	}
	return bars, nil
}

// Close closes the underlying connection pool.
func (s *Sink) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
