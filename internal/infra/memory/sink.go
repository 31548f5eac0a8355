package memory

import (
	"context"
	"sync"

	"minutebars/internal/domain"
)

// Sink is an in-process domain.BarSink. FailNext makes the following inserts
// fail, which is how tests simulate an unavailable store.
type Sink struct {
	mu       sync.Mutex
	bars     []domain.Bar
	batches  int
	failures []error
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// FailNext queues errors returned by the next InsertBars calls, in order.
func (s *Sink) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *Sink) InsertBars(ctx context.Context, bars []domain.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	s.bars = append(s.bars, bars...)
	s.batches++
	return nil
}

// Bars returns a copy of everything inserted so far.
func (s *Sink) Bars() []domain.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Bar(nil), s.bars...)
}

// Batches is the number of successful InsertBars calls.
func (s *Sink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func (s *Sink) Close(context.Context) error { return nil }
