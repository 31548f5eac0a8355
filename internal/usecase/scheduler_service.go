package usecase

import (
	"context"
	"log/slog"
	"time"

	"minutebars/internal/domain"
)

// SchedulerService keeps the run scheduler going on whichever master holds
// leadership.
type SchedulerService struct {
	leaderManager domain.LeaderElectionManager
	scheduler     domain.RunScheduler
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

func NewSchedulerService(leaderManager domain.LeaderElectionManager, scheduler domain.RunScheduler, nodeID string, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{
		leaderManager: leaderManager,
		scheduler:     scheduler,
		nodeID:        nodeID,
		retryDelay:    5 * time.Second,
		logger:        logger.With("component", "scheduler-service", "node_id", nodeID),
	}
}

// Start campaigns for leadership and runs the scheduler while leader, until
// ctx is cancelled.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("scheduler service starting")

	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler service shutting down")
			return ctx.Err()
		}

		s.logger.Info("attempting to campaign for leadership")
		lostLeadershipCh, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("leadership campaign failed, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.logger.Info("became the leader, starting the scheduler")
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := s.scheduler.Start(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler stopped with error", "error", err)
			}
		}()

		select {
		case <-lostLeadershipCh:
			s.logger.Warn("leadership lost, stopping the scheduler")
			s.scheduler.Stop()
			<-done
			if err := s.leaderManager.Resign(ctx); err != nil {
				s.logger.Debug("resign after lost leadership", "error", err)
			}
		case <-ctx.Done():
			<-done
			resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			if err := s.leaderManager.Resign(resignCtx); err != nil {
				s.logger.Error("failed to resign leadership", "error", err)
			}
			cancel()
			return ctx.Err()
		}
	}
}
