package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/biz/usecase"
)

// CleanupReport summarises one cleanup run
type CleanupReport struct {
	ReplyCounts   int64 // Counters removed
	History       int64 // History rows pruned
	Conversations int64 // Notifications given a conversation id
}

// CleanupScheduler periodically removes stale reply counters and trims history
type CleanupScheduler struct {
	rateLimitUC   *usecase.RateLimitUsecase
	replyUC       *usecase.ReplyUsecase
	notifications repo.NotificationRepo

	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleanupScheduler creates a new cleanup scheduler
func NewCleanupScheduler(
	rateLimitUC *usecase.RateLimitUsecase,
	replyUC *usecase.ReplyUsecase,
	notifications repo.NotificationRepo,
	maxAge, interval time.Duration,
	logger *zap.Logger,
) *CleanupScheduler {
	return &CleanupScheduler{
		rateLimitUC:   rateLimitUC,
		replyUC:       replyUC,
		notifications: notifications,
		maxAge:        maxAge,
		interval:      interval,
		logger:        logger.Named("scheduler"),
	}
}

// Start runs a first cleanup immediately, then one per interval
func (s *CleanupScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("Cleanup scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("max_age", s.maxAge),
	)
}

// Stop stops the scheduler
func (s *CleanupScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Cleanup scheduler stopped")
}

func (s *CleanupScheduler) loop() {
	defer s.wg.Done()

	s.runLogged()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runLogged()
		}
	}
}

func (s *CleanupScheduler) runLogged() {
	report, err := s.RunOnce(s.ctx)
	if err != nil {
		s.logger.Error("Cleanup failed", zap.Error(err))
		return
	}
	if report.ReplyCounts > 0 || report.History > 0 || report.Conversations > 0 {
		s.logger.Info("Cleanup done",
			zap.Int64("reply_counts", report.ReplyCounts),
			zap.Int64("history", report.History),
			zap.Int64("conversations", report.Conversations),
		)
	}
}

// RunOnce performs one cleanup pass. Steps run independently; the first error is returned.
func (s *CleanupScheduler) RunOnce(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var err error
	report.ReplyCounts, err = s.rateLimitUC.Cleanup(ctx, s.maxAge)
	keep(err)
	report.History, err = s.replyUC.PruneHistory(ctx)
	keep(err)
	if s.notifications != nil {
		report.Conversations, err = s.notifications.BackfillConversationIDs(ctx)
		keep(err)
	}
	return report, firstErr
}
