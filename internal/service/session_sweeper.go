package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

// SessionSweeper periodically deletes expired sessions.
type SessionSweeper struct {
	sessions repository.SessionRepository
	interval time.Duration
	logger   *slog.Logger
}

// NewSessionSweeper creates a sweeper running every interval.
func NewSessionSweeper(sessions repository.SessionRepository, interval time.Duration, logger *slog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionSweeper{sessions: sessions, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *SessionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes expired sessions once and returns how many were removed.
func (s *SessionSweeper) Sweep(ctx context.Context) int64 {
	n, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("session sweep failed", slog.String("error", err.Error()))
		}
		return 0
	}
	if n > 0 {
		s.logger.Info("expired sessions removed", slog.Int64("count", n))
	}
	return n
}
