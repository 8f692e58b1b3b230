// Package watchdog takes over sessions whose runner stopped heartbeating.
package watchdog

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

const defaultInterval = 30 * time.Second

type SessionFinder interface {
	FindStaleSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error)
}

// Starter is implemented by *runner.Runner.
type Starter interface {
	Handle(ctx context.Context, cmd models.SessionCommand) error
}

type Watchdog struct {
	finder   SessionFinder
	starter  Starter
	interval time.Duration
	stale    time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

// New checks every interval for started sessions not touched for stale.
func New(finder SessionFinder, starter Starter, interval, stale time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *Watchdog {
	if interval <= 0 {
		interval = defaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Watchdog{
		finder:   finder,
		starter:  starter,
		interval: interval,
		stale:    stale,
		clock:    clk,
		logger:   logger.Named("watchdog"),
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.checkSessions(ctx)
		}
	}
}

// checkSessions returns how many sessions were taken over.
func (w *Watchdog) checkSessions(ctx context.Context) int {
	sessions, err := w.finder.FindStaleSessions(ctx, w.clock.Now().Add(-w.stale))
	if err != nil {
		w.logger.Warnw("failed to find stale sessions", "error", err)
		return 0
	}

	restarted := 0
	for _, s := range sessions {
		w.logger.Infow("found stale session, taking over", "session", s.ID, "last_seen", s.UpdatedAt)
		err := w.starter.Handle(ctx, models.SessionCommand{
			SessionID:   s.ID,
			Action:      models.CommandStart,
			VideoSource: s.VideoSource,
		})
		if err != nil {
			w.logger.Warnw("failed to restart session", "session", s.ID, "error", err)
			continue
		}
		restarted++
	}
	return restarted
}
