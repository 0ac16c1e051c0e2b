package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"telegram_news/internal/domain"
)

// Cycler runs poll cycles for one feed.
type Cycler interface {
	Name() string
	Interval() time.Duration
	Cycle(ctx context.Context) (*domain.CycleStats, error)
	Invalidate()
}

// Scheduler runs one worker per feed. Workers share nothing but the
// context; a failing feed never stops the others.
type Scheduler struct {
	cyclers []Cycler
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewScheduler(cyclers []Cycler, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cyclers: cyclers,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "feeds", len(s.cyclers))

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.cyclers {
		g.Go(func() error {
			return s.work(ctx, c)
		})
	}

	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) work(ctx context.Context, c Cycler) error {
	logger := s.logger.With("feed", c.Name())
	logger.Info("worker started", "interval", c.Interval())

	for {
		s.runCycle(ctx, c, logger)
		if err := s.sleep(ctx, c.Interval()); err != nil {
			return err
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, c Cycler, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			c.Invalidate()
			logger.Error("cycle panicked", "panic", fmt.Sprint(r))
		}
	}()

	stats, err := c.Cycle(ctx)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		logger.Info("cycle cancelled")
	case err != nil:
		c.Invalidate()
		logger.Error("cycle failed", "error", err)
	case stats.Unmodified:
		logger.Debug("cycle skipped, list not modified")
	default:
		logger.Info("cycle finished",
			"posted", stats.Posted,
			"already_posted", stats.AlreadyPosted,
			"failed", stats.Failed,
			"duration", stats.Duration,
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
