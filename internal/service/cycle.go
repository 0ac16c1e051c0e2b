package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telegram_news/internal/announce"
	"telegram_news/internal/config"
	"telegram_news/internal/display"
	"telegram_news/internal/domain"
	"telegram_news/internal/extract"
	"telegram_news/internal/metrics"
	"telegram_news/internal/source"
)

// CycleService runs poll cycles for one feed. It is not safe for
// concurrent use; each feed has exactly one worker.
type CycleService struct {
	feed        config.FeedConfig
	fetcher     Fetcher
	list        extract.ListExtractor
	detail      *extract.Detail
	policy      display.Policy
	posted      PostedStore
	txManager   TransactionManager
	publisher   Publisher
	announcer   Announcer
	fingerprint *extract.Fingerprint
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewCycleService wires one feed. announcer and m may be nil.
func NewCycleService(
	feed config.FeedConfig,
	fetcher Fetcher,
	posted PostedStore,
	txManager TransactionManager,
	publisher Publisher,
	announcer Announcer,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*CycleService, error) {
	list, err := extract.NewList(feed.Rules, logger.With("feed", feed.Name))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feed.Name, err)
	}
	policy, err := display.New(feed.Display.Policy, feed.Display.Options())
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feed.Name, err)
	}

	return &CycleService{
		feed:        feed,
		fetcher:     fetcher,
		list:        list,
		detail:      extract.NewDetail(feed.Rules),
		policy:      policy,
		posted:      posted,
		txManager:   txManager,
		publisher:   publisher,
		announcer:   announcer,
		fingerprint: &extract.Fingerprint{},
		metrics:     m,
		logger:      logger.With("feed", feed.Name),
	}, nil
}

func (s *CycleService) Name() string { return s.feed.Name }

func (s *CycleService) Interval() time.Duration { return s.feed.Interval }

// Invalidate forces the next cycle to process the list even if unchanged.
func (s *CycleService) Invalidate() { s.fingerprint.Invalidate() }

// Cycle polls the feed once: fetch and merge every list URL, skip the rest
// when the id set is unchanged, then complete, render and publish each item
// not yet in the ledger, oldest first. Any returned error has already
// invalidated the fingerprint.
func (s *CycleService) Cycle(ctx context.Context) (stats *domain.CycleStats, err error) {
	start := time.Now()
	logger := s.logger.With("cycle_id", uuid.NewString())
	stats = &domain.CycleStats{Feed: s.feed.Name}

	defer func() {
		if err != nil {
			s.fingerprint.Invalidate()
		}
		stats.Duration = time.Since(start)
		s.metrics.ObserveCycle(stats, err)
	}()

	logger.Debug("starting cycle")

	items, err := s.fetchList(ctx, logger)
	if err != nil {
		return stats, fmt.Errorf("fetch list: %w", err)
	}
	stats.Fetched = len(items)

	digest := extract.FingerprintOf(items)
	if !s.feed.DisableCache && s.fingerprint.Matches(digest) {
		stats.Unmodified = true
		logger.Debug("list not modified", "items", len(items))
		return stats, nil
	}
	s.fingerprint.Store(digest)

	items = extract.Cap(items, s.feed.MaxItems)

	for _, item := range items {
		posted, err := s.posted.IsPosted(ctx, item.ID)
		if err != nil {
			return stats, fmt.Errorf("check posted: %w", err)
		}
		if posted {
			stats.AlreadyPosted++
			continue
		}
		stats.New++

		if err := s.handleItem(ctx, item, stats, logger.With("news_id", item.ID)); err != nil {
			return stats, err
		}
	}

	trimmed, trimErr := s.posted.Trim(ctx)
	if trimErr != nil {
		// the next cycle trims again
		logger.Error("failed to trim ledger", "error", trimErr)
	}
	stats.Trimmed = trimmed

	logger.Info("cycle completed",
		"fetched", stats.Fetched,
		"new", stats.New,
		"posted", stats.Posted,
		"already_posted", stats.AlreadyPosted,
		"failed", stats.Failed,
		"trimmed", stats.Trimmed,
		"duration", time.Since(start),
	)
	return stats, nil
}

func (s *CycleService) handleItem(ctx context.Context, item domain.NewsItem, stats *domain.CycleStats, logger *slog.Logger) error {
	full, err := s.completeItem(ctx, item, logger)
	if err != nil {
		return fmt.Errorf("fetch detail %s: %w", item.ID, err)
	}

	msg := s.policy.Render(full)
	report, err := s.publisher.Publish(ctx, full, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", item.ID, err)
	}
	if report.Incomplete {
		s.fingerprint.Invalidate()
	}

	if report.Delivered == 0 {
		stats.Failed++
		logger.Warn("item not delivered", "skipped", report.Skipped)
		return nil
	}
	stats.Posted++

	if s.announcer != nil {
		if err := s.announcer.Announce(ctx, announce.NewPostedMessage(s.feed.Name, full, report)); err != nil {
			logger.Warn("failed to announce posted item", "error", err)
		}
	}
	return nil
}

// completeItem fetches the detail page when it could add anything. Non-2xx
// detail responses count as an empty page; transient failures abort.
func (s *CycleService) completeItem(ctx context.Context, item domain.NewsItem, logger *slog.Logger) (domain.NewsItem, error) {
	if !s.detail.NeedsFetch(item) {
		return s.detail.Complete("", item), nil
	}

	body, err := s.fetcher.Fetch(ctx, source.Request{
		URL:      item.Link,
		Timeout:  s.feed.DetailTimeout,
		Encoding: s.feed.DetailEncoding,
		Headers:  s.feed.Headers,
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, source.ErrTransient) {
			return item, err
		}
		logger.Warn("detail page unavailable, using list fields", "link", item.Link, "error", err)
		body = ""
	}
	return s.detail.Complete(body, item), nil
}

// fetchList fetches and merges every list URL of the feed, oldest first.
func (s *CycleService) fetchList(ctx context.Context, logger *slog.Logger) ([]domain.NewsItem, error) {
	batches := make([][]domain.NewsItem, 0, len(s.feed.ListURLs))
	for _, listURL := range s.feed.ListURLs {
		target := source.AddQuery(listURL, s.feed.Query)

		body, err := s.fetcher.Fetch(ctx, source.Request{
			URL:      target,
			Timeout:  s.feed.ListTimeout,
			Encoding: s.feed.ListEncoding,
			Headers:  s.feed.Headers,
		})
		if err != nil {
			var statusErr *source.StatusError
			if errors.As(err, &statusErr) && !errors.Is(err, source.ErrTransient) {
				logger.Warn("list page rejected, treating as empty", "url", target, "status", statusErr.Code)
				continue
			}
			return nil, err
		}

		items, err := s.list.ExtractList(body, target)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		logger.Debug("extracted list", "url", target, "items", len(items))
		batches = append(batches, items)
	}
	return extract.Merge(batches...), nil
}

// MarkPosted records every item currently listed as posted without sending
// anything, so a new feed starts from its next article.
func (s *CycleService) MarkPosted(ctx context.Context) (int, error) {
	logger := s.logger.With("cycle_id", uuid.NewString())

	items, err := s.fetchList(ctx, logger)
	if err != nil {
		return 0, fmt.Errorf("fetch list: %w", err)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, item := range items {
			if err := s.posted.RecordPosted(txCtx, item.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark posted: %w", err)
	}

	s.fingerprint.Store(extract.FingerprintOf(items))
	logger.Info("marked current items as posted", "count", len(items))
	return len(items), nil
}
