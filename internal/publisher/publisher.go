// Package publisher delivers rendered items to every destination of a feed,
// rotating bot tokens on rate limits and recording the item in the ledger
// once the first destination accepts it.
package publisher

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"telegram_news/internal/display"
	"telegram_news/internal/domain"
	"telegram_news/internal/media"
	"telegram_news/internal/metrics"
	"telegram_news/internal/telegram"
)

type Sender interface {
	Send(ctx context.Context, token string, req telegram.Request) (*telegram.Response, error)
}

type MediaPreparer interface {
	Photo(ctx context.Context, rawURL string, headers map[string]string) media.Attachment
	Video(ctx context.Context, rawURL string, headers map[string]string) media.Attachment
	Release(atts ...media.Attachment)
}

type Recorder interface {
	RecordPosted(ctx context.Context, newsID string) error
}

type Config struct {
	Tokens       []string
	Destinations []string
	Headers      map[string]string
	// MaxRequeue bounds how often a rate-limited destination is retried
	// after an earlier destination succeeded. Negative means unbounded.
	MaxRequeue       int
	MaxMediaPerGroup int
}

type Publisher struct {
	cfg      Config
	sender   Sender
	media    MediaPreparer
	limiter  *Limiter
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(
	cfg Config,
	sender Sender,
	mediaPreparer MediaPreparer,
	limiter *Limiter,
	recorder Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Publisher {
	if limiter == nil {
		limiter = NewLimiter(0, 0)
	}
	return &Publisher{
		cfg:      cfg,
		sender:   sender,
		media:    mediaPreparer,
		limiter:  limiter,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Publish sends item to every destination. Destinations are tried in order;
// within one, tokens are tried in order until one is accepted. The ledger
// write happens once, after the first accepted send. A rate limit on the
// last token sleeps for the server-given delay, then either requeues the
// destination (when an earlier one already has the item) or stops.
//
// The returned error is only ever a context error; delivery problems are
// reported through DeliveryReport.Incomplete.
func (p *Publisher) Publish(ctx context.Context, item domain.NewsItem, msg display.Message) (domain.DeliveryReport, error) {
	var report domain.DeliveryReport
	logger := p.logger.With("news_id", item.ID)

	if msg.Text == "" {
		report.Skipped = true
		logger.Info("empty message, nothing to send")
		return report, nil
	}

	out, err := p.prepare(ctx, item, msg)
	defer p.media.Release(out.attachments...)
	if err != nil {
		logger.Error("failed to prepare message", "error", err)
		report.Incomplete = true
		return report, nil
	}

	queue := append([]string(nil), p.cfg.Destinations...)
	requeues := 0

	for i := 0; i < len(queue); i++ {
		dest := queue[i]
		if dest == "" {
			continue
		}
		destLogger := logger.With("destination", dest, "method", out.method)

		verdict, err := p.deliver(ctx, out, dest, item.ID, &report, destLogger)
		if err != nil {
			return report, err
		}

		switch verdict {
		case delivered, failed:
			continue
		case exhausted:
			report.Incomplete = true
			canRequeue := p.cfg.MaxRequeue < 0 || requeues < p.cfg.MaxRequeue
			if report.Delivered > 0 && canRequeue {
				requeues++
				queue = append(queue, dest)
				destLogger.Warn("requeued rate limited destination", "requeues", requeues)
				continue
			}
			destLogger.Warn("rate limited, abandoning remaining destinations", "delivered", report.Delivered)
			return report, nil
		}
	}
	return report, nil
}

type verdict int

const (
	delivered verdict = iota
	failed
	exhausted
)

// deliver tries every token against one destination.
func (p *Publisher) deliver(
	ctx context.Context,
	out outbound,
	dest, newsID string,
	report *domain.DeliveryReport,
	logger *slog.Logger,
) (verdict, error) {
	tokens := p.cfg.Tokens
	for ti, token := range tokens {
		if token == "" {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return failed, err
		}

		resp, err := p.sender.Send(ctx, token, out.request(dest))
		if err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			p.metrics.ObserveSend(out.method, metrics.OutcomeError)
			logger.Error("send failed", "token", ti, "error", err)
			report.Incomplete = true
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			p.metrics.ObserveSend(out.method, metrics.OutcomeOK)
			report.Delivered++
			if !report.Recorded {
				if err := p.recorder.RecordPosted(ctx, newsID); err != nil {
					logger.Error("failed to record posted item", "error", err)
				} else {
					report.Recorded = true
				}
			}
			logger.Info("item sent", "token", ti)
			return delivered, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			p.metrics.ObserveSend(out.method, metrics.OutcomeRateLimited)
			if ti < len(tokens)-1 {
				logger.Info("rate limited, rotating token", "token", ti)
				continue
			}
			logger.Warn("rate limited on last token, backing off", "retry_after", resp.RetryAfter)
			p.metrics.ObserveRetryAfter(resp.RetryAfter)
			if err := p.sleep(ctx, resp.RetryAfter); err != nil {
				return failed, err
			}
			return exhausted, nil

		default:
			p.metrics.ObserveSend(out.method, metrics.OutcomeError)
			logger.Error("send rejected",
				"token", ti,
				"status", resp.StatusCode,
				"description", resp.Description,
			)
			report.Incomplete = true
		}
	}
	return failed, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
