package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"telegram_news/internal/announce"
	"telegram_news/internal/display"
	"telegram_news/internal/domain"
	"telegram_news/internal/source"
)

type Fetcher interface {
	Fetch(ctx context.Context, req source.Request) (string, error)
}

type PostedStore interface {
	IsPosted(ctx context.Context, newsID string) (bool, error)
	RecordPosted(ctx context.Context, newsID string) error
	Trim(ctx context.Context) (int64, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, item domain.NewsItem, msg display.Message) (domain.DeliveryReport, error)
}

type Announcer interface {
	Announce(ctx context.Context, msg announce.PostedMessage) error
}
