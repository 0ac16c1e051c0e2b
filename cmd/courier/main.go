package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"telegram_news/internal/announce"
	"telegram_news/internal/config"
	"telegram_news/internal/media"
	"telegram_news/internal/metrics"
	"telegram_news/internal/publisher"
	"telegram_news/internal/scheduler"
	"telegram_news/internal/service"
	"telegram_news/internal/source"
	"telegram_news/internal/storage/ledger"
	"telegram_news/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	markPosted := flag.Bool("mark-posted", false, "record every currently listed item as posted, send nothing and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.Database.Driver == "sqlite3" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	logger.Info("connected to database", "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, m, logger)
	}

	var announcer service.Announcer
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := announce.NewRabbitMQ(announce.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		announcer = rabbitMQ
	}

	bot := telegram.New(&http.Client{Timeout: cfg.Telegram.Timeout}, cfg.Telegram.APIURL)
	mediaPreparer := media.NewPreparer(cfg.Media.Preparer(), nil, nil, logger)
	limiter := publisher.NewLimiter(cfg.Telegram.RateLimit.Calls, cfg.Telegram.RateLimit.Period)
	fetcher := source.New(nil, logger)
	txManager := ledger.NewTransactionManager(db)

	services := make([]*service.CycleService, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		feedLogger := logger.With("feed", feed.Name)
		store := ledger.NewPostedStore(db, feed.Table, feed.MaxRows, feedLogger)
		pub := publisher.New(publisher.Config{
			Tokens:           cfg.Telegram.Tokens,
			Destinations:     feed.Destinations,
			Headers:          feed.Headers,
			MaxRequeue:       *cfg.Telegram.MaxRequeue,
			MaxMediaPerGroup: cfg.Telegram.MaxMediaPerGroup,
		}, bot, mediaPreparer, limiter, store, m, feedLogger)

		svc, err := service.NewCycleService(feed, fetcher, store, txManager, pub, announcer, m, logger)
		if err != nil {
			logger.Error("failed to set up feed", "feed", feed.Name, "error", err)
			os.Exit(1)
		}
		services = append(services, svc)
	}

	if *markPosted {
		for _, svc := range services {
			n, err := svc.MarkPosted(ctx)
			if err != nil {
				logger.Error("failed to mark items as posted", "feed", svc.Name(), "error", err)
				os.Exit(1)
			}
			logger.Info("marked feed as posted", "feed", svc.Name(), "count", n)
		}
		return
	}

	cyclers := make([]scheduler.Cycler, len(services))
	for i, svc := range services {
		cyclers[i] = svc
	}
	sched := scheduler.NewScheduler(cyclers, logger)

	logger.Info("starting news courier",
		"feeds", len(services),
		"tokens", len(cfg.Telegram.Tokens),
		"rate_limit_calls", cfg.Telegram.RateLimit.Calls,
		"rate_limit_period", cfg.Telegram.RateLimit.Period,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
