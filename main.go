package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nijaru/yt-mentions/config"
	"github.com/nijaru/yt-mentions/db"
	"github.com/nijaru/yt-mentions/download"
	"github.com/nijaru/yt-mentions/export"
	"github.com/nijaru/yt-mentions/handlers"
	"github.com/nijaru/yt-mentions/logger"
	"github.com/nijaru/yt-mentions/middleware"
	"github.com/nijaru/yt-mentions/notify"
	"github.com/nijaru/yt-mentions/search"
	"github.com/nijaru/yt-mentions/tracker"
	"github.com/nijaru/yt-mentions/transcription"
	"github.com/sirupsen/logrus"
)

func main() {
	var opts cliOptions
	flag.StringVar(&opts.query, "query", "", "search query; runs once without starting the server")
	flag.StringVar(&opts.keyword, "keyword", "", "target keyword to look for in transcripts")
	flag.IntVar(&opts.count, "count", 0, "number of videos to search (1-20, default MAX_VIDEOS)")
	flag.StringVar(&opts.format, "format", "none", "save format: none or csv")
	flag.StringVar(&opts.out, "out", export.FileName, "CSV output path when -format=csv")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logFile, err := logger.Setup(cfg.LogDir, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up logging")
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize run store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close run store")
		}
	}()

	t, err := newTracker(ctx, cfg, store)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize pipeline")
	}
	defer func() {
		if err := t.Notifier.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close notifier")
		}
	}()

	if err := t.Reset(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to prepare work directory")
	}

	if opts.query != "" {
		if err := runOnce(ctx, os.Stdout, t, cfg, opts); err != nil {
			logrus.WithError(err).Fatal("Search failed")
		}
		return
	}

	serve(ctx, cfg, t, store)
}

func newTracker(ctx context.Context, cfg *config.Config, store *db.Store) (*tracker.Tracker, error) {
	searcher := search.NewClient(search.Config{
		APIKey:         cfg.SerpAPIKey,
		BaseURL:        cfg.SerpAPIBaseURL,
		DurationFilter: cfg.DurationFilter,
		Device:         cfg.Device,
		Pagination:     cfg.Pagination,
		InitialBackoff: cfg.PollInitialBackoff,
		MaxBackoff:     cfg.PollMaxBackoff,
		MaxAttempts:    cfg.PollMaxAttempts,
		Timeout:        cfg.PollTimeout,
		RateLimit:      cfg.SearchRateLimit,
	}, &http.Client{Timeout: 30 * time.Second})

	media, err := download.NewBrowserClient(cfg.DownloadTimeout)
	if err != nil {
		return nil, err
	}
	downloader := download.NewDownloader(media, cfg.WorkDir, cfg.YtDlpPath)

	transcriber := transcription.NewService(
		cfg.WhisperPath,
		cfg.WhisperModel,
		filepath.Join(cfg.WorkDir, "transcripts"),
		cfg.TranscribeTimeout,
	)

	t := tracker.New(searcher, downloader, transcriber, store, cfg.WorkDir, cfg.Workers)
	t.DownloadTimeout = cfg.DownloadTimeout

	if cfg.AMQP.URL != "" {
		notifier, err := notify.NewAMQPNotifier(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, err
		}
		t.Notifier = notifier
		logrus.WithField("queue", cfg.AMQP.Queue).Info("Publishing mentions to RabbitMQ")
	}

	if cfg.Spaces.Enabled() {
		uploader, err := export.NewSpacesUploader(ctx, cfg.Spaces)
		if err != nil {
			return nil, err
		}
		t.Uploader = uploader
		logrus.WithField("bucket", cfg.Spaces.Bucket).Info("Uploading CSV exports")
	}

	return t, nil
}

func serve(ctx context.Context, cfg *config.Config, t *tracker.Tracker, store *db.Store) {
	h := handlers.New(t, store, cfg.MaxVideos)
	limiter := middleware.NewRateLimiter(cfg.RateLimitInterval, cfg.RateLimit)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: middleware.Chain(h.Routes(),
			middleware.LoggingMiddleware,
			middleware.Recovery,
			limiter.Middleware,
			middleware.Timeout(cfg.WriteTimeout),
		),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logrus.WithField("port", cfg.ServerPort).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
}
