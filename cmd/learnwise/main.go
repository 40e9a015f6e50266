package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/tedlu-tw/learnwise-demo/internal/config"
	"github.com/tedlu-tw/learnwise-demo/internal/contentsync"
	"github.com/tedlu-tw/learnwise-demo/internal/domain"
	"github.com/tedlu-tw/learnwise-demo/internal/fsrs"
	"github.com/tedlu-tw/learnwise-demo/internal/metrics"
	"github.com/tedlu-tw/learnwise-demo/internal/progress"
	"github.com/tedlu-tw/learnwise-demo/internal/qcache"
	"github.com/tedlu-tw/learnwise-demo/internal/session"
	"github.com/tedlu-tw/learnwise-demo/internal/storage"
	"github.com/tedlu-tw/learnwise-demo/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("learnwise", pflag.ExitOnError)
	configPath := flags.String("config", "learnwise.yaml", "path to the YAML config file")
	addSource := flags.String("add-source", "", "register a question source (local path or git URL) and exit")
	runSync := flags.Bool("sync", false, "sync all question sources before serving")
	config.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.DatabasePath)

	ctx := context.Background()

	if *addSource != "" {
		if err := addNewSource(ctx, db, *addSource); err != nil {
			logger.Error("failed to add source", "source", *addSource, "error", err)
			os.Exit(1)
		}
		return
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var backend qcache.Backend
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-process cache", "addr", cfg.RedisAddr, "error", err)
			backend = qcache.NewMemoryBackend()
		} else {
			logger.Info("using redis question cache", "addr", cfg.RedisAddr)
			backend = qcache.NewRedisBackend(client)
		}
	} else {
		backend = qcache.NewMemoryBackend()
	}
	cache := qcache.New(db, backend, cfg.CacheTTL, m, logger)

	if *runSync {
		syncer := contentsync.New(db, cache, m, "repos")
		if err := syncer.Run(ctx); err != nil {
			logger.Error("content sync failed", "error", err)
			os.Exit(1)
		}
	}

	sched, err := fsrs.New(fsrs.Config{
		DesiredRetention: cfg.Scheduler.DesiredRetention,
		MaximumInterval:  cfg.Scheduler.MaximumInterval,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	questions := cachedQuestions{DB: db, cache: cache}
	orch := session.New(db, questions, db, db, sched, session.Config{
		MaxQuestions: cfg.Session.MaxQuestions,
		Timeout:      cfg.Session.Timeout,
	}, m, logger)

	srv := web.NewServer(orch, progress.New(db), db, m, logger)

	logger.Info("listening", "addr", cfg.ListenAddr)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// cachedQuestions reads question lists through the cache while serving
// point lookups straight from the database.
type cachedQuestions struct {
	*storage.DB
	cache *qcache.Cache
}

func (c cachedQuestions) QuestionsForSkills(ctx context.Context, skills []string) ([]domain.Question, error) {
	return c.cache.QuestionsForSkills(ctx, skills)
}

func addNewSource(ctx context.Context, db *storage.DB, path string) error {
	sourceType := "local"
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") || strings.HasPrefix(path, "https://") {
		sourceType = "git"
	}

	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("source already registered", "path", path)
		return nil
	}

	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return err
	}
	slog.Info("source added", "id", id, "type", sourceType, "path", path)
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
