package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schemedesk/api/internal/app"
	"schemedesk/api/internal/changefeed"
	"schemedesk/api/internal/config"
	"schemedesk/api/internal/export"
	"schemedesk/api/internal/insight"
	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/record"
	"schemedesk/api/internal/recordstore"
	"schemedesk/api/internal/reports"
	"schemedesk/api/internal/search"
	"schemedesk/api/internal/session"
	"schemedesk/api/internal/store"
	"schemedesk/api/internal/viewcache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dialect, err := store.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	schema, err := record.SchemaByName(cfg.RecordsSchema)
	if err != nil {
		return err
	}
	schema = schema.WithTable(cfg.RecordsTable)

	db, err := store.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect, store.MigrationsPath(cfg.MigrationsDir, dialect)); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	table := store.NewTable(db, dialect, schema)
	users := store.NewUserStore(db, dialect)
	hub := changefeed.NewHub()

	checks := []app.Check{{Name: "database", Ping: table.Ping}}
	var (
		sessions  app.SessionStore     = users
		publisher changefeed.Publisher = hub
		sources   []changefeed.Source
	)

	if dialect == store.DialectPostgres {
		sources = append(sources, changefeed.NewPostgres(store.NewListener(cfg.DatabaseURL, store.DefaultChangeChannel, logger)))
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		redisStore := session.NewRedisStore(client, users)
		defer redisStore.Close()
		logger.Info("using redis for sessions and change notices")

		feed := changefeed.NewRedis(client, cfg.ChangeChannel, logger)
		sessions = redisStore
		publisher = feed
		sources = append(sources, feed)
		checks = append(checks, app.Check{Name: "redis", Ping: redisStore.Ping})
	} else {
		logger.Info("using the database for sessions", zap.String("driver", string(dialect)))
	}

	adapter := recordstore.New(table, hub,
		recordstore.WithTimeout(cfg.StoreTimeout),
		recordstore.WithPublisher(publisher),
		recordstore.WithLogger(logger),
	)
	cache := viewcache.New(adapter, record.NewNormalizer(schema), logger)
	if err := cache.Refresh(ctx); err != nil {
		logger.Warn("initial load failed, waiting for the next change notice", zap.Error(err))
	}

	var index search.Indexer
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		index = meili
		checks = append(checks, app.Check{Name: "search", Optional: true, Ping: func(context.Context) error {
			if !meili.Healthy() {
				return errors.New("meilisearch unavailable")
			}
			return nil
		}})
	}
	searchService := search.NewService(index, cache, logger)
	stopFollow := searchService.Follow(cache)
	defer stopFollow()
	searchService.Sync(cache.Generation(), cache.Snapshot())

	deps := app.Deps{
		Accounts: users,
		Sessions: sessions,
		Records:  adapter,
		Cache:    cache,
		Schema:   schema,
		Search:   searchService,
		Exporter: export.NewService(logger),
		Checks:   checks,
		Logger:   logger,
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		model, err := insight.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return err
		}
		deps.Analyst = insight.NewOrchestrator(model, insight.WithTimeout(cfg.AITimeout), insight.WithLogger(logger))
	} else {
		logger.Warn("GEMINI_API_KEY not set, analysis endpoints disabled")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := reports.NewArchive(reports.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn("report bucket unavailable", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		}
		deps.Reports = archive
	}

	g, gctx := errgroup.WithContext(ctx)
	service := app.New(cfg, deps)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Event streams end with the process context instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	stopAttach := cache.Attach(gctx)

	g.Go(func() error {
		logger.Info("schemedesk API listening", zap.String("addr", cfg.Addr), zap.String("schema", schema.Name))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	for _, source := range sources {
		g.Go(func() error {
			return source.Run(gctx, hub)
		})
	}

	if cfg.RedisURL == "" {
		g.Go(func() error {
			purgeExpiredSessions(gctx, users, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		stopAttach()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		searchService.Wait(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func purgeExpiredSessions(ctx context.Context, users *store.UserStore, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired sessions", zap.Error(err))
				continue
			}
			logger.Debug("purged expired sessions", zap.Int64("rows", n))
		}
	}
}
