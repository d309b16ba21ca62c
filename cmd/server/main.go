// Package main provides the entry point for the ThreatPulse server.
// It serves risk summaries computed over IDS, firewall and NGFW threat telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/analytics"
	"github.com/lvonguyen/threatpulse/internal/api"
	"github.com/lvonguyen/threatpulse/internal/api/gateway"
	"github.com/lvonguyen/threatpulse/internal/cache"
	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/engine"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/push"
	"github.com/lvonguyen/threatpulse/internal/repository"
	"github.com/lvonguyen/threatpulse/internal/splunk"
	"github.com/lvonguyen/threatpulse/internal/telemetry/ingestion"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ThreatPulse %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	cfg.Observability.ServiceVersion = Version
	cfg.Observability.LogLevel = cfg.Logging.Level
	cfg.Observability.LogFormat = cfg.Logging.Format
	tel, err := observability.New(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := tel.Logger()

	if err := run(cfg, tel); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		_ = tel.Shutdown(context.Background())
		os.Exit(1)
	}
	_ = tel.Shutdown(context.Background())
}

func run(cfg *config.Config, tel *observability.Telemetry) error {
	logger := tel.Logger()
	metrics := tel.Metrics()

	logger.Info("Starting ThreatPulse",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.Strings("sinks", cfg.EnabledSinks()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tel.StartSystemMetricsCollector(ctx)
	readiness := map[string]api.ReadinessCheck{}

	// Engine
	matcher, err := cfg.InternalMatcher()
	if err != nil {
		return err
	}
	eng := engine.New(engine.Config{Internal: matcher}, logger)

	// Search backend
	fetcher, err := ingestion.NewOpenSearchFetcher(ingestion.Config{
		URL:        cfg.OpenSearch.URL,
		Username:   os.Getenv(cfg.OpenSearch.UsernameEnv),
		Password:   os.Getenv(cfg.OpenSearch.PasswordEnv),
		Insecure:   cfg.OpenSearch.Insecure,
		Index:      cfg.OpenSearch.Index,
		PANWIndex:  cfg.OpenSearch.PANWIndex,
		BucketSize: cfg.OpenSearch.BucketSize,
		HitSize:    cfg.OpenSearch.HitSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("search backend: %w", err)
	}
	readiness["search_backend"] = fetcher.HealthCheck

	// Redis: summary cache and rate limiting
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, cache and rate limits degrade to local", zap.Error(err))
		}
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	svcOpts := analytics.Options{
		FetchTimeout: cfg.OpenSearch.FetchTimeout,
		Metrics:      metrics,
		Tracer:       tel.Tracer(),
	}
	summaryCache := cache.New(redisClient, cfg.Cache, logger, metrics)
	if cfg.Cache.TTL > 0 {
		svcOpts.Cache = summaryCache
	}
	svc := analytics.NewService(fetcher, eng, logger, svcOpts)

	// Optional sinks
	var loopOpts []push.LoopOption
	loopOpts = append(loopOpts, push.WithMetrics(metrics))

	if cfg.Postgres.Enabled {
		repo, err := openRepository(ctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer repo.Close()
		readiness["postgres"] = repo.Ping
		loopOpts = append(loopOpts, push.WithMirror(repo))
	}

	if cfg.Splunk.Enabled {
		sender, err := splunk.NewHECSender(cfg.Splunk.Sender, logger, metrics)
		if err != nil {
			return fmt.Errorf("splunk: %w", err)
		}
		if cfg.Push.ForwardToSplunk {
			loopOpts = append(loopOpts, push.WithForwarder(sender))
		}
		readiness["splunk"] = sender.HealthCheck
	}

	var publisher push.Publisher
	if cfg.Push.Enabled {
		natsCfg := push.DefaultConfig()
		natsCfg.URL = cfg.Push.URL
		natsCfg.Token = os.Getenv(cfg.Push.TokenEnv)
		pub, err := push.NewNATSPublisher(natsCfg, logger)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		defer pub.Close()
		readiness["nats"] = pub.HealthCheck
		publisher = pub
	}

	if publisher != nil || len(loopOpts) > 1 {
		loop := push.NewLoop(svc, publisher, push.LoopConfig{
			Interval:      cfg.Push.Interval,
			Timeframes:    cfg.Push.Timeframes,
			SubjectPrefix: cfg.Push.SubjectPrefix,
		}, logger, loopOpts...)
		// Runs before the sink closers deferred above.
		stopLoop := loop.Start(ctx)
		defer stopLoop()
	}

	// HTTP
	auth := gateway.NewAuthenticator(gateway.AuthConfig{
		ServiceKey: os.Getenv(cfg.Auth.ServiceKeyEnv),
		JWTSecret:  os.Getenv(cfg.Auth.JWTSecretEnv),
		JWTIssuer:  cfg.Auth.JWTIssuer,
	}, logger)

	handler := api.NewRouter(svc, logger, api.Options{
		Version:        Version,
		Auth:           auth,
		RateLimiter:    gateway.NewRateLimiter(redisClient, cfg.RateLimit, logger),
		Metrics:        metrics,
		RequestTimeout: cfg.Server.RequestTimeout,
		Readiness:      readiness,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

func openRepository(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*repository.PostgresRepository, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if cfg.Migrate {
		if err := repository.Migrate(dsn); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	repo, err := repository.NewPostgresRepository(connectCtx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return repo, nil
}
