// Command sentimatrix serves the email sentiment API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	sentimatrix "github.com/JohnPlummer/sentimatrix"
	"github.com/JohnPlummer/sentimatrix/config"
	"github.com/JohnPlummer/sentimatrix/email"
	"github.com/JohnPlummer/sentimatrix/scorer"
	"github.com/JohnPlummer/sentimatrix/server"
)

const startupTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", envOr("SENTIMATRIX_CONFIG", "config.yaml"), "path to the YAML settings file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("sentimatrix stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	settings, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	slog.SetDefault(config.NewLogger(os.Stdout, settings.Log))

	v := sentimatrix.GetVersion()
	slog.Info("Starting", "name", v.Name, "version", v.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option

	cache, closeCache, err := openCache(ctx, settings.Redis)
	if err != nil {
		return err
	}
	defer closeCache()
	opts = append(opts, server.WithHealthCheck("cache", cache.Ping))

	store, closeStore, err := openStore(ctx, settings.MongoDB)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, err := scorer.NewPipeline(settings.ScorerConfig(), cache)
	if err != nil {
		return fmt.Errorf("failed to build scoring pipeline: %w", err)
	}

	svc := email.NewService(store, pipeline,
		email.WithResponder(pipeline),
		email.WithValidation(settings.Email.IngestValidation()))
	return server.New(settings.Server, svc, pipeline, opts...).Run(ctx)
}

type pingCache interface {
	scorer.ResultCache
	Ping(ctx context.Context) error
}

func openCache(ctx context.Context, s config.RedisSettings) (pingCache, func(), error) {
	if !s.Enabled {
		slog.Info("Using in-memory score cache")
		return scorer.NewMemoryCache(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", s.Addr, err)
	}

	slog.Info("Using redis score cache", "addr", s.Addr, "ttl", s.TTL())
	cache := scorer.NewRedisCache(rdb, scorer.WithKeyPrefix(s.KeyPrefix))
	return cache, func() {
		if err := rdb.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}, nil
}

func openStore(ctx context.Context, s config.MongoDBSettings) (email.Store, func(), error) {
	if s.ConnectionString == "" {
		slog.Warn("No MongoDB connection string, emails are kept in memory")
		return email.NewMemoryStore(), func() {}, nil
	}

	connCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	store, disconnect, err := email.ConnectMongo(connCtx, s.ConnectionString, s.DatabaseName, s.EmailsCollectionName)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := disconnect(dctx); err != nil {
			slog.Warn("Failed to disconnect from MongoDB", "error", err)
		}
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
