package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gigaview/tile-engine/internal/annotations"
	"github.com/gigaview/tile-engine/internal/server"
	"github.com/gigaview/tile-engine/pkg/config"
	"github.com/gigaview/tile-engine/pkg/enhance"
	"github.com/gigaview/tile-engine/pkg/logging"
	"github.com/gigaview/tile-engine/pkg/pipeline"
	"github.com/gigaview/tile-engine/pkg/source"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logger.Level),
		Pretty: cfg.Logger.Pretty,
		Output: os.Stderr,
	})

	// The shared cache tier is optional. A missing or unreachable Redis
	// degrades caching to the local tier only.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).
				Msg("shared cache tier unreachable, continuing with local tier only")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to shared cache tier")
		}
		cancel()
		defer redisClient.Close()
	}

	cache := tilecache.NewManager(redisClient, tilecache.Options{
		TTL:           cfg.Cache.TTL,
		LocalCapacity: cfg.Cache.LocalCapacity,
		Logger:        logging.NewLogger("tilecache"),
	})

	resolver := source.NewResolver(source.Config{
		AssetLookupURL: cfg.Source.AssetLookupURL,
		ProviderHost:   cfg.Source.ProviderHost,
		FetchTimeout:   cfg.Source.FetchTimeout,
		PoolCapacity:   cfg.Source.PoolCapacity,
		HTTPClient:     &http.Client{Timeout: cfg.Source.ClientTimeout},
		Logger:         logging.NewLogger("source"),
	})

	tiles, err := pipeline.New(pipeline.Config{
		Resolver:  resolver,
		Cache:     cache,
		Enhancer:  enhance.NewProcessor(logging.NewLogger("enhance")),
		TileSize:  cfg.Tiles.Size,
		PublicDir: cfg.Tiles.PublicDir,
		Logger:    logging.NewLogger("pipeline"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build tile pipeline")
	}

	store, err := annotations.NewStore(cfg.DB.Path, logging.NewLogger("annotations"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open annotation store")
	}
	defer store.Close()

	srv := server.New(server.Config{
		Tiles:        tiles,
		Cache:        cache,
		Annotations:  store,
		Quality:      cfg.Tiles.Quality,
		ProxyQuality: cfg.Tiles.ProxyQuality,
		Logger:       logging.NewLogger("http"),
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.HTTP.Server.ReadTimeout,
		WriteTimeout: cfg.HTTP.Server.WriteTimeout,
		IdleTimeout:  cfg.HTTP.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.HTTP.Server.Port).Msg("starting tile server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("server stopped")
}
