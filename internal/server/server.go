// Package server exposes the tile engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gigaview/tile-engine/internal/annotations"
	"github.com/gigaview/tile-engine/pkg/pipeline"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// TileService renders and caches tiles. *pipeline.Pipeline implements it.
type TileService interface {
	GetTile(ctx context.Context, addr tilecache.Key) (*pipeline.Tile, error)
	GetDynamicTile(ctx context.Context, addr tilecache.Key) (*pipeline.Tile, error)
	Info(ctx context.Context, ref string) (*pipeline.ImageInfo, error)
	Precompute(ctx context.Context, ref string, levels []int) string
	Status(ctx context.Context, id string) pipeline.Status
	CacheTTL() time.Duration
}

// CacheAdmin exposes cache maintenance operations. *tilecache.Manager
// implements it.
type CacheAdmin interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Stats(ctx context.Context) tilecache.Stats
	Ping(ctx context.Context) error
}

// AnnotationStore persists image annotations. *annotations.Store implements it.
type AnnotationStore interface {
	Create(ctx context.Context, a *annotations.Annotation) error
	Get(ctx context.Context, id int64) (*annotations.Annotation, error)
	ListByImage(ctx context.Context, imageID string) ([]*annotations.Annotation, error)
	Update(ctx context.Context, a *annotations.Annotation) error
	Delete(ctx context.Context, id int64) error
	DeleteByImage(ctx context.Context, imageID string) (int64, error)
}

// Config wires the server's dependencies.
type Config struct {
	Tiles       TileService
	Cache       CacheAdmin
	Annotations AnnotationStore

	// Quality is the JPEG quality for local tiles; ProxyQuality for
	// dynamically rendered proxy tiles.
	Quality      int
	ProxyQuality int

	Logger zerolog.Logger
}

// Server holds the HTTP handlers for the tile API.
type Server struct {
	tiles        TileService
	cache        CacheAdmin
	annotations  AnnotationStore
	quality      int
	proxyQuality int
	logger       zerolog.Logger
}

// New creates a Server from its dependencies.
func New(cfg Config) *Server {
	if cfg.Quality <= 0 {
		cfg.Quality = pipeline.DefaultQuality
	}
	if cfg.ProxyQuality <= 0 {
		cfg.ProxyQuality = 90
	}
	return &Server{
		tiles:        cfg.Tiles,
		cache:        cfg.Cache,
		annotations:  cfg.Annotations,
		quality:      cfg.Quality,
		proxyQuality: cfg.ProxyQuality,
		logger:       cfg.Logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/healthz", s.healthz)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.GET("/tile/:id/:z/:x/:y", s.localTile)
	api.GET("/dynamic-tile/:z/:x/:y", s.dynamicTile)
	api.GET("/info", s.imageInfo)

	api.POST("/precompute", s.startPrecompute)
	api.GET("/precompute/:id/status", s.precomputeStatus)

	api.DELETE("/cache", s.invalidateCache)
	api.GET("/cache/stats", s.cacheStats)

	api.GET("/images/:id/annotations", s.listAnnotations)
	api.POST("/images/:id/annotations", s.createAnnotation)
	api.DELETE("/images/:id/annotations", s.deleteImageAnnotations)
	api.PUT("/annotations/:id", s.updateAnnotation)
	api.DELETE("/annotations/:id", s.deleteAnnotation)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Info().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("size", c.Writer.Size()).
			Msg("request")
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports readiness. A missing shared cache tier degrades the cache,
// it does not stop tile delivery, so the endpoint stays 200 and reports the
// tier state instead.
func (s *Server) ready(c *gin.Context) {
	sharedCache := s.cache.Ping(c.Request.Context()) == nil
	c.JSON(http.StatusOK, gin.H{"status": "ready", "shared_cache": sharedCache})
}
