// Package pipeline orchestrates tile resolution: cache lookup, source fetch,
// pyramid crop, optional enhancement, encoding, and cache store.
//
// The pipeline has no fatal error path once a source has been located.
// Enhancement and cache-store failures are logged and absorbed; only a
// missing source or an out-of-range address surface, and both mean "tile
// absent" rather than a server fault.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/gigaview/tile-engine/pkg/enhance"
	"github.com/gigaview/tile-engine/pkg/geometry"
	"github.com/gigaview/tile-engine/pkg/source"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// ErrTileNotFound indicates no tile exists at the requested address.
var ErrTileNotFound = errors.New("tile not found")

// DefaultTileSize is the pyramid tile edge length in pixels.
const DefaultTileSize = 256

// Tile is a rendered tile ready for delivery.
type Tile struct {
	Data        []byte
	ContentType string
}

// Config holds pipeline construction parameters.
type Config struct {
	Resolver *source.Resolver
	Cache    *tilecache.Manager
	Enhancer enhance.Enhancer

	// TileSize defaults to DefaultTileSize.
	TileSize int

	// PublicDir is the root of pregenerated deep-zoom tile directories for
	// locally hosted sources. Empty disables local tile lookup.
	PublicDir string

	Logger zerolog.Logger
}

// Pipeline renders tiles. Construct one per process and share it; all
// methods are safe for concurrent use.
type Pipeline struct {
	resolver  *source.Resolver
	cache     *tilecache.Manager
	enhancer  enhance.Enhancer
	tileSize  int
	publicDir string
	logger    zerolog.Logger

	// group coalesces concurrent identical cache misses into a single
	// render.
	group singleflight.Group
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Enhancer == nil {
		return nil, fmt.Errorf("enhancer is required")
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = DefaultTileSize
	}
	return &Pipeline{
		resolver:  cfg.Resolver,
		cache:     cfg.Cache,
		enhancer:  cfg.Enhancer,
		tileSize:  cfg.TileSize,
		publicDir: cfg.PublicDir,
		logger:    cfg.Logger,
	}, nil
}

// TileSize returns the configured tile edge length.
func (p *Pipeline) TileSize() int {
	return p.tileSize
}

// CacheTTL returns the shared-tier TTL, for cache-control headers.
func (p *Pipeline) CacheTTL() time.Duration {
	return p.cache.TTL()
}

// NotFound reports whether err represents a legitimately absent tile — an
// out-of-range address or an unavailable source — as opposed to a defect.
func NotFound(err error) bool {
	return errors.Is(err, ErrTileNotFound) ||
		errors.Is(err, geometry.ErrOutOfRange) ||
		errors.Is(err, source.ErrSourceUnavailable)
}

// GetTile serves a tile for a locally hosted, pre-tiled source. The address'
// SourceRef is the local image identifier; the tile bytes come from the
// pregenerated deep-zoom directory, optionally enhanced and labeled.
func (p *Pipeline) GetTile(ctx context.Context, addr tilecache.Key) (*Tile, error) {
	return p.serve(ctx, addr, "local", p.renderLocal)
}

// GetDynamicTile serves a tile cropped on demand from a full source image
// addressed by URL.
func (p *Pipeline) GetDynamicTile(ctx context.Context, addr tilecache.Key) (*Tile, error) {
	return p.serve(ctx, addr, "dynamic", p.renderDynamic)
}

type renderFunc func(ctx context.Context, addr tilecache.Key, key string) (*Tile, error)

func (p *Pipeline) serve(ctx context.Context, addr tilecache.Key, mode string, render renderFunc) (*Tile, error) {
	key := addr.String()

	if data, ok := p.cache.Get(ctx, key); ok {
		p.logger.Debug().Str("key", key).Msg("Tile cache hit")
		TilesServed.WithLabelValues(mode, "hit").Inc()
		return &Tile{Data: data, ContentType: http.DetectContentType(data)}, nil
	}

	// Coalesce concurrent misses for the same key into one render. The
	// render keeps going if the first caller disconnects so the result still
	// lands in the cache for the next request.
	renderCtx := context.WithoutCancel(ctx)
	result, err, _ := p.group.Do(key, func() (any, error) {
		start := time.Now()
		tile, err := render(renderCtx, addr, key)
		if err != nil {
			return nil, err
		}
		RenderDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		return tile, nil
	})
	if err != nil {
		if NotFound(err) {
			TilesServed.WithLabelValues(mode, "absent").Inc()
		} else {
			TilesServed.WithLabelValues(mode, "error").Inc()
		}
		return nil, err
	}

	TilesServed.WithLabelValues(mode, "rendered").Inc()
	return result.(*Tile), nil
}

// renderLocal loads a pregenerated tile from disk and runs it through the
// enhancement and encoding tail of the pipeline.
func (p *Pipeline) renderLocal(ctx context.Context, addr tilecache.Key, key string) (*Tile, error) {
	if p.publicDir == "" {
		return nil, ErrTileNotFound
	}

	path := p.findLocalTile(addr)
	if path == "" {
		p.logger.Warn().
			Str("source", addr.SourceRef).
			Int("z", addr.Z).Int("x", addr.X).Int("y", addr.Y).
			Msg("Local tile not found")
		return nil, ErrTileNotFound
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTileNotFound, path, err)
	}

	return p.finish(ctx, img, addr, key)
}

// findLocalTile probes the deep-zoom directory layouts a source may have
// been tiled into.
func (p *Pipeline) findLocalTile(addr tilecache.Key) string {
	z := strconv.Itoa(addr.Z)
	name := fmt.Sprintf("%d_%d", addr.X, addr.Y)

	candidates := []string{
		filepath.Join(p.publicDir, addr.SourceRef+"_files", z, name+".jpg"),
		filepath.Join(p.publicDir, addr.SourceRef+"_files", z, name+".png"),
		filepath.Join(p.publicDir, "tiles", addr.SourceRef, z, name+".jpg"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// renderDynamic resolves the full source image, crops the addressed pyramid
// region, and resamples it to tile dimensions.
func (p *Pipeline) renderDynamic(ctx context.Context, addr tilecache.Key, key string) (*Tile, error) {
	src, err := p.resolver.Resolve(ctx, addr.SourceRef)
	if err != nil {
		return nil, err
	}

	plan, err := geometry.PlanTile(addr.Z, addr.X, addr.Y, p.tileSize, src.Width, src.Height)
	if err != nil {
		p.logger.Debug().
			Int("z", addr.Z).Int("x", addr.X).Int("y", addr.Y).
			Int("width", src.Width).Int("height", src.Height).
			Msg("Tile out of bounds")
		return nil, err
	}

	cropped := imaging.Crop(src.Image, image.Rect(
		int(plan.Left), int(plan.Top), int(plan.Right), int(plan.Bottom),
	))
	tile := imaging.Resize(cropped, plan.OutWidth, plan.OutHeight, imaging.Lanczos)

	return p.finish(ctx, tile, addr, key)
}

// finish runs the shared pipeline tail: optional enhancement and labeling
// (both best-effort), encoding, and the cache write-through. Neither an
// enhancement failure nor a store failure fails the tile.
func (p *Pipeline) finish(ctx context.Context, img image.Image, addr tilecache.Key, key string) (*Tile, error) {
	if addr.Enhance {
		enhanced, err := p.enhancer.Enhance(ctx, img)
		if err != nil {
			EnhancementFailures.WithLabelValues("enhance").Inc()
			p.logger.Warn().Err(err).Str("key", key).Msg("Enhancement failed, serving unenhanced tile")
		} else {
			img = enhanced
		}
	}

	if addr.Labels {
		labeled, err := p.enhancer.Label(ctx, img, addr.ConfidenceThreshold)
		if err != nil {
			EnhancementFailures.WithLabelValues("label").Inc()
			p.logger.Warn().Err(err).Str("key", key).Msg("Labeling failed, serving unlabeled tile")
		} else {
			img = labeled
		}
	}

	data, contentType, err := encodeTile(img, addr.Quality)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Set(ctx, key, data); err != nil {
		StoreFailures.Inc()
		p.logger.Warn().Err(err).Str("key", key).Msg("Cache store failed for rendered tile")
	}

	return &Tile{Data: data, ContentType: contentType}, nil
}
