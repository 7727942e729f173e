package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/disintegration/imaging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gigaview/tile-engine/internal/testutil"
	"github.com/gigaview/tile-engine/pkg/enhance"
	"github.com/gigaview/tile-engine/pkg/source"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// failingEnhancer always errors, for exercising the best-effort contract.
type failingEnhancer struct{}

func (failingEnhancer) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	return nil, errors.New("model exploded")
}

func (failingEnhancer) Label(ctx context.Context, img image.Image, minConfidence float64) (image.Image, error) {
	return nil, errors.New("model exploded")
}

func newTestPipeline(t *testing.T, origin *testutil.MockOrigin, cfg Config) *Pipeline {
	t.Helper()

	if cfg.Resolver == nil {
		cfg.Resolver = source.NewResolver(source.Config{
			AssetLookupURL: origin.AssetLookupURL(),
			FetchTimeout:   2 * time.Second,
		})
	}
	if cfg.Cache == nil {
		cfg.Cache = tilecache.NewManager(nil, tilecache.Options{})
	}
	if cfg.Enhancer == nil {
		cfg.Enhancer = enhance.NewProcessor(zerolog.Nop())
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestPipeline_DynamicTile_MissRendersAndCaches(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768))

	cache := tilecache.NewManager(nil, tilecache.Options{})
	p := newTestPipeline(t, origin, Config{Cache: cache})
	ctx := context.Background()

	addr := tilecache.Key{
		SourceRef: origin.URL() + "/images/galaxy.jpg",
		Z:         10, X: 0, Y: 0, // maxLevel of 1024x768 is 10
		Quality: 85,
	}

	tile, err := p.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("GetDynamicTile failed: %v", err)
	}
	if tile.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", tile.ContentType)
	}

	decoded, err := imaging.Decode(bytes.NewReader(tile.Data))
	if err != nil {
		t.Fatalf("tile bytes not decodable: %v", err)
	}
	if decoded.Bounds().Dx() != 256 || decoded.Bounds().Dy() != 256 {
		t.Errorf("tile = %dx%d, want 256x256", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}

	// The render must have landed in the cache under the canonical key.
	if _, ok := cache.Get(ctx, addr.String()); !ok {
		t.Error("rendered tile not stored in cache")
	}

	// A second request returns identical bytes from cache.
	again, err := p.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("second GetDynamicTile failed: %v", err)
	}
	if !bytes.Equal(tile.Data, again.Data) {
		t.Error("cache hit returned different bytes than the original render")
	}
}

func TestPipeline_DynamicTile_EdgeTileDimensions(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	// 1000x600: maxLevel 10; at z=10 the last column is 1000-3*256 = 232 wide.
	origin.ServeJPEG("/images/wide.jpg", testutil.GradientImage(1000, 600))

	p := newTestPipeline(t, origin, Config{})
	addr := tilecache.Key{
		SourceRef: origin.URL() + "/images/wide.jpg",
		Z:         10, X: 3, Y: 0,
		Quality: 85,
	}

	tile, err := p.GetDynamicTile(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetDynamicTile failed: %v", err)
	}

	decoded, err := imaging.Decode(bytes.NewReader(tile.Data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Bounds().Dx() != 232 || decoded.Bounds().Dy() != 256 {
		t.Errorf("edge tile = %dx%d, want 232x256", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

// Translucent sources are flattened at decode time, so dynamic tiles encode
// as JPEG at the requested quality rather than silently switching to PNG.
func TestPipeline_DynamicTile_TranslucentSourceEncodesJPEG(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServePNG("/images/overlay.png", testutil.TranslucentImage(512, 512))

	p := newTestPipeline(t, origin, Config{})
	tile, err := p.GetDynamicTile(context.Background(), tilecache.Key{
		SourceRef: origin.URL() + "/images/overlay.png",
		Z:         9, X: 0, Y: 0,
		Quality:   85,
	})
	if err != nil {
		t.Fatalf("GetDynamicTile failed: %v", err)
	}
	if tile.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg for a flattened source", tile.ContentType)
	}

	decoded, err := imaging.Decode(bytes.NewReader(tile.Data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Bounds().Dx() != 256 || decoded.Bounds().Dy() != 256 {
		t.Errorf("tile = %dx%d, want 256x256", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

func TestPipeline_DynamicTile_OutOfRange(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/small.jpg", testutil.GradientImage(512, 512))

	p := newTestPipeline(t, origin, Config{})
	ctx := context.Background()
	ref := origin.URL() + "/images/small.jpg"

	tests := []struct {
		name    string
		z, x, y int
	}{
		{"zoom beyond pyramid", 20, 0, 0},
		{"column outside image", 9, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.GetDynamicTile(ctx, tilecache.Key{SourceRef: ref, Z: tt.z, X: tt.x, Y: tt.y, Quality: 85})
			if err == nil {
				t.Fatal("expected error for out-of-range tile")
			}
			if !NotFound(err) {
				t.Errorf("NotFound(%v) = false, want true", err)
			}
		})
	}
}

func TestPipeline_DynamicTile_SourceUnavailable(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()

	p := newTestPipeline(t, origin, Config{})
	_, err := p.GetDynamicTile(context.Background(), tilecache.Key{
		SourceRef: origin.URL() + "/images/absent.jpg",
		Quality:   85,
	})
	if !errors.Is(err, source.ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}
	if !NotFound(err) {
		t.Error("source unavailability must map to an absent tile")
	}
}

// A broken enhancement gateway must never fail tile delivery: the pipeline
// continues with the pre-enhancement image.
func TestPipeline_EnhancementFailureIsSwallowed(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(512, 512))

	p := newTestPipeline(t, origin, Config{Enhancer: failingEnhancer{}})
	tile, err := p.GetDynamicTile(context.Background(), tilecache.Key{
		SourceRef:           origin.URL() + "/images/galaxy.jpg",
		Z:                   9, X: 0, Y: 0,
		Enhance:             true,
		Labels:              true,
		ConfidenceThreshold: 0.5,
		Quality:             85,
	})
	if err != nil {
		t.Fatalf("GetDynamicTile failed despite best-effort enhancement: %v", err)
	}
	if len(tile.Data) == 0 {
		t.Error("tile has no data")
	}
}

// A shared-tier outage mid-flight must not fail the request: the store
// degrades to the local tier and the tile is still delivered.
func TestPipeline_StoreFailureDoesNotFailTile(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(512, 512))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := tilecache.NewManager(client, tilecache.Options{})
	mr.Close()

	p := newTestPipeline(t, origin, Config{Cache: cache})
	tile, err := p.GetDynamicTile(context.Background(), tilecache.Key{
		SourceRef: origin.URL() + "/images/galaxy.jpg",
		Z:         9, X: 0, Y: 0,
		Quality:   85,
	})
	if err != nil {
		t.Fatalf("GetDynamicTile failed during cache outage: %v", err)
	}
	if len(tile.Data) == 0 {
		t.Error("tile has no data")
	}
}

// Concurrent identical cache misses must coalesce into one render: a single
// origin fetch, byte-identical results, one cache entry.
func TestPipeline_SingleFlight(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeSlowJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768), 100*time.Millisecond)

	cache := tilecache.NewManager(nil, tilecache.Options{})
	p := newTestPipeline(t, origin, Config{Cache: cache})

	addr := tilecache.Key{
		SourceRef: origin.URL() + "/images/galaxy.jpg",
		Z:         10, X: 1, Y: 1,
		Quality:   85,
	}

	const workers = 8
	results := make([][]byte, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tile, err := p.GetDynamicTile(context.Background(), addr)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = tile.Data
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], results[0]) {
			t.Errorf("worker %d received different bytes", i)
		}
	}

	if n := origin.PathCount("/images/galaxy.jpg"); n != 1 {
		t.Errorf("origin fetched %d times for %d concurrent identical requests, want 1", n, workers)
	}
	if stats := cache.Stats(context.Background()); stats.LocalEntries != 1 {
		t.Errorf("cache holds %d entries, want exactly 1", stats.LocalEntries)
	}
}

func TestPipeline_LocalTile(t *testing.T) {
	dir := t.TempDir()
	tileDir := filepath.Join(dir, "crater_files", "3")
	if err := os.MkdirAll(tileDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(testutil.GradientImage(256, 256), filepath.Join(tileDir, "0_0.jpg")); err != nil {
		t.Fatal(err)
	}

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	p := newTestPipeline(t, origin, Config{PublicDir: dir})
	ctx := context.Background()

	tile, err := p.GetTile(ctx, tilecache.Key{SourceRef: "crater", Z: 3, X: 0, Y: 0, Quality: 85})
	if err != nil {
		t.Fatalf("GetTile failed: %v", err)
	}
	if tile.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", tile.ContentType)
	}

	_, err = p.GetTile(ctx, tilecache.Key{SourceRef: "crater", Z: 4, X: 0, Y: 0, Quality: 85})
	if !errors.Is(err, ErrTileNotFound) {
		t.Errorf("missing tile error = %v, want ErrTileNotFound", err)
	}
}

func TestPipeline_Info(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768))

	p := newTestPipeline(t, origin, Config{})
	info, err := p.Info(context.Background(), origin.URL()+"/images/galaxy.jpg")
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}

	if info.Width != 1024 || info.Height != 768 {
		t.Errorf("dimensions = %dx%d, want 1024x768", info.Width, info.Height)
	}
	if info.MaxLevel != 10 {
		t.Errorf("MaxLevel = %d, want 10", info.MaxLevel)
	}
	if len(info.Tiles) != 1 || info.Tiles[0].Width != 256 {
		t.Fatalf("unexpected tile grid: %+v", info.Tiles)
	}
	factors := info.Tiles[0].ScaleFactors
	if len(factors) != 11 || factors[0] != 1 || factors[10] != 1024 {
		t.Errorf("scale factors = %v, want 2^0..2^10", factors)
	}
}

func TestPipeline_PrecomputeLifecycle(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(512, 512))

	cache := tilecache.NewManager(nil, tilecache.Options{})
	p := newTestPipeline(t, origin, Config{Cache: cache})
	ctx := context.Background()
	ref := origin.URL() + "/images/galaxy.jpg"

	id := p.Precompute(ctx, ref, []int{0, 1, 2})

	deadline := time.After(10 * time.Second)
	for {
		st := p.Status(ctx, id)
		if st.State == StateCompleted {
			if st.Progress != 100 {
				t.Errorf("completed progress = %d, want 100", st.Progress)
			}
			break
		}
		if st.State == StateError {
			t.Fatalf("precompute failed: %s", st.Message)
		}
		select {
		case <-deadline:
			t.Fatalf("precompute did not complete, last status %+v", st)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The root tile of each level is now cached.
	rootKey := tilecache.Key{SourceRef: ref, Z: 0, Enhance: true, Quality: 90}.String()
	if _, ok := cache.Get(ctx, rootKey); !ok {
		t.Error("precompute did not warm the root tile")
	}
}

func TestPipeline_StatusUnknownSource(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	p := newTestPipeline(t, origin, Config{})

	st := p.Status(context.Background(), "never-precomputed")
	if st.State != StateAvailable || st.Progress != 0 {
		t.Errorf("Status = %+v, want available/0", st)
	}
}
