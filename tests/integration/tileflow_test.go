package integration

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gigaview/tile-engine/internal/testutil"
	"github.com/gigaview/tile-engine/pkg/enhance"
	"github.com/gigaview/tile-engine/pkg/pipeline"
	"github.com/gigaview/tile-engine/pkg/source"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func setupPipeline(t *testing.T, origin *testutil.MockOrigin, redisClient *redis.Client) (*pipeline.Pipeline, *tilecache.Manager) {
	t.Helper()

	cache := tilecache.NewManager(redisClient, tilecache.Options{TTL: time.Minute})
	p, err := pipeline.New(pipeline.Config{
		Resolver: source.NewResolver(source.Config{
			AssetLookupURL: origin.AssetLookupURL(),
			FetchTimeout:   5 * time.Second,
		}),
		Cache:    cache,
		Enhancer: enhance.NewProcessor(zerolog.Nop()),
	})
	if err != nil {
		t.Fatalf("Failed to build pipeline: %v", err)
	}

	return p, cache
}

// TestTileFlow exercises the full path: cache miss → origin fetch → render →
// shared tier store → cache hit on the next request.
func TestTileFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768))

	p, _ := setupPipeline(t, origin, redisClient)
	ctx := context.Background()

	addr := tilecache.Key{
		SourceRef: origin.URL() + "/images/galaxy.jpg",
		Z:         10, X: 1, Y: 1,
		Quality: 85,
	}

	tile, err := p.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if origin.PathCount("/images/galaxy.jpg") != 1 {
		t.Errorf("Origin fetched %d times, want 1", origin.PathCount("/images/galaxy.jpg"))
	}

	// The rendered tile must now live in the shared tier.
	stored, err := redisClient.Get(ctx, addr.String()).Bytes()
	if err != nil {
		t.Fatalf("Tile not stored in Redis: %v", err)
	}
	if !bytes.Equal(stored, tile.Data) {
		t.Error("Stored bytes differ from served bytes")
	}

	// Second request is a cache hit and triggers no new origin fetch.
	again, err := p.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if !bytes.Equal(again.Data, tile.Data) {
		t.Error("Cache hit returned different bytes")
	}
	if origin.PathCount("/images/galaxy.jpg") != 1 {
		t.Errorf("Origin fetched %d times after cache hit, want 1", origin.PathCount("/images/galaxy.jpg"))
	}
}

// TestTileFlow_CrossInstanceHit verifies the shared tier serves tiles
// rendered by another instance.
func TestTileFlow_CrossInstanceHit(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768))

	first, _ := setupPipeline(t, origin, redisClient)
	second, _ := setupPipeline(t, origin, redisClient)
	ctx := context.Background()

	addr := tilecache.Key{
		SourceRef: origin.URL() + "/images/galaxy.jpg",
		Z:         10, X: 0, Y: 0,
		Quality: 85,
	}

	rendered, err := first.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("Render on first instance failed: %v", err)
	}

	served, err := second.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("Request on second instance failed: %v", err)
	}
	if !bytes.Equal(rendered.Data, served.Data) {
		t.Error("Second instance served different bytes")
	}
	if origin.PathCount("/images/galaxy.jpg") != 1 {
		t.Errorf("Origin fetched %d times, want 1 across both instances", origin.PathCount("/images/galaxy.jpg"))
	}
}

// TestTileFlow_Invalidation sweeps all tiles of one source from the shared
// tier and leaves other sources untouched.
func TestTileFlow_Invalidation(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768))
	origin.ServeJPEG("/images/nebula.jpg", testutil.GradientImage(512, 512))

	p, cache := setupPipeline(t, origin, redisClient)
	ctx := context.Background()

	galaxy := origin.URL() + "/images/galaxy.jpg"
	nebula := origin.URL() + "/images/nebula.jpg"

	for x := 0; x < 2; x++ {
		if _, err := p.GetDynamicTile(ctx, tilecache.Key{SourceRef: galaxy, Z: 10, X: x, Quality: 85}); err != nil {
			t.Fatalf("Render failed: %v", err)
		}
	}
	if _, err := p.GetDynamicTile(ctx, tilecache.Key{SourceRef: nebula, Z: 9, Quality: 85}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	n, err := cache.DeleteByPrefix(ctx, tilecache.SourcePrefix(galaxy))
	if err != nil {
		t.Fatalf("Invalidation failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Invalidated %d keys, want 2", n)
	}

	// The other source survives in the shared tier.
	nebulaKey := tilecache.Key{SourceRef: nebula, Z: 9, Quality: 85}.String()
	if err := redisClient.Get(ctx, nebulaKey).Err(); err != nil {
		t.Errorf("Other source was swept too: %v", err)
	}
}

// TestTileFlow_SharedTierOutage stops Redis mid-run and verifies tiles are
// still delivered from render plus local tier.
func TestTileFlow_SharedTierOutage(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.ServeJPEG("/images/galaxy.jpg", testutil.GradientImage(1024, 768))

	p, cache := setupPipeline(t, origin, redisClient)
	ctx := context.Background()

	addr := tilecache.Key{
		SourceRef: origin.URL() + "/images/galaxy.jpg",
		Z:         10, X: 2, Y: 1,
		Quality: 85,
	}

	tile, err := p.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Kill the shared tier.
	redisClient.Close()

	// The tile is still served from the local tier.
	again, err := p.GetDynamicTile(ctx, addr)
	if err != nil {
		t.Fatalf("Request during outage failed: %v", err)
	}
	if !bytes.Equal(again.Data, tile.Data) {
		t.Error("Local tier returned different bytes")
	}

	if stats := cache.Stats(ctx); stats.Connected {
		t.Error("Stats still report a connected shared tier")
	}
}
