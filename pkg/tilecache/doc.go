// Package tilecache provides two-tier caching for rendered tile bytes.
//
// The shared tier is a Redis instance with TTL expiry that survives process
// restarts and is visible to every server instance. The local tier is a
// fixed-capacity in-process store with insertion-order eviction that acts as
// a latency shortcut and as the only store when Redis is unreachable.
//
// # Fail-open semantics
//
// A shared-tier failure never propagates to a tile request. Reads fall back
// to the local tier; writes always land locally and report the shared-tier
// error for logging only. A cache outage therefore degrades latency, not
// availability.
//
// # Keys
//
//	key := tilecache.Key{
//		SourceRef: "andromeda",
//		Z:         12, X: 3, Y: 7,
//		Enhance:   true,
//		Quality:   85,
//	}
//	data, ok := manager.Get(ctx, key.String())
//
// Key encoding is canonical: fixed field order joined with ":", references
// hashed when they could contain the delimiter. The same Key always encodes
// to the same string, on every tier and every process.
//
// # Invalidation
//
// DeleteByPrefix removes all shared-tier variants of a source via SCAN+DEL.
// The local tier is intentionally left alone: entries matching an invalidated
// prefix persist until capacity eviction pushes them out, a bounded staleness
// window traded for a lock-free read path.
//
// # Eviction
//
// Both the local tier and the source-image pool in pkg/source evict
// oldest-inserted, not least-recently-used. Hot entries do not get their
// lifetime extended by reads. This matches the access pattern of a tile
// viewer, where a burst over one source replaces the working set wholesale.
//
// # Metrics
//
//   - tile_cache_hits_total{tier} - hits by tier (redis, local)
//   - tile_cache_misses_total - misses across both tiers
//   - tile_cache_errors_total{operation} - shared-tier errors
//   - tile_cache_local_entries - local tier occupancy
//   - tile_cache_invalidated_keys_total - keys removed by invalidation
package tilecache
