package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gigaview/tile-engine/pkg/geometry"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// Precompute status states.
const (
	StateAvailable  = "available"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateError      = "error"
)

// Status reports precompute progress for a source.
type Status struct {
	State    string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

func statusKey(id string) string {
	return "status:" + id
}

// Precompute warms the cache for a source by rendering the root tile of each
// requested zoom level with enhancement enabled. It runs asynchronously and
// returns the source identifier under which progress can be queried with
// Status. Levels deeper than the source's pyramid are skipped.
func (p *Pipeline) Precompute(ctx context.Context, ref string, levels []int) string {
	id := tilecache.SanitizeRef(ref)

	// The walk outlives the request that started it.
	go p.runPrecompute(context.WithoutCancel(ctx), ref, id, levels)

	return id
}

func (p *Pipeline) runPrecompute(ctx context.Context, ref, id string, levels []int) {
	p.logger.Info().Str("source", ref).Ints("levels", levels).Msg("Precompute started")
	p.setStatus(ctx, id, Status{State: StateProcessing, Progress: 5})

	total := len(levels)
	if total == 0 {
		p.setStatus(ctx, id, Status{State: StateCompleted, Progress: 100})
		return
	}
	for i, z := range levels {
		addr := tilecache.Key{
			SourceRef: ref,
			Z:         z,
			Enhance:   true,
			Quality:   90,
		}

		if _, err := p.GetDynamicTile(ctx, addr); err != nil {
			if errors.Is(err, geometry.ErrOutOfRange) {
				p.logger.Warn().Int("level", z).Msg("Precompute level outside pyramid, skipping")
			} else {
				p.logger.Error().Err(err).Str("source", ref).Int("level", z).Msg("Precompute failed")
				p.setStatus(ctx, id, Status{State: StateError, Message: err.Error()})
				return
			}
		}

		progress := 10 + ((i+1)*85)/total
		p.setStatus(ctx, id, Status{State: StateProcessing, Progress: progress})
		p.logger.Info().Int("level", z).Int("progress", progress).Msg("Precompute level done")
	}

	p.setStatus(ctx, id, Status{State: StateCompleted, Progress: 100})
	p.logger.Info().Str("source", ref).Msg("Precompute completed")
}

// Status returns the precompute state recorded for a source identifier.
// Sources with no record report StateAvailable.
func (p *Pipeline) Status(ctx context.Context, id string) Status {
	data, ok := p.cache.Get(ctx, statusKey(id))
	if !ok {
		return Status{State: StateAvailable}
	}

	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("Malformed precompute status record")
		return Status{State: StateAvailable}
	}
	return st
}

func (p *Pipeline) setStatus(ctx context.Context, id string, st Status) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, statusKey(id), data); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("Precompute status write-through failed")
	}
}
