package pipeline

import (
	"context"

	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// iiifContext identifies the discovery document dialect.
const iiifContext = "http://iiif.io/api/image/2/context.json"

// ImageInfo is the IIIF-style discovery document for a proxied source,
// enough for a deep-zoom viewer to address the pyramid.
type ImageInfo struct {
	Context  string     `json:"@context"`
	ID       string     `json:"@id,omitempty"`
	Protocol string     `json:"protocol"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	MaxLevel int        `json:"maxLevel"`
	Tiles    []TileGrid `json:"tiles"`
	Profile  []string   `json:"profile"`
}

// TileGrid describes the tile layout of one pyramid.
type TileGrid struct {
	Width        int   `json:"width"`
	ScaleFactors []int `json:"scaleFactors"`
}

// Info resolves an external source and builds its discovery document.
func (p *Pipeline) Info(ctx context.Context, ref string) (*ImageInfo, error) {
	src, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	factors := make([]int, src.MaxLevel+1)
	for i := range factors {
		factors[i] = 1 << i
	}

	return &ImageInfo{
		Context:  iiifContext,
		ID:       tilecache.SanitizeRef(ref),
		Protocol: "http://iiif.io/api/image",
		Width:    src.Width,
		Height:   src.Height,
		MaxLevel: src.MaxLevel,
		Tiles: []TileGrid{
			{Width: p.tileSize, ScaleFactors: factors},
		},
		Profile: []string{"http://iiif.io/api/image/2/level2.json"},
	}, nil
}
