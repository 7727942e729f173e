// Package geometry provides deep-zoom pyramid coordinate math.
//
// All functions are pure and stateless. Level 0 is the coarsest level of the
// pyramid; MaxLevel is full resolution. One output pixel at level z covers
// Scale(z, maxLevel) full-resolution pixels.
package geometry

import (
	"errors"
	"math"
)

// ErrOutOfRange indicates the requested tile lies outside the source image.
var ErrOutOfRange = errors.New("tile out of range")

// CropPlan describes a pixel region in source space plus the tile dimensions
// it is resampled to.
type CropPlan struct {
	// Crop box in full-resolution pixel coordinates, clamped to the image.
	Left, Top, Right, Bottom float64

	// Output tile dimensions after resampling. Always >= 1.
	OutWidth, OutHeight int
}

// MaxLevel returns the deepest pyramid level for an image:
// ceil(log2(max(width, height))). At that level one tile pixel equals one
// source pixel.
func MaxLevel(width, height int) int {
	m := width
	if height > m {
		m = height
	}
	if m <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(m))))
}

// Scale returns the number of full-resolution pixels covered by one output
// pixel at level z: 2^(maxLevel - z).
func Scale(z, maxLevel int) float64 {
	return math.Pow(2, float64(maxLevel-z))
}

// PlanCrop computes the source-space crop box for tile (x, y) at the given
// scale, clamped to the image bounds. Returns ErrOutOfRange when the tile has
// no overlap with the image.
func PlanCrop(x, y, tileSize int, scale float64, width, height int) (CropPlan, error) {
	step := float64(tileSize) * scale

	left := float64(x) * step
	top := float64(y) * step
	right := math.Min(left+step, float64(width))
	bottom := math.Min(top+step, float64(height))

	if left >= float64(width) || top >= float64(height) || right <= left || bottom <= top {
		return CropPlan{}, ErrOutOfRange
	}

	plan := CropPlan{
		Left:      left,
		Top:       top,
		Right:     right,
		Bottom:    bottom,
		OutWidth:  outputDim(right-left, scale),
		OutHeight: outputDim(bottom-top, scale),
	}
	return plan, nil
}

// PlanTile validates the zoom level against the image's pyramid and computes
// the crop plan for tile (z, x, y). Returns ErrOutOfRange when z exceeds the
// pyramid depth or the tile lies outside the image.
func PlanTile(z, x, y, tileSize, width, height int) (CropPlan, error) {
	if z < 0 || x < 0 || y < 0 {
		return CropPlan{}, ErrOutOfRange
	}
	maxLevel := MaxLevel(width, height)
	if z > maxLevel {
		return CropPlan{}, ErrOutOfRange
	}
	return PlanCrop(x, y, tileSize, Scale(z, maxLevel), width, height)
}

// outputDim maps a crop extent back to tile space. Edge tiles may cover less
// than a full tile; the result is floored at 1 so no tile degenerates to an
// empty image.
func outputDim(extent, scale float64) int {
	d := int(math.Round(extent / scale))
	if d < 1 {
		return 1
	}
	return d
}
