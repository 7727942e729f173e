package enhance

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// blockSize is the detector's analysis granularity in pixels.
const blockSize = 16

// brightnessCutoff is the minimum mean luminance for a block to count as
// part of a feature.
const brightnessCutoff = 180.0

// Region is a detected image feature.
type Region struct {
	Rect       image.Rectangle
	Confidence float64
	Name       string
}

// Label detects bright features and draws a colored bounding box around each
// one whose confidence reaches minConfidence. The input image is not
// modified.
func (p *Processor) Label(ctx context.Context, img image.Image, minConfidence float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errNoImage
	}

	canvas := imaging.Clone(img)
	regions := detectRegions(canvas)

	drawn := 0
	for i, region := range regions {
		if region.Confidence < minConfidence {
			continue
		}
		c := paletteColor(i)
		drawRect(canvas, region.Rect, c)
		drawn++
	}

	p.logger.Debug().
		Int("detected", len(regions)).
		Int("drawn", drawn).
		Float64("min_confidence", minConfidence).
		Msg("Feature labels applied")

	return canvas, nil
}

// detectRegions finds connected groups of bright blocks and returns one
// region per group. Confidence scales with how far the group's peak
// brightness sits above the cutoff.
func detectRegions(img *image.NRGBA) []Region {
	bounds := img.Bounds()
	cols := (bounds.Dx() + blockSize - 1) / blockSize
	rows := (bounds.Dy() + blockSize - 1) / blockSize
	if cols == 0 || rows == 0 {
		return nil
	}

	bright := make([]float64, cols*rows)
	for by := 0; by < rows; by++ {
		for bx := 0; bx < cols; bx++ {
			bright[by*cols+bx] = blockLuminance(img, bx, by)
		}
	}

	visited := make([]bool, cols*rows)
	var regions []Region

	for by := 0; by < rows; by++ {
		for bx := 0; bx < cols; bx++ {
			idx := by*cols + bx
			if visited[idx] || bright[idx] < brightnessCutoff {
				continue
			}

			// Flood the connected component of bright blocks.
			minX, minY, maxX, maxY := bx, by, bx, by
			peak := bright[idx]
			stack := []int{idx}
			visited[idx] = true
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := cur%cols, cur/cols

				if cx < minX {
					minX = cx
				}
				if cy < minY {
					minY = cy
				}
				if cx > maxX {
					maxX = cx
				}
				if cy > maxY {
					maxY = cy
				}
				if bright[cur] > peak {
					peak = bright[cur]
				}

				for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, ny := cx+d[0], cy+d[1]
					if nx < 0 || ny < 0 || nx >= cols || ny >= rows {
						continue
					}
					n := ny*cols + nx
					if !visited[n] && bright[n] >= brightnessCutoff {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}

			rect := image.Rect(
				bounds.Min.X+minX*blockSize,
				bounds.Min.Y+minY*blockSize,
				bounds.Min.X+(maxX+1)*blockSize,
				bounds.Min.Y+(maxY+1)*blockSize,
			).Intersect(bounds)

			confidence := (peak - brightnessCutoff) / (255 - brightnessCutoff)
			if confidence > 1 {
				confidence = 1
			}

			name := "feature"
			if confidence >= 0.8 {
				name = "bright feature"
			}

			regions = append(regions, Region{Rect: rect, Confidence: confidence, Name: name})
		}
	}

	return regions
}

// blockLuminance returns the mean luminance of analysis block (bx, by).
func blockLuminance(img *image.NRGBA, bx, by int) float64 {
	bounds := img.Bounds()
	x0 := bounds.Min.X + bx*blockSize
	y0 := bounds.Min.Y + by*blockSize
	x1 := min(x0+blockSize, bounds.Max.X)
	y1 := min(y0+blockSize, bounds.Max.Y)

	var sum, n float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			c := img.NRGBAAt(x, y)
			sum += 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// paletteColor spreads region colors around the hue circle so neighboring
// boxes stay distinguishable.
func paletteColor(i int) color.NRGBA {
	hue := float64((i * 47) % 360)
	r, g, b := colorful.Hsv(hue, 0.85, 0.95).RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// drawRect draws a 2px rectangle border onto img.
func drawRect(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	for t := 0; t < 2; t++ {
		r := rect.Inset(t)
		if r.Empty() {
			return
		}
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, r.Min.Y, c)
			img.SetNRGBA(x, r.Max.Y-1, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.SetNRGBA(r.Min.X, y, c)
			img.SetNRGBA(r.Max.X-1, y, c)
		}
	}
}
