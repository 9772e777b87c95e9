package vision

import (
	"context"
	"errors"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/circle-cropper/pkg/types"
)

// SaliencyLocator finds the most salient square window of an image without
// calling out to a model
type SaliencyLocator struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for saliency detection
type DetectionConfig struct {
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	// AnalysisSize is the long side the image is reduced to before scoring
	AnalysisSize int
	// MaxRegions bounds the number of candidate regions kept
	MaxRegions int
}

// New creates a new SaliencyLocator with default configuration
func New() *SaliencyLocator {
	return &SaliencyLocator{
		config: DetectionConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.3,
			ColorWeight:     0.2,
			MinSubjectRatio: 0.05,
			AnalysisSize:    256,
			MaxRegions:      10,
		},
	}
}

// NewWithConfig creates a new SaliencyLocator with custom configuration
func NewWithConfig(config DetectionConfig) *SaliencyLocator {
	return &SaliencyLocator{config: config}
}

// Region is a window of the analysis image, in analysis pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// saliencyMap is a row-major grid of per-pixel scores
type saliencyMap struct {
	w, h int
	v    []float64
}

func (m *saliencyMap) at(x, y int) float64 {
	return m.v[y*m.w+x]
}

// Locate implements detection.Locator. Images with no salient window yield
// the centered box.
func (d *SaliencyLocator) Locate(ctx context.Context, img image.Image) (types.Box, error) {
	if img == nil {
		return types.Box{}, errors.New("no image to analyze")
	}
	b := img.Bounds()
	if b.Empty() {
		return types.Box{}, errors.New("image has no pixels")
	}

	small := d.prepare(img)
	if err := ctx.Err(); err != nil {
		return types.Box{}, err
	}

	regions := d.DetectSubjects(small)
	if len(regions) == 0 {
		return types.CenterBox, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Box{}, err
	}

	best := regions[0]
	sb := small.Bounds()
	w, h := float64(sb.Dx()), float64(sb.Dy())
	return types.Box{
		X: float64(best.X) / w,
		Y: float64(best.Y) / h,
		W: float64(best.Width) / w,
		H: float64(best.Height) / h,
	}, nil
}

// prepare reduces img to the analysis size, rebasing it at the origin
func (d *SaliencyLocator) prepare(img image.Image) image.Image {
	b := img.Bounds()
	size := d.config.AnalysisSize
	if size <= 0 || (b.Dx() <= size && b.Dy() <= size) {
		return imaging.Clone(img)
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, size, 0, imaging.Box)
	}
	return imaging.Resize(img, 0, size, imaging.Box)
}

// DetectSubjects returns candidate regions sorted by descending score
func (d *SaliencyLocator) DetectSubjects(img image.Image) []Region {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	m := d.calculateSaliencyMap(img)
	regions := d.findImportantRegions(m, width, height)
	regions = d.filterAndScoreRegions(regions, width, height)

	if d.config.MaxRegions > 0 && len(regions) > d.config.MaxRegions {
		regions = regions[:d.config.MaxRegions]
	}
	return regions
}

func (d *SaliencyLocator) calculateSaliencyMap(img image.Image) *saliencyMap {
	nrgba := imaging.Clone(img)
	width, height := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	m := &saliencyMap{w: width, h: height, v: make([]float64, width*height)}

	px := func(x, y int) (float64, float64, float64) {
		i := y*nrgba.Stride + x*4
		return float64(nrgba.Pix[i]), float64(nrgba.Pix[i+1]), float64(nrgba.Pix[i+2])
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1 := px(x, y)

			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := px(x+dx, y+dy)
					dr, dg, db := r1-r2, g1-g2, b1-b2
					edge += math.Sqrt(dr*dr + dg*dg + db*db)
				}
			}
			edge /= 8 * 255

			brightness := (r1 + g1 + b1) / (3 * 255)
			m.v[y*width+x] = d.config.ContrastWeight*edge + d.config.ColorWeight*brightness
		}
	}
	return m
}

func (d *SaliencyLocator) findImportantRegions(m *saliencyMap, width, height int) []Region {
	var regions []Region

	short := min(width, height)
	for _, size := range []int{short / 6, short / 4, short / 3, short / 2} {
		if size < 8 {
			continue
		}
		step := max(size/8, 1)
		for y := 0; y <= height-size; y += step {
			for x := 0; x <= width-size; x += step {
				score := calculateRegionScore(m, x, y, size, size)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: size, Height: size, Score: score})
				}
			}
		}
	}
	return regions
}

func calculateRegionScore(m *saliencyMap, x, y, width, height int) float64 {
	var total float64
	count := 0
	for ry := y; ry < y+height && ry < m.h; ry++ {
		for rx := x; rx < x+width && rx < m.w; rx++ {
			total += m.at(rx, ry)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (d *SaliencyLocator) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)

	var filtered []Region
	for _, r := range regions {
		if r.Area() >= minArea {
			filtered = append(filtered, r)
		}
	}

	// Larger windows win ties
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Area() > filtered[j].Area()
	})
	return filtered
}
