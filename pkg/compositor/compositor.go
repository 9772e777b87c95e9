// Package compositor renders a raster into a circular, print sized artifact.
//
// Rendering is a pure function of the raster, the transform and the
// geometry: the same inputs always produce the same pixels and bytes.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/menta2k/circle-cropper/pkg/types"
)

// Interpolation names a resampling kernel
type Interpolation string

const (
	Nearest        Interpolation = "nearest"
	ApproxBiLinear Interpolation = "approx-bilinear"
	BiLinear       Interpolation = "bilinear"
	CatmullRom     Interpolation = "catmullrom"
)

// ParseInterpolation accepts the Interpolation constants, case-insensitively
func ParseInterpolation(s string) (Interpolation, error) {
	switch i := Interpolation(strings.ToLower(strings.TrimSpace(s))); i {
	case "":
		return CatmullRom, nil
	case Nearest, ApproxBiLinear, BiLinear, CatmullRom:
		return i, nil
	default:
		return "", fmt.Errorf("unknown interpolation %q", s)
	}
}

func (i Interpolation) interpolator() draw.Interpolator {
	switch i {
	case Nearest:
		return draw.NearestNeighbor
	case ApproxBiLinear:
		return draw.ApproxBiLinear
	case BiLinear:
		return draw.BiLinear
	default:
		return draw.CatmullRom
	}
}

// Options holds configuration for the compositor
type Options struct {
	Mapping       Mapping
	Interpolation Interpolation
	Encoding      EncodeOptions
}

// DefaultOptions returns resolution-invariant placement, CatmullRom and PNG
func DefaultOptions() Options {
	return Options{
		Mapping:       MappingResolutionInvariant,
		Interpolation: CatmullRom,
		Encoding:      DefaultEncodeOptions(),
	}
}

// Compositor renders and encodes circular artifacts
type Compositor struct {
	options Options
}

// New creates a new Compositor with default options
func New() *Compositor {
	return &Compositor{options: DefaultOptions()}
}

// NewWithConfig creates a new Compositor with custom options
func NewWithConfig(options Options) *Compositor {
	return &Compositor{options: options}
}

// Options returns the compositor options
func (c *Compositor) Options() Options {
	return c.options
}

// Place computes the draw rectangle for src under t
func (c *Compositor) Place(src image.Image, t types.Transform, g types.Geometry) Placement {
	b := src.Bounds()
	return Place(b.Dx(), b.Dy(), t, g, c.options.Mapping)
}

// Render draws src into a transparent surface of side g.OutputDiameterPx,
// clipped to the inscribed disc.
func (c *Compositor) Render(src image.Image, t types.Transform, g types.Geometry) (*image.NRGBA, Placement, error) {
	d := g.OutputDiameterPx
	mask, err := DiscMask(d)
	if err != nil {
		return nil, Placement{}, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, d, d))
	p := c.Place(src, t, g)
	if p.ScaledW <= 0 || p.ScaledH <= 0 {
		return dst, p, nil
	}

	sr := src.Bounds()
	s := t.Scale
	x0, y0 := p.Rect.Origin().Splat()
	s2d := f64.Aff3{
		s, 0, x0 - s*float64(sr.Min.X),
		0, s, y0 - s*float64(sr.Min.Y),
	}

	c.options.Interpolation.interpolator().Transform(dst, s2d, src, sr, draw.Over, &draw.Options{
		DstMask:  mask,
		DstMaskP: image.Point{},
	})

	return dst, p, nil
}

// Compose renders and encodes src. It returns nil without error when no
// raster is loaded.
func (c *Compositor) Compose(src image.Image, t types.Transform, g types.Geometry) (*Artifact, error) {
	if src == nil {
		return nil, nil
	}

	img, _, err := c.Render(src, t, g)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, c.options.Encoding); err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}

	return &Artifact{
		Data:       buf.Bytes(),
		MediaType:  c.options.Encoding.Format.MediaType(),
		DiameterPx: g.OutputDiameterPx,
		DiameterMM: g.TargetMM,
		DPI:        g.ExportDPI,
		Transform:  t,
	}, nil
}
