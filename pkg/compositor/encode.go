package compositor

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Format is an artifact encoding
type Format string

const (
	PNG  Format = "png"
	WebP Format = "webp"
	JPEG Format = "jpg"
)

// ParseFormat maps a file extension or format name to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "", "png":
		return PNG, nil
	case "webp":
		return WebP, nil
	case "jpg", "jpeg":
		return JPEG, nil
	default:
		return "", fmt.Errorf("unsupported artifact format %q", s)
	}
}

// MediaType returns the media type written into data URIs
func (f Format) MediaType() string {
	switch f {
	case WebP:
		return "image/webp"
	case JPEG:
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// KeepsAlpha reports whether pixels outside the disc stay transparent
func (f Format) KeepsAlpha() bool {
	return f != JPEG
}

// EncodeOptions controls how the composited surface is encoded
type EncodeOptions struct {
	Format   Format
	Quality  int
	Lossless bool
	// Background is painted under the surface. JPEG output falls back to
	// white when it is nil.
	Background *color.NRGBA
}

// DefaultEncodeOptions encodes lossless PNG with a transparent outside
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{Format: PNG, Quality: 90}
}

// Encode writes img in the requested format
func Encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	quality := opts.Quality
	if quality < 1 || quality > 100 {
		quality = 90
	}

	bg := opts.Background
	if bg == nil && !opts.Format.KeepsAlpha() {
		bg = &color.NRGBA{255, 255, 255, 255}
	}
	if bg != nil {
		img = flatten(img, *bg)
	}

	switch opts.Format {
	case WebP:
		return webp.Encode(w, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG, "":
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return fmt.Errorf("unsupported artifact format %q", opts.Format)
	}
}

func flatten(img image.Image, bg color.NRGBA) *image.NRGBA {
	b := img.Bounds()
	base := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(base, img, image.Pt(0, 0), 1.0)
}
