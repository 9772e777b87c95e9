package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/circle-cropper/internal/utils"
)

// Payload is a binary file handed over by the user
type Payload struct {
	Name      string
	MediaType string
	Data      []byte
}

// Raster is a decoded source image. It is never mutated after decoding.
type Raster struct {
	Image  image.Image
	Width  int
	Height int
	Format string
	Name   string
}

// AspectRatio returns width divided by height
func (r *Raster) AspectRatio() float64 {
	return float64(r.Width) / float64(r.Height)
}

// Result is delivered by DecodeAsync
type Result struct {
	Raster *Raster
	Err    error
}

// UnsupportedMediaError is returned for payloads that are not images
type UnsupportedMediaError struct {
	Name      string
	MediaType string
}

func (e *UnsupportedMediaError) Error() string {
	if e.MediaType == "" {
		return fmt.Sprintf("unsupported media for %q: unknown type", e.Name)
	}
	return fmt.Sprintf("unsupported media for %q: %s is not an image", e.Name, e.MediaType)
}

// DecodeError is returned when an image payload cannot be decoded
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %q: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Config holds configuration for the loader
type Config struct {
	// AutoOrientation applies the EXIF orientation tag of JPEG files.
	AutoOrientation bool
	// MaxPixels rejects images whose width*height exceeds it. Zero disables the check.
	MaxPixels int
}

// Loader validates and decodes user supplied image files
type Loader struct {
	config Config
}

// DefaultConfig honours EXIF orientation and caps images at 100 megapixels
func DefaultConfig() Config {
	return Config{
		AutoOrientation: true,
		MaxPixels:       100_000_000,
	}
}

// New creates a new Loader with default configuration
func New() *Loader {
	return &Loader{config: DefaultConfig()}
}

// NewWithConfig creates a new Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	return &Loader{config: config}
}

// ReadFile reads a payload from disk
func ReadFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to read image file: %w", err)
	}
	return Payload{
		Name:      filepath.Base(path),
		MediaType: utils.MediaTypeForFile(path),
		Data:      data,
	}, nil
}

// MediaType resolves the media type of a payload. The declared type wins
// unless it is missing or generic, then the file name and finally the
// content are consulted.
func MediaType(p Payload) string {
	if mt := normalizeMediaType(p.MediaType); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if mt := utils.MediaTypeForFile(p.Name); mt != "" {
		return mt
	}
	if len(p.Data) == 0 {
		return ""
	}
	return normalizeMediaType(http.DetectContentType(p.Data))
}

// Validate checks that the payload claims to be an image
func (l *Loader) Validate(p Payload) error {
	mt := MediaType(p)
	if !strings.HasPrefix(mt, "image/") {
		return &UnsupportedMediaError{Name: p.Name, MediaType: mt}
	}
	return nil
}

// Decode validates and decodes the payload into a Raster
func (l *Loader) Decode(ctx context.Context, p Payload) (*Raster, error) {
	if err := l.Validate(p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		if MediaType(p) != "image/webp" {
			return nil, &DecodeError{Name: p.Name, Err: err}
		}
		format = "webp"
	} else if err := l.checkSize(cfg.Width, cfg.Height); err != nil {
		return nil, &DecodeError{Name: p.Name, Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(p.Data), imaging.AutoOrientation(l.config.AutoOrientation))
	if err != nil && format == "webp" {
		// Fallback: libwebp handles variants the pure Go decoder rejects
		img, err = webp.Decode(bytes.NewReader(p.Data))
	}
	if err != nil {
		return nil, &DecodeError{Name: p.Name, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, &DecodeError{Name: p.Name, Err: fmt.Errorf("image has no pixels")}
	}
	if err := l.checkSize(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, &DecodeError{Name: p.Name, Err: err}
	}

	return &Raster{
		Image:  img,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Format: format,
		Name:   p.Name,
	}, nil
}

// DecodeAsync runs Decode on its own goroutine. The channel receives exactly
// one Result and is then closed.
func (l *Loader) DecodeAsync(ctx context.Context, p Payload) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		r, err := l.Decode(ctx, p)
		ch <- Result{Raster: r, Err: err}
	}()
	return ch
}

func (l *Loader) checkSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", w, h)
	}
	if l.config.MaxPixels > 0 && w*h > l.config.MaxPixels {
		return fmt.Errorf("image too large: %dx%d (maximum: %d pixels)", w, h, l.config.MaxPixels)
	}
	return nil
}

func normalizeMediaType(raw string) string {
	if raw == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}
