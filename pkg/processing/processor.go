package processing

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"honnef.co/go/curve"

	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/loader"
	"github.com/menta2k/circle-cropper/pkg/types"
)

// UserAgent is sent with every download
const UserAgent = "circle-cropper/1.0"

// Processor fetches source images and renders debug overlays
type Processor struct {
	httpClient *http.Client
	// MaxBytes limits downloads. Zero disables the limit.
	MaxBytes int64
}

// NewProcessor creates a processor with a 30s download timeout and a 64 MiB limit
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		MaxBytes:   64 << 20,
	}
}

// IsURL reports whether source is an http(s) URL
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// LoadSource reads a payload from a file path or downloads it from a URL
func (p *Processor) LoadSource(ctx context.Context, source string) (loader.Payload, error) {
	if IsURL(source) {
		return p.Fetch(ctx, source)
	}
	return loader.ReadFile(source)
}

// Fetch downloads an image. The declared content type travels with the payload
// so non-image responses are rejected by the loader.
func (p *Processor) Fetch(ctx context.Context, imageURL string) (loader.Payload, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return loader.Payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return loader.Payload{}, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return loader.Payload{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return loader.Payload{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return loader.Payload{}, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if p.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, p.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return loader.Payload{}, fmt.Errorf("failed to read image data: %w", err)
	}
	if p.MaxBytes > 0 && int64(len(data)) > p.MaxBytes {
		return loader.Payload{}, fmt.Errorf("image exceeds %d bytes", p.MaxBytes)
	}

	mediaType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}

	name := path.Base(parsedURL.Path)
	if name == "." || name == "/" {
		name = parsedURL.Host
	}
	return loader.Payload{Name: name, MediaType: mediaType, Data: data}, nil
}

// DiscFootprint returns the part of the raster that ends up inside the disc,
// in raster pixel coordinates.
func DiscFootprint(p compositor.Placement, t types.Transform, g types.Geometry) curve.Circle {
	r := float64(g.OutputDiameterPx) / 2
	x0, y0 := p.Rect.Origin().Splat()
	return curve.Circle{
		Center: curve.Pt((r-x0)/t.Scale, (r-y0)/t.Scale),
		Radius: r / t.Scale,
	}
}

// CreateDebugOverlay draws the subject box and the disc footprint over img
func (p *Processor) CreateDebugOverlay(img image.Image, subject types.Box, disc curve.Circle) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}  // subject box
	gold := color.NRGBA{255, 204, 0, 255} // disc outline
	red := color.NRGBA{255, 0, 0, 255}    // disc center
	blue := color.NRGBA{0, 170, 255, 255} // image center
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	cross := int(math.Max(4, 0.01*float64(min(w, h))))

	if subject.W > 0 && subject.H > 0 {
		drawBox(nrgba, subject, w, h, green, stroke)
	}

	if disc.Radius > 0 {
		for s := 0; s < stroke; s++ {
			drawCircle(nrgba, disc.Center, disc.Radius-float64(s), gold)
		}
		px := int(math.Round(disc.Center.X))
		py := int(math.Round(disc.Center.Y))
		drawHLine(nrgba, py, px-cross, px+cross, red)
		drawVLine(nrgba, px, py-cross, py+cross, red)
	}

	ix, iy := w/2, h/2
	drawHLine(nrgba, iy, ix-6, ix+6, blue)
	drawVLine(nrgba, ix, iy-6, iy+6, blue)

	return nrgba
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boxToPixels(box types.Box, w, h int) (int, int, int, int) {
	x0 := int(clamp(box.X, 0, 1)*float64(w) + 0.5)
	y0 := int(clamp(box.Y, 0, 1)*float64(h) + 0.5)
	x1 := int(clamp(box.X+box.W, 0, 1)*float64(w) + 0.5)
	y1 := int(clamp(box.Y+box.H, 0, 1)*float64(h) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawBox(img *image.NRGBA, box types.Box, w, h int, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box, w, h)
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

// drawCircle plots an outline with one sample per pixel of circumference
func drawCircle(img *image.NRGBA, center curve.Point, radius float64, c color.NRGBA) {
	if radius <= 0 {
		return
	}
	steps := max(int(2*math.Pi*radius), 16)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		setPixel(img, int(math.Round(center.X+radius*math.Cos(a))), int(math.Round(center.Y+radius*math.Sin(a))), c)
	}
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return
	}
	i := img.PixOffset(x, y)
	img.Pix[i+0] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = c.A
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	for x := x0; x < x1; x++ {
		setPixel(img, x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := y0; y < y1; y++ {
		setPixel(img, x, y, c)
	}
}
