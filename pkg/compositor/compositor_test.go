package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/circle-cropper/pkg/types"
)

// createTestImage creates a solid test image
func createTestImage(width, height int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var red = color.NRGBA{255, 0, 0, 255}

// geometry with a 200px preview and a 400px export surface
func testGeometry() types.Geometry {
	return types.Geometry{TargetMM: 40, ExportDPI: 254, PreviewDiameterPx: 200, OutputDiameterPx: 400}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPlaceCentered(t *testing.T) {
	p := Place(400, 300, types.Identity(), testGeometry(), MappingResolutionInvariant)

	if p.ScaledW != 400 || p.ScaledH != 300 {
		t.Errorf("Expected scaled size 400x300, got %vx%v", p.ScaledW, p.ScaledH)
	}
	if p.Rect.X0 != 0 || p.Rect.Y0 != 50 {
		t.Errorf("Expected top-left (0,50), got (%v,%v)", p.Rect.X0, p.Rect.Y0)
	}
	c := p.Rect.Center()
	if c.X != 200 || c.Y != 200 {
		t.Errorf("Expected rectangle centered at (200,200), got %v", c)
	}
}

func TestPlaceScaled(t *testing.T) {
	tr := types.Transform{Scale: 0.5}
	p := Place(400, 300, tr, testGeometry(), MappingResolutionInvariant)

	if p.ScaledW != 200 || p.ScaledH != 150 {
		t.Errorf("Expected scaled size 200x150, got %vx%v", p.ScaledW, p.ScaledH)
	}
	if p.Rect.X0 != 100 || p.Rect.Y0 != 125 {
		t.Errorf("Expected top-left (100,125), got (%v,%v)", p.Rect.X0, p.Rect.Y0)
	}
}

func TestPlaceOffsetMapping(t *testing.T) {
	tr := types.Transform{OffsetX: 10, OffsetY: -4, Scale: 1}
	g := testGeometry()

	inv := Place(100, 100, tr, g, MappingResolutionInvariant)
	if inv.MappedX != 20 || inv.MappedY != -8 {
		t.Errorf("Resolution-invariant: expected mapped offset (20,-8), got (%v,%v)", inv.MappedX, inv.MappedY)
	}
	if inv.Rect.X0 != 170 || inv.Rect.Y0 != 142 {
		t.Errorf("Resolution-invariant: expected top-left (170,142), got (%v,%v)", inv.Rect.X0, inv.Rect.Y0)
	}

	raw := Place(100, 100, tr, g, MappingLegacyRaw)
	if raw.MappedX != 10 || raw.MappedY != -4 {
		t.Errorf("Legacy: expected mapped offset (10,-4), got (%v,%v)", raw.MappedX, raw.MappedY)
	}
	if raw.Rect.X0 != 160 || raw.Rect.Y0 != 146 {
		t.Errorf("Legacy: expected top-left (160,146), got (%v,%v)", raw.Rect.X0, raw.Rect.Y0)
	}
}

func TestOffsetIsPhysicallyInvariant(t *testing.T) {
	tr := types.Transform{OffsetX: 30, OffsetY: -12, Scale: 1.5}

	for _, dpi := range []float64{96, 150, 300, 600} {
		g, err := types.NewGeometry(40, dpi, 200)
		if err != nil {
			t.Fatal(err)
		}
		p := Place(640, 480, tr, g, MappingResolutionInvariant)
		d := float64(g.OutputDiameterPx)
		c := p.Rect.Center()

		// Displacement as a fraction of the diameter must match the preview
		if fx := (c.X - d/2) / d; !almostEqual(fx, 30.0/200) {
			t.Errorf("dpi %v: expected x fraction %v, got %v", dpi, 30.0/200, fx)
		}
		if fy := (c.Y - d/2) / d; !almostEqual(fy, -12.0/200) {
			t.Errorf("dpi %v: expected y fraction %v, got %v", dpi, -12.0/200, fy)
		}
	}
}

func TestOffsetForFocus(t *testing.T) {
	g := testGeometry()
	for _, m := range []Mapping{MappingResolutionInvariant, MappingLegacyRaw} {
		tr := types.Transform{Scale: 2}
		off := OffsetForFocus(300, 200, tr, g, m, 0.8, 0.25)
		tr.OffsetX, tr.OffsetY = off.X, off.Y

		p := Place(300, 200, tr, g, m)
		fx := p.Rect.X0 + 0.8*p.ScaledW
		fy := p.Rect.Y0 + 0.25*p.ScaledH
		if !almostEqual(fx, 200) || !almostEqual(fy, 200) {
			t.Errorf("%s: expected focus at (200,200), got (%v,%v)", m, fx, fy)
		}
	}
}

func TestRenderClipsToDisc(t *testing.T) {
	c := New()
	img, p, err := c.Render(createTestImage(400, 300, red), types.Identity(), testGeometry())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 400, 400) {
		t.Fatalf("Expected 400x400 surface, got %v", img.Bounds())
	}
	if p.ScaledW != 400 || p.ScaledH != 300 {
		t.Errorf("Expected placement 400x300, got %vx%v", p.ScaledW, p.ScaledH)
	}

	tests := []struct {
		name   string
		x, y   int
		opaque bool
	}{
		{"center", 200, 200, true},
		{"inside raster and disc", 200, 100, true},
		{"above raster", 200, 20, false},
		{"corner", 0, 0, false},
		{"raster outside disc", 10, 60, false},
		{"bottom right corner", 399, 399, false},
	}

	for _, tt := range tests {
		got := img.NRGBAAt(tt.x, tt.y)
		if tt.opaque && got != red {
			t.Errorf("%s: expected opaque red, got %v", tt.name, got)
		}
		if !tt.opaque && got.A != 0 {
			t.Errorf("%s: expected transparent, got %v", tt.name, got)
		}
	}
}

func TestRenderOffsetMappingPixels(t *testing.T) {
	src := createTestImage(100, 100, red)
	tr := types.Transform{OffsetX: 50, Scale: 1}
	g := testGeometry()

	// Resolution-invariant: the raster spans x in [250,350)
	inv, _, err := NewWithConfig(Options{Mapping: MappingResolutionInvariant}).Render(src, tr, g)
	if err != nil {
		t.Fatal(err)
	}
	if got := inv.NRGBAAt(320, 200); got != red {
		t.Errorf("Resolution-invariant: expected red at x=320, got %v", got)
	}
	if got := inv.NRGBAAt(230, 200); got.A != 0 {
		t.Errorf("Resolution-invariant: expected transparent at x=230, got %v", got)
	}

	// Legacy: the raster spans x in [200,300)
	raw, _, err := NewWithConfig(Options{Mapping: MappingLegacyRaw}).Render(src, tr, g)
	if err != nil {
		t.Fatal(err)
	}
	if got := raw.NRGBAAt(320, 200); got.A != 0 {
		t.Errorf("Legacy: expected transparent at x=320, got %v", got)
	}
	if got := raw.NRGBAAt(230, 200); got != red {
		t.Errorf("Legacy: expected red at x=230, got %v", got)
	}
}

func TestRenderNonZeroOrigin(t *testing.T) {
	full := createTestImage(200, 200, red).(*image.NRGBA)
	sub := full.SubImage(image.Rect(50, 50, 150, 150))

	img, _, err := New().Render(sub, types.Identity(), testGeometry())
	if err != nil {
		t.Fatal(err)
	}
	if got := img.NRGBAAt(200, 200); got != red {
		t.Errorf("Expected red at center, got %v", got)
	}
	if got := img.NRGBAAt(200, 140); got.A != 0 {
		t.Errorf("Expected transparent above the 100px raster, got %v", got)
	}
}

func TestComposeIdempotent(t *testing.T) {
	c := New()
	src := imaging.New(320, 240, color.NRGBA{10, 200, 30, 255})
	tr := types.Transform{OffsetX: -17.5, OffsetY: 3.25, Scale: 1.7}
	g := types.DefaultGeometry()

	a1, err := c.Compose(src, tr, g)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	a2, err := c.Compose(src, tr, g)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !bytes.Equal(a1.Data, a2.Data) {
		t.Error("Expected identical artifacts for identical inputs")
	}
	if a1.DiameterPx != 151 || a1.DiameterMM != 40 || a1.DPI != 96 {
		t.Errorf("Unexpected artifact metadata: %dpx %vmm %vdpi", a1.DiameterPx, a1.DiameterMM, a1.DPI)
	}
	if a1.Transform != tr {
		t.Errorf("Expected transform %v, got %v", tr, a1.Transform)
	}
}

func TestComposeWithoutRaster(t *testing.T) {
	a, err := New().Compose(nil, types.Identity(), testGeometry())
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if a != nil {
		t.Error("Expected no artifact without a raster")
	}
}

func TestComposePNGKeepsTransparency(t *testing.T) {
	a, err := New().Compose(createTestImage(500, 500, red), types.Identity(), testGeometry())
	if err != nil {
		t.Fatal(err)
	}
	if a.MediaType != "image/png" {
		t.Errorf("Expected image/png, got %s", a.MediaType)
	}
	if !strings.HasPrefix(a.DataURI(), "data:image/png;base64,") {
		t.Errorf("Unexpected data URI prefix: %.30s", a.DataURI())
	}

	img, err := png.Decode(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("Artifact is not a PNG: %v", err)
	}
	if _, _, _, alpha := img.At(0, 0).RGBA(); alpha != 0 {
		t.Errorf("Expected transparent corner, got alpha %d", alpha)
	}
	if _, _, _, alpha := img.At(200, 200).RGBA(); alpha != 0xffff {
		t.Errorf("Expected opaque center, got alpha %d", alpha)
	}
}

func TestComposeJPEGFlattensOntoWhite(t *testing.T) {
	opts := DefaultOptions()
	opts.Encoding = EncodeOptions{Format: JPEG, Quality: 95}

	a, err := NewWithConfig(opts).Compose(createTestImage(500, 500, red), types.Identity(), testGeometry())
	if err != nil {
		t.Fatal(err)
	}
	if a.MediaType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", a.MediaType)
	}

	img, err := imaging.Decode(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("Artifact is not a JPEG: %v", err)
	}
	r, g, b, _ := img.At(2, 2).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("Expected near-white corner, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestComposeWebP(t *testing.T) {
	opts := DefaultOptions()
	opts.Encoding = EncodeOptions{Format: WebP, Lossless: true}

	a, err := NewWithConfig(opts).Compose(createTestImage(300, 300, red), types.Identity(), testGeometry())
	if err != nil {
		t.Fatal(err)
	}
	if a.MediaType != "image/webp" {
		t.Errorf("Expected image/webp, got %s", a.MediaType)
	}

	img, err := webp.Decode(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("Artifact is not a WebP: %v", err)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 400 {
		t.Errorf("Expected 400x400, got %v", img.Bounds())
	}
}

func TestEncodeBackground(t *testing.T) {
	surface := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	bg := color.NRGBA{0, 0, 255, 255}

	var buf bytes.Buffer
	if err := Encode(&buf, surface, EncodeOptions{Format: PNG, Background: &bg}); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := color.NRGBAModel.Convert(img.At(1, 1)).(color.NRGBA); got != bg {
		t.Errorf("Expected background %v, got %v", bg, got)
	}

	if err := Encode(&buf, surface, EncodeOptions{Format: "gif"}); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestDiscMask(t *testing.T) {
	m, err := DiscMask(101)
	if err != nil {
		t.Fatalf("DiscMask failed: %v", err)
	}
	alpha := func(x, y int) uint32 {
		_, _, _, a := m.At(x, y).RGBA()
		return a
	}
	if alpha(50, 50) != 0xffff {
		t.Errorf("Expected opaque center, got %d", alpha(50, 50))
	}
	if alpha(0, 0) != 0 || alpha(100, 0) != 0 || alpha(0, 100) != 0 || alpha(100, 100) != 0 {
		t.Error("Expected transparent corners")
	}

	again, _ := DiscMask(101)
	if again != m {
		t.Error("Expected cached mask to be reused")
	}

	if _, err := DiscMask(0); err == nil {
		t.Error("Expected error for zero diameter")
	}
}

func TestParsers(t *testing.T) {
	if m, err := ParseMapping("legacy"); err != nil || m != MappingLegacyRaw {
		t.Errorf("ParseMapping(legacy): got %v, %v", m, err)
	}
	if m, err := ParseMapping(""); err != nil || m != MappingResolutionInvariant {
		t.Errorf("ParseMapping(empty): got %v, %v", m, err)
	}
	if _, err := ParseMapping("sideways"); err == nil {
		t.Error("Expected error for unknown mapping")
	}

	if f, err := ParseFormat(".JPEG"); err != nil || f != JPEG {
		t.Errorf("ParseFormat(.JPEG): got %v, %v", f, err)
	}
	if _, err := ParseFormat("bmp"); err == nil {
		t.Error("Expected error for bmp artifacts")
	}

	if i, err := ParseInterpolation("BiLinear"); err != nil || i != BiLinear {
		t.Errorf("ParseInterpolation(BiLinear): got %v, %v", i, err)
	}
	if _, err := ParseInterpolation("lanczos"); err == nil {
		t.Error("Expected error for unknown interpolation")
	}
}

func BenchmarkCompose(b *testing.B) {
	c := New()
	src := createTestImage(1920, 1080, red)
	g := types.DefaultGeometry()
	tr := types.Transform{OffsetX: 12, OffsetY: -8, Scale: 0.3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Compose(src, tr, g)
	}
}
