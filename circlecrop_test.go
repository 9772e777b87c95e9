package circlecrop

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/circle-cropper/internal/config"
	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/detection"
	"github.com/menta2k/circle-cropper/pkg/session"
	"github.com/menta2k/circle-cropper/pkg/types"
	"github.com/menta2k/circle-cropper/pkg/vision"
)

// createTestImage writes a PNG with a bright subject in the center
func createTestImage(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}

	path := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.Session() == nil {
		t.Error("session is nil")
	}
	if _, ok := c.Locator().(*vision.SaliencyLocator); !ok {
		t.Errorf("Expected saliency locator by default, got %T", c.Locator())
	}
	if c.Session().Geometry().OutputDiameterPx != 151 {
		t.Errorf("Expected 151px output, got %d", c.Session().Geometry().OutputDiameterPx)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Geometry.ExportDPI = -1
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestNewLocator(t *testing.T) {
	tests := []struct {
		backend string
		url     string
		want    string
		wantErr bool
	}{
		{config.BackendNone, "", "<nil>", false},
		{config.BackendSaliency, "", "*vision.SaliencyLocator", false},
		{config.BackendOllama, "", "*detection.VisionLocator", false},
		{config.BackendLlamaCpp, "http://localhost:8080", "*detection.VisionLocator", false},
		{config.BackendLlamaCpp, "localhost:8080", "", true},
		{"magic", "", "", true},
	}

	for _, tt := range tests {
		cfg := config.Default()
		cfg.Locator.Backend = tt.backend
		cfg.Locator.URL = tt.url
		l, err := NewLocator(cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: unexpected error %v", tt.backend, err)
			continue
		}
		if tt.wantErr {
			continue
		}
		switch tt.want {
		case "<nil>":
			if l != nil {
				t.Errorf("%s: expected nil locator, got %T", tt.backend, l)
			}
		case "*vision.SaliencyLocator":
			if _, ok := l.(*vision.SaliencyLocator); !ok {
				t.Errorf("%s: expected %s, got %T", tt.backend, tt.want, l)
			}
		case "*detection.VisionLocator":
			if _, ok := l.(*detection.VisionLocator); !ok {
				t.Errorf("%s: expected %s, got %T", tt.backend, tt.want, l)
			}
		}
	}
}

func TestCropFile(t *testing.T) {
	in := createTestImage(t, 300, 200)
	out := filepath.Join(t.TempDir(), "out", "photo_circle.png")

	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.CropFile(context.Background(), in, out, types.Transform{OffsetX: 5, OffsetY: -5, Scale: 9})
	if err != nil {
		t.Fatalf("CropFile failed: %v", err)
	}

	if a.Transform.Scale != types.MaxScale {
		t.Errorf("Expected clamped scale %v, got %v", types.MaxScale, a.Transform.Scale)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 151 || img.Bounds().Dy() != 151 {
		t.Errorf("Expected 151x151, got %v", img.Bounds())
	}
	if _, _, _, alpha := img.At(0, 0).RGBA(); alpha != 0 {
		t.Errorf("Expected transparent corner, got alpha %d", alpha)
	}
	if _, _, _, alpha := img.At(75, 75).RGBA(); alpha != 0xffff {
		t.Errorf("Expected opaque center, got alpha %d", alpha)
	}
}

func TestSaveArtifactWithoutImage(t *testing.T) {
	c, _ := New(nil)
	err := c.SaveArtifact(filepath.Join(t.TempDir(), "x.png"))
	if !errors.Is(err, session.ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
}

func TestAutoPosition(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.LoadFile(context.Background(), createTestImage(t, 240, 240)); err != nil {
		t.Fatal(err)
	}

	box, err := c.AutoPosition(context.Background())
	if err != nil {
		t.Fatalf("AutoPosition failed: %v", err)
	}
	if box.W <= 0 || box.H <= 0 {
		t.Errorf("Expected a non-empty box, got %+v", box)
	}

	overlay, err := c.DebugOverlay(box)
	if err != nil {
		t.Fatal(err)
	}
	if overlay.Bounds().Dx() != 240 {
		t.Errorf("Expected overlay at source size, got %v", overlay.Bounds())
	}

	c.SetLocator(nil)
	if _, err := c.AutoPosition(context.Background()); !errors.Is(err, ErrNoLocator) {
		t.Errorf("Expected ErrNoLocator, got %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	cfg := config.Default()
	cfg.Output.OutputDir = "dist"
	cfg.Output.Format = "jpeg"
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.OutputPath("/photos/cat.heic"), filepath.Join("dist", "cat_circle.jpg"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Compositor.OffsetMapping = "legacy-raw"
	opts, err := SessionOptions(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Compositor.Mapping != compositor.MappingLegacyRaw {
		t.Errorf("Expected legacy mapping, got %v", opts.Compositor.Mapping)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected %s, got %s", Version, GetVersion())
	}
}
