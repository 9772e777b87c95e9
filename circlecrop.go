// Package circlecrop turns a user supplied image into a circular crop of a
// fixed physical diameter, positioned and scaled interactively.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		circlecrop "github.com/menta2k/circle-cropper"
//	)
//
//	func main() {
//		cropper, err := circlecrop.New(nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//		ctx := context.Background()
//		if err := cropper.LoadFile(ctx, "photo.jpg"); err != nil {
//			log.Fatal(err)
//		}
//
//		s := cropper.Session()
//		s.SetScale(1.4)
//		s.SetOffset(-12, 8)
//
//		if err := cropper.SaveArtifact("photo_circle.png"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package wires these components together:
//
//  1. Loader (pkg/loader): media validation and decoding
//  2. Session (pkg/session): transform state, drag handling and recomputes
//  3. Compositor (pkg/compositor): circular clip and encoding
//  4. Publisher (pkg/publisher): one delivery per change
//  5. Locators (pkg/vision, pkg/detection): optional subject auto positioning
//
// The preview and the exported artifact share one transform. Offsets are
// preview pixels and are scaled to the export diameter, so what the preview
// shows is what gets written.
package circlecrop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/menta2k/circle-cropper/internal/config"
	"github.com/menta2k/circle-cropper/internal/utils"
	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/detection"
	"github.com/menta2k/circle-cropper/pkg/llamacpp"
	"github.com/menta2k/circle-cropper/pkg/ollama"
	"github.com/menta2k/circle-cropper/pkg/processing"
	"github.com/menta2k/circle-cropper/pkg/session"
	"github.com/menta2k/circle-cropper/pkg/types"
	"github.com/menta2k/circle-cropper/pkg/vision"
)

// Version of the circle cropper library
const Version = "1.0.0"

// ErrNoLocator is returned by AutoPosition when no locator backend is configured
var ErrNoLocator = errors.New("no subject locator configured")

// Cropper provides a high-level interface over one crop session
type Cropper struct {
	config    *config.Config
	session   *session.Session
	processor *processing.Processor
	locator   detection.Locator
}

// New creates a Cropper from cfg, or from the default configuration when cfg is nil
func New(cfg *config.Config) (*Cropper, error) {
	return NewWithSessionOptions(cfg, nil)
}

// NewWithSessionOptions creates a Cropper and lets configure adjust the
// session options derived from cfg, for example to set a consumer or logger.
func NewWithSessionOptions(cfg *config.Config, configure func(*session.Options)) (*Cropper, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts, err := SessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(&opts)
	}

	s, err := session.New(opts)
	if err != nil {
		return nil, err
	}

	locator, err := NewLocator(cfg)
	if err != nil {
		return nil, err
	}

	return &Cropper{
		config:    cfg,
		session:   s,
		processor: processing.NewProcessor(),
		locator:   locator,
	}, nil
}

// SessionOptions derives session options from cfg
func SessionOptions(cfg *config.Config) (session.Options, error) {
	opts := session.DefaultOptions()

	g, err := cfg.GeometryValue()
	if err != nil {
		return opts, fmt.Errorf("invalid geometry: %w", err)
	}
	opts.Geometry = g

	copts, err := cfg.CompositorOptions()
	if err != nil {
		return opts, err
	}
	opts.Compositor = copts
	return opts, nil
}

// NewLocator builds the locator selected by cfg.Locator.Backend. It returns
// nil for the "none" backend.
func NewLocator(cfg *config.Config) (detection.Locator, error) {
	lc := cfg.Locator
	switch lc.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendSaliency:
		return vision.NewWithConfig(cfg.SaliencyConfig()), nil
	case config.BackendOllama:
		c, err := ollama.NewClient(lc.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return detection.NewVisionLocator(c, lc.Model).WithEncoding(lc.SendSize, lc.SendQuality), nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(lc.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return detection.NewVisionLocator(c, lc.Model).WithEncoding(lc.SendSize, lc.SendQuality), nil
	default:
		return nil, fmt.Errorf("unknown locator backend %q", lc.Backend)
	}
}

// Config returns the configuration the cropper was built from
func (c *Cropper) Config() *config.Config {
	return c.config
}

// Session returns the underlying session
func (c *Cropper) Session() *session.Session {
	return c.session
}

// Locator returns the configured locator, or nil
func (c *Cropper) Locator() detection.Locator {
	return c.locator
}

// SetLocator replaces the locator used by AutoPosition
func (c *Cropper) SetLocator(l detection.Locator) {
	c.locator = l
}

// LoadFile loads an image from a path or an http(s) URL
func (c *Cropper) LoadFile(ctx context.Context, source string) error {
	payload, err := c.processor.LoadSource(ctx, source)
	if err != nil {
		return err
	}
	return c.session.Load(ctx, payload)
}

// AutoPosition centers the subject found by the configured locator
func (c *Cropper) AutoPosition(ctx context.Context) (types.Box, error) {
	if c.locator == nil {
		return types.Box{}, ErrNoLocator
	}
	return c.session.AutoPosition(ctx, c.locator)
}

// Artifact flushes pending changes and returns the current artifact
func (c *Cropper) Artifact() (*compositor.Artifact, error) {
	if err := c.session.Flush(); err != nil {
		return nil, err
	}
	a := c.session.Artifact()
	if a == nil {
		return nil, session.ErrNoImage
	}
	return a, nil
}

// SaveArtifact writes the current artifact to path, creating its directory
func (c *Cropper) SaveArtifact(path string) error {
	a, err := c.Artifact()
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return a.Save(path)
}

// OutputPath names the artifact for input following the output section
func (c *Cropper) OutputPath(input string) string {
	out := c.config.Output
	format, err := compositor.ParseFormat(out.Format)
	if err != nil {
		format = compositor.PNG
	}
	return utils.GenerateOutputFilename(input, out.OutputDir, out.Prefix, out.Suffix, string(format))
}

// DebugOverlay draws subject and the current disc footprint over the source image
func (c *Cropper) DebugOverlay(subject types.Box) (image.Image, error) {
	r := c.session.Raster()
	p, ok := c.session.Placement()
	if r == nil || !ok {
		return nil, session.ErrNoImage
	}
	disc := processing.DiscFootprint(p, c.session.Transform(), c.session.Geometry())
	return c.processor.CreateDebugOverlay(r.Image, subject, disc), nil
}

// CropFile loads in, applies t and writes the artifact to out
func (c *Cropper) CropFile(ctx context.Context, in, out string, t types.Transform) (*compositor.Artifact, error) {
	if err := c.LoadFile(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	s := c.session
	if t.Scale != 0 {
		if _, err := s.SetScale(t.Scale); err != nil {
			return nil, err
		}
	}
	if err := s.SetOffset(t.OffsetX, t.OffsetY); err != nil {
		return nil, err
	}

	a, err := c.Artifact()
	if err != nil {
		return nil, err
	}
	if err := c.SaveArtifact(out); err != nil {
		return nil, err
	}
	return a, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
