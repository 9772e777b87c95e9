package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	circlecrop "github.com/menta2k/circle-cropper"
	"github.com/menta2k/circle-cropper/internal/config"
	"github.com/menta2k/circle-cropper/internal/utils"
	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/session"
	"github.com/menta2k/circle-cropper/pkg/types"
)

func main() {
	var in, out, configPath, saveConfig string
	var scale, dx, dy float64
	var ext string
	var quality int
	var lossless bool
	var mm, dpi float64
	var preview int
	var legacyOffset bool
	var auto, url, model string
	var dataURI, debug, verbose bool

	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/gif/webp/bmp/tiff)")
	flag.StringVar(&out, "out", "", "output file (default: <output_dir>/<name><suffix>.<ext>)")
	flag.StringVar(&configPath, "config", "", "JSON config file (default: "+config.GetConfigPath()+" when present)")
	flag.StringVar(&saveConfig, "save-config", "", "write the effective config (file plus flags) to this path")

	flag.Float64Var(&scale, "scale", 1.0, "image scale (0.1..3.0)")
	flag.Float64Var(&dx, "dx", 0, "horizontal offset in preview pixels")
	flag.Float64Var(&dy, "dy", 0, "vertical offset in preview pixels")

	flag.StringVar(&ext, "ext", "png", "output format: png|webp|jpg")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")

	flag.Float64Var(&mm, "mm", 40, "circle diameter in millimetres")
	flag.Float64Var(&dpi, "dpi", 96, "export resolution in dots per inch")
	flag.IntVar(&preview, "preview", 200, "preview diameter in pixels the offsets refer to")
	flag.BoolVar(&legacyOffset, "legacy-offset", false, "apply preview offsets unscaled to the export")

	flag.StringVar(&auto, "auto", "", "auto-position: none|saliency|ollama|llamacpp")
	flag.StringVar(&url, "url", "", "vision server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "vision model name")

	flag.BoolVar(&dataURI, "datauri", false, "print the artifact as a data URI")
	flag.BoolVar(&debug, "debug", false, "write a debug overlay next to the output")
	flag.BoolVar(&verbose, "v", false, "verbose logging")

	flag.Parse()
	log.SetFlags(0)
	log.SetPrefix("circlecrop: ")
	if in == "" && saveConfig == "" {
		log.Fatalf("usage: %s -in input.jpg|URL [-out out.png] [-scale 1.2] [-dx 10 -dy -5] [-ext png|webp|jpg] [-mm 40 -dpi 300] [-auto saliency|ollama|llamacpp]", filepath.Base(os.Args[0]))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Flags given on the command line override the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ext":
			cfg.Output.Format = ext
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.Lossless = lossless
		case "mm":
			cfg.Geometry.TargetMM = mm
		case "dpi":
			cfg.Geometry.ExportDPI = dpi
		case "preview":
			cfg.Geometry.PreviewDiameterPx = preview
		case "legacy-offset":
			if legacyOffset {
				cfg.Compositor.OffsetMapping = compositor.MappingLegacyRaw.String()
			} else {
				cfg.Compositor.OffsetMapping = compositor.MappingResolutionInvariant.String()
			}
		case "auto":
			cfg.Locator.Backend = auto
		case "url":
			cfg.Locator.URL = url
		case "model":
			cfg.Locator.Model = model
		}
	})
	if saveConfig != "" {
		if err := cfg.Validate(); err != nil {
			log.Fatal(err)
		}
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", saveConfig)
		if in == "" {
			return
		}
	}

	// The config file only supplies locator settings; -auto turns it on
	if !isFlagSet("auto") {
		cfg.Locator.Backend = config.BackendNone
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cropper, err := circlecrop.NewWithSessionOptions(cfg, func(o *session.Options) {
		o.Logger = logger
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := cropper.LoadFile(ctx, in); err != nil {
		log.Fatal(err)
	}

	s := cropper.Session()
	if clamped, err := s.SetScale(scale); err != nil {
		log.Fatal(err)
	} else if clamped {
		log.Printf("scale %.2f clamped to %.2f", scale, s.Transform().Scale)
	}

	var subject types.Box
	if cropper.Locator() != nil {
		subject, err = cropper.AutoPosition(ctx)
		if err != nil {
			log.Fatalf("auto-position failed: %v", err)
		}
		cx, cy := subject.Center()
		log.Printf("subject box=%.3fx%.3f@%.3f,%.3f -> center=%.3f,%.3f", subject.W, subject.H, subject.X, subject.Y, cx, cy)
	}

	t := s.Transform()
	if err := s.SetOffset(t.OffsetX+dx, t.OffsetY+dy); err != nil {
		log.Fatal(err)
	}

	if out == "" {
		out = cropper.OutputPath(in)
	}
	if err := cropper.SaveArtifact(out); err != nil {
		log.Fatal(err)
	}

	a, err := cropper.Artifact()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s (%s, %dpx = %.1fmm @ %.0f DPI, %s, %s)",
		out, a.MediaType, a.DiameterPx, a.DiameterMM, a.DPI, a.Transform, utils.FormatFileSize(int64(a.Size())))

	if debug {
		dbg, err := cropper.DebugOverlay(subject)
		if err != nil {
			log.Printf("debug overlay failed: %v", err)
		} else if err := saveDebug(dbg, out); err != nil {
			log.Printf("debug overlay save failed: %v", err)
		}
	}

	if dataURI {
		fmt.Println(a.DataURI())
	}
}

// loadConfig reads path, or the default config file when it exists
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if !utils.FileExists(config.GetConfigPath()) {
			return config.Default(), nil
		}
		path = config.GetConfigPath()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func saveDebug(img image.Image, out string) error {
	base := strings.TrimSuffix(out, filepath.Ext(out))
	path := base + "_debug.png"
	if err := imaging.Save(img, path); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}
