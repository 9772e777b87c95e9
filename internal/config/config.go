package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/types"
	"github.com/menta2k/circle-cropper/pkg/vision"
)

// Locator backends
const (
	BackendNone     = "none"
	BackendSaliency = "saliency"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Geometry   GeometryConfig   `json:"geometry"`
	Compositor CompositorConfig `json:"compositor"`
	Output     OutputConfig     `json:"output"`
	Locator    LocatorConfig    `json:"locator"`
	Vision     VisionConfig     `json:"vision"`
}

// GeometryConfig holds the physical target size and preview size
type GeometryConfig struct {
	TargetMM          float64 `json:"target_mm"`
	ExportDPI         float64 `json:"export_dpi"`
	PreviewDiameterPx int     `json:"preview_diameter_px"`
}

// CompositorConfig holds rendering options
type CompositorConfig struct {
	Interpolation string `json:"interpolation"`
	OffsetMapping string `json:"offset_mapping"`
	// Background is an optional #rrggbb or #rrggbbaa fill behind the image
	Background string `json:"background"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string `json:"format"`
	Quality   int    `json:"quality"`
	Lossless  bool   `json:"lossless"`
	OutputDir string `json:"output_dir"`
	Prefix    string `json:"prefix"`
	Suffix    string `json:"suffix"`
}

// LocatorConfig selects the subject locator used for auto positioning
type LocatorConfig struct {
	Backend     string `json:"backend"`
	URL         string `json:"url"`
	Model       string `json:"model"`
	SendSize    int    `json:"send_size"`
	SendQuality int    `json:"send_quality"`
}

// VisionConfig holds configuration for the saliency locator
type VisionConfig struct {
	EdgeThreshold   float64 `json:"edge_threshold"`
	ContrastWeight  float64 `json:"contrast_weight"`
	ColorWeight     float64 `json:"color_weight"`
	MinSubjectRatio float64 `json:"min_subject_ratio"`
	AnalysisSize    int     `json:"analysis_size"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Geometry: GeometryConfig{
			TargetMM:          40,
			ExportDPI:         96,
			PreviewDiameterPx: 200,
		},
		Compositor: CompositorConfig{
			Interpolation: string(compositor.CatmullRom),
			OffsetMapping: compositor.MappingResolutionInvariant.String(),
		},
		Output: OutputConfig{
			Format:    string(compositor.PNG),
			Quality:   90,
			OutputDir: "./output",
			Suffix:    "_circle",
		},
		Locator: LocatorConfig{
			Backend:     BackendSaliency,
			Model:       "llava",
			SendSize:    1024,
			SendQuality: 85,
		},
		Vision: VisionConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.3,
			ColorWeight:     0.2,
			MinSubjectRatio: 0.05,
			AnalysisSize:    256,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.GeometryValue(); err != nil {
		return fmt.Errorf("geometry: %w", err)
	}

	if _, err := c.CompositorOptions(); err != nil {
		return err
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Locator.Backend {
	case "", BackendNone, BackendSaliency:
	case BackendOllama, BackendLlamaCpp:
		if c.Locator.Model == "" {
			return fmt.Errorf("locator.model is required for the %s backend", c.Locator.Backend)
		}
	default:
		return fmt.Errorf("unknown locator.backend %q", c.Locator.Backend)
	}

	if c.Locator.SendQuality < 0 || c.Locator.SendQuality > 100 {
		return fmt.Errorf("locator.send_quality must be between 0 and 100")
	}

	if c.Vision.EdgeThreshold < 0 || c.Vision.EdgeThreshold > 1 {
		return fmt.Errorf("vision.edge_threshold must be between 0 and 1")
	}

	if c.Vision.MinSubjectRatio < 0 || c.Vision.MinSubjectRatio > 1 {
		return fmt.Errorf("vision.min_subject_ratio must be between 0 and 1")
	}

	return nil
}

// GeometryValue derives the runtime geometry
func (c *Config) GeometryValue() (types.Geometry, error) {
	return types.NewGeometry(c.Geometry.TargetMM, c.Geometry.ExportDPI, c.Geometry.PreviewDiameterPx)
}

// CompositorOptions converts the compositor and output sections
func (c *Config) CompositorOptions() (compositor.Options, error) {
	opts := compositor.DefaultOptions()

	interp, err := compositor.ParseInterpolation(c.Compositor.Interpolation)
	if err != nil {
		return opts, fmt.Errorf("compositor.interpolation: %w", err)
	}
	opts.Interpolation = interp

	mapping, err := compositor.ParseMapping(c.Compositor.OffsetMapping)
	if err != nil {
		return opts, fmt.Errorf("compositor.offset_mapping: %w", err)
	}
	opts.Mapping = mapping

	format, err := compositor.ParseFormat(c.Output.Format)
	if err != nil {
		return opts, fmt.Errorf("output.format: %w", err)
	}
	opts.Encoding.Format = format
	opts.Encoding.Lossless = c.Output.Lossless
	if c.Output.Quality > 0 {
		opts.Encoding.Quality = c.Output.Quality
	}

	if c.Compositor.Background != "" {
		bg, err := ParseHexColor(c.Compositor.Background)
		if err != nil {
			return opts, fmt.Errorf("compositor.background: %w", err)
		}
		opts.Encoding.Background = &bg
	}

	return opts, nil
}

// SaliencyConfig converts the vision section
func (c *Config) SaliencyConfig() vision.DetectionConfig {
	return vision.DetectionConfig{
		EdgeThreshold:   c.Vision.EdgeThreshold,
		ContrastWeight:  c.Vision.ContrastWeight,
		ColorWeight:     c.Vision.ColorWeight,
		MinSubjectRatio: c.Vision.MinSubjectRatio,
		AnalysisSize:    c.Vision.AnalysisSize,
		MaxRegions:      10,
	}
}

// ParseHexColor parses #rgb, #rrggbb or #rrggbbaa
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}

	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "circle-cropper", "config.json")
}
