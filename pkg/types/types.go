package types

import (
	"fmt"
	"math"
)

// Scale bounds accepted by a Transform
const (
	MinScale = 0.1
	MaxScale = 3.0
)

const mmPerInch = 25.4

// Transform is the offset and scale applied to a raster before clipping.
// Offsets are expressed in preview viewport pixels.
type Transform struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Scale   float64 `json:"scale"`
}

// Identity returns the transform every newly loaded raster starts with
func Identity() Transform {
	return Transform{Scale: 1}
}

// IsIdentity reports whether t equals Identity()
func (t Transform) IsIdentity() bool {
	return t == Identity()
}

func (t Transform) String() string {
	return fmt.Sprintf("offset=(%.2f,%.2f) scale=%.2f", t.OffsetX, t.OffsetY, t.Scale)
}

// Geometry holds the fixed diameters shared by the preview and the exporter
type Geometry struct {
	TargetMM          float64 `json:"target_mm"`
	ExportDPI         float64 `json:"export_dpi"`
	PreviewDiameterPx int     `json:"preview_diameter_px"`
	OutputDiameterPx  int     `json:"output_diameter_px"`
}

// NewGeometry derives the export diameter from a physical size and a DPI
func NewGeometry(targetMM, exportDPI float64, previewDiameterPx int) (Geometry, error) {
	if targetMM <= 0 {
		return Geometry{}, fmt.Errorf("target diameter must be positive, got %.2fmm", targetMM)
	}
	if exportDPI <= 0 {
		return Geometry{}, fmt.Errorf("export DPI must be positive, got %.2f", exportDPI)
	}
	if previewDiameterPx <= 0 {
		return Geometry{}, fmt.Errorf("preview diameter must be positive, got %dpx", previewDiameterPx)
	}

	out := int(math.Round(targetMM / mmPerInch * exportDPI))
	if out < 1 {
		return Geometry{}, fmt.Errorf("%.2fmm at %.0f DPI is smaller than one pixel", targetMM, exportDPI)
	}

	return Geometry{
		TargetMM:          targetMM,
		ExportDPI:         exportDPI,
		PreviewDiameterPx: previewDiameterPx,
		OutputDiameterPx:  out,
	}, nil
}

// DefaultGeometry is a 40mm circle exported at 96 DPI with a 200px preview
func DefaultGeometry() Geometry {
	g, _ := NewGeometry(40, 96, 200)
	return g
}

// PreviewToOutput is the factor converting preview pixels into export pixels
func (g Geometry) PreviewToOutput() float64 {
	return float64(g.OutputDiameterPx) / float64(g.PreviewDiameterPx)
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the normalized center of the box
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// CenterBox is the fallback subject box used when nothing better is known
var CenterBox = Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}

// Primary represents the primary subject detected in an image
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult contains the subject analysis returned by a vision model
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}
