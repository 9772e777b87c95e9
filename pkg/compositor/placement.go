package compositor

import (
	"fmt"
	"strings"

	"honnef.co/go/curve"

	"github.com/menta2k/circle-cropper/pkg/types"
)

// Mapping decides how preview-space offsets reach the export surface
type Mapping int

const (
	// MappingResolutionInvariant scales offsets by OutputDiameterPx/PreviewDiameterPx
	// so the exported placement matches what the preview showed.
	MappingResolutionInvariant Mapping = iota
	// MappingLegacyRaw applies preview offsets unchanged to the export surface.
	// Exports drift from the preview whenever the two diameters differ.
	MappingLegacyRaw
)

func (m Mapping) String() string {
	switch m {
	case MappingResolutionInvariant:
		return "resolution-invariant"
	case MappingLegacyRaw:
		return "legacy-raw"
	default:
		return fmt.Sprintf("mapping(%d)", int(m))
	}
}

// ParseMapping accepts the names returned by Mapping.String
func ParseMapping(s string) (Mapping, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "resolution-invariant", "invariant":
		return MappingResolutionInvariant, nil
	case "legacy-raw", "legacy", "raw":
		return MappingLegacyRaw, nil
	default:
		return 0, fmt.Errorf("unknown offset mapping %q", s)
	}
}

// factor converts a preview offset into export pixels
func (m Mapping) factor(g types.Geometry) float64 {
	if m == MappingLegacyRaw {
		return 1
	}
	return g.PreviewToOutput()
}

// Placement describes where the scaled raster lands on the export surface,
// before clipping.
type Placement struct {
	Rect    curve.Rect
	ScaledW float64
	ScaledH float64
	MappedX float64
	MappedY float64
}

// Place computes the draw rectangle of a width x height raster
func Place(width, height int, t types.Transform, g types.Geometry, m Mapping) Placement {
	d := float64(g.OutputDiameterPx)
	k := m.factor(g)

	sw := float64(width) * t.Scale
	sh := float64(height) * t.Scale
	mx := t.OffsetX * k
	my := t.OffsetY * k

	origin := curve.Pt((d-sw)/2+mx, (d-sh)/2+my)
	return Placement{
		Rect:    curve.NewRectFromOrigin(origin, curve.Size{Width: sw, Height: sh}),
		ScaledW: sw,
		ScaledH: sh,
		MappedX: mx,
		MappedY: my,
	}
}

// OffsetForFocus returns the preview offset that puts the normalized raster
// point (nx, ny) at the center of the disc for the scale in t.
func OffsetForFocus(width, height int, t types.Transform, g types.Geometry, m Mapping, nx, ny float64) curve.Vec2 {
	k := m.factor(g)
	sw := float64(width) * t.Scale
	sh := float64(height) * t.Scale
	return curve.Vec(sw*(0.5-nx)/k, sh*(0.5-ny)/k)
}
