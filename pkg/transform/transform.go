// Package transform holds the offset and scale applied to the loaded raster.
//
// Scale is always kept inside [types.MinScale, types.MaxScale]; out of range
// requests are clamped rather than rejected. Offsets are unconstrained since
// the circular clip, not the offset range, bounds what is visible.
package transform

import (
	"math"

	"github.com/menta2k/circle-cropper/pkg/types"
)

// Clamp limits a requested scale to the supported range.
// NaN maps to the identity scale.
func Clamp(s float64) float64 {
	if math.IsNaN(s) {
		return 1
	}
	return math.Max(types.MinScale, math.Min(types.MaxScale, s))
}

// State is the current transform of a crop session
type State struct {
	current types.Transform
}

// New returns a State at identity
func New() *State {
	return &State{current: types.Identity()}
}

// Current returns a copy of the current transform
func (s *State) Current() types.Transform {
	return s.current
}

// SetScale stores the clamped scale and reports whether clamping happened
func (s *State) SetScale(scale float64) (clamped bool) {
	v := Clamp(scale)
	s.current.Scale = v
	return v != scale
}

// SetOffset replaces both offsets. Infinite or NaN components are ignored.
func (s *State) SetOffset(x, y float64) {
	if isFinite(x) {
		s.current.OffsetX = x
	}
	if isFinite(y) {
		s.current.OffsetY = y
	}
}

// Reset restores the identity transform
func (s *State) Reset() {
	s.current = types.Identity()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
