package interaction

import (
	"honnef.co/go/curve"

	"github.com/menta2k/circle-cropper/pkg/transform"
	"github.com/menta2k/circle-cropper/pkg/types"
)

// State of the drag state machine
type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	default:
		return "unknown"
	}
}

// Surface is the circular crop area as laid out on screen. A Surface with a
// non-positive diameter accepts pointer-down events anywhere.
type Surface struct {
	Origin   curve.Point
	Diameter float64
}

// NewSurface places a preview disc of the given diameter at origin
func NewSurface(originX, originY float64, diameter int) Surface {
	return Surface{Origin: curve.Pt(originX, originY), Diameter: float64(diameter)}
}

// Circle returns the disc in screen coordinates
func (s Surface) Circle() curve.Circle {
	r := s.Diameter / 2
	return curve.Circle{Center: s.Origin.Translate(curve.Vec(r, r)), Radius: r}
}

// Contains reports whether a screen point lies on the crop surface
func (s Surface) Contains(p curve.Point) bool {
	if s.Diameter <= 0 {
		return true
	}
	return s.Circle().Contains(p)
}

// DragSession is the transient state between pointer-down and release
type DragSession struct {
	Active        bool
	AnchorOffset  curve.Vec2
	AnchorPointer curve.Point
}

// Controller turns pointer and slider events into transform updates.
// It is the only writer of the transform state it is given.
type Controller struct {
	state   *transform.State
	surface Surface
	loaded  bool
	drag    DragSession
}

// New creates a controller writing to state
func New(state *transform.State, surface Surface) *Controller {
	return &Controller{state: state, surface: surface}
}

// Transform returns the current transform
func (c *Controller) Transform() types.Transform {
	return c.state.Current()
}

// State returns Idle or Dragging
func (c *Controller) State() State {
	if c.drag.Active {
		return Dragging
	}
	return Idle
}

// Drag returns a copy of the current drag session
func (c *Controller) Drag() DragSession {
	return c.drag
}

// Surface returns the crop surface used for hit testing
func (c *Controller) Surface() Surface {
	return c.surface
}

// ImageChanged must be called whenever the raster is replaced or removed.
// Any drag is dropped and the transform goes back to identity.
func (c *Controller) ImageChanged(loaded bool) {
	c.loaded = loaded
	c.drag = DragSession{}
	c.state.Reset()
}

// PointerDown starts a drag when an image is loaded and p is over the surface
func (c *Controller) PointerDown(p curve.Point) bool {
	if !c.loaded || c.drag.Active || !c.surface.Contains(p) {
		return false
	}
	t := c.state.Current()
	c.drag = DragSession{
		Active:        true,
		AnchorOffset:  curve.Vec(t.OffsetX, t.OffsetY),
		AnchorPointer: p,
	}
	return true
}

// PointerMove updates the offset relative to where the drag started.
// It reports whether the transform changed.
func (c *Controller) PointerMove(p curve.Point) bool {
	if !c.drag.Active {
		return false
	}
	before := c.state.Current()
	offset := c.drag.AnchorOffset.Add(p.Sub(c.drag.AnchorPointer))
	c.state.SetOffset(offset.X, offset.Y)
	return c.state.Current() != before
}

// PointerUp ends the drag. It reports whether a drag was active.
func (c *Controller) PointerUp() bool {
	if !c.drag.Active {
		return false
	}
	c.drag = DragSession{}
	return true
}

// PointerLeave treats leaving the surface while pressed as a release
func (c *Controller) PointerLeave() bool {
	return c.PointerUp()
}

// Track feeds one polled pointer sample into an active drag. A released
// button ends the drag, and so does a pointer outside the surface. Otherwise
// it behaves like PointerMove and reports whether the transform changed.
func (c *Controller) Track(p curve.Point, pressed bool) bool {
	if !c.drag.Active {
		return false
	}
	if !pressed {
		c.PointerUp()
		return false
	}
	if !c.surface.Contains(p) {
		c.PointerLeave()
		return false
	}
	return c.PointerMove(p)
}

// SetScale stores a clamped scale and reports whether clamping happened
func (c *Controller) SetScale(s float64) (clamped bool) {
	return c.state.SetScale(s)
}

// Reset restores identity and cancels an active drag
func (c *Controller) Reset() {
	c.drag = DragSession{}
	c.state.Reset()
}

// FocusOn moves the offset to an absolute position, cancelling an active drag
func (c *Controller) FocusOn(offset curve.Vec2) {
	c.drag = DragSession{}
	c.state.SetOffset(offset.X, offset.Y)
}
