package interaction

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"honnef.co/go/curve"

	"github.com/menta2k/circle-cropper/pkg/transform"
	"github.com/menta2k/circle-cropper/pkg/types"
)

func newLoaded() *Controller {
	c := New(transform.New(), NewSurface(100, 50, 200))
	c.ImageChanged(true)
	return c
}

func TestPointerDownWithoutImage(t *testing.T) {
	c := New(transform.New(), NewSurface(0, 0, 200))

	if c.PointerDown(curve.Pt(100, 100)) {
		t.Error("Expected pointer-down to be ignored without an image")
	}
	if c.State() != Idle {
		t.Errorf("Expected state idle, got %s", c.State())
	}
	if c.PointerMove(curve.Pt(150, 150)) {
		t.Error("Expected pointer-move to be a no-op while idle")
	}
	if !c.Transform().IsIdentity() {
		t.Errorf("Expected identity transform, got %v", c.Transform())
	}
}

func TestPointerDownOutsideSurface(t *testing.T) {
	c := newLoaded()

	// Corner of the bounding square, outside the disc
	if c.PointerDown(curve.Pt(102, 52)) {
		t.Error("Expected pointer-down outside the disc to be ignored")
	}
	if !c.PointerDown(curve.Pt(200, 150)) {
		t.Error("Expected pointer-down at the disc center to start a drag")
	}
}

func TestSurfaceWithoutDiameterAcceptsEverything(t *testing.T) {
	c := New(transform.New(), Surface{})
	c.ImageChanged(true)
	if !c.PointerDown(curve.Pt(-5000, 9000)) {
		t.Error("Expected unbounded surface to accept any point")
	}
}

func TestDragIsAnchoredToStart(t *testing.T) {
	c := newLoaded()
	c.FocusOn(curve.Vec(10, -5))

	p0 := curve.Pt(200, 150)
	if !c.PointerDown(p0) {
		t.Fatal("Expected drag to start")
	}
	want := DragSession{Active: true, AnchorOffset: curve.Vec(10, -5), AnchorPointer: p0}
	if diff := cmp.Diff(want, c.Drag()); diff != "" {
		t.Errorf("Unexpected drag session (-want +got):\n%s", diff)
	}

	c.PointerMove(curve.Pt(230, 140))
	if diff := cmp.Diff(types.Transform{OffsetX: 40, OffsetY: -15, Scale: 1}, c.Transform()); diff != "" {
		t.Errorf("After first move (-want +got):\n%s", diff)
	}

	// A second move is measured from P0 again, not from the previous move
	c.PointerMove(curve.Pt(190, 170))
	if diff := cmp.Diff(types.Transform{OffsetX: 0, OffsetY: 15, Scale: 1}, c.Transform()); diff != "" {
		t.Errorf("After second move (-want +got):\n%s", diff)
	}

	// Moves may leave the surface, offsets are unconstrained
	c.PointerMove(curve.Pt(-800, 150))
	if got := c.Transform().OffsetX; got != -990 {
		t.Errorf("Expected offset x -990, got %v", got)
	}
}

func TestPointerMoveReportsChange(t *testing.T) {
	c := newLoaded()
	c.PointerDown(curve.Pt(200, 150))

	if c.PointerMove(curve.Pt(200, 150)) {
		t.Error("Expected no change when the pointer did not move")
	}
	if !c.PointerMove(curve.Pt(201, 150)) {
		t.Error("Expected change after moving one pixel")
	}
}

func TestReleaseEndsDrag(t *testing.T) {
	for _, release := range []struct {
		name string
		fn   func(*Controller) bool
	}{
		{"up", (*Controller).PointerUp},
		{"leave", (*Controller).PointerLeave},
	} {
		c := newLoaded()
		c.PointerDown(curve.Pt(200, 150))
		c.PointerMove(curve.Pt(210, 150))

		if !release.fn(c) {
			t.Errorf("%s: expected release to report an active drag", release.name)
		}
		if c.State() != Idle {
			t.Errorf("%s: expected idle, got %s", release.name, c.State())
		}
		if release.fn(c) {
			t.Errorf("%s: expected second release to be a no-op", release.name)
		}

		// Moves after release are ignored
		c.PointerMove(curve.Pt(400, 400))
		if got := c.Transform().OffsetX; got != 10 {
			t.Errorf("%s: expected offset to stay at 10, got %v", release.name, got)
		}
	}
}

func TestDragResumesFromCurrentOffset(t *testing.T) {
	c := newLoaded()
	c.PointerDown(curve.Pt(200, 150))
	c.PointerMove(curve.Pt(220, 150))
	c.PointerUp()

	c.PointerDown(curve.Pt(150, 150))
	c.PointerMove(curve.Pt(155, 160))
	if diff := cmp.Diff(types.Transform{OffsetX: 25, OffsetY: 10, Scale: 1}, c.Transform()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSetScaleClamps(t *testing.T) {
	c := newLoaded()

	if !c.SetScale(5) {
		t.Error("Expected scale 5 to be clamped")
	}
	if got := c.Transform().Scale; got != 3.0 {
		t.Errorf("Expected scale 3.0, got %v", got)
	}
	if !c.SetScale(0) {
		t.Error("Expected scale 0 to be clamped")
	}
	if got := c.Transform().Scale; got != 0.1 {
		t.Errorf("Expected scale 0.1, got %v", got)
	}
}

func TestResetMidDrag(t *testing.T) {
	c := newLoaded()
	c.SetScale(2)
	c.PointerDown(curve.Pt(200, 150))
	c.PointerMove(curve.Pt(260, 90))

	c.Reset()
	if !c.Transform().IsIdentity() {
		t.Errorf("Expected identity after reset, got %v", c.Transform())
	}
	if c.State() != Idle {
		t.Errorf("Expected reset to cancel the drag, got %s", c.State())
	}

	// The cancelled drag must not emit any further offset
	c.PointerMove(curve.Pt(300, 300))
	if !c.Transform().IsIdentity() {
		t.Errorf("Expected identity to survive later moves, got %v", c.Transform())
	}
}

func TestImageChangedResets(t *testing.T) {
	c := newLoaded()
	c.SetScale(0.5)
	c.PointerDown(curve.Pt(200, 150))
	c.PointerMove(curve.Pt(210, 150))

	c.ImageChanged(true)
	if !c.Transform().IsIdentity() || c.State() != Idle {
		t.Errorf("Expected identity and idle after image change, got %v %s", c.Transform(), c.State())
	}

	c.ImageChanged(false)
	if c.PointerDown(curve.Pt(200, 150)) {
		t.Error("Expected pointer-down to be ignored after the image was removed")
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Dragging.String() != "dragging" || State(7).String() != "unknown" {
		t.Error("Unexpected state names")
	}
}

func TestTrackEndsDragOffSurface(t *testing.T) {
	c := newLoaded()
	if !c.PointerDown(curve.Pt(200, 150)) {
		t.Fatal("Expected drag to start")
	}

	if !c.Track(curve.Pt(230, 160), true) {
		t.Error("Expected a pressed sample on the disc to move the image")
	}
	want := types.Transform{OffsetX: 30, OffsetY: 10, Scale: 1}
	if diff := cmp.Diff(want, c.Transform()); diff != "" {
		t.Errorf("Unexpected transform (-want +got):\n%s", diff)
	}

	// Still inside the bounding window but outside the disc
	if c.Track(curve.Pt(295, 245), true) {
		t.Error("Expected leaving the disc not to move the image")
	}
	if c.State() != Idle {
		t.Error("Expected leaving the disc to end the drag")
	}
	if diff := cmp.Diff(want, c.Transform()); diff != "" {
		t.Errorf("Expected transform to stay put (-want +got):\n%s", diff)
	}

	// Coming back while still pressed does not resume the drag
	if c.Track(curve.Pt(200, 150), true) || c.State() != Idle {
		t.Error("Expected no drag after re-entering the disc")
	}
}

func TestTrackReleased(t *testing.T) {
	c := newLoaded()
	c.PointerDown(curve.Pt(200, 150))
	if c.Track(curve.Pt(210, 150), false) {
		t.Error("Expected a released sample not to move the image")
	}
	if c.State() != Idle || !c.Transform().IsIdentity() {
		t.Errorf("Expected idle identity after release, got %s %v", c.State(), c.Transform())
	}
}
