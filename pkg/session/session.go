package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"honnef.co/go/curve"

	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/detection"
	"github.com/menta2k/circle-cropper/pkg/interaction"
	"github.com/menta2k/circle-cropper/pkg/loader"
	"github.com/menta2k/circle-cropper/pkg/publisher"
	"github.com/menta2k/circle-cropper/pkg/transform"
	"github.com/menta2k/circle-cropper/pkg/types"
)

var (
	// ErrSuperseded is returned when a newer load started before this one finished
	ErrSuperseded = errors.New("superseded by a newer load")
	// ErrNoImage is returned by operations that need a loaded raster
	ErrNoImage = errors.New("no image loaded")
)

// Options configures a Session
type Options struct {
	Geometry   types.Geometry
	Compositor compositor.Options
	Loader     loader.Config
	// Surface is the preview disc as laid out on screen, used for hit testing.
	// The zero Surface accepts pointer-down events anywhere.
	Surface interaction.Surface
	// Consumer receives every new artifact, and nil after Unload. It runs
	// without the session lock held and may call any Session method; changes
	// it makes are delivered after it returns.
	Consumer publisher.Consumer
	// Coalesce defers recomputes until Flush
	Coalesce bool
	Logger   *slog.Logger
}

// DefaultOptions returns the default geometry and compositor options
func DefaultOptions() Options {
	return Options{
		Geometry:   types.DefaultGeometry(),
		Compositor: compositor.DefaultOptions(),
		Loader:     loader.DefaultConfig(),
	}
}

// Session ties one loaded raster, its transform and the artifact derived from them
type Session struct {
	mu sync.Mutex

	geometry types.Geometry
	coalesce bool
	log      *slog.Logger

	loader      *loader.Loader
	decode      func(context.Context, loader.Payload) (*loader.Raster, error)
	decodeAsync func(context.Context, loader.Payload) <-chan loader.Result
	state       *transform.State
	ctrl        *interaction.Controller
	comp        *compositor.Compositor
	pub         *publisher.Publisher

	loadSeq   uint64
	raster    *loader.Raster
	rasterSeq uint64

	gen      uint64
	rendered bool
	lastKey  publisher.Key
	artifact *compositor.Artifact
	dirty    bool
}

// New creates a session with no raster loaded
func New(opts Options) (*Session, error) {
	g := opts.Geometry
	if g.OutputDiameterPx <= 0 || g.PreviewDiameterPx <= 0 {
		return nil, fmt.Errorf("invalid geometry: output %dpx, preview %dpx", g.OutputDiameterPx, g.PreviewDiameterPx)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	state := transform.New()
	s := &Session{
		geometry: g,
		coalesce: opts.Coalesce,
		log:      logger,
		loader:   loader.NewWithConfig(opts.Loader),
		state:    state,
		ctrl:     interaction.New(state, opts.Surface),
		comp:     compositor.NewWithConfig(opts.Compositor),
		pub:      publisher.New(opts.Consumer),
	}
	s.decode = s.loader.Decode
	s.decodeAsync = s.loader.DecodeAsync
	return s, nil
}

// Geometry returns the session geometry
func (s *Session) Geometry() types.Geometry {
	return s.geometry
}

// Load validates and decodes payload and makes it the current raster.
// Unsupported media is rejected before anything changes. A failed decode
// keeps the previous raster and transform.
func (s *Session) Load(ctx context.Context, p loader.Payload) error {
	seq, err := s.beginLoad(p)
	if err != nil {
		return err
	}
	r, err := s.decode(ctx, p)
	return s.finishLoad(seq, p, r, err)
}

// LoadAsync decodes payload on its own goroutine. The load is ordered at the
// time of the call, so a later Load or LoadAsync supersedes it. The channel
// receives one error (nil on success) and is then closed.
func (s *Session) LoadAsync(ctx context.Context, p loader.Payload) <-chan error {
	ch := make(chan error, 1)
	seq, err := s.beginLoad(p)
	if err != nil {
		ch <- err
		close(ch)
		return ch
	}

	results := s.decodeAsync(ctx, p)
	go func() {
		defer close(ch)
		res := <-results
		ch <- s.finishLoad(seq, p, res.Raster, res.Err)
	}()
	return ch
}

// beginLoad validates p and assigns it the next load sequence number
func (s *Session) beginLoad(p loader.Payload) (uint64, error) {
	if err := s.loader.Validate(p); err != nil {
		s.log.Warn("rejected payload", "name", p.Name, "error", err)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadSeq++
	return s.loadSeq, nil
}

// finishLoad installs the decode result of load seq unless a newer load started
func (s *Session) finishLoad(seq uint64, p loader.Payload, r *loader.Raster, err error) error {
	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		s.log.Debug("discarding stale decode", "name", p.Name, "seq", seq)
		return ErrSuperseded
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("decode failed", "name", p.Name, "error", err)
		return err
	}

	s.raster = r
	s.rasterSeq = seq
	s.ctrl.ImageChanged(true)
	s.log.Info("loaded image", "name", r.Name, "format", r.Format,
		"width", r.Width, "height", r.Height, "aspect", r.AspectRatio())
	return s.changedLocked()
}

// Unload drops the current raster. The consumer receives a nil artifact.
func (s *Session) Unload() {
	s.mu.Lock()
	s.loadSeq++
	s.raster = nil
	s.rasterSeq = s.loadSeq
	s.ctrl.ImageChanged(false)
	s.rendered = false
	s.artifact = nil
	s.dirty = false
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if s.pub.Clear(gen) {
		s.log.Debug("cleared artifact", "generation", gen)
	}
}

// PointerDown starts a drag at p, in screen coordinates
func (s *Session) PointerDown(x, y float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.PointerDown(curve.Pt(x, y))
}

// PointerMove continues a drag. It reports whether the transform changed.
func (s *Session) PointerMove(x, y float64) (bool, error) {
	s.mu.Lock()
	if !s.ctrl.PointerMove(curve.Pt(x, y)) {
		s.mu.Unlock()
		return false, nil
	}
	return true, s.changedLocked()
}

// PointerTrack applies one polled pointer sample: a move while pressed and
// on the surface, otherwise the end of the drag. It reports whether the
// transform changed.
func (s *Session) PointerTrack(x, y float64, pressed bool) (bool, error) {
	s.mu.Lock()
	if !s.ctrl.Track(curve.Pt(x, y), pressed) {
		s.mu.Unlock()
		return false, nil
	}
	return true, s.changedLocked()
}

// PointerUp ends a drag
func (s *Session) PointerUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.PointerUp()
}

// PointerLeave ends a drag when the pointer leaves the surface
func (s *Session) PointerLeave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.PointerLeave()
}

// SetScale applies a clamped scale and reports whether clamping happened
func (s *Session) SetScale(scale float64) (clamped bool, err error) {
	s.mu.Lock()
	clamped = s.ctrl.SetScale(scale)
	if clamped {
		s.log.Debug("scale clamped", "requested", scale, "applied", s.state.Current().Scale)
	}
	return clamped, s.changedLocked()
}

// SetOffset moves the image to an absolute preview offset
func (s *Session) SetOffset(x, y float64) error {
	s.mu.Lock()
	s.ctrl.FocusOn(curve.Vec(x, y))
	return s.changedLocked()
}

// Reset restores the identity transform, ending any drag
func (s *Session) Reset() error {
	s.mu.Lock()
	s.ctrl.Reset()
	return s.changedLocked()
}

// AutoPosition moves the subject found by locator to the disc center.
// ErrSuperseded is returned when the raster changed while locating.
func (s *Session) AutoPosition(ctx context.Context, locator detection.Locator) (types.Box, error) {
	s.mu.Lock()
	r, seq := s.raster, s.rasterSeq
	s.mu.Unlock()
	if r == nil {
		return types.Box{}, ErrNoImage
	}

	box, err := locator.Locate(ctx, r.Image)
	if err != nil {
		return types.Box{}, fmt.Errorf("failed to locate subject: %w", err)
	}

	s.mu.Lock()
	if s.raster == nil || s.rasterSeq != seq {
		s.mu.Unlock()
		return box, ErrSuperseded
	}
	cx, cy := box.Center()
	off := compositor.OffsetForFocus(r.Width, r.Height, s.state.Current(), s.geometry, s.comp.Options().Mapping, cx, cy)
	s.ctrl.FocusOn(off)
	s.log.Info("auto positioned", "box", box, "offset_x", off.X, "offset_y", off.Y)
	return box, s.changedLocked()
}

// Flush performs the pending recompute of a coalescing session
func (s *Session) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	return s.recomputeLocked()
}

// Transform returns the current transform
func (s *Session) Transform() types.Transform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current()
}

// Dragging reports whether a drag is in progress
func (s *Session) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.State() == interaction.Dragging
}

// Raster returns the current raster, or nil
func (s *Session) Raster() *loader.Raster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raster
}

// Artifact returns the artifact for the latest computed state, or nil
func (s *Session) Artifact() *compositor.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Placement returns where the raster is drawn in export pixels
func (s *Session) Placement() (compositor.Placement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raster == nil {
		return compositor.Placement{}, false
	}
	return s.comp.Place(s.raster.Image, s.state.Current(), s.geometry), true
}

// changedLocked records a state change. It is called with s.mu held and
// releases it.
func (s *Session) changedLocked() error {
	if s.coalesce {
		s.dirty = true
		s.mu.Unlock()
		return nil
	}
	return s.recomputeLocked()
}

// recomputeLocked renders the current state once and publishes it outside
// the lock. It is called with s.mu held and releases it.
func (s *Session) recomputeLocked() error {
	s.dirty = false
	if s.raster == nil {
		s.artifact = nil
		s.mu.Unlock()
		return nil
	}

	t := s.state.Current()
	key := publisher.Key{
		RasterSeq: s.rasterSeq,
		Transform: t,
		Encoding:  s.comp.Options().Encoding.Format,
	}
	if s.rendered && key == s.lastKey {
		s.mu.Unlock()
		return nil
	}

	a, err := s.comp.Compose(s.raster.Image, t, s.geometry)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("compose failed", "error", err)
		return fmt.Errorf("failed to compose artifact: %w", err)
	}

	s.gen++
	gen := s.gen
	a.Generation = gen
	s.rendered = true
	s.lastKey = key
	s.artifact = a
	s.mu.Unlock()

	if s.pub.Publish(gen, key, a) {
		s.log.Debug("published artifact", "generation", gen, "transform", t, "bytes", a.Size())
	}
	return nil
}
