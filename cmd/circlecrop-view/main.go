package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/color"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	circlecrop "github.com/menta2k/circle-cropper"
	"github.com/menta2k/circle-cropper/internal/config"
	"github.com/menta2k/circle-cropper/internal/utils"
	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/interaction"
	"github.com/menta2k/circle-cropper/pkg/loader"
	"github.com/menta2k/circle-cropper/pkg/session"
)

const (
	screenW = 480
	screenH = 360
	margin  = 40
	// scaleStep is the relative zoom per wheel notch or key press
	scaleStep = 0.05
)

type viewer struct {
	cropper *circlecrop.Cropper
	session *session.Session
	preview int
	originX float64
	originY float64
	surface interaction.Surface
	out     string

	mu       sync.Mutex
	artifact *ebiten.Image
	ghost    *ebiten.Image
	ghostOf  *loader.Raster
	status   string

	loading <-chan error
}

func main() {
	var in, out, configPath string
	flag.StringVar(&in, "in", "", "image to open (files can also be dropped on the window)")
	flag.StringVar(&out, "out", "", "where S saves the artifact (default: <output_dir>/<name><suffix>.<ext>)")
	flag.StringVar(&configPath, "config", "", "JSON config file")
	flag.Parse()
	if in == "" && flag.NArg() > 0 {
		in = flag.Arg(0)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			log.Fatal(err)
		}
	}

	v := &viewer{
		preview: cfg.Geometry.PreviewDiameterPx,
		out:     out,
		status:  "drop an image on the window",
	}
	v.originX = margin
	v.originY = float64(screenH-v.preview) / 2
	v.surface = interaction.NewSurface(v.originX, v.originY, v.preview)

	cropper, err := circlecrop.NewWithSessionOptions(cfg, func(o *session.Options) {
		o.Surface = v.surface
		o.Coalesce = true
		o.Consumer = v.onArtifact
		o.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	})
	if err != nil {
		log.Fatal(err)
	}
	v.cropper = cropper
	v.session = cropper.Session()

	if in != "" {
		v.open(in)
	}

	ebiten.SetWindowTitle("circle cropper")
	ebiten.SetWindowSize(screenW, screenH)
	if err := ebiten.RunGame(v); err != nil {
		log.Fatal(err)
	}
}

// onArtifact runs on the goroutine calling Flush. A nil artifact clears the preview.
func (v *viewer) onArtifact(a *compositor.Artifact) {
	if a == nil {
		v.mu.Lock()
		v.artifact = nil
		v.mu.Unlock()
		return
	}
	img, err := imaging.Decode(bytes.NewReader(a.Data))
	if err != nil {
		v.setStatus(fmt.Sprintf("artifact decode failed: %v", err))
		return
	}
	v.mu.Lock()
	v.artifact = ebiten.NewImageFromImage(img)
	v.mu.Unlock()
}

func (v *viewer) setStatus(s string) {
	v.mu.Lock()
	v.status = s
	v.mu.Unlock()
}

func (v *viewer) open(path string) {
	if v.out == "" {
		v.out = v.cropper.OutputPath(path)
	}
	payload, err := loader.ReadFile(path)
	if err != nil {
		v.setStatus(err.Error())
		return
	}
	v.load(payload)
}

func (v *viewer) load(p loader.Payload) {
	v.setStatus("loading " + p.Name)
	v.loading = v.session.LoadAsync(context.Background(), p)
}

func (v *viewer) Update() error {
	v.pollLoad()
	v.pollDrop()
	v.handlePointer()
	v.handleKeys()
	if err := v.session.Flush(); err != nil {
		v.setStatus(err.Error())
	}
	return nil
}

func (v *viewer) pollLoad() {
	if v.loading == nil {
		return
	}
	select {
	case err := <-v.loading:
		v.loading = nil
		if err != nil {
			v.setStatus(err.Error())
			return
		}
		if r := v.session.Raster(); r != nil {
			v.setStatus(fmt.Sprintf("%s %dx%d", r.Name, r.Width, r.Height))
		}
	default:
	}
}

func (v *viewer) pollDrop() {
	files := ebiten.DroppedFiles()
	if files == nil {
		return
	}
	entries, err := fs.ReadDir(files, ".")
	if err != nil || len(entries) == 0 {
		return
	}
	name := ""
	for _, e := range entries {
		if !e.IsDir() && utils.IsImageFile(e.Name()) {
			name = e.Name()
			break
		}
	}
	if name == "" {
		v.setStatus("dropped files contain no image")
		return
	}
	data, err := fs.ReadFile(files, name)
	if err != nil {
		v.setStatus(err.Error())
		return
	}
	v.out = v.cropper.OutputPath(name)
	v.load(loader.Payload{Name: name, Data: data})
}

func (v *viewer) handlePointer() {
	mx, my := ebiten.CursorPosition()
	x, y := float64(mx), float64(my)

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		v.session.PointerDown(x, y)
	}
	// Leaving the disc while pressed ends the drag like a release
	if _, err := v.session.PointerTrack(x, y, ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)); err != nil {
		v.setStatus(err.Error())
	}

	if _, wy := ebiten.Wheel(); wy != 0 {
		v.zoom(1 + scaleStep*wy)
	}
}

func (v *viewer) handleKeys() {
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEqual), inpututil.IsKeyJustPressed(ebiten.KeyKPAdd):
		v.zoom(1 + scaleStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyMinus), inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract):
		v.zoom(1 - scaleStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		v.session.Reset()
	case inpututil.IsKeyJustPressed(ebiten.KeyS):
		v.save()
	case inpututil.IsKeyJustPressed(ebiten.KeyA):
		v.autoPosition()
	case inpututil.IsKeyJustPressed(ebiten.KeyDelete), inpututil.IsKeyJustPressed(ebiten.KeyBackspace):
		v.session.Unload()
		v.setStatus("drop an image on the window")
	}
}

func (v *viewer) zoom(factor float64) {
	s := v.session.Transform().Scale * factor
	if clamped, _ := v.session.SetScale(s); clamped {
		v.setStatus(fmt.Sprintf("scale limited to %.2f", v.session.Transform().Scale))
	}
}

func (v *viewer) save() {
	if err := v.cropper.SaveArtifact(v.out); err != nil {
		v.setStatus(err.Error())
		return
	}
	abs, _ := filepath.Abs(v.out)
	v.setStatus("wrote " + abs)
	log.Printf("wrote %s", abs)
}

// autoPosition runs the locator off the frame loop; the next Flush picks up the result
func (v *viewer) autoPosition() {
	v.setStatus("locating subject...")
	go func() {
		box, err := v.cropper.AutoPosition(context.Background())
		if err != nil {
			v.setStatus(err.Error())
			return
		}
		cx, cy := box.Center()
		v.setStatus(fmt.Sprintf("subject at %.2f,%.2f", cx, cy))
	}()
}

func (v *viewer) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{40, 40, 48, 255})

	g := v.session.Geometry()
	k := float64(v.preview) / float64(g.OutputDiameterPx)

	// Faint full raster so the parts outside the disc stay visible
	if p, ok := v.session.Placement(); ok {
		if ghost := v.ghostImage(); ghost != nil {
			x0, y0 := p.Rect.Origin().Splat()
			t := v.session.Transform()
			var op ebiten.DrawImageOptions
			op.GeoM.Scale(t.Scale*k, t.Scale*k)
			op.GeoM.Translate(v.originX+x0*k, v.originY+y0*k)
			op.ColorScale.ScaleAlpha(0.25)
			op.Filter = ebiten.FilterLinear
			screen.DrawImage(ghost, &op)
		}
	}

	v.mu.Lock()
	artifact, status := v.artifact, v.status
	v.mu.Unlock()

	if artifact != nil {
		var op ebiten.DrawImageOptions
		op.GeoM.Scale(k, k)
		op.GeoM.Translate(v.originX, v.originY)
		op.Filter = ebiten.FilterLinear
		screen.DrawImage(artifact, &op)
	}

	r := float32(v.preview) / 2
	vector.StrokeCircle(screen, float32(v.originX)+r, float32(v.originY)+r, r, 1, color.RGBA{220, 220, 220, 255}, true)

	t := v.session.Transform()
	pos := t.String()
	if t.IsIdentity() {
		pos = "centered, unscaled"
	}
	info := fmt.Sprintf("%s\n%.0fmm @ %.0f DPI = %dpx\n%s\ndrag: move  wheel/+/-: scale\nR: reset  S: save  A: auto\nDel: close",
		status, g.TargetMM, g.ExportDPI, g.OutputDiameterPx, pos)
	ebitenutil.DebugPrintAt(screen, info, 2*margin+v.preview, margin)
}

// ghostImage converts the current raster once per load
func (v *viewer) ghostImage() *ebiten.Image {
	r := v.session.Raster()
	if r == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ghostOf != r {
		v.ghost = ebiten.NewImageFromImage(r.Image)
		v.ghostOf = r
	}
	return v.ghost
}

func (v *viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenW, screenH
}
