package compositor

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gg"
)

// masks caches one antialiased disc per diameter. Cached masks are never written.
var masks sync.Map

// DiscMask returns an alpha mask of side d covering the inscribed disc
func DiscMask(d int) (image.Image, error) {
	if m, ok := masks.Load(d); ok {
		return m.(image.Image), nil
	}

	m, err := renderDisc(d)
	if err != nil {
		return nil, err
	}
	actual, _ := masks.LoadOrStore(d, m)
	return actual.(image.Image), nil
}

func renderDisc(d int) (image.Image, error) {
	if d <= 0 {
		return nil, fmt.Errorf("invalid mask diameter %d", d)
	}

	dc := gg.NewContext(d, d)
	defer dc.Close()

	r := float64(d) / 2
	dc.SetRGBA(0, 0, 0, 1)
	dc.DrawCircle(r, r, r)
	if err := dc.Fill(); err != nil {
		return nil, fmt.Errorf("failed to rasterize disc mask: %w", err)
	}

	// Copy out so the mask does not alias the context's pixmap
	src := dc.Image()
	mask := image.NewAlpha(image.Rect(0, 0, d, d))
	for y := 0; y < d; y++ {
		for x := 0; x < d; x++ {
			_, _, _, a := src.At(src.Bounds().Min.X+x, src.Bounds().Min.Y+y).RGBA()
			mask.Pix[y*mask.Stride+x] = uint8(a >> 8)
		}
	}
	return mask, nil
}
