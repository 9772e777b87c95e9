package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/circle-cropper/pkg/client"
	"github.com/menta2k/circle-cropper/pkg/types"
)

// Locator finds the primary subject of an image as a normalized box
type Locator interface {
	Locate(ctx context.Context, img image.Image) (types.Box, error)
}

// DefaultPrompt asks the model for the subject that should end up in the middle of a round sticker
const DefaultPrompt = `You are an image subject locator for round stickers.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (≤ 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (prefer faces, people, animals; else the most salient object).
- cx, cy is the point that should sit in the middle of the circle (for a person: the face).
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, return:
  {
    "primary":{"label":"none","confidence":0.0,"box":{"x":0.25,"y":0.25,"w":0.50,"h":0.50},"cx":0.5,"cy":0.5},
    "description":"centered generic scene",
    "tags":["generic","center"]
  }
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionLocator asks a vision model where the subject is
type VisionLocator struct {
	client      client.VisionClient
	model       string
	prompt      string
	sendSize    int
	sendQuality int
}

// NewVisionLocator creates a locator using the default prompt. The image
// is downscaled to a long side of 1024px and sent as JPEG.
func NewVisionLocator(c client.VisionClient, model string) *VisionLocator {
	return &VisionLocator{
		client:      c,
		model:       model,
		prompt:      DefaultPrompt,
		sendSize:    1024,
		sendQuality: 85,
	}
}

// WithEncoding overrides the size and JPEG quality of the image sent to the model
func (l *VisionLocator) WithEncoding(maxDim, quality int) *VisionLocator {
	l.sendSize = maxDim
	l.sendQuality = quality
	return l
}

// Locate implements Locator. The returned box is centered on the model's
// focus point (cx, cy).
func (l *VisionLocator) Locate(ctx context.Context, img image.Image) (types.Box, error) {
	result, err := l.Analyze(ctx, img)
	if err != nil {
		return types.Box{}, err
	}
	cx, cy := result.Primary.Cx, result.Primary.Cy
	hw := min(result.Primary.Box.W/2, cx, 1-cx)
	hh := min(result.Primary.Box.H/2, cy, 1-cy)
	return types.Box{X: cx - hw, Y: cy - hh, W: 2 * hw, H: 2 * hh}, nil
}

// Analyze returns the full normalized model answer
func (l *VisionLocator) Analyze(ctx context.Context, img image.Image) (*types.AnalysisResult, error) {
	imgB64, err := PrepareImage(img, l.sendSize, l.sendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	raw, err := l.client.Query(ctx, l.model, l.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	return normalizeResult(ParseResult(raw)), nil
}

// PrepareImage downscales img to maxDim on its long side and returns it as base64 JPEG
func PrepareImage(img image.Image, maxDim, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			if b.Dx() >= b.Dy() {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// normalizeResult clamps the box and focus point and cleans tags
func normalizeResult(r *types.AnalysisResult) *types.AnalysisResult {
	b := normalizeBox(r.Primary.Box)
	if b.W <= 0 || b.H <= 0 {
		b = types.CenterBox
	}
	r.Primary.Box = b

	// A focus point outside the box is replaced by the box center
	if r.Primary.Cx < b.X || r.Primary.Cx > b.X+b.W || r.Primary.Cy < b.Y || r.Primary.Cy > b.Y+b.H {
		r.Primary.Cx, r.Primary.Cy = b.Center()
	}

	if strings.EqualFold(r.Primary.Label, "none") {
		r.Primary.Confidence = 0
	}
	r.Tags = normalizeTags(r.Tags)
	return r
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox keeps the box inside the unit square
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
