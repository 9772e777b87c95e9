package client

import "context"

// VisionClient sends one image and a prompt to a vision model and returns
// the raw text of its answer
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
