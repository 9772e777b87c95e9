package compositor

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/menta2k/circle-cropper/pkg/types"
)

// Artifact is one encoded circular crop
type Artifact struct {
	Data       []byte
	MediaType  string
	DiameterPx int
	DiameterMM float64
	DPI        float64
	Transform  types.Transform
	// Generation identifies the recompute that produced the artifact
	Generation uint64
}

// DataURI returns the artifact as an embeddable data URI
func (a *Artifact) DataURI() string {
	return "data:" + a.MediaType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Size returns the encoded size in bytes
func (a *Artifact) Size() int {
	return len(a.Data)
}

// Save writes the encoded bytes to path
func (a *Artifact) Save(path string) error {
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
