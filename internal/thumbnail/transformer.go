// Package thumbnail turns uploaded media into fixed-size thumbnails.
package thumbnail

import (
	"context"
	"fmt"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
)

// Request describes one thumbnail to produce
type Request struct {
	JobID     string
	SourceRef string
	Kind      domain.MediaKind
	MimeType  string
}

// Artifact is the stored thumbnail
type Artifact struct {
	Ref       string
	SizeBytes int64
}

// Transformer produces a thumbnail for one request
type Transformer interface {
	Transform(ctx context.Context, req Request) (Artifact, error)
}

// TransformerFunc adapts a function to Transformer
type TransformerFunc func(ctx context.Context, req Request) (Artifact, error)

func (f TransformerFunc) Transform(ctx context.Context, req Request) (Artifact, error) {
	return f(ctx, req)
}

// Dispatcher routes requests to the transformer registered for their media kind
type Dispatcher struct {
	byKind map[domain.MediaKind]Transformer
}

// NewDispatcher registers the image and video transformers
func NewDispatcher(image, video Transformer) *Dispatcher {
	return &Dispatcher{byKind: map[domain.MediaKind]Transformer{
		domain.MediaKindImage: image,
		domain.MediaKindVideo: video,
	}}
}

// Transform implements Transformer
func (d *Dispatcher) Transform(ctx context.Context, req Request) (Artifact, error) {
	t, ok := d.byKind[req.Kind]
	if !ok || t == nil {
		return Artifact{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedMediaKind, req.Kind)
	}
	return t.Transform(ctx, req)
}
