package thumbnail

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/cuongbtq/thumbnail-pipeline/internal/artifact"
)

// ImageOptions controls thumbnail rendering
type ImageOptions struct {
	// Size is the edge of the square bounding box
	Size        int
	JPEGQuality int
	TempDir     string
}

// ImageTransformer fits images inside a square box and stores the result
type ImageTransformer struct {
	store artifact.Store
	opts  ImageOptions
}

// NewImageTransformer creates an ImageTransformer
func NewImageTransformer(store artifact.Store, opts ImageOptions) *ImageTransformer {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 95
	}
	return &ImageTransformer{store: store, opts: opts}
}

// Transform implements Transformer
func (t *ImageTransformer) Transform(ctx context.Context, req Request) (Artifact, error) {
	return t.Render(ctx, req.JobID, req.SourceRef, isPNG(req))
}

func isPNG(req Request) bool {
	return strings.EqualFold(req.MimeType, "image/png") ||
		strings.EqualFold(filepath.Ext(req.SourceRef), ".png")
}

// ArtifactKey is the deterministic storage key for a job's thumbnail
func ArtifactKey(jobID string, png bool) string {
	if png {
		return "thumb-" + jobID + ".png"
	}
	return "thumb-" + jobID + ".jpg"
}

// Render decodes srcPath, resizes it and stores the encoded thumbnail.
// PNG output is lossless, everything else is written as JPEG.
func (t *ImageTransformer) Render(ctx context.Context, jobID, srcPath string, png bool) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	// imaging ignores ctx, so a job that timed out mid decode or resize is
	// caught between the steps and never stored
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return Artifact{}, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	thumb := t.resize(src)
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	format, contentType, ext := imaging.JPEG, "image/jpeg", ".jpg"
	if png {
		format, contentType, ext = imaging.PNG, "image/png", ".png"
	}

	tmp, err := os.CreateTemp(t.opts.TempDir, "thumb-*"+ext)
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	// the local store moves the file away, anything left behind is ours
	defer os.Remove(tmpPath)

	if err := imaging.Encode(tmp, thumb, format, imaging.JPEGQuality(t.opts.JPEGQuality)); err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("write thumbnail: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	obj, err := t.store.Put(ctx, ArtifactKey(jobID, png), tmpPath, contentType)
	if err != nil {
		return Artifact{}, fmt.Errorf("store thumbnail: %w", err)
	}

	return Artifact{Ref: obj.Ref, SizeBytes: obj.Size}, nil
}

// resize fits src inside Size x Size without upscaling and flattens
// transparency onto white
func (t *ImageTransformer) resize(src image.Image) image.Image {
	fitted := imaging.Fit(src, t.opts.Size, t.opts.Size, imaging.Lanczos)

	b := fitted.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, fitted, image.Pt(0, 0), 1.0)
}
