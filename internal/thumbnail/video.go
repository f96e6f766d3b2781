package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner runs an external program and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements CommandRunner. Stderr is attached to the error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

// VideoOptions locates the ffmpeg tools
type VideoOptions struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
}

// VideoTransformer grabs the frame at the middle of a video and renders it
// through the image path
type VideoTransformer struct {
	runner CommandRunner
	image  *ImageTransformer
	opts   VideoOptions
}

// NewVideoTransformer creates a VideoTransformer
func NewVideoTransformer(runner CommandRunner, image *ImageTransformer, opts VideoOptions) *VideoTransformer {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	return &VideoTransformer{runner: runner, image: image, opts: opts}
}

// Transform implements Transformer
func (t *VideoTransformer) Transform(ctx context.Context, req Request) (Artifact, error) {
	duration, err := t.readDuration(ctx, req.SourceRef)
	if err != nil {
		return Artifact{}, fmt.Errorf("read duration: %w", err)
	}

	frame, err := os.CreateTemp(t.opts.TempDir, "frame-"+req.JobID+"-*.png")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp frame: %w", err)
	}
	framePath := frame.Name()
	frame.Close()
	defer os.Remove(framePath)

	midpoint := strconv.FormatFloat(duration/2, 'f', 3, 64)
	_, err = t.runner.Run(ctx, t.opts.FFmpegPath,
		"-y",
		"-v", "error",
		"-ss", midpoint,
		"-i", req.SourceRef,
		"-frames:v", "1",
		framePath,
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("extract frame: %w", err)
	}

	if info, err := os.Stat(framePath); err != nil || info.Size() == 0 {
		return Artifact{}, errors.New("extract frame: no frame written")
	}

	return t.image.Render(ctx, req.JobID, framePath, false)
}

func (t *VideoTransformer) readDuration(ctx context.Context, input string) (float64, error) {
	out, err := t.runner.Run(ctx, t.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0, err
	}

	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, errors.New("empty duration")
	}

	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if d < 0 {
		d = 0
	}
	return d, nil
}
