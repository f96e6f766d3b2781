package media

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
)

// Rules lists accepted mime types and extensions for one media kind
type Rules struct {
	MimeTypes  []string
	Extensions []string
}

// Config holds the allow-lists and the size ceiling
type Config struct {
	MaxSizeBytes int64
	Image        Rules
	Video        Rules
}

// DefaultConfig returns the allow-lists used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes: 100 * 1024 * 1024,
		Image: Rules{
			MimeTypes:  []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			Extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		},
		Video: Rules{
			MimeTypes:  []string{"video/mp4", "video/avi", "video/quicktime", "video/webm"},
			Extensions: []string{".mp4", ".avi", ".mov", ".webm"},
		},
	}
}

// Result is the outcome of a validation. Kind is set only when Accepted.
type Result struct {
	Accepted bool
	Kind     domain.MediaKind
	Reason   string
}

// Validator classifies uploads as image, video or rejected. It holds no mutable state.
type Validator struct {
	maxSize    int64
	mimeTypes  map[string]domain.MediaKind
	extensions map[string]domain.MediaKind
}

// NewValidator builds lookup tables from cfg
func NewValidator(cfg Config) *Validator {
	v := &Validator{
		maxSize:    cfg.MaxSizeBytes,
		mimeTypes:  make(map[string]domain.MediaKind),
		extensions: make(map[string]domain.MediaKind),
	}
	v.add(domain.MediaKindImage, cfg.Image)
	v.add(domain.MediaKindVideo, cfg.Video)
	return v
}

func (v *Validator) add(kind domain.MediaKind, rules Rules) {
	for _, m := range rules.MimeTypes {
		v.mimeTypes[normalizeMime(m)] = kind
	}
	for _, ext := range rules.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		v.extensions[ext] = kind
	}
}

// Validate accepts a file only when its mime type and its extension both
// belong to the same kind and the size is within the limit
func (v *Validator) Validate(filename, mimeType string, sizeBytes int64) Result {
	if sizeBytes < 0 {
		return reject("invalid file size")
	}
	if v.maxSize > 0 && sizeBytes > v.maxSize {
		return reject(fmt.Sprintf("file exceeds maximum size of %d bytes", v.maxSize))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return reject("file has no extension")
	}

	extKind, ok := v.extensions[ext]
	if !ok {
		return reject(fmt.Sprintf("unsupported file extension %q, supported: %s", ext, strings.Join(v.Extensions(), ", ")))
	}

	mimeKind, ok := v.mimeTypes[normalizeMime(mimeType)]
	if !ok {
		return reject(fmt.Sprintf("unsupported mime type %q", mimeType))
	}

	if extKind != mimeKind {
		return reject(fmt.Sprintf("mime type %q does not match extension %q", mimeType, ext))
	}

	return Result{Accepted: true, Kind: extKind}
}

// Extensions returns every accepted extension, sorted
func (v *Validator) Extensions() []string {
	out := make([]string, 0, len(v.extensions))
	for ext := range v.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func reject(reason string) Result {
	return Result{Accepted: false, Reason: reason}
}

// normalizeMime lower-cases and drops parameters such as "; charset=binary"
func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

// ContentTypeFor returns the mime type for a known extension, used when serving artifacts
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
