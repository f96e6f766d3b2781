package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(DefaultConfig())

	tests := []struct {
		name       string
		filename   string
		mimeType   string
		size       int64
		wantOK     bool
		wantKind   domain.MediaKind
		wantReason string
	}{
		{name: "jpeg image", filename: "a.jpg", mimeType: "image/jpeg", size: 1000, wantOK: true, wantKind: domain.MediaKindImage},
		{name: "upper case extension", filename: "HOLIDAY.JPEG", mimeType: "IMAGE/JPEG", size: 1000, wantOK: true, wantKind: domain.MediaKindImage},
		{name: "webp image", filename: "x.webp", mimeType: "image/webp", size: 1, wantOK: true, wantKind: domain.MediaKindImage},
		{name: "mime with parameters", filename: "b.png", mimeType: "image/png; charset=binary", size: 10, wantOK: true, wantKind: domain.MediaKindImage},
		{name: "quicktime video", filename: "clip.mov", mimeType: "video/quicktime", size: 5000, wantOK: true, wantKind: domain.MediaKindVideo},
		{name: "exactly max size", filename: "big.mp4", mimeType: "video/mp4", size: 100 * 1024 * 1024, wantOK: true, wantKind: domain.MediaKindVideo},
		{name: "text file", filename: "a.txt", mimeType: "text/plain", size: 1000, wantReason: "unsupported file extension"},
		{name: "over max size", filename: "big.mp4", mimeType: "video/mp4", size: 100*1024*1024 + 1, wantReason: "exceeds maximum size"},
		{name: "negative size", filename: "a.jpg", mimeType: "image/jpeg", size: -1, wantReason: "invalid file size"},
		{name: "missing extension", filename: "README", mimeType: "image/jpeg", size: 10, wantReason: "no extension"},
		{name: "unknown mime", filename: "a.jpg", mimeType: "application/octet-stream", size: 10, wantReason: "unsupported mime type"},
		{name: "image mime on video extension", filename: "a.mp4", mimeType: "image/png", size: 10, wantReason: "does not match"},
		{name: "video mime on image extension", filename: "a.gif", mimeType: "video/webm", size: 10, wantReason: "does not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.filename, tt.mimeType, tt.size)

			assert.Equal(t, tt.wantOK, res.Accepted)
			if tt.wantOK {
				assert.Equal(t, tt.wantKind, res.Kind)
				assert.Empty(t, res.Reason)
			} else {
				assert.Empty(t, res.Kind)
				assert.Contains(t, res.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidator_CustomConfig(t *testing.T) {
	v := NewValidator(Config{
		MaxSizeBytes: 10,
		Image:        Rules{MimeTypes: []string{"image/png"}, Extensions: []string{"png"}},
	})

	assert.True(t, v.Validate("a.png", "image/png", 10).Accepted)
	assert.False(t, v.Validate("a.png", "image/png", 11).Accepted)
	assert.False(t, v.Validate("a.jpg", "image/jpeg", 1).Accepted)
	assert.False(t, v.Validate("a.mp4", "video/mp4", 1).Accepted)
	assert.Equal(t, []string{".png"}, v.Extensions())
}

func TestValidator_Extensions(t *testing.T) {
	v := NewValidator(DefaultConfig())
	assert.Equal(t,
		[]string{".avi", ".gif", ".jpeg", ".jpg", ".mov", ".mp4", ".png", ".webm", ".webp"},
		v.Extensions(),
	)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("thumb-1.png"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("thumb-1.JPG"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("thumb-1"))
}
