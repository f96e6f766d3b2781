package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
)

func TestJobCursor(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC),
		JobID:     "0b6f3a52-6f3e-4b8e-9a57-0b1d0f0c2a11",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	for _, raw := range []string{"%%%", "no-separator", "abc|id", "123|"} {
		cursor := raw
		if raw != "%%%" {
			cursor = base64.RawURLEncoding.EncodeToString([]byte(raw))
		}
		_, err := DecodeJobCursor(cursor)
		assert.Error(t, err, raw)
	}
}
