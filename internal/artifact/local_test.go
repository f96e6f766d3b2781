package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "thumb-*")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestLocalStore_PutOpenDelete(t *testing.T) {
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "thumbs"))
	require.NoError(t, err)
	ctx := context.Background()

	src := writeTemp(t, "jpeg bytes")
	obj, err := store.Put(ctx, "thumb-1.jpg", src, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "thumb-1.jpg", obj.Ref)
	assert.Equal(t, int64(len("jpeg bytes")), obj.Size)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source file should be moved")

	rc, info, err := store.Open(ctx, obj.Ref)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "jpeg bytes", string(data))
	assert.Equal(t, "image/jpeg", info.ContentType)

	require.NoError(t, store.Delete(ctx, obj.Ref))
	_, _, err = store.Open(ctx, obj.Ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, obj.Ref))
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "thumb-1.png", writeTemp(t, "first run"), "image/png")
	require.NoError(t, err)
	obj, err := store.Put(ctx, "thumb-1.png", writeTemp(t, "second"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, int64(len("second")), obj.Size)

	rc, _, err := store.Open(ctx, "thumb-1.png")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(data))
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "thumb-1.jpg", want: "thumb-1.jpg"},
		{key: "/abs/thumb.jpg", want: "abs/thumb.jpg"},
		{key: "./a/../b.jpg", want: "b.jpg"},
		{key: `dir\thumb.jpg`, want: "dir/thumb.jpg"},
		{key: "../escape.jpg", wantErr: true},
		{key: "..", wantErr: true},
		{key: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := sanitizeKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../../etc/passwd", writeTemp(t, "x"), "text/plain")
	assert.Error(t, err)
}
