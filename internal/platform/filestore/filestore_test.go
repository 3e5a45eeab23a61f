package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/cutout/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	locator, err := s.Put(ctx, "t1", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "processed/t1.png", locator)

	_, err = os.Stat(filepath.Join(root, "processed", "t1.png"))
	require.NoError(t, err)

	data, err := s.Get(ctx, locator)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// A later attempt replaces the artifact under the same locator.
	again, err := s.Put(ctx, "t1", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, locator, again)
	data, err = s.Get(ctx, locator)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	entries, err := os.ReadDir(filepath.Join(root, "processed"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestStore_DeleteMissing(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	locator, err := s.Put(ctx, "t1", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, locator))
	assert.ErrorIs(t, s.Delete(ctx, locator), artifact.ErrNotFound)

	_, err = s.Get(ctx, locator)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestStore_RejectsForeignLocators(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "processed/../../etc/passwd.png")
	assert.ErrorIs(t, err, artifact.ErrInvalidLocator)
	assert.ErrorIs(t, s.Delete(context.Background(), "elsewhere.png"), artifact.ErrInvalidLocator)
}
