package objects

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]ArchiveStore {
	t.Helper()
	return map[string]ArchiveStore{
		"filesystem": NewFilesystemStore(t.TempDir()),
		"memory":     NewMemoryStore(),
	}
}

func TestArchiveStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := "run_abc/report.md"
			require.NoError(t, s.Put(ctx, key, strings.NewReader("# Run abc"), "text/markdown"))

			exists, err := s.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, exists)

			reader, err := s.Get(ctx, key)
			require.NoError(t, err)
			data, err := io.ReadAll(reader)
			reader.Close()
			require.NoError(t, err)
			assert.Equal(t, "# Run abc", string(data))

			objects, err := s.List(ctx, "run_abc/")
			require.NoError(t, err)
			require.Len(t, objects, 1)
			assert.Equal(t, key, objects[0].Key)
			assert.Equal(t, int64(9), objects[0].Size)

			require.NoError(t, s.Delete(ctx, key))
			exists, err = s.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestArchiveStoreMissingKey(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "run_missing/report.md")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, s.Delete(ctx, "run_missing/report.md"), ErrNotFound)
		})
	}
}

func TestArchiveStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "/absolute", "../escape", "a/../../b"} {
				assert.ErrorIs(t, s.Put(ctx, key, strings.NewReader("x"), ""), ErrInvalidKey, key)
			}
		})
	}
}

func TestNewDisabledType(t *testing.T) {
	s, err := New(Config{Type: ""})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewUnsupportedType(t *testing.T) {
	_, err := New(Config{Type: "gcs"})
	assert.Error(t, err)
}
