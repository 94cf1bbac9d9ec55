package staticassets_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrelay/arcrelay/internal/staticassets"
)

func TestS3Store_WriteAndRead(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "status/index.html", []byte("<html></html>")))

	file, err := store.ReadFile(ctx, "status/index.html")
	require.NoError(t, err)
	require.NotNil(t, file)

	assert.Equal(t, "status/index.html", file.Path)
	assert.Equal(t, "<html></html>", string(file.Content))
	assert.Equal(t, int64(len("<html></html>")), file.Size)
	assert.False(t, file.Modified.IsZero())
}

func TestS3Store_ReadNotFound_ReturnsNil(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	file, err := store.ReadFile(ctx, "nonexistent/path.html")
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestS3Store_ListWithPrefix(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "status/a.html", []byte("a")))
	require.NoError(t, store.WriteFile(ctx, "status/b.html", []byte("b")))
	require.NoError(t, store.WriteFile(ctx, "admin/c.html", []byte("c")))

	files, err := store.ListFiles(ctx, "status/")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	paths := make(map[string]bool)
	for _, f := range files {
		paths[f.Path] = true
	}
	assert.True(t, paths["status/a.html"])
	assert.True(t, paths["status/b.html"])
}

func TestS3Store_ListEmpty_ReturnsEmptySlice(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	files, err := store.ListFiles(ctx, "nonexistent/")
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Len(t, files, 0)
}

func TestS3Store_DeleteFile(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "to-delete.txt", []byte("gone soon")))

	err := store.DeleteFile(ctx, "to-delete.txt")
	require.NoError(t, err)

	file, err := store.ReadFile(ctx, "to-delete.txt")
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestS3Store_DeleteNotFound_IsIdempotent(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	// S3 delete is idempotent — deleting a non-existent object is not an error.
	err := store.DeleteFile(ctx, "nonexistent.txt")
	assert.NoError(t, err)
}

func TestS3Store_OverwriteExisting(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "overwrite.txt", []byte("v1")))
	require.NoError(t, store.WriteFile(ctx, "overwrite.txt", []byte("v2")))

	file, err := store.ReadFile(ctx, "overwrite.txt")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "v2", string(file.Content))
	assert.Equal(t, int64(2), file.Size)
}

func TestS3Store_StatFile(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "stat-me.txt", []byte("hello")))

	info, err := store.StatFile(ctx, "stat-me.txt")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "stat-me.txt", info.Path)
	assert.Equal(t, int64(5), info.Size)
}

func TestS3Store_StatFile_NotFound_ReturnsNil(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	info, err := store.StatFile(ctx, "nonexistent.txt")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestS3Config_DefaultTimeouts(t *testing.T) {
	assert.Equal(t, 10*time.Second, staticassets.DefaultMetadataTimeout)
	assert.Equal(t, 60*time.Second, staticassets.DefaultDataTimeout)
}

func TestS3Store_FromConfig_CustomTimeouts(t *testing.T) {
	store := testS3StoreFromConfig(t, staticassets.S3Config{
		MetadataTimeout: 5 * time.Second,
		DataTimeout:     30 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "timeout-test/file.txt", []byte("hello")))

	file, err := store.ReadFile(ctx, "timeout-test/file.txt")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "hello", string(file.Content))
}

func TestS3Store_CancelledContext_ReturnsError(t *testing.T) {
	store := testS3Store(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WriteFile(ctx, "should-fail.txt", []byte("nope"))
	assert.Error(t, err)
}

func TestS3Store_ListWithCancelledContext(t *testing.T) {
	store := testS3Store(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListFiles(ctx, "prefix/")
	assert.Error(t, err)
}

func TestS3Store_DeleteWithCancelledContext(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "delete-timeout.txt", []byte("data")))

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.DeleteFile(cancelledCtx, "delete-timeout.txt")
	assert.Error(t, err)
}
