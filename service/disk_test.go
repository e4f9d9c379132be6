package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func TestDiskStoreRoundTrip(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := disk.Upload(ctx, "ebooks/u1", "Book.PDF", stringsReader("0123456789"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "ebooks/u1/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	obj, err := disk.Open(ctx, key)
	require.NoError(t, err)
	data, _ := io.ReadAll(obj.Body)
	obj.Body.Close()
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, int64(10), obj.Size)

	part, err := disk.OpenRange(ctx, key, 2, 3)
	require.NoError(t, err)
	data, _ = io.ReadAll(part.Body)
	part.Body.Close()
	assert.Equal(t, "234", string(data))

	tail, err := disk.OpenRange(ctx, key, 8, 100)
	require.NoError(t, err)
	data, _ = io.ReadAll(tail.Body)
	tail.Body.Close()
	assert.Equal(t, "89", string(data))

	require.NoError(t, disk.Delete(ctx, key))
	_, err = disk.Open(ctx, key)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.NoError(t, disk.Delete(ctx, key), "deleting twice is fine")
}

func TestDiskStoreRejectsEscapingKeys(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	_, err = disk.Open(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFileNotFound)

	_, err = disk.Open(context.Background(), "")
	assert.Error(t, err)
}

func TestObjectKeyKeepsExtension(t *testing.T) {
	k := objectKey("covers", "My Cover.JPG")
	assert.True(t, strings.HasPrefix(k, "covers/"))
	assert.True(t, strings.HasSuffix(k, ".jpg"))
	assert.NotContains(t, k, "My Cover")
}
