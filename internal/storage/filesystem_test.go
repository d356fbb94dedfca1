package storage

import (
	"context"
	"encoding/hex"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, maxBytes int64) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), maxBytes, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestFileStore_UploadDownload(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	body := "hello attachment"

	obj, err := store.Upload(ctx, "attachments", "tickets/t1/1700000000000-note.txt", strings.NewReader(body))
	require.NoError(t, err)

	sum := blake3.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), obj.Checksum)
	assert.Equal(t, int64(len(body)), obj.Size)
	assert.True(t, strings.HasPrefix(obj.ContentType, "text/plain"), obj.ContentType)

	rc, meta, err := store.Download(ctx, "attachments", obj.Path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.Equal(t, obj.Size, meta.Size)
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	for _, p := range []string{"../escape.txt", "/abs.txt", "a/../../b", "", `a\b`} {
		_, err := store.Upload(ctx, "attachments", p, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
	_, err := store.Upload(ctx, "..", "ok.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestFileStore_SizeLimit(t *testing.T) {
	store := newTestStore(t, 4)
	ctx := context.Background()

	_, err := store.Upload(ctx, "attachments", "big.bin", strings.NewReader("12345"))
	require.ErrorIs(t, err, ErrTooLarge)

	_, _, err = store.Download(ctx, "attachments", "big.bin")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = store.Upload(ctx, "attachments", "ok.bin", strings.NewReader("1234"))
	require.NoError(t, err)
}

func TestFileStore_Delete(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Upload(ctx, "attachments", "x.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "attachments", "x.txt"))
	require.NoError(t, store.Delete(ctx, "attachments", "x.txt"))

	_, _, err = store.Download(ctx, "attachments", "x.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestAttachmentPath(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "tickets/t1/1700000000123-report.pdf", AttachmentPath("t1", "report.pdf", at))
	assert.Equal(t, "tickets/t1/1700000000123-evil.sh", AttachmentPath("t1", "../../evil.sh", at))
	assert.Equal(t, "tickets/t1/1700000000123-shot.png", AttachmentPath("t1", `C:\Users\me\shot.png`, at))
	assert.Equal(t, "tickets/t1/1700000000123-file", AttachmentPath("t1", "", at))
}
