package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filevault/internal/models"
)

func digestOf(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestLocalCASStagePublishOpenRemove(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	ctx := context.Background()

	staged, err := cas.Stage(ctx, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if staged.SHA256 != digestOf("hello") || staged.SizeBytes != 5 {
		t.Fatalf("unexpected staged blob: %#v", staged)
	}

	key := BlobKey(0, staged.SHA256)
	if ok, err := cas.Exists(key); err != nil || ok {
		t.Fatalf("blob must not exist before publish: ok=%v err=%v", ok, err)
	}
	if err := cas.Publish(staged, key); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ok, err := cas.Exists(key); err != nil || !ok {
		t.Fatalf("blob must exist after publish: ok=%v err=%v", ok, err)
	}

	rc, err := cas.Open(ctx, key, models.CompressionNone)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", string(data))
	}

	if err := cas.Remove(key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := cas.Remove(key); err != nil {
		t.Fatalf("remove missing should be noop: %v", err)
	}
	if _, err := cas.Open(ctx, key, models.CompressionNone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Empty shard directories are pruned.
	if _, err := os.Stat(filepath.Join(cas.Root(), "sha256", key[7:9])); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected shard dir removed, got %v", err)
	}
}

func TestLocalCASZstdRoundTrip(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir(), WithCompression(models.CompressionZstd))
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	ctx := context.Background()
	payload := strings.Repeat("compressible ", 4096)

	staged, err := cas.Stage(ctx, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if staged.SHA256 != digestOf(payload) || staged.SizeBytes != int64(len(payload)) {
		t.Fatalf("digest and size must describe uncompressed bytes: %#v", staged)
	}
	key := BlobKey(0, staged.SHA256)
	if err := cas.Publish(staged, key); err != nil {
		t.Fatalf("publish: %v", err)
	}

	info, err := os.Stat(filepath.Join(cas.Root(), filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() >= int64(len(payload)) {
		t.Fatalf("expected compressed file smaller than %d, got %d", len(payload), info.Size())
	}

	rc, err := cas.Open(ctx, key, models.CompressionZstd)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != payload {
		t.Fatal("zstd round trip mismatch")
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestLocalCASStageStreamErrorIsTruncation(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}

	_, err = cas.Stage(context.Background(), &failingReader{data: []byte("partial"), err: io.ErrUnexpectedEOF})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected underlying error to be kept, got %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(cas.Root(), tempDirName))
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir cleaned up, found %d entries", len(entries))
	}
}

func TestLocalCASStageCancelledContext(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = cas.Stage(ctx, strings.NewReader("data"))
	if !errors.Is(err, ErrTruncated) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected truncation caused by cancellation, got %v", err)
	}
}

func TestBlobKeyRoundTrip(t *testing.T) {
	digest := digestOf("x")

	global := BlobKey(0, digest)
	if global != "sha256/"+digest[0:2]+"/"+digest[2:4]+"/"+digest {
		t.Fatalf("unexpected global key %q", global)
	}
	scope, parsed, err := ParseBlobKey(global)
	if err != nil || scope != 0 || parsed != digest {
		t.Fatalf("parse global: scope=%d digest=%s err=%v", scope, parsed, err)
	}

	owned := BlobKey(42, digest)
	if !strings.HasPrefix(owned, "owners/42/sha256/") {
		t.Fatalf("unexpected owner key %q", owned)
	}
	scope, parsed, err = ParseBlobKey(owned)
	if err != nil || scope != 42 || parsed != digest {
		t.Fatalf("parse owner: scope=%d digest=%s err=%v", scope, parsed, err)
	}

	for _, bad := range []string{
		"",
		"../etc/passwd",
		"sha256/aa/bb/" + digest,
		"owners/0/" + global,
		"owners/x/" + global,
		"sha256/" + digest[0:2] + "/" + digest[2:4] + "/" + strings.ToUpper(digest),
		"/" + global,
	} {
		if _, _, err := ParseBlobKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", bad, err)
		}
	}
}

func TestLocalCASWalkAndSweepTemp(t *testing.T) {
	cas, err := NewLocalCAS(t.TempDir())
	if err != nil {
		t.Fatalf("new local cas: %v", err)
	}
	ctx := context.Background()

	for _, payload := range []string{"one", "two"} {
		staged, err := cas.Stage(ctx, strings.NewReader(payload))
		if err != nil {
			t.Fatalf("stage: %v", err)
		}
		if err := cas.Publish(staged, BlobKey(7, staged.SHA256)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	stale, err := cas.Stage(ctx, strings.NewReader("stale"))
	if err != nil {
		t.Fatalf("stage stale: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale.tmpPath, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := cas.Stage(ctx, strings.NewReader("fresh")); err != nil {
		t.Fatalf("stage fresh: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cas.Root(), "README"), []byte("not a blob"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	var keys []string
	if err := cas.Walk(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 blob keys, got %v", keys)
	}

	cutoff := time.Now().Add(-time.Hour)
	count, err := cas.SweepTemp(cutoff, true)
	if err != nil || count != 1 {
		t.Fatalf("dry-run sweep: count=%d err=%v", count, err)
	}
	if _, err := os.Stat(stale.tmpPath); err != nil {
		t.Fatalf("dry run must keep temp file: %v", err)
	}
	count, err = cas.SweepTemp(cutoff, false)
	if err != nil || count != 1 {
		t.Fatalf("sweep: count=%d err=%v", count, err)
	}
	if _, err := os.Stat(stale.tmpPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale temp removed, got %v", err)
	}
}
