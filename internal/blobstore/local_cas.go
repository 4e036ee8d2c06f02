package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"filevault/internal/models"
)

const (
	casAlgorithmPrefix = "sha256"
	ownerScopePrefix   = "owners"
	tempDirName        = "tmp"
	tempFilePattern    = "put-*"
)

// LocalCAS stores blob bytes in a local content-addressed tree.
// It knows nothing about reference counts; BlobStore layers those on top.
type LocalCAS struct {
	root        string
	compression models.BlobCompression
}

type CASOption func(*LocalCAS)

// WithCompression sets the encoding used for newly staged blobs.
func WithCompression(compression models.BlobCompression) CASOption {
	return func(c *LocalCAS) {
		if compression != "" {
			c.compression = compression
		}
	}
}

// NewLocalCAS creates a local CAS rooted at root.
func NewLocalCAS(root string, opts ...CASOption) (*LocalCAS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local cas root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, tempDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	c := &LocalCAS{root: abs, compression: models.CompressionNone}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := models.ParseBlobCompression(string(c.compression)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *LocalCAS) Root() string { return c.root }

// Compression is the encoding applied to newly staged blobs.
func (c *LocalCAS) Compression() models.BlobCompression { return c.compression }

// StagedBlob is a fully written, synced temp file awaiting Publish or Discard.
type StagedBlob struct {
	SHA256      string
	SizeBytes   int64
	Compression models.BlobCompression
	tmpPath     string
}

// Stage streams r into a temp file while hashing it. Read failures and
// cancellation are reported as ErrTruncated; disk failures as ErrStorageFull
// or ErrIO. Nothing outside tmp/ is touched.
func (c *LocalCAS) Stage(ctx context.Context, r io.Reader) (*StagedBlob, error) {
	if c == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	tmp, err := os.CreateTemp(filepath.Join(c.root, tempDirName), tempFilePattern)
	if err != nil {
		return nil, diskError("create temp file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := sha256.New()
	src := &stagingReader{ctx: ctx, r: r}
	var dst io.Writer = tmp
	var enc *zstd.Encoder
	if c.compression == models.CompressionZstd {
		enc, err = zstd.NewWriter(tmp, zstd.WithEncoderConcurrency(1))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		dst = enc
	}

	if _, err := io.Copy(dst, io.TeeReader(src, h)); err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		cleanup()
		if src.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTruncated, src.err)
		}
		return nil, diskError("write temp file", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			cleanup()
			return nil, diskError("flush compressed blob", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return nil, diskError("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, diskError("close temp file", err)
	}

	return &StagedBlob{
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		SizeBytes:   src.n,
		Compression: c.compression,
		tmpPath:     tmpPath,
	}, nil
}

// Publish renames a staged blob over key's final path. The rename is atomic,
// so readers observe either the previous file, nothing, or the complete blob.
func (c *LocalCAS) Publish(staged *StagedBlob, key string) error {
	dst, err := c.pathFromKey(key)
	if err != nil {
		return err
	}
	// A concurrent Remove of a sibling key may prune the shard directory
	// between MkdirAll and Rename, so retry a few times.
	var renameErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return diskError("create blob directory", err)
		}
		renameErr = os.Rename(staged.tmpPath, dst)
		if renameErr == nil {
			syncDir(filepath.Dir(dst))
			return nil
		}
		if _, statErr := os.Stat(staged.tmpPath); statErr != nil {
			break
		}
	}
	return diskError("publish blob", renameErr)
}

// Discard removes a staged temp file.
func (c *LocalCAS) Discard(staged *StagedBlob) {
	if staged == nil || staged.tmpPath == "" {
		return
	}
	_ = os.Remove(staged.tmpPath)
}

// Open returns a reader for blob key content, decoding it when compressed.
func (c *LocalCAS) Open(ctx context.Context, key string, compression models.BlobCompression) (io.ReadCloser, error) {
	if c == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, diskError("open blob", err)
	}
	if compression != models.CompressionZstd {
		return f, nil
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

// Exists reports whether bytes are present at key's final path.
func (c *LocalCAS) Exists(key string) (bool, error) {
	path, err := c.pathFromKey(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, diskError("stat blob", err)
	}
	return true, nil
}

// Remove deletes a blob object. Missing files are ignored.
func (c *LocalCAS) Remove(key string) error {
	path, err := c.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return diskError("remove blob", err)
	}
	c.cleanupEmptyDirs(filepath.Dir(path))
	return nil
}

// Walk calls fn for every well-formed blob key on disk. Temp files and
// unrecognized paths are skipped.
func (c *LocalCAS) Walk(ctx context.Context, fn func(key string) error) error {
	return filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(c.root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel == tempDirName {
				return filepath.SkipDir
			}
			return nil
		}
		key := filepath.ToSlash(rel)
		if _, _, err := ParseBlobKey(key); err != nil {
			return nil
		}
		return fn(key)
	})
}

// SweepTemp removes temp files last modified before cutoff. With dryRun it
// only counts them.
func (c *LocalCAS) SweepTemp(cutoff time.Time, dryRun bool) (int, error) {
	dir := filepath.Join(c.root, tempDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, diskError("read temp directory", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, diskError("remove temp file", err)
			}
		}
		removed++
	}
	return removed, nil
}

// BlobKey derives the storage key for a digest. Scope 0 is the shared tree;
// a positive scope isolates the blob under that owner.
func BlobKey(scope int64, digest string) string {
	base := fmt.Sprintf("%s/%s/%s/%s", casAlgorithmPrefix, digest[0:2], digest[2:4], digest)
	if scope <= 0 {
		return base
	}
	return fmt.Sprintf("%s/%d/%s", ownerScopePrefix, scope, base)
}

// ParseBlobKey is the inverse of BlobKey.
func ParseBlobKey(key string) (int64, string, error) {
	parts := strings.Split(key, "/")
	var scope int64
	if len(parts) == 6 && parts[0] == ownerScopePrefix {
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		scope = id
		parts = parts[2:]
	}
	if len(parts) != 4 || parts[0] != casAlgorithmPrefix {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	digest := parts[3]
	if !ValidDigest(digest) || parts[1] != digest[0:2] || parts[2] != digest[2:4] {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return scope, digest, nil
}

// ValidDigest reports whether s is a lower-case hex SHA-256 digest.
func ValidDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

func (c *LocalCAS) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: blob key is required", ErrInvalidKey)
	}
	if _, _, err := ParseBlobKey(key); err != nil {
		return "", err
	}
	return filepath.Join(c.root, filepath.FromSlash(key)), nil
}

// cleanupEmptyDirs walks up from dir removing empty shard directories,
// stopping at the root or the first non-empty directory.
func (c *LocalCAS) cleanupEmptyDirs(dir string) {
	for dir != c.root && strings.HasPrefix(dir, c.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// stagingReader counts bytes and remembers the first non-EOF read error so
// Stage can tell a broken client stream apart from a failing disk.
type stagingReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
	err error
}

func (s *stagingReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return 0, err
	}
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}
