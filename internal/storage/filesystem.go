package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// FileStore keeps objects under root/{bucket}/{path} on local disk.
type FileStore struct {
	root     string
	maxBytes int64
	logger   *zap.Logger
}

// NewFileStore creates root if needed. maxBytes <= 0 disables the size limit.
func NewFileStore(root string, maxBytes int64, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root, maxBytes: maxBytes, logger: logger.Named("storage")}, nil
}

func (s *FileStore) resolve(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", ErrInvalidPath
	}
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, `\`) {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(cleaned)), nil
}

// Upload streams r to disk, hashing it on the way. The object becomes
// visible only once fully written.
func (s *FileStore) Upload(ctx context.Context, bucket, objectPath string, r io.Reader) (Object, error) {
	target, err := s.resolve(bucket, objectPath)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	hasher := blake3.New()
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Object{}, fmt.Errorf("write object: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		return Object{}, ErrTooLarge
	}

	mtype, err := mimetype.DetectFile(tmpName)
	if err != nil {
		return Object{}, fmt.Errorf("detect content type: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return Object{}, fmt.Errorf("commit object: %w", err)
	}

	obj := Object{
		Bucket:      bucket,
		Path:        objectPath,
		ContentType: mtype.String(),
		Size:        written,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}
	s.logger.Debug("object stored",
		zap.String("bucket", bucket),
		zap.String("path", objectPath),
		zap.Int64("size", written),
	)
	return obj, nil
}

// Download opens the object for reading. The caller closes the reader.
func (s *FileStore) Download(ctx context.Context, bucket, objectPath string) (io.ReadCloser, Object, error) {
	target, err := s.resolve(bucket, objectPath)
	if err != nil {
		return nil, Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Object{}, err
	}

	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Object{}, ErrObjectNotFound
		}
		return nil, Object{}, fmt.Errorf("open object: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("stat object: %w", err)
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, Object{}, fmt.Errorf("rewind object: %w", err)
	}

	return f, Object{
		Bucket:      bucket,
		Path:        objectPath,
		ContentType: mtype.String(),
		Size:        info.Size(),
	}, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *FileStore) Delete(ctx context.Context, bucket, objectPath string) error {
	target, err := s.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
