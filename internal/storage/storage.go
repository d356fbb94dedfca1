// Package storage keeps attachment bytes in named buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned when no object exists at a path.
	ErrObjectNotFound = errors.New("object not found")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("object exceeds size limit")
	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// Object describes a stored blob.
type Object struct {
	Bucket      string `json:"bucket"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
}

// ObjectStore uploads and serves attachment bytes.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader) (Object, error)
	Download(ctx context.Context, bucket, path string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, bucket, path string) error
}

// AttachmentPath builds tickets/{ticketId}/{unixMillis}-{name}, keeping only
// the base name of the original filename.
func AttachmentPath(ticketID, filename string, at time.Time) string {
	return fmt.Sprintf("tickets/%s/%d-%s", ticketID, at.UnixMilli(), BaseName(filename))
}

// BaseName strips any directory part written with either slash style.
func BaseName(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
