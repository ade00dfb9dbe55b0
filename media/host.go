// Package media stores uploaded files on a media host and hands back the
// public URL pages reference.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrNotImage is returned for uploads without an image extension.
var ErrNotImage = errors.New("only image uploads are allowed")

// Object is a stored file.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Host is where uploaded bytes live.
type Host interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true, ".avif": true,
}

// IsImage reports whether filename has an accepted image extension.
func IsImage(filename string) bool {
	return imageExts[strings.ToLower(filepath.Ext(filename))]
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewKey derives a unique storage key for an uploaded filename.
func NewKey(filename string, now time.Time) (string, error) {
	if !IsImage(filename) {
		return "", fmt.Errorf("%w: %s", ErrNotImage, filename)
	}
	base := unsafeChars.ReplaceAllString(filepath.Base(filename), "-")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), strings.Trim(base, "-")), nil
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
