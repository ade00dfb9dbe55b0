package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalHost stores media on the local filesystem and serves it under a URL
// prefix.
type LocalHost struct {
	root    string
	baseURL string
}

// NewLocalHost creates a LocalHost rooted at dir. The directory is created if
// it does not exist.
func NewLocalHost(dir, baseURL string) (*LocalHost, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &LocalHost{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the absolute root path.
func (l *LocalHost) Root() string {
	return l.root
}

// resolve converts a storage key to an absolute filesystem path, ensuring
// the result stays within the root directory.
func (l *LocalHost) resolve(key string) (string, error) {
	abs := filepath.Join(l.root, filepath.Clean("/"+key))
	if abs == l.root || !strings.HasPrefix(abs, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return abs, nil
}

func (l *LocalHost) Upload(_ context.Context, key string, body io.Reader, contentType string) (Object, error) {
	abs, err := l.resolve(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Object{}, fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return Object{}, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(f, body)
	if err != nil {
		return Object{}, fmt.Errorf("write file: %w", err)
	}
	if contentType == "" {
		contentType = detectContentType(key)
	}
	return Object{Key: key, URL: l.baseURL + "/" + key, ContentType: contentType, Size: n}, nil
}

func (l *LocalHost) Delete(_ context.Context, key string) error {
	abs, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
