// ABOUTME: Filesystem-backed AttachmentStore for single-node deployments and tests
// ABOUTME: Files live under a directory and are served back by Handler at BaseURL

package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/realty-inbox/internal/store"
)

// DefaultBaseURL is where the gateway mounts the local file handler.
const DefaultBaseURL = "/files"

// LocalStore writes uploads beneath dir.
type LocalStore struct {
	dir     string
	baseURL string
	maxSize int64
	logger  *slog.Logger
}

// NewLocalStore creates dir if needed. An empty baseURL uses DefaultBaseURL.
func NewLocalStore(dir, baseURL string, maxSize int64, logger *slog.Logger) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("attachments dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating attachments dir: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: sizeLimit(maxSize),
		logger:  logger.With("component", "attachments", "backend", "local"),
	}, nil
}

// Upload implements Store.
func (s *LocalStore) Upload(ctx context.Context, name string, r io.Reader) (store.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return store.Attachment{}, err
	}

	mime, body, err := sniff(r)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("%w: reading %s: %w", ErrUpload, name, err)
	}
	data, err := readLimited(body, s.maxSize)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return store.Attachment{}, err
		}
		return store.Attachment{}, fmt.Errorf("%w: reading %s: %w", ErrUpload, name, err)
	}

	key := objectKey("", name)
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return store.Attachment{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return store.Attachment{}, fmt.Errorf("%w: writing %s: %w", ErrUpload, name, err)
	}

	s.logger.Debug("stored attachment", "key", key, "type", mime, "size", len(data))

	return store.Attachment{
		URL:  s.baseURL + "/" + key,
		Name: sanitizeName(name),
		Type: mime,
		Size: int64(len(data)),
	}, nil
}

// Delete implements Store. Deleting a missing file is not an error.
func (s *LocalStore) Delete(ctx context.Context, url string) error {
	full, err := s.pathFor(url)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing attachment: %w", err)
	}
	return nil
}

// Exists implements Store. URLs from elsewhere are reported as absent.
func (s *LocalStore) Exists(ctx context.Context, url string) (bool, error) {
	full, err := s.pathFor(url)
	if errors.Is(err, ErrForeignURL) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Handler serves stored files. Mount it at BaseURL.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix(s.baseURL, http.FileServer(http.Dir(s.dir)))
}

// BaseURL is the prefix of every URL this store issues.
func (s *LocalStore) BaseURL() string {
	return s.baseURL
}

func (s *LocalStore) pathFor(url string) (string, error) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" {
		return "", ErrForeignURL
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrForeignURL
	}
	return filepath.Join(s.dir, clean), nil
}
