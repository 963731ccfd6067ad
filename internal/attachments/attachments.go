// ABOUTME: AttachmentStore contract plus helpers shared by the local and S3 backends
// ABOUTME: Uploads finish before a send begins; a failed multi-file upload is rolled back

package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/2389/realty-inbox/internal/config"
	"github.com/2389/realty-inbox/internal/store"
)

// sniffLen is how much of an upload is inspected for its content type.
const sniffLen = 3072

var (
	// ErrUpload wraps any failure to persist an uploaded object.
	ErrUpload = errors.New("attachment upload failed")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrForeignURL is returned for a URL this store did not issue.
	ErrForeignURL = errors.New("attachment url not managed by this store")
)

// Store persists uploaded files and hands back stable references.
type Store interface {
	// Upload stores r under a fresh key, enforcing the size limit on the
	// bytes actually read.
	Upload(ctx context.Context, name string, r io.Reader) (store.Attachment, error)
	Delete(ctx context.Context, url string) error
	Exists(ctx context.Context, url string) (bool, error)
}

// File is one pending upload.
type File struct {
	Name   string
	Reader io.Reader
}

// UploadAll uploads files in order. If any upload fails the ones already
// stored are deleted and the error wraps ErrUpload, so the caller can abort
// the send with nothing persisted.
func UploadAll(ctx context.Context, s Store, files []File, logger *slog.Logger) ([]store.Attachment, error) {
	if logger == nil {
		logger = slog.Default()
	}

	uploaded := make([]store.Attachment, 0, len(files))
	for _, f := range files {
		att, err := s.Upload(ctx, f.Name, f.Reader)
		if err != nil {
			rollback(s, uploaded, logger)
			if errors.Is(err, ErrUpload) || errors.Is(err, ErrTooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrUpload, f.Name, err)
		}
		uploaded = append(uploaded, att)
	}
	return uploaded, nil
}

// Rollback deletes attachments uploaded for a send that did not commit.
func Rollback(s Store, atts []store.Attachment, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	rollback(s, atts, logger)
}

func rollback(s Store, atts []store.Attachment, logger *slog.Logger) {
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, att := range atts {
		if err := s.Delete(ctx, att.URL); err != nil {
			logger.Warn("failed to remove orphaned attachment", "url", att.URL, "error", err)
		}
	}
}

// sniff reads the head of r to detect its content type and returns a reader
// that still yields the full stream.
func sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, err
	}
	head = head[:n]
	mime := mimetype.Detect(head).String()
	return mime, io.MultiReader(bytes.NewReader(head), r), nil
}

// readLimited reads all of r, failing with ErrTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// objectKey builds a collision-free key that keeps the original extension.
func objectKey(prefix, name string) string {
	ext := strings.ToLower(filepath.Ext(sanitizeName(name)))
	key := path.Join(time.Now().UTC().Format("2006/01"), uuid.New().String()+ext)
	if prefix != "" {
		key = path.Join(strings.Trim(prefix, "/"), key)
	}
	return key
}

func sizeLimit(n int64) int64 {
	if n <= 0 {
		return config.DefaultMaxUploadBytes
	}
	return n
}

// sanitizeName keeps the base name of an uploaded file, dropping any path
// and control characters.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.AttachmentsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		local, err := NewLocalStore(cfg.Dir, cfg.BaseURL, cfg.MaxSizeBytes, logger)
		if err != nil {
			return nil, err
		}
		return local, nil
	case "s3":
		remote, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			MaxSizeBytes:    cfg.MaxSizeBytes,
		}, logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unknown attachments backend %q", cfg.Backend)
	}
}
