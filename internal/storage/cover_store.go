// Package storage persists uploaded post covers on the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBasePath  = "/tmp/quill/uploads"
	DefaultMaxSizeMB = 10
	CoverDir         = "covers"
	CoverFieldName   = "coverFile"
	thumbnailSuffix  = ".thumb.webp"
	dirPerm          = 0o750
	filePerm         = 0o600
)

// ErrPathEscape is returned when a relative path resolves outside the base path.
var ErrPathEscape = errors.New("path escapes upload base")

// CoverStore writes covers under a base directory and hands back paths
// relative to it.
type CoverStore struct {
	basePath   string
	maxBytes   int64
	thumbnails bool
	now        func() time.Time
}

// Option configures a CoverStore.
type Option func(*CoverStore)

// WithThumbnails makes Save also render a webp thumbnail beside each
// decodable cover.
func WithThumbnails(enabled bool) Option {
	return func(s *CoverStore) { s.thumbnails = enabled }
}

// WithClock overrides the clock used for the year/month directories.
func WithClock(now func() time.Time) Option {
	return func(s *CoverStore) { s.now = now }
}

// NewCoverStore creates a store rooted at basePath. A non-positive maxBytes
// falls back to DefaultMaxSizeMB.
func NewCoverStore(basePath string, maxBytes int64, opts ...Option) *CoverStore {
	if strings.TrimSpace(basePath) == "" {
		basePath = DefaultBasePath
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSizeMB * 1024 * 1024
	}
	s := &CoverStore{
		basePath: filepath.Clean(basePath),
		maxBytes: maxBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BasePath returns the directory covers are written under.
func (s *CoverStore) BasePath() string {
	return s.basePath
}

// Save copies the uploaded file to covers/<yyyy>/<mm>/<uuid><ext> and returns
// that relative path with forward slashes.
func (s *CoverStore) Save(ctx context.Context, fh *multipart.FileHeader) (rel string, err error) {
	ctx, span := observability.StartSpan(ctx, "storage", "save_cover",
		attribute.Int64("upload.size", fh.Size),
	)
	defer func() { observability.EndSpan(span, err) }()

	if fh.Size == 0 {
		return "", models.NewFieldValidationError(models.FieldErrors{{Field: CoverFieldName, Code: models.FieldNotEmpty}})
	}
	if fh.Size > s.maxBytes {
		return "", models.NewFieldValidationError(models.FieldErrors{{Field: CoverFieldName, Code: models.FieldTooLarge}})
	}

	src, err := fh.Open()
	if err != nil {
		return "", models.NewInternalError(fmt.Errorf("open upload: %w", err))
	}
	defer func() { _ = src.Close() }()

	now := s.now().UTC()
	id := uuid.NewString()
	rel = path.Join(CoverDir, now.Format("2006"), now.Format("01"), id+normalizeExt(fh.Filename))

	abs := s.abs(rel)
	if err := writeFromReader(ctx, abs, io.LimitReader(src, s.maxBytes+1), s.maxBytes); err != nil {
		cleanupFiles(abs)
		if errors.Is(err, errTooLarge) {
			return "", models.NewFieldValidationError(models.FieldErrors{{Field: CoverFieldName, Code: models.FieldTooLarge}})
		}
		return "", models.NewInternalError(err)
	}

	middleware.CoverUploadBytes.Observe(float64(fh.Size))
	if s.thumbnails {
		s.renderThumbnail(ctx, abs)
	}
	return rel, nil
}

// Remove deletes a stored cover and its thumbnail, if any. Missing files are
// not an error.
func (s *CoverStore) Remove(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	for _, p := range []string{abs, ThumbnailPath(abs)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Exists reports whether rel names a regular file under the base path.
func (s *CoverStore) Exists(rel string) bool {
	abs, err := s.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Resolve maps a stored relative path to its absolute location.
func (s *CoverStore) Resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", ErrPathEscape
	}
	abs := s.abs(rel)
	within, err := filepath.Rel(s.basePath, abs)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return abs, nil
}

func (s *CoverStore) abs(rel string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(rel))
}

// ThumbnailPath returns the thumbnail location for a cover path.
func ThumbnailPath(coverPath string) string {
	ext := filepath.Ext(coverPath)
	return strings.TrimSuffix(coverPath, ext) + thumbnailSuffix
}

func normalizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

var errTooLarge = errors.New("upload exceeds size limit")

func writeFromReader(ctx context.Context, dst string, r io.Reader, limit int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n > limit {
		return errTooLarge
	}
	return nil
}

func writeBytesToFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return err
	}
	return os.WriteFile(p, data, filePerm)
}

func cleanupFiles(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
