package image

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/manash/timebooth/internal/security"
	"github.com/manash/timebooth/pkg/models"
)

const maxRemoteImageBytes = 32 << 20

type urlChecker interface {
	Validate(rawURL string) error
}

// Resolver turns an image handle (a data URI or an https URL) into bytes.
type Resolver struct {
	httpClient *http.Client
	checker    urlChecker
}

// NewResolver checks remote handles with validator, or with a strict
// validator when nil.
func NewResolver(validator *security.URLValidator) *Resolver {
	if validator == nil {
		validator = security.NewURLValidator(true)
	}
	return &Resolver{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		checker: validator,
	}
}

func (r *Resolver) Resolve(ctx context.Context, handle string) (string, []byte, error) {
	if handle == "" {
		return "", nil, fmt.Errorf("%w: empty", models.ErrInvalidImageHandle)
	}
	if IsDataURI(handle) {
		return DecodeDataURI(handle)
	}

	if err := r.checker.Validate(handle); err != nil {
		return "", nil, fmt.Errorf("%w: %v", models.ErrInvalidImageHandle, err)
	}
	return r.downloadFromURL(ctx, handle)
}

func (r *Resolver) downloadFromURL(ctx context.Context, url string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes+1))
	if err != nil {
		return "", nil, err
	}
	if len(data) > maxRemoteImageBytes {
		return "", nil, fmt.Errorf("remote image exceeds %d bytes", maxRemoteImageBytes)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if _, ok := mimeExtensions[mimeType]; !ok {
		mimeType = http.DetectContentType(data)
	}
	if _, ok := mimeExtensions[mimeType]; !ok {
		return "", nil, fmt.Errorf("%w: %q", models.ErrUnsupportedMimeType, mimeType)
	}
	return mimeType, data, nil
}

type Saver struct {
	resolver *Resolver
	now      func() time.Time
}

func NewSaver(resolver *Resolver) *Saver {
	return &Saver{resolver: resolver, now: time.Now}
}

// Save writes img to path, or to a generated name in dir when path is empty.
// It returns the path written.
func (s *Saver) Save(ctx context.Context, img models.GeneratedImage, dir, path string) (string, error) {
	return s.save(ctx, img, func(mimeType string) string {
		if path != "" {
			return path
		}
		ts := img.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		return filepath.Join(dir, GenerateFilename(img.Era, mimeType, ts))
	})
}

// SaveNamed writes img to dir/stem with the extension of its image type.
func (s *Saver) SaveNamed(ctx context.Context, img models.GeneratedImage, dir, stem string) (string, error) {
	return s.save(ctx, img, func(mimeType string) string {
		return filepath.Join(dir, stem+"."+ExtensionFor(mimeType))
	})
}

func (s *Saver) save(ctx context.Context, img models.GeneratedImage, pathFor func(mimeType string) string) (string, error) {
	mimeType, data, err := s.resolver.Resolve(ctx, img.URL)
	if err != nil {
		return "", fmt.Errorf("failed to resolve image: %w", err)
	}

	path := pathFor(mimeType)
	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// GenerateFilename names a saved scene after its era and creation time, e.g.
// timebooth-viking-age-20250102-150405.000.png.
func GenerateFilename(era models.Era, mimeType string, t time.Time) string {
	slug := security.SanitizeFilename(era.Slug())
	return fmt.Sprintf("timebooth-%s-%s.%s", slug, t.Format("20060102-150405.000"), ExtensionFor(mimeType))
}
