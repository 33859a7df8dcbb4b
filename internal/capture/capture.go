// Package capture acquires a user photo from a file, an inline data URI or an
// upload stream and normalizes it for analysis.
package capture

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	_ "golang.org/x/image/webp"

	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/security"
)

const (
	DefaultMaxEdge     = 1024
	DefaultJPEGQuality = 85
)

type Options struct {
	MaxEdge     int
	JPEGQuality int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxEdge <= 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = DefaultJPEGQuality
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Photo is the raw bytes handed over by a Source.
type Photo struct {
	Data []byte
	Name string
}

// Source is one photo-providing resource. Close must be safe to call even if
// Acquire was never called or failed.
type Source interface {
	Acquire(ctx context.Context) (Photo, error)
	Close() error
}

// Capture acquires a photo from src and returns it as a normalized JPEG data
// URI. src is closed on every exit path.
func Capture(ctx context.Context, src Source, opts Options) (string, error) {
	opts = opts.withDefaults()

	defer func() {
		if cerr := src.Close(); cerr != nil {
			opts.Logger.Warn("failed to release capture source", slog.Any("error", cerr))
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrCapture, err)
	}

	photo, err := src.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrCapture, err)
	}

	uri, err := Normalize(photo.Data, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", provider.ErrCapture, err)
	}

	opts.Logger.Debug("photo captured",
		slog.String("source", photo.Name),
		slog.Int("raw_bytes", len(photo.Data)),
		slog.Int("encoded_bytes", len(uri)),
	)
	return uri, nil
}

// Normalize decodes a jpeg, png, gif or webp, scales it so its longest edge
// is at most opts.MaxEdge and re-encodes it as JPEG.
func Normalize(data []byte, opts Options) (string, error) {
	opts = opts.withDefaults()
	if len(data) == 0 {
		return "", fmt.Errorf("empty photo")
	}

	cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode photo: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("photo has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > security.MaxPhotoPixels {
		return "", fmt.Errorf("%w: %dx%d", security.ErrPhotoTooManyPixels, cfg.Width, cfg.Height)
	}

	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode photo: %w", err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 {
		return "", fmt.Errorf("photo has no pixels")
	}

	if nw, nh := fitWithin(w, h, opts.MaxEdge); nw != w || nh != h {
		img = transform.Resize(img, nw, nh, transform.Linear)
	}

	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(opts.JPEGQuality)(&buf, img); err != nil {
		return "", fmt.Errorf("encode photo: %w", err)
	}
	return image.EncodeDataURI("image/jpeg", buf.Bytes()), nil
}

func fitWithin(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}

type fileSource struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// FileSource reads a photo from disk.
func FileSource(path string) Source {
	return &fileSource{path: path}
}

func (s *fileSource) Acquire(ctx context.Context) (Photo, error) {
	if err := security.ValidatePhotoPath(s.path); err != nil {
		return Photo{}, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return Photo{}, err
	}
	s.mu.Lock()
	s.f = f
	s.mu.Unlock()

	data, err := io.ReadAll(io.LimitReader(f, security.MaxPhotoBytes+1))
	if err != nil {
		return Photo{}, err
	}
	if len(data) > security.MaxPhotoBytes {
		return Photo{}, security.ErrPhotoTooLarge
	}
	return Photo{Data: data, Name: s.path}, ctx.Err()
}

func (s *fileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

type dataURISource struct {
	uri string
}

// DataURISource takes a photo already encoded inline, as browsers send it.
func DataURISource(uri string) Source {
	return &dataURISource{uri: uri}
}

func (s *dataURISource) Acquire(context.Context) (Photo, error) {
	_, data, err := image.DecodeDataURI(s.uri)
	if err != nil {
		return Photo{}, err
	}
	return Photo{Data: data, Name: "data-uri"}, nil
}

func (s *dataURISource) Close() error { return nil }

type readerSource struct {
	rc   io.ReadCloser
	name string
	once sync.Once
}

// ReaderSource reads an upload stream. The stream is closed by Close.
func ReaderSource(rc io.ReadCloser, name string) Source {
	return &readerSource{rc: rc, name: name}
}

func (s *readerSource) Acquire(ctx context.Context) (Photo, error) {
	data, err := io.ReadAll(io.LimitReader(s.rc, security.MaxPhotoBytes+1))
	if err != nil {
		return Photo{}, err
	}
	if len(data) > security.MaxPhotoBytes {
		return Photo{}, security.ErrPhotoTooLarge
	}
	return Photo{Data: data, Name: s.name}, ctx.Err()
}

func (s *readerSource) Close() error {
	var err error
	s.once.Do(func() { err = s.rc.Close() })
	return err
}
