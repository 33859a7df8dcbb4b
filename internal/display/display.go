package display

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	"io"
	"os"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	_ "golang.org/x/image/webp"

	"github.com/manash/timebooth/pkg/models"
)

type imageSource interface {
	Resolve(ctx context.Context, handle string) (string, []byte, error)
}

type Displayer struct {
	out    io.Writer
	source imageSource
}

// New returns a Displayer that writes to out and fetches image bytes through
// source, usually an *image.Resolver.
func New(out io.Writer, source imageSource) *Displayer {
	return &Displayer{
		out:    out,
		source: source,
	}
}

func (d *Displayer) render(ctx context.Context, img models.GeneratedImage, columns int) error {
	if img.URL == "" {
		return fmt.Errorf("image %s has no data", img.ID)
	}

	mimeType, data, err := d.source.Resolve(ctx, img.URL)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	png, err := toPNG(mimeType, data)
	if err != nil {
		return err
	}

	enc := NewKittyEncoder(d.out).WithColumns(columns)
	if err := enc.Encode(png); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

func (d *Displayer) Display(ctx context.Context, img models.GeneratedImage) error {
	if err := d.render(ctx, img, 0); err != nil {
		return err
	}
	fmt.Fprintln(d.out)
	return nil
}

// DisplayStrip shows images side by side as thumbnails columns cells wide,
// stopping at the first failure.
func (d *Displayer) DisplayStrip(ctx context.Context, images []models.GeneratedImage, columns int) error {
	if len(images) == 0 {
		return nil
	}
	for i, img := range images {
		if err := d.render(ctx, img, columns); err != nil {
			return fmt.Errorf("failed to display image %d: %w", i, err)
		}
	}
	fmt.Fprintln(d.out)
	return nil
}

// toPNG re-encodes anything that is not already PNG, since the kitty
// protocol is driven with f=100.
func toPNG(mimeType string, data []byte) ([]byte, error) {
	if mimeType == "image/png" {
		return data, nil
	}
	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}
	var buf bytes.Buffer
	if err := imgio.PNGEncoder()(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to convert to png: %w", err)
	}
	return buf.Bytes(), nil
}

func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "iterm.app", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
