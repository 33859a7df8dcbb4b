// Package batch runs a tour: one photo sent through a list of eras, with
// optional edits at each stop, saving the final scene of every stop.
package batch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

type Result struct {
	Index    int
	Era      models.Era
	Applied  int
	ImageID  string
	Path     string
	Error    error
	Duration time.Duration
}

type Options struct {
	OutputDir   string
	StopOnError bool
	DelayMs     int
}

// Processor drives a single Controller through the stops one at a time.
type Processor struct {
	controller *session.Controller
	saver      *image.Saver
	out        io.Writer
	err        io.Writer
}

func NewProcessor(controller *session.Controller, saver *image.Saver, out, errOut io.Writer) *Processor {
	return &Processor{
		controller: controller,
		saver:      saver,
		out:        out,
		err:        errOut,
	}
}

// Run submits photo, a data URI, unless a photo is already analysed, and
// then visits every stop. A failed photo analysis aborts the run.
func (p *Processor) Run(ctx context.Context, photo string, stops []Stop, opts *Options) ([]Result, error) {
	if p.controller.Snapshot().State == session.StateIdle {
		fmt.Fprintln(p.out, "Analyzing photo...")
		if err := p.controller.SubmitPhoto(ctx, photo); err != nil {
			return nil, fmt.Errorf("photo analysis failed: %w", err)
		}
	}

	results := make([]Result, 0, len(stops))
	total := len(stops)

	for i, stop := range stops {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.visit(ctx, stop, opts, i+1, total)
		results = append(results, result)

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at stop %d: %w", stop.Index, result.Error)
		}

		if opts.DelayMs > 0 && i < len(stops)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) visit(ctx context.Context, stop Stop, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{Index: stop.Index, Era: stop.Era}

	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		fmt.Fprintf(p.err, "       Error: %v\n", err)
		return result
	}

	fmt.Fprintf(p.out, "[%d/%d] Traveling to %s...\n", current, total, stop.Era)

	if p.controller.Snapshot().State == session.StateViewing {
		if err := p.controller.GoBackToEraChoice(); err != nil {
			return fail(err)
		}
	}

	if err := p.controller.ChooseEra(ctx, stop.Era); err != nil {
		return fail(fmt.Errorf("generation failed: %w", err))
	}

	for i, edit := range stop.Edits {
		fmt.Fprintf(p.out, "       Edit %d/%d: %q\n", i+1, len(stop.Edits), truncate(edit, 50))
		if err := p.controller.EditImage(ctx, edit); err != nil {
			return fail(fmt.Errorf("edit %d failed: %w", i+1, err))
		}
		result.Applied++
	}

	img := p.controller.Snapshot().Current
	if img == nil {
		return fail(fmt.Errorf("no image after visiting %s", stop.Era))
	}
	result.ImageID = img.ID

	path, err := p.saver.SaveNamed(ctx, *img, opts.OutputDir, stopFilename(stop))
	if err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}

	result.Path = path
	result.Duration = time.Since(start)
	fmt.Fprintf(p.out, "       Saved: %s\n", path)
	return result
}

func stopFilename(stop Stop) string {
	return fmt.Sprintf("%03d-%s", stop.Index, stop.Era.Slug())
}

// truncate shortens s to maxLen runes, never splitting a character.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// PrintSummary reports the outcome of a run. usage may be nil.
func (p *Processor) PrintSummary(results []Result, summary *usage.Summary) {
	var successful, failed int
	var errs []Result

	for _, r := range results {
		if r.Error != nil {
			failed++
			errs = append(errs, r)
		} else {
			successful++
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d eras\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	if summary != nil {
		fmt.Fprintf(p.out, "  API calls: %d, estimated cost: $%.4f\n", summary.Total.Calls, summary.Total.CostUSD)
	}

	if len(errs) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errs {
			fmt.Fprintf(p.out, "  [%d] %s: %v\n", e.Index, e.Era, e.Error)
		}
	}
}
