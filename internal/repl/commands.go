package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manash/timebooth/internal/capture"
	"github.com/manash/timebooth/internal/security"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/pkg/models"
)

const (
	stripLength  = 6
	stripColumns = 12
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&PhotoCommand{},
		&ErasCommand{},
		&EraCommand{},
		&EditCommand{},
		&FilterCommand{},
		&PresetsCommand{},
		&BackCommand{},
		&ResetCommand{},
		&HistoryCommand{},
		&VersionsCommand{},
		&LineageCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&StatusCommand{},
		&UsageCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// showCurrent draws the current image when a displayer is configured,
// otherwise prints a one-line summary of it.
func (r *REPL) showCurrent(ctx context.Context) error {
	snap := r.controller.Snapshot()
	if snap.Current == nil {
		return fmt.Errorf("no current image to display")
	}
	return r.showImage(ctx, *snap.Current)
}

func (r *REPL) showImage(ctx context.Context, img models.GeneratedImage) error {
	if r.displayer == nil {
		fmt.Fprintf(r.out, "[%s] %s %s: %q\n", shortID(img.ID), img.Era, img.Operation, truncate(img.Prompt, 50))
		return nil
	}
	return r.displayer.Display(ctx, img)
}

// PhotoCommand loads a photo and analyses it
type PhotoCommand struct{}

func (c *PhotoCommand) Name() string        { return "photo" }
func (c *PhotoCommand) Aliases() []string   { return []string{"p", "upload"} }
func (c *PhotoCommand) Description() string { return "Load and analyze a photo of yourself" }
func (c *PhotoCommand) Usage() string       { return "photo <path>" }

func (c *PhotoCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	uri, err := capture.Capture(ctx, capture.FileSource(strings.Join(args, " ")), r.captureOpts)
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, "Analyzing your photo...")
	if err := r.controller.SubmitPhoto(ctx, uri); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	snap := r.controller.Snapshot()
	if snap.Analysis != nil {
		fmt.Fprintf(r.out, "Features: %s\n", snap.Analysis.Features)
		fmt.Fprintf(r.out, "Clothing: %s\n", snap.Analysis.ClothingStyle)
		fmt.Fprintf(r.out, "Vibe:     %s\n", snap.Analysis.Vibe)
	}
	fmt.Fprintln(r.out, "Choose a destination with 'era <name>' ('eras' lists them).")
	return nil
}

// ErasCommand lists the destinations
type ErasCommand struct{}

func (c *ErasCommand) Name() string        { return "eras" }
func (c *ErasCommand) Aliases() []string   { return []string{"ls"} }
func (c *ErasCommand) Description() string { return "List the available eras" }
func (c *ErasCommand) Usage() string       { return "eras" }

func (c *ErasCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	for i, era := range models.AllEras() {
		fmt.Fprintf(r.out, "  %d. %-18s %-18s %s\n", i+1, era, era.Slug(), era.Description())
	}
	return nil
}

// EraCommand travels to an era
type EraCommand struct{}

func (c *EraCommand) Name() string        { return "era" }
func (c *EraCommand) Aliases() []string   { return []string{"go", "travel"} }
func (c *EraCommand) Description() string { return "Generate your portrait in an era" }
func (c *EraCommand) Usage() string       { return "era <number|name>" }

func (c *EraCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	era, err := resolveEra(strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Traveling to %s...\n", era)
	if err := r.controller.ChooseEra(ctx, era); err != nil {
		if errors.Is(err, session.ErrInvalidTransition) && r.controller.Snapshot().State == session.StateViewing {
			return fmt.Errorf("%w (use 'back' to pick another era)", err)
		}
		return err
	}
	return r.showCurrent(ctx)
}

// resolveEra accepts a 1-based position in the era list as well as a label
// or slug.
func resolveEra(s string) (models.Era, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		eras := models.AllEras()
		if n < 1 || n > len(eras) {
			return "", fmt.Errorf("%w: %d", models.ErrUnknownEra, n)
		}
		return eras[n-1], nil
	}
	return models.ParseEra(s)
}

// EditCommand refines the current image
type EditCommand struct{}

func (c *EditCommand) Name() string        { return "edit" }
func (c *EditCommand) Aliases() []string   { return []string{"e"} }
func (c *EditCommand) Description() string { return "Edit the current image with an instruction" }
func (c *EditCommand) Usage() string       { return "edit <instruction>" }

func (c *EditCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	fmt.Fprintln(r.out, "Applying your edits...")
	if err := r.controller.EditImage(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	return r.showCurrent(ctx)
}

// FilterCommand applies a quick-filter preset
type FilterCommand struct{}

func (c *FilterCommand) Name() string        { return "filter" }
func (c *FilterCommand) Aliases() []string   { return []string{"f"} }
func (c *FilterCommand) Description() string { return "Apply a preset filter to the current image" }
func (c *FilterCommand) Usage() string       { return "filter <preset>" }

func (c *FilterCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	preset, err := models.PresetByID(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Applying %s...\n", preset.Name)
	if err := r.controller.ApplyPreset(ctx, preset.ID); err != nil {
		return err
	}
	return r.showCurrent(ctx)
}

// PresetsCommand lists the quick filters
type PresetsCommand struct{}

func (c *PresetsCommand) Name() string        { return "presets" }
func (c *PresetsCommand) Aliases() []string   { return []string{"filters"} }
func (c *PresetsCommand) Description() string { return "List the preset filters" }
func (c *PresetsCommand) Usage() string       { return "presets" }

func (c *PresetsCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	for _, p := range models.Presets() {
		fmt.Fprintf(r.out, "  %-8s %s\n", p.ID, p.Name)
	}
	return nil
}

// BackCommand returns to era selection
type BackCommand struct{}

func (c *BackCommand) Name() string        { return "back" }
func (c *BackCommand) Aliases() []string   { return []string{"b"} }
func (c *BackCommand) Description() string { return "Go back and choose another era" }
func (c *BackCommand) Usage() string       { return "back" }

func (c *BackCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.controller.GoBackToEraChoice(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Back at era selection. Your history is kept.")
	return nil
}

// ResetCommand starts over
type ResetCommand struct{}

func (c *ResetCommand) Name() string        { return "reset" }
func (c *ResetCommand) Aliases() []string   { return []string{"new"} }
func (c *ResetCommand) Description() string { return "Discard the photo and history and start over" }
func (c *ResetCommand) Usage() string       { return "reset" }

func (c *ResetCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.controller.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Session reset.")
	return nil
}

// HistoryCommand shows every generated image
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show all generated images, newest first" }
func (c *HistoryCommand) Usage() string       { return "history [era]" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	history := r.controller.History()

	entries := history.Entries()
	if len(args) > 0 {
		era, err := resolveEra(strings.Join(args, " "))
		if err != nil {
			return err
		}
		entries = history.Versions(era)
	}

	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No history yet")
		return nil
	}

	printImages(r, entries)
	if r.displayer != nil && len(args) == 0 {
		return r.displayer.DisplayStrip(ctx, history.Latest(stripLength), stripColumns)
	}
	return nil
}

// VersionsCommand shows the images of the current era
type VersionsCommand struct{}

func (c *VersionsCommand) Name() string        { return "versions" }
func (c *VersionsCommand) Aliases() []string   { return []string{"v"} }
func (c *VersionsCommand) Description() string { return "Show every version for the current era" }
func (c *VersionsCommand) Usage() string       { return "versions" }

func (c *VersionsCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	snap := r.controller.Snapshot()
	if snap.Current == nil {
		return fmt.Errorf("no era selected")
	}

	fmt.Fprintf(r.out, "%s: %d version(s)\n", snap.Current.Era, len(snap.Versions))
	printImages(r, snap.Versions)
	if r.displayer != nil {
		return r.displayer.DisplayStrip(ctx, snap.Versions, stripColumns)
	}
	return nil
}

// LineageCommand traces an image back to its generation
type LineageCommand struct{}

func (c *LineageCommand) Name() string        { return "lineage" }
func (c *LineageCommand) Aliases() []string   { return []string{"tree"} }
func (c *LineageCommand) Description() string { return "Trace an image back through its edits" }
func (c *LineageCommand) Usage() string       { return "lineage [id]" }

func (c *LineageCommand) Execute(_ context.Context, r *REPL, args []string) error {
	img, err := pickImage(r, args)
	if err != nil {
		return err
	}

	chain := r.controller.History().Lineage(img.ID)
	for i, node := range chain {
		fmt.Fprintf(r.out, "%s[%s] %s: %q\n",
			strings.Repeat("  ", i),
			shortID(node.ID),
			node.Operation,
			truncate(node.Prompt, 50))
	}
	return nil
}

// ShowCommand displays an image
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display the current image or one from history" }
func (c *ShowCommand) Usage() string       { return "show [id]" }

func (c *ShowCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	img, err := pickImage(r, args)
	if err != nil {
		return err
	}
	return r.showImage(ctx, img)
}

// SaveCommand saves an image to disk
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Save the current image to a file" }
func (c *SaveCommand) Usage() string       { return "save [filename]" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	snap := r.controller.Snapshot()
	if snap.Current == nil {
		return fmt.Errorf("no current image to save")
	}

	var path string
	if len(args) > 0 {
		path = args[0]
		if err := security.ValidateSavePath(path); err != nil {
			return fmt.Errorf("invalid save path: %w", err)
		}
	}

	written, err := r.saver.Save(ctx, *snap.Current, r.saveDir, path)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Saved to: %s\n", written)
	return nil
}

// StatusCommand prints the session state
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st"} }
func (c *StatusCommand) Description() string { return "Show the session state" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	snap := r.controller.Snapshot()

	fmt.Fprintf(r.out, "State:   %s\n", snap.State)
	if snap.Busy {
		fmt.Fprintf(r.out, "Busy:    %s\n", snap.Status)
	}
	if snap.Error != "" {
		fmt.Fprintf(r.out, "Error:   %s\n", snap.Error)
	}
	if snap.Analysis != nil {
		fmt.Fprintf(r.out, "Photo:   %s; %s; %s\n", snap.Analysis.Features, snap.Analysis.ClothingStyle, snap.Analysis.Vibe)
	}
	if snap.Current != nil {
		fmt.Fprintf(r.out, "Current: [%s] %s (%d version(s))\n", shortID(snap.Current.ID), snap.Current.Era, len(snap.Versions))
	}
	fmt.Fprintf(r.out, "History: %d image(s)\n", len(snap.History))
	return nil
}

// UsageCommand displays API usage for this process
type UsageCommand struct{}

func (c *UsageCommand) Name() string        { return "usage" }
func (c *UsageCommand) Aliases() []string   { return []string{"cost", "$"} }
func (c *UsageCommand) Description() string { return "Show API calls, tokens and estimated cost" }
func (c *UsageCommand) Usage() string       { return "usage" }

func (c *UsageCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if r.ledger == nil {
		fmt.Fprintln(r.out, "Usage tracking is disabled.")
		return nil
	}

	summary, err := r.ledger.Summary(ctx)
	if err != nil {
		return err
	}
	if summary.Total.Calls == 0 {
		fmt.Fprintln(r.out, "No API calls yet.")
		return nil
	}

	fmt.Fprintf(r.out, "%-10s %6s %6s %10s %10s %7s %10s\n", "Operation", "Calls", "Failed", "Prompt", "Output", "Images", "Cost")
	fmt.Fprintln(r.out, strings.Repeat("-", 65))
	for _, op := range summary.ByOperation {
		fmt.Fprintf(r.out, "%-10s %6d %6d %10d %10d %7d %10s\n",
			op.Operation, op.Calls, op.Failures, op.PromptTokens, op.OutputTokens, op.Images, formatCost(op.CostUSD))
	}
	t := summary.Total
	fmt.Fprintln(r.out, strings.Repeat("-", 65))
	fmt.Fprintf(r.out, "%-10s %6d %6d %10d %10d %7d %10s\n",
		"total", t.Calls, t.Failures, t.PromptTokens, t.OutputTokens, t.Images, formatCost(t.CostUSD))
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-22s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                        Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func printImages(r *REPL, images []models.GeneratedImage) {
	currentID := ""
	if cur := r.controller.Snapshot().Current; cur != nil {
		currentID = cur.ID
	}

	for i, img := range images {
		marker := "  "
		if img.ID == currentID {
			marker = "> "
		}
		fmt.Fprintf(r.out, "%s[%d] %s %-18s %-8s %q\n",
			marker,
			i+1,
			shortID(img.ID),
			img.Era,
			img.Operation,
			truncate(img.Prompt, 50))
	}
}

// pickImage returns the history entry whose ID starts with args[0], or the
// current image when no ID is given.
func pickImage(r *REPL, args []string) (models.GeneratedImage, error) {
	if len(args) == 0 {
		cur := r.controller.Snapshot().Current
		if cur == nil {
			return models.GeneratedImage{}, fmt.Errorf("no current image")
		}
		return *cur, nil
	}

	prefix := args[0]
	var match *models.GeneratedImage
	for img := range r.controller.History().All() {
		if !strings.HasPrefix(img.ID, prefix) {
			continue
		}
		if match != nil {
			return models.GeneratedImage{}, fmt.Errorf("ambiguous image id: %s", prefix)
		}
		match = &img
	}
	if match == nil {
		return models.GeneratedImage{}, fmt.Errorf("image not found: %s", prefix)
	}
	return *match, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatCost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

// truncate shortens s to maxLen runes, never splitting a character.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
