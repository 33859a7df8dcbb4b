package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/timebooth/internal/capture"
	"github.com/manash/timebooth/internal/display"
	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/internal/usage"
)

type REPL struct {
	in          io.Reader
	out         io.Writer
	err         io.Writer
	controller  *session.Controller
	displayer   *display.Displayer
	saver       *image.Saver
	ledger      *usage.Ledger
	captureOpts capture.Options
	saveDir     string
	commands    map[string]Command
	running     bool
}

// Config wires a REPL. Displayer and Ledger are optional: without a
// Displayer images are described instead of drawn, and without a Ledger the
// usage command reports that tracking is off.
type Config struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Controller  *session.Controller
	Displayer   *display.Displayer
	Saver       *image.Saver
	Ledger      *usage.Ledger
	CaptureOpts capture.Options
	SaveDir     string
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:          cfg.In,
		out:         cfg.Out,
		err:         cfg.Err,
		controller:  cfg.Controller,
		displayer:   cfg.Displayer,
		saver:       cfg.Saver,
		ledger:      cfg.Ledger,
		captureOpts: cfg.CaptureOpts,
		saveDir:     cfg.SaveDir,
		commands:    make(map[string]Command),
	}
	if r.saveDir == "" {
		r.saveDir = "."
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "timebooth interactive mode")
	fmt.Fprintln(r.out, "Start with 'photo <path>', then pick an era. Type 'help' for all commands.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	fmt.Fprintf(r.out, "timebooth [%s]> ", promptLabel(r.controller.Snapshot()))
}

func promptLabel(snap session.Snapshot) string {
	switch snap.State {
	case session.StateAwaitingEraChoice:
		return "choose era"
	case session.StateViewing:
		if snap.Current != nil {
			return snap.Current.Era.String()
		}
	}
	return snap.State.String()
}

// parseCommand splits line on spaces. A quote only opens at the start of a
// word, so apostrophes inside edit text stay literal.
func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes && current.Len() == 0 {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
