package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/timebooth/internal/batch"
	"github.com/manash/timebooth/internal/capture"
	"github.com/manash/timebooth/internal/config"
	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/keys"
	"github.com/manash/timebooth/internal/server"
	"github.com/manash/timebooth/pkg/models"
)

var (
	flagAddr        string
	flagOutputDir   string
	flagStopOnError bool
	flagDelay       int
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app)
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default "+config.DefaultAddr+")")
	return cmd
}

func runServe(_ *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	extra := map[string]any{}
	if flagAddr != "" {
		extra["server.addr"] = flagAddr
	}
	rt, err := app.setup(ctx, true, extra)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(server.Config{
		Controller:     rt.controller,
		Ledger:         rt.ledger,
		CaptureOpts:    rt.cfg.CaptureOptions(rt.logger),
		AllowedOrigins: rt.cfg.Server.AllowedOrigins,
		Logger:         rt.logger,
	})
	return srv.ListenAndServe(ctx, rt.cfg.Server.Addr)
}

func newTourCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tour <photo> <plan>",
		Short: "Send one photo through a list of eras",
		Long: `Analyze a photo once, then generate a scene for every era in the plan
file and save the final image of each.

Plan files have one era per line, optionally followed by edits:

  # era | edit | edit
  viking-age | add falling snow
  Renaissance
  cyberpunk-future | make it night | add rain

A .json plan is a list of {"era": "...", "edits": ["..."]} objects.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTour(cmd, args, app)
		},
	}
	cmd.Flags().StringVarP(&flagOutputDir, "output", "o", "", "output directory (defaults to save_dir)")
	cmd.Flags().BoolVar(&flagStopOnError, "stop-on-error", false, "stop at the first failed era")
	cmd.Flags().IntVar(&flagDelay, "delay", 0, "delay between eras in milliseconds")
	return cmd
}

func runTour(_ *cobra.Command, args []string, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flagDelay < 0 {
		return fmt.Errorf("delay must be non-negative, got %d", flagDelay)
	}

	stops, err := batch.ParseFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}

	rt, err := app.setup(ctx, false, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	photo, err := capture.Capture(ctx, capture.FileSource(args[0]), rt.cfg.CaptureOptions(rt.logger))
	if err != nil {
		return err
	}

	outputDir := flagOutputDir
	if outputDir == "" {
		outputDir = rt.cfg.SaveDir
	}

	fmt.Fprintf(app.Out, "Touring %d era(s)...\n", len(stops))

	processor := batch.NewProcessor(rt.controller, image.NewSaver(rt.resolver), app.Out, app.Err)
	results, runErr := processor.Run(ctx, photo, stops, &batch.Options{
		OutputDir:   outputDir,
		StopOnError: flagStopOnError,
		DelayMs:     flagDelay,
	})

	summary, err := rt.ledger.Summary(context.WithoutCancel(ctx))
	if err != nil {
		rt.logger.Warn("usage summary unavailable", slog.Any("error", err))
		summary = nil
	}
	if len(results) > 0 {
		processor.PrintSummary(results, summary)
	}

	if runErr != nil {
		return runErr
	}
	for _, r := range results {
		if r.Error != nil {
			return errors.New("some eras failed")
		}
	}
	return nil
}

func newErasCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "eras",
		Short: "List the available eras and quick filters",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(app.Out, "Eras:")
			for i, era := range models.AllEras() {
				fmt.Fprintf(app.Out, "  %d. %-18s %-18s %s\n", i+1, era, era.Slug(), era.Description())
			}
			fmt.Fprintln(app.Out)
			fmt.Fprintln(app.Out, "Quick filters:")
			for _, p := range models.Presets() {
				fmt.Fprintf(app.Out, "  %-10s %s\n", p.ID, p.Name)
			}
		},
	}
}

func newModelsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the Gemini models that can be configured",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range app.Registry.List() {
				caps, _ := app.Registry.Get(name)
				line := fmt.Sprintf("  %-28s %s", name, caps.Kind)
				if caps.Kind == models.KindImage {
					line += fmt.Sprintf("  edit=%t  aspect=%s (default %s)",
						caps.SupportsEdit, strings.Join(caps.SupportedAspectRatio, ","), caps.AspectRatioOrDefault(""))
				} else {
					line += fmt.Sprintf("  json=%t", caps.JSONOutput)
				}
				fmt.Fprintln(app.Out, line)
			}
		},
	}
}

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the stored Gemini API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key]",
		Short: "Store an API key (reads stdin when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysSet(args, app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the key that would be used and where it comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysShow(app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysDelete(app)
		},
	})
	return cmd
}

func runKeysSet(args []string, app *App) error {
	store, err := app.NewKeyStore()
	if err != nil {
		return err
	}

	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		fmt.Fprint(app.Out, "API key: ")
		read, err := readKey(app.In)
		fmt.Fprintln(app.Out)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = read
	}

	if err := store.Set(config.ProviderName, key); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Stored %s key %s in %s\n", config.ProviderName, keys.MaskKey(strings.TrimSpace(key)), store.Path())
	return nil
}

func runKeysShow(app *App) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	store, err := app.NewKeyStore()
	if err != nil {
		store = nil
	}

	source, err := cfg.ResolveAPIKey(store)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s: %s\n", config.ProviderName, keys.MaskKey(cfg.APIKey))
	fmt.Fprintf(app.Out, "source: %s\n", source)
	return nil
}

func runKeysDelete(app *App) error {
	store, err := app.NewKeyStore()
	if err != nil {
		return err
	}
	if err := store.Delete(config.ProviderName); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Deleted stored %s key\n", config.ProviderName)
	return nil
}

// readKey reads one line from r without echo when r is a terminal.
func readKey(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		return strings.TrimSpace(string(b)), err
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
