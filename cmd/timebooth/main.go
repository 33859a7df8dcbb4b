package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/manash/timebooth/internal/config"
	"github.com/manash/timebooth/internal/display"
	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/keys"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/provider/gemini"
	"github.com/manash/timebooth/internal/repl"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig   string
	flagEnvFile  string
	flagAPIKey   string
	flagLogLevel string
	flagSaveDir  string
)

// AdapterFactory builds the image service behind the session.
type AdapterFactory func(ctx context.Context, cfg provider.Config, registry *models.ModelRegistry, resolver *image.Resolver, ledger *usage.Ledger, logger *slog.Logger) (session.Adapters, error)

type App struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Registry    *models.ModelRegistry
	NewKeyStore func() (*keys.Store, error)
	NewAdapters AdapterFactory
	IsTerminal  func() bool
}

func DefaultApp() *App {
	return &App{
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		Registry:    models.DefaultRegistry(),
		NewKeyStore: keys.NewStore,
		NewAdapters: newGeminiAdapters,
		IsTerminal:  display.IsTerminalSupported,
	}
}

func newGeminiAdapters(ctx context.Context, cfg provider.Config, registry *models.ModelRegistry, resolver *image.Resolver, ledger *usage.Ledger, logger *slog.Logger) (session.Adapters, error) {
	return gemini.New(ctx, cfg, registry, resolver, gemini.WithRecorder(ledger), gemini.WithLogger(logger))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timebooth",
		Short: "Put yourself in another era with AI scene generation",
		Long: `timebooth analyzes a photo of you and generates a scene of you in a
historical era, which you can then refine with edits.

Without a subcommand it starts an interactive session.

Examples:
  timebooth
  timebooth serve --addr :9000
  timebooth tour me.jpg plan.txt -o tour/
  timebooth keys set <api-key>`,
		Args:          cobra.NoArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, app)
		},
	}
	cmd.SetIn(app.In)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	flags := cmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "config file (default is $XDG_CONFIG_HOME/timebooth/config.toml)")
	flags.StringVar(&flagEnvFile, "env-file", config.DefaultEnvFile, "dotenv file to load if present")
	flags.StringVar(&flagAPIKey, "api-key", "", "Gemini API key (defaults to stored key, then GEMINI_API_KEY)")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&flagSaveDir, "save-dir", "", "directory for saved images")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTourCmd(app))
	cmd.AddCommand(newErasCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newKeysCmd(app))

	return cmd
}

func loadConfig(extra map[string]any) (*config.Config, error) {
	overrides := map[string]any{}
	if flagAPIKey != "" {
		overrides["api_key"] = flagAPIKey
	}
	if flagLogLevel != "" {
		overrides["log_level"] = flagLogLevel
	}
	if flagSaveDir != "" {
		overrides["save_dir"] = flagSaveDir
	}
	for k, v := range extra {
		overrides[k] = v
	}
	return config.Load(config.Options{
		ConfigFile: flagConfig,
		EnvFile:    flagEnvFile,
		Overrides:  overrides,
	})
}

func newLogger(w io.Writer, jsonFormat bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// sessionEnv is everything a command needs to drive a session.
type sessionEnv struct {
	cfg        *config.Config
	logger     *slog.Logger
	ledger     *usage.Ledger
	resolver   *image.Resolver
	controller *session.Controller
}

func (e *sessionEnv) Close() error {
	return e.ledger.Close()
}

// setup loads configuration, resolves the API key and builds the session.
// Server logs are JSON on Out; everything else logs text to Err.
func (a *App) setup(ctx context.Context, jsonLogs bool, extra map[string]any) (*sessionEnv, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}
	level, _ := cfg.Level()

	logger := newLogger(a.Err, false, level)
	if jsonLogs {
		logger = newLogger(a.Out, true, level)
	}
	slog.SetDefault(logger)
	if cfg.File != "" {
		logger.Debug("loaded config file", slog.String("path", cfg.File))
	}

	store, err := a.NewKeyStore()
	if err != nil {
		logger.Warn("key store unavailable", slog.Any("error", err))
		store = nil
	}
	source, err := cfg.ResolveAPIKey(store)
	if err != nil {
		return nil, err
	}
	logger.Debug("using API key", slog.String("source", source), slog.String("key", keys.MaskKey(cfg.APIKey)))

	ledger, err := usage.NewLedger(cfg.Usage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}

	resolver := image.NewResolver(nil)
	adapters, err := a.NewAdapters(ctx, cfg.Provider(), a.Registry, resolver, ledger, logger)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return &sessionEnv{
		cfg:        cfg,
		logger:     logger,
		ledger:     ledger,
		resolver:   resolver,
		controller: session.NewController(adapters, session.WithLogger(logger)),
	}, nil
}

func runInteractive(_ *cobra.Command, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.setup(ctx, false, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	var displayer *display.Displayer
	if app.IsTerminal() {
		displayer = display.New(app.Out, rt.resolver)
	}

	r := repl.New(&repl.Config{
		In:          app.In,
		Out:         app.Out,
		Err:         app.Err,
		Controller:  rt.controller,
		Displayer:   displayer,
		Saver:       image.NewSaver(rt.resolver),
		Ledger:      rt.ledger,
		CaptureOpts: rt.cfg.CaptureOptions(rt.logger),
		SaveDir:     rt.cfg.SaveDir,
	})
	return r.Run(ctx)
}
