package main

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/keys"
	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

const sceneURI = "data:image/png;base64,c2NlbmU="

type mockAdapters struct {
	failEra models.Era
	apiKey  string
}

func (m *mockAdapters) Analyze(context.Context, string) (models.AnalysisResult, error) {
	return models.AnalysisResult{Features: "freckles", ClothingStyle: "hoodie", Vibe: "calm"}, nil
}

func (m *mockAdapters) GenerateScene(_ context.Context, _ models.AnalysisResult, era models.Era) (string, error) {
	if era == m.failEra {
		return "", errors.New("model refused")
	}
	return sceneURI, nil
}

func (m *mockAdapters) EditScene(context.Context, string, string) (string, error) {
	return sceneURI, nil
}

// resetFlags resets all global flags to their default values.
func resetFlags() {
	flagConfig = ""
	flagEnvFile = ""
	flagAPIKey = ""
	flagLogLevel = ""
	flagSaveDir = ""
	flagAddr = ""
	flagOutputDir = ""
	flagStopOnError = false
	flagDelay = 0
}

type testApp struct {
	*App
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	adapters *mockAdapters
	dir      string
}

// newTestApp creates an App with an isolated environment and fake adapters.
func newTestApp(t *testing.T, input string) *testApp {
	t.Helper()
	resetFlags()

	dir := t.TempDir()
	for _, k := range []string{"TIMEBOOTH_API_KEY", "TIMEBOOTH_LOG_LEVEL", "TIMEBOOTH_SAVE_DIR", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("TIMEBOOTH_CONFIG_DIR", filepath.Join(dir, "config"))
	dbName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	t.Setenv("TIMEBOOTH_USAGE_DSN", "file:"+dbName+"?mode=memory&cache=shared")

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	adapters := &mockAdapters{}
	app := &App{
		In:       strings.NewReader(input),
		Out:      out,
		Err:      errOut,
		Registry: models.DefaultRegistry(),
		NewKeyStore: func() (*keys.Store, error) {
			return keys.NewStoreAt(filepath.Join(dir, "config")), nil
		},
		NewAdapters: func(_ context.Context, cfg provider.Config, _ *models.ModelRegistry, _ *image.Resolver, _ *usage.Ledger, _ *slog.Logger) (session.Adapters, error) {
			adapters.apiKey = cfg.APIKey
			return adapters, nil
		},
		IsTerminal: func() bool { return false },
	}
	return &testApp{App: app, out: out, errOut: errOut, adapters: adapters, dir: dir}
}

func (ta *testApp) execute(args ...string) error {
	cmd := newRootCmd(ta.App)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(ta.dir, "missing.env")}, args...))
	return cmd.Execute()
}

func writePhoto(t *testing.T, dir string) string {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 16, 12))
	img.Set(2, 2, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "me.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultApp(t *testing.T) {
	app := DefaultApp()

	if app.In == nil || app.Out == nil || app.Err == nil {
		t.Error("DefaultApp() has nil streams")
	}
	if app.Registry == nil {
		t.Error("DefaultApp() Registry is nil")
	}
	if app.NewKeyStore == nil {
		t.Error("DefaultApp() NewKeyStore is nil")
	}
	if app.NewAdapters == nil {
		t.Error("DefaultApp() NewAdapters is nil")
	}
	if app.IsTerminal == nil {
		t.Error("DefaultApp() IsTerminal is nil")
	}
}

func TestNewRootCmd(t *testing.T) {
	ta := newTestApp(t, "")
	cmd := newRootCmd(ta.App)

	if cmd.Use != "timebooth" {
		t.Errorf("Use = %s, want timebooth", cmd.Use)
	}

	for _, name := range []string{"serve", "tour", "eras", "models", "keys"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	for _, flag := range []string{"config", "env-file", "api-key", "log-level", "save-dir"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag %q not defined", flag)
		}
	}
}

func TestRootCmd_Version(t *testing.T) {
	ta := newTestApp(t, "")
	if err := ta.execute("--version"); err != nil {
		t.Fatalf("--version error = %v", err)
	}
	if !strings.Contains(ta.out.String(), version) {
		t.Errorf("output = %q, want version", ta.out.String())
	}
}

func TestErasCmd(t *testing.T) {
	ta := newTestApp(t, "")
	if err := ta.execute("eras"); err != nil {
		t.Fatalf("eras error = %v", err)
	}

	got := ta.out.String()
	for _, era := range models.AllEras() {
		if !strings.Contains(got, era.String()) || !strings.Contains(got, era.Slug()) {
			t.Errorf("eras output missing %s", era)
		}
	}
	if !strings.Contains(got, "Oil Painting") {
		t.Errorf("eras output missing presets:\n%s", got)
	}
}

func TestModelsCmd(t *testing.T) {
	ta := newTestApp(t, "")
	if err := ta.execute("models"); err != nil {
		t.Fatalf("models error = %v", err)
	}

	got := ta.out.String()
	for _, name := range models.DefaultRegistry().List() {
		if !strings.Contains(got, name) {
			t.Errorf("models output missing %s:\n%s", name, got)
		}
	}
	if !strings.Contains(got, "default 1:1") {
		t.Errorf("models output missing default aspect ratio:\n%s", got)
	}
}

func TestInteractive(t *testing.T) {
	ta := newTestApp(t, "eras\nquit\n")

	if err := ta.execute("--api-key", "flag-key-123456"); err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "timebooth interactive mode") {
		t.Errorf("output missing welcome:\n%s", ta.out.String())
	}
	if ta.adapters.apiKey != "flag-key-123456" {
		t.Errorf("adapters got key %q, want the flag value", ta.adapters.apiKey)
	}
}

func TestInteractive_NoAPIKey(t *testing.T) {
	ta := newTestApp(t, "quit\n")

	err := ta.execute()
	if !errors.Is(err, keys.ErrNoKey) {
		t.Errorf("execute() error = %v, want ErrNoKey", err)
	}
}

func TestInteractive_KeyFromEnv(t *testing.T) {
	ta := newTestApp(t, "quit\n")
	t.Setenv("GEMINI_API_KEY", "env-key-abcdef")

	if err := ta.execute(); err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	if ta.adapters.apiKey != "env-key-abcdef" {
		t.Errorf("adapters got key %q, want env value", ta.adapters.apiKey)
	}
}

func TestInteractive_InvalidLogLevel(t *testing.T) {
	ta := newTestApp(t, "quit\n")

	if err := ta.execute("--api-key", "k", "--log-level", "loud"); err == nil {
		t.Error("execute() expected error for invalid log level")
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	ta := newTestApp(t, "")

	err := ta.execute("serve", "--api-key", "k", "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("serve error = %v, want log_level error", err)
	}
}

func TestKeysCmd(t *testing.T) {
	ta := newTestApp(t, "")

	if err := ta.execute("keys", "set", "stored-key-0123456789"); err != nil {
		t.Fatalf("keys set error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "stor*************6789") {
		t.Errorf("set output = %q, want masked key", ta.out.String())
	}

	ta.out.Reset()
	if err := ta.execute("keys", "show"); err != nil {
		t.Fatalf("keys show error = %v", err)
	}
	if !strings.Contains(ta.out.String(), "stored key") {
		t.Errorf("show output = %q, want stored key source", ta.out.String())
	}
	if strings.Contains(ta.out.String(), "stored-key-0123456789") {
		t.Error("show printed the key unmasked")
	}

	ta.out.Reset()
	if err := ta.execute("keys", "delete"); err != nil {
		t.Fatalf("keys delete error = %v", err)
	}
	if err := ta.execute("keys", "show"); !errors.Is(err, keys.ErrNoKey) {
		t.Errorf("keys show after delete error = %v, want ErrNoKey", err)
	}
	if err := ta.execute("keys", "delete"); err == nil {
		t.Error("second delete should fail")
	}
}

func TestKeysSet_FromStdin(t *testing.T) {
	ta := newTestApp(t, "  piped-key-abcdefgh  \n")

	if err := ta.execute("keys", "set"); err != nil {
		t.Fatalf("keys set error = %v", err)
	}
	store, _ := ta.NewKeyStore()
	got, err := store.Get("gemini")
	if err != nil || got != "piped-key-abcdefgh" {
		t.Errorf("stored key = %q, %v", got, err)
	}
}

func TestKeysSet_Blank(t *testing.T) {
	ta := newTestApp(t, "\n")

	if err := ta.execute("keys", "set"); !errors.Is(err, keys.ErrNoKey) {
		t.Errorf("keys set error = %v, want ErrNoKey", err)
	}
}

func TestTourCmd(t *testing.T) {
	ta := newTestApp(t, "")
	photo := writePhoto(t, ta.dir)
	plan := filepath.Join(ta.dir, "plan.txt")
	if err := os.WriteFile(plan, []byte("viking-age | add snow\nRenaissance\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(ta.dir, "tour")

	if err := ta.execute("tour", photo, plan, "-o", outDir, "--api-key", "k"); err != nil {
		t.Fatalf("tour error = %v\nstderr: %s", err, ta.errOut.String())
	}

	for _, name := range []string{"001-viking-age.png", "002-renaissance.png"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("expected %s to be saved: %v", name, err)
		}
	}
	if !strings.Contains(ta.out.String(), "Successful: 2/2 eras") {
		t.Errorf("output missing summary:\n%s", ta.out.String())
	}
}

func TestTourCmd_Errors(t *testing.T) {
	t.Run("missing plan", func(t *testing.T) {
		ta := newTestApp(t, "")
		photo := writePhoto(t, ta.dir)
		err := ta.execute("tour", photo, filepath.Join(ta.dir, "none.txt"), "--api-key", "k")
		if err == nil || !strings.Contains(err.Error(), "plan") {
			t.Errorf("tour error = %v, want plan error", err)
		}
	})

	t.Run("negative delay", func(t *testing.T) {
		ta := newTestApp(t, "")
		if err := ta.execute("tour", "a.png", "b.txt", "--delay=-5"); err == nil {
			t.Error("tour expected error for negative delay")
		}
	})

	t.Run("failed era", func(t *testing.T) {
		ta := newTestApp(t, "")
		ta.adapters.failEra = models.EraRenaissance
		photo := writePhoto(t, ta.dir)
		plan := filepath.Join(ta.dir, "plan.txt")
		if err := os.WriteFile(plan, []byte("viking-age\nrenaissance\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		err := ta.execute("tour", photo, plan, "-o", filepath.Join(ta.dir, "out"), "--api-key", "k")
		if err == nil {
			t.Fatal("tour expected error when an era fails")
		}
		if !strings.Contains(ta.out.String(), "Failed: 1") {
			t.Errorf("output missing failure count:\n%s", ta.out.String())
		}
	})

	t.Run("missing photo", func(t *testing.T) {
		ta := newTestApp(t, "")
		plan := filepath.Join(ta.dir, "plan.txt")
		if err := os.WriteFile(plan, []byte("viking-age\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := ta.execute("tour", filepath.Join(ta.dir, "nope.png"), plan, "--api-key", "k"); err == nil {
			t.Error("tour expected error for missing photo")
		}
	})
}
