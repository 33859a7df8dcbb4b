package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/manash/timebooth/internal/image"
	"github.com/manash/timebooth/internal/session"
	"github.com/manash/timebooth/internal/usage"
	"github.com/manash/timebooth/pkg/models"
)

const (
	testPhoto = "data:image/png;base64,cGhvdG8="
	testScene = "data:image/png;base64,c2NlbmU="
)

type fakeAdapters struct {
	mu         sync.Mutex
	analyzeErr error
	failEra    models.Era
	editErr    error
	analyzed   int
	generated  []models.Era
	edits      []string
}

func (f *fakeAdapters) Analyze(context.Context, string) (models.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed++
	if f.analyzeErr != nil {
		return models.AnalysisResult{}, f.analyzeErr
	}
	return models.AnalysisResult{Features: "freckles", ClothingStyle: "hoodie", Vibe: "calm"}, nil
}

func (f *fakeAdapters) GenerateScene(_ context.Context, _ models.AnalysisResult, era models.Era) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, era)
	if era == f.failEra {
		return "", errors.New("model refused")
	}
	return testScene, nil
}

func (f *fakeAdapters) EditScene(_ context.Context, _ string, instruction string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, instruction)
	if f.editErr != nil {
		return "", f.editErr
	}
	return testScene, nil
}

func newTestProcessor(adapters *fakeAdapters) (*Processor, *session.Controller, *bytes.Buffer, *bytes.Buffer) {
	ctrl := session.NewController(adapters)
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	saver := image.NewSaver(image.NewResolver(nil))
	return NewProcessor(ctrl, saver, out, errOut), ctrl, out, errOut
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      int
		wantEdits []int
		wantErr   bool
	}{
		{
			name:      "eras only",
			input:     "viking-age\nRenaissance\ncyberpunk-future",
			want:      3,
			wantEdits: []int{0, 0, 0},
		},
		{
			name:      "with edits",
			input:     "viking-age | add snow | make it dusk\nrenaissance|add a lute",
			want:      2,
			wantEdits: []int{2, 1},
		},
		{
			name:      "with comments and blank lines",
			input:     "# tour\n\nviking-age\n   \n# end\nroaring-20s\n",
			want:      2,
			wantEdits: []int{0, 0},
		},
		{
			name:    "unknown era",
			input:   "viking-age\nbronze-age",
			wantErr: true,
		},
		{
			name:    "empty edit",
			input:   "viking-age | add snow | ",
			wantErr: true,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only comments",
			input:   "# comment\n# another",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stops, err := ParseText(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if len(stops) != tt.want {
				t.Fatalf("ParseText() got %d stops, want %d", len(stops), tt.want)
			}
			for i, stop := range stops {
				if stop.Index != i+1 {
					t.Errorf("stop %d Index = %d", i, stop.Index)
				}
				if len(stop.Edits) != tt.wantEdits[i] {
					t.Errorf("stop %d has %d edits, want %d", i, len(stop.Edits), tt.wantEdits[i])
				}
			}
		})
	}
}

func TestParseText_ErrorNamesLine(t *testing.T) {
	_, err := ParseText(strings.NewReader("# header\nviking-age\n\nbronze-age\n"))
	if err == nil {
		t.Fatal("ParseText() expected error")
	}
	if !strings.Contains(err.Error(), "line 4") {
		t.Errorf("error = %v, want it to name line 4", err)
	}
	if !errors.Is(err, models.ErrUnknownEra) {
		t.Errorf("error = %v, want ErrUnknownEra", err)
	}
}

func TestParseText_TrimsEdits(t *testing.T) {
	stops, err := ParseText(strings.NewReader("Viking Age |  add snow  |make it dusk"))
	if err != nil {
		t.Fatalf("ParseText() error = %v", err)
	}
	if stops[0].Era != models.EraVikingAge {
		t.Errorf("Era = %v, want Viking Age", stops[0].Era)
	}
	want := []string{"add snow", "make it dusk"}
	for i, edit := range stops[0].Edits {
		if edit != want[i] {
			t.Errorf("Edits[%d] = %q, want %q", i, edit, want[i])
		}
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "valid array",
			input: `[{"era": "viking-age"}, {"era": "Renaissance", "edits": ["add a lute"]}]`,
			want:  2,
		},
		{
			name:    "empty array",
			input:   `[]`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			input:   `{invalid}`,
			wantErr: true,
		},
		{
			name:    "unknown era",
			input:   `[{"era": "stone-age"}]`,
			wantErr: true,
		},
		{
			name:    "blank edit",
			input:   `[{"era": "viking-age", "edits": ["  "]}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stops, err := ParseJSON(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(stops) != tt.want {
				t.Errorf("ParseJSON() got %d stops, want %d", len(stops), tt.want)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"plan.txt":  "viking-age\nrenaissance | add a lute",
		"plan.tour": "samurai-japan",
		"plan.json": `[{"era": "roaring-20s", "edits": ["add confetti"]}]`,
		"plan.csv":  "viking-age",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		file    string
		want    int
		wantErr bool
	}{
		{"plan.txt", 2, false},
		{"plan.tour", 1, false},
		{"plan.json", 1, false},
		{"plan.csv", 0, true},
		{"missing.txt", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			stops, err := ParseFile(filepath.Join(dir, tt.file))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFile() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(stops) != tt.want {
				t.Errorf("ParseFile() got %d stops, want %d", len(stops), tt.want)
			}
		})
	}
}

func TestProcessorRun(t *testing.T) {
	adapters := &fakeAdapters{}
	p, ctrl, out, _ := newTestProcessor(adapters)
	dir := t.TempDir()

	stops := []Stop{
		{Index: 1, Era: models.EraVikingAge, Edits: []string{"add snow", "make it dusk"}},
		{Index: 2, Era: models.EraRenaissance},
	}

	results, err := p.Run(context.Background(), testPhoto, stops, &Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Run() got %d results, want 2", len(results))
	}

	wantPaths := []string{
		filepath.Join(dir, "001-viking-age.png"),
		filepath.Join(dir, "002-renaissance.png"),
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("result %d error = %v", i, r.Error)
		}
		if r.Path != wantPaths[i] {
			t.Errorf("result %d Path = %q, want %q", i, r.Path, wantPaths[i])
		}
		data, err := os.ReadFile(r.Path)
		if err != nil {
			t.Errorf("ReadFile(%s) error = %v", r.Path, err)
		} else if string(data) != "scene" {
			t.Errorf("saved %q, want scene", data)
		}
	}
	if results[0].Applied != 2 {
		t.Errorf("Applied = %d, want 2", results[0].Applied)
	}

	if adapters.analyzed != 1 {
		t.Errorf("Analyze called %d times, want 1", adapters.analyzed)
	}
	if len(adapters.edits) != 2 {
		t.Errorf("EditScene called %d times, want 2", len(adapters.edits))
	}

	snap := ctrl.Snapshot()
	if snap.State != session.StateViewing {
		t.Errorf("final state = %v, want viewing", snap.State)
	}
	if len(snap.History) != 4 {
		t.Errorf("history has %d entries, want 4", len(snap.History))
	}
	if !strings.Contains(out.String(), "[2/2] Traveling to Renaissance") {
		t.Errorf("output missing progress line:\n%s", out.String())
	}
}

func TestProcessorRun_ReusesAnalysedPhoto(t *testing.T) {
	adapters := &fakeAdapters{}
	p, ctrl, _, _ := newTestProcessor(adapters)

	if err := ctrl.SubmitPhoto(context.Background(), testPhoto); err != nil {
		t.Fatal(err)
	}
	_, err := p.Run(context.Background(), "", []Stop{{Index: 1, Era: models.EraSamuraiJapan}}, &Options{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if adapters.analyzed != 1 {
		t.Errorf("Analyze called %d times, want 1", adapters.analyzed)
	}
}

func TestProcessorRun_AnalysisFailure(t *testing.T) {
	adapters := &fakeAdapters{analyzeErr: errors.New("no face")}
	p, _, _, _ := newTestProcessor(adapters)

	results, err := p.Run(context.Background(), testPhoto, []Stop{{Index: 1, Era: models.EraVikingAge}}, &Options{OutputDir: t.TempDir()})
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if len(results) != 0 {
		t.Errorf("Run() got %d results, want 0", len(results))
	}
	if len(adapters.generated) != 0 {
		t.Errorf("GenerateScene called after failed analysis")
	}
}

func TestProcessorRun_WithErrors(t *testing.T) {
	stops := []Stop{
		{Index: 1, Era: models.EraVikingAge},
		{Index: 2, Era: models.EraRenaissance},
		{Index: 3, Era: models.EraRoaring20s},
	}

	t.Run("continue on error", func(t *testing.T) {
		adapters := &fakeAdapters{failEra: models.EraRenaissance}
		p, _, _, errOut := newTestProcessor(adapters)

		results, err := p.Run(context.Background(), testPhoto, stops, &Options{OutputDir: t.TempDir()})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("got %d results, want 3", len(results))
		}
		if results[1].Error == nil {
			t.Error("stop 2 should have failed")
		}
		if results[0].Error != nil || results[2].Error != nil {
			t.Errorf("unexpected errors: %v, %v", results[0].Error, results[2].Error)
		}
		if !strings.Contains(errOut.String(), "generation failed") {
			t.Errorf("error output = %q", errOut.String())
		}
	})

	t.Run("stop on error", func(t *testing.T) {
		adapters := &fakeAdapters{failEra: models.EraRenaissance}
		p, _, _, _ := newTestProcessor(adapters)

		results, err := p.Run(context.Background(), testPhoto, stops, &Options{OutputDir: t.TempDir(), StopOnError: true})
		if err == nil {
			t.Fatal("Run() expected error")
		}
		if len(results) != 2 {
			t.Errorf("got %d results, want 2", len(results))
		}
		if len(adapters.generated) != 2 {
			t.Errorf("generated %d scenes, want 2", len(adapters.generated))
		}
	})

	t.Run("failed edit", func(t *testing.T) {
		adapters := &fakeAdapters{editErr: errors.New("bad edit")}
		p, _, _, _ := newTestProcessor(adapters)

		results, err := p.Run(context.Background(), testPhoto,
			[]Stop{{Index: 1, Era: models.EraVikingAge, Edits: []string{"add snow", "add wolves"}}},
			&Options{OutputDir: t.TempDir()})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if results[0].Error == nil || results[0].Applied != 0 {
			t.Errorf("result = %+v, want failed edit with nothing applied", results[0])
		}
		if results[0].Path != "" {
			t.Errorf("Path = %q, want nothing saved", results[0].Path)
		}
	})
}

func TestProcessorRun_ContextCancellation(t *testing.T) {
	adapters := &fakeAdapters{}
	p, ctrl, _, _ := newTestProcessor(adapters)

	if err := ctrl.SubmitPhoto(context.Background(), testPhoto); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, testPhoto, []Stop{{Index: 1, Era: models.EraVikingAge}}, &Options{OutputDir: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(adapters.generated) != 0 {
		t.Error("GenerateScene called after cancellation")
	}
}

func TestProcessorRun_Delay(t *testing.T) {
	adapters := &fakeAdapters{}
	p, _, _, _ := newTestProcessor(adapters)

	stops := []Stop{{Index: 1, Era: models.EraVikingAge}, {Index: 2, Era: models.EraRenaissance}}
	results, err := p.Run(context.Background(), testPhoto, stops, &Options{OutputDir: t.TempDir(), DelayMs: 10})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestPrintSummary(t *testing.T) {
	p, _, out, _ := newTestProcessor(&fakeAdapters{})

	results := []Result{
		{Index: 1, Era: models.EraVikingAge, Path: "001-viking-age.png"},
		{Index: 2, Era: models.EraRenaissance, Error: errors.New("model refused")},
	}
	summary := &usage.Summary{Total: usage.OperationSummary{Calls: 3, CostUSD: 0.0812}}

	p.PrintSummary(results, summary)

	got := out.String()
	for _, want := range []string{
		"Successful: 1/2 eras",
		"Failed: 1",
		"API calls: 3, estimated cost: $0.0812",
		"[2] Renaissance: model refused",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestPrintSummary_NoUsage(t *testing.T) {
	p, _, out, _ := newTestProcessor(&fakeAdapters{})

	p.PrintSummary([]Result{{Index: 1, Era: models.EraVikingAge}}, nil)

	if strings.Contains(out.String(), "API calls") {
		t.Errorf("summary should omit usage:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Errors:") {
		t.Errorf("summary should omit errors:\n%s", out.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a longer string", 10, "this is..."},
		{"añadir nieve al barco", 10, "añadir ..."},
		{"🎺🎷🎸🎹🥁🎻", 5, "🎺🎷..."},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.input, tt.maxLen)
		}
	}
}
