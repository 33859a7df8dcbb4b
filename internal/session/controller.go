// Package session owns the photo-to-scene workflow: the state machine, the
// busy guard around adapter calls and the versioned history of generated
// images.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manash/timebooth/internal/provider"
	"github.com/manash/timebooth/pkg/models"
)

var (
	ErrBusy              = errors.New("another operation is in progress")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrEmptyInstruction  = models.ErrEmptyInstruction
	ErrUnknownPreset     = models.ErrUnknownPreset
)

// Adapters is what the controller needs from an image service.
type Adapters interface {
	provider.Analyzer
	provider.SceneGenerator
	provider.SceneEditor
}

type Controller struct {
	adapters Adapters
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	state    State
	busy     bool
	status   string
	lastErr  string
	photo    string
	analysis *models.AnalysisResult
	current  *models.GeneratedImage
	history  *History
	lastTS   time.Time

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	// deliverMu orders notifications: each one snapshots and delivers while
	// holding it, so the last snapshot delivered is never older than the
	// last change.
	deliverMu sync.Mutex
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) { c.newID = gen }
}

func NewController(adapters Adapters, opts ...Option) *Controller {
	c := &Controller{
		adapters: adapters,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		history:  NewHistory(),
		subs:     make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// begin claims the busy flag for op. check runs under the lock after the busy
// and state guards and may reject the call or copy inputs out of the session.
func (c *Controller) begin(op string, from State, status string, check func() error) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != from {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, state)
	}
	if check != nil {
		if err := check(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.busy = true
	c.status = status
	c.lastErr = ""
	c.mu.Unlock()

	c.logger.Info("operation started", slog.String("op", op), slog.String("state", from.String()))
	c.notify()
	return nil
}

// finish releases the busy flag and applies commit when the adapter call
// succeeded. A failed call leaves the session exactly as it was.
func (c *Controller) finish(op string, err error, commit func()) {
	c.mu.Lock()
	c.busy = false
	c.status = ""
	if err != nil {
		c.lastErr = err.Error()
	} else {
		commit()
	}
	state := c.state
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("operation failed", slog.String("op", op), slog.String("state", state.String()), slog.Any("error", err))
	} else {
		c.logger.Info("operation finished", slog.String("op", op), slog.String("state", state.String()))
	}
	c.notify()
}

// SubmitPhoto analyses photo, a data URI, and moves to era selection.
func (c *Controller) SubmitPhoto(ctx context.Context, photo string) error {
	if strings.TrimSpace(photo) == "" {
		return models.ErrNoImageData
	}
	if err := c.begin("submit_photo", StateIdle, statusAnalyzing(), nil); err != nil {
		return err
	}

	analysis, err := c.adapters.Analyze(ctx, photo)
	if err == nil {
		err = analysis.Validate()
	}
	err = classify(err, provider.ErrAnalysis)

	c.finish("submit_photo", err, func() {
		c.photo = photo
		c.analysis = &analysis
		c.state = StateAwaitingEraChoice
	})
	return err
}

func (c *Controller) ChooseEra(ctx context.Context, era models.Era) error {
	var analysis models.AnalysisResult
	check := func() error {
		if !era.IsValid() {
			return fmt.Errorf("%w: %q", models.ErrUnknownEra, era)
		}
		if c.analysis == nil {
			return fmt.Errorf("%w: choose_era without analysis", ErrInvalidTransition)
		}
		analysis = *c.analysis
		return nil
	}
	if err := c.begin("choose_era", StateAwaitingEraChoice, statusTraveling(era), check); err != nil {
		return err
	}

	handle, err := c.adapters.GenerateScene(ctx, analysis, era)
	err = classify(err, provider.ErrGeneration)

	c.finish("choose_era", err, func() {
		img := models.GeneratedImage{
			ID:        c.newID(),
			Operation: models.OperationGenerate,
			URL:       handle,
			Era:       era,
			Prompt:    models.GeneratedPrompt(era),
			Timestamp: c.stamp(),
		}
		c.history.Add(img)
		c.current = &img
		c.state = StateViewing
	})
	return err
}

// EditImage refines the current image. A blank instruction does nothing and
// returns ErrEmptyInstruction.
func (c *Controller) EditImage(ctx context.Context, instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return ErrEmptyInstruction
	}

	var parent models.GeneratedImage
	check := func() error {
		if c.current == nil {
			return fmt.Errorf("%w: edit without current image", ErrInvalidTransition)
		}
		parent = *c.current
		return nil
	}
	if err := c.begin("edit", StateViewing, statusEditing(), check); err != nil {
		return err
	}

	handle, err := c.adapters.EditScene(ctx, parent.URL, instruction)
	err = classify(err, provider.ErrEdit)

	c.finish("edit", err, func() {
		img := models.GeneratedImage{
			ID:        c.newID(),
			ParentID:  parent.ID,
			Operation: models.OperationEdit,
			URL:       handle,
			Era:       parent.Era,
			Prompt:    instruction,
			Timestamp: c.stamp(),
		}
		c.history.Add(img)
		c.current = &img
	})
	return err
}

// ApplyPreset runs the edit prompt of a quick-filter preset.
func (c *Controller) ApplyPreset(ctx context.Context, presetID string) error {
	preset, err := models.PresetByID(presetID)
	if err != nil {
		return err
	}
	return c.EditImage(ctx, preset.Prompt)
}

// GoBackToEraChoice leaves the current scene but keeps the analysis and
// history so another era can be tried.
func (c *Controller) GoBackToEraChoice() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != StateViewing {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: go_back from %s", ErrInvalidTransition, state)
	}
	c.current = nil
	c.lastErr = ""
	c.state = StateAwaitingEraChoice
	c.mu.Unlock()

	c.logger.Info("returned to era choice")
	c.notify()
	return nil
}

// Reset discards the photo, analysis, current image and history.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	from := c.state
	c.state = StateIdle
	c.photo = ""
	c.analysis = nil
	c.current = nil
	c.lastErr = ""
	c.history = NewHistory()
	c.mu.Unlock()

	c.logger.Info("session reset", slog.String("from", from.String()))
	c.notify()
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    c.state,
		Busy:     c.busy,
		Status:   c.status,
		Error:    c.lastErr,
		HasPhoto: c.photo != "",
		History:  c.history.Entries(),
		Versions: []models.GeneratedImage{},
	}
	if c.analysis != nil {
		a := *c.analysis
		snap.Analysis = &a
	}
	if c.current != nil {
		cur := *c.current
		snap.Current = &cur
		snap.Versions = c.history.Versions(cur.Era)
	}
	return snap
}

// History returns a copy of the session history.
func (c *Controller) History() *History {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Clone()
}

// Photo returns the submitted photo data URI, if any.
func (c *Controller) Photo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.photo
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change, one call at a time, and must not
// block or call back into the controller's triggers.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) notify() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.subMu.Lock()
	if len(c.subs) == 0 {
		c.subMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	snap := c.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// stamp returns a creation time strictly after every earlier one, even when
// the clock stalls or steps back. Callers hold c.mu.
func (c *Controller) stamp() time.Time {
	t := c.now()
	if !t.After(c.lastTS) {
		t = c.lastTS.Add(time.Nanosecond)
	}
	c.lastTS = t
	return t
}

// classify makes sure an adapter failure carries its category.
func classify(err, kind error) error {
	if err == nil || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
