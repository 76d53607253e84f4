// Package viewer provides the top-level coordination façade over the
// rendering engine: lifecycle management, view-state snapshots and
// restores, and keyboard-shortcut dispatch into layer operations.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"gazevol/internal/models"
	"gazevol/pkg/config"
	"gazevol/pkg/engine"
	"gazevol/pkg/events"
	"gazevol/pkg/layers"
)

var (
	// ErrInitFailed is returned when the coordinator could not attach to
	// the rendering engine.
	ErrInitFailed = errors.New("viewer initialization failed")

	// ErrNotReady is returned for operations on a coordinator that never
	// finished initializing.
	ErrNotReady = errors.New("viewer not ready")

	// ErrAlreadyDestroyed is returned for operations after Destroy.
	ErrAlreadyDestroyed = errors.New("viewer already destroyed")
)

// State is the coordinator lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateError
	StateDestroyed
)

// ViewState is a snapshot of the engine's camera and navigation state,
// suitable for handing to a persistence layer and restoring later.
type ViewState struct {
	Azimuth   float64
	Elevation float64
	Scale     float64
	ClipPlane [4]float64
	SliceType models.SliceType
	Crosshair [3]float64
}

// ViewStatePatch is a partial view state. Nil fields are left untouched on
// apply, so an incremental restore can set just the camera angles, or just
// the slice mode, without disturbing the rest.
type ViewStatePatch struct {
	Azimuth   *float64
	Elevation *float64
	Scale     *float64
	ClipPlane *[4]float64
	SliceType *models.SliceType
	Crosshair *[3]float64
}

// PatchFrom converts a full view state into a patch that applies all of it.
func PatchFrom(vs ViewState) ViewStatePatch {
	return ViewStatePatch{
		Azimuth:   &vs.Azimuth,
		Elevation: &vs.Elevation,
		Scale:     &vs.Scale,
		ClipPlane: &vs.ClipPlane,
		SliceType: &vs.SliceType,
		Crosshair: &vs.Crosshair,
	}
}

// Options configures a Coordinator.
type Options struct {
	// Logger receives warnings and lifecycle diagnostics. Nil means
	// silent.
	Logger *slog.Logger

	// ZoomFactor is the scale multiplier applied per zoom keypress.
	// Non-positive selects the built-in 1.1.
	ZoomFactor float64

	// OpacityStep is the opacity change applied per bracket keypress.
	// Non-positive selects the built-in 0.1.
	OpacityStep float64

	// DefaultColormap and DefaultOpacity seed the layer registry's
	// descriptor defaults. An empty colormap or non-positive opacity
	// keeps the registry's built-ins.
	DefaultColormap string
	DefaultOpacity  float64
}

// OptionsFromConfig maps the viewer section of a configuration file onto
// coordinator options. The logger is left nil; set it separately.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ZoomFactor:      cfg.Viewer.ZoomFactor,
		OpacityStep:     cfg.Viewer.OpacityStep,
		DefaultColormap: cfg.Viewer.DefaultColormap,
		DefaultOpacity:  cfg.Viewer.DefaultOpacity,
	}
}

// Coordinator is the top-level viewer façade. It owns the rendering-engine
// handle and wires the layer registry and shortcut dispatcher to it.
//
// A coordinator is constructed ready or not at all: New returns an error
// (and a nil coordinator) when the engine attach fails.
type Coordinator struct {
	eng      engine.Engine
	emitter  *events.Emitter
	registry *layers.Registry
	shortcut *Dispatcher
	log      *slog.Logger

	mu    sync.Mutex
	state State
}

// New attaches to the rendering engine and builds the viewer core. The
// engine must provide a live scene; without one the viewer cannot be
// driven and New fails with ErrInitFailed. Initialization failure is
// terminal: it is never retried, and no coordinator is returned.
func New(eng engine.Engine, opts Options) (*Coordinator, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Coordinator{
		eng:     eng,
		emitter: events.NewEmitter(),
		log:     log,
		state:   StateInitializing,
	}

	if eng == nil || eng.Scene() == nil {
		c.state = StateError
		c.emitter.Emit(events.Error, events.ErrorPayload{
			Kind:    "InitFailed",
			Message: "rendering engine unavailable",
		})
		return nil, fmt.Errorf("%w: rendering engine unavailable", ErrInitFailed)
	}

	c.registry = layers.NewRegistry(eng, c.emitter, log)
	c.registry.SetDescriptorDefaults(opts.DefaultColormap, opts.DefaultOpacity)
	c.shortcut = newDispatcher(c, opts.ZoomFactor, opts.OpacityStep)
	eng.SetOnImageLoaded(func() {
		c.log.Debug("engine image loaded")
	})

	c.state = StateReady
	c.emitter.Emit(events.Ready, nil)
	return c, nil
}

// Events exposes the coordinator's emitter for subscription.
func (c *Coordinator) Events() *events.Emitter { return c.emitter }

// Layers exposes the layer registry.
func (c *Coordinator) Layers() *layers.Registry { return c.registry }

// Shortcuts exposes the shortcut dispatcher.
func (c *Coordinator) Shortcuts() *Dispatcher { return c.shortcut }

// State reports the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) checkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		return nil
	case StateDestroyed:
		return ErrAlreadyDestroyed
	default:
		return ErrNotReady
	}
}

// AddLayer adds a layer through the registry, bracketing the engine load
// with loading events so the UI can show progress.
func (c *Coordinator) AddLayer(ctx context.Context, desc layers.Descriptor) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	c.emitter.Emit(events.Loading, events.LoadingPayload{
		Message: fmt.Sprintf("Loading layer %s...", desc.Name),
		Active:  true,
	})
	err := c.registry.AddLayer(ctx, desc)
	c.emitter.Emit(events.Loading, events.LoadingPayload{Active: false})
	return err
}

// RemoveLayer removes a layer through the registry.
func (c *Coordinator) RemoveLayer(id string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	c.emitter.Emit(events.Loading, events.LoadingPayload{
		Message: fmt.Sprintf("Removing layer %s...", id),
		Active:  true,
	})
	err := c.registry.RemoveLayer(id)
	c.emitter.Emit(events.Loading, events.LoadingPayload{Active: false})
	return err
}

// UpdateLayer applies a partial display-settings change to a layer.
func (c *Coordinator) UpdateLayer(id string, update layers.Update) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	c.emitter.Emit(events.Loading, events.LoadingPayload{
		Message: fmt.Sprintf("Updating layer %s...", id),
		Active:  true,
	})
	err := c.registry.UpdateLayer(id, update)
	c.emitter.Emit(events.Loading, events.LoadingPayload{Active: false})
	return err
}

// ToggleLayerByIndex flips visibility of the layer at the 1-based display
// position.
func (c *Coordinator) ToggleLayerByIndex(position int) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	c.emitter.Emit(events.Loading, events.LoadingPayload{
		Message: fmt.Sprintf("Toggling layer %d...", position),
		Active:  true,
	})
	c.registry.ToggleLayerByIndex(position)
	c.emitter.Emit(events.Loading, events.LoadingPayload{Active: false})
	return nil
}

// GetViewState snapshots the engine's live scene. Nothing is cached; two
// calls bracketing a camera move observe the move.
func (c *Coordinator) GetViewState() (ViewState, error) {
	if err := c.checkReady(); err != nil {
		return ViewState{}, err
	}
	s := c.eng.Scene()
	return ViewState{
		Azimuth:   s.Azimuth,
		Elevation: s.Elevation,
		Scale:     s.Scale,
		ClipPlane: s.ClipPlane,
		SliceType: s.SliceType,
		Crosshair: s.Crosshair,
	}, nil
}

// SetViewState applies the patch's present fields to the engine scene and
// triggers a single redraw. Applying a patch built from GetViewState is
// idempotent: nothing observable changes beyond the redraw.
//
// A patch carrying a non-positive scale is rejected whole; the scene is
// left untouched.
func (c *Coordinator) SetViewState(patch ViewStatePatch) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	if patch.Scale != nil && *patch.Scale <= 0 {
		return fmt.Errorf("set view state: scale must be positive, got %g", *patch.Scale)
	}
	s := c.eng.Scene()
	if patch.Azimuth != nil {
		s.Azimuth = *patch.Azimuth
	}
	if patch.Elevation != nil {
		s.Elevation = *patch.Elevation
	}
	if patch.Scale != nil {
		s.Scale = *patch.Scale
	}
	if patch.ClipPlane != nil {
		s.ClipPlane = *patch.ClipPlane
	}
	if patch.SliceType != nil {
		s.SliceType = *patch.SliceType
	}
	if patch.Crosshair != nil {
		s.Crosshair = *patch.Crosshair
	}
	c.eng.Draw()
	return nil
}

// ResetView restores the default camera: azimuth 0, elevation 0, scale 1.
func (c *Coordinator) ResetView() error {
	if err := c.checkReady(); err != nil {
		return err
	}
	s := c.eng.Scene()
	s.Azimuth = 0
	s.Elevation = 0
	s.Scale = 1
	c.eng.Draw()
	c.emitter.Emit(events.ViewReset, nil)
	return nil
}

// Destroy tears the viewer down: shortcuts disabled, layers cleared,
// engine callback detached. Destroy is terminal; every later operation
// (including a second Destroy) fails with ErrAlreadyDestroyed.
func (c *Coordinator) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return ErrAlreadyDestroyed
	}
	c.state = StateDestroyed
	c.mu.Unlock()

	c.shortcut.SetEnabled(false)
	if err := c.registry.ClearAllLayers(ctx); err != nil {
		c.log.Warn("clearing layers during destroy failed", "error", err)
	}
	c.eng.SetOnImageLoaded(nil)
	return nil
}
