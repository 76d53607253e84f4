package viewer

import (
	"strconv"
	"sync"

	"gazevol/internal/models"
	"gazevol/pkg/events"
	"gazevol/pkg/layers"
)

// Key identifiers accepted by the dispatcher. Digit keys "1".."9" toggle
// layers by display position and are handled separately.
const (
	KeyResetView    = "r"
	KeyModeAxial    = "a"
	KeyModeCoronal  = "c"
	KeyModeSagittal = "s"
	KeyModeRender3D = "v"
	KeyZoomIn       = "+"
	KeyZoomInAlt    = "="
	KeyZoomOut      = "-"
	KeyOpacityDown  = "["
	KeyOpacityUp    = "]"
	KeyArrowLeft    = "ArrowLeft"
	KeyArrowRight   = "ArrowRight"
	KeyArrowUp      = "ArrowUp"
	KeyArrowDown    = "ArrowDown"
)

// Built-in values for the tunable shortcut parameters in Options.
const (
	defaultZoomFactor  = 1.1
	defaultOpacityStep = 0.1
)

// Dispatcher translates named key events into viewer and layer operations.
// It keeps no state beyond an enabled flag; every handled key performs
// exactly one operation and emits a "shortcutUsed" event describing it.
type Dispatcher struct {
	coord       *Coordinator
	zoomFactor  float64
	opacityStep float64

	mu      sync.Mutex
	enabled bool
}

func newDispatcher(c *Coordinator, zoomFactor, opacityStep float64) *Dispatcher {
	if zoomFactor <= 0 {
		zoomFactor = defaultZoomFactor
	}
	if opacityStep <= 0 {
		opacityStep = defaultOpacityStep
	}
	return &Dispatcher{
		coord:       c,
		zoomFactor:  zoomFactor,
		opacityStep: opacityStep,
		enabled:     true,
	}
}

// ZoomFactor reports the scale multiplier applied per zoom keypress.
func (d *Dispatcher) ZoomFactor() float64 { return d.zoomFactor }

// OpacityStep reports the opacity change applied per bracket keypress.
func (d *Dispatcher) OpacityStep() float64 { return d.opacityStep }

// SetEnabled turns shortcut handling on or off. While disabled, keys are
// swallowed: nothing runs and nothing is queued for later.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Enabled reports whether shortcut handling is active.
func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *Dispatcher) used(shortcut, action string, context map[string]any) {
	d.coord.emitter.Emit(events.ShortcutUsed, events.ShortcutPayload{
		Shortcut: shortcut,
		Action:   action,
		Context:  context,
	})
}

// HandleKey runs the operation bound to the given key identifier.
// Unbound keys do nothing. Digits toggle the layer at that display
// position; out-of-range digits are a silent no-op, matching the
// registry's toggle semantics.
func (d *Dispatcher) HandleKey(key string) {
	if !d.Enabled() {
		return
	}
	if d.coord.checkReady() != nil {
		return
	}

	if len(key) == 1 && key >= "1" && key <= "9" {
		d.toggleLayer(key)
		return
	}

	switch key {
	case KeyResetView:
		if d.coord.ResetView() == nil {
			d.used(key, "resetView", nil)
		}
	case KeyModeAxial, KeyModeCoronal, KeyModeSagittal, KeyModeRender3D:
		d.setMode(key)
	case KeyZoomIn, KeyZoomInAlt:
		d.zoom(key, d.zoomFactor)
	case KeyZoomOut:
		d.zoom(key, 1/d.zoomFactor)
	case KeyOpacityDown:
		d.adjustOpacity(key, -d.opacityStep)
	case KeyOpacityUp:
		d.adjustOpacity(key, d.opacityStep)
	case KeyArrowLeft:
		d.moveCrosshair(key, 0, -1)
	case KeyArrowRight:
		d.moveCrosshair(key, 0, +1)
	case KeyArrowUp:
		d.moveCrosshair(key, 1, -1)
	case KeyArrowDown:
		d.moveCrosshair(key, 1, +1)
	}
}

func (d *Dispatcher) toggleLayer(key string) {
	position, _ := strconv.Atoi(key)
	if position < 1 || position > d.coord.registry.Count() {
		return
	}
	d.coord.registry.ToggleLayerByIndex(position)
	d.used(key, "toggleLayer", map[string]any{"position": position})
}

func (d *Dispatcher) setMode(key string) {
	var mode models.SliceType
	switch key {
	case KeyModeAxial:
		mode = models.Axial
	case KeyModeCoronal:
		mode = models.Coronal
	case KeyModeSagittal:
		mode = models.Sagittal
	case KeyModeRender3D:
		mode = models.Render3D
	default:
		// Unrecognized mode keys fail silently, no event.
		return
	}
	if d.coord.SetViewState(ViewStatePatch{SliceType: &mode}) == nil {
		d.used(key, "setSliceType", map[string]any{"sliceType": mode.String()})
	}
}

func (d *Dispatcher) zoom(key string, factor float64) {
	s := d.coord.eng.Scene()
	s.Scale *= factor
	d.coord.eng.Draw()
	d.used(key, "zoom", map[string]any{"scale": s.Scale})
}

// adjustOpacity shifts the opacity of the topmost visible layer, the last
// visible entry in display order. With no visible layer it does nothing.
func (d *Dispatcher) adjustOpacity(key string, delta float64) {
	all := d.coord.registry.GetAllLayers()
	for n := len(all) - 1; n >= 0; n-- {
		if !all[n].Visible {
			continue
		}
		opacity := all[n].Opacity + delta
		if opacity < 0 {
			opacity = 0
		}
		if opacity > 1 {
			opacity = 1
		}
		d.coord.registry.UpdateLayer(all[n].ID, layers.Update{Opacity: &opacity})
		d.used(key, "adjustOpacity", map[string]any{"id": all[n].ID, "opacity": opacity})
		return
	}
}

func (d *Dispatcher) moveCrosshair(key string, axis, delta int) {
	s := d.coord.eng.Scene()
	s.Crosshair[axis] += float64(delta)
	if s.Crosshair[axis] < 0 {
		s.Crosshair[axis] = 0
	}
	d.coord.eng.Draw()
	d.used(key, "moveCrosshair", map[string]any{"axis": axis, "delta": delta})
}
