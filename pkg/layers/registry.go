// Package layers owns the stack of renderable volume layers and keeps it
// synchronized with the rendering engine's volume list. It is the single
// source of truth for layer metadata, display order, and the mapping from
// layers to engine volume indices.
package layers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gazevol/pkg/engine"
	"gazevol/pkg/events"
)

var (
	// ErrDuplicateLayerID is returned by AddLayer when the id is already
	// tracked by the registry.
	ErrDuplicateLayerID = errors.New("duplicate layer id")

	// ErrInvalidDescriptor is returned by AddLayer when required
	// descriptor fields are missing.
	ErrInvalidDescriptor = errors.New("invalid layer descriptor")

	// ErrInvalidReorder is returned by ReorderLayers when the new order is
	// not a permutation of the current layer ids.
	ErrInvalidReorder = errors.New("invalid reorder")
)

// AddLayerError wraps an engine load failure during AddLayer. It carries
// the id of the layer that could not be added; the underlying cause is
// available through errors.Unwrap.
type AddLayerError struct {
	ID  string
	Err error
}

func (e *AddLayerError) Error() string {
	return fmt.Sprintf("add layer %q: %v", e.ID, e.Err)
}

func (e *AddLayerError) Unwrap() error { return e.Err }

// DefaultColormap is the built-in fallback for descriptors that leave
// Colormap empty. Registries can override it with SetDescriptorDefaults.
const DefaultColormap = "gray"

// Layer is one renderable volume layer. Layers are owned by the Registry;
// the values returned from its accessors are snapshots.
type Layer struct {
	// ID uniquely identifies the layer within its registry.
	ID string

	// Name is the display string shown in layer lists.
	Name string

	// EngineIndex is the position of this layer's volume inside the
	// rendering engine's volume list. It shifts down whenever an
	// earlier-indexed layer is removed.
	EngineIndex int

	// Colormap, Opacity and Visible are the display settings mirrored
	// into the engine volume handle.
	Colormap string
	Opacity  float64
	Visible  bool

	// SourceURL locates the underlying volume data.
	SourceURL string

	// AddedAt is when the layer was created. Immutable.
	AddedAt time.Time
}

// Descriptor describes a layer to add. ID and SourceURL are required.
// Use NewDescriptor for the conventional defaults (gray colormap, full
// opacity, visible).
type Descriptor struct {
	ID        string
	Name      string
	SourceURL string
	Colormap  string
	Opacity   float64
	Visible   bool
}

// NewDescriptor builds a descriptor with default display settings.
func NewDescriptor(id, sourceURL string) Descriptor {
	return Descriptor{
		ID:        id,
		Name:      id,
		SourceURL: sourceURL,
		Colormap:  DefaultColormap,
		Opacity:   1,
		Visible:   true,
	}
}

// Update is a partial change to a layer's display settings. Nil fields are
// left untouched.
type Update struct {
	Opacity  *float64
	Colormap *string
	Visible  *bool
}

// Registry tracks layers and mediates all add/remove/update/reorder
// traffic to the rendering engine. Safe for concurrent use; all engine
// traffic is serialized so indices stay predictable when callers overlap.
type Registry struct {
	eng     engine.Engine
	emitter *events.Emitter
	log     *slog.Logger

	// engMu serializes every operation that touches the engine volume
	// list. AddLayer snapshots the current volumes to build its load
	// request; a remove, update or clear slipping in between the
	// snapshot and the load would be silently undone when the stale
	// list resolves.
	engMu sync.Mutex

	mu              sync.Mutex
	layers          map[string]*Layer
	order           []string // display order, what shortcuts and iteration use
	defaultColormap string
	defaultOpacity  float64
}

// NewRegistry creates a registry bound to the given engine. Events are
// emitted on the provided emitter; logger may be nil for silence.
func NewRegistry(eng engine.Engine, emitter *events.Emitter, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		eng:             eng,
		emitter:         emitter,
		log:             log,
		layers:          make(map[string]*Layer),
		defaultColormap: DefaultColormap,
		defaultOpacity:  1,
	}
}

// SetDescriptorDefaults overrides the display settings NewDescriptor and
// AddLayer fall back to when a descriptor omits them. An empty colormap
// or a non-positive opacity keeps the current value.
func (r *Registry) SetDescriptorDefaults(colormap string, opacity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if colormap != "" {
		r.defaultColormap = colormap
	}
	if opacity > 0 {
		r.defaultOpacity = opacity
	}
}

// NewDescriptor builds a descriptor with this registry's default display
// settings. The package-level NewDescriptor uses the built-in defaults.
func (r *Registry) NewDescriptor(id, sourceURL string) Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	desc := NewDescriptor(id, sourceURL)
	desc.Colormap = r.defaultColormap
	desc.Opacity = r.defaultOpacity
	return desc
}

// AddLayer loads the descriptor's volume into the engine and begins
// tracking it as a layer. The new layer's engine index is the engine's
// volume count before the load.
//
// On engine failure the registry is left exactly as before the call: no
// layer is recorded, and an "error" event tagged AddLayerFailed is emitted
// in addition to the returned error.
func (r *Registry) AddLayer(ctx context.Context, desc Descriptor) error {
	if desc.ID == "" || desc.SourceURL == "" {
		return fmt.Errorf("%w: id and sourceUrl are required", ErrInvalidDescriptor)
	}

	r.engMu.Lock()
	defer r.engMu.Unlock()

	r.mu.Lock()
	if _, ok := r.layers[desc.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateLayerID, desc.ID)
	}
	if desc.Colormap == "" {
		desc.Colormap = r.defaultColormap
	}
	r.mu.Unlock()

	// Replace-the-whole-list load: current volumes plus the new one.
	current := r.eng.Volumes()
	specs := make([]engine.VolumeSpec, 0, len(current)+1)
	for _, v := range current {
		specs = append(specs, engine.VolumeSpec{
			URL:      v.URL,
			Colormap: v.Colormap,
			Opacity:  v.Opacity,
			Visible:  v.Visible,
		})
	}
	engineIndex := len(current)
	specs = append(specs, engine.VolumeSpec{
		URL:      desc.SourceURL,
		Colormap: desc.Colormap,
		Opacity:  desc.Opacity,
		Visible:  desc.Visible,
	})

	if err := r.eng.LoadVolumeList(ctx, specs); err != nil {
		wrapped := &AddLayerError{ID: desc.ID, Err: err}
		r.emitter.Emit(events.Error, events.ErrorPayload{
			Kind:    "AddLayerFailed",
			LayerID: desc.ID,
			Message: wrapped.Error(),
		})
		return wrapped
	}

	layer := &Layer{
		ID:          desc.ID,
		Name:        desc.Name,
		EngineIndex: engineIndex,
		Colormap:    desc.Colormap,
		Opacity:     desc.Opacity,
		Visible:     desc.Visible,
		SourceURL:   desc.SourceURL,
		AddedAt:     time.Now(),
	}

	r.mu.Lock()
	r.layers[desc.ID] = layer
	r.order = append(r.order, desc.ID)
	snapshot := *layer
	r.mu.Unlock()

	r.emitter.Emit(events.LayerAdded, snapshot)
	return nil
}

// RemoveLayer releases a layer and its engine volume. Removing an unknown
// id is an idempotent no-op with a logged warning; double-remove races
// from UI input are expected and must not fail.
//
// Every remaining layer whose engine index was above the removed one is
// shifted down so indices stay a contiguous run starting at zero.
func (r *Registry) RemoveLayer(id string) error {
	r.engMu.Lock()
	defer r.engMu.Unlock()

	r.mu.Lock()
	layer, ok := r.layers[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("remove of unknown layer ignored", "id", id)
		return nil
	}

	removed := layer.EngineIndex
	if err := r.eng.RemoveVolumeByIndex(removed); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("remove layer %q: %w", id, err)
	}

	delete(r.layers, id)
	for _, l := range r.layers {
		if l.EngineIndex > removed {
			l.EngineIndex--
		}
	}
	for n, ordered := range r.order {
		if ordered == id {
			r.order = append(r.order[:n], r.order[n+1:]...)
			break
		}
	}
	snapshot := *layer
	r.mu.Unlock()

	r.emitter.Emit(events.LayerRemoved, snapshot)
	return nil
}

// UpdateLayer applies a partial display-settings change to a layer and its
// engine volume, then redraws. Unknown ids are a logged no-op.
func (r *Registry) UpdateLayer(id string, update Update) error {
	r.engMu.Lock()
	defer r.engMu.Unlock()

	r.mu.Lock()
	layer, ok := r.layers[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("update of unknown layer ignored", "id", id)
		return nil
	}

	if update.Opacity != nil {
		layer.Opacity = *update.Opacity
	}
	if update.Colormap != nil {
		layer.Colormap = *update.Colormap
	}
	if update.Visible != nil {
		layer.Visible = *update.Visible
	}

	volumes := r.eng.Volumes()
	if layer.EngineIndex >= 0 && layer.EngineIndex < len(volumes) {
		vol := volumes[layer.EngineIndex]
		vol.Opacity = layer.Opacity
		vol.Colormap = layer.Colormap
		vol.Visible = layer.Visible
	}
	snapshot := *layer
	r.mu.Unlock()

	r.eng.Draw()
	r.emitter.Emit(events.LayerUpdated, snapshot)
	return nil
}

// ToggleLayerByIndex flips the visibility of the layer at the given
// 1-based position in the display order. Out-of-range positions are
// silently ignored: number keys beyond the layer count should do nothing.
func (r *Registry) ToggleLayerByIndex(position int) {
	r.mu.Lock()
	if position < 1 || position > len(r.order) {
		r.mu.Unlock()
		return
	}
	id := r.order[position-1]
	visible := !r.layers[id].Visible
	r.mu.Unlock()

	r.UpdateLayer(id, Update{Visible: &visible})
}

// ReorderLayers replaces the display order. The new order must contain
// exactly the current layer ids; otherwise ErrInvalidReorder is returned
// and the order is untouched. Engine indices never change here; display
// order and engine bookkeeping are deliberately independent.
func (r *Registry) ReorderLayers(newOrder []string) error {
	r.mu.Lock()
	if len(newOrder) != len(r.order) {
		r.mu.Unlock()
		return fmt.Errorf("%w: got %d ids, have %d layers", ErrInvalidReorder, len(newOrder), len(r.order))
	}
	seen := make(map[string]bool, len(newOrder))
	for _, id := range newOrder {
		if _, ok := r.layers[id]; !ok || seen[id] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q is not a current layer id (or repeats)", ErrInvalidReorder, id)
		}
		seen[id] = true
	}
	r.order = append(r.order[:0:0], newOrder...)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.emitter.Emit(events.LayersReordered, snapshot)
	return nil
}

// Layer returns a snapshot of the layer with the given id.
func (r *Registry) Layer(id string) (Layer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.layers[id]
	if !ok {
		return Layer{}, false
	}
	return *l, true
}

// GetAllLayers returns snapshots of all layers in display order. Mutating
// the result does not affect the registry.
func (r *Registry) GetAllLayers() []Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Layer {
	out := make([]Layer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.layers[id])
	}
	return out
}

// Count returns the number of tracked layers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.layers)
}

// ClearAllLayers empties the engine volume list and drops all layer state.
func (r *Registry) ClearAllLayers(ctx context.Context) error {
	r.engMu.Lock()
	defer r.engMu.Unlock()

	r.mu.Lock()
	if err := r.eng.LoadVolumeList(ctx, nil); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("clear layers: %w", err)
	}
	r.layers = make(map[string]*Layer)
	r.order = nil
	r.mu.Unlock()

	r.emitter.Emit(events.AllLayersCleared, nil)
	return nil
}
