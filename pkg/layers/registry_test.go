package layers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gazevol/pkg/engine"
	"gazevol/pkg/events"
)

// fakeEngine is an in-memory engine.Engine for registry tests.
type fakeEngine struct {
	volumes       []*engine.VolumeHandle
	scene         engine.Scene
	draws         int
	failLoad      bool
	onImageLoaded func()
}

func (e *fakeEngine) LoadVolumeList(_ context.Context, specs []engine.VolumeSpec) error {
	if e.failLoad {
		return errors.New("network error")
	}
	vols := make([]*engine.VolumeHandle, len(specs))
	for n, s := range specs {
		vols[n] = &engine.VolumeHandle{
			URL:      s.URL,
			Colormap: s.Colormap,
			Opacity:  s.Opacity,
			Visible:  s.Visible,
		}
	}
	e.volumes = vols
	if e.onImageLoaded != nil {
		e.onImageLoaded()
	}
	return nil
}

func (e *fakeEngine) RemoveVolumeByIndex(index int) error {
	if index < 0 || index >= len(e.volumes) {
		return fmt.Errorf("no volume at index %d", index)
	}
	e.volumes = append(e.volumes[:index], e.volumes[index+1:]...)
	return nil
}

func (e *fakeEngine) Volumes() []*engine.VolumeHandle { return e.volumes }
func (e *fakeEngine) Scene() *engine.Scene            { return &e.scene }
func (e *fakeEngine) Draw()                           { e.draws++ }
func (e *fakeEngine) SetOnImageLoaded(fn func())      { e.onImageLoaded = fn }

type recorder struct {
	events []events.Event
}

func (r *recorder) record(ev events.Event) { r.events = append(r.events, ev) }

func (r *recorder) types() []events.Type {
	out := make([]events.Type, len(r.events))
	for n, ev := range r.events {
		out[n] = ev.Type
	}
	return out
}

func newTestRegistry() (*Registry, *fakeEngine, *recorder) {
	eng := &fakeEngine{}
	emitter := events.NewEmitter()
	rec := &recorder{}
	emitter.Subscribe(rec.record)
	return NewRegistry(eng, emitter, nil), eng, rec
}

// checkIndexInvariant fails the test unless engine indices are exactly the
// contiguous set {0, ..., count-1}.
func checkIndexInvariant(t *testing.T, r *Registry) {
	t.Helper()
	seen := make(map[int]bool)
	for _, l := range r.GetAllLayers() {
		if seen[l.EngineIndex] {
			t.Fatalf("Duplicate engine index %d", l.EngineIndex)
		}
		seen[l.EngineIndex] = true
	}
	for n := 0; n < r.Count(); n++ {
		if !seen[n] {
			t.Fatalf("Missing engine index %d with %d layers", n, r.Count())
		}
	}
}

// TestAddLayer verifies the basic add path: engine load, index assignment,
// display order, and the layerAdded event.
func TestAddLayer(t *testing.T) {
	r, eng, rec := newTestRegistry()
	ctx := context.Background()

	if err := r.AddLayer(ctx, NewDescriptor("anat", "vol/anat.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}
	if err := r.AddLayer(ctx, NewDescriptor("overlay", "vol/heat.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}

	if len(eng.volumes) != 2 {
		t.Fatalf("Expected 2 engine volumes, got %d", len(eng.volumes))
	}

	all := r.GetAllLayers()
	if all[0].ID != "anat" || all[1].ID != "overlay" {
		t.Errorf("Display order wrong: %v, %v", all[0].ID, all[1].ID)
	}
	if all[0].EngineIndex != 0 || all[1].EngineIndex != 1 {
		t.Errorf("Engine indices wrong: %d, %d", all[0].EngineIndex, all[1].EngineIndex)
	}
	if all[0].Colormap != DefaultColormap || all[0].Opacity != 1 || !all[0].Visible {
		t.Errorf("Defaults not applied: %+v", all[0])
	}
	if all[0].AddedAt.IsZero() {
		t.Error("AddedAt not set")
	}

	want := []events.Type{events.LayerAdded, events.LayerAdded}
	got := rec.types()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Events %v, want %v", got, want)
	}
}

// TestAddLayerValidation verifies required-field and duplicate-id checks.
func TestAddLayerValidation(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	if err := r.AddLayer(ctx, Descriptor{ID: "x"}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Expected ErrInvalidDescriptor without sourceUrl, got %v", err)
	}
	if err := r.AddLayer(ctx, Descriptor{SourceURL: "vol/x.nii.gz"}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Expected ErrInvalidDescriptor without id, got %v", err)
	}

	if err := r.AddLayer(ctx, NewDescriptor("dup", "vol/a.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}
	err := r.AddLayer(ctx, NewDescriptor("dup", "vol/b.nii.gz"))
	if !errors.Is(err, ErrDuplicateLayerID) {
		t.Errorf("Expected ErrDuplicateLayerID, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Duplicate add changed state: %d layers", r.Count())
	}
}

// TestAddLayerEngineFailure verifies that a failed engine load leaves the
// registry exactly as before: no layer, no order entry, and both the error
// return and the error event fire.
func TestAddLayerEngineFailure(t *testing.T) {
	r, eng, rec := newTestRegistry()
	ctx := context.Background()

	if err := r.AddLayer(ctx, NewDescriptor("base", "vol/base.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}
	before := r.GetAllLayers()

	eng.failLoad = true
	err := r.AddLayer(ctx, NewDescriptor("broken", "vol/broken.nii.gz"))
	var addErr *AddLayerError
	if !errors.As(err, &addErr) || addErr.ID != "broken" {
		t.Fatalf("Expected AddLayerError for %q, got %v", "broken", err)
	}

	// Removing the never-added layer is still a no-op.
	eng.failLoad = false
	if err := r.RemoveLayer("broken"); err != nil {
		t.Fatalf("RemoveLayer failed: %v", err)
	}

	after := r.GetAllLayers()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("Registry state changed by failed add: %+v vs %+v", after, before)
	}
	checkIndexInvariant(t, r)

	var errEvent *events.ErrorPayload
	for _, ev := range rec.events {
		if ev.Type == events.Error {
			p := ev.Payload.(events.ErrorPayload)
			errEvent = &p
		}
	}
	if errEvent == nil {
		t.Fatal("No error event emitted")
	}
	if errEvent.Kind != "AddLayerFailed" || errEvent.LayerID != "broken" {
		t.Errorf("Error event %+v", errEvent)
	}
}

// TestRemoveLayerReindexes verifies index compaction after removal from
// the middle of the stack.
func TestRemoveLayerReindexes(t *testing.T) {
	r, eng, _ := newTestRegistry()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := r.AddLayer(ctx, NewDescriptor(id, "vol/"+id+".nii.gz")); err != nil {
			t.Fatalf("AddLayer %s failed: %v", id, err)
		}
	}

	if err := r.RemoveLayer("b"); err != nil {
		t.Fatalf("RemoveLayer failed: %v", err)
	}

	checkIndexInvariant(t, r)
	if len(eng.volumes) != 3 {
		t.Fatalf("Expected 3 engine volumes, got %d", len(eng.volumes))
	}

	a, _ := r.Layer("a")
	c, _ := r.Layer("c")
	d, _ := r.Layer("d")
	if a.EngineIndex != 0 || c.EngineIndex != 1 || d.EngineIndex != 2 {
		t.Errorf("Indices after removal: a=%d c=%d d=%d", a.EngineIndex, c.EngineIndex, d.EngineIndex)
	}

	order := r.GetAllLayers()
	if order[0].ID != "a" || order[1].ID != "c" || order[2].ID != "d" {
		t.Errorf("Display order after removal: %v", order)
	}
}

// TestRemoveUnknownLayerIsNoop verifies idempotent removal.
func TestRemoveUnknownLayerIsNoop(t *testing.T) {
	r, _, rec := newTestRegistry()

	if err := r.RemoveLayer("ghost"); err != nil {
		t.Fatalf("Expected nil for unknown id, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("Unexpected events for unknown remove: %v", rec.types())
	}
}

// TestAddRemoveSequencesKeepInvariant exercises mixed add/remove sequences
// and checks the contiguous-index invariant after every step.
func TestAddRemoveSequencesKeepInvariant(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	steps := []struct {
		op string
		id string
	}{
		{"add", "l1"}, {"add", "l2"}, {"add", "l3"},
		{"rm", "l1"}, {"add", "l4"}, {"rm", "l3"},
		{"add", "l5"}, {"rm", "l2"}, {"rm", "l4"},
		{"add", "l6"}, {"add", "l7"}, {"rm", "l5"},
	}
	for _, step := range steps {
		var err error
		if step.op == "add" {
			err = r.AddLayer(ctx, NewDescriptor(step.id, "vol/"+step.id+".nii.gz"))
		} else {
			err = r.RemoveLayer(step.id)
		}
		if err != nil {
			t.Fatalf("%s %s failed: %v", step.op, step.id, err)
		}
		checkIndexInvariant(t, r)
	}
}

// TestUpdateLayer verifies partial updates reach both the stored layer and
// the engine volume, and trigger a redraw.
func TestUpdateLayer(t *testing.T) {
	r, eng, rec := newTestRegistry()
	ctx := context.Background()

	if err := r.AddLayer(ctx, NewDescriptor("anat", "vol/anat.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}

	opacity := 0.4
	if err := r.UpdateLayer("anat", Update{Opacity: &opacity}); err != nil {
		t.Fatalf("UpdateLayer failed: %v", err)
	}

	l, _ := r.Layer("anat")
	if l.Opacity != 0.4 {
		t.Errorf("Stored opacity %g, want 0.4", l.Opacity)
	}
	// Omitted fields untouched
	if l.Colormap != DefaultColormap || !l.Visible {
		t.Errorf("Partial update touched other fields: %+v", l)
	}
	if eng.volumes[0].Opacity != 0.4 {
		t.Errorf("Engine opacity %g, want 0.4", eng.volumes[0].Opacity)
	}
	if eng.draws != 1 {
		t.Errorf("Expected 1 redraw, got %d", eng.draws)
	}

	last := rec.events[len(rec.events)-1]
	if last.Type != events.LayerUpdated {
		t.Errorf("Last event %s, want layerUpdated", last.Type)
	}
	if merged := last.Payload.(Layer); merged.Opacity != 0.4 {
		t.Errorf("Event carries stale state: %+v", merged)
	}

	// Unknown id: no-op, no event
	n := len(rec.events)
	if err := r.UpdateLayer("ghost", Update{Opacity: &opacity}); err != nil {
		t.Fatalf("Expected nil for unknown id, got %v", err)
	}
	if len(rec.events) != n {
		t.Error("Unknown update emitted an event")
	}
}

// TestToggleLayerByIndex verifies 1-based display-order addressing and the
// silent out-of-range no-op.
func TestToggleLayerByIndex(t *testing.T) {
	r, _, rec := newTestRegistry()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := r.AddLayer(ctx, NewDescriptor(id, "vol/"+id+".nii.gz")); err != nil {
			t.Fatalf("AddLayer failed: %v", err)
		}
	}

	r.ToggleLayerByIndex(2)
	b, _ := r.Layer("b")
	if b.Visible {
		t.Error("Expected layer b hidden after toggle")
	}
	r.ToggleLayerByIndex(2)
	b, _ = r.Layer("b")
	if !b.Visible {
		t.Error("Expected layer b visible after second toggle")
	}

	n := len(rec.events)
	r.ToggleLayerByIndex(0)
	r.ToggleLayerByIndex(3)
	r.ToggleLayerByIndex(-1)
	if len(rec.events) != n {
		t.Errorf("Out-of-range toggle emitted events: %v", rec.types()[n:])
	}
}

// TestReorderLayers verifies that reordering changes only the display
// order, never engine indices, and rejects non-permutations untouched.
func TestReorderLayers(t *testing.T) {
	r, _, rec := newTestRegistry()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := r.AddLayer(ctx, NewDescriptor(id, "vol/"+id+".nii.gz")); err != nil {
			t.Fatalf("AddLayer failed: %v", err)
		}
	}
	indexBefore := map[string]int{}
	for _, l := range r.GetAllLayers() {
		indexBefore[l.ID] = l.EngineIndex
	}

	if err := r.ReorderLayers([]string{"c", "a", "b"}); err != nil {
		t.Fatalf("ReorderLayers failed: %v", err)
	}

	all := r.GetAllLayers()
	if all[0].ID != "c" || all[1].ID != "a" || all[2].ID != "b" {
		t.Errorf("Display order after reorder: %v", all)
	}
	for _, l := range all {
		if l.EngineIndex != indexBefore[l.ID] {
			t.Errorf("Reorder changed engine index of %s: %d -> %d", l.ID, indexBefore[l.ID], l.EngineIndex)
		}
	}
	if rec.events[len(rec.events)-1].Type != events.LayersReordered {
		t.Errorf("Expected layersReordered event, got %v", rec.types())
	}

	// Invalid reorders leave the order untouched.
	// Too short, too long, unknown id, repeated id.
	cases := [][]string{
		{"a", "b"},
		{"a", "b", "c", "a"},
		{"a", "b", "ghost"},
		{"a", "a", "b"},
	}
	for _, bad := range cases {
		if err := r.ReorderLayers(bad); !errors.Is(err, ErrInvalidReorder) {
			t.Errorf("Expected ErrInvalidReorder for %v, got %v", bad, err)
		}
	}
	after := r.GetAllLayers()
	if after[0].ID != "c" || after[1].ID != "a" || after[2].ID != "b" {
		t.Errorf("Failed reorder changed order: %v", after)
	}
}

// TestGetAllLayersSnapshot verifies the returned slice is detached from
// registry state.
func TestGetAllLayersSnapshot(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	if err := r.AddLayer(ctx, NewDescriptor("a", "vol/a.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}

	snap := r.GetAllLayers()
	snap[0].Opacity = 0.123
	snap[0].ID = "tampered"

	l, ok := r.Layer("a")
	if !ok || l.Opacity != 1 {
		t.Errorf("Snapshot mutation leaked into registry: %+v", l)
	}
}

// TestClearAllLayers verifies full teardown of layers and engine volumes.
func TestClearAllLayers(t *testing.T) {
	r, eng, rec := newTestRegistry()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := r.AddLayer(ctx, NewDescriptor(id, "vol/"+id+".nii.gz")); err != nil {
			t.Fatalf("AddLayer failed: %v", err)
		}
	}

	if err := r.ClearAllLayers(ctx); err != nil {
		t.Fatalf("ClearAllLayers failed: %v", err)
	}
	if r.Count() != 0 || len(eng.volumes) != 0 {
		t.Errorf("State left after clear: %d layers, %d volumes", r.Count(), len(eng.volumes))
	}
	if rec.events[len(rec.events)-1].Type != events.AllLayersCleared {
		t.Errorf("Expected allLayersCleared, got %v", rec.types())
	}
}

// TestConcurrentAdds verifies that overlapping adds for different ids all
// land with distinct, contiguous engine indices.
func TestConcurrentAdds(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()

	const n = 16
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			id := fmt.Sprintf("layer-%d", i)
			done <- r.AddLayer(ctx, NewDescriptor(id, "vol/"+id+".nii.gz"))
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Concurrent add failed: %v", err)
		}
	}

	if r.Count() != n {
		t.Fatalf("Expected %d layers, got %d", n, r.Count())
	}
	checkIndexInvariant(t, r)
}

// gatedEngine blocks its LoadVolumeList on a channel once armed, so tests
// can overlap registry operations with an in-flight engine load.
type gatedEngine struct {
	fakeEngine
	loadStarted chan struct{}
	release     chan struct{}
}

func (e *gatedEngine) LoadVolumeList(ctx context.Context, specs []engine.VolumeSpec) error {
	if e.release != nil {
		close(e.loadStarted)
		<-e.release
		e.loadStarted, e.release = nil, nil
	}
	return e.fakeEngine.LoadVolumeList(ctx, specs)
}

// TestRemoveDuringInFlightAddWaitsForTheLoad verifies a remove issued
// while another layer's engine load is still resolving cannot interleave.
// It must wait and then run against the resolved list, so the removed
// volume stays gone and indices stay contiguous.
func TestRemoveDuringInFlightAddWaitsForTheLoad(t *testing.T) {
	eng := &gatedEngine{}
	emitter := events.NewEmitter()
	r := NewRegistry(eng, emitter, nil)
	ctx := context.Background()

	if err := r.AddLayer(ctx, NewDescriptor("anat", "vol/anat.nii.gz")); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}

	eng.loadStarted = make(chan struct{})
	eng.release = make(chan struct{})

	added := make(chan error, 1)
	go func() {
		added <- r.AddLayer(ctx, NewDescriptor("overlay", "vol/heat.nii.gz"))
	}()
	<-eng.loadStarted

	removed := make(chan error, 1)
	go func() {
		removed <- r.RemoveLayer("anat")
	}()

	select {
	case err := <-removed:
		t.Fatalf("RemoveLayer completed during the in-flight add: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(eng.release)
	if err := <-added; err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}
	if err := <-removed; err != nil {
		t.Fatalf("RemoveLayer failed: %v", err)
	}

	checkIndexInvariant(t, r)
	if r.Count() != 1 {
		t.Fatalf("Expected 1 layer, got %d", r.Count())
	}
	if len(eng.volumes) != 1 || eng.volumes[0].URL != "vol/heat.nii.gz" {
		t.Errorf("Engine volumes out of sync after remove: %+v", eng.volumes)
	}
	overlay, _ := r.Layer("overlay")
	if overlay.EngineIndex != 0 {
		t.Errorf("Surviving layer engine index %d, want 0", overlay.EngineIndex)
	}
}

// TestClearDuringInFlightAddWaitsForTheLoad verifies the same serialization
// for ClearAllLayers: a clear overlapping an add leaves no layers and no
// engine volumes behind.
func TestClearDuringInFlightAddWaitsForTheLoad(t *testing.T) {
	eng := &gatedEngine{}
	emitter := events.NewEmitter()
	r := NewRegistry(eng, emitter, nil)
	ctx := context.Background()

	eng.loadStarted = make(chan struct{})
	eng.release = make(chan struct{})

	added := make(chan error, 1)
	go func() {
		added <- r.AddLayer(ctx, NewDescriptor("anat", "vol/anat.nii.gz"))
	}()
	<-eng.loadStarted

	cleared := make(chan error, 1)
	go func() {
		cleared <- r.ClearAllLayers(ctx)
	}()

	select {
	case err := <-cleared:
		t.Fatalf("ClearAllLayers completed during the in-flight add: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(eng.release)
	if err := <-added; err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}
	if err := <-cleared; err != nil {
		t.Fatalf("ClearAllLayers failed: %v", err)
	}

	if r.Count() != 0 || len(eng.volumes) != 0 {
		t.Errorf("State left behind: %d layers, %d volumes", r.Count(), len(eng.volumes))
	}
}

// TestDescriptorDefaultsConfigurable verifies registry-level defaults flow
// into NewDescriptor and into adds that omit a colormap.
func TestDescriptorDefaultsConfigurable(t *testing.T) {
	r, _, _ := newTestRegistry()
	r.SetDescriptorDefaults("viridis", 0.8)

	desc := r.NewDescriptor("overlay", "vol/heat.nii.gz")
	if desc.Colormap != "viridis" || desc.Opacity != 0.8 || !desc.Visible {
		t.Errorf("Descriptor defaults not applied: %+v", desc)
	}

	bare := Descriptor{ID: "anat", SourceURL: "vol/anat.nii.gz", Opacity: 1, Visible: true}
	if err := r.AddLayer(context.Background(), bare); err != nil {
		t.Fatalf("AddLayer failed: %v", err)
	}
	anat, _ := r.Layer("anat")
	if anat.Colormap != "viridis" {
		t.Errorf("Colormap %q, want registry default viridis", anat.Colormap)
	}

	// Empty colormap and zero opacity keep the configured values.
	r.SetDescriptorDefaults("", 0)
	desc = r.NewDescriptor("again", "vol/again.nii.gz")
	if desc.Colormap != "viridis" || desc.Opacity != 0.8 {
		t.Errorf("Defaults changed by no-op override: %+v", desc)
	}
}
