// Package engine defines the narrow contract the viewer core requires from
// an external 3D rendering engine. The core never links a concrete engine;
// it drives whatever implementation the application injects.
package engine

import (
	"context"

	"gazevol/internal/models"
)

// VolumeSpec tells the engine what to load for one volume slot.
type VolumeSpec struct {
	// URL locates the volume data (NIfTI or whatever the engine accepts).
	// Opaque to the core.
	URL string

	// Colormap and Opacity are the initial display settings for the
	// loaded volume.
	Colormap string
	Opacity  float64
	Visible  bool
}

// VolumeHandle is the engine-side state of one loaded volume. The fields
// are live: the registry mutates them directly and then requests a redraw.
type VolumeHandle struct {
	URL      string
	Colormap string
	Opacity  float64
	Visible  bool
}

// Scene is the engine's live camera and view state. The coordinator reads
// and writes it directly; changes take effect on the next Draw.
type Scene struct {
	// Azimuth and Elevation are camera angles in degrees.
	Azimuth   float64
	Elevation float64

	// Scale is the zoom factor; always positive.
	Scale float64

	// ClipPlane is the render clip plane as [a b c d] coefficients.
	ClipPlane [4]float64

	// SliceType is the active viewing plane or render mode.
	SliceType models.SliceType

	// Crosshair is the crosshair position in voxel space.
	Crosshair [3]float64
}

// Engine is the rendering-engine handle the core drives. Implementations
// wrap a real renderer; tests use an in-memory fake.
//
// LoadVolumeList atomically replaces the engine's entire volume list.
// RemoveVolumeByIndex drops a single volume, shifting later ones down.
// Both may perform IO (fetching volume data) and honor the context.
type Engine interface {
	// LoadVolumeList replaces the current volume list with the given
	// specs, loading each volume's data. On error the previous list is
	// retained.
	LoadVolumeList(ctx context.Context, specs []VolumeSpec) error

	// RemoveVolumeByIndex releases the volume at the given position in
	// the engine's volume list.
	RemoveVolumeByIndex(index int) error

	// Volumes returns the engine's live volume list. Elements are mutable
	// and shared with the engine.
	Volumes() []*VolumeHandle

	// Scene returns the engine's live scene object.
	Scene() *Scene

	// Draw schedules a redraw reflecting any volume or scene mutations.
	Draw()

	// SetOnImageLoaded installs the callback invoked whenever the engine
	// finishes loading a volume image. Pass nil to detach.
	SetOnImageLoaded(fn func())
}
