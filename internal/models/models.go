package models

import (
	"fmt"
)

// SliceType identifies the 2D viewing plane (or the 3D render mode)
// currently active in the viewer.
type SliceType int

const (
	// Axial slices view the volume along the K axis (top-down).
	Axial SliceType = iota

	// Coronal slices view the volume along the J axis (front-back).
	Coronal

	// Sagittal slices view the volume along the I axis (left-right).
	Sagittal

	// Render3D is the full volume-rendering mode; it has no slice plane.
	Render3D
)

// String returns the lower-case name used in view-state blobs and shortcuts.
func (s SliceType) String() string {
	switch s {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	case Render3D:
		return "render3d"
	default:
		return fmt.Sprintf("SliceType(%d)", int(s))
	}
}

// ParseSliceType converts a slice-type name back into a SliceType.
// It returns false for unrecognized names.
func ParseSliceType(name string) (SliceType, bool) {
	switch name {
	case "axial":
		return Axial, true
	case "coronal":
		return Coronal, true
	case "sagittal":
		return Sagittal, true
	case "render3d":
		return Render3D, true
	default:
		return 0, false
	}
}

// CoordMode controls how screen coordinates are interpreted when converting
// gaze positions into voxel space.
type CoordMode int

const (
	// CoordAuto uses the historical heuristic: a component value <= 1 is
	// treated as normalized to [0,1], anything larger as a raw pixel value.
	// The boundary value 1.0 is ambiguous under this heuristic; callers who
	// work in pixel space near the origin should use an explicit mode.
	CoordAuto CoordMode = iota

	// CoordNormalized treats all components as normalized to [0,1].
	CoordNormalized

	// CoordPixels treats all components as raw canvas pixel values.
	CoordPixels
)

// Canvas holds the pixel dimensions of the drawing surface gaze
// coordinates were recorded against.
type Canvas struct {
	Width  float64
	Height float64
}

// ViewInfo describes the viewing context needed to project a 2D screen
// position into volume space: the active slice plane, which slice of it is
// shown, the volume dimensions, and the canvas the gaze was recorded on.
type ViewInfo struct {
	// SliceType is the active viewing plane. Render3D is not a valid
	// target for screen-to-volume projection.
	SliceType SliceType

	// SliceIndex is the index of the displayed slice along the plane's
	// fixed axis.
	SliceIndex int

	// Dimensions are the volume extents in voxels along I, J, K.
	Dimensions [3]int

	// Canvas is the pixel size of the viewing surface.
	Canvas Canvas

	// Coords selects how screen coordinates are interpreted.
	// The zero value keeps the historical <=1 heuristic.
	Coords CoordMode
}

// Voxel is an integer 3D index into a volume's sample grid.
type Voxel struct {
	I, J, K int
}

// World is a position in physical (scanner/world) space, in the units of
// the volume's affine matrix, typically millimeters.
type World struct {
	X, Y, Z float64
}

// Affine is a row-major 4x4 matrix mapping voxel coordinates to world
// coordinates (or back, when inverted). The last row is [0 0 0 1] for any
// well-formed affine.
type Affine [4][4]float64

// IdentityAffine returns the identity transform.
func IdentityAffine() Affine {
	return Affine{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Fixation is a single eye-tracking fixation: a located gaze event with a
// duration. X and Y follow the coordinate interpretation of the ViewInfo
// it is projected with.
type Fixation struct {
	// X, Y locate the fixation on the viewing surface.
	X, Y float64

	// TimestampMS is the fixation onset, milliseconds from session start.
	TimestampMS float64

	// DurationMS is how long the gaze dwelled, in milliseconds.
	DurationMS float64
}

// ScanSample is one element of a scan path projected into volume space.
type ScanSample struct {
	Voxel       Voxel
	TimestampMS float64
	DurationMS  float64
}

// WeightEntry is a single voxel contribution within a Gaussian weight field.
type WeightEntry struct {
	I, J, K int
	Weight  float64
}

// WeightField is the sparse spatial kernel representing one fixation's
// contribution to a cumulative attention volume. Entries carry
// non-negative weights and only in-bounds voxels are included.
type WeightField []WeightEntry
