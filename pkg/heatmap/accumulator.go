package heatmap

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"gazevol/internal/models"
)

// Field is a dense gaze-density volume. Data is laid out in row-major
// order: index = k*width*height + j*width + i.
type Field struct {
	Data   []float64
	Width  int
	Height int
	Depth  int
}

// NewField allocates a zeroed density volume with the given dimensions.
func NewField(dims [3]int) (*Field, error) {
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("field dimensions must be positive, got %v", dims)
	}
	return &Field{
		Data:   make([]float64, dims[0]*dims[1]*dims[2]),
		Width:  dims[0],
		Height: dims[1],
		Depth:  dims[2],
	}, nil
}

// At returns the accumulated density at a voxel, or zero when the voxel is
// outside the volume.
func (f *Field) At(i, j, k int) float64 {
	if i < 0 || i >= f.Width || j < 0 || j >= f.Height || k < 0 || k >= f.Depth {
		return 0
	}
	return f.Data[k*f.Width*f.Height+j*f.Width+i]
}

// Add accumulates one fixation's weight field into the volume. Entries are
// trusted to be in bounds, as transform.FixationToGaussian guarantees.
func (f *Field) Add(field models.WeightField) {
	wh := f.Width * f.Height
	for _, e := range field {
		f.Data[e.K*wh+e.J*f.Width+e.I] += e.Weight
	}
}

// Normalize rescales the volume so its maximum density is 1. A volume with
// no accumulated weight is left untouched.
func (f *Field) Normalize() {
	max := floats.Max(f.Data)
	if max <= 0 {
		return
	}
	floats.Scale(1/max, f.Data)
}

// Stats summarizes an accumulated density volume.
type Stats struct {
	// Min and Max are the extreme densities.
	Min float64
	Max float64

	// Total is the summed density over all voxels.
	Total float64

	// NonZero counts voxels that received any weight.
	NonZero int

	// Peak is the voxel holding the maximum density.
	Peak models.Voxel
}

// ComputeStats scans the volume once and reports its summary statistics.
func (f *Field) ComputeStats() Stats {
	s := Stats{
		Min:   floats.Min(f.Data),
		Max:   floats.Max(f.Data),
		Total: floats.Sum(f.Data),
	}
	peak := floats.MaxIdx(f.Data)
	wh := f.Width * f.Height
	s.Peak = models.Voxel{
		I: (peak % wh) % f.Width,
		J: (peak % wh) / f.Width,
		K: peak / wh,
	}
	for _, v := range f.Data {
		if v != 0 {
			s.NonZero++
		}
	}
	return s
}
