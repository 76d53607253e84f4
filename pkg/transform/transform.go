// Package transform provides the pure coordinate conversions at the heart
// of gaze-to-volume mapping: projecting 2D screen positions onto volume
// slices, moving between voxel and world space through affine matrices,
// and expanding fixations into Gaussian weight fields.
//
// All functions are stateless and safe for concurrent use.
package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gazevol/internal/models"
)

var (
	// ErrInvalidSliceType is returned when a screen-to-volume projection is
	// requested for a slice type that has no 2D projection (or an
	// unrecognized value).
	ErrInvalidSliceType = errors.New("invalid slice type")

	// ErrSingularMatrix is returned when a matrix cannot be inverted
	// because its rotation/scale block is (numerically) singular.
	ErrSingularMatrix = errors.New("singular matrix")
)

// singularEps is the determinant magnitude below which the upper-left 3x3
// block of an affine is considered singular.
const singularEps = 1e-10

// DefaultSigma is the Gaussian kernel width, in voxels, used when a caller
// passes a non-positive sigma to FixationToGaussian.
const DefaultSigma = 2.0

// normalize converts one screen component to [0,1] according to the view's
// coordinate mode. Under CoordAuto a value <= 1 is already normalized;
// larger values are divided by the canvas extent.
func normalize(v, extent float64, mode models.CoordMode) float64 {
	switch mode {
	case models.CoordNormalized:
		return v
	case models.CoordPixels:
		if extent == 0 {
			return 0
		}
		return v / extent
	default:
		if v <= 1 {
			return v
		}
		if extent == 0 {
			return 0
		}
		return v / extent
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// ScreenToVolume projects a 2D gaze position onto the displayed slice of a
// volume, producing a voxel coordinate clamped into the volume bounds.
//
// The axis mapping depends on the active slice plane:
//   - axial: screen X -> I, screen Y -> J, K fixed at the slice index
//   - coronal: screen X -> I, J fixed at the slice index, inverted screen Y -> K
//   - sagittal: I fixed at the slice index, screen X -> J, inverted screen Y -> K
//
// "Inverted" means the screen Y axis counts down from the top of the canvas
// while the volume K axis counts up, so normalized Y is flipped before
// scaling.
func ScreenToVolume(x, y float64, view models.ViewInfo) (models.Voxel, error) {
	dims := view.Dimensions
	nx := normalize(x, view.Canvas.Width, view.Coords)
	ny := normalize(y, view.Canvas.Height, view.Coords)

	var v models.Voxel
	switch view.SliceType {
	case models.Axial:
		v.I = int(math.Round(nx * float64(dims[0])))
		v.J = int(math.Round(ny * float64(dims[1])))
		v.K = view.SliceIndex
	case models.Coronal:
		v.I = int(math.Round(nx * float64(dims[0])))
		v.J = view.SliceIndex
		v.K = int(math.Round((1 - ny) * float64(dims[2])))
	case models.Sagittal:
		v.I = view.SliceIndex
		v.J = int(math.Round(nx * float64(dims[1])))
		v.K = int(math.Round((1 - ny) * float64(dims[2])))
	default:
		return models.Voxel{}, fmt.Errorf("%w: %v", ErrInvalidSliceType, view.SliceType)
	}

	v.I = clamp(v.I, dims[0]-1)
	v.J = clamp(v.J, dims[1]-1)
	v.K = clamp(v.K, dims[2]-1)
	return v, nil
}

// VolumeToWorld maps a voxel coordinate into world space by applying the
// volume's affine matrix. The affine's last row is assumed to be
// [0 0 0 1]; only the upper 3x4 block participates.
func VolumeToWorld(v models.Voxel, affine models.Affine) models.World {
	i, j, k := float64(v.I), float64(v.J), float64(v.K)
	return models.World{
		X: affine[0][0]*i + affine[0][1]*j + affine[0][2]*k + affine[0][3],
		Y: affine[1][0]*i + affine[1][1]*j + affine[1][2]*k + affine[1][3],
		Z: affine[2][0]*i + affine[2][1]*j + affine[2][2]*k + affine[2][3],
	}
}

// WorldToVolume maps a world position back into voxel space through the
// inverse affine, rounding each component to the nearest integer.
//
// The result is deliberately NOT clamped: positions outside the volume
// legitimately produce out-of-bounds voxel indices, which callers interpret
// as "outside volume" and clamp or discard themselves.
func WorldToVolume(w models.World, inverse models.Affine) models.Voxel {
	x, y, z := w.X, w.Y, w.Z
	return models.Voxel{
		I: int(math.Round(inverse[0][0]*x + inverse[0][1]*y + inverse[0][2]*z + inverse[0][3])),
		J: int(math.Round(inverse[1][0]*x + inverse[1][1]*y + inverse[1][2]*z + inverse[1][3])),
		K: int(math.Round(inverse[2][0]*x + inverse[2][1]*y + inverse[2][2]*z + inverse[2][3])),
	}
}

// InvertMatrix4x4 computes the general inverse of a 4x4 affine matrix.
//
// It fails with ErrSingularMatrix when the determinant of the upper-left
// 3x3 rotation/scale block is smaller in magnitude than 1e-10, since such a
// transform collapses at least one axis and has no usable inverse.
func InvertMatrix4x4(a models.Affine) (models.Affine, error) {
	rot := mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
	if math.Abs(mat.Det(rot)) < singularEps {
		return models.Affine{}, fmt.Errorf("%w: 3x3 determinant below %g", ErrSingularMatrix, singularEps)
	}

	flat := make([]float64, 0, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			flat = append(flat, a[r][c])
		}
	}
	m := mat.NewDense(4, 4, flat)

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return models.Affine{}, fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}

	var out models.Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	return out, nil
}

// FixationToGaussian expands a single fixation into a sparse Gaussian
// weight field centered at the fixation's voxel position.
//
// The kernel is truncated to a cubic neighborhood of half-width ceil(3*sigma)
// voxels, which captures over 99.7% of the Gaussian mass. Each retained
// voxel's weight is
//
//	exp(-d^2 / (2*sigma^2)) * log10(durationMS+1) / 3
//
// where d is the Euclidean distance to the fixation center in voxel units.
// The logarithmic duration term compresses long dwells so a ten-second
// stare does not drown out everything else. Offsets falling outside the
// volume are dropped, so the field contains only in-bounds entries.
//
// A non-positive sigma selects DefaultSigma.
func FixationToGaussian(f models.Fixation, view models.ViewInfo, sigma float64) (models.WeightField, error) {
	if sigma <= 0 {
		sigma = DefaultSigma
	}

	center, err := ScreenToVolume(f.X, f.Y, view)
	if err != nil {
		return nil, err
	}

	radius := int(math.Ceil(3 * sigma))
	durationWeight := math.Log10(f.DurationMS+1) / 3
	twoSigmaSq := 2 * sigma * sigma
	dims := view.Dimensions

	side := 2*radius + 1
	field := make(models.WeightField, 0, side*side*side)
	for di := -radius; di <= radius; di++ {
		i := center.I + di
		if i < 0 || i >= dims[0] {
			continue
		}
		for dj := -radius; dj <= radius; dj++ {
			j := center.J + dj
			if j < 0 || j >= dims[1] {
				continue
			}
			for dk := -radius; dk <= radius; dk++ {
				k := center.K + dk
				if k < 0 || k >= dims[2] {
					continue
				}
				distSq := float64(di*di + dj*dj + dk*dk)
				field = append(field, models.WeightEntry{
					I:      i,
					J:      j,
					K:      k,
					Weight: math.Exp(-distSq/twoSigmaSq) * durationWeight,
				})
			}
		}
	}
	return field, nil
}

// ScanPathTo3D projects every sample of a scan path into volume space
// independently. The returned slice is a fresh value each call; there is no
// shared state between invocations.
func ScanPathTo3D(scanPath []models.Fixation, view models.ViewInfo) ([]models.ScanSample, error) {
	out := make([]models.ScanSample, 0, len(scanPath))
	for n, f := range scanPath {
		v, err := ScreenToVolume(f.X, f.Y, view)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", n, err)
		}
		out = append(out, models.ScanSample{
			Voxel:       v,
			TimestampMS: f.TimestampMS,
			DurationMS:  f.DurationMS,
		})
	}
	return out, nil
}
