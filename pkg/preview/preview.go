// Package preview renders 2D grayscale previews of gaze-density volumes so
// a researcher can eyeball a heatmap without a full 3D viewer. Slices are
// extracted along the same axis mappings the viewer uses and written as
// JPEG images.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gazevol/internal/models"
	"gazevol/pkg/heatmap"
)

// Previewer extracts 2D slice images from a density volume. Densities are
// expected in [0,1]; values outside that range are clamped on render, so
// normalizing the field first gives the full gray range.
type Previewer struct {
	field   *heatmap.Field
	quality int
}

// NewPreviewer creates a previewer for the given field. Quality is the
// JPEG quality (1-100); non-positive values select 90.
func NewPreviewer(field *heatmap.Field, quality int) *Previewer {
	if quality <= 0 {
		quality = 90
	}
	return &Previewer{field: field, quality: quality}
}

func gray(v float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, v*65535)))}
}

// ExtractSlice renders the slice at the given index along the slice
// plane's fixed axis. The axis mapping mirrors the screen-to-volume
// projection: axial images are I×J, coronal are I×K with K inverted, and
// sagittal are J×K with K inverted. Render3D has no slice plane and is
// rejected.
func (p *Previewer) ExtractSlice(sliceType models.SliceType, index int) (image.Image, error) {
	if index < 0 {
		return nil, fmt.Errorf("slice index must be non-negative, got %d", index)
	}
	f := p.field

	var img *image.Gray16
	switch sliceType {
	case models.Axial:
		if index >= f.Depth {
			return nil, fmt.Errorf("axial index %d exceeds depth %d", index, f.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
		for j := 0; j < f.Height; j++ {
			for i := 0; i < f.Width; i++ {
				img.SetGray16(i, j, gray(f.At(i, j, index)))
			}
		}

	case models.Coronal:
		if index >= f.Height {
			return nil, fmt.Errorf("coronal index %d exceeds height %d", index, f.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, f.Width, f.Depth))
		for k := 0; k < f.Depth; k++ {
			for i := 0; i < f.Width; i++ {
				img.SetGray16(i, f.Depth-1-k, gray(f.At(i, index, k)))
			}
		}

	case models.Sagittal:
		if index >= f.Width {
			return nil, fmt.Errorf("sagittal index %d exceeds width %d", index, f.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, f.Height, f.Depth))
		for k := 0; k < f.Depth; k++ {
			for j := 0; j < f.Height; j++ {
				img.SetGray16(j, f.Depth-1-k, gray(f.At(index, j, k)))
			}
		}

	default:
		return nil, fmt.Errorf("cannot extract a slice for %v", sliceType)
	}

	return img, nil
}

// SaveSlice writes an extracted slice as a JPEG image.
func (p *Previewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: p.quality})
}

// SaveSliceSequence extracts and saves every slice along the given plane
// into outputDir, one JPEG per slice.
func (p *Previewer) SaveSliceSequence(sliceType models.SliceType, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch sliceType {
	case models.Axial:
		maxPos = p.field.Depth
	case models.Coronal:
		maxPos = p.field.Height
	case models.Sagittal:
		maxPos = p.field.Width
	default:
		return fmt.Errorf("cannot extract slices for %v", sliceType)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := p.ExtractSlice(sliceType, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", sliceType, pos))
		if err := p.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
