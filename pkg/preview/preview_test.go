package preview

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"gazevol/internal/models"
	"gazevol/pkg/heatmap"
)

func testField(t *testing.T) *heatmap.Field {
	t.Helper()
	f, err := heatmap.NewField([3]int{4, 3, 2})
	if err != nil {
		t.Fatalf("NewField failed: %v", err)
	}
	f.Add(models.WeightField{{I: 1, J: 2, K: 0, Weight: 1}})
	return f
}

// TestExtractSliceAxial verifies image dimensions and the bright voxel's
// pixel position.
func TestExtractSliceAxial(t *testing.T) {
	p := NewPreviewer(testField(t), 0)

	img, err := p.ExtractSlice(models.Axial, 0)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 3 {
		t.Errorf("Axial slice %dx%d, want 4x3", bounds.Dx(), bounds.Dy())
	}

	if got := img.At(1, 2).(color.Gray16).Y; got != 65535 {
		t.Errorf("Bright voxel pixel = %d, want 65535", got)
	}
	if got := img.At(0, 0).(color.Gray16).Y; got != 0 {
		t.Errorf("Dark pixel = %d, want 0", got)
	}

	// The other axial slice holds no weight.
	img, err = p.ExtractSlice(models.Axial, 1)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	if got := img.At(1, 2).(color.Gray16).Y; got != 0 {
		t.Errorf("Empty slice pixel = %d, want 0", got)
	}
}

// TestExtractSliceCoronalInvertsK verifies the vertical flip: K counts up
// while image Y counts down.
func TestExtractSliceCoronalInvertsK(t *testing.T) {
	p := NewPreviewer(testField(t), 0)

	img, err := p.ExtractSlice(models.Coronal, 2)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 2 {
		t.Errorf("Coronal slice %dx%d, want 4x2", bounds.Dx(), bounds.Dy())
	}

	// Weight sits at I=1, K=0; with depth 2 and inversion it renders at
	// image row depth-1-0 = 1.
	if got := img.At(1, 1).(color.Gray16).Y; got != 65535 {
		t.Errorf("Inverted pixel = %d, want 65535", got)
	}
	if got := img.At(1, 0).(color.Gray16).Y; got != 0 {
		t.Errorf("Top pixel = %d, want 0", got)
	}
}

// TestExtractSliceSagittal verifies the J×K mapping.
func TestExtractSliceSagittal(t *testing.T) {
	p := NewPreviewer(testField(t), 0)

	img, err := p.ExtractSlice(models.Sagittal, 1)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 3 || bounds.Dy() != 2 {
		t.Errorf("Sagittal slice %dx%d, want 3x2", bounds.Dx(), bounds.Dy())
	}
	if got := img.At(2, 1).(color.Gray16).Y; got != 65535 {
		t.Errorf("Pixel at (2,1) = %d, want 65535", got)
	}
}

// TestExtractSliceValidation verifies range and mode checks.
func TestExtractSliceValidation(t *testing.T) {
	p := NewPreviewer(testField(t), 0)

	if _, err := p.ExtractSlice(models.Axial, -1); err == nil {
		t.Error("Expected error for negative index")
	}
	if _, err := p.ExtractSlice(models.Axial, 2); err == nil {
		t.Error("Expected error for index beyond depth")
	}
	if _, err := p.ExtractSlice(models.Render3D, 0); err == nil {
		t.Error("Expected error for Render3D")
	}
}

// TestSaveSliceSequence verifies one JPEG per slice lands in the output
// directory.
func TestSaveSliceSequence(t *testing.T) {
	p := NewPreviewer(testField(t), 85)
	dir := t.TempDir()

	if err := p.SaveSliceSequence(models.Axial, dir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}

	for _, name := range []string{"slice_axial_000.jpg", "slice_axial_001.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Missing %s: %v", name, err)
		}
	}
}
