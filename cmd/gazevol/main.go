package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gazevol/internal/models"
	"gazevol/pkg/config"
	"gazevol/pkg/heatmap"
	"gazevol/pkg/preview"
)

// fixationRecord is the JSON shape eye-tracking exports use for one fixation.
type fixationRecord struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	TimestampMS float64 `json:"timestampMs"`
	DurationMS  float64 `json:"durationMs"`
}

func parseDims(s string) ([3]int, error) {
	var dims [3]int
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return dims, fmt.Errorf("dimensions must be WxHxD, got %q", s)
	}
	for n, p := range parts {
		if _, err := fmt.Sscanf(p, "%d", &dims[n]); err != nil || dims[n] <= 0 {
			return dims, fmt.Errorf("bad dimension %q in %q", p, s)
		}
	}
	return dims, nil
}

func loadFixations(path string) ([]models.Fixation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixations: %w", err)
	}
	var records []fixationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing fixations: %w", err)
	}
	fixations := make([]models.Fixation, len(records))
	for n, rec := range records {
		fixations[n] = models.Fixation{
			X:           rec.X,
			Y:           rec.Y,
			TimestampMS: rec.TimestampMS,
			DurationMS:  rec.DurationMS,
		}
	}
	return fixations, nil
}

// writeRawVolume writes the density volume as little-endian float64 samples
// in row-major order, a format downstream tools ingest directly.
func writeRawVolume(field *heatmap.Field, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return binary.Write(file, binary.LittleEndian, field.Data)
}

func main() {
	// Parse command line arguments
	fixationsPath := flag.String("fixations", "", "JSON file of eye-tracking fixations")
	dimsSpec := flag.String("dims", "", "Volume dimensions as WxHxD, e.g. 128x128x64")
	sliceTypeName := flag.String("slice-type", "axial", "Viewing plane the gaze was recorded on (axial|coronal|sagittal)")
	sliceIndex := flag.Int("slice-index", 0, "Displayed slice index along the plane's fixed axis")
	canvasW := flag.Float64("canvas-width", 0, "Recording canvas width in pixels (0 if coordinates are normalized)")
	canvasH := flag.Float64("canvas-height", 0, "Recording canvas height in pixels (0 if coordinates are normalized)")
	outputName := flag.String("output", "heatmap.raw", "Output raw volume filename")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save heatmap slices along all planes")
	configPath := flag.String("config", "gazevol.yaml", "Configuration file path")
	flag.Parse()

	// Validate inputs
	if *fixationsPath == "" || *dimsSpec == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dims, err := parseDims(*dimsSpec)
	if err != nil {
		log.Fatalf("Invalid dimensions: %v", err)
	}

	sliceType, ok := models.ParseSliceType(*sliceTypeName)
	if !ok || sliceType == models.Render3D {
		log.Fatalf("Invalid slice type %q (must be axial, coronal or sagittal)", *sliceTypeName)
	}

	fixations, err := loadFixations(*fixationsPath)
	if err != nil {
		log.Fatalf("Failed to load fixations: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("GAZEVOL - EYE-TRACKING HEATMAP VOLUME GENERATOR")
	fmt.Println("================================")
	fmt.Printf("Fixations: %d from %s\n", len(fixations), *fixationsPath)
	fmt.Printf("Volume: %dx%dx%d, %s slice %d\n", dims[0], dims[1], dims[2], sliceType, *sliceIndex)

	params := heatmap.Params{
		View: models.ViewInfo{
			SliceType:  sliceType,
			SliceIndex: *sliceIndex,
			Dimensions: dims,
			Canvas:     models.Canvas{Width: *canvasW, Height: *canvasH},
		},
		Sigma:         cfg.Heatmap.Sigma,
		ClusterRadius: cfg.Heatmap.ClusterRadius,
		Workers:       cfg.Heatmap.Workers,
		Normalize:     cfg.Heatmap.Normalize,
	}

	fmt.Println("Building gaze-density volume...")
	job, err := heatmap.RunJob(context.Background(), params, fixations)
	if err != nil {
		log.Fatalf("Heatmap build failed: %v", err)
	}

	fmt.Printf("\nCalculation %s completed in %.2f seconds\n", job.ID, job.Elapsed.Seconds())
	fmt.Printf("Density stats:\n")
	fmt.Printf("  Max: %.6f at voxel (%d, %d, %d)\n", job.Stats.Max, job.Stats.Peak.I, job.Stats.Peak.J, job.Stats.Peak.K)
	fmt.Printf("  Total: %.6f over %d non-zero voxels\n", job.Stats.Total, job.Stats.NonZero)

	if err := writeRawVolume(job.Field, *outputName); err != nil {
		log.Fatalf("Failed to write volume: %v", err)
	}
	fmt.Printf("Raw volume saved to: %s\n", *outputName)

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting heatmap slices along all planes...")

		previewer := preview.NewPreviewer(job.Field, cfg.Preview.Quality)
		for _, st := range []models.SliceType{models.Axial, models.Coronal, models.Sagittal} {
			dir := fmt.Sprintf("%s/%s", cfg.Preview.OutputDir, st)
			fmt.Printf("Saving %s slices to: %s\n", st, dir)
			if err := previewer.SaveSliceSequence(st, dir); err != nil {
				log.Printf("Warning: failed to save %s slices: %v", st, err)
			}
		}

		fmt.Println("Slice extraction completed!")
	}
}
