// Package heatmap turns eye-tracking sessions into gaze-density volumes.
// Individual fixations are expanded into Gaussian weight fields and
// accumulated into a dense volume aligned with the viewed dataset, ready
// to be added to a viewer as an overlay layer.
package heatmap

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"gazevol/internal/models"
	"gazevol/pkg/transform"
)

// Params configures a heatmap build.
type Params struct {
	// View describes the viewing context the gaze was recorded against:
	// slice plane, slice index, volume dimensions, canvas size.
	View models.ViewInfo

	// Sigma is the Gaussian kernel width in voxels. Non-positive selects
	// transform.DefaultSigma.
	Sigma float64

	// ClusterRadius merges fixations closer than this many voxels before
	// accumulation. Zero disables clustering.
	ClusterRadius float64

	// Workers is the number of goroutines expanding fixations. Zero or
	// negative selects runtime.NumCPU().
	Workers int

	// Normalize rescales the finished volume to a [0,1] density range.
	Normalize bool
}

// Builder accumulates a session of fixations into a density volume.
type Builder struct {
	params Params
}

// NewBuilder creates a builder for the given parameters.
func NewBuilder(params Params) *Builder {
	return &Builder{params: params}
}

// Process expands every fixation into its Gaussian weight field, in
// parallel across workers, and accumulates the fields into one dense
// volume. Accumulation order does not affect the result since addition
// commutes, so no ordering is imposed on the workers.
func (b *Builder) Process(ctx context.Context, fixations []models.Fixation) (*Field, error) {
	field, err := NewField(b.params.View.Dimensions)
	if err != nil {
		return nil, err
	}

	fixations, err = ClusterFixations(fixations, b.params.View, b.params.ClusterRadius)
	if err != nil {
		return nil, fmt.Errorf("clustering fixations: %w", err)
	}

	workers := b.params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(fixations) {
		workers = len(fixations)
	}

	type expandResult struct {
		field models.WeightField
		err   error
	}
	jobs := make(chan models.Fixation)
	// Buffered so workers never block on send and exit cleanly even when
	// the receive loop bails out on cancellation.
	results := make(chan expandResult, len(fixations))

	for w := 0; w < workers; w++ {
		go func() {
			for f := range jobs {
				wf, err := transform.FixationToGaussian(f, b.params.View, b.params.Sigma)
				results <- expandResult{field: wf, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range fixations {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	// The feeder stops on cancellation, so fewer results than fixations
	// may arrive; drain exactly as many as were fed by checking ctx too.
	var firstErr error
	received := 0
	for received < len(fixations) {
		select {
		case res := <-results:
			received++
			if res.err != nil {
				if firstErr == nil {
					firstErr = res.err
				}
				continue
			}
			field.Add(res.field)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if firstErr != nil {
		return nil, fmt.Errorf("expanding fixations: %w", firstErr)
	}

	if b.params.Normalize {
		field.Normalize()
	}
	return field, nil
}

// Job records one completed heatmap calculation for hand-off to a
// persistence collaborator.
type Job struct {
	// ID is a generated unique identifier for the calculation.
	ID string

	// CreatedAt is when the calculation finished.
	CreatedAt time.Time

	// FixationCount is the number of fixations supplied to the build.
	FixationCount int

	// Elapsed is how long the build took.
	Elapsed time.Duration

	// Field is the resulting density volume.
	Field *Field

	// Stats summarizes the volume.
	Stats Stats
}

// RunJob builds a heatmap and wraps the result in a Job record.
func RunJob(ctx context.Context, params Params, fixations []models.Fixation) (*Job, error) {
	start := time.Now()
	field, err := NewBuilder(params).Process(ctx, fixations)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now(),
		FixationCount: len(fixations),
		Elapsed:       time.Since(start),
		Field:         field,
		Stats:         field.ComputeStats(),
	}, nil
}
