package heatmap

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"gazevol/internal/models"
	"gazevol/pkg/transform"
)

// fixPoint is a fixation's voxel-space center, tagged with its position in
// the input slice so cluster assignment can refer back to the fixation.
type fixPoint struct {
	x, y, z float64
	n       int
}

// Compare implements the kdtree.Comparable interface.
func (p fixPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(fixPoint)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	case 2:
		return p.z - q.z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree.
func (p fixPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points.
func (p fixPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(fixPoint)
	dx := p.x - q.x
	dy := p.y - q.y
	dz := p.z - q.z
	return dx*dx + dy*dy + dz*dz
}

// fixPoints is a collection of fixPoint that satisfies kdtree.Interface.
type fixPoints []fixPoint

func (p fixPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p fixPoints) Len() int                              { return len(p) }
func (p fixPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p fixPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(fixPlane{fixPoints: p, Dim: d}, kdtree.MedianOfRandoms(fixPlane{fixPoints: p, Dim: d}, 100))
}

// fixPlane implements sort.Interface and kdtree.SortSlicer for fixPoints.
type fixPlane struct {
	fixPoints
	kdtree.Dim
}

func (p fixPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.fixPoints[i].x < p.fixPoints[j].x
	case 1:
		return p.fixPoints[i].y < p.fixPoints[j].y
	case 2:
		return p.fixPoints[i].z < p.fixPoints[j].z
	default:
		panic("illegal dimension")
	}
}

func (p fixPlane) Slice(start, end int) kdtree.SortSlicer {
	return fixPlane{fixPoints: p.fixPoints[start:end], Dim: p.Dim}
}

func (p fixPlane) Swap(i, j int) {
	p.fixPoints[i], p.fixPoints[j] = p.fixPoints[j], p.fixPoints[i]
}

// ClusterFixations merges fixations whose voxel centers lie within radius
// voxels of each other. Eye trackers report micro-refixations of the same
// spot as separate events; merging them first keeps the density volume
// from over-counting one locus of attention.
//
// Each fixation joins the cluster of the earliest fixation within radius.
// A merged cluster keeps the earliest onset, sums durations, and takes the
// duration-weighted mean position. A non-positive radius returns the input
// unchanged.
func ClusterFixations(fixations []models.Fixation, view models.ViewInfo, radius float64) ([]models.Fixation, error) {
	if radius <= 0 || len(fixations) < 2 {
		return fixations, nil
	}

	points := make(fixPoints, len(fixations))
	for n, f := range fixations {
		v, err := transform.ScreenToVolume(f.X, f.Y, view)
		if err != nil {
			return nil, err
		}
		points[n] = fixPoint{x: float64(v.I), y: float64(v.J), z: float64(v.K), n: n}
	}

	tree := kdtree.New(append(fixPoints(nil), points...), false)

	// Label each fixation with the cluster seeded by the earliest
	// unlabeled fixation near it. Distance uses the squared metric, so
	// the keeper bound is radius squared.
	labels := make([]int, len(fixations))
	for n := range labels {
		labels[n] = -1
	}
	numClusters := 0
	for n := range points {
		if labels[n] >= 0 {
			continue
		}
		cluster := numClusters
		numClusters++
		labels[n] = cluster

		keeper := kdtree.NewDistKeeper(radius * radius)
		tree.NearestSet(keeper, points[n])
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			m := item.Comparable.(fixPoint).n
			if labels[m] < 0 {
				labels[m] = cluster
			}
		}
	}

	merged := make([]models.Fixation, numClusters)
	weight := make([]float64, numClusters)
	seen := make([]bool, numClusters)
	for n, f := range fixations {
		c := labels[n]
		w := f.DurationMS
		if w <= 0 {
			w = 1
		}
		if !seen[c] {
			seen[c] = true
			merged[c] = f
			merged[c].X *= w
			merged[c].Y *= w
			weight[c] = w
			continue
		}
		merged[c].X += f.X * w
		merged[c].Y += f.Y * w
		merged[c].DurationMS += f.DurationMS
		if f.TimestampMS < merged[c].TimestampMS {
			merged[c].TimestampMS = f.TimestampMS
		}
		weight[c] += w
	}
	for c := range merged {
		merged[c].X /= weight[c]
		merged[c].Y /= weight[c]
	}
	return merged, nil
}
