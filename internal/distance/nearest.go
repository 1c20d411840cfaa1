package distance

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"cut-precision/pkg/geometry"
)

// Below this reference-set size the k-d tree build overhead outweighs the
// query savings and the chunked brute-force scan wins.
const treeMinPoints = 64

// bruteChunk bounds the working set of the brute-force scan.
const bruteChunk = 512

// NearestDistances returns, for each query point, the exact Euclidean
// distance to the nearest reference point. Reference sets large enough to
// amortize the build cost are indexed with a k-d tree; small sets fall
// back to a chunked brute-force scan.
func NearestDistances(query, reference []geometry.Point2D) []float64 {
	if len(query) == 0 || len(reference) == 0 {
		return nil
	}
	if len(reference) < treeMinPoints {
		return bruteforceDistances(query, reference)
	}
	return treeDistances(query, reference)
}

func treeDistances(query, reference []geometry.Point2D) []float64 {
	pts := make(kdtree.Points, len(reference))
	for i, p := range reference {
		pts[i] = kdtree.Point{p.X, p.Y}
	}
	tree := kdtree.New(pts, false)

	out := make([]float64, len(query))
	for i, q := range query {
		// kdtree reports the squared Euclidean distance.
		_, d := tree.Nearest(kdtree.Point{q.X, q.Y})
		out[i] = math.Sqrt(d)
	}
	return out
}

func bruteforceDistances(query, reference []geometry.Point2D) []float64 {
	out := make([]float64, len(query))
	for start := 0; start < len(query); start += bruteChunk {
		end := start + bruteChunk
		if end > len(query) {
			end = len(query)
		}
		for i := start; i < end; i++ {
			best := math.Inf(1)
			for _, r := range reference {
				dx := query[i].X - r.X
				dy := query[i].Y - r.Y
				if d2 := dx*dx + dy*dy; d2 < best {
					best = d2
				}
			}
			out[i] = math.Sqrt(best)
		}
	}
	return out
}
