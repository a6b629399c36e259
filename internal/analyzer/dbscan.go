package analyzer

import "math"

const noise = -1

// dbscan labels points with density-based clusters. A point is a core point
// when at least minSamples points, itself included, lie within eps of it.
// Border points take the label of the first cluster that reaches them.
// Unreachable points are labelled noise.
func dbscan(points []Point, eps float64, minSamples int) []int {
	n := len(points)
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if math.Hypot(points[i].X-points[j].X, points[i].Y-points[j].Y) <= eps {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	const unassigned = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unassigned
	}

	label := 0
	for i := 0; i < n; i++ {
		if labels[i] != unassigned || len(neighbors[i]) < minSamples {
			continue
		}

		labels[i] = label
		queue := []int{i}
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if len(neighbors[p]) < minSamples {
				continue
			}
			for _, q := range neighbors[p] {
				if labels[q] == unassigned {
					labels[q] = label
					queue = append(queue, q)
				}
			}
		}
		label++
	}

	for i := range labels {
		if labels[i] == unassigned {
			labels[i] = noise
		}
	}
	return labels
}

// clusterMembers groups point indices by label in label order, dropping noise.
func clusterMembers(labels []int) [][]int {
	maxLabel := noise
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}
	clusters := make([][]int, maxLabel+1)
	for i, l := range labels {
		if l == noise {
			continue
		}
		clusters[l] = append(clusters[l], i)
	}
	return clusters
}
