package palette

import "math/rand/v2"

const kmeansIterations = 30

// kmeans clusters pts into k centers using k-means++ seeding and Lloyd
// iterations. With fewer distinct points than k, centers repeat.
func kmeans(pts [][4]float64, k int, seed uint64) [][4]float64 {
	if len(pts) == 0 {
		return [][4]float64{{}}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centers := seedCenters(pts, k, rng)

	assign := make([]int, len(pts))
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := iter == 0
		for i, p := range pts {
			if best := nearest(p, centers); best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][4]float64, len(centers))
		counts := make([]int, len(centers))
		for i, p := range pts {
			c := assign[i]
			for d := 0; d < 4; d++ {
				sums[c][d] += p[d]
			}
			counts[c]++
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < 4; d++ {
				centers[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return centers
}

func seedCenters(pts [][4]float64, k int, rng *rand.Rand) [][4]float64 {
	centers := make([][4]float64, 0, k)
	centers = append(centers, pts[rng.IntN(len(pts))])
	dist := make([]float64, len(pts))
	for len(centers) < k {
		var total float64
		for i, p := range pts {
			dist[i] = sqDist(p, centers[nearest(p, centers)])
			total += dist[i]
		}
		if total == 0 {
			centers = append(centers, centers[len(centers)-1])
			continue
		}
		target := rng.Float64() * total
		pick := len(pts) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		centers = append(centers, pts[pick])
	}
	return centers
}

func nearest(p [4]float64, centers [][4]float64) int {
	best, bestD := 0, sqDist(p, centers[0])
	for i := 1; i < len(centers); i++ {
		if d := sqDist(p, centers[i]); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func sqDist(a, b [4]float64) float64 {
	var s float64
	for d := 0; d < 4; d++ {
		v := a[d] - b[d]
		s += v * v
	}
	return s
}
