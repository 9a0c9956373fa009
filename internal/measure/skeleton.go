package measure

import (
	"container/heap"
	"image"
	"math"

	"gocv.io/x/gocv"

	"sperm-tracer/pkg/geometry"
)

// Skeletonize reduces a binary mask to single-pixel-wide centerlines using
// iterative morphological thinning. The input Mat is not modified; the
// caller owns the returned Mat.
func Skeletonize(mask gocv.Mat) gocv.Mat {
	skeleton := gocv.NewMatWithSize(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	temp := mask.Clone()
	defer temp.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()

	element := gocv.GetStructuringElement(gocv.MorphCross, image.Point{X: 3, Y: 3})
	defer element.Close()

	for {
		gocv.Erode(temp, &eroded, element)

		dilated := gocv.NewMat()
		gocv.Dilate(eroded, &dilated, element)

		// Pixels removed by an open step belong to the skeleton
		diff := gocv.NewMat()
		gocv.Subtract(temp, dilated, &diff)
		dilated.Close()

		gocv.BitwiseOr(skeleton, diff, &skeleton)
		diff.Close()

		eroded.CopyTo(&temp)

		if gocv.CountNonZero(eroded) == 0 {
			break
		}
	}

	return skeleton
}

// skeletonPoints collects the set pixels of a skeleton Mat in row-major order.
func skeletonPoints(skel gocv.Mat) []geometry.PointInt {
	rows, cols := skel.Rows(), skel.Cols()
	var pts []geometry.PointInt
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if skel.GetUCharAt(y, x) != 0 {
				pts = append(pts, geometry.PointInt{X: x, Y: y})
			}
		}
	}
	return pts
}

// largestComponent returns the biggest 8-connected component of pts.
// Ties go to the component discovered first in row-major order.
func largestComponent(pts []geometry.PointInt) []geometry.PointInt {
	index := make(map[geometry.PointInt]bool, len(pts))
	for _, p := range pts {
		index[p] = true
	}

	visited := make(map[geometry.PointInt]bool, len(pts))
	var best []geometry.PointInt

	for _, start := range pts {
		if visited[start] {
			continue
		}
		comp := []geometry.PointInt{start}
		visited[start] = true
		queue := []geometry.PointInt{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					n := geometry.PointInt{X: cur.X + dx, Y: cur.Y + dy}
					if !index[n] || visited[n] {
						continue
					}
					visited[n] = true
					comp = append(comp, n)
					queue = append(queue, n)
				}
			}
		}
		if len(comp) > len(best) {
			best = comp
		}
	}
	return best
}

// longestPathLength returns the arc length of the longest 8-connected path
// through the component: shortest-path distances from an extremal pixel to
// its farthest counterpart, with unit steps costing 1 and diagonals sqrt(2).
// Two Dijkstra sweeps (farthest point from an arbitrary start, then farthest
// from that) give the diameter; skeleton centerlines are trees or close to
// it, where this is exact.
func longestPathLength(comp []geometry.PointInt) float64 {
	if len(comp) < 2 {
		return 0
	}
	index := make(map[geometry.PointInt]bool, len(comp))
	for _, p := range comp {
		index[p] = true
	}

	u, _ := farthestFrom(comp[0], comp, index)
	_, d := farthestFrom(u, comp, index)
	return d
}

// farthestFrom runs Dijkstra over the 8-connected pixel graph and returns
// the pixel with the greatest finite distance from start, breaking ties by
// row-major order of discovery.
func farthestFrom(start geometry.PointInt, comp []geometry.PointInt, index map[geometry.PointInt]bool) (geometry.PointInt, float64) {
	dist := make(map[geometry.PointInt]float64, len(comp))
	dist[start] = 0

	pq := &distQueue{}
	heap.Init(pq)
	heap.Push(pq, &distItem{pt: start, d: 0})

	done := make(map[geometry.PointInt]bool, len(comp))
	farPt, farD := start, 0.0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*distItem)
		cur := item.pt
		if done[cur] {
			continue
		}
		done[cur] = true

		if item.d > farD {
			farD = item.d
			farPt = cur
		}

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				n := geometry.PointInt{X: cur.X + dx, Y: cur.Y + dy}
				if !index[n] || done[n] {
					continue
				}
				step := 1.0
				if dx != 0 && dy != 0 {
					step = math.Sqrt2
				}
				nd := item.d + step
				if prev, seen := dist[n]; !seen || nd < prev {
					dist[n] = nd
					heap.Push(pq, &distItem{pt: n, d: nd})
				}
			}
		}
	}

	return farPt, farD
}

// distItem is a node in the Dijkstra priority queue.
type distItem struct {
	pt    geometry.PointInt
	d     float64
	index int
}

// distQueue implements heap.Interface ordered by distance.
type distQueue []*distItem

func (pq distQueue) Len() int { return len(pq) }
func (pq distQueue) Less(i, j int) bool {
	if pq[i].d != pq[j].d {
		return pq[i].d < pq[j].d
	}
	// Deterministic order for equal distances
	if pq[i].pt.Y != pq[j].pt.Y {
		return pq[i].pt.Y < pq[j].pt.Y
	}
	return pq[i].pt.X < pq[j].pt.X
}
func (pq distQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *distQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*distItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *distQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
