package analyzer

import (
	"image"
	"math"
)

// Moore neighbourhood, clockwise on screen starting east (y grows downward).
var mooreDirs = [8]image.Point{
	{X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: -1, Y: 1},
	{X: -1, Y: 0}, {X: -1, Y: -1}, {X: 0, Y: -1}, {X: 1, Y: -1},
}

func mooreIndex(d image.Point) int {
	for i, v := range mooreDirs {
		if v == d {
			return i
		}
	}
	return -1
}

// contour is the outer boundary of one foreground component.
type contour struct {
	points []image.Point // boundary with straight runs collapsed to their ends
	bounds image.Rectangle
}

// findExternalContours returns the outer boundaries of the 8-connected
// foreground components of bin that are not nested inside another
// component's hole. Components are reported in raster order of their first pixel.
func findExternalContours(bin *image.Gray) []contour {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	fg := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && bin.Pix[y*bin.Stride+x] != 0
	}

	// Background reachable from outside the image through 4-connected steps.
	outside := make([]bool, w*h)
	var queue []int
	seed := func(x, y int) {
		i := y*w + x
		if !fg(x, y) && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		for _, d := range [4]image.Point{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
			nx, ny := x+d.X, y+d.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			seed(nx, ny)
		}
	}

	visited := make([]bool, w*h)
	var contours []contour

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !fg(x, y) || visited[y*w+x] {
				continue
			}

			external := false
			stack := []image.Point{{X: x, Y: y}}
			visited[y*w+x] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				for k, d := range mooreDirs {
					nx, ny := p.X+d.X, p.Y+d.Y
					inside := nx >= 0 && ny >= 0 && nx < w && ny < h
					if k%2 == 0 && (!inside || (!fg(nx, ny) && outside[ny*w+nx])) {
						external = true
					}
					if inside && fg(nx, ny) && !visited[ny*w+nx] {
						visited[ny*w+nx] = true
						stack = append(stack, image.Point{X: nx, Y: ny})
					}
				}
			}

			if !external {
				continue
			}

			boundary := traceBoundary(image.Point{X: x, Y: y}, fg, 4*w*h+8)
			contours = append(contours, contour{
				points: compressChain(boundary),
				bounds: pointBounds(boundary),
			})
		}
	}

	return contours
}

// traceBoundary follows the outer boundary clockwise from start, which must be
// the first foreground pixel of its component in raster order. Tracing stops
// when start is left in the same direction as the first time.
func traceBoundary(start image.Point, fg func(x, y int) bool, limit int) []image.Point {
	next := func(cur image.Point, back int) (int, bool) {
		for i := 1; i < 8; i++ {
			d := (back + i) % 8
			p := cur.Add(mooreDirs[d])
			if fg(p.X, p.Y) {
				return d, true
			}
		}
		return 0, false
	}

	points := []image.Point{start}
	back := 4 // west of the first pixel is background
	first, ok := next(start, back)
	if !ok {
		return points
	}

	cur, d := start, first
	for steps := 0; steps < limit; steps++ {
		step := cur.Add(mooreDirs[d])
		backPixel := cur.Add(mooreDirs[(d+7)%8])
		back = mooreIndex(backPixel.Sub(step))
		cur = step

		nd, _ := next(cur, back)
		if cur == start && nd == first {
			break
		}
		points = append(points, cur)
		d = nd
	}
	return points
}

// compressChain keeps only the points where the boundary changes direction.
func compressChain(points []image.Point) []image.Point {
	n := len(points)
	if n <= 2 {
		return append([]image.Point(nil), points...)
	}
	var out []image.Point
	for i := 0; i < n; i++ {
		prev := points[(i-1+n)%n]
		cur := points[i]
		nxt := points[(i+1)%n]
		if cur.Sub(prev) != nxt.Sub(cur) {
			out = append(out, cur)
		}
	}
	if len(out) == 0 {
		out = append(out, points[0])
	}
	return out
}

// pointBounds returns the smallest rectangle covering every pixel in points.
func pointBounds(points []image.Point) image.Rectangle {
	r := image.Rectangle{Min: points[0], Max: points[0].Add(image.Point{X: 1, Y: 1})}
	for _, p := range points[1:] {
		r = r.Union(image.Rectangle{Min: p, Max: p.Add(image.Point{X: 1, Y: 1})})
	}
	return r
}

// polygonArea is the absolute shoelace area of a closed polygon.
func polygonArea(points []image.Point) float64 {
	n := len(points)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a, b := points[i], points[(i+1)%n]
		sum += float64(a.X*b.Y - b.X*a.Y)
	}
	return math.Abs(sum) / 2
}

// arcLength is the perimeter of a closed polygon.
func arcLength(points []image.Point) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a, b := points[i], points[(i+1)%n]
		sum += math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
	}
	return sum
}

// approxPolyClosed simplifies a closed polygon with Douglas-Peucker. The ring
// is split at the vertex farthest from the first one and each half is
// simplified on its own.
func approxPolyClosed(points []image.Point, epsilon float64) []image.Point {
	n := len(points)
	if n < 3 {
		return append([]image.Point(nil), points...)
	}

	far, farDist := 0, -1.0
	for i, p := range points {
		if d := distance(points[0], p); d > farDist {
			far, farDist = i, d
		}
	}

	firstHalf := points[:far+1]
	secondHalf := append(append([]image.Point(nil), points[far:]...), points[0])

	a := douglasPeucker(firstHalf, epsilon)
	b := douglasPeucker(secondHalf, epsilon)

	out := append([]image.Point(nil), a[:len(a)-1]...)
	out = append(out, b[:len(b)-1]...)
	return out
}

func douglasPeucker(points []image.Point, epsilon float64) []image.Point {
	if len(points) < 3 {
		return append([]image.Point(nil), points...)
	}

	first, last := points[0], points[len(points)-1]
	index, maxDist := 0, 0.0
	for i := 1; i < len(points)-1; i++ {
		if d := segmentDistance(points[i], first, last); d > maxDist {
			index, maxDist = i, d
		}
	}

	if maxDist <= epsilon {
		return []image.Point{first, last}
	}

	left := douglasPeucker(points[:index+1], epsilon)
	right := douglasPeucker(points[index:], epsilon)
	return append(left[:len(left)-1], right...)
}

func distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// segmentDistance is the distance from p to the line through a and b.
func segmentDistance(p, a, b image.Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return distance(p, a)
	}
	return math.Abs(dy*float64(p.X-a.X)-dx*float64(p.Y-a.Y)) / length
}
