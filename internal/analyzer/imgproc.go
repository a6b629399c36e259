package analyzer

import (
	"image"
	"math"

	"github.com/ivlev/ticketsplit/internal/system"
)

// Fixed kernels used for small apertures when sigma is derived from the size.
var smallGaussianKernels = map[int][]float64{
	1: {1},
	3: {0.25, 0.5, 0.25},
	5: {0.0625, 0.25, 0.375, 0.25, 0.0625},
	7: {0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125},
}

// gaussianKernel returns a normalized 1-D kernel of the given odd size with
// sigma = 0.3*((size-1)*0.5-1) + 0.8.
func gaussianKernel(size int) []float64 {
	if k, ok := smallGaussianKernels[size]; ok {
		return k
	}

	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	kernel := make([]float64, size)
	half := size / 2
	sum := 0.0
	for i := range kernel {
		x := float64(i - half)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflect101 maps an out-of-range index by mirroring without repeating the edge.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// gaussianBlur smooths src into dst with a separable kernel.
func gaussianBlur(src, dst *image.Gray, size int) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	kernel := gaussianKernel(size)
	half := len(kernel) / 2

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for x := 0; x < w; x++ {
			var sum float64
			for k, kv := range kernel {
				sum += kv * float64(row[reflect101(x+k-half, w)])
			}
			tmp[y*w+x] = sum
		}
	}

	for y := 0; y < h; y++ {
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			var sum float64
			for k, kv := range kernel {
				sum += kv * tmp[reflect101(y+k-half, h)*w+x]
			}
			out[x] = clampUint8(math.Round(sum))
		}
	}
}

func clampUint8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// tan(22.5°) and tan(67.5°) split gradient directions into four sectors.
const (
	tan22 = 0.4142135623730950488016887242097
	tan67 = tan22 + 2
)

// canny writes a binary edge map of src into dst (255 = edge).
// Gradients use 3x3 Sobel with replicated borders and the L1 magnitude.
func canny(src, dst *image.Gray, low, high float64) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if low > high {
		low, high = high, low
	}
	lowT, highT := int32(math.Floor(low)), int32(math.Floor(high))

	at := func(x, y int) int32 {
		return int32(src.Pix[clampIndex(y, h)*src.Stride+clampIndex(x, w)])
	}

	dx := make([]int32, w*h)
	dy := make([]int32, w*h)
	mag := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1))
			gy := (at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)) -
				(at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1))
			i := y*w + x
			dx[i], dy[i] = gx, gy
			mag[i] = abs32(gx) + abs32(gy)
		}
	}

	magAt := func(x, y int) int32 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		notEdge = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	var stack []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= lowT {
				continue
			}

			ax := math.Abs(float64(dx[i]))
			ay := math.Abs(float64(dy[i]))
			var keep bool
			switch {
			case ay < ax*tan22:
				keep = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay > ax*tan67:
				keep = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (dx[i] < 0) != (dy[i] < 0) {
					s = -1
				}
				keep = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !keep {
				continue
			}

			if m > highT {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	// Hysteresis: weak pixels survive when 8-connected to a strong one.
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}

	for y := 0; y < h; y++ {
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := range out {
			if state[y*w+x] == strong {
				out[x] = 255
			} else {
				out[x] = 0
			}
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// morphClose performs dilation followed by erosion with a size x size
// rectangle. Pixels outside the image do not take part in either pass.
func morphClose(src, dst *image.Gray, size int) {
	tmp := system.GetGray(src.Rect)
	defer system.PutGray(tmp)

	rectMorph(src, tmp, size, true)
	rectMorph(tmp, dst, size, false)
}

// rectMorph applies a rectangular max (dilate) or min (erode) filter.
// The kernel is separable so rows and columns are filtered in turn.
func rectMorph(src, dst *image.Gray, size int, dilate bool) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	anchor := size / 2
	lo, hi := -anchor, size-1-anchor

	pick := func(a, b uint8) uint8 {
		if dilate == (b > a) {
			return b
		}
		return a
	}

	rows := system.GetGray(src.Rect)
	defer system.PutGray(rows)

	for y := 0; y < h; y++ {
		in := src.Pix[y*src.Stride : y*src.Stride+w]
		out := rows.Pix[y*rows.Stride : y*rows.Stride+w]
		for x := 0; x < w; x++ {
			v := in[x]
			for k := lo; k <= hi; k++ {
				if xx := x + k; xx >= 0 && xx < w {
					v = pick(v, in[xx])
				}
			}
			out[x] = v
		}
	}

	for y := 0; y < h; y++ {
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			v := rows.Pix[y*rows.Stride+x]
			for k := lo; k <= hi; k++ {
				if yy := y + k; yy >= 0 && yy < h {
					v = pick(v, rows.Pix[yy*rows.Stride+x])
				}
			}
			out[x] = v
		}
	}
}
