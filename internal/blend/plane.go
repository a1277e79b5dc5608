package blend

import "math"

// plane is a single channel of float samples, row-major.
type plane struct {
	values []float64
	stride int
}

func newPlane(w, h int) plane {
	return plane{values: make([]float64, w*h), stride: w}
}

func (p *plane) set(x, y int, v float64) { p.values[p.stride*y+x] = v }
func (p *plane) get(x, y int) float64    { return p.values[p.stride*y+x] }
func (p *plane) dx() int                 { return p.stride }
func (p *plane) dy() int                 { return len(p.values) / p.stride }

// gaussianKernel returns a normalised 1-D kernel of radius ceil(3*sigma).
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur is a separable blur with edge samples repeated past the border.
func (p plane) gaussianBlur(sigma float64) plane {
	if sigma <= 0 {
		out := newPlane(p.dx(), p.dy())
		copy(out.values, p.values)
		return out
	}
	k := gaussianKernel(sigma)
	radius := len(k) / 2
	width, height := p.dx(), p.dy()

	// X pass into t.
	t := newPlane(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			acc := 0.0
			for i, w := range k {
				acc += w * p.get(clamp(x+i-radius, 0, width-1), y)
			}
			t.set(x, y, acc)
		}
	}

	// Y pass from t.
	out := newPlane(width, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			acc := 0.0
			for i, w := range k {
				acc += w * t.get(x, clamp(y+i-radius, 0, height-1))
			}
			out.set(x, y, acc)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
