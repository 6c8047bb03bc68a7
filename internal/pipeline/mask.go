package pipeline

import (
	"image"
	"image/color"
	"image/draw"
)

// maskPadding is the pixel margin added around every mapped OCR box before
// masking, clamped to the image bounds.
const maskPadding = 5

// blurRadius is the kernel radius for the blur mask.
const blurRadius = 15

// padClamp grows r by pad pixels on every side and clamps it to bounds.
func padClamp(r image.Rectangle, pad int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(r.Min.X-pad, r.Min.Y-pad, r.Max.X+pad, r.Max.Y+pad).Intersect(bounds)
}

// applySolidMask fills the region with opaque black.
func applySolidMask(img *image.RGBA, r image.Rectangle) {
	draw.Draw(img, r, &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
}

// applyBlurMask blurs the region with a separable box kernel, a cheap
// Gaussian approximation. Samples are clamped to the region so content
// outside the masked area does not bleed in. Pure pixel math, no I/O.
func applyBlurMask(img *image.RGBA, r image.Rectangle, radius int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() || radius <= 0 {
		return
	}
	w, h := r.Dx(), r.Dy()

	src := make([]color.RGBA, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src[y*w+x] = img.RGBAAt(r.Min.X+x, r.Min.Y+y)
		}
	}

	clamp := func(v, max int) int {
		if v < 0 {
			return 0
		}
		if v >= max {
			return max - 1
		}
		return v
	}

	// Horizontal pass.
	tmp := make([]color.RGBA, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sr, sg, sb, sa, n int
			for k := -radius; k <= radius; k++ {
				p := src[y*w+clamp(x+k, w)]
				sr += int(p.R)
				sg += int(p.G)
				sb += int(p.B)
				sa += int(p.A)
				n++
			}
			tmp[y*w+x] = color.RGBA{uint8(sr / n), uint8(sg / n), uint8(sb / n), uint8(sa / n)}
		}
	}

	// Vertical pass.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sr, sg, sb, sa, n int
			for k := -radius; k <= radius; k++ {
				p := tmp[clamp(y+k, h)*w+x]
				sr += int(p.R)
				sg += int(p.G)
				sb += int(p.B)
				sa += int(p.A)
				n++
			}
			img.SetRGBA(r.Min.X+x, r.Min.Y+y, color.RGBA{uint8(sr / n), uint8(sg / n), uint8(sb / n), uint8(sa / n)})
		}
	}
}
