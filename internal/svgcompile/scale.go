package svgcompile

import (
	"math"

	"github.com/dirtybirdnj/gellyroller/internal/geometry"
)

// layout computes the scaled, canvas-placed copy of paths per opts'
// scaleMode/alignX/alignY.
func layout(paths []geometry.Path, opts *CanvasOptions) []geometry.Path {
	min, max, ok := geometry.Bounds(paths)
	if !ok {
		return nil
	}

	bboxW := max.X - min.X
	bboxH := max.Y - min.Y

	availW := opts.CanvasWidth - 2*opts.Margin
	availH := opts.CanvasHeight - 2*opts.Margin

	scale := resolveScale(opts.ScaleMode, bboxW, bboxH, availW, availH)

	scaledW := bboxW * scale
	scaledH := bboxH * scale

	offsetX := opts.Margin + alignFactorX(opts.AlignX)*(availW-scaledW)
	offsetY := opts.Margin + alignFactorY(opts.AlignY)*(availH-scaledH)

	out := make([]geometry.Path, len(paths))
	for i, p := range paths {
		np := make(geometry.Path, len(p))
		for j, pt := range p {
			np[j] = geometry.Point{
				X: (pt.X-min.X)*scale + offsetX,
				Y: (pt.Y-min.Y)*scale + offsetY,
			}
		}
		out[i] = np
	}
	return out
}

func resolveScale(mode ScaleMode, bboxW, bboxH, availW, availH float64) float64 {
	if mode == ScaleNone {
		return 1
	}
	ratioX := math.Inf(1)
	if bboxW > 0 {
		ratioX = availW / bboxW
	}
	ratioY := math.Inf(1)
	if bboxH > 0 {
		ratioY = availH / bboxH
	}
	ratio := math.Min(ratioX, ratioY)
	if math.IsInf(ratio, 1) {
		ratio = 1
	}
	if mode == ScaleContain && ratio > 1 {
		ratio = 1
	}
	return ratio
}

func alignFactorX(a AlignX) float64 {
	switch a {
	case AlignLeft:
		return 0
	case AlignRight:
		return 1
	default:
		return 0.5
	}
}

func alignFactorY(a AlignY) float64 {
	switch a {
	case AlignFront:
		return 0
	case AlignBack:
		return 1
	default:
		return 0.5
	}
}
