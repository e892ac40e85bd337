package svgcompile

import (
	"context"

	"github.com/dirtybirdnj/gellyroller/internal/ecode"
)

// Result is the output of a Compile call.
type Result struct {
	GCode string
	Stats Stats
}

// Compile converts svg into a G-code program targeted at the canvas
// described by opts.
func Compile(ctx context.Context, svg string, opts *CanvasOptions) (*Result, error) {
	if opts == nil {
		opts = DefaultCanvasOptions()
	}
	if opts.CanvasWidth-2*opts.Margin <= 0 || opts.CanvasHeight-2*opts.Margin <= 0 {
		return nil, ecode.New(ecode.KindParseError, ecode.Invalid("margin leaves no usable canvas area"))
	}

	rewritten := runOptimizer(ctx, svg, opts)

	paths, _, err := parseSVG(rewritten)
	if err != nil {
		return nil, err
	}

	placed := paths
	if !fitLayoutHandledExternally(opts) {
		placed = layout(paths, opts)
	}

	gcode := emitGCode(placed, opts)
	stats := computeStats(gcode)

	return &Result{GCode: gcode, Stats: stats}, nil
}
