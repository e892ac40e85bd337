package svgcompile

import (
	"fmt"
	"strings"

	"github.com/dirtybirdnj/gellyroller/internal/geometry"
)

// emitGCode renders canvas-placed paths to G-code: header (metric units,
// absolute positioning, pen up, optional dwell), one rapid/pen-down/draw/
// pen-up/dwell sequence per path, and a footer returning to the origin.
// Paths with fewer than two points are skipped.
func emitGCode(paths []geometry.Path, opts *CanvasOptions) string {
	var b strings.Builder

	b.WriteString("G21\n")
	b.WriteString("G90\n")
	b.WriteString("M5\n")
	if opts.HeaderDwell > 0 {
		fmt.Fprintf(&b, "G4 P%d\n", int(opts.HeaderDwell))
	}

	for _, p := range paths {
		if !p.Valid() {
			continue
		}
		fmt.Fprintf(&b, "G0 X%.3f Y%.3f F%d\n", p[0].X, p[0].Y, int(opts.TravelSpeed))
		b.WriteString("M3\n")
		if opts.PenDownDelay > 0 {
			fmt.Fprintf(&b, "G4 P%d\n", int(opts.PenDownDelay))
		}
		for _, pt := range p[1:] {
			fmt.Fprintf(&b, "G1 X%.3f Y%.3f F%d\n", pt.X, pt.Y, int(opts.DrawSpeed))
		}
		b.WriteString("M5\n")
		if opts.PenUpDelay > 0 {
			fmt.Fprintf(&b, "G4 P%d\n", int(opts.PenUpDelay))
		}
	}

	b.WriteString("M5\n")
	fmt.Fprintf(&b, "G0 X0.000 Y0.000 F%d\n", int(opts.TravelSpeed))

	return b.String()
}
