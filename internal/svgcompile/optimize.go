package svgcompile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// optimizerBinary is the external linemerge/linesort/simplify tool the
// compiler shells out to when present. It is not part of this module's own
// dependency surface; its presence is an operator-provided runtime detail,
// detected via exec.LookPath.
const optimizerBinary = "gelly-optimize"

// runOptimizer rewrites svg through the external optimizer's merge/order/
// simplify pipeline when the binary is available and opts.Optimize is set.
// If the optimizer is absent or fails, the original SVG is used unchanged.
func runOptimizer(ctx context.Context, svg string, opts *CanvasOptions) string {
	if !opts.Optimize {
		return svg
	}
	bin, err := exec.LookPath(optimizerBinary)
	if err != nil {
		return svg
	}

	tmp, err := os.CreateTemp("", "gellyroller-*.svg")
	if err != nil {
		return svg
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(svg); err != nil {
		tmp.Close()
		return svg
	}
	tmp.Close()

	args := []string{"--merge-tolerance", "0.5", "--order"}
	if opts.Simplify {
		args = append(args, "--simplify", fmt.Sprintf("%.4f", opts.SimplifyTolerance))
	}
	if opts.ScaleMode == ScaleFit {
		args = append(args,
			"--layout",
			"--canvas-width", fmt.Sprintf("%.3f", opts.CanvasWidth),
			"--canvas-height", fmt.Sprintf("%.3f", opts.CanvasHeight),
			"--margin", fmt.Sprintf("%.3f", opts.Margin),
		)
	}
	args = append(args, tmp.Name())

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		return svg
	}
	return string(out)
}

// fitLayoutHandledExternally reports whether the optimizer already laid the
// drawing onto the effective area, so the compiler's own scaler should skip
// its placement pass for this run. Only scaleMode=fit delegates layout to
// the optimizer; every other mode keeps layout in the compiler's own scaler.
func fitLayoutHandledExternally(opts *CanvasOptions) bool {
	if opts.ScaleMode != ScaleFit {
		return false
	}
	_, err := exec.LookPath(optimizerBinary)
	return opts.Optimize && err == nil
}
