package svgcompile

import (
	"context"
	"strings"
	"testing"
)

func TestCompile_EmptySVG(t *testing.T) {
	result, err := Compile(context.Background(), `<svg xmlns="http://www.w3.org/2000/svg"></svg>`, DefaultCanvasOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(result.GCode, "G21") || !strings.Contains(result.GCode, "G90") {
		t.Fatalf("expected header in gcode, got %q", result.GCode)
	}
	if result.Stats.DrawMoves != 0 || result.Stats.RapidMoves != 1 {
		t.Fatalf("empty SVG should yield only the footer rapid move, got %+v", result.Stats)
	}
}

func TestCompile_SinglePointPathDropped(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg"><path d="M10 10"/></svg>`
	result, err := Compile(context.Background(), svg, DefaultCanvasOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if result.Stats.PenDowns != 0 {
		t.Fatalf("single-point path should be dropped, got %+v", result.Stats)
	}
}

func TestCompile_HeaderDwellOmittedByDefault(t *testing.T) {
	opts := DefaultCanvasOptions()
	result, err := Compile(context.Background(), `<svg xmlns="http://www.w3.org/2000/svg"><line x1="0" y1="0" x2="1" y2="1"/></svg>`, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	header := strings.SplitN(result.GCode, "G0", 2)[0]
	if strings.Contains(header, "G4") {
		t.Fatalf("expected no header dwell when HeaderDwell is unset, got %q", header)
	}
}

func TestCompile_HeaderDwellEmittedWhenSet(t *testing.T) {
	opts := DefaultCanvasOptions()
	opts.HeaderDwell = 250
	result, err := Compile(context.Background(), `<svg xmlns="http://www.w3.org/2000/svg"><line x1="0" y1="0" x2="1" y2="1"/></svg>`, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	lines := strings.Split(result.GCode, "\n")
	if len(lines) < 4 || lines[3] != "G4 P250" {
		t.Fatalf("expected header dwell as the 4th line, got %q", result.GCode)
	}
}

func TestCompile_MarginTooLarge(t *testing.T) {
	opts := DefaultCanvasOptions()
	opts.CanvasWidth = 20
	opts.CanvasHeight = 20
	opts.Margin = 15

	_, err := Compile(context.Background(), `<svg xmlns="http://www.w3.org/2000/svg"><line x1="0" y1="0" x2="1" y2="1"/></svg>`, opts)
	if err == nil {
		t.Fatal("expected ParseError for a margin leaving no usable canvas area")
	}
}

// Compile + stats: a single line, canvas 200x200, margin 10, scaleMode=contain,
// centered alignment. The degenerate (zero-height) bounding box means the
// non-zero axis alone governs scale; this compiler resolves that by treating
// the zero-size axis as non-constraining rather than special-casing the
// whole shape as "pass through identity" (see DESIGN.md).
func TestCompile_LineStats(t *testing.T) {
	opts := DefaultCanvasOptions()
	opts.CanvasWidth = 200
	opts.CanvasHeight = 200
	opts.Margin = 10
	opts.ScaleMode = ScaleContain
	opts.AlignX = AlignXCtr
	opts.AlignY = AlignYCtr
	opts.DrawSpeed = 3000
	opts.TravelSpeed = 6000
	opts.PenDownDelay = 150
	opts.PenUpDelay = 100

	svg := `<svg xmlns="http://www.w3.org/2000/svg"><line x1="0" y1="0" x2="100" y2="0"/></svg>`
	result, err := Compile(context.Background(), svg, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if result.Stats.Shapes != 1 {
		t.Fatalf("shapes = %d, want 1", result.Stats.Shapes)
	}
	if result.Stats.PenDowns != 1 {
		t.Fatalf("penDowns = %d, want 1", result.Stats.PenDowns)
	}
	if result.Stats.DrawMoves != 1 {
		t.Fatalf("drawMoves = %d, want 1", result.Stats.DrawMoves)
	}
	if !strings.Contains(result.GCode, "G0 X50.000 Y100.000") {
		t.Fatalf("expected a rapid move to the scaled+centered start point, got:\n%s", result.GCode)
	}
	if !strings.Contains(result.GCode, "G1 X150.000 Y100.000") {
		t.Fatalf("expected a draw move to the scaled+centered end point, got:\n%s", result.GCode)
	}
}

func TestCompile_ScaleNoneAssumesMillimeters(t *testing.T) {
	opts := DefaultCanvasOptions()
	opts.ScaleMode = ScaleNone
	svg := `<svg xmlns="http://www.w3.org/2000/svg"><line x1="0" y1="0" x2="10" y2="0"/></svg>`
	result, err := Compile(context.Background(), svg, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// scaleMode=none applies no scale factor; translation still places the
	// shape, but the drawn distance must match the unscaled SVG length.
	if result.Stats.DrawDistance != 10 {
		t.Fatalf("drawDistance = %v, want 10 (unscaled)", result.Stats.DrawDistance)
	}
}
