package gcode

import (
	"os"
	"path/filepath"
	"testing"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	if err != nil {
		t.Fatalf("reading fixture %s: %v", name, err)
	}
	return string(data)
}

// Three-star fixture: parses to a single Main layer, stats.shapes = 3,
// stats.movementCommands = 28 ± 2.
func TestParse_ThreeStarFixture(t *testing.T) {
	content := readFixture(t, "three_star.gcode")

	plan, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(plan.Layers) != 1 {
		t.Fatalf("layers = %d, want 1", len(plan.Layers))
	}
	if plan.Layers[0].Name != "Main" {
		t.Fatalf("layer name = %q, want Main", plan.Layers[0].Name)
	}
	if plan.Stats.Shapes != 3 {
		t.Fatalf("shapes = %d, want 3", plan.Stats.Shapes)
	}
	if got := plan.Stats.MovementCommands; got < 26 || got > 30 {
		t.Fatalf("movementCommands = %d, want 28±2", got)
	}
	if plan.Layers[0].EndLine != plan.Stats.TotalLines {
		t.Fatalf("last layer EndLine = %d, want %d (total lines)", plan.Layers[0].EndLine, plan.Stats.TotalLines)
	}
}

func TestParse_CommentsOnly(t *testing.T) {
	plan, err := Parse("; just a comment\n; another one\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(plan.Layers) != 1 || plan.Layers[0].Name != "Main" {
		t.Fatalf("expected single synthesized Main layer, got %+v", plan.Layers)
	}
	if plan.Stats.MovementCommands != 0 {
		t.Fatalf("movementCommands = %d, want 0", plan.Stats.MovementCommands)
	}
}

func TestParse_ExplicitLayers(t *testing.T) {
	content := ";LAYER:0\nG0 X1 Y1\nG1 X2 Y2\n;LAYER:1\nG1 X3 Y3\n"
	plan, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(plan.Layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(plan.Layers))
	}
	if plan.Layers[0].EndLine < plan.Layers[0].StartLine {
		t.Fatalf("layer 0 invalid range: %+v", plan.Layers[0])
	}
	if plan.Layers[1].EndLine != plan.Stats.TotalLines {
		t.Fatalf("last layer should extend to EOF: %+v vs total %d", plan.Layers[1], plan.Stats.TotalLines)
	}
}

func TestParse_ToolChangeSynthesizesLayer(t *testing.T) {
	content := "T0\nG1 X1 Y1\nT1\nG1 X2 Y2\n"
	plan, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(plan.ToolChanges) != 2 {
		t.Fatalf("toolChanges = %d, want 2", len(plan.ToolChanges))
	}
	if len(plan.Layers) != 2 {
		t.Fatalf("synthesized layers = %d, want 2, got %+v", len(plan.Layers), plan.Layers)
	}
	if plan.Layers[1].Tool != 1 {
		t.Fatalf("second layer tool = %d, want 1", plan.Layers[1].Tool)
	}
}

func TestParse_PauseCheckspoint(t *testing.T) {
	content := "G1 X1 Y1\nM0\nG1 X2 Y2\n"
	plan, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	found := false
	for _, c := range plan.Checkpoints {
		if c.Type == CheckpointPause {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a pause checkpoint, got %+v", plan.Checkpoints)
	}
}

func TestParse_LayerInvariants(t *testing.T) {
	content := readFixture(t, "three_star.gcode")
	plan, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	for i, l := range plan.Layers {
		if l.EndLine < l.StartLine {
			t.Fatalf("layer %d has EndLine < StartLine: %+v", i, l)
		}
		if i > 0 && l.StartLine < plan.Layers[i-1].EndLine {
			t.Fatalf("layer %d overlaps previous: %+v vs %+v", i, plan.Layers[i-1], l)
		}
	}
}
