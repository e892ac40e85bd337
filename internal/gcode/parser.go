package gcode

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	layerNumRe   = regexp.MustCompile(`(?i)LAYER[:\s]*(\d+)`)
	layerChgRe   = regexp.MustCompile(`(?i)LAYER_CHANGE`)
	colorTagRe   = regexp.MustCompile(`(?i)\b(?:COLOR|PEN)\b\s*[:\s]*(.*)`)
	toolRe       = regexp.MustCompile(`(?:^|\s)T(\d+)\b`)
	toolM6Re     = regexp.MustCompile(`(?i)\bM6\b\s*T?(\d+)?`)
	pauseRe      = regexp.MustCompile(`^M[01]\b`)
	motionRe     = regexp.MustCompile(`^(G0|G1)(\s|$)`)
	axisRe       = regexp.MustCompile(`([XYZ])(-?\d+\.?\d*)`)
	penDownRe    = regexp.MustCompile(`^M[34]\b`)
	penUpRe      = regexp.MustCompile(`^M5\b`)
	zChangeDelta = 0.5
)

// Parse linearly scans content and produces a Plan.
func Parse(content string) (*Plan, error) {
	lines := strings.Split(content, "\n")
	totalLines := len(lines)

	p := &Plan{Content: content}

	var (
		hasExplicitLayers bool
		layerCounter      int
		currentTool       int
		currentPos        Position
		zValid            bool
		penDown           bool
		nextSection       int
	)

	openLayer := func(lineNo int, name string) {
		if len(p.Layers) > 0 {
			last := &p.Layers[len(p.Layers)-1]
			if last.EndLine == 0 {
				last.EndLine = lineNo - 1
			}
		}
		p.Layers = append(p.Layers, Layer{
			Index:     len(p.Layers),
			StartLine: lineNo,
			Name:      name,
			Tool:      currentTool,
		})
	}

	for i, raw := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		var commentText string
		if idx := strings.Index(trimmed, ";"); idx >= 0 {
			commentText = trimmed[idx+1:]
		}

		if commentText != "" {
			if m := layerNumRe.FindStringSubmatch(commentText); m != nil {
				hasExplicitLayers = true
				num, _ := strconv.Atoi(m[1])
				openLayer(lineNo, fmt.Sprintf("Layer %d", num))
				p.Checkpoints = append(p.Checkpoints, Checkpoint{Line: lineNo, Position: currentPos, Type: CheckpointLayer})
			} else if layerChgRe.MatchString(commentText) {
				hasExplicitLayers = true
				layerCounter++
				openLayer(lineNo, fmt.Sprintf("Layer %d", layerCounter))
				p.Checkpoints = append(p.Checkpoints, Checkpoint{Line: lineNo, Position: currentPos, Type: CheckpointLayer})
			} else if m := colorTagRe.FindStringSubmatch(commentText); m != nil && len(p.Layers) > 0 {
				p.Layers[len(p.Layers)-1].Color = strings.TrimSpace(m[1])
			}
		}

		if m := toolRe.FindStringSubmatch(trimmed); m != nil {
			recordToolChange(p, &currentTool, lineNo, m[1])
			if !hasExplicitLayers {
				openLayer(lineNo, fmt.Sprintf("Tool %d", currentTool))
			}
		} else if m := toolM6Re.FindStringSubmatch(trimmed); m != nil && m[1] != "" {
			recordToolChange(p, &currentTool, lineNo, m[1])
			if !hasExplicitLayers {
				openLayer(lineNo, fmt.Sprintf("Tool %d", currentTool))
			}
		}

		if pauseRe.MatchString(trimmed) {
			p.Checkpoints = append(p.Checkpoints, Checkpoint{Line: lineNo, Position: currentPos, Type: CheckpointPause})
			if !hasExplicitLayers {
				nextSection++
				openLayer(lineNo+1, fmt.Sprintf("Section %d", nextSection))
				if len(p.Layers) >= 2 {
					p.Layers[len(p.Layers)-2].EndLine = lineNo
				}
			}
		}

		if penDownRe.MatchString(trimmed) && !penDown {
			penDown = true
			p.Stats.Shapes++
		} else if penUpRe.MatchString(trimmed) && penDown {
			penDown = false
		}

		if m := motionRe.FindStringSubmatch(trimmed); m != nil {
			p.Stats.MovementCommands++
			if m[1] == "G0" {
				p.Stats.RapidCount++
			} else {
				p.Stats.LinearCount++
			}

			axes := axisRe.FindAllStringSubmatch(trimmed, -1)
			var newZ float64
			var zSeen bool
			for _, a := range axes {
				val, err := strconv.ParseFloat(a[2], 64)
				if err != nil {
					continue
				}
				switch a[1] {
				case "X":
					currentPos.X = val
				case "Y":
					currentPos.Y = val
				case "Z":
					newZ = val
					zSeen = true
				}
			}
			if zSeen {
				if zValid && !hasExplicitLayers && !penDown {
					if math.Abs(newZ-currentPos.Z) > zChangeDelta {
						p.Checkpoints = append(p.Checkpoints, Checkpoint{Line: lineNo, Position: currentPos, Type: CheckpointZChange})
					}
				}
				currentPos.Z = newZ
				zValid = true
			}
		}
	}

	p.Stats.TotalLines = totalLines
	p.Stats.EstimatedTimeMs = p.Stats.MovementCommands * 100
	finalize(p, totalLines)

	return p, nil
}

func recordToolChange(p *Plan, currentTool *int, lineNo int, toolStr string) {
	tool, err := strconv.Atoi(toolStr)
	if err != nil {
		return
	}
	prev := *currentTool
	p.ToolChanges = append(p.ToolChanges, ToolChange{Line: lineNo, Tool: tool, PreviousTool: prev})
	p.Checkpoints = append(p.Checkpoints, Checkpoint{Line: lineNo, Position: Position{}, Type: CheckpointToolChange})
	*currentTool = tool
}

// finalize guarantees layers.length >= 1, closes any still-open layer, and
// drops degenerate trailing layers synthesized right at EOF.
func finalize(p *Plan, totalLines int) {
	if len(p.Layers) == 0 {
		p.Layers = []Layer{{Index: 0, StartLine: 1, EndLine: totalLines, Name: "Main", Tool: 0}}
		return
	}

	for len(p.Layers) > 1 && p.Layers[len(p.Layers)-1].StartLine > totalLines {
		p.Layers = p.Layers[:len(p.Layers)-1]
	}

	last := &p.Layers[len(p.Layers)-1]
	if last.EndLine == 0 || last.EndLine < last.StartLine {
		last.EndLine = totalLines
	}
	if last.StartLine > totalLines {
		last.StartLine = totalLines
		last.EndLine = totalLines
	}
}
