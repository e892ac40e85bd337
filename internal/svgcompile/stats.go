package svgcompile

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Stats is the separate pass tallying what the emitted G-code actually does.
type Stats struct {
	RapidMoves      int
	DrawMoves       int
	PenUps          int
	PenDowns        int
	Shapes          int
	TotalDistance   float64
	DrawDistance    float64
	TravelDistance  float64
	EstimatedTimeMs int
}

var (
	gcodeAxisRe = regexp.MustCompile(`([XYF])(-?\d+\.?\d*)`)
	dwellRe     = regexp.MustCompile(`^G4\s+P(\d+)`)
)

// computeStats tallies rapid/draw moves, pen events, distances, and an
// estimated run time from feed rate plus G4 dwells.
func computeStats(gcode string) Stats {
	var s Stats
	var x, y float64
	var haveXY bool
	var estimateMs float64

	for _, raw := range strings.Split(gcode, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "M3"):
			s.PenDowns++
			s.Shapes++
		case strings.HasPrefix(line, "M5"):
			s.PenUps++
		case strings.HasPrefix(line, "G4"):
			if m := dwellRe.FindStringSubmatch(line); m != nil {
				ms, _ := strconv.Atoi(m[1])
				estimateMs += float64(ms)
			}
		case strings.HasPrefix(line, "G0"), strings.HasPrefix(line, "G1"):
			isRapid := strings.HasPrefix(line, "G0")
			nx, ny, feed := x, y, 0.0
			for _, m := range gcodeAxisRe.FindAllStringSubmatch(line, -1) {
				val, err := strconv.ParseFloat(m[2], 64)
				if err != nil {
					continue
				}
				switch m[1] {
				case "X":
					nx = val
				case "Y":
					ny = val
				case "F":
					feed = val
				}
			}

			if haveXY {
				dist := math.Hypot(nx-x, ny-y)
				s.TotalDistance += dist
				if isRapid {
					s.TravelDistance += dist
				} else {
					s.DrawDistance += dist
				}
				if feed > 0 {
					estimateMs += dist / feed * 60000
				}
			}

			if isRapid {
				s.RapidMoves++
			} else {
				s.DrawMoves++
			}
			x, y = nx, ny
			haveXY = true
		}
	}

	s.EstimatedTimeMs = int(estimateMs)
	return s
}
