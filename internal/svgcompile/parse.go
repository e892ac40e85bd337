package svgcompile

import (
	"encoding/xml"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dirtybirdnj/gellyroller/internal/ecode"
	"github.com/dirtybirdnj/gellyroller/internal/geometry"
)

const bezierSegments = 10

type svgElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []svgElement `xml:",any"`
}

func (e *svgElement) attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// parseSVG walks the document and returns every supported shape flattened to
// a polyline in SVG-local units, plus the document's ViewBox.
func parseSVG(svg string) ([]geometry.Path, geometry.ViewBox, error) {
	var root svgElement
	if err := xml.Unmarshal([]byte(svg), &root); err != nil {
		return nil, geometry.ViewBox{}, ecode.New(ecode.KindParseError, ecode.Invalid("svg: "+err.Error()))
	}

	vb := parseViewBox(&root)

	var paths []geometry.Path
	var walk func(e *svgElement)
	walk = func(e *svgElement) {
		switch e.XMLName.Local {
		case "path":
			if d, ok := e.attr("d"); ok {
				paths = append(paths, parsePathData(d)...)
			}
		case "polyline":
			if pts, ok := e.attr("points"); ok {
				if p := parsePointList(pts); p.Valid() {
					paths = append(paths, p)
				}
			}
		case "polygon":
			if pts, ok := e.attr("points"); ok {
				p := parsePointList(pts)
				if p.Valid() {
					p = append(p, p[0])
					paths = append(paths, p)
				}
			}
		case "line":
			x1 := attrFloat(e, "x1")
			y1 := attrFloat(e, "y1")
			x2 := attrFloat(e, "x2")
			y2 := attrFloat(e, "y2")
			paths = append(paths, geometry.Path{{X: x1, Y: y1}, {X: x2, Y: y2}})
		case "circle":
			cx := attrFloat(e, "cx")
			cy := attrFloat(e, "cy")
			r := attrFloat(e, "r")
			paths = append(paths, circlePath(cx, cy, r, 36))
		case "rect":
			x := attrFloat(e, "x")
			y := attrFloat(e, "y")
			w := attrFloat(e, "width")
			h := attrFloat(e, "height")
			paths = append(paths, geometry.Path{
				{X: x, Y: y}, {X: x + w, Y: y}, {X: x + w, Y: y + h}, {X: x, Y: y + h}, {X: x, Y: y},
			})
		}
		for i := range e.Nodes {
			walk(&e.Nodes[i])
		}
	}
	walk(&root)

	return paths, vb, nil
}

func attrFloat(e *svgElement, name string) float64 {
	v, _ := e.attr(name)
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// parseViewBox honors viewBox when present; otherwise width/height seed a
// unit box.
func parseViewBox(root *svgElement) geometry.ViewBox {
	if vb, ok := root.attr("viewBox"); ok {
		fields := strings.Fields(strings.ReplaceAll(vb, ",", " "))
		if len(fields) == 4 {
			minX, _ := strconv.ParseFloat(fields[0], 64)
			minY, _ := strconv.ParseFloat(fields[1], 64)
			w, _ := strconv.ParseFloat(fields[2], 64)
			h, _ := strconv.ParseFloat(fields[3], 64)
			return geometry.ViewBox{MinX: minX, MinY: minY, Width: w, Height: h}
		}
	}
	w := attrFloat(root, "width")
	h := attrFloat(root, "height")
	return geometry.ViewBox{Width: w, Height: h}
}

func circlePath(cx, cy, r float64, segments int) geometry.Path {
	path := make(geometry.Path, 0, segments+1)
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		path = append(path, geometry.Point{X: cx + r*math.Cos(theta), Y: cy + r*math.Sin(theta)})
	}
	return path
}

func parsePointList(s string) geometry.Path {
	fields := tokenizeNumbers(s)
	var path geometry.Path
	for i := 0; i+1 < len(fields); i += 2 {
		path = append(path, geometry.Point{X: fields[i], Y: fields[i+1]})
	}
	return path
}

var numberRe = regexp.MustCompile(`-?\d*\.?\d+(?:[eE][-+]?\d+)?`)

func tokenizeNumbers(s string) []float64 {
	matches := numberRe.FindAllString(s, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

var pathTokenRe = regexp.MustCompile(`[MmLlHhVvCcQqZz]|-?\d*\.?\d+(?:[eE][-+]?\d+)?`)

// parsePathData tokenizes a "d" attribute and produces one Path per
// contiguous M-started subpath, flattening C/Q beziers to fixed-segment
// polylines.
func parsePathData(d string) []geometry.Path {
	tokens := pathTokenRe.FindAllString(d, -1)

	var paths []geometry.Path
	var cur geometry.Path
	var cx, cy, startX, startY float64
	var cmd byte

	flush := func() {
		if cur.Valid() {
			paths = append(paths, cur)
		}
		cur = nil
	}

	i := 0
	isCmd := func(tok string) bool {
		return len(tok) == 1 && strings.ContainsAny(tok, "MmLlHhVvCcQqZz")
	}

	for i < len(tokens) {
		tok := tokens[i]
		if isCmd(tok) {
			cmd = tok[0]
			i++
		}

		switch cmd {
		case 'M', 'm':
			if i+1 >= len(tokens) {
				i = len(tokens)
				break
			}
			x, _ := strconv.ParseFloat(tokens[i], 64)
			y, _ := strconv.ParseFloat(tokens[i+1], 64)
			i += 2
			if cmd == 'm' && cur != nil {
				x += cx
				y += cy
			}
			flush()
			cx, cy = x, y
			startX, startY = x, y
			cur = geometry.Path{{X: cx, Y: cy}}
			if cmd == 'M' {
				cmd = 'L'
			} else {
				cmd = 'l'
			}
		case 'L', 'l':
			if i+1 >= len(tokens) {
				i = len(tokens)
				break
			}
			x, _ := strconv.ParseFloat(tokens[i], 64)
			y, _ := strconv.ParseFloat(tokens[i+1], 64)
			i += 2
			if cmd == 'l' {
				x += cx
				y += cy
			}
			cx, cy = x, y
			cur = append(cur, geometry.Point{X: cx, Y: cy})
		case 'H', 'h':
			if i >= len(tokens) {
				i = len(tokens)
				break
			}
			x, _ := strconv.ParseFloat(tokens[i], 64)
			i++
			if cmd == 'h' {
				x += cx
			}
			cx = x
			cur = append(cur, geometry.Point{X: cx, Y: cy})
		case 'V', 'v':
			if i >= len(tokens) {
				i = len(tokens)
				break
			}
			y, _ := strconv.ParseFloat(tokens[i], 64)
			i++
			if cmd == 'v' {
				y += cy
			}
			cy = y
			cur = append(cur, geometry.Point{X: cx, Y: cy})
		case 'C', 'c':
			if i+5 >= len(tokens) {
				i = len(tokens)
				break
			}
			vals := make([]float64, 6)
			for k := 0; k < 6; k++ {
				vals[k], _ = strconv.ParseFloat(tokens[i+k], 64)
			}
			i += 6
			x1, y1, x2, y2, x, y := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
			if cmd == 'c' {
				x1 += cx
				y1 += cy
				x2 += cx
				y2 += cy
				x += cx
				y += cy
			}
			cur = append(cur, flattenCubic(cx, cy, x1, y1, x2, y2, x, y)...)
			cx, cy = x, y
		case 'Q', 'q':
			if i+3 >= len(tokens) {
				i = len(tokens)
				break
			}
			vals := make([]float64, 4)
			for k := 0; k < 4; k++ {
				vals[k], _ = strconv.ParseFloat(tokens[i+k], 64)
			}
			i += 4
			x1, y1, x, y := vals[0], vals[1], vals[2], vals[3]
			if cmd == 'q' {
				x1 += cx
				y1 += cy
				x += cx
				y += cy
			}
			cur = append(cur, flattenQuadratic(cx, cy, x1, y1, x, y)...)
			cx, cy = x, y
		case 'Z', 'z':
			// Z takes no parameters. When this iteration consumed the Z
			// letter itself, i already points at the next command; a stray
			// number after a close-path is skipped so it can't spin the loop.
			if !isCmd(tok) {
				i++
			}
			if cur != nil {
				cur = append(cur, geometry.Point{X: startX, Y: startY})
				cx, cy = startX, startY
			}
		default:
			i++
		}
	}
	flush()

	return paths
}

func flattenCubic(x0, y0, x1, y1, x2, y2, x3, y3 float64) []geometry.Point {
	pts := make([]geometry.Point, 0, bezierSegments)
	for i := 1; i <= bezierSegments; i++ {
		t := float64(i) / float64(bezierSegments)
		mt := 1 - t
		x := mt*mt*mt*x0 + 3*mt*mt*t*x1 + 3*mt*t*t*x2 + t*t*t*x3
		y := mt*mt*mt*y0 + 3*mt*mt*t*y1 + 3*mt*t*t*y2 + t*t*t*y3
		pts = append(pts, geometry.Point{X: x, Y: y})
	}
	return pts
}

func flattenQuadratic(x0, y0, x1, y1, x2, y2 float64) []geometry.Point {
	pts := make([]geometry.Point, 0, bezierSegments)
	for i := 1; i <= bezierSegments; i++ {
		t := float64(i) / float64(bezierSegments)
		mt := 1 - t
		x := mt*mt*x0 + 2*mt*t*x1 + t*t*x2
		y := mt*mt*y0 + 2*mt*t*y1 + t*t*y2
		pts = append(pts, geometry.Point{X: x, Y: y})
	}
	return pts
}
