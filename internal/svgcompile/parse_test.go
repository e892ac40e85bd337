package svgcompile

import (
	"testing"
	"time"
)

// A bare numeric token trailing a Z with no following command letter must
// not spin the tokenizer forever: Z takes no parameters, so the token
// index has to advance regardless of what comes next.
func TestParsePathData_TrailingTokenAfterCloseDoesNotHang(t *testing.T) {
	done := make(chan []int, 1)
	go func() {
		paths := parsePathData("M0,0 L10,10 Z 5")
		lens := make([]int, len(paths))
		for i, p := range paths {
			lens[i] = len(p)
		}
		done <- lens
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("parsePathData hung on a trailing token after Z")
	}
}

func TestParsePathData_ClosePathAppendsStartPoint(t *testing.T) {
	paths := parsePathData("M0,0 L10,0 L10,10 Z")
	if len(paths) != 1 {
		t.Fatalf("paths = %d, want 1", len(paths))
	}
	p := paths[0]
	if len(p) != 4 {
		t.Fatalf("points = %d, want 4 (3 explicit + closing point)", len(p))
	}
	if p[3] != p[0] {
		t.Fatalf("closing point = %+v, want start point %+v", p[3], p[0])
	}
}
