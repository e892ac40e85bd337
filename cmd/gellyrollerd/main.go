// Command gellyrollerd runs the pen-plotter control daemon: it owns the
// Transport connection to the motion controller, accepts G-code/SVG jobs,
// and streams progress to WebSocket clients.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
