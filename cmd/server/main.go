// Command server runs the WebSocket multiplexer with the relay application.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/judwhite/go-svc"
)

func main() {
	if err := svc.Run(&program{}, syscall.SIGINT, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "wsmux: %v\n", err)
		os.Exit(1)
	}
}
