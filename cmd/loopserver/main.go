// Command loopserver runs the bundled demonstration echo server (package
// sample), wired to the migctl control plane over QUIC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quicsockloop/loop/sample"
)

func main() {
	opts := sample.DefaultServerOptions()
	flag.StringVar(&opts.ListenAddr, "listen", opts.ListenAddr, "UDP address to listen on")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sample.Serve(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
