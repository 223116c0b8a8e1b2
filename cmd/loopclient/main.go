// Command loopclient runs the bundled demonstration echo client (package
// sample) against loopserver, triggering one migctl migrate request
// midway through its ping sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quicsockloop/loop/sample"
)

func main() {
	opts := sample.DefaultClientOptions()
	flag.StringVar(&opts.ServerAddr, "target", opts.ServerAddr, "server address")
	flag.DurationVar(&opts.Interval, "interval", opts.Interval, "ping interval")
	flag.IntVar(&opts.PingCount, "count", opts.PingCount, "number of pings to send")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := sample.Run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("done in %s\n", time.Since(start))
}
