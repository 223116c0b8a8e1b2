package sample

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/quicsockloop/loop/internal/xlog"
	"github.com/quicsockloop/loop/migctl"
)

var clientLog = xlog.For("sample.client")

// ClientOptions configures the demonstration echo client.
type ClientOptions struct {
	ServerAddr string
	Interval   time.Duration
	PingCount  int
}

// DefaultClientOptions mirrors DefaultServerOptions' address and picks a
// short, demo-friendly ping cadence.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{ServerAddr: "127.0.0.1:5242", Interval: 200 * time.Millisecond, PingCount: 10}
}

// Run dials the demo echo server, opens a control stream and a data
// stream, sends opts.PingCount pings at opts.Interval, and — after the
// first half of them — issues one migctl migrate request over the control
// stream, so a caller watching server logs can see the migration flag
// observed on the echo path mid-session.
func Run(ctx context.Context, opts ClientOptions) error {
	conn, err := quic.DialAddr(ctx, opts.ServerAddr, ClientTLSConfig(), &quic.Config{})
	if err != nil {
		return fmt.Errorf("sample: dial: %w", err)
	}
	defer conn.CloseWithError(0, "")

	ctrlStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("sample: open control stream: %w", err)
	}
	ctl := migctl.NewClient(ctrlStream)
	ctl.Start()

	dataStream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("sample: open data stream: %w", err)
	}
	defer dataStream.Close()

	r := bufio.NewReader(dataStream)

	for i := 0; i < opts.PingCount; i++ {
		if i == opts.PingCount/2 {
			wait, acked := ctl.SendMigrateAndWait("mig-1", "demo midpoint trigger", 500*time.Millisecond)
			clientLog.WithField("acked", acked).WithField("wait", wait).Info("migrate request sent")
		}

		payload := fmt.Sprintf("ping-%d\n", i)
		if _, err := dataStream.Write([]byte(payload)); err != nil {
			return fmt.Errorf("sample: write: %w", err)
		}

		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("sample: read: %w", err)
		}
		clientLog.Infof("echo: %s", strings.TrimSpace(line))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.Interval):
		}
	}
	return nil
}
