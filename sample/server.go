package sample

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/internal/xlog"
	"github.com/quicsockloop/loop/migctl"
)

var serverLog = xlog.For("sample.server")

// ServerOptions configures the demonstration echo server.
type ServerOptions struct {
	ListenAddr string
}

// DefaultServerOptions returns the demo server's default bind address.
func DefaultServerOptions() ServerOptions {
	return ServerOptions{ListenAddr: "127.0.0.1:5242"}
}

// Serve accepts QUIC connections on opts.ListenAddr and, for each one,
// accepts two client-opened streams: a control stream driven by
// migctl.Controller (so an operator can raise that connection's migration
// flag), and a data stream on which it echoes whatever it reads. Each
// connection is served in its own goroutine. Serve returns when ctx is
// cancelled or Accept fails.
//
// This mirrors the teacher's Wrapper/Server/APP + Server/Wrapper split:
// Serve plays the role of Server/Wrapper (transport, control plane), and
// the lines it echoes are this demo's stand-in for Server/APP's business
// logic.
func Serve(ctx context.Context, opts ServerOptions) error {
	tlsConf, err := ServerTLSConfig()
	if err != nil {
		return fmt.Errorf("sample: server tls: %w", err)
	}

	ln, err := quic.ListenAddr(opts.ListenAddr, tlsConf, &quic.Config{})
	if err != nil {
		return fmt.Errorf("sample: listen: %w", err)
	}
	defer ln.Close()

	serverLog.WithField("addr", opts.ListenAddr).Info("echo server listening")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sample: accept: %w", err)
		}
		go serveConn(ctx, conn)
	}
}

func serveConn(ctx context.Context, conn quic.Connection) {
	log := serverLog.WithField("peer", conn.RemoteAddr().String())
	log.Info("connection accepted")

	cctx := callback.NewContext(true)

	ctrlStream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.WithError(err).Warn("control stream not opened")
		return
	}
	ctl := migctl.NewController(ctrlStream, cctx)
	go func() {
		if err := ctl.Serve(); err != nil && ctx.Err() == nil {
			log.WithError(err).Debug("control stream closed")
		}
	}()

	dataStream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.WithError(err).Warn("data stream not opened")
		return
	}
	defer dataStream.Close()

	r := bufio.NewReader(dataStream)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("data stream read ended")
			}
			return
		}
		if cctx.TakeMigration() {
			// This demo has no backup engine to hand off to, so observing the
			// flag here just consumes it; it does not trigger the dual-engine
			// migration that package dual implements.
			log.Info("migration flag observed on echo path (no handoff in this demo)")
		}
		if _, err := dataStream.Write([]byte(line)); err != nil {
			log.WithError(err).Debug("echo write failed")
			return
		}
	}
}
