package migctl

import (
	"io"

	"github.com/quicsockloop/loop/callback"
	"github.com/quicsockloop/loop/internal/xlog"
)

var ctlLog = xlog.For("migctl")

// Controller listens on one control stream and raises RaiseMigration on
// target for every well-formed "migrate" message it receives, acking each
// one back to the sender once the flag has been set. It is the receiving
// half of the protocol — ordinarily run server-side, next to the
// connection whose migration flag it is allowed to raise.
type Controller struct {
	stream io.ReadWriter
	target *callback.Context
}

// NewController returns a Controller that raises target's migration flag
// in response to migrate messages read from stream.
func NewController(stream io.ReadWriter, target *callback.Context) *Controller {
	return &Controller{stream: stream, target: target}
}

// Serve reads control messages until EOF or a read error, raising the
// migration flag for each migrate message and writing back an ack. It
// returns nil at clean EOF.
func (c *Controller) Serve() error {
	lr := NewLineReader(c.stream)
	for {
		msg, ok, err := lr.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch msg.Type {
		case TypeHello:
			ctlLog.WithField("client_id", msg.ClientID).Info("control stream hello")
		case TypeMigrate:
			c.target.RaiseMigration()
			ctlLog.WithField("reason", msg.Reason).Info("migration flag raised by control plane")
			if werr := WriteLine(c.stream, Message{Type: TypeAck, AckID: msg.ID}); werr != nil {
				return werr
			}
		default:
			ctlLog.WithField("type", string(msg.Type)).Warn("unrecognized control message")
		}
	}
}
