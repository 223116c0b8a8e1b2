package migctl

import (
	"io"
	"sync"
	"time"
)

// Client is the sending half of the control protocol: it issues migrate
// requests over stream and waits for the matching ack, the way an
// operator tool or test harness triggers spec §4.6's handoff from outside
// the process that owns the connection.
type Client struct {
	stream io.ReadWriter

	ackMu  sync.Mutex
	ackMap map[string]chan struct{}

	done chan struct{}
	once sync.Once
}

// NewClient wraps stream; call Start before the first SendMigrateAndWait.
func NewClient(stream io.ReadWriter) *Client {
	return &Client{
		stream: stream,
		ackMap: map[string]chan struct{}{},
		done:   make(chan struct{}),
	}
}

// Start launches the background reader that demultiplexes incoming acks
// to their waiting SendMigrateAndWait call.
func (c *Client) Start() {
	go func() {
		defer c.close()
		lr := NewLineReader(c.stream)
		for {
			msg, ok, err := lr.Next()
			if err != nil || !ok {
				return
			}
			if msg.Type != TypeAck {
				continue
			}
			c.ackMu.Lock()
			ch := c.ackMap[msg.AckID]
			c.ackMu.Unlock()
			if ch != nil {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (c *Client) close() { c.once.Do(func() { close(c.done) }) }

// Done reports when the background reader has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// SendMigrateAndWait sends one migrate request carrying id and reason, and
// waits up to timeout for its ack. acked is false on timeout or if the
// reader stops first.
func (c *Client) SendMigrateAndWait(id, reason string, timeout time.Duration) (wait time.Duration, acked bool) {
	start := time.Now()

	c.ackMu.Lock()
	ch := make(chan struct{}, 1)
	c.ackMap[id] = ch
	c.ackMu.Unlock()

	_ = WriteLine(c.stream, Message{Type: TypeMigrate, ID: id, Reason: reason})

	select {
	case <-ch:
		acked = true
	case <-time.After(timeout):
		acked = false
	case <-c.done:
		acked = false
	}

	c.ackMu.Lock()
	delete(c.ackMap, id)
	c.ackMu.Unlock()

	wait = time.Since(start)
	return wait, acked
}
