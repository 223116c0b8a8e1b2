// Package migctl is the out-of-band control-plane companion to packages
// loop and dual: a newline-delimited JSON protocol, carried over a
// dedicated QUIC stream, by which an operator or test harness tells a
// running connection to migrate (spec §4.6's "application raises the
// migration flag").
//
// The bundled sample server/client (package sample) use this same protocol
// for their out-of-band signalling. A "migrate" message raises a
// connection's migration flag; it does not relocate a peer's address.
package migctl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType is the discriminator of the control protocol's single
// message envelope.
type MessageType string

const (
	TypeHello   MessageType = "hello"
	TypeMigrate MessageType = "migrate"
	TypeAck     MessageType = "ack"
)

// Message is the single envelope every control-plane line decodes to.
type Message struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`

	// hello
	ClientID string `json:"client_id,omitempty"`

	// migrate: Reason is free-form, surfaced in logs only.
	Reason string `json:"reason,omitempty"`

	// ack
	AckID string `json:"ack_id,omitempty"`
}

// WriteLine marshals msg as one JSON object followed by a newline.
func WriteLine(w io.Writer, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// LineReader reads successive newline-delimited Messages off r.
type LineReader struct{ s *bufio.Scanner }

// NewLineReader wraps r with a generous line buffer; control messages are
// small but must never be truncated mid-line.
func NewLineReader(r io.Reader) *LineReader {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1024*1024)
	return &LineReader{s: s}
}

// Next returns the next message. ok is false at clean EOF; err is non-nil
// on a read error or malformed line.
func (lr *LineReader) Next() (Message, bool, error) {
	if !lr.s.Scan() {
		if err := lr.s.Err(); err != nil {
			return Message{}, false, err
		}
		return Message{}, false, nil
	}
	var msg Message
	if err := json.Unmarshal(lr.s.Bytes(), &msg); err != nil {
		return Message{}, true, fmt.Errorf("migctl: bad control message: %w", err)
	}
	return msg, true, nil
}
