package comm

import (
	"bufio"
	"bytes"
	"io"
	"time"
)

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Timeout wraps a connection, setting a fresh deadline before each read and write
type Timeout struct {
	rw io.ReadWriter
	d  time.Duration
}

// NewTimeout wraps rw so that every Read and Write must finish within d.
// Connections without deadlines (serial ports, which carry their own read
// timeout) are passed through unchanged.
func NewTimeout(rw io.ReadWriter, d time.Duration) io.ReadWriter {
	if _, ok := rw.(deadliner); !ok {
		return rw
	}
	return &Timeout{rw: rw, d: d}
}

// Read reads from the connection with a deadline
func (t *Timeout) Read(b []byte) (int, error) {
	if err := t.rw.(deadliner).SetReadDeadline(time.Now().Add(t.d)); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

// Write writes to the connection with a deadline
func (t *Timeout) Write(b []byte) (int, error) {
	if err := t.rw.(deadliner).SetWriteDeadline(time.Now().Add(t.d)); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}

// Terminator frames messages on a stream.  Writes have the Tx terminator
// appended; reads return one message with the Rx terminator (and a carriage
// return before it) removed.
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	tx []byte
	rx byte
}

// NewTerminator wraps rw with message framing
func NewTerminator(rw io.ReadWriter, tx string, rx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), tx: []byte(tx), rx: rx}
}

// Write sends b followed by the Tx terminator.  The returned count excludes the terminator.
func (t *Terminator) Write(b []byte) (int, error) {
	msg := make([]byte, 0, len(b)+len(t.tx))
	msg = append(msg, b...)
	msg = append(msg, t.tx...)
	n, err := t.rw.Write(msg)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one message into b.  If b is too small the message is truncated.
func (t *Terminator) Read(b []byte) (int, error) {
	msg, err := t.ReadMessage()
	n := copy(b, msg)
	return n, err
}

// ReadMessage reads up to and including the Rx terminator and returns the
// message without it
func (t *Terminator) ReadMessage() ([]byte, error) {
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	buf = buf[:len(buf)-1]
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}
