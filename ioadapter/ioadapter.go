// Package ioadapter turns a net.Conn into the read/write loop a sans-I/O
// engine (clientengine.Engine or serverengine.Engine) expects: push bytes
// in on EventNeedMoreInput, write bytes out on EventOutput, repeat.
package ioadapter

import (
	"bufio"
	"io"
	"net"
)

// Stepper is the minimal shape both clientengine.Engine and
// serverengine.Engine satisfy: Push appends inbound bytes, and the caller
// drives NeedMoreInput/Output/other via its own Next loop. Adapter doesn't
// depend on either engine package directly so it stays reusable for any
// future sans-I/O engine with the same Push/Next shape.
type Stepper interface {
	Push(data []byte)
}

// Adapter drives one Stepper's Push/read/write cycle against a net.Conn.
type Adapter struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	readBuf []byte
}

// New wraps conn for use with an engine's Push/Next loop. readBufSize sizes
// the scratch buffer used for each Read; 0 uses a 4096-byte default.
func New(conn net.Conn, readBufSize int) *Adapter {
	if readBufSize <= 0 {
		readBufSize = 4096
	}
	return &Adapter{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		readBuf: make([]byte, readBufSize),
	}
}

// FillOnce performs one Read and pushes whatever arrived into s. Returns
// io.EOF (or a wrapped network error) when the connection is gone.
func (a *Adapter) FillOnce(s Stepper) error {
	n, err := a.r.Read(a.readBuf)
	if n > 0 {
		buf := make([]byte, n)
		copy(buf, a.readBuf[:n])
		s.Push(buf)
	}
	return err
}

// Write sends bytes produced by an EventOutput, flushing immediately so the
// peer sees them without waiting for more output to batch.
func (a *Adapter) Write(p []byte) (int, error) {
	n, err := a.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, a.w.Flush()
}

// Conn returns the underlying connection, for callers that need
// RemoteAddr/Close/deadline access alongside the adapter.
func (a *Adapter) Conn() net.Conn { return a.conn }

// Close closes the underlying connection.
func (a *Adapter) Close() error { return a.conn.Close() }

var _ io.Writer = (*Adapter)(nil)

// Step is what a caller's per-event translation produces, regardless of
// which engine (clientengine or serverengine) is driving it: output bytes
// to write, a signal that more input is needed, or neither (a protocol
// event the caller has already handled and wants the loop to continue
// past without any I/O).
type Step struct {
	Output        []byte
	NeedMoreInput bool
	Stop          bool
}

// Run drives next() until it asks to Stop or returns an error: on
// NeedMoreInput it reads from the connection and Pushes into s; on Output
// it writes; otherwise it just calls next() again. This is the "I/O
// adapter contract" glue between an engine's Push/Next interrupts and a
// real net.Conn.
func (a *Adapter) Run(s Stepper, next func() (Step, error)) error {
	for {
		step, err := next()
		if err != nil {
			return err
		}
		if step.Stop {
			return nil
		}
		switch {
		case step.NeedMoreInput:
			if err := a.FillOnce(s); err != nil {
				return err
			}
		case len(step.Output) > 0:
			if _, err := a.Write(step.Output); err != nil {
				return err
			}
		}
	}
}
