// Package client implements an IMAP client atop the sans-I/O clientengine
// and scheduler packages: Client drives an ioadapter.Adapter's read/write
// cycle on a background goroutine and exposes blocking, concurrency-safe
// methods (Login, Select, Fetch, ...) that submit a scheduler.Task and wait
// for its terminal result.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/handle"
	"github.com/meszmate/imapengine/ioadapter"
	"github.com/meszmate/imapengine/scheduler"
	"github.com/meszmate/imapengine/wire"
)

// ErrClosed is returned by any Client method called after the connection
// has been closed or lost.
var ErrClosed = errors.New("imapengine/client: connection closed")

// submission is what a public Client method hands to the loop goroutine:
// enqueue task, then deliver its terminal scheduler.Result on resultCh.
type submission struct {
	task     scheduler.Task
	startTLS bool
	resultCh chan scheduler.Result
}

// Client is a connected IMAP4 client session.
type Client struct {
	gen    *handle.Generator
	engine *clientengine.Engine
	sched  *scheduler.Scheduler
	options *Options

	adapterMu sync.Mutex // guards adapter across STARTTLS's swap
	adapter   *ioadapter.Adapter

	submitCh  chan submission
	ctrlCh    chan func()
	inboundCh chan []byte
	readErrCh chan error

	mu          sync.Mutex
	pending     map[handle.Handle]chan scheduler.Result
	state       imap.ConnState
	mailboxName string
	readOnly    bool

	greetingOnce sync.Once
	greetingCh   chan struct{}
	greeting     clientengine.Greeting
	greetingErr  error

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial connects to address over plain TCP.
func Dial(address string, opts ...Option) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...)
}

// DialTLS connects to address and performs a TLS handshake before the
// IMAP greeting is read.
func DialTLS(address string, tlsConfig *tls.Config, opts ...Option) (*Client, error) {
	conn, err := tls.Dial("tcp", address, tlsConfig)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...)
}

// New wraps an already-connected net.Conn, reads the greeting, and returns
// a ready-to-use Client.
func New(conn net.Conn, opts ...Option) (*Client, error) {
	options := DefaultOptions()
	for _, o := range opts {
		o(options)
	}

	gen := handle.NewGenerator()
	eng := clientengine.New(gen,
		clientengine.DecoderFunc(wire.DecodeGreeting),
		clientengine.DecoderFunc(scheduler.DecodeResponse),
		clientengine.Options{CapabilityFromData: capabilityFromData},
	)

	c := &Client{
		gen:        gen,
		engine:     eng,
		sched:      scheduler.New(eng),
		options:    options,
		adapter:    ioadapter.New(conn, 4096),
		submitCh:   make(chan submission),
		ctrlCh:     make(chan func()),
		inboundCh:  make(chan []byte, 16),
		readErrCh:  make(chan error, 1),
		pending:    make(map[handle.Handle]chan scheduler.Result),
		state:      imap.ConnStateNotAuthenticated,
		greetingCh: make(chan struct{}),
		closed:     make(chan struct{}),
	}

	go c.readLoop(c.adapter)
	go c.loop()

	<-c.greetingCh
	if c.greetingErr != nil {
		c.Close()
		return nil, c.greetingErr
	}
	switch c.greeting.Kind {
	case clientengine.GreetingBye:
		c.Close()
		return nil, fmt.Errorf("imapengine/client: server sent BYE in greeting")
	case clientengine.GreetingPreauth:
		c.setState(imap.ConnStateAuthenticated)
	}
	return c, nil
}

// readLoop performs blocking reads on a and forwards chunks, or the
// terminal read error, to the loop goroutine. A fresh readLoop is started
// against the new adapter after STARTTLS; each instance only needs to stop
// on its own read error or on c.closed.
func (c *Client) readLoop(a *ioadapter.Adapter) {
	buf := make([]byte, 4096)
	for {
		n, err := a.Conn().Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.inboundCh <- chunk:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			select {
			case c.readErrCh <- err:
			case <-c.closed:
			}
			return
		}
	}
}

// loop is the sole goroutine permitted to touch c.engine/c.sched. It first
// drives the engine directly until the greeting is decoded (no Scheduler
// involved yet, since EventGreetingReceived isn't one of the events
// Scheduler.Next translates), then switches to interleaving submissions,
// inbound bytes, and Scheduler.Next for the rest of the connection.
func (c *Client) loop() {
	defer close(c.closed)
	if !c.driveGreeting() {
		return
	}
	if err := c.drain(); err != nil {
		c.fail(err)
		return
	}
	for {
		select {
		case sub := <-c.submitCh:
			c.handleSubmission(sub)
		case f := <-c.ctrlCh:
			f()
		case buf := <-c.inboundCh:
			c.engine.Push(buf)
		case err := <-c.readErrCh:
			c.fail(err)
			return
		}
		if err := c.drain(); err != nil {
			c.fail(err)
			return
		}
	}
}

// driveGreeting pumps the raw engine (bypassing the Scheduler) until
// EventGreetingReceived or a fatal read error, writing no output of its own
// (the client never has anything queued before the greeting arrives).
// Returns false if the loop should stop entirely.
func (c *Client) driveGreeting() bool {
	for {
		ev := c.engine.Next()
		switch ev.Kind {
		case clientengine.EventGreetingReceived:
			c.greeting = ev.Greeting
			c.closeGreeting(nil)
			return true
		case clientengine.EventNeedMoreInput:
			select {
			case buf := <-c.inboundCh:
				c.engine.Push(buf)
			case err := <-c.readErrCh:
				c.closeGreeting(err)
				c.fail(err)
				return false
			case <-c.closed:
				return false
			}
		default:
			err := fmt.Errorf("imapengine/client: unexpected event %d before greeting: %v", ev.Kind, ev.Err)
			c.closeGreeting(err)
			c.fail(err)
			return false
		}
	}
}

func (c *Client) handleSubmission(sub submission) {
	var h handle.Handle
	ok := true
	if sub.startTLS {
		h, ok = c.sched.EnqueueSTARTTLS(sub.task)
	} else {
		h = c.sched.Enqueue(sub.task)
	}
	if !ok {
		sub.resultCh <- scheduler.Result{Kind: scheduler.ResultFatal, Err: fmt.Errorf("imapengine/client: command rejected (STARTTLS barrier active)")}
		return
	}
	c.mu.Lock()
	c.pending[h] = sub.resultCh
	c.mu.Unlock()
}

// drain advances the scheduler until it needs more input than is already
// buffered, writing any produced output and dispatching finished or
// unsolicited results along the way.
func (c *Client) drain() error {
	for {
		res := c.sched.Next()
		switch res.Kind {
		case scheduler.ResultNeedMoreInput:
			return nil
		case scheduler.ResultOutput:
			if _, err := c.currentAdapter().Write(res.Bytes); err != nil {
				return err
			}
		case scheduler.ResultTaskFinished:
			c.mu.Lock()
			ch, ok := c.pending[res.Handle]
			delete(c.pending, res.Handle)
			c.mu.Unlock()
			if ok {
				ch <- res
			}
		case scheduler.ResultUnsolicitedData, scheduler.ResultUnsolicitedStatus, scheduler.ResultUnsolicitedContinuation:
			c.dispatchUnsolicited(res)
		case scheduler.ResultFatal:
			return res.Err
		}
	}
}

func (c *Client) currentAdapter() *ioadapter.Adapter {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.adapter
}

func (c *Client) dispatchUnsolicited(res scheduler.Result) {
	if res.Kind != scheduler.ResultUnsolicitedData {
		return
	}
	c.applyDataUpdate(res.Data, c.options.UnilateralDataHandler)
}

func (c *Client) applyDataUpdate(d interface{}, h *UnilateralDataHandler) {
	rd, ok := d.(scheduler.ResponseData)
	if !ok {
		return
	}
	switch rd.Kind {
	case scheduler.DataExists:
		if h != nil && h.Exists != nil {
			h.Exists(rd.Exists)
		}
	case scheduler.DataRecent:
		if h != nil && h.Recent != nil {
			h.Recent(rd.Recent)
		}
	case scheduler.DataFetch:
		if h != nil && h.Fetch != nil {
			flagStrs := make([]string, len(rd.Fetch.Flags))
			for i, f := range rd.Fetch.Flags {
				flagStrs[i] = string(f)
			}
			h.Fetch(uint32(rd.Fetch.SeqNum), flagStrs)
		}
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[handle.Handle]chan scheduler.Result)
		c.mu.Unlock()
		for _, ch := range pending {
			ch <- scheduler.Result{Kind: scheduler.ResultFatal, Err: err}
		}
		c.closeGreeting(err)
		_ = c.currentAdapter().Close()
	})
}

// closeGreeting closes greetingCh once, recording err if the greeting was
// never reached. Safe to call from both driveGreeting and fail.
func (c *Client) closeGreeting(err error) {
	c.greetingOnce.Do(func() {
		c.greetingErr = err
		close(c.greetingCh)
	})
}

// submit enqueues task on the loop goroutine and blocks for its terminal
// result.
func (c *Client) submit(task scheduler.Task) (scheduler.Result, error) {
	return c.submitVia(submission{task: task})
}

// submitSTARTTLS is submit's STARTTLS-specific sibling: it enqueues through
// the engine's barrier path instead of EnqueueCommand.
func (c *Client) submitSTARTTLS(task scheduler.Task) (scheduler.Result, error) {
	return c.submitVia(submission{task: task, startTLS: true})
}

func (c *Client) submitVia(sub submission) (scheduler.Result, error) {
	sub.resultCh = make(chan scheduler.Result, 1)
	select {
	case c.submitCh <- sub:
	case <-c.closed:
		return scheduler.Result{}, ErrClosed
	}
	select {
	case res := <-sub.resultCh:
		if res.Kind == scheduler.ResultFatal {
			return res, res.Err
		}
		return res, nil
	case <-c.closed:
		return scheduler.Result{}, ErrClosed
	}
}

// runOnLoop runs f on the loop goroutine and waits for it to return. Used
// by StartTLS and Idle's Done to touch c.engine/c.sched outside the normal
// submission path.
func (c *Client) runOnLoop(f func()) bool {
	done := make(chan struct{})
	wrapped := func() { f(); close(done) }
	select {
	case c.ctrlCh <- wrapped:
	case <-c.closed:
		return false
	}
	select {
	case <-done:
		return true
	case <-c.closed:
		return false
	}
}

func capabilityFromData(data interface{}) ([]string, bool) {
	rd, ok := data.(scheduler.ResponseData)
	if !ok || rd.Kind != scheduler.DataCapability {
		return nil, false
	}
	return rd.Capabilities, true
}

// statusErr converts a task's CommandResult into an *imap.IMAPError, or nil
// if the command succeeded.
func statusErr(cr scheduler.CommandResult) error {
	if cr.OK {
		return nil
	}
	if sr, ok := cr.Status.Raw.(*imap.StatusResponse); ok {
		return &imap.IMAPError{StatusResponse: sr}
	}
	return &imap.IMAPError{StatusResponse: &imap.StatusResponse{Type: cr.Status.Type, Text: "command failed"}}
}

// resultErr extracts the CommandResult embedded in a ResultTaskFinished's
// Output and converts it to an error, or returns the Result's own error for
// a fatal (e.g. connection-closed) termination.
func resultErr(res scheduler.Result, err error) error {
	if err != nil {
		return err
	}
	switch out := res.Output.(type) {
	case *scheduler.CommandResult:
		return statusErr(*out)
	case scheduler.CommandResult:
		return statusErr(out)
	case scheduler.SelectResult:
		return statusErr(out.CommandResult)
	case scheduler.FetchResult:
		return statusErr(out.CommandResult)
	case scheduler.SearchResult:
		return statusErr(out.CommandResult)
	case scheduler.ListResult:
		return statusErr(out.CommandResult)
	case scheduler.AppendResult:
		return statusErr(out.CommandResult)
	case scheduler.CopyResult:
		return statusErr(out.CommandResult)
	case scheduler.LogoutResult:
		return statusErr(out.CommandResult)
	case scheduler.CapabilityResult:
		return statusErr(out.CommandResult)
	case scheduler.IdleResult:
		return statusErr(out.CommandResult)
	default:
		return nil
	}
}

// HasCap reports whether the server has advertised the named capability.
func (c *Client) HasCap(name string) bool {
	return c.sched.Caps().Has(imap.Cap(name))
}

// Caps returns the capability set last observed from the server.
func (c *Client) Caps() *imap.CapSet {
	return c.sched.Caps()
}

// State returns the connection's current IMAP state.
func (c *Client) State() imap.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s imap.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Mailbox returns the name of the currently selected mailbox, or "" if
// none is selected.
func (c *Client) Mailbox() (name string, readOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mailboxName, c.readOnly
}

func (c *Client) setMailbox(name string, readOnly bool) {
	c.mu.Lock()
	c.mailboxName = name
	c.readOnly = readOnly
	c.mu.Unlock()
}

// Close shuts down the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	<-c.closed
	return c.DisconnectErr()
}

// DisconnectErr returns the error that ended the connection, or nil for a
// clean Close.
func (c *Client) DisconnectErr() error {
	if c.closeErr == ErrClosed {
		return nil
	}
	return c.closeErr
}

// Done returns a channel closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}
