package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/auth"
	"github.com/meszmate/imapengine/handle"
	"github.com/meszmate/imapengine/ioadapter"
	"github.com/meszmate/imapengine/serverengine"
	"github.com/meszmate/imapengine/state"
	"github.com/meszmate/imapengine/wire"
)

// Conn represents a single IMAP client connection, driven by a
// serverengine.Engine over an ioadapter.Adapter.
type Conn struct {
	netConn net.Conn
	server  *Server
	session Session

	gen    *handle.Generator
	engine *serverengine.Engine

	adapterMu sync.Mutex // guards adapter across STARTTLS's swap
	adapter   *ioadapter.Adapter

	inboundCh chan []byte
	readErrCh chan error
	doneCh    chan struct{}
	doneOnce  sync.Once

	encoder *ResponseEncoder

	state   *state.Machine
	enabled *imap.CapSet

	logger *slog.Logger

	mu           sync.Mutex
	isTLS        bool
	mailbox      string
	readOnly     bool
	closed       bool
	authIdentity string
}

// newConn creates a new connection.
func newConn(netConn net.Conn, srv *Server) *Conn {
	gen := handle.NewGenerator()

	var greeting bytes.Buffer
	wire.NewEncoder(&greeting).StatusResponse("*", "OK", "", srv.options.GreetingText).Flush()

	engine := serverengine.New(gen, greeting.Bytes(),
		serverengine.DecoderFunc(decodeServerCommand),
		serverengine.DecoderFunc(decodeServerAuthData),
		serverengine.Options{
			MaxLiteralSize:    srv.options.MaxLiteralSize,
			LiteralAcceptText: "OK",
			LiteralRejectText: "literal too long",
		},
	)

	c := &Conn{
		netConn:   netConn,
		server:    srv,
		gen:       gen,
		engine:    engine,
		adapter:   ioadapter.New(netConn, 4096),
		inboundCh: make(chan []byte, 16),
		readErrCh: make(chan error, 1),
		doneCh:    make(chan struct{}),
		encoder:   NewResponseEncoder(wire.NewEncoder(netConn)),
		state:     state.New(imap.ConnStateNotAuthenticated),
		enabled:   imap.NewCapSet(),
		logger:    srv.options.Logger.With("remote", netConn.RemoteAddr().String()),
	}

	_, c.isTLS = netConn.(*tls.Conn)
	c.refreshCaps()

	return c
}

// refreshCaps recomputes the live capability set (which changes once TLS is
// established, dropping STARTTLS/LOGINDISABLED) and records it on the
// engine.
func (c *Conn) refreshCaps() {
	c.engine.SetCaps(imap.NewCapSet(c.server.Capabilities(c)...))
}

// State returns the current connection state.
func (c *Conn) State() imap.ConnState {
	return c.state.State()
}

// SetState transitions the connection to a new state.
func (c *Conn) SetState(s imap.ConnState) error {
	return c.state.Transition(s)
}

// Enabled returns the set of enabled capabilities for this connection.
func (c *Conn) Enabled() *imap.CapSet {
	return c.enabled
}

// IsTLS returns whether the connection is using TLS.
func (c *Conn) IsTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isTLS
}

// Mailbox returns the currently selected mailbox name.
func (c *Conn) Mailbox() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mailbox
}

// SetMailbox sets the currently selected mailbox name.
func (c *Conn) SetMailbox(name string, readOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailbox = name
	c.readOnly = readOnly
}

// IsReadOnly returns whether the mailbox was opened read-only.
func (c *Conn) IsReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// AuthIdentity returns the identity a successful AUTHENTICATE exchange
// validated, or "" if the connection authenticated via LOGIN or not at all.
func (c *Conn) AuthIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authIdentity
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.netConn.LocalAddr()
}

// NetConn returns the underlying net.Conn.
func (c *Conn) NetConn() net.Conn {
	return c.netConn
}

// Server returns the server instance.
func (c *Conn) Server() *Server {
	return c.server
}

// Session returns the backend session.
func (c *Conn) Session() Session {
	return c.session
}

// Logger returns the connection's logger.
func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.doneCh) })

	if c.session != nil {
		_ = c.session.Close()
	}
	return c.netConn.Close()
}

// WriteOK writes a tagged OK response.
func (c *Conn) WriteOK(tag, text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.StatusResponse(tag, "OK", "", text)
	})
}

// WriteOKCode writes a tagged OK response with a response code.
func (c *Conn) WriteOKCode(tag, code, text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.StatusResponse(tag, "OK", code, text)
	})
}

// WriteNO writes a tagged NO response.
func (c *Conn) WriteNO(tag, text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.StatusResponse(tag, "NO", "", text)
	})
}

// WriteBAD writes a tagged BAD response.
func (c *Conn) WriteBAD(tag, text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.StatusResponse(tag, "BAD", "", text)
	})
}

// WriteBYE writes an untagged BYE response.
func (c *Conn) WriteBYE(text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.StatusResponse("*", "BYE", "", text)
	})
}

// WriteCapabilities writes an untagged CAPABILITY response.
func (c *Conn) WriteCapabilities() {
	caps := c.server.Capabilities(c)
	capStrs := make([]string, len(caps))
	for i, cap := range caps {
		capStrs[i] = string(cap)
	}

	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.Star().Atom("CAPABILITY")
		for _, cap := range capStrs {
			enc.SP().Atom(cap)
		}
		enc.CRLF()
	})
}

// WriteContinuation writes a continuation request.
func (c *Conn) WriteContinuation(text string) {
	c.encoder.Encode(func(enc *wire.Encoder) {
		enc.ContinuationRequest(text)
	})
}

// Encoder returns the connection's response encoder.
func (c *Conn) Encoder() *ResponseEncoder {
	return c.encoder
}

// UpgradeTLS upgrades the connection to TLS. It raises the engine's
// STARTTLS barrier first so buffered plaintext ahead of the handshake is
// discarded rather than decoded (RFC 3501 §6.2.1), performs the handshake
// on the raw net.Conn, then swaps in a fresh encoder/adapter pair and
// resets the engine for the encrypted connection's capability set.
func (c *Conn) UpgradeTLS(config *tls.Config) error {
	c.engine.BeginSTARTTLSBarrier()

	tlsConn := tls.Server(c.netConn, config)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	c.mu.Lock()
	c.netConn = tlsConn
	c.isTLS = true
	c.mu.Unlock()

	newAdapter := ioadapter.New(tlsConn, 4096)
	c.adapterMu.Lock()
	c.adapter = newAdapter
	c.adapterMu.Unlock()

	c.encoder = NewResponseEncoder(wire.NewEncoder(tlsConn))
	c.engine.Reset()
	c.refreshCaps()

	go c.readLoop(newAdapter)
	return nil
}

func (c *Conn) currentAdapter() *ioadapter.Adapter {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()
	return c.adapter
}

// readLoop performs blocking reads on a and forwards chunks, or the
// terminal read error, to serve's event loop. A fresh readLoop is started
// against the new adapter after STARTTLS; each instance only needs to stop
// on its own read error or on c.doneCh.
func (c *Conn) readLoop(a *ioadapter.Adapter) {
	buf := make([]byte, 4096)
	for {
		n, err := a.Conn().Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.inboundCh <- chunk:
			case <-c.doneCh:
				return
			}
		}
		if err != nil {
			select {
			case c.readErrCh <- err:
			case <-c.doneCh:
			}
			return
		}
	}
}

// serve is the main connection loop: it drives the engine's Push/Next
// cycle, handing decoded commands to dispatch and writing whatever the
// engine queues (the greeting, literal continuations, IDLE's accept/done,
// malformed/too-long rejections) back out over the current adapter.
func (c *Conn) serve() {
	defer func() { _ = c.Close() }()

	go c.readLoop(c.currentAdapter())

	for {
		ev := c.engine.Next()
		switch ev.Kind {
		case serverengine.EventNeedMoreInput:
			select {
			case buf := <-c.inboundCh:
				c.engine.Push(buf)
			case err := <-c.readErrCh:
				c.logger.Debug("connection error", "error", err)
				return
			}

		case serverengine.EventOutput:
			if _, err := c.currentAdapter().Write(ev.Bytes); err != nil {
				c.logger.Debug("write error", "error", err)
				return
			}

		case serverengine.EventCommandReceived:
			body, _ := ev.Command.Body.([]byte)
			c.logger.Debug("command", "tag", ev.Tag)
			if err := c.server.dispatch(c, ev.Tag, body); err != nil {
				c.logger.Debug("connection ending", "error", err)
				return
			}
			if c.State() == imap.ConnStateLogout {
				return
			}

		case serverengine.EventCommandIdleReceived:
			if err := c.handleIdleCommand(ev); err != nil {
				c.logger.Debug("idle error", "error", err)
				return
			}
			if c.State() == imap.ConnStateLogout {
				return
			}

		case serverengine.EventCommandAuthenticateReceived:
			if err := c.handleAuthenticateCommand(ev); err != nil {
				c.logger.Debug("authenticate error", "error", err)
				return
			}
			if c.State() == imap.ConnStateLogout {
				return
			}

		case serverengine.EventMalformedMessage:
			tag := leadingToken(ev.Discarded.Declassify())
			if tag == "" {
				tag = "*"
			}
			c.WriteBAD(tag, "malformed command")

		case serverengine.EventCommandTooLong, serverengine.EventLiteralTooLong,
			serverengine.EventExpectedCrlfGotLf, serverengine.EventMessageIsPoisoned:
			// The engine has already queued (or deliberately omitted) any
			// response for these; nothing further to do here.

		default:
		}
	}
}

// handleIdleCommand gates a received IDLE against the current connection
// state, then either rejects it or runs the idle period to completion.
func (c *Conn) handleIdleCommand(ev serverengine.Event) error {
	tag := ev.Tag
	h := ev.Handle

	if allowed := state.CommandAllowedStates("IDLE"); allowed != nil {
		if err := c.state.RequireState(allowed...); err != nil {
			c.engine.IdleReject(h, []byte(tag+" BAD "+err.Error()+"\r\n"))
			return nil
		}
	}
	if c.session == nil {
		c.engine.IdleReject(h, []byte(tag+" NO IDLE not supported\r\n"))
		return nil
	}

	c.engine.IdleAccept(h, []byte("+ idling\r\n"))
	return c.runIdle(tag)
}

// runIdle pumps the engine while an IDLE is in progress: session.Idle runs
// on its own goroutine, writing unsolicited updates directly through the
// connection's encoder, until the client's DONE arrives over the wire and
// the engine reports EventIdleDoneReceived.
func (c *Conn) runIdle(tag string) error {
	stop := make(chan struct{})
	idleErrCh := make(chan error, 1)
	w := NewUpdateWriter(c.encoder)
	go func() { idleErrCh <- c.session.Idle(w, stop) }()

	stopOnce := func() error {
		close(stop)
		return <-idleErrCh
	}

	for {
		ev := c.engine.Next()
		switch ev.Kind {
		case serverengine.EventOutput:
			if _, err := c.currentAdapter().Write(ev.Bytes); err != nil {
				_ = stopOnce()
				return err
			}

		case serverengine.EventNeedMoreInput:
			select {
			case buf := <-c.inboundCh:
				c.engine.Push(buf)
			case err := <-c.readErrCh:
				_ = stopOnce()
				return err
			}

		case serverengine.EventIdleDoneReceived:
			idleErr := stopOnce()
			if idleErr != nil {
				c.engine.EnqueueStatus([]byte(tag + " NO " + idleErr.Error() + "\r\n"))
			} else {
				c.engine.EnqueueStatus([]byte(tag + " OK IDLE terminated\r\n"))
			}
			return nil

		case serverengine.EventMalformedMessage:
			_ = stopOnce()
			return fmt.Errorf("malformed input during IDLE: %w", ev.Err)

		default:
			_ = stopOnce()
			return fmt.Errorf("unexpected event %d during IDLE", ev.Kind)
		}
	}
}

// connAuthenticator adapts the server's configured CheckAuthFunc into an
// auth.Authenticator, recording the validated identity on c once the
// credential check succeeds.
type connAuthenticator struct {
	c     *Conn
	check CheckAuthFunc
}

func (a connAuthenticator) Authenticate(ctx context.Context, mechanism, identity string, credentials []byte) error {
	if err := a.check(ctx, mechanism, identity, credentials); err != nil {
		return err
	}
	a.c.mu.Lock()
	a.c.authIdentity = identity
	a.c.mu.Unlock()
	return nil
}

// handleAuthenticateCommand starts a SASL exchange for a received
// AUTHENTICATE, rejecting it outright if the mechanism isn't configured.
func (c *Conn) handleAuthenticateCommand(ev serverengine.Event) error {
	tag := ev.Tag
	h := ev.Handle

	if c.server.options.CheckAuth == nil {
		c.engine.AuthenticateFinish(h, []byte(tag+" NO AUTHENTICATE not supported\r\n"))
		return nil
	}

	mechName := ev.Command.Mechanism
	supported := false
	for _, m := range c.server.options.AuthMechanisms {
		if strings.EqualFold(m, mechName) {
			supported = true
			break
		}
	}
	if !supported {
		c.engine.AuthenticateFinish(h, []byte(tag+" NO unsupported authentication mechanism\r\n"))
		return nil
	}

	mech, err := auth.DefaultRegistry.NewServerMechanism(mechName, connAuthenticator{c: c, check: c.server.options.CheckAuth})
	if err != nil {
		c.engine.AuthenticateFinish(h, []byte(tag+" NO unsupported authentication mechanism\r\n"))
		return nil
	}

	return c.runAuthenticate(tag, h, mech, ev.Command.InitialResponse)
}

// runAuthenticate drives the SASL challenge-response exchange to completion,
// pumping the engine for transport I/O and AuthenticateData arrivals between
// calls to the mechanism.
func (c *Conn) runAuthenticate(tag string, h handle.Handle, mech auth.ServerMechanism, response []byte) error {
	for {
		challenge, done, authErr := mech.Next(response)
		if done {
			if authErr != nil {
				c.engine.AuthenticateFinish(h, []byte(tag+" NO authentication failed\r\n"))
				return nil
			}
			if err := c.SetState(imap.ConnStateAuthenticated); err != nil {
				c.engine.AuthenticateFinish(h, []byte(tag+" NO "+err.Error()+"\r\n"))
				return nil
			}
			c.refreshCaps()
			c.engine.AuthenticateFinish(h, []byte(tag+" OK AUTHENTICATE completed\r\n"))
			return nil
		}

		cont := []byte("+ " + base64.StdEncoding.EncodeToString(challenge) + "\r\n")
		if !c.engine.AuthenticateContinue(h, cont) {
			return fmt.Errorf("authenticate: handle no longer pending")
		}

		var err error
		response, err = c.waitAuthenticateData()
		if err != nil {
			return err
		}
		if response == nil {
			// Client canceled with "*".
			c.engine.AuthenticateFinish(h, []byte(tag+" BAD authentication canceled\r\n"))
			return nil
		}
	}
}

// waitAuthenticateData pumps the engine until the client's next
// AuthenticateData frame arrives, servicing output/input events meanwhile.
// A nil, nil return means the client canceled the exchange with "*".
func (c *Conn) waitAuthenticateData() ([]byte, error) {
	for {
		ev := c.engine.Next()
		switch ev.Kind {
		case serverengine.EventOutput:
			if _, err := c.currentAdapter().Write(ev.Bytes); err != nil {
				return nil, err
			}

		case serverengine.EventNeedMoreInput:
			select {
			case buf := <-c.inboundCh:
				c.engine.Push(buf)
			case err := <-c.readErrCh:
				return nil, err
			}

		case serverengine.EventAuthenticateDataReceived:
			if ev.Auth.Cancel {
				return nil, nil
			}
			return ev.Auth.Data, nil

		case serverengine.EventMalformedMessage:
			return nil, fmt.Errorf("malformed input during AUTHENTICATE: %w", ev.Err)

		default:
			return nil, fmt.Errorf("unexpected event %d during AUTHENTICATE", ev.Kind)
		}
	}
}
