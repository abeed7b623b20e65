// Package serverengine implements the server-side mirror of clientengine:
// it emits the greeting, decides literal accept/reject against configured
// size caps, drives AUTHENTICATE as the SASL responder, and drives IDLE
// accept/reject/termination — all sans-I/O, per the same Push/Next
// interrupt contract as the client engine.
package serverengine

import (
	"errors"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/fragment"
	"github.com/meszmate/imapengine/handle"
	"github.com/meszmate/imapengine/receiver"
	"github.com/meszmate/imapengine/secret"
	"github.com/meszmate/imapengine/sender"
)

var (
	errNotDone                      = errors.New("expected DONE")
	errUnexpectedDuringIdleDecision = errors.New("unexpected input while an idle accept/reject decision is pending")
)

// Options configures an Engine.
type Options struct {
	CRLFRelaxed bool
	// MaxLiteralSize bounds an individual literal announcement; a sync
	// literal over this is rejected before its bytes are consumed. 0 is
	// unbounded.
	MaxLiteralSize int64
	// MaxCommandSize bounds the total bytes of one command, literals
	// included. 0 is unbounded.
	MaxCommandSize int64
	// LiteralAcceptText is placed after "+ " in an accepted literal's
	// continuation request.
	LiteralAcceptText string
	// LiteralRejectText is placed after "NO " in a rejected literal's
	// tagged status.
	LiteralRejectText string
}

// DefaultOptions returns the zero-cap, default-text Options.
func DefaultOptions() Options {
	return Options{LiteralAcceptText: "OK", LiteralRejectText: "literal too long"}
}

// Decoder decodes a complete framed message into a typed value.
type Decoder = receiver.Decoder

// DecoderFunc adapts a function to a Decoder.
type DecoderFunc = receiver.DecoderFunc

// CommandKind discriminates a decoded inbound command.
type CommandKind int

const (
	CommandRegular CommandKind = iota
	CommandAuthenticate
	CommandIdle
)

// DecodedCommand is what the caller-supplied command Decoder must produce.
type DecodedCommand struct {
	Kind CommandKind
	Tag  string

	// Body is the opaque command payload for CommandRegular, forwarded to
	// the caller untouched.
	Body interface{}

	// Mechanism and InitialResponse are valid for CommandAuthenticate.
	Mechanism       string
	InitialResponse []byte
}

// AuthenticateData is what the authenticate-data Decoder must produce for
// each frame received while an AUTHENTICATE exchange is in progress.
type AuthenticateData struct {
	Data   []byte
	Cancel bool
}

// EventKind discriminates the result of Next.
type EventKind int

const (
	EventNeedMoreInput EventKind = iota
	EventOutput
	EventCommandReceived
	EventCommandAuthenticateReceived
	EventAuthenticateDataReceived
	EventCommandIdleReceived
	EventIdleDoneReceived
	EventLiteralTooLong
	EventCommandTooLong
	EventExpectedCrlfGotLf
	EventMessageIsPoisoned
	EventMalformedMessage
)

// Event is the result of one Next call.
type Event struct {
	Kind   EventKind
	Handle handle.Handle
	Tag    string

	Bytes []byte

	Command DecodedCommand
	Auth    AuthenticateData

	Discarded secret.Bytes
	Err       error
}

type pending struct {
	h   handle.Handle
	tag string
}

// codecState is the 4-state receive codec machine from spec §4.5.
type codecState int

const (
	codecCommand codecState = iota
	codecAuthenticateData
	codecIdleAccept
	codecIdleDone
)

// Engine is the server-side protocol state machine.
type Engine struct {
	gen  *handle.Generator
	opts Options

	recv *receiver.Receiver
	send *sender.Sender

	commandDecoder   Decoder
	authDataDecoder  Decoder
	idleDoneDecoder  Decoder
	idleAcceptStub   Decoder
	codec            codecState

	pendingAuth *pending
	pendingIdle *pending

	tlsBarrier bool
	caps       *imap.CapSet
}

// New creates an Engine, enqueueing greeting as the first output.
func New(gen *handle.Generator, greeting []byte, commandDecoder, authDataDecoder Decoder, opts Options) *Engine {
	frag := fragment.New(fragment.Options{
		CRLFRelaxed:    opts.CRLFRelaxed,
		MaxMessageSize: opts.MaxCommandSize,
	})
	e := &Engine{
		gen:             gen,
		opts:            opts,
		recv:            receiver.New(frag, commandDecoder),
		send:            sender.New(),
		commandDecoder:  commandDecoder,
		authDataDecoder: authDataDecoder,
		idleDoneDecoder: DecoderFunc(decodeIdleDone),
		idleAcceptStub:  DecoderFunc(rejectAnyInput),
		codec:           codecCommand,
		caps:            imap.NewCapSet(),
	}
	e.enqueueBytes(greeting)
	e.send.StartNext()
	return e
}

func decodeIdleDone(msg []byte) (interface{}, error) {
	s := string(msg)
	if s == "DONE\r\n" || s == "DONE\n" {
		return struct{}{}, nil
	}
	return nil, errNotDone
}

func rejectAnyInput(msg []byte) (interface{}, error) {
	return nil, errUnexpectedDuringIdleDecision
}

// Push appends newly-arrived bytes from the transport.
func (e *Engine) Push(data []byte) {
	e.recv.Push(data)
}

// Caps returns the capability set the conn layer has recorded against this
// engine, never nil. The engine has no CAPABILITY grammar of its own; the
// caller fills this in with SetCaps after computing it from session state.
func (e *Engine) Caps() *imap.CapSet {
	return e.caps
}

// SetCaps replaces the recorded capability set, e.g. after STARTTLS removes
// STARTTLS/LOGINDISABLED from what the server advertises.
func (e *Engine) SetCaps(caps *imap.CapSet) {
	e.caps = caps
}

// BeginSTARTTLSBarrier raises the barrier that must hold between a STARTTLS
// command's tagged OK and the TLS handshake: RFC 3501 §6.2.1 requires any
// plaintext bytes buffered ahead of the handshake to be discarded rather
// than processed, since an attacker able to inject plaintext before the
// peer upgrades could otherwise smuggle a command across the boundary.
// While the barrier is up, Next still emits queued output but otherwise
// reports EventNeedMoreInput instead of decoding further input, so the conn
// layer can safely read bytes off the wire without risking a second
// command being framed.
func (e *Engine) BeginSTARTTLSBarrier() {
	e.tlsBarrier = true
}

// Reset discards buffered input, rebuilds the receiver, and lowers the
// STARTTLS barrier. Call it only after the old transport's bytes have been
// abandoned and a fresh reader has been built around the upgraded conn.
func (e *Engine) Reset() {
	frag := fragment.New(fragment.Options{
		CRLFRelaxed:    e.opts.CRLFRelaxed,
		MaxMessageSize: e.opts.MaxCommandSize,
	})
	e.recv = receiver.New(frag, e.commandDecoder)
	e.codec = codecCommand
	e.pendingAuth = nil
	e.pendingIdle = nil
	e.tlsBarrier = false
}

func (e *Engine) enqueueBytes(b []byte) {
	e.send.EnqueueRegular(sender.QueuedMessage{Pieces: []sender.Piece{{Kind: sender.PieceBytes, Data: b}}})
}

// EnqueueData queues an already-rendered untagged data response.
func (e *Engine) EnqueueData(data []byte) {
	e.enqueueBytes(data)
}

// EnqueueStatus queues an already-rendered status response (tagged or
// untagged).
func (e *Engine) EnqueueStatus(data []byte) {
	e.enqueueBytes(data)
}

// EnqueueContinuationRequest queues an already-rendered "+ ..." line
// unrelated to literal accept or AUTHENTICATE/IDLE (e.g. a bare nudge).
func (e *Engine) EnqueueContinuationRequest(data []byte) {
	e.enqueueBytes(data)
}

// AuthenticateContinue sends a continuation request for an in-progress
// AUTHENTICATE exchange and keeps the receiver codec on AuthenticateData.
func (e *Engine) AuthenticateContinue(h handle.Handle, cont []byte) bool {
	if e.pendingAuth == nil || e.pendingAuth.h != h {
		return false
	}
	e.enqueueBytes(cont)
	return true
}

// AuthenticateFinish sends the tagged completion status for an
// AUTHENTICATE exchange and restores the Command codec.
func (e *Engine) AuthenticateFinish(h handle.Handle, status []byte) bool {
	if e.pendingAuth == nil || e.pendingAuth.h != h {
		return false
	}
	e.enqueueBytes(status)
	e.pendingAuth = nil
	e.codec = codecCommand
	e.recv.SetDecoder(e.commandDecoder)
	return true
}

// IdleAccept sends the accept continuation for a pending IDLE and moves
// the receiver codec to IdleDoneDecoder.
func (e *Engine) IdleAccept(h handle.Handle, cont []byte) bool {
	if e.pendingIdle == nil || e.pendingIdle.h != h {
		return false
	}
	e.enqueueBytes(cont)
	e.codec = codecIdleDone
	e.recv.SetDecoder(e.idleDoneDecoder)
	return true
}

// IdleReject sends the tagged rejection status for a pending IDLE and
// restores the Command codec.
func (e *Engine) IdleReject(h handle.Handle, status []byte) bool {
	if e.pendingIdle == nil || e.pendingIdle.h != h {
		return false
	}
	e.enqueueBytes(status)
	e.pendingIdle = nil
	e.codec = codecCommand
	e.recv.SetDecoder(e.commandDecoder)
	return true
}

// Next advances the engine by one step.
func (e *Engine) Next() Event {
	if e.send.HasCurrent() {
		out := e.send.Drive()
		switch out.Kind {
		case sender.OutputBytes:
			return Event{Kind: EventOutput, Bytes: out.Bytes}
		case sender.OutputDone:
			return e.Next()
		}
	}
	if !e.send.HasCurrent() && e.send.StartNext() {
		return e.Next()
	}
	return e.nextReceive()
}

func (e *Engine) nextReceive() Event {
	if e.tlsBarrier {
		return Event{Kind: EventNeedMoreInput}
	}
	out := e.recv.Next()
	switch out.Kind {
	case receiver.OutcomeNeedMoreInput:
		return Event{Kind: EventNeedMoreInput}

	case receiver.OutcomeLiteralAnnouncement:
		return e.handleLiteralAnnouncement(out.Announcement)

	case receiver.OutcomeExpectedCrlfGotLf:
		return Event{Kind: EventExpectedCrlfGotLf, Discarded: out.Discarded}

	case receiver.OutcomeMessageIsPoisoned:
		return Event{Kind: EventMessageIsPoisoned, Discarded: out.Discarded}

	case receiver.OutcomeMessageTooLong:
		tag := leadingTag(out.Discarded.Declassify())
		e.enqueueBytes([]byte(tag + " BAD command too long\r\n"))
		return Event{Kind: EventCommandTooLong, Tag: tag, Discarded: out.Discarded}

	case receiver.OutcomeDecodingFailure:
		return Event{Kind: EventMalformedMessage, Discarded: out.Discarded, Err: out.Err}

	case receiver.OutcomeDecodingSuccess:
		return e.handleDecoded(out.Value)

	default:
		return Event{Kind: EventNeedMoreInput}
	}
}

func (e *Engine) handleLiteralAnnouncement(ann fragment.LiteralAnnouncement) Event {
	maxLit := e.opts.MaxLiteralSize
	accept := maxLit == 0 || int64(ann.Length) <= maxLit

	if accept {
		if ann.Mode == fragment.Sync {
			e.enqueueBytes([]byte("+ " + e.opts.LiteralAcceptText + "\r\n"))
		}
		return e.Next()
	}

	tag, _ := e.recv.TentativeTag()
	e.enqueueBytes([]byte(tag + " NO " + e.opts.LiteralRejectText + "\r\n"))
	if ann.Mode == fragment.Sync {
		e.recv.Skip()
	} else {
		e.recv.Poison()
	}
	return Event{Kind: EventLiteralTooLong, Tag: tag}
}

func (e *Engine) handleDecoded(val interface{}) Event {
	switch e.codec {
	case codecAuthenticateData:
		data := val.(AuthenticateData)
		h := handle.Handle{}
		if e.pendingAuth != nil {
			h = e.pendingAuth.h
		}
		return Event{Kind: EventAuthenticateDataReceived, Handle: h, Auth: data}

	case codecIdleDone:
		h := handle.Handle{}
		tag := ""
		if e.pendingIdle != nil {
			h = e.pendingIdle.h
			tag = e.pendingIdle.tag
		}
		e.codec = codecCommand
		e.recv.SetDecoder(e.commandDecoder)
		e.pendingIdle = nil
		return Event{Kind: EventIdleDoneReceived, Handle: h, Tag: tag}

	default:
		cmd := val.(DecodedCommand)
		h := e.gen.Next()
		switch cmd.Kind {
		case CommandAuthenticate:
			e.pendingAuth = &pending{h: h, tag: cmd.Tag}
			e.codec = codecAuthenticateData
			e.recv.SetDecoder(e.authDataDecoder)
			return Event{Kind: EventCommandAuthenticateReceived, Handle: h, Tag: cmd.Tag, Command: cmd}
		case CommandIdle:
			e.pendingIdle = &pending{h: h, tag: cmd.Tag}
			e.codec = codecIdleAccept
			e.recv.SetDecoder(e.idleAcceptStub)
			return Event{Kind: EventCommandIdleReceived, Handle: h, Tag: cmd.Tag, Command: cmd}
		default:
			return Event{Kind: EventCommandReceived, Handle: h, Tag: cmd.Tag, Command: cmd}
		}
	}
}

// leadingTag extracts the first whitespace-delimited token of a discarded
// message, used to address a rejection at a command whose full grammar
// was never decoded (it was too long to finish framing).
func leadingTag(b []byte) string {
	i := 0
	for i < len(b) && b[i] != ' ' && b[i] != '\r' && b[i] != '\n' {
		i++
	}
	return string(b[:i])
}
