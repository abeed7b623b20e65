// Package clientengine implements the client-side IMAP protocol state
// machine: a sans-I/O engine that composes a sender.Sender and a
// receiver.Receiver to turn enqueued commands into outbound bytes and
// inbound bytes into typed events.
//
// The engine does not itself know the IMAP grammar. Callers supply
// Decoders that turn a framed message into a Greeting or Response value,
// and CommandBody implementations that render a command's wire bytes given
// its tag. This keeps the engine reusable across IMAP4rev1, IMAP4rev2, and
// any extension grammar without modification.
package clientengine

import (
	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/fragment"
	"github.com/meszmate/imapengine/handle"
	"github.com/meszmate/imapengine/receiver"
	"github.com/meszmate/imapengine/secret"
	"github.com/meszmate/imapengine/sender"
)

// Options configures an Engine.
type Options struct {
	// CRLFRelaxed accepts bare-LF line endings in addition to CRLF.
	CRLFRelaxed bool
	// MaxResponseSize bounds a single inbound message; 0 is unbounded.
	MaxResponseSize int64
	// CapabilityFromData extracts a capability list from an untagged data
	// item decoded by responseDecoder, if that item carries one. The engine
	// has no grammar of its own, so it relies on this hook to keep its
	// cached CapSet current without parsing Data itself.
	CapabilityFromData func(data interface{}) ([]string, bool)
}

// Decoder decodes a complete framed message into a typed value.
type Decoder = receiver.Decoder

// DecoderFunc adapts a function to a Decoder.
type DecoderFunc = receiver.DecoderFunc

// CommandBody renders a command's wire bytes given the tag the engine
// assigned it. Implementations live in the grammar codec, not here.
type CommandBody interface {
	Render(tag string) sender.QueuedMessage
}

// CommandKind discriminates the three shapes of in-flight command.
type CommandKind int

const (
	CommandRegular CommandKind = iota
	CommandAuthenticate
	CommandIdle
)

// Command is what a caller enqueues.
type Command struct {
	Kind CommandKind
	Body CommandBody
}

// GreetingKind discriminates the server's opening status.
type GreetingKind int

const (
	GreetingOK GreetingKind = iota
	GreetingPreauth
	GreetingBye
)

// Greeting is the decoded value of the server's opening line.
type Greeting struct {
	Kind GreetingKind
	Raw  interface{}
}

// ResponseKind discriminates a decoded inbound message.
type ResponseKind int

const (
	ResponseStatus ResponseKind = iota
	ResponseData
	ResponseContinuation
)

// Status is a decoded status response, tagged or untagged (Tag == "").
type Status struct {
	Tag  string
	Type imap.StatusResponseType
	Raw  interface{}
}

// Response is what a Decoder must produce for the post-greeting codec.
type Response struct {
	Kind             ResponseKind
	Status           Status
	Data             interface{}
	ContinuationText string
}

// EventKind discriminates the result of Next. It folds the two I/O
// interrupts (NeedMoreInput, Output) and the protocol-level events into a
// single closed set, matching the tagged-variant style used throughout
// this module.
type EventKind int

const (
	EventNeedMoreInput EventKind = iota
	EventOutput
	EventGreetingReceived
	EventCommandSent
	EventCommandAuthenticateStarted
	EventIdleCommandSent
	EventIdleDoneSent
	EventStatusReceived
	EventDataReceived
	EventCommandRejected
	EventAuthenticateStatusReceived
	EventIdleRejected
	EventIdleAccepted
	EventAuthenticateContinuationRequestReceived
	EventContinuationRequestReceived
	EventResponseTooLong
	EventExpectedCrlfGotLf
	EventMessageIsPoisoned
	EventMalformedMessage
)

// Event is the result of one Next call.
type Event struct {
	Kind   EventKind
	Handle handle.Handle

	Bytes            []byte
	Greeting         Greeting
	Status           Status
	Data             interface{}
	ContinuationText string

	Discarded secret.Bytes
	Err       error
}

// inFlight is a command the engine is tracking, from enqueue through its
// terminal outcome.
type inFlight struct {
	h    handle.Handle
	tag  string
	kind CommandKind
	msg  sender.QueuedMessage
}

// Engine is the client-side protocol state machine.
type Engine struct {
	gen  *handle.Generator
	opts Options

	recv *receiver.Receiver
	send *sender.Sender

	greetingDecoder Decoder
	responseDecoder Decoder
	greeted         bool

	pending  []inFlight
	sending  *inFlight // bytes actively being drained by send, or mid-handshake
	awaiting []inFlight // bytes fully sent, waiting for a matching tagged status

	idleAccepted bool // true once the current idle's continuation has been seen

	tlsBarrier bool // true from EventCommandSent of a STARTTLS body until Reset
	caps       *imap.CapSet
}

// New creates an Engine. gen mints handles and tags; greetingDecoder and
// responseDecoder translate complete messages for the two codec phases the
// client ever reads (it never reads AuthenticateData or IdleDone).
func New(gen *handle.Generator, greetingDecoder, responseDecoder Decoder, opts Options) *Engine {
	frag := fragment.New(fragment.Options{
		CRLFRelaxed:    opts.CRLFRelaxed,
		MaxMessageSize: opts.MaxResponseSize,
	})
	return &Engine{
		gen:             gen,
		opts:            opts,
		recv:            receiver.New(frag, greetingDecoder),
		send:            sender.New(),
		greetingDecoder: greetingDecoder,
		responseDecoder: responseDecoder,
		caps:            imap.NewCapSet(),
	}
}

// Caps returns the capability set last observed in an untagged data item
// that Options.CapabilityFromData recognises. CAPABILITY response codes on
// the greeting or on status responses do not update it. It is never nil.
func (e *Engine) Caps() *imap.CapSet {
	return e.caps
}

// STARTTLSPending reports whether a STARTTLS exchange has been sent and is
// waiting on Reset to clear the barrier. While pending, EnqueueCommand
// refuses further commands: RFC 3501 requires the command pipeline to
// drain before the TLS handshake begins, so that no plaintext command sent
// by an attacker ahead of the handshake is processed after it completes.
func (e *Engine) STARTTLSPending() bool {
	return e.tlsBarrier
}

// BeginSTARTTLS enqueues body as a regular command and raises the barrier
// that blocks further EnqueueCommand calls until Reset. It fails if a
// barrier is already raised or any command is in flight, since STARTTLS
// must be the only pipelined command (RFC 3501 §6.2.1).
func (e *Engine) BeginSTARTTLS(body CommandBody) (handle.Handle, bool) {
	if e.tlsBarrier || len(e.pending) > 0 || e.sending != nil || len(e.awaiting) > 0 {
		return handle.Handle{}, false
	}
	h := e.EnqueueCommand(Command{Kind: CommandRegular, Body: body})
	e.tlsBarrier = true
	return h, true
}

// Reset discards any buffered-but-unframed input and rebuilds the receiver
// fresh, then lowers the STARTTLS barrier and clears the cached capability
// set (a pre-TLS CAPABILITY advertisement is not trustworthy once the
// channel is encrypted; RFC 3501 §6.2.1 requires the client to discard it).
// Callers must also construct a new transport reader around the upgraded
// connection: bytes already buffered by the old reader are plaintext that
// arrived before the handshake and must never reach the new codec.
func (e *Engine) Reset() {
	frag := fragment.New(fragment.Options{
		CRLFRelaxed:    e.opts.CRLFRelaxed,
		MaxMessageSize: e.opts.MaxResponseSize,
	})
	e.recv = receiver.New(frag, e.responseDecoder)
	e.tlsBarrier = false
	e.caps = imap.NewCapSet()
}

// Push appends newly-arrived bytes from the transport.
func (e *Engine) Push(data []byte) {
	e.recv.Push(data)
}

// EnqueueCommand queues cmd for transmission and returns the handle bound
// to it. Commands are dispatched in enqueue order (spec property 3).
func (e *Engine) EnqueueCommand(cmd Command) handle.Handle {
	if e.tlsBarrier {
		return handle.Handle{}
	}
	h, tag := e.gen.NextHandleTag()
	msg := cmd.Body.Render(string(tag))
	e.pending = append(e.pending, inFlight{h: h, tag: string(tag), kind: cmd.Kind, msg: msg})
	return h
}

// SetAuthenticateData supplies the next AuthenticateData frame after a
// continuation was received for the current AUTHENTICATE exchange.
func (e *Engine) SetAuthenticateData(data []byte) (handle.Handle, bool) {
	if e.sending == nil || e.sending.kind != CommandAuthenticate {
		return handle.Handle{}, false
	}
	if !e.send.SetAuthenticateData(data) {
		return handle.Handle{}, false
	}
	return e.sending.h, true
}

// SetIdleDone requests termination of the current IDLE. Valid only once
// the server has accepted IDLE.
func (e *Engine) SetIdleDone() (handle.Handle, bool) {
	if e.sending == nil || e.sending.kind != CommandIdle {
		return handle.Handle{}, false
	}
	if !e.send.SetIdleDone() {
		return handle.Handle{}, false
	}
	return e.sending.h, true
}

// Next advances the engine by one step, producing either an I/O interrupt
// or a protocol event. Callers loop: translate EventOutput into a write,
// EventNeedMoreInput into a read, and re-invoke Next.
func (e *Engine) Next() Event {
	if e.sending == nil && !e.send.HasCurrent() && len(e.pending) > 0 {
		return e.startNextPending()
	}

	if e.send.HasCurrent() {
		out := e.send.Drive()
		switch out.Kind {
		case sender.OutputBytes:
			return Event{Kind: EventOutput, Bytes: out.Bytes}
		case sender.OutputDone:
			return e.onSendDone()
		}
		// OutputWaitingFor*: nothing to write; fall through to the
		// receive side so the peer's continuation/status can progress it.
	}

	return e.nextReceive()
}

func (e *Engine) startNextPending() Event {
	next := e.pending[0]
	e.pending = e.pending[1:]
	e.sending = &next

	switch next.kind {
	case CommandRegular:
		e.send.EnqueueRegular(next.msg)
		e.send.StartNext()
		return Event{Kind: EventCommandSent, Handle: next.h}
	case CommandAuthenticate:
		e.send.StartAuthenticate(next.msg.Pieces)
		return Event{Kind: EventCommandAuthenticateStarted, Handle: next.h}
	case CommandIdle:
		e.idleAccepted = false
		e.send.StartIdle(next.msg.Pieces)
		return Event{Kind: EventIdleCommandSent, Handle: next.h}
	default:
		return Event{Kind: EventNeedMoreInput}
	}
}

// onSendDone is called when the sender reports the current message's bytes
// are fully written. For Regular and Idle, the command moves from
// "sending" to "awaiting tagged status"; it does not vanish, since its
// completion is still pending. Authenticate never reaches OutputDone via
// Drive (it terminates via FinishAuthenticate instead).
func (e *Engine) onSendDone() Event {
	cur := e.sending
	e.sending = nil
	if cur == nil {
		return e.Next()
	}
	if cur.kind == CommandIdle {
		e.awaiting = append(e.awaiting, *cur)
		return Event{Kind: EventIdleDoneSent, Handle: cur.h}
	}
	e.awaiting = append(e.awaiting, *cur)
	return e.Next()
}

func (e *Engine) nextReceive() Event {
	if !e.greeted {
		return e.nextGreeting()
	}
	out := e.recv.Next()
	switch out.Kind {
	case receiver.OutcomeNeedMoreInput:
		return Event{Kind: EventNeedMoreInput}
	case receiver.OutcomeLiteralAnnouncement:
		// The client has no literal-size policy of its own; the
		// fragmentizer keeps consuming regardless, so just keep driving.
		return e.Next()
	case receiver.OutcomeExpectedCrlfGotLf:
		return Event{Kind: EventExpectedCrlfGotLf, Discarded: out.Discarded}
	case receiver.OutcomeMessageTooLong:
		return Event{Kind: EventResponseTooLong, Discarded: out.Discarded}
	case receiver.OutcomeMessageIsPoisoned:
		return Event{Kind: EventMessageIsPoisoned, Discarded: out.Discarded}
	case receiver.OutcomeDecodingFailure:
		return Event{Kind: EventMalformedMessage, Discarded: out.Discarded, Err: out.Err}
	case receiver.OutcomeDecodingSuccess:
		return e.handleResponse(out.Value.(Response))
	default:
		return Event{Kind: EventNeedMoreInput}
	}
}

func (e *Engine) nextGreeting() Event {
	out := e.recv.Next()
	switch out.Kind {
	case receiver.OutcomeNeedMoreInput:
		return Event{Kind: EventNeedMoreInput}
	case receiver.OutcomeExpectedCrlfGotLf:
		return Event{Kind: EventExpectedCrlfGotLf, Discarded: out.Discarded}
	case receiver.OutcomeMessageTooLong:
		return Event{Kind: EventResponseTooLong, Discarded: out.Discarded}
	case receiver.OutcomeDecodingFailure:
		return Event{Kind: EventMalformedMessage, Discarded: out.Discarded, Err: out.Err}
	case receiver.OutcomeDecodingSuccess:
		e.greeted = true
		e.recv.SetDecoder(e.responseDecoder)
		return Event{Kind: EventGreetingReceived, Greeting: out.Value.(Greeting)}
	default:
		return Event{Kind: EventNeedMoreInput}
	}
}

func (e *Engine) handleResponse(resp Response) Event {
	switch resp.Kind {
	case ResponseData:
		if e.opts.CapabilityFromData != nil {
			if names, ok := e.opts.CapabilityFromData(resp.Data); ok {
				caps := make([]imap.Cap, len(names))
				for i, n := range names {
					caps[i] = imap.Cap(n)
				}
				e.caps = imap.NewCapSet(caps...)
			}
		}
		return Event{Kind: EventDataReceived, Data: resp.Data}
	case ResponseContinuation:
		return e.handleContinuation(resp.ContinuationText)
	case ResponseStatus:
		return e.handleStatus(resp.Status)
	default:
		return e.Next()
	}
}

func (e *Engine) handleContinuation(text string) Event {
	switch {
	case e.send.WaitingForLiteralAccept():
		e.send.ReleaseLiteral()
		return e.Next()
	case e.send.WaitingForAuthenticateResponse():
		e.send.OnAuthenticateContinuation()
		h := handle.Handle{}
		if e.sending != nil {
			h = e.sending.h
		}
		return Event{Kind: EventAuthenticateContinuationRequestReceived, Handle: h, ContinuationText: text}
	case e.send.WaitingForIdleResponse():
		e.send.OnIdleContinuation()
		e.idleAccepted = true
		h := handle.Handle{}
		if e.sending != nil {
			h = e.sending.h
		}
		return Event{Kind: EventIdleAccepted, Handle: h}
	default:
		return Event{Kind: EventContinuationRequestReceived, ContinuationText: text}
	}
}

func (e *Engine) handleStatus(status Status) Event {
	if e.sending != nil && e.sending.tag == status.Tag && status.Tag != "" {
		switch e.sending.kind {
		case CommandRegular:
			if status.Type == imap.StatusResponseTypeBAD && e.send.WaitingForLiteralAccept() {
				h := e.sending.h
				e.send.AbortCurrent()
				e.sending = nil
				return Event{Kind: EventCommandRejected, Handle: h, Status: status}
			}
		case CommandAuthenticate:
			h := e.sending.h
			e.send.FinishAuthenticate(status.Type == imap.StatusResponseTypeOK)
			e.sending = nil
			return Event{Kind: EventAuthenticateStatusReceived, Handle: h, Status: status}
		case CommandIdle:
			if !e.idleAccepted {
				h := e.sending.h
				e.send.RejectIdle()
				e.sending = nil
				return Event{Kind: EventIdleRejected, Handle: h, Status: status}
			}
		}
	}

	for i, aw := range e.awaiting {
		if aw.tag == status.Tag && status.Tag != "" {
			e.awaiting = append(e.awaiting[:i], e.awaiting[i+1:]...)
			return Event{Kind: EventStatusReceived, Handle: aw.h, Status: status}
		}
	}

	return Event{Kind: EventStatusReceived, Status: status}
}
