// Package receiver drives a fragment.Fragmentizer against a pluggable
// Decoder to yield typed messages or literal-acceptance decisions to a
// caller, one byte stream interrupt at a time.
package receiver

import (
	"github.com/meszmate/imapengine/fragment"
	"github.com/meszmate/imapengine/secret"
)

// Decoder decodes a complete, already-framed message into a typed value.
// Implementations are the external grammar codec (spec §1); the wire
// package's message-level entry points satisfy this interface via a small
// adapter, since decode only ever runs against bytes the Fragmentizer has
// already fully framed.
type Decoder interface {
	// Decode parses msg and returns the decoded value, or an error if the
	// message does not conform to the expected grammar.
	Decode(msg []byte) (interface{}, error)
}

// DecoderFunc adapts a function to a Decoder.
type DecoderFunc func(msg []byte) (interface{}, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(msg []byte) (interface{}, error) { return f(msg) }

// OutcomeKind discriminates the result of Next.
type OutcomeKind int

const (
	// OutcomeNeedMoreInput means the caller must push more bytes.
	OutcomeNeedMoreInput OutcomeKind = iota
	// OutcomeDecodingSuccess means a message was framed and decoded.
	OutcomeDecodingSuccess
	// OutcomeLiteralAnnouncement means a literal header was seen; the
	// caller must decide to accept or reject before more bytes are
	// consumed as the literal body.
	OutcomeLiteralAnnouncement
	// OutcomeDecodingFailure means a fully framed message was rejected by
	// the Decoder.
	OutcomeDecodingFailure
	// OutcomeExpectedCrlfGotLf means strict mode saw a bare LF.
	OutcomeExpectedCrlfGotLf
	// OutcomeMessageTooLong means the message exceeded the configured
	// size bound.
	OutcomeMessageTooLong
	// OutcomeMessageIsPoisoned means a message that had been poisoned
	// (e.g. by the caller, via Poison) finished framing.
	OutcomeMessageIsPoisoned
)

// Outcome is the result of one Next call.
type Outcome struct {
	Kind OutcomeKind

	// Valid when Kind == OutcomeDecodingSuccess.
	Value interface{}
	// Valid when Kind == OutcomeLiteralAnnouncement.
	Announcement fragment.LiteralAnnouncement
	// Valid for error kinds: the bytes discarded because of the error,
	// wrapped since they may contain credentials.
	Discarded secret.Bytes
	// Err carries the underlying error for OutcomeDecodingFailure.
	Err error
}

// Receiver wraps a Fragmentizer and a Decoder.
type Receiver struct {
	frag    *fragment.Fragmentizer
	decoder Decoder

	// pendingAnnouncement tracks whether the caller still owes an
	// accept/reject decision for an outstanding literal announcement; used
	// only for bookkeeping/asserts, since the Fragmentizer itself gates on
	// having bytes buffered, not on caller acknowledgement.
	pendingAnnouncement bool
}

// New creates a Receiver over frag using decoder to parse completed
// messages.
func New(frag *fragment.Fragmentizer, decoder Decoder) *Receiver {
	return &Receiver{frag: frag, decoder: decoder}
}

// SetDecoder swaps the Decoder used for the next message. Client and server
// engines call this to switch between Greeting/Command/Response/
// AuthenticateData/IdleDone codecs as the protocol state changes.
func (r *Receiver) SetDecoder(decoder Decoder) {
	r.decoder = decoder
}

// Push appends newly-arrived bytes.
func (r *Receiver) Push(data []byte) {
	r.frag.Push(data)
}

// Poison marks the message currently being assembled for discard.
func (r *Receiver) Poison() {
	r.frag.PoisonMessage()
}

// Skip immediately resyncs at the current cursor, abandoning the
// in-progress message. Only safe when the caller independently knows the
// stream has resynchronized (e.g. right after rejecting a literal of known
// length).
func (r *Receiver) Skip() {
	r.frag.SkipMessage()
}

// TentativeTag returns the IMAP tag decoded from the first line of the
// message currently being assembled, if available.
func (r *Receiver) TentativeTag() (string, bool) {
	return r.frag.TentativeTag()
}

// Next advances the underlying Fragmentizer by one step and translates the
// result into a receiver-level Outcome.
func (r *Receiver) Next() Outcome {
	ev := r.frag.Step()

	switch ev.Kind {
	case fragment.EventNeedMoreInput:
		return Outcome{Kind: OutcomeNeedMoreInput}

	case fragment.EventFragment:
		if ev.Fragment.Kind == fragment.KindLine && ev.Fragment.Announcement != nil {
			r.pendingAnnouncement = true
			return Outcome{
				Kind:         OutcomeLiteralAnnouncement,
				Announcement: *ev.Fragment.Announcement,
			}
		}
		// A literal fragment was framed; there is nothing new to surface
		// to the caller until the message completes, so keep driving.
		return r.Next()

	case fragment.EventCrlfViolation:
		return Outcome{
			Kind:      OutcomeExpectedCrlfGotLf,
			Discarded: secret.New(ev.Message.Bytes),
		}

	case fragment.EventMessageTooLong:
		return Outcome{
			Kind:      OutcomeMessageTooLong,
			Discarded: secret.New(ev.Message.Bytes),
		}

	case fragment.EventMessage:
		r.pendingAnnouncement = false
		if ev.Message.Poisoned {
			return Outcome{
				Kind:      OutcomeMessageIsPoisoned,
				Discarded: secret.New(ev.Message.Bytes),
			}
		}
		val, err := r.decoder.Decode(ev.Message.Bytes)
		if err != nil {
			return Outcome{
				Kind:      OutcomeDecodingFailure,
				Discarded: secret.New(ev.Message.Bytes),
				Err:       err,
			}
		}
		return Outcome{Kind: OutcomeDecodingSuccess, Value: val}

	default:
		return Outcome{Kind: OutcomeNeedMoreInput}
	}
}
