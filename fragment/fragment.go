// Package fragment implements the IMAP fragmentizer: a pure, sans-I/O
// incremental tokenizer that splits an append-only byte stream into lines
// and length-prefixed literals, and reassembles them into complete
// messages.
//
// The Fragmentizer never blocks and never owns a socket; callers feed it
// bytes as they arrive (in any chunking, including one byte at a time) and
// drain fragments/messages until it reports that it needs more input.
package fragment

import (
	"bytes"
	"math"
)

// Ending distinguishes how a Line fragment was terminated.
type Ending int

const (
	// EndingCRLF means the line ended in "\r\n".
	EndingCRLF Ending = iota
	// EndingLF means the line ended in a bare "\n" (only accepted when the
	// Fragmentizer is configured in relaxed mode).
	EndingLF
)

// LiteralMode distinguishes synchronizing from non-synchronizing literals.
type LiteralMode int

const (
	// Sync is a synchronizing literal ("{N}"): the sender must wait for a
	// continuation request before the literal bytes may be written.
	Sync LiteralMode = iota
	// NonSync is a non-synchronizing literal ("{N+}" or "{N-}"): the sender
	// proceeds immediately without waiting.
	NonSync
)

// LiteralAnnouncement describes a literal header that trails a Line.
type LiteralAnnouncement struct {
	Length uint32
	Mode   LiteralMode
	// Binary is true for a BINARY extension literal ("~{N}" / "~{N+}").
	Binary bool
}

// Kind discriminates the variants of a Fragment.
type Kind int

const (
	// KindLine is a CRLF/LF-terminated line fragment.
	KindLine Kind = iota
	// KindLiteral is a length-prefixed opaque byte run.
	KindLiteral
)

// Fragment is the smallest unit the Fragmentizer emits: a tagged variant
// over Line and Literal shapes. Only the fields relevant to Kind are
// meaningful.
type Fragment struct {
	Kind Kind

	// Line fields (Kind == KindLine).
	Bytes        []byte
	Ending       Ending
	Announcement *LiteralAnnouncement // nil if the line has no trailing literal header

	// Literal fields (Kind == KindLiteral); Bytes above also holds the
	// literal payload when Kind == KindLiteral.
}

// Message is a complete, reassembled unit ready for a codec: the
// concatenation of a maximal fragment run `Line (Literal Line)*` whose
// final Line has no Announcement.
type Message struct {
	// Bytes is the full concatenation of every fragment's bytes.
	Bytes []byte
	// Fragments is the split view, in emission order.
	Fragments []Fragment
	// Poisoned is true if this message was flagged (via PoisonMessage or a
	// size-limit breach) for discard while it was being assembled.
	Poisoned bool
	// Tag is the tentative IMAP tag decoded from the message's first line,
	// if one could be determined. It is populated even for poisoned
	// messages so a caller (typically a server) can reject with the right
	// tag before the message finishes framing.
	Tag string
}

// EventKind discriminates the result of a single Fragmentizer step.
type EventKind int

const (
	// EventNeedMoreInput means the buffered bytes are insufficient to
	// complete the next fragment; the caller must append more input.
	EventNeedMoreInput EventKind = iota
	// EventFragment means a Fragment (line or literal) was produced but the
	// message is not yet complete.
	EventFragment
	// EventMessage means a Message completed.
	EventMessage
	// EventCrlfViolation means a bare LF line ending was seen while in
	// strict mode; the message is discarded and the parser has
	// re-synchronized at the next line.
	EventCrlfViolation
	// EventMessageTooLong means the current message exceeded
	// MaxMessageSize; the message has been poisoned and will be discarded
	// once it completes.
	EventMessageTooLong
)

// Event is the outcome of one Step call.
type Event struct {
	Kind     EventKind
	Fragment Fragment // valid when Kind == EventFragment
	Message  Message  // valid when Kind == EventMessage or EventCrlfViolation or EventMessageTooLong (partial)
}

// Options configures a Fragmentizer.
type Options struct {
	// CRLFRelaxed, when true, accepts bare-LF line endings instead of
	// treating them as a framing violation.
	CRLFRelaxed bool
	// MaxMessageSize bounds the accumulated bytes of a single in-progress
	// message. Zero means unbounded.
	MaxMessageSize int64
}

// Fragmentizer is a pure function of (buffered bytes, cursor state). It
// owns no socket and performs no I/O; callers push bytes via Push and pop
// results via Step (or the convenience Fill, which steps until
// EventNeedMoreInput).
type Fragmentizer struct {
	opts Options

	buf []byte // append-only accumulator; consumed bytes are discarded from the front lazily
	pos int    // read cursor into buf

	messageStart  int // offset (within buf) where the current message began
	pendingLit    *LiteralAnnouncement
	messageBytes  int64 // accumulated bytes of the in-progress message, for MaxMessageSize
	poisoned      bool
	tentativeTag  string
	haveTentative bool
	curFragments  []Fragment
}

// New creates a Fragmentizer with the given options.
func New(opts Options) *Fragmentizer {
	return &Fragmentizer{opts: opts}
}

// Push appends newly-arrived bytes to the internal buffer. It never blocks
// and never parses; call Step (or Fill) afterwards to make progress.
func (f *Fragmentizer) Push(data []byte) {
	f.buf = append(f.buf, data...)
}

// Buffered returns the number of unconsumed bytes currently held.
func (f *Fragmentizer) Buffered() int {
	return len(f.buf) - f.pos
}

// PoisonMessage marks the message currently being assembled for discard
// once it completes. Calling it twice is equivalent to calling it once.
func (f *Fragmentizer) PoisonMessage() {
	f.poisoned = true
}

// SkipMessage immediately advances message_start to the current read
// cursor, abandoning any fragments accumulated so far for the in-progress
// message without waiting for it to complete. This is dangerous: only safe
// when the caller has an independent reason to trust the stream has
// re-synchronized (e.g. immediately after rejecting a literal region whose
// exact length is known).
func (f *Fragmentizer) SkipMessage() {
	f.messageStart = f.pos
	f.curFragments = nil
	f.messageBytes = 0
	f.poisoned = false
	f.pendingLit = nil
	f.haveTentative = false
	f.tentativeTag = ""
}

// TentativeTag returns the IMAP tag decoded from the first line of the
// message currently being assembled, if the first line has been fully
// received. This lets a server emit a rejection with the correct tag while
// a literal belonging to that message is still being refused.
func (f *Fragmentizer) TentativeTag() (string, bool) {
	return f.tentativeTag, f.haveTentative
}

// Step parses at most one fragment (or completes at most one message) from
// the buffered bytes and returns the outcome.
func (f *Fragmentizer) Step() Event {
	if f.pendingLit != nil {
		return f.stepLiteral()
	}
	return f.stepLine()
}

func (f *Fragmentizer) stepLine() Event {
	remaining := f.buf[f.pos:]
	nl := bytes.IndexByte(remaining, '\n')
	if nl < 0 {
		return Event{Kind: EventNeedMoreInput}
	}

	end := nl + 1 // exclusive end of the line within `remaining`
	var ending Ending
	lineEnd := nl
	if nl > 0 && remaining[nl-1] == '\r' {
		ending = EndingCRLF
		lineEnd = nl - 1
	} else {
		ending = EndingLF
	}

	// Copied, not a subslice: f.buf may later be compacted or reallocated,
	// and fragments already handed out to callers must stay valid.
	lineBytes := append([]byte(nil), remaining[:end]...)

	if ending == EndingLF && !f.opts.CRLFRelaxed {
		// Poison and re-synchronize: the message-so-far, including this
		// line, is discarded; parsing continues at the next byte.
		f.consume(end)
		msg := f.finishMessage(true)
		return Event{Kind: EventCrlfViolation, Message: msg}
	}

	announcement := scanLiteralAnnouncement(remaining[:lineEnd])

	if f.messageStart == f.pos && !f.haveTentative {
		f.tentativeTag, _ = scanTentativeTag(remaining[:lineEnd])
		f.haveTentative = true
	}

	f.consume(end)
	f.messageBytes += int64(len(lineBytes))
	if f.opts.MaxMessageSize > 0 && f.messageBytes > f.opts.MaxMessageSize {
		f.poisoned = true
	}

	frag := Fragment{
		Kind:         KindLine,
		Bytes:        lineBytes,
		Ending:       ending,
		Announcement: announcement,
	}
	f.curFragments = append(f.curFragments, frag)

	if announcement == nil {
		msg := f.finishMessage(false)
		if f.opts.MaxMessageSize > 0 && msg.Poisoned {
			return Event{Kind: EventMessageTooLong, Message: msg}
		}
		return Event{Kind: EventMessage, Message: msg}
	}

	f.pendingLit = announcement
	return Event{Kind: EventFragment, Fragment: frag}
}

func (f *Fragmentizer) stepLiteral() Event {
	need := int(f.pendingLit.Length)
	remaining := f.buf[f.pos:]
	if len(remaining) < need {
		return Event{Kind: EventNeedMoreInput}
	}

	litBytes := append([]byte(nil), remaining[:need]...)
	f.consume(need)
	f.messageBytes += int64(need)
	if f.opts.MaxMessageSize > 0 && f.messageBytes > f.opts.MaxMessageSize {
		f.poisoned = true
	}

	frag := Fragment{Kind: KindLiteral, Bytes: litBytes}
	f.curFragments = append(f.curFragments, frag)
	f.pendingLit = nil

	return Event{Kind: EventFragment, Fragment: frag}
}

// finishMessage assembles the Message spanning from messageStart to the
// current read cursor and resets the cursor for the next message.
func (f *Fragmentizer) finishMessage(forceDiscard bool) Message {
	full := f.buf[f.messageStart:f.pos]
	msg := Message{
		Bytes:     append([]byte(nil), full...),
		Fragments: f.curFragments,
		Poisoned:  f.poisoned || forceDiscard,
		Tag:       f.tentativeTag,
	}

	f.messageStart = f.pos
	f.curFragments = nil
	f.messageBytes = 0
	f.poisoned = false
	f.haveTentative = false
	f.tentativeTag = ""

	return msg
}

// consume advances the read cursor by n bytes and compacts the buffer once
// the unconsumed tail shrinks below half its capacity, so memory does not
// grow unbounded on long-lived connections.
func (f *Fragmentizer) consume(n int) {
	f.pos += n
	if f.pos > 0 && f.pos >= cap(f.buf)/2 && f.pos >= f.messageStart {
		// Only compact when there is no framed-but-unconsumed message data
		// before messageStart that a caller might still reference; since
		// messageStart <= pos always, shifting relative to messageStart is
		// safe for both cursor and message start bookkeeping.
		shift := f.messageStart
		if shift == 0 {
			return
		}
		f.buf = append(f.buf[:0], f.buf[shift:]...)
		f.pos -= shift
		f.messageStart = 0
	}
}

// scanLiteralAnnouncement inspects a line's bytes (terminator excluded) for
// a trailing literal header: "{N}", "{N+}", "{N-}", or the BINARY variant
// "~{N}" / "~{N+}". Any deviation means "no announcement". Digit parsing
// uses checked arithmetic; overflow of a uint32 means "no announcement".
func scanLiteralAnnouncement(line []byte) *LiteralAnnouncement {
	if len(line) == 0 || line[len(line)-1] != '}' {
		return nil
	}
	i := len(line) - 2

	nonSync := false
	if i >= 0 && (line[i] == '+' || line[i] == '-') {
		nonSync = true
		i--
	}

	digitsEnd := i + 1
	for i >= 0 && line[i] >= '0' && line[i] <= '9' {
		i--
	}
	digitsStart := i + 1
	if digitsStart == digitsEnd {
		// No digits at all: "{}" or "{+}" are not announcements.
		return nil
	}
	if i < 0 || line[i] != '{' {
		return nil
	}
	braceIdx := i

	binary := false
	if braceIdx > 0 && line[braceIdx-1] == '~' {
		binary = true
	}

	var n uint64
	for _, d := range line[digitsStart:digitsEnd] {
		n = n*10 + uint64(d-'0')
		if n > math.MaxUint32 {
			return nil
		}
	}

	mode := Sync
	if nonSync {
		mode = NonSync
	}
	return &LiteralAnnouncement{Length: uint32(n), Mode: mode, Binary: binary}
}

// scanTentativeTag extracts the leading atom of a line as a tentative IMAP
// tag, i.e. everything up to the first space. It returns ok=false for
// untagged/continuation lines (leading '*' or '+').
func scanTentativeTag(line []byte) (string, bool) {
	if len(line) == 0 || line[0] == '*' || line[0] == '+' {
		return "", false
	}
	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return string(line), true
	}
	return string(line[:sp]), true
}
