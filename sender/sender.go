// Package sender implements the IMAP engine's outbound half: a FIFO of
// queued messages plus the small activity state machines that govern when
// a synchronizing literal, AUTHENTICATE continuation, or IDLE continuation
// may proceed.
package sender

// Piece is one outbound unit: either plain bytes or a literal payload that
// may need to wait for a continuation response before being written.
type PieceKind int

const (
	// PieceBytes is plain bytes (a command line, a literal header, a
	// trailing CRLF).
	PieceBytes PieceKind = iota
	// PieceSyncLiteral is a literal payload gated on a continuation
	// response.
	PieceSyncLiteral
	// PieceNonSyncLiteral is a literal payload that flows through
	// immediately.
	PieceNonSyncLiteral
)

// Piece is one element of a queued message's serialization.
type Piece struct {
	Kind PieceKind
	Data []byte
}

// QueuedMessage is a fully-serialized outbound unit: an ordered list of
// Pieces, at most one of which is a PieceSyncLiteral that must pause for a
// continuation (LITERAL+/- pieces never pause).
type QueuedMessage struct {
	Pieces []Piece
}

// ActivityKind discriminates which per-message handshake, if any, is
// currently in progress.
type ActivityKind int

const (
	ActivityNone ActivityKind = iota
	ActivityRegular
	ActivityAuthenticate
	ActivityIdle
)

// RegularState is the activity state machine for an ordinary command that
// may contain synchronizing literals (spec §4.3).
type RegularState int

const (
	RegularPushingFragments RegularState = iota
	RegularWaitingForFragmentsSent
	RegularWaitingForLiteralAccepted
	RegularDone
	RegularAbort
)

// AuthenticateState is the activity state machine for an AUTHENTICATE
// exchange (spec §4.3).
type AuthenticateState int

const (
	AuthPushingAuthenticate AuthenticateState = iota
	AuthWaitingForAuthenticateSent
	AuthWaitingForAuthenticateResponse
	AuthWaitingForAuthenticateDataSet
	AuthPushingAuthenticateData
	AuthWaitingForAuthenticateDataSent
	AuthAccepted
	AuthRejected
)

// IdleState is the activity state machine for an IDLE exchange (spec §4.3).
type IdleState int

const (
	IdlePushingIdle IdleState = iota
	IdleWaitingForIdleSent
	IdleWaitingForIdleResponse
	IdleWaitingForIdleDoneSet
	IdlePushingIdleDone
	IdleWaitingForIdleDoneSent
	IdleDone
	IdleRejected
)

// current is the message actively being serialized, plus its activity
// state. Exactly one of the *State fields is meaningful, selected by Kind.
type current struct {
	kind ActivityKind

	pieces    []Piece
	nextPiece int

	regular      RegularState
	limboLiteral *Piece // the sync literal currently withheld, if any
	litAccepted  bool   // the peer has released the literal at pieces[nextPiece]

	authState AuthenticateState

	idleState IdleState
}

// Sender is a FIFO of queued messages plus at most one "current" message
// being actively serialized.
type Sender struct {
	queue []QueuedMessage
	cur   *current
}

// New creates an empty Sender.
func New() *Sender {
	return &Sender{}
}

// EnqueueRegular queues an ordinary command for transmission.
func (s *Sender) EnqueueRegular(msg QueuedMessage) {
	s.queue = append(s.queue, msg)
}

// Idle and authenticate messages are pushed immediately as "current" since
// they are always the sole in-flight command of their kind; regular
// commands go through the FIFO so enqueue order is preserved even when the
// caller enqueues many at once (spec §8 property 3).

// HasCurrent reports whether a message is actively being serialized.
func (s *Sender) HasCurrent() bool {
	return s.cur != nil
}

// StartNext promotes the next queued regular message to "current", if none
// is already active. Returns false if there is nothing to start.
func (s *Sender) StartNext() bool {
	if s.cur != nil || len(s.queue) == 0 {
		return false
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	s.cur = &current{kind: ActivityRegular, pieces: msg.Pieces, regular: RegularPushingFragments}
	return true
}

// StartAuthenticate begins an AUTHENTICATE exchange as the current message.
// Returns false if a message is already current.
func (s *Sender) StartAuthenticate(pieces []Piece) bool {
	if s.cur != nil {
		return false
	}
	s.cur = &current{kind: ActivityAuthenticate, pieces: pieces, authState: AuthPushingAuthenticate}
	return true
}

// StartIdle begins an IDLE exchange as the current message. Returns false
// if a message is already current.
func (s *Sender) StartIdle(pieces []Piece) bool {
	if s.cur != nil {
		return false
	}
	s.cur = &current{kind: ActivityIdle, pieces: pieces, idleState: IdlePushingIdle}
	return true
}

// OutputKind discriminates what Drive produced.
type OutputKind int

const (
	OutputNothing OutputKind = iota
	OutputBytes
	OutputWaitingForLiteralAccept
	OutputWaitingForAuthenticateResponse
	OutputWaitingForIdleResponse
	OutputDone
)

// Output is the result of one Drive call.
type Output struct {
	Kind  OutputKind
	Bytes []byte
}

// Drive emits as many bytes as can be written right now: everything up to
// but not including a synchronizing literal. Non-sync literals flow
// through without pausing. Call Drive repeatedly until it returns
// OutputNothing or a waiting state.
func (s *Sender) Drive() Output {
	if s.cur == nil {
		return Output{Kind: OutputNothing}
	}

	switch s.cur.kind {
	case ActivityRegular:
		return s.driveRegular()
	case ActivityAuthenticate:
		return s.driveAuthenticate()
	case ActivityIdle:
		return s.driveIdle()
	default:
		return Output{Kind: OutputNothing}
	}
}

func (s *Sender) driveRegular() Output {
	c := s.cur
	var buf []byte
	for c.nextPiece < len(c.pieces) {
		p := c.pieces[c.nextPiece]
		if p.Kind == PieceSyncLiteral && !c.litAccepted {
			// Emit greedily up to but not including the literal (spec
			// §4.3 serialization tie-break): flush what's already
			// buffered, then pause on the next Drive call.
			if len(buf) > 0 {
				return Output{Kind: OutputBytes, Bytes: buf}
			}
			c.limboLiteral = &p
			c.regular = RegularWaitingForLiteralAccepted
			return Output{Kind: OutputWaitingForLiteralAccept}
		}
		buf = append(buf, p.Data...)
		c.nextPiece++
		c.litAccepted = false
	}
	if len(buf) > 0 {
		return Output{Kind: OutputBytes, Bytes: buf}
	}
	// All pieces emitted.
	c.regular = RegularDone
	s.cur = nil
	return Output{Kind: OutputDone}
}

// ReleaseLiteral is called once the peer's continuation response has been
// observed, allowing the withheld synchronizing literal to be written by
// the next Drive call.
func (s *Sender) ReleaseLiteral() bool {
	c := s.cur
	if c == nil || c.kind != ActivityRegular || c.regular != RegularWaitingForLiteralAccepted {
		return false
	}
	c.litAccepted = true
	c.regular = RegularPushingFragments
	c.limboLiteral = nil
	return true
}

// AbortCurrent drops any not-yet-written bytes of the current command on
// literal rejection (BAD with matching tag), clearing the remaining
// fragments of this command. Returns true if a command was aborted.
func (s *Sender) AbortCurrent() bool {
	if s.cur == nil || s.cur.kind != ActivityRegular {
		return false
	}
	s.cur.regular = RegularAbort
	s.cur = nil
	return true
}

func (s *Sender) driveAuthenticate() Output {
	c := s.cur
	switch c.authState {
	case AuthPushingAuthenticate:
		var buf []byte
		for _, p := range c.pieces {
			buf = append(buf, p.Data...)
		}
		c.authState = AuthWaitingForAuthenticateSent
		return Output{Kind: OutputBytes, Bytes: buf}
	case AuthWaitingForAuthenticateSent:
		c.authState = AuthWaitingForAuthenticateResponse
		return Output{Kind: OutputWaitingForAuthenticateResponse}
	case AuthPushingAuthenticateData:
		data := c.pieces[0].Data
		c.pieces = nil
		c.authState = AuthWaitingForAuthenticateDataSent
		return Output{Kind: OutputBytes, Bytes: data}
	case AuthWaitingForAuthenticateDataSent:
		c.authState = AuthWaitingForAuthenticateResponse
		return Output{Kind: OutputWaitingForAuthenticateResponse}
	default:
		return Output{Kind: OutputNothing}
	}
}

// SetAuthenticateData supplies the next AuthenticateData frame (base64-
// encoded bytes already, including the trailing CRLF) after a continuation
// was received. Valid only in AuthWaitingForAuthenticateDataSet.
func (s *Sender) SetAuthenticateData(data []byte) bool {
	c := s.cur
	if c == nil || c.kind != ActivityAuthenticate || c.authState != AuthWaitingForAuthenticateDataSet {
		return false
	}
	c.pieces = []Piece{{Kind: PieceBytes, Data: data}}
	c.authState = AuthPushingAuthenticateData
	return true
}

// OnAuthenticateContinuation notifies the Sender that a continuation
// request arrived while waiting for the authenticate response, moving it
// into the state where the caller must supply the next AuthenticateData
// frame.
func (s *Sender) OnAuthenticateContinuation() bool {
	c := s.cur
	if c == nil || c.kind != ActivityAuthenticate || c.authState != AuthWaitingForAuthenticateResponse {
		return false
	}
	c.authState = AuthWaitingForAuthenticateDataSet
	return true
}

// FinishAuthenticate terminates the authenticate activity on a tagged
// status, recording acceptance or rejection.
func (s *Sender) FinishAuthenticate(accepted bool) bool {
	c := s.cur
	if c == nil || c.kind != ActivityAuthenticate {
		return false
	}
	if accepted {
		c.authState = AuthAccepted
	} else {
		c.authState = AuthRejected
	}
	s.cur = nil
	return true
}

func (s *Sender) driveIdle() Output {
	c := s.cur
	switch c.idleState {
	case IdlePushingIdle:
		var buf []byte
		for _, p := range c.pieces {
			buf = append(buf, p.Data...)
		}
		c.idleState = IdleWaitingForIdleSent
		return Output{Kind: OutputBytes, Bytes: buf}
	case IdleWaitingForIdleSent:
		c.idleState = IdleWaitingForIdleResponse
		return Output{Kind: OutputWaitingForIdleResponse}
	case IdlePushingIdleDone:
		c.idleState = IdleWaitingForIdleDoneSent
		return Output{Kind: OutputBytes, Bytes: []byte("DONE\r\n")}
	case IdleWaitingForIdleDoneSent:
		c.idleState = IdleDone
		s.cur = nil
		return Output{Kind: OutputDone}
	default:
		return Output{Kind: OutputNothing}
	}
}

// OnIdleContinuation notifies the Sender that the server accepted IDLE.
func (s *Sender) OnIdleContinuation() bool {
	c := s.cur
	if c == nil || c.kind != ActivityIdle || c.idleState != IdleWaitingForIdleResponse {
		return false
	}
	c.idleState = IdleWaitingForIdleDoneSet
	return true
}

// SetIdleDone requests termination of the current IDLE. Valid only once
// the server has accepted IDLE (IdleWaitingForIdleDoneSet).
func (s *Sender) SetIdleDone() bool {
	c := s.cur
	if c == nil || c.kind != ActivityIdle || c.idleState != IdleWaitingForIdleDoneSet {
		return false
	}
	c.idleState = IdlePushingIdleDone
	return true
}

// RejectIdle terminates the idle activity because a tagged status arrived
// before acceptance.
func (s *Sender) RejectIdle() bool {
	c := s.cur
	if c == nil || c.kind != ActivityIdle {
		return false
	}
	c.idleState = IdleRejected
	s.cur = nil
	return true
}

// CurrentKind reports which activity (if any) is in progress, for callers
// that need to route a continuation request or tagged status correctly
// (spec §9 "continuation routing by state").
func (s *Sender) CurrentKind() ActivityKind {
	if s.cur == nil {
		return ActivityNone
	}
	return s.cur.kind
}

// WaitingForLiteralAccept reports whether the current regular command is
// paused awaiting a continuation request for a synchronizing literal.
func (s *Sender) WaitingForLiteralAccept() bool {
	return s.cur != nil && s.cur.kind == ActivityRegular && s.cur.regular == RegularWaitingForLiteralAccepted
}

// WaitingForAuthenticateResponse reports whether the current authenticate
// activity is waiting on the server's next message (continuation or
// tagged status).
func (s *Sender) WaitingForAuthenticateResponse() bool {
	return s.cur != nil && s.cur.kind == ActivityAuthenticate && s.cur.authState == AuthWaitingForAuthenticateResponse
}

// WaitingForIdleResponse reports whether the current idle activity is
// waiting on the server's accept/reject of IDLE.
func (s *Sender) WaitingForIdleResponse() bool {
	return s.cur != nil && s.cur.kind == ActivityIdle && s.cur.idleState == IdleWaitingForIdleResponse
}

// Builder assembles a QueuedMessage piece by piece. Command encoders know,
// at the point they emit a literal, whether it is synchronizing,
// non-synchronizing, or plain bytes, so the Builder takes that directly
// rather than re-deriving it from fragment.Fragment (which doesn't retain
// the announcement mode once concatenated into a literal body).
type Builder struct {
	pieces []Piece
	buf    []byte
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) flush() {
	if len(b.buf) > 0 {
		b.pieces = append(b.pieces, Piece{Kind: PieceBytes, Data: b.buf})
		b.buf = nil
	}
}

// Bytes appends plain bytes (command text, literal headers, CRLFs).
func (b *Builder) Bytes(data []byte) *Builder {
	b.buf = append(b.buf, data...)
	return b
}

// SyncLiteral appends a literal payload that must pause for a continuation
// response before being written.
func (b *Builder) SyncLiteral(data []byte) *Builder {
	b.flush()
	b.pieces = append(b.pieces, Piece{Kind: PieceSyncLiteral, Data: data})
	return b
}

// NonSyncLiteral appends a literal payload that flows through immediately,
// folded into the surrounding byte stream.
func (b *Builder) NonSyncLiteral(data []byte) *Builder {
	b.buf = append(b.buf, data...)
	return b
}

// Build finalizes the QueuedMessage.
func (b *Builder) Build() QueuedMessage {
	b.flush()
	return QueuedMessage{Pieces: b.pieces}
}
