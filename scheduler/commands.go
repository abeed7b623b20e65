package scheduler

import (
	"fmt"
	"strings"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/sender"
	"github.com/meszmate/imapengine/wire"
)

// plainBody renders a command whose full line is already known, with no
// literal payload, e.g. "CAPABILITY" or "LOGOUT".
type plainBody string

func (b plainBody) Render(tag string) sender.QueuedMessage {
	return sender.QueuedMessage{Pieces: []sender.Piece{
		{Kind: sender.PieceBytes, Data: []byte(tag + " " + string(b) + "\r\n")},
	}}
}

// loginBody renders LOGIN with the password carried as a synchronizing
// literal, so it never appears unescaped on the wire and the server gets a
// chance to reject the attempt before the credential is sent.
type loginBody struct {
	username string
	password []byte
}

func (b loginBody) Render(tag string) sender.QueuedMessage {
	user := quoteAstring(b.username)
	return sender.QueuedMessage{Pieces: []sender.Piece{
		{Kind: sender.PieceBytes, Data: []byte(fmt.Sprintf("%s LOGIN %s {%d}\r\n", tag, user, len(b.password)))},
		{Kind: sender.PieceSyncLiteral, Data: b.password},
		{Kind: sender.PieceBytes, Data: []byte("\r\n")},
	}}
}

// QuoteAstring renders s as an astring, for callers building their own
// command lines (e.g. GenericTask's arguments) outside this package's
// bodies.
func QuoteAstring(s string) string { return quoteAstring(s) }

// quoteAstring renders s as an astring: bare if it's already a safe atom,
// quoted with its quoted-specials escaped if it merely needs quoting, or as
// a literal if it contains bytes a quoted string can't carry.
func quoteAstring(s string) string {
	if wire.NeedsLiteral(s) {
		return fmt.Sprintf("{%d}\r\n%s", len(s), s)
	}
	if !wire.NeedsQuoting(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if wire.IsQuotedSpecial(s[i]) {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// selectBody renders SELECT/EXAMINE.
type selectBody struct {
	mailbox  string
	readOnly bool
}

func (b selectBody) Render(tag string) sender.QueuedMessage {
	verb := "SELECT"
	if b.readOnly {
		verb = "EXAMINE"
	}
	return plainBody(verb + " " + quoteAstring(b.mailbox)).Render(tag)
}

// fetchBody renders FETCH or UID FETCH.
type fetchBody struct {
	set   imap.NumSet
	items string
	uid   bool
}

func (b fetchBody) Render(tag string) sender.QueuedMessage {
	verb := "FETCH"
	if b.uid {
		verb = "UID FETCH"
	}
	return plainBody(verb + " " + b.set.String() + " (" + b.items + ")").Render(tag)
}

// searchBody renders SEARCH or UID SEARCH.
type searchBody struct {
	criteria string
	uid      bool
}

func (b searchBody) Render(tag string) sender.QueuedMessage {
	verb := "SEARCH"
	if b.uid {
		verb = "UID SEARCH"
	}
	return plainBody(verb + " " + b.criteria).Render(tag)
}

// copyBody renders COPY, UID COPY, MOVE or UID MOVE.
type copyBody struct {
	verb string
	set  imap.NumSet
	dest string
}

func (b copyBody) Render(tag string) sender.QueuedMessage {
	return plainBody(b.verb + " " + b.set.String() + " " + quoteAstring(b.dest)).Render(tag)
}

// listBody renders LIST.
type listBody struct {
	reference string
	pattern   string
}

func (b listBody) Render(tag string) sender.QueuedMessage {
	return plainBody("LIST " + quoteAstring(b.reference) + " " + quoteAstring(b.pattern)).Render(tag)
}

// appendBody renders APPEND with the message body as a synchronizing
// literal.
type appendBody struct {
	mailbox string
	flags   []imap.Flag
	message []byte
}

func (b appendBody) Render(tag string) sender.QueuedMessage {
	var flags strings.Builder
	for i, f := range b.flags {
		if i > 0 {
			flags.WriteByte(' ')
		}
		flags.WriteString(string(f))
	}
	head := fmt.Sprintf("%s APPEND %s (%s) {%d}\r\n", tag, quoteAstring(b.mailbox), flags.String(), len(b.message))
	return sender.QueuedMessage{Pieces: []sender.Piece{
		{Kind: sender.PieceBytes, Data: []byte(head)},
		{Kind: sender.PieceSyncLiteral, Data: b.message},
		{Kind: sender.PieceBytes, Data: []byte("\r\n")},
	}}
}

// idleBody renders IDLE.
type idleBody struct{}

func (idleBody) Render(tag string) sender.QueuedMessage {
	return plainBody("IDLE").Render(tag)
}

// logoutBody renders LOGOUT.
type logoutBody struct{}

func (logoutBody) Render(tag string) sender.QueuedMessage {
	return plainBody("LOGOUT").Render(tag)
}

var _ clientengine.CommandBody = plainBody("")
