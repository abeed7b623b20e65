package move

import (
	"fmt"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/extension"
	"github.com/meszmate/imapengine/scheduler"
	"github.com/meszmate/imapengine/server"
	"github.com/meszmate/imapengine/wire"
)

// Extension implements the MOVE IMAP extension (RFC 6851).
// MOVE atomically moves messages from the selected mailbox to a
// destination mailbox, combining the effects of UID COPY, UID STORE
// +FLAGS (\Deleted), and UID EXPUNGE into a single operation.
type Extension struct {
	extension.BaseExtension
}

var (
	_ extension.ServerExtension = (*Extension)(nil)
	_ extension.TaskExtension   = (*Extension)(nil)
)

// New creates a new MOVE extension.
func New() *Extension {
	return &Extension{
		BaseExtension: extension.BaseExtension{
			ExtName:         "MOVE",
			ExtCapabilities: []imap.Cap{imap.CapMove},
		},
	}
}

// CommandHandlers returns the MOVE command handler.
func (e *Extension) CommandHandlers() map[string]interface{} {
	return map[string]interface{}{
		imap.CommandMove: handleMove(),
	}
}

func (e *Extension) WrapHandler(name string, handler interface{}) interface{} { return nil }

// SessionExtension returns the SessionMove interface that sessions must
// implement to support the MOVE command.
func (e *Extension) SessionExtension() interface{} {
	return (*server.SessionMove)(nil)
}

func (e *Extension) OnEnabled(connID string) error { return nil }

// Tasks returns the client-side MOVE task constructor. args is the
// already-"UID "-stripped remainder of the command line: a message set
// followed by the destination mailbox astring, e.g. "1:5 Archive".
func (e *Extension) Tasks() map[string]extension.TaskFactory {
	return map[string]extension.TaskFactory{
		string(imap.CommandMove): newMoveTask,
	}
}

func newMoveTask(args string) (scheduler.Task, error) {
	setStr, dest, ok := splitArgs(args)
	if !ok {
		return nil, fmt.Errorf("move: malformed arguments %q", args)
	}
	line := "MOVE " + setStr + " " + scheduler.QuoteAstring(dest)
	return scheduler.NewGenericTask(line), nil
}

func splitArgs(args string) (set, dest string, ok bool) {
	for i := 0; i < len(args); i++ {
		if args[i] == ' ' {
			return args[:i], args[i+1:], true
		}
	}
	return "", "", false
}

// handleMove returns the command handler function for the MOVE command.
func handleMove() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		if ctx.Decoder == nil {
			return imap.ErrBad("missing arguments")
		}

		// Read the message set (sequence set or UID set)
		setStr, err := ctx.Decoder.ReadAtom()
		if err != nil {
			return imap.ErrBad("invalid message set")
		}

		var numSet imap.NumSet
		if ctx.NumKind == server.NumKindUID {
			uidSet, err := imap.ParseUIDSet(setStr)
			if err != nil {
				return imap.ErrBad("invalid UID set")
			}
			numSet = uidSet
		} else {
			seqSet, err := imap.ParseSeqSet(setStr)
			if err != nil {
				return imap.ErrBad("invalid sequence set")
			}
			numSet = seqSet
		}

		if err := ctx.Decoder.ReadSP(); err != nil {
			return imap.ErrBad("missing destination mailbox")
		}

		dest, err := ctx.Decoder.ReadAString()
		if err != nil {
			return imap.ErrBad("invalid destination mailbox")
		}

		// The session must implement SessionMove
		sessMove, ok := ctx.Session.(server.SessionMove)
		if !ok {
			return imap.ErrNo("MOVE not supported")
		}

		w := server.NewMoveWriter(ctx.Conn.Encoder())
		if err := sessMove.Move(w, numSet, dest); err != nil {
			return err
		}

		// Write tagged OK response. COPYUID, when reported, has already gone
		// out as an untagged OK through MoveWriter.WriteCopyData.
		ctx.Conn.Encoder().Encode(func(enc *wire.Encoder) {
			enc.StatusResponse(ctx.Tag, "OK", "", "MOVE completed")
		})

		return nil
	}
}
