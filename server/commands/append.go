package commands

import (
	"fmt"
	"io"
	"time"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/server"
	"github.com/meszmate/imapengine/wire"
)

// Append returns a handler for the APPEND command.
// APPEND appends a message to the specified mailbox.
//
// The command format is:
//
//	tag APPEND mailbox [flags] [date-time] {literal-size}
//	<literal data>
func Append() server.CommandHandlerFunc {
	return func(ctx *server.CommandContext) error {
		if ctx.Decoder == nil {
			return imap.ErrBad("missing arguments")
		}

		mailbox, err := ctx.Decoder.ReadAString()
		if err != nil {
			return imap.ErrBad("invalid mailbox name")
		}

		options := &imap.AppendOptions{}

		if err := ctx.Decoder.ReadSP(); err != nil {
			return imap.ErrBad("missing message data")
		}

		// Check if we have flags (starts with '(')
		b, err := ctx.Decoder.PeekByte()
		if err != nil {
			return imap.ErrBad("unexpected end of command")
		}

		if b == '(' {
			flagStrs, err := ctx.Decoder.ReadFlags()
			if err != nil {
				return imap.ErrBad("invalid flags")
			}
			for _, f := range flagStrs {
				options.Flags = append(options.Flags, imap.Flag(f))
			}

			if err := ctx.Decoder.ReadSP(); err != nil {
				return imap.ErrBad("missing message data")
			}

			b, err = ctx.Decoder.PeekByte()
			if err != nil {
				return imap.ErrBad("unexpected end of command")
			}
		}

		// Check if we have a date-time (starts with '"')
		if b == '"' {
			dateStr, err := ctx.Decoder.ReadQuotedString()
			if err != nil {
				return imap.ErrBad("invalid date-time")
			}

			t, err := time.Parse(imap.InternalDateLayout, dateStr)
			if err != nil {
				// Try alternative layouts
				layouts := []string{
					"2-Jan-2006 15:04:05 -0700",
					time.RFC822Z,
				}
				var parsed bool
				for _, layout := range layouts {
					if t, err = time.Parse(layout, dateStr); err == nil {
						parsed = true
						break
					}
				}
				if !parsed {
					return imap.ErrBad("invalid date-time format")
				}
			}
			options.InternalDate = t

			if err := ctx.Decoder.ReadSP(); err != nil {
				return imap.ErrBad("missing message data")
			}
		}

		// The command decoder is handed the full message body up front, so
		// the literal header and its data both live in ctx.Decoder already;
		// no extra reads against the connection are needed.
		info, err := ctx.Decoder.ReadLiteralInfo()
		if err != nil {
			return imap.ErrBad(fmt.Sprintf("invalid literal: %v", err))
		}

		literalReader := imap.LiteralReader{
			Reader: ctx.Decoder.ReadLiteral(info.Size),
			Size:   info.Size,
		}

		data, err := ctx.Session.Append(mailbox, literalReader, options)
		if err != nil {
			// Drain any remaining literal data
			_, _ = io.Copy(io.Discard, literalReader.Reader)
			return err
		}

		// Drain any remaining literal data
		_, _ = io.Copy(io.Discard, literalReader.Reader)

		// Write tagged OK, optionally with APPENDUID response code
		if data != nil && data.UIDValidity > 0 && data.UID > 0 {
			enc := ctx.Conn.Encoder()
			enc.Encode(func(e *wire.Encoder) {
				code := fmt.Sprintf("APPENDUID %d %d", data.UIDValidity, uint32(data.UID))
				e.StatusResponse(ctx.Tag, "OK", code, "APPEND completed")
			})
		} else {
			ctx.Conn.WriteOK(ctx.Tag, "APPEND completed")
		}

		return nil
	}
}
