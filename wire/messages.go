package wire

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/serverengine"
)

// Command is the opaque payload a DecodedCommand carries for
// serverengine.CommandRegular: the command verb and everything after it on
// the line, already separated from the tag. Argument grammars differ per
// command, so parsing Rest further is left to the dispatcher that knows
// which command it is (mirrors the tag/name/rest split server/dispatch.go
// already used against a blocking reader).
type Command struct {
	Tag  string
	Name string
	Rest string
}

// ParseStatusType maps a status-type atom (OK/NO/BAD/BYE/PREAUTH) to its
// imap.StatusResponseType, case-insensitively.
func ParseStatusType(atom string) (imap.StatusResponseType, bool) {
	switch strings.ToUpper(atom) {
	case "OK":
		return imap.StatusResponseTypeOK, true
	case "NO":
		return imap.StatusResponseTypeNO, true
	case "BAD":
		return imap.StatusResponseTypeBAD, true
	case "BYE":
		return imap.StatusResponseTypeBYE, true
	case "PREAUTH":
		return imap.StatusResponseTypePREAUTH, true
	}
	return "", false
}

// ReadRespText reads a resp-text production: an optional "[code [args]]"
// followed by free-form human text running to the end of the line.
func (d *Decoder) ReadRespText() (code imap.ResponseCode, arg interface{}, text string, err error) {
	b, err := d.PeekByte()
	if err != nil {
		if err == io.EOF {
			return "", nil, "", nil
		}
		return "", nil, "", err
	}
	if b == '[' {
		if err = d.ExpectByte('['); err != nil {
			return "", nil, "", err
		}
		code, arg, err = d.ReadRespTextCode()
		if err != nil {
			return "", nil, "", err
		}
		if err = d.ExpectByte(']'); err != nil {
			return "", nil, "", err
		}
		if pb, perr := d.PeekByte(); perr == nil && pb == ' ' {
			if err = d.ExpectByte(' '); err != nil {
				return "", nil, "", err
			}
		}
	}
	text, err = d.ReadLine()
	if err != nil {
		return code, arg, "", err
	}
	return code, arg, text, nil
}

// ReadRespTextCode reads one resp-text-code (the content between "[" and
// "]"), decoding the arguments of the codes the engine/task layer cares
// about and returning opaque text for everything else.
func (d *Decoder) ReadRespTextCode() (imap.ResponseCode, interface{}, error) {
	name, err := d.ReadAtom()
	if err != nil {
		return "", nil, err
	}
	code := imap.ResponseCode(strings.ToUpper(name))

	switch code {
	case imap.ResponseCodeCapability:
		var caps []string
		for {
			pb, perr := d.PeekByte()
			if perr != nil || pb == ']' {
				break
			}
			if err := d.ReadSP(); err != nil {
				return code, caps, err
			}
			c, err := d.ReadAtom()
			if err != nil {
				return code, caps, err
			}
			caps = append(caps, c)
		}
		return code, caps, nil

	case imap.ResponseCodePermanentFlags:
		if err := d.ReadSP(); err != nil {
			return code, nil, err
		}
		flags, err := d.ReadFlags()
		return code, flags, err

	case imap.ResponseCodeUIDNext, imap.ResponseCodeUIDValidity, imap.ResponseCodeUnseen:
		if err := d.ReadSP(); err != nil {
			return code, nil, err
		}
		n, err := d.ReadNumber()
		return code, n, err

	case imap.ResponseCodeHighestModSeq:
		if err := d.ReadSP(); err != nil {
			return code, nil, err
		}
		n, err := d.ReadNumber64()
		return code, n, err

	case imap.ResponseCodeAppendUID, imap.ResponseCodeCopyUID:
		if err := d.ReadSP(); err != nil {
			return code, nil, err
		}
		uidValidity, err := d.ReadNumber()
		if err != nil {
			return code, nil, err
		}
		if err := d.ReadSP(); err != nil {
			return code, nil, err
		}
		uid, err := d.ReadNumber()
		if err != nil {
			return code, nil, err
		}
		return code, [2]uint32{uidValidity, uid}, nil

	default:
		// No-argument codes (ALERT, READ-ONLY, READ-WRITE, TRYCREATE,
		// NOMODSEQ, CLOSED, ...) and any extension code: take whatever
		// remains before the closing bracket as one opaque string.
		var buf bytes.Buffer
		for {
			pb, perr := d.PeekByte()
			if perr != nil || pb == ']' {
				break
			}
			ch, err := d.ReadByte()
			if err != nil {
				return code, nil, err
			}
			buf.WriteByte(ch)
		}
		s := strings.TrimPrefix(buf.String(), " ")
		if s == "" {
			return code, nil, nil
		}
		return code, s, nil
	}
}

// ReadBalancedGroup reads one value generically: a parenthesized group
// (recursing through nested parens, quoted strings and literals), a quoted
// string, a literal, or a bare atom. It returns the value's raw wire text,
// for callers (like FETCH's opaque data items) that don't need a
// structured decode of everything a message can carry.
func (d *Decoder) ReadBalancedGroup() (string, error) {
	b, err := d.PeekByte()
	if err != nil {
		return "", err
	}
	switch b {
	case '(':
		return d.readParenGroup()
	case '"':
		return d.ReadQuotedString()
	case '{', '~':
		return d.ReadString()
	default:
		return d.ReadAtom()
	}
}

func (d *Decoder) readParenGroup() (string, error) {
	var buf bytes.Buffer
	depth := 0
	for {
		ch, err := d.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		buf.WriteByte(ch)
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return buf.String(), nil
			}
		case '"':
			for {
				c, err := d.ReadByte()
				if err != nil {
					return buf.String(), err
				}
				buf.WriteByte(c)
				if c == '\\' {
					esc, err := d.ReadByte()
					if err != nil {
						return buf.String(), err
					}
					buf.WriteByte(esc)
					continue
				}
				if c == '"' {
					break
				}
			}
		case '{':
			var numBuf bytes.Buffer
			for {
				c, err := d.ReadByte()
				if err != nil {
					return buf.String(), err
				}
				buf.WriteByte(c)
				if c == '}' {
					break
				}
				if c != '+' {
					numBuf.WriteByte(c)
				}
			}
			if err := d.ReadCRLF(); err != nil {
				return buf.String(), err
			}
			buf.WriteString("\r\n")
			n, _ := strconv.ParseInt(numBuf.String(), 10, 64)
			lit := make([]byte, n)
			if _, err := io.ReadFull(d.r, lit); err != nil {
				return buf.String(), err
			}
			buf.Write(lit)
		}
	}
}

// DecodeGreeting decodes the server's opening status line into a
// clientengine.Greeting.
func DecodeGreeting(msg []byte) (interface{}, error) {
	d := NewDecoder(bytes.NewReader(msg))
	if err := d.ExpectByte('*'); err != nil {
		return nil, fmt.Errorf("wire: greeting: %w", err)
	}
	if err := d.ReadSP(); err != nil {
		return nil, fmt.Errorf("wire: greeting: %w", err)
	}
	typAtom, err := d.ReadAtom()
	if err != nil {
		return nil, fmt.Errorf("wire: greeting: %w", err)
	}
	typ, ok := ParseStatusType(typAtom)
	if !ok {
		return nil, fmt.Errorf("wire: greeting: unexpected status type %q", typAtom)
	}
	if err := d.ReadSP(); err != nil {
		return nil, fmt.Errorf("wire: greeting: %w", err)
	}
	code, arg, text, err := d.ReadRespText()
	if err != nil {
		return nil, fmt.Errorf("wire: greeting: %w", err)
	}

	var kind clientengine.GreetingKind
	switch typ {
	case imap.StatusResponseTypeOK:
		kind = clientengine.GreetingOK
	case imap.StatusResponseTypePREAUTH:
		kind = clientengine.GreetingPreauth
	case imap.StatusResponseTypeBYE:
		kind = clientengine.GreetingBye
	default:
		return nil, fmt.Errorf("wire: greeting: %q is not a valid greeting status", typ)
	}
	return clientengine.Greeting{Kind: kind, Raw: &imap.StatusResponse{Type: typ, Code: code, CodeArg: arg, Text: text}}, nil
}

// DecodeCommand decodes one command line into a serverengine.DecodedCommand.
// AUTHENTICATE and IDLE are recognized directly, since the engine needs to
// know their kind to switch codecs; every other command is handed up as an
// opaque Command for the dispatcher to parse further.
func DecodeCommand(msg []byte) (interface{}, error) {
	d := NewDecoder(bytes.NewReader(msg))
	tag, err := d.ReadAtom()
	if err != nil {
		return nil, fmt.Errorf("wire: command: %w", err)
	}
	if err := d.ReadSP(); err != nil {
		return nil, fmt.Errorf("wire: command: %w", err)
	}
	name, err := d.ReadAtom()
	if err != nil {
		return nil, fmt.Errorf("wire: command: %w", err)
	}
	upper := strings.ToUpper(name)

	switch upper {
	case "AUTHENTICATE":
		if err := d.ReadSP(); err != nil {
			return nil, fmt.Errorf("wire: command: %w", err)
		}
		mechanism, err := d.ReadAtom()
		if err != nil {
			return nil, fmt.Errorf("wire: command: %w", err)
		}
		var initial []byte
		if pb, perr := d.PeekByte(); perr == nil && pb == ' ' {
			if err := d.ReadSP(); err != nil {
				return nil, fmt.Errorf("wire: command: %w", err)
			}
			resp, err := d.ReadAString()
			if err != nil {
				return nil, fmt.Errorf("wire: command: %w", err)
			}
			initial = []byte(resp)
		}
		return serverengine.DecodedCommand{
			Kind:            serverengine.CommandAuthenticate,
			Tag:             tag,
			Mechanism:       strings.ToUpper(mechanism),
			InitialResponse: initial,
		}, nil

	case "IDLE":
		return serverengine.DecodedCommand{Kind: serverengine.CommandIdle, Tag: tag}, nil

	default:
		if pb, perr := d.PeekByte(); perr == nil && pb == ' ' {
			if err := d.ReadSP(); err != nil {
				return nil, fmt.Errorf("wire: command: %w", err)
			}
		}
		rest, err := d.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("wire: command: %w", err)
		}
		return serverengine.DecodedCommand{
			Kind: serverengine.CommandRegular,
			Tag:  tag,
			Body: Command{Tag: tag, Name: upper, Rest: rest},
		}, nil
	}
}

// DecodeAuthenticateData decodes one line of an in-progress AUTHENTICATE
// exchange: either the client's base64 response, or "*" to cancel.
func DecodeAuthenticateData(msg []byte) (interface{}, error) {
	d := NewDecoder(bytes.NewReader(msg))
	line, err := d.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("wire: authenticate data: %w", err)
	}
	if line == "*" {
		return serverengine.AuthenticateData{Cancel: true}, nil
	}
	return serverengine.AuthenticateData{Data: []byte(line)}, nil
}
