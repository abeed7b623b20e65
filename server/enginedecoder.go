package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/meszmate/imapengine/serverengine"
	"github.com/meszmate/imapengine/wire"
)

var errMissingTag = errors.New("missing tag")

// decodeServerCommand is the serverengine.Decoder a Conn's engine is built
// with. It peels off the tag and the command name; AUTHENTICATE and IDLE are
// recognized directly since the engine needs their kind to switch codecs.
// Every other command's Body is left as the untouched raw bytes following
// the tag — literal headers and payloads included — so ctx.Decoder can parse
// them straight out of that buffer later; a line-oriented read here would
// mistake a literal's embedded bytes for the end of the command.
func decodeServerCommand(msg []byte) (interface{}, error) {
	trimmed := bytes.TrimSuffix(bytes.TrimSuffix(msg, []byte("\n")), []byte("\r"))

	sp := bytes.IndexByte(trimmed, ' ')
	if sp < 0 {
		return nil, errMissingTag
	}
	tag := string(trimmed[:sp])
	if tag == "" {
		return nil, errMissingTag
	}
	rest := trimmed[sp+1:]

	name := rest
	if i := bytes.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	upper := strings.ToUpper(string(name))

	switch upper {
	case "IDLE":
		return serverengine.DecodedCommand{Kind: serverengine.CommandIdle, Tag: tag}, nil

	case "AUTHENTICATE":
		return decodeAuthenticateCommand(tag, rest[len(name):])

	default:
		return serverengine.DecodedCommand{Kind: serverengine.CommandRegular, Tag: tag, Body: rest}, nil
	}
}

// decodeAuthenticateCommand parses "AUTHENTICATE mechanism [initial-response]"
// per RFC 4959, argsAfterName being everything following the AUTHENTICATE
// command name (still including the space before the mechanism).
func decodeAuthenticateCommand(tag string, argsAfterName []byte) (interface{}, error) {
	d := wire.NewDecoder(bytes.NewReader(argsAfterName))
	if err := d.ReadSP(); err != nil {
		return nil, err
	}
	mechanism, err := d.ReadAtom()
	if err != nil {
		return nil, err
	}

	var initial []byte
	if pb, perr := d.PeekByte(); perr == nil && pb == ' ' {
		if err := d.ReadSP(); err != nil {
			return nil, err
		}
		resp, err := d.ReadAString()
		if err != nil {
			return nil, err
		}
		if resp == "=" {
			initial = []byte{}
		} else {
			decoded, err := base64.StdEncoding.DecodeString(resp)
			if err != nil {
				return nil, err
			}
			initial = decoded
		}
	}

	return serverengine.DecodedCommand{
		Kind:            serverengine.CommandAuthenticate,
		Tag:             tag,
		Mechanism:       strings.ToUpper(mechanism),
		InitialResponse: initial,
	}, nil
}

// decodeServerAuthData is the serverengine.Decoder used for each line of an
// in-progress AUTHENTICATE exchange: either "*" to cancel, or the client's
// base64-encoded response.
func decodeServerAuthData(msg []byte) (interface{}, error) {
	trimmed := bytes.TrimSuffix(bytes.TrimSuffix(msg, []byte("\n")), []byte("\r"))
	if string(trimmed) == "*" {
		return serverengine.AuthenticateData{Cancel: true}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, err
	}
	return serverengine.AuthenticateData{Data: decoded}, nil
}

// leadingToken extracts the first whitespace-delimited token of a byte
// slice, used to address a BAD response at a message whose tag couldn't be
// paired with a decoded command (e.g. a malformed or oversized message).
func leadingToken(b []byte) string {
	i := 0
	for i < len(b) && b[i] != ' ' && b[i] != '\r' && b[i] != '\n' {
		i++
	}
	return string(b[:i])
}
