package scheduler

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/wire"
	"github.com/meszmate/imapengine/wire/utf7"
)

// DecodeResponse is the clientengine.Decoder for every message after the
// greeting: tagged/untagged status, a continuation request, or one
// untagged data item. It builds on wire's token-level primitives and
// produces the scheduler's own ResponseData for data items, since
// scheduler.commands.go already depends on wire (for astring quoting) and
// wire cannot depend back on scheduler.
func DecodeResponse(msg []byte) (interface{}, error) {
	d := wire.NewDecoder(bytes.NewReader(msg))

	b, err := d.PeekByte()
	if err != nil {
		return nil, fmt.Errorf("wirecodec: response: %w", err)
	}
	if b == '+' {
		if err := d.ExpectByte('+'); err != nil {
			return nil, err
		}
		var text string
		if pb, perr := d.PeekByte(); perr == nil && pb == ' ' {
			if err := d.ReadSP(); err != nil {
				return nil, err
			}
			text, err = d.ReadLine()
			if err != nil {
				return nil, err
			}
		}
		return clientengine.Response{Kind: clientengine.ResponseContinuation, ContinuationText: text}, nil
	}

	var tag string
	if b == '*' {
		if err := d.ExpectByte('*'); err != nil {
			return nil, err
		}
	} else {
		tag, err = d.ReadAtom()
		if err != nil {
			return nil, fmt.Errorf("wirecodec: response: %w", err)
		}
	}
	if err := d.ReadSP(); err != nil {
		return nil, fmt.Errorf("wirecodec: response: %w", err)
	}

	word, err := d.ReadAtom()
	if err != nil {
		return nil, fmt.Errorf("wirecodec: response: %w", err)
	}

	if typ, ok := wire.ParseStatusType(word); ok {
		if err := d.ReadSP(); err != nil {
			return nil, fmt.Errorf("wirecodec: response: %w", err)
		}
		code, arg, text, err := d.ReadRespText()
		if err != nil {
			return nil, fmt.Errorf("wirecodec: response: %w", err)
		}
		return clientengine.Response{
			Kind: clientengine.ResponseStatus,
			Status: clientengine.Status{
				Tag:  tag,
				Type: typ,
				Raw:  &imap.StatusResponse{Type: typ, Code: code, CodeArg: arg, Text: text},
			},
		}, nil
	}

	if tag != "" {
		return nil, fmt.Errorf("wirecodec: response: tagged line %q is not a status response", word)
	}

	data, err := decodeMailboxData(d, word)
	if err != nil {
		return nil, fmt.Errorf("wirecodec: response: %w", err)
	}
	return clientengine.Response{Kind: clientengine.ResponseData, Data: data}, nil
}

// decodeMailboxData decodes one untagged data item. word is the already
// consumed first atom; for number-prefixed items (EXISTS/RECENT/FETCH)
// that word is the number and the real item name follows.
func decodeMailboxData(d *wire.Decoder, word string) (ResponseData, error) {
	if n, err := strconv.ParseUint(word, 10, 32); err == nil {
		if err := d.ReadSP(); err != nil {
			return ResponseData{}, err
		}
		name, err := d.ReadAtom()
		if err != nil {
			return ResponseData{}, err
		}
		switch strings.ToUpper(name) {
		case "EXISTS":
			return ResponseData{Kind: DataExists, Exists: uint32(n)}, nil
		case "RECENT":
			return ResponseData{Kind: DataRecent, Recent: uint32(n)}, nil
		case "FETCH":
			return decodeFetchData(d, uint32(n))
		default:
			return ResponseData{}, fmt.Errorf("unknown numbered data item %q", name)
		}
	}

	switch strings.ToUpper(word) {
	case "CAPABILITY":
		var caps []string
		for {
			pb, perr := d.PeekByte()
			if perr != nil || pb != ' ' {
				break
			}
			if err := d.ReadSP(); err != nil {
				return ResponseData{}, err
			}
			c, err := d.ReadAtom()
			if err != nil {
				return ResponseData{}, err
			}
			caps = append(caps, c)
		}
		return ResponseData{Kind: DataCapability, Capabilities: caps}, nil

	case "FLAGS":
		if err := d.ReadSP(); err != nil {
			return ResponseData{}, err
		}
		raw, err := d.ReadFlags()
		if err != nil {
			return ResponseData{}, err
		}
		return ResponseData{Kind: DataFlags, Flags: toImapFlags(raw)}, nil

	case "SEARCH":
		var nums []uint32
		for {
			pb, perr := d.PeekByte()
			if perr != nil || pb != ' ' {
				break
			}
			if err := d.ReadSP(); err != nil {
				return ResponseData{}, err
			}
			n, err := d.ReadNumber()
			if err != nil {
				return ResponseData{}, err
			}
			nums = append(nums, n)
		}
		return ResponseData{Kind: DataSearch, Nums: nums}, nil

	case "LIST", "LSUB":
		return decodeListData(d)

	case "STATUS":
		return decodeStatusData(d)

	default:
		// Unrecognized untagged data (extension response, etc): consume the
		// remainder of the line so framing stays correct, and surface it as
		// an empty ResponseData rather than failing the whole connection.
		_, _ = d.ReadLine()
		return ResponseData{}, nil
	}
}

func decodeFetchData(d *wire.Decoder, seqNum uint32) (ResponseData, error) {
	if err := d.ReadSP(); err != nil {
		return ResponseData{}, err
	}
	fm := FetchMessage{SeqNum: SeqNum(seqNum)}
	var items []string
	err := d.ReadList(func() error {
		name, err := d.ReadAtom()
		if err != nil {
			return err
		}
		if err := d.ReadSP(); err != nil {
			return err
		}
		switch strings.ToUpper(name) {
		case "UID":
			n, err := d.ReadNumber()
			if err != nil {
				return err
			}
			fm.UID = imap.UID(n)
		case "FLAGS":
			raw, err := d.ReadFlags()
			if err != nil {
				return err
			}
			fm.Flags = toImapFlags(raw)
		default:
			val, err := d.ReadBalancedGroup()
			if err != nil {
				return err
			}
			items = append(items, name+" "+val)
		}
		return nil
	})
	if err != nil {
		return ResponseData{}, err
	}
	if len(items) > 0 {
		fm.Raw = items
	}
	return ResponseData{Kind: DataFetch, Fetch: fm}, nil
}

func decodeListData(d *wire.Decoder) (ResponseData, error) {
	if err := d.ReadSP(); err != nil {
		return ResponseData{}, err
	}
	attrs, err := d.ReadFlags()
	if err != nil {
		return ResponseData{}, err
	}
	if err := d.ReadSP(); err != nil {
		return ResponseData{}, err
	}
	delim, hasDelim, err := d.ReadNString()
	if err != nil {
		return ResponseData{}, err
	}
	if err := d.ReadSP(); err != nil {
		return ResponseData{}, err
	}
	rawName, err := d.ReadAString()
	if err != nil {
		return ResponseData{}, err
	}
	name, err := utf7.Decode(rawName)
	if err != nil {
		name = rawName
	}
	entry := ListEntry{Attributes: attrs, Name: name}
	if hasDelim {
		entry.Delimiter = delim
	}
	return ResponseData{Kind: DataList, Mailbox: entry}, nil
}

func decodeStatusData(d *wire.Decoder) (ResponseData, error) {
	if err := d.ReadSP(); err != nil {
		return ResponseData{}, err
	}
	rawName, err := d.ReadAString()
	if err != nil {
		return ResponseData{}, err
	}
	name, err := utf7.Decode(rawName)
	if err != nil {
		name = rawName
	}
	if err := d.ReadSP(); err != nil {
		return ResponseData{}, err
	}
	items := make(map[StatusItem]int64)
	err = d.ReadList(func() error {
		itemName, err := d.ReadAtom()
		if err != nil {
			return err
		}
		if err := d.ReadSP(); err != nil {
			return err
		}
		n, err := d.ReadNumber64()
		if err != nil {
			return err
		}
		items[StatusItem(strings.ToUpper(itemName))] = int64(n)
		return nil
	})
	if err != nil {
		return ResponseData{}, err
	}
	return ResponseData{Kind: DataStatus, StatusMailbox: name, StatusItems: items}, nil
}

func toImapFlags(raw []string) []imap.Flag {
	flags := make([]imap.Flag, len(raw))
	for i, f := range raw {
		flags[i] = imap.Flag(f)
	}
	return flags
}
