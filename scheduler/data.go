package scheduler

import imap "github.com/meszmate/imapengine"

// DataKind discriminates an untagged data response as decoded by the
// grammar codec this package's built-in tasks expect. A caller supplying
// its own Decoder to clientengine.New must produce these as the Data
// event's payload so the built-in tasks can recognize their own traffic.
type DataKind int

const (
	DataCapability DataKind = iota
	DataFlags
	DataExists
	DataRecent
	DataFetch
	DataSearch
	DataList
	DataStatus
)

// ResponseData is the concrete payload carried as scheduler.Data for every
// untagged data response the built-in tasks consume.
type ResponseData struct {
	Kind DataKind

	Capabilities []string
	Flags        []imap.Flag

	Exists uint32
	Recent uint32

	Fetch FetchMessage
	Nums  []uint32 // SEARCH

	Mailbox ListEntry

	StatusMailbox string
	StatusItems   map[StatusItem]int64
}

// FetchMessage is one message's worth of FETCH data items.
type FetchMessage struct {
	SeqNum SeqNum
	UID    imap.UID
	Flags  []imap.Flag
	Raw    interface{} // envelope/body-section payload, grammar-specific
}

// SeqNum is a local alias kept distinct from imap.SeqNum at the call site
// for readability; both are uint32.
type SeqNum = imap.SeqNum

// ListEntry is one mailbox entry from a LIST response.
type ListEntry struct {
	Attributes []string
	Delimiter  string
	Name       string
}

// StatusItem names one field of a STATUS response.
type StatusItem string

const (
	StatusItemMessages      StatusItem = "MESSAGES"
	StatusItemRecent        StatusItem = "RECENT"
	StatusItemUIDNext       StatusItem = "UIDNEXT"
	StatusItemUIDValidity   StatusItem = "UIDVALIDITY"
	StatusItemUnseen        StatusItem = "UNSEEN"
	StatusItemHighestModSeq StatusItem = "HIGHESTMODSEQ"
)
