package scheduler

import (
	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
)

// baseTask implements the no-op parts of Task so each concrete task only
// overrides what it actually consumes.
type baseTask struct{}

func (baseTask) ProcessData(d Data) (Data, bool)                                   { return d, false }
func (baseTask) ProcessUntagged(s clientengine.Status) (clientengine.Status, bool) { return s, false }
func (baseTask) ProcessContinuation(text string) (string, bool)                    { return text, false }
func (baseTask) ProcessBye(s clientengine.Status) (clientengine.Status, bool)      { return s, false }

func regularResult(status clientengine.Status) *CommandResult {
	return &CommandResult{OK: status.Type == imap.StatusResponseTypeOK, Status: status}
}

// CommandResult is the typed output most built-in tasks produce on
// ProcessTagged: whether the tagged status was OK, and the status itself
// for its text/code.
type CommandResult struct {
	OK     bool
	Status clientengine.Status
}

// CapabilityTask runs CAPABILITY and collects the advertised capability
// list from the single untagged CAPABILITY response.
type CapabilityTask struct {
	baseTask
	caps []string
}

func NewCapabilityTask() *CapabilityTask { return &CapabilityTask{} }

func (t *CapabilityTask) Kind() clientengine.CommandKind    { return clientengine.CommandRegular }
func (t *CapabilityTask) CommandBody() clientengine.CommandBody { return plainBody("CAPABILITY") }

func (t *CapabilityTask) ProcessData(d Data) (Data, bool) {
	rd, ok := d.(ResponseData)
	if !ok || rd.Kind != DataCapability {
		return d, false
	}
	t.caps = rd.Capabilities
	return d, true
}

func (t *CapabilityTask) ProcessTagged(status clientengine.Status) interface{} {
	return CapabilityResult{CommandResult: *regularResult(status), Capabilities: t.caps}
}

// CapabilityResult is CapabilityTask's output.
type CapabilityResult struct {
	CommandResult
	Capabilities []string
}

// LoginTask runs LOGIN.
type LoginTask struct {
	baseTask
	username string
	password []byte
}

func NewLoginTask(username string, password []byte) *LoginTask {
	return &LoginTask{username: username, password: password}
}

func (t *LoginTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *LoginTask) CommandBody() clientengine.CommandBody {
	return loginBody{username: t.username, password: t.password}
}
func (t *LoginTask) ProcessTagged(status clientengine.Status) interface{} {
	return regularResult(status)
}

// SelectTask runs SELECT or EXAMINE and accumulates the mailbox's
// EXISTS/RECENT/FLAGS responses.
type SelectTask struct {
	baseTask
	mailbox  string
	readOnly bool

	exists uint32
	recent uint32
	flags  []imap.Flag
}

func NewSelectTask(mailbox string) *SelectTask  { return &SelectTask{mailbox: mailbox} }
func NewExamineTask(mailbox string) *SelectTask { return &SelectTask{mailbox: mailbox, readOnly: true} }

func (t *SelectTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *SelectTask) CommandBody() clientengine.CommandBody {
	return selectBody{mailbox: t.mailbox, readOnly: t.readOnly}
}

func (t *SelectTask) ProcessData(d Data) (Data, bool) {
	rd, ok := d.(ResponseData)
	if !ok {
		return d, false
	}
	switch rd.Kind {
	case DataExists:
		t.exists = rd.Exists
	case DataRecent:
		t.recent = rd.Recent
	case DataFlags:
		t.flags = rd.Flags
	default:
		return d, false
	}
	return d, true
}

func (t *SelectTask) ProcessTagged(status clientengine.Status) interface{} {
	return SelectResult{
		CommandResult: *regularResult(status),
		Exists:        t.exists,
		Recent:        t.recent,
		Flags:         t.flags,
		ReadOnly:      statusCode(status) == imap.ResponseCodeReadOnly,
	}
}

// statusCode extracts the response code from a Status whose Raw carries
// the grammar's decoded StatusResponse, or "" if it doesn't.
func statusCode(s clientengine.Status) imap.ResponseCode {
	sr, ok := s.Raw.(*imap.StatusResponse)
	if !ok {
		return ""
	}
	return sr.Code
}

// SelectResult is SelectTask's output.
type SelectResult struct {
	CommandResult
	Exists   uint32
	Recent   uint32
	Flags    []imap.Flag
	ReadOnly bool
}

// FetchTask runs FETCH and accumulates one FetchMessage per message.
type FetchTask struct {
	baseTask
	set   imap.NumSet
	items string
	uid   bool

	messages []FetchMessage
}

func NewFetchTask(set imap.NumSet, items string) *FetchTask {
	return &FetchTask{set: set, items: items}
}

// NewUIDFetchTask builds a FetchTask that sends UID FETCH instead of FETCH.
func NewUIDFetchTask(set imap.NumSet, items string) *FetchTask {
	return &FetchTask{set: set, items: items, uid: true}
}

func (t *FetchTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *FetchTask) CommandBody() clientengine.CommandBody {
	return fetchBody{set: t.set, items: t.items, uid: t.uid}
}

func (t *FetchTask) ProcessData(d Data) (Data, bool) {
	rd, ok := d.(ResponseData)
	if !ok || rd.Kind != DataFetch {
		return d, false
	}
	t.messages = append(t.messages, rd.Fetch)
	return d, true
}

func (t *FetchTask) ProcessTagged(status clientengine.Status) interface{} {
	return FetchResult{CommandResult: *regularResult(status), Messages: t.messages}
}

// FetchResult is FetchTask's output.
type FetchResult struct {
	CommandResult
	Messages []FetchMessage
}

// SearchTask runs SEARCH and accumulates the matching sequence numbers or
// UIDs from the single untagged SEARCH response.
type SearchTask struct {
	baseTask
	criteria string
	uid      bool
	nums     []uint32
}

func NewSearchTask(criteria string) *SearchTask { return &SearchTask{criteria: criteria} }

// NewUIDSearchTask builds a SearchTask that sends UID SEARCH instead of SEARCH.
func NewUIDSearchTask(criteria string) *SearchTask { return &SearchTask{criteria: criteria, uid: true} }

func (t *SearchTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *SearchTask) CommandBody() clientengine.CommandBody {
	return searchBody{criteria: t.criteria, uid: t.uid}
}

func (t *SearchTask) ProcessData(d Data) (Data, bool) {
	rd, ok := d.(ResponseData)
	if !ok || rd.Kind != DataSearch {
		return d, false
	}
	t.nums = rd.Nums
	return d, true
}

func (t *SearchTask) ProcessTagged(status clientengine.Status) interface{} {
	return SearchResult{CommandResult: *regularResult(status), Nums: t.nums}
}

// SearchResult is SearchTask's output.
type SearchResult struct {
	CommandResult
	Nums []uint32
}

// ListTask runs LIST and accumulates each untagged LIST entry.
type ListTask struct {
	baseTask
	reference, pattern string
	entries            []ListEntry
}

func NewListTask(reference, pattern string) *ListTask {
	return &ListTask{reference: reference, pattern: pattern}
}

func (t *ListTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *ListTask) CommandBody() clientengine.CommandBody {
	return listBody{reference: t.reference, pattern: t.pattern}
}

func (t *ListTask) ProcessData(d Data) (Data, bool) {
	rd, ok := d.(ResponseData)
	if !ok || rd.Kind != DataList {
		return d, false
	}
	t.entries = append(t.entries, rd.Mailbox)
	return d, true
}

func (t *ListTask) ProcessTagged(status clientengine.Status) interface{} {
	return ListResult{CommandResult: *regularResult(status), Entries: t.entries}
}

// ListResult is ListTask's output.
type ListResult struct {
	CommandResult
	Entries []ListEntry
}

// AppendTask runs APPEND and reports the server's APPENDUID if it sent one.
// Per RFC 4315, APPENDUID is a response code on the tagged OK completion,
// not an untagged data item, so it is read straight from the tagged status
// rather than accumulated during the command.
type AppendTask struct {
	baseTask
	mailbox string
	flags   []imap.Flag
	message []byte
}

func NewAppendTask(mailbox string, flags []imap.Flag, message []byte) *AppendTask {
	return &AppendTask{mailbox: mailbox, flags: flags, message: message}
}

func (t *AppendTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *AppendTask) CommandBody() clientengine.CommandBody {
	return appendBody{mailbox: t.mailbox, flags: t.flags, message: t.message}
}

func (t *AppendTask) ProcessTagged(status clientengine.Status) interface{} {
	uidValidity, uid, ok := appendUIDFromStatus(status)
	return AppendResult{
		CommandResult: *regularResult(status),
		UIDValidity:   uidValidity,
		UID:           uid,
		HasUID:        ok,
	}
}

// appendUIDFromStatus extracts the uidvalidity/uid pair from an APPENDUID
// response code on a tagged status, if present.
func appendUIDFromStatus(s clientengine.Status) (uint32, imap.UID, bool) {
	sr, ok := s.Raw.(*imap.StatusResponse)
	if !ok || sr.Code != imap.ResponseCodeAppendUID {
		return 0, 0, false
	}
	pair, ok := sr.CodeArg.([2]uint32)
	if !ok {
		return 0, 0, false
	}
	return pair[0], imap.UID(pair[1]), true
}

// AppendResult is AppendTask's output.
type AppendResult struct {
	CommandResult
	UIDValidity uint32
	UID         imap.UID
	HasUID      bool
}

// CopyTask runs COPY, UID COPY, MOVE or UID MOVE and reports the server's
// COPYUID if it sent one (RFC 4315 UIDPLUS; also used by MOVE per RFC 6851).
type CopyTask struct {
	baseTask
	verb string
	set  imap.NumSet
	dest string
}

func NewCopyTask(set imap.NumSet, dest string) *CopyTask {
	return &CopyTask{verb: "COPY", set: set, dest: dest}
}

// NewUIDCopyTask builds a CopyTask that sends UID COPY instead of COPY.
func NewUIDCopyTask(set imap.NumSet, dest string) *CopyTask {
	return &CopyTask{verb: "UID COPY", set: set, dest: dest}
}

// NewMoveTask builds a CopyTask that sends MOVE instead of COPY.
func NewMoveTask(set imap.NumSet, dest string) *CopyTask {
	return &CopyTask{verb: "MOVE", set: set, dest: dest}
}

// NewUIDMoveTask builds a CopyTask that sends UID MOVE instead of COPY.
func NewUIDMoveTask(set imap.NumSet, dest string) *CopyTask {
	return &CopyTask{verb: "UID MOVE", set: set, dest: dest}
}

func (t *CopyTask) Kind() clientengine.CommandKind { return clientengine.CommandRegular }
func (t *CopyTask) CommandBody() clientengine.CommandBody {
	return copyBody{verb: t.verb, set: t.set, dest: t.dest}
}

func (t *CopyTask) ProcessTagged(status clientengine.Status) interface{} {
	uidValidity, uid, ok := copyUIDFromStatus(status)
	return CopyResult{
		CommandResult: *regularResult(status),
		UIDValidity:   uidValidity,
		UID:           uid,
		HasUID:        ok,
	}
}

// copyUIDFromStatus extracts the uidvalidity/uid pair from a COPYUID
// response code on a tagged status, if present.
func copyUIDFromStatus(s clientengine.Status) (uint32, imap.UID, bool) {
	sr, ok := s.Raw.(*imap.StatusResponse)
	if !ok || sr.Code != imap.ResponseCodeCopyUID {
		return 0, 0, false
	}
	pair, ok := sr.CodeArg.([2]uint32)
	if !ok {
		return 0, 0, false
	}
	return pair[0], imap.UID(pair[1]), true
}

// CopyResult is CopyTask's output.
type CopyResult struct {
	CommandResult
	UIDValidity uint32
	UID         imap.UID
	HasUID      bool
}

// LogoutTask runs LOGOUT. The server's BYE is expected and absorbed rather
// than surfaced as unsolicited.
type LogoutTask struct {
	baseTask
	gotBye bool
}

func NewLogoutTask() *LogoutTask { return &LogoutTask{} }

func (t *LogoutTask) Kind() clientengine.CommandKind        { return clientengine.CommandRegular }
func (t *LogoutTask) CommandBody() clientengine.CommandBody { return logoutBody{} }

func (t *LogoutTask) ProcessBye(status clientengine.Status) (clientengine.Status, bool) {
	t.gotBye = true
	return status, true
}

func (t *LogoutTask) ProcessTagged(status clientengine.Status) interface{} {
	return LogoutResult{CommandResult: *regularResult(status), GotBye: t.gotBye}
}

// LogoutResult is LogoutTask's output.
type LogoutResult struct {
	CommandResult
	GotBye bool
}

// IdleTask runs IDLE until the caller requests termination via the
// Scheduler handle it was enqueued with, reporting every untagged data/
// status response seen while idling.
type IdleTask struct {
	baseTask
	accepted bool
	seen     []interface{}
}

func NewIdleTask() *IdleTask { return &IdleTask{} }

func (t *IdleTask) Kind() clientengine.CommandKind        { return clientengine.CommandIdle }
func (t *IdleTask) CommandBody() clientengine.CommandBody { return idleBody{} }

func (t *IdleTask) OnAccepted() { t.accepted = true }

func (t *IdleTask) ProcessData(d Data) (Data, bool) {
	t.seen = append(t.seen, d)
	return d, true
}

func (t *IdleTask) ProcessUntagged(status clientengine.Status) (clientengine.Status, bool) {
	t.seen = append(t.seen, status)
	return status, true
}

func (t *IdleTask) ProcessTagged(status clientengine.Status) interface{} {
	return IdleResult{CommandResult: *regularResult(status), Accepted: t.accepted, Seen: t.seen}
}

// IdleResult is IdleTask's output.
type IdleResult struct {
	CommandResult
	Accepted bool
	Seen     []interface{}
}

// GenericTask runs any command whose completion is reported entirely by
// its tagged status, with no untagged data worth accumulating beyond what
// the caller already parses off the wire separately (NOOP, CHECK, CLOSE,
// EXPUNGE, CREATE, DELETE, RENAME, SUBSCRIBE, UNSUBSCRIBE, STORE, COPY,
// STATUS, ENABLE). The verb and arguments are rendered by the caller; this
// only pairs a command line with its tagged result.
type GenericTask struct {
	baseTask
	line string
}

// NewGenericTask builds a task sending line as-is (no trailing CRLF).
func NewGenericTask(line string) *GenericTask { return &GenericTask{line: line} }

func (t *GenericTask) Kind() clientengine.CommandKind        { return clientengine.CommandRegular }
func (t *GenericTask) CommandBody() clientengine.CommandBody { return plainBody(t.line) }
func (t *GenericTask) ProcessTagged(status clientengine.Status) interface{} {
	return regularResult(status)
}

// StartTLSTask runs STARTTLS. It must be submitted via
// Scheduler.EnqueueSTARTTLS rather than Scheduler.Enqueue, since the engine
// refuses to pipeline any command behind it.
type StartTLSTask struct {
	baseTask
}

func NewStartTLSTask() *StartTLSTask { return &StartTLSTask{} }

func (t *StartTLSTask) Kind() clientengine.CommandKind        { return clientengine.CommandRegular }
func (t *StartTLSTask) CommandBody() clientengine.CommandBody { return plainBody("STARTTLS") }
func (t *StartTLSTask) ProcessTagged(status clientengine.Status) interface{} {
	return regularResult(status)
}

var (
	_ Task           = (*CapabilityTask)(nil)
	_ Task           = (*LoginTask)(nil)
	_ Task           = (*SelectTask)(nil)
	_ Task           = (*FetchTask)(nil)
	_ Task           = (*SearchTask)(nil)
	_ Task           = (*ListTask)(nil)
	_ Task           = (*AppendTask)(nil)
	_ Task           = (*CopyTask)(nil)
	_ Task           = (*LogoutTask)(nil)
	_ Task           = (*IdleTask)(nil)
	_ Task           = (*GenericTask)(nil)
	_ Task           = (*StartTLSTask)(nil)
	_ IdleController = (*IdleTask)(nil)
)
