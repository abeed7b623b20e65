package client

import (
	"strings"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/scheduler"
)

// Select opens a mailbox, or opens it read-only (EXAMINE) if opts requests
// it.
func (c *Client) Select(mailbox string, opts *imap.SelectOptions) (*imap.SelectData, error) {
	readOnly := opts != nil && opts.ReadOnly
	var task *scheduler.SelectTask
	if readOnly {
		task = scheduler.NewExamineTask(mailbox)
	} else {
		task = scheduler.NewSelectTask(mailbox)
	}

	res, err := c.submit(task)
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	sr := res.Output.(scheduler.SelectResult)

	c.setState(imap.ConnStateSelected)
	c.setMailbox(mailbox, sr.ReadOnly)

	return &imap.SelectData{
		Flags:       sr.Flags,
		NumMessages: sr.Exists,
		NumRecent:   sr.Recent,
		ReadOnly:    sr.ReadOnly,
	}, nil
}

// Examine opens a mailbox in read-only mode.
func (c *Client) Examine(mailbox string) (*imap.SelectData, error) {
	return c.Select(mailbox, &imap.SelectOptions{ReadOnly: true})
}

// Unselect leaves the selected mailbox without expunging deleted messages
// (RFC 3691).
func (c *Client) Unselect() error {
	res, err := c.submit(scheduler.NewGenericTask(string(imap.CommandUnselect)))
	if err := resultErr(res, err); err != nil {
		return err
	}
	c.setState(imap.ConnStateAuthenticated)
	c.setMailbox("", false)
	return nil
}

// CloseMailbox closes the selected mailbox, expunging messages marked
// \Deleted.
func (c *Client) CloseMailbox() error {
	res, err := c.submit(scheduler.NewGenericTask(string(imap.CommandClose)))
	if err := resultErr(res, err); err != nil {
		return err
	}
	c.setState(imap.ConnStateAuthenticated)
	c.setMailbox("", false)
	return nil
}

// Create creates a new mailbox.
func (c *Client) Create(mailbox string) error {
	line := string(imap.CommandCreate) + " " + scheduler.QuoteAstring(mailbox)
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// Delete deletes a mailbox.
func (c *Client) Delete(mailbox string) error {
	line := string(imap.CommandDelete) + " " + scheduler.QuoteAstring(mailbox)
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// Rename renames a mailbox.
func (c *Client) Rename(mailbox, newName string) error {
	line := string(imap.CommandRename) + " " + scheduler.QuoteAstring(mailbox) + " " + scheduler.QuoteAstring(newName)
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// Subscribe subscribes to a mailbox.
func (c *Client) Subscribe(mailbox string) error {
	line := string(imap.CommandSubscribe) + " " + scheduler.QuoteAstring(mailbox)
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// Unsubscribe unsubscribes from a mailbox.
func (c *Client) Unsubscribe(mailbox string) error {
	line := string(imap.CommandUnsubscribe) + " " + scheduler.QuoteAstring(mailbox)
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// ListMailboxes lists mailboxes matching pattern under reference.
func (c *Client) ListMailboxes(reference, pattern string) ([]imap.ListData, error) {
	res, err := c.submit(scheduler.NewListTask(reference, pattern))
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	lr := res.Output.(scheduler.ListResult)
	out := make([]imap.ListData, len(lr.Entries))
	for i, e := range lr.Entries {
		out[i] = listEntryToData(e)
	}
	return out, nil
}

// ListMailboxesExtended lists mailboxes using the extended LIST command
// (RFC 5258). Only the SELECT-OPTIONS this engine's wire codec actually
// decodes into structured data are honored; unsupported RETURN options are
// silently not requested.
func (c *Client) ListMailboxesExtended(reference, pattern string, opts *imap.ListOptions) ([]imap.ListData, error) {
	if opts == nil {
		return c.ListMailboxes(reference, pattern)
	}

	var sel []string
	if opts.SelectSubscribed {
		sel = append(sel, "SUBSCRIBED")
	}
	if opts.SelectRemote {
		sel = append(sel, "REMOTE")
	}
	if opts.SelectRecursiveMatch {
		sel = append(sel, "RECURSIVEMATCH")
	}
	if opts.SelectSpecialUse {
		sel = append(sel, "SPECIAL-USE")
	}

	var ret []string
	if opts.ReturnSubscribed {
		ret = append(ret, "SUBSCRIBED")
	}
	if opts.ReturnChildren {
		ret = append(ret, "CHILDREN")
	}
	if opts.ReturnSpecialUse {
		ret = append(ret, "SPECIAL-USE")
	}

	var line strings.Builder
	line.WriteString(string(imap.CommandList))
	if len(sel) > 0 {
		line.WriteString(" (")
		line.WriteString(strings.Join(sel, " "))
		line.WriteString(")")
	}
	line.WriteString(" ")
	line.WriteString(scheduler.QuoteAstring(reference))
	line.WriteString(" ")
	line.WriteString(scheduler.QuoteAstring(pattern))
	if len(ret) > 0 {
		line.WriteString(" RETURN (")
		line.WriteString(strings.Join(ret, " "))
		line.WriteString(")")
	}

	task := scheduler.NewListTask(reference, pattern)
	res, err := c.submit(&extendedListTask{ListTask: task, line: line.String()})
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	lr := res.Output.(scheduler.ListResult)
	out := make([]imap.ListData, len(lr.Entries))
	for i, e := range lr.Entries {
		out[i] = listEntryToData(e)
	}
	return out, nil
}

// extendedListTask sends an extended-syntax LIST line while reusing
// scheduler.ListTask's untagged-entry accumulation and tagged result shape.
type extendedListTask struct {
	*scheduler.ListTask
	line string
}

func (t *extendedListTask) CommandBody() clientengine.CommandBody {
	return scheduler.NewGenericTask(t.line).CommandBody()
}

func listEntryToData(e scheduler.ListEntry) imap.ListData {
	attrs := make([]imap.MailboxAttr, len(e.Attributes))
	for i, a := range e.Attributes {
		attrs[i] = imap.MailboxAttr(a)
	}
	var delim rune
	if e.Delimiter != "" {
		delim = []rune(e.Delimiter)[0]
	}
	return imap.ListData{Attrs: attrs, Delim: delim, Mailbox: e.Name}
}

// Status requests mailbox metadata without selecting it.
func (c *Client) Status(mailbox string, opts *imap.StatusOptions) (*imap.StatusData, error) {
	items := buildStatusItems(opts)
	line := string(imap.CommandStatus) + " " + scheduler.QuoteAstring(mailbox) + " (" + strings.Join(items, " ") + ")"

	task := newStatusTask(line)
	res, err := c.submit(task)
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	return task.data, nil
}

func buildStatusItems(opts *imap.StatusOptions) []string {
	if opts == nil {
		return []string{"MESSAGES"}
	}
	var items []string
	if opts.NumMessages {
		items = append(items, "MESSAGES")
	}
	if opts.UIDNext {
		items = append(items, "UIDNEXT")
	}
	if opts.UIDValidity {
		items = append(items, "UIDVALIDITY")
	}
	if opts.NumUnseen {
		items = append(items, "UNSEEN")
	}
	if opts.NumRecent {
		items = append(items, "RECENT")
	}
	if opts.HighestModSeq {
		items = append(items, "HIGHESTMODSEQ")
	}
	if len(items) == 0 {
		items = []string{"MESSAGES"}
	}
	return items
}

// statusTask captures the single untagged STATUS response for a STATUS
// command, whose line (including the mailbox name) the caller builds.
type statusTask struct {
	line string
	data *imap.StatusData
}

func newStatusTask(line string) *statusTask { return &statusTask{line: line} }

func (t *statusTask) Kind() clientengine.CommandKind        { return clientengine.CommandRegular }
func (t *statusTask) CommandBody() clientengine.CommandBody {
	return scheduler.NewGenericTask(t.line).CommandBody()
}

func (t *statusTask) ProcessData(d scheduler.Data) (scheduler.Data, bool) {
	rd, ok := d.(scheduler.ResponseData)
	if !ok || rd.Kind != scheduler.DataStatus {
		return d, false
	}
	t.data = statusDataFromResponse(rd)
	return d, true
}

func (t *statusTask) ProcessUntagged(s clientengine.Status) (clientengine.Status, bool) { return s, false }
func (t *statusTask) ProcessContinuation(s string) (string, bool)                       { return s, false }
func (t *statusTask) ProcessBye(s clientengine.Status) (clientengine.Status, bool)       { return s, false }

func (t *statusTask) ProcessTagged(status clientengine.Status) interface{} {
	return scheduler.CommandResult{OK: status.Type == imap.StatusResponseTypeOK, Status: status}
}

func statusDataFromResponse(rd scheduler.ResponseData) *imap.StatusData {
	data := &imap.StatusData{Mailbox: rd.StatusMailbox}
	for item, n := range rd.StatusItems {
		v := n
		switch item {
		case scheduler.StatusItemMessages:
			u := uint32(v)
			data.NumMessages = &u
		case scheduler.StatusItemUIDNext:
			u := uint32(v)
			data.UIDNext = &u
		case scheduler.StatusItemUIDValidity:
			u := uint32(v)
			data.UIDValidity = &u
		case scheduler.StatusItemUnseen:
			u := uint32(v)
			data.NumUnseen = &u
		case scheduler.StatusItemRecent:
			u := uint32(v)
			data.NumRecent = &u
		case scheduler.StatusItemHighestModSeq:
			u := uint64(v)
			data.HighestModSeq = &u
		}
	}
	return data
}

// Noop sends NOOP.
func (c *Client) Noop() error {
	res, err := c.submit(scheduler.NewGenericTask(string(imap.CommandNoop)))
	return resultErr(res, err)
}

// Capability requests the server's capability list.
func (c *Client) Capability() ([]string, error) {
	res, err := c.submit(scheduler.NewCapabilityTask())
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	return res.Output.(scheduler.CapabilityResult).Capabilities, nil
}

// Enable enables extensions (RFC 5161).
func (c *Client) Enable(caps ...string) error {
	line := string(imap.CommandEnable) + " " + strings.Join(caps, " ")
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// Append appends a message to mailbox.
func (c *Client) Append(mailbox string, opts *imap.AppendOptions, message []byte) (*imap.AppendData, error) {
	var flags []imap.Flag
	if opts != nil {
		flags = opts.Flags
	}
	res, err := c.submit(scheduler.NewAppendTask(mailbox, flags, message))
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	ar := res.Output.(scheduler.AppendResult)
	data := &imap.AppendData{UIDValidity: ar.UIDValidity}
	if ar.HasUID {
		data.UID = ar.UID
	}
	return data, nil
}
