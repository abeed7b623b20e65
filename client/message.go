package client

import (
	"strings"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/scheduler"
)

// Fetch retrieves message data for the given sequence set.
func (c *Client) Fetch(seqSet string, items string) ([]scheduler.FetchMessage, error) {
	set, err := imap.ParseSeqSet(seqSet)
	if err != nil {
		return nil, err
	}
	return c.fetch(scheduler.NewFetchTask(set, items))
}

// UIDFetch retrieves message data using UIDs.
func (c *Client) UIDFetch(uidSet string, items string) ([]scheduler.FetchMessage, error) {
	set, err := imap.ParseUIDSet(uidSet)
	if err != nil {
		return nil, err
	}
	return c.fetch(scheduler.NewUIDFetchTask(set, items))
}

func (c *Client) fetch(task *scheduler.FetchTask) ([]scheduler.FetchMessage, error) {
	res, err := c.submit(task)
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	return res.Output.(scheduler.FetchResult).Messages, nil
}

// Store modifies message flags.
func (c *Client) Store(seqSet string, action imap.StoreAction, flags []imap.Flag, silent bool) error {
	return c.store(seqSet, "STORE", action, flags, silent)
}

// UIDStore modifies message flags using UIDs.
func (c *Client) UIDStore(uidSet string, action imap.StoreAction, flags []imap.Flag, silent bool) error {
	return c.store(uidSet, "UID STORE", action, flags, silent)
}

func (c *Client) store(set, verb string, action imap.StoreAction, flags []imap.Flag, silent bool) error {
	item := action.String()
	if silent {
		item += ".SILENT"
	}
	flagStrs := make([]string, len(flags))
	for i, f := range flags {
		flagStrs[i] = string(f)
	}
	line := verb + " " + set + " " + item + " (" + strings.Join(flagStrs, " ") + ")"
	res, err := c.submit(scheduler.NewGenericTask(line))
	return resultErr(res, err)
}

// Copy copies messages to another mailbox.
func (c *Client) Copy(seqSet, dest string) (*imap.CopyData, error) {
	set, err := imap.ParseSeqSet(seqSet)
	if err != nil {
		return nil, err
	}
	return c.copy(scheduler.NewCopyTask(set, dest))
}

// UIDCopy copies messages using UIDs.
func (c *Client) UIDCopy(uidSet, dest string) (*imap.CopyData, error) {
	set, err := imap.ParseUIDSet(uidSet)
	if err != nil {
		return nil, err
	}
	return c.copy(scheduler.NewUIDCopyTask(set, dest))
}

// Move moves messages to another mailbox (MOVE extension, RFC 6851).
func (c *Client) Move(seqSet, dest string) (*imap.CopyData, error) {
	set, err := imap.ParseSeqSet(seqSet)
	if err != nil {
		return nil, err
	}
	data, err := c.copy(scheduler.NewMoveTask(set, dest))
	if err != nil {
		return nil, err
	}
	c.setMailbox("", false)
	return data, nil
}

// UIDMove moves messages to another mailbox using UIDs.
func (c *Client) UIDMove(uidSet, dest string) (*imap.CopyData, error) {
	set, err := imap.ParseUIDSet(uidSet)
	if err != nil {
		return nil, err
	}
	data, err := c.copy(scheduler.NewUIDMoveTask(set, dest))
	if err != nil {
		return nil, err
	}
	c.setMailbox("", false)
	return data, nil
}

// copy runs a CopyTask and reshapes its result into imap.CopyData. The
// underlying wire codec only decodes COPYUID's uidvalidity/uid pair, not
// the full source/dest UID sets RFC 4315 allows, so DestUIDs carries at
// most the single reported UID and SourceUIDs is left empty.
func (c *Client) copy(task *scheduler.CopyTask) (*imap.CopyData, error) {
	res, err := c.submit(task)
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	cr := res.Output.(scheduler.CopyResult)
	data := &imap.CopyData{UIDValidity: cr.UIDValidity}
	if cr.HasUID {
		data.DestUIDs.AddNum(cr.UID)
	}
	return data, nil
}

// Expunge permanently removes deleted messages.
func (c *Client) Expunge() error {
	res, err := c.submit(scheduler.NewGenericTask(string(imap.CommandExpunge)))
	return resultErr(res, err)
}

// UIDExpunge permanently removes the given UIDs (UIDPLUS).
func (c *Client) UIDExpunge(uidSet string) error {
	res, err := c.submit(scheduler.NewGenericTask("UID EXPUNGE " + uidSet))
	return resultErr(res, err)
}

// Search searches for messages matching criteria.
func (c *Client) Search(criteria string) ([]uint32, error) {
	return c.search(scheduler.NewSearchTask(criteria))
}

// UIDSearch searches using UIDs.
func (c *Client) UIDSearch(criteria string) ([]uint32, error) {
	return c.search(scheduler.NewUIDSearchTask(criteria))
}

func (c *Client) search(task *scheduler.SearchTask) ([]uint32, error) {
	res, err := c.submit(task)
	if err := resultErr(res, err); err != nil {
		return nil, err
	}
	return res.Output.(scheduler.SearchResult).Nums, nil
}
