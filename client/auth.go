package client

import (
	"encoding/base64"
	"fmt"

	imap "github.com/meszmate/imapengine"
	imapauth "github.com/meszmate/imapengine/auth"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/scheduler"
	"github.com/meszmate/imapengine/sender"
)

// Login authenticates the user with a username and password.
func (c *Client) Login(username, password string) error {
	res, err := c.submit(scheduler.NewLoginTask(username, []byte(password)))
	if err := resultErr(res, err); err != nil {
		return err
	}
	c.setState(imap.ConnStateAuthenticated)
	return nil
}

// Authenticate authenticates using a SASL mechanism.
func (c *Client) Authenticate(mechanism imapauth.ClientMechanism) error {
	ir, err := mechanism.Start()
	if err != nil {
		return fmt.Errorf("SASL start: %w", err)
	}
	task := newAuthenticateTask(mechanism, ir, c.HasCap("SASL-IR"))
	res, err := c.submit(task)
	if err := resultErr(res, err); err != nil {
		return err
	}
	c.setState(imap.ConnStateAuthenticated)
	return nil
}

// authenticateTask drives a SASL challenge-response exchange via
// clientengine's AUTHENTICATE continuation protocol.
type authenticateTask struct {
	mechanism    imapauth.ClientMechanism
	ir           []byte
	sendIRInline bool
	started      bool
}

func newAuthenticateTask(mechanism imapauth.ClientMechanism, ir []byte, sendIRInline bool) *authenticateTask {
	return &authenticateTask{mechanism: mechanism, ir: ir, sendIRInline: sendIRInline}
}

func (t *authenticateTask) Kind() clientengine.CommandKind { return clientengine.CommandAuthenticate }
func (t *authenticateTask) CommandBody() clientengine.CommandBody {
	return authenticateBody{mechanism: t.mechanism.Name(), ir: t.ir, inline: t.sendIRInline}
}

func (t *authenticateTask) ProcessData(d scheduler.Data) (scheduler.Data, bool) { return d, false }
func (t *authenticateTask) ProcessUntagged(s clientengine.Status) (clientengine.Status, bool) {
	return s, false
}
func (t *authenticateTask) ProcessContinuation(s string) (string, bool) { return s, false }
func (t *authenticateTask) ProcessBye(s clientengine.Status) (clientengine.Status, bool) {
	return s, false
}

// NextData implements scheduler.AuthenticateResponder: the first call either
// carries the server's first real challenge, or (when the initial response
// wasn't sent inline) is the cue to send it now.
func (t *authenticateTask) NextData(serverContinuationText string) (data []byte, done bool) {
	if !t.started && t.ir != nil && !t.sendIRInline {
		t.started = true
		return []byte(base64.StdEncoding.EncodeToString(t.ir) + "\r\n"), false
	}
	t.started = true

	challenge, err := base64.StdEncoding.DecodeString(serverContinuationText)
	if err != nil {
		return []byte("*\r\n"), true
	}
	resp, err := t.mechanism.Next(challenge)
	if err != nil {
		return []byte("*\r\n"), true
	}
	return []byte(base64.StdEncoding.EncodeToString(resp) + "\r\n"), false
}

func (t *authenticateTask) ProcessTagged(status clientengine.Status) interface{} {
	return scheduler.CommandResult{OK: status.Type == imap.StatusResponseTypeOK, Status: status}
}

// authenticateBody renders the initial AUTHENTICATE line, with the SASL
// initial response inline when the server advertised SASL-IR (RFC 4959).
type authenticateBody struct {
	mechanism string
	ir        []byte
	inline    bool
}

func (b authenticateBody) Render(tag string) sender.QueuedMessage {
	line := tag + " AUTHENTICATE " + b.mechanism
	if b.ir != nil && b.inline {
		line += " " + base64.StdEncoding.EncodeToString(b.ir)
	}
	line += "\r\n"
	return sender.QueuedMessage{Pieces: []sender.Piece{{Kind: sender.PieceBytes, Data: []byte(line)}}}
}

var _ scheduler.AuthenticateResponder = (*authenticateTask)(nil)

// Logout sends the LOGOUT command and closes the connection.
func (c *Client) Logout() error {
	res, err := c.submit(scheduler.NewLogoutTask())
	callErr := resultErr(res, err)
	c.setState(imap.ConnStateLogout)
	_ = c.Close()
	return callErr
}
