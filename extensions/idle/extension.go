package idle

import (
	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/extension"
)

// Extension implements the IDLE IMAP extension (RFC 2177).
// IDLE allows the client to indicate it is ready to accept unsolicited
// mailbox update notifications. The command handling is built into the
// core server; this extension only advertises the capability.
type Extension struct {
	extension.BaseExtension
}

var _ extension.ServerExtension = (*Extension)(nil)

// New creates a new IDLE extension.
func New() *Extension {
	return &Extension{
		BaseExtension: extension.BaseExtension{
			ExtName:         "IDLE",
			ExtCapabilities: []imap.Cap{imap.CapIdle},
		},
	}
}

func (e *Extension) CommandHandlers() map[string]interface{}                  { return nil }
func (e *Extension) WrapHandler(name string, handler interface{}) interface{} { return nil }
func (e *Extension) SessionExtension() interface{}                            { return nil }
func (e *Extension) OnEnabled(connID string) error                            { return nil }
