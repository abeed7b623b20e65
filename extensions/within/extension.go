package within

import (
	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/extension"
)

// Extension implements the WITHIN IMAP extension (RFC 5032).
type Extension struct {
	extension.BaseExtension
}

var _ extension.ServerExtension = (*Extension)(nil)

// New creates a new WITHIN extension.
func New() *Extension {
	return &Extension{
		BaseExtension: extension.BaseExtension{
			ExtName:         "WITHIN",
			ExtCapabilities: []imap.Cap{imap.CapWithin},
		},
	}
}

func (e *Extension) CommandHandlers() map[string]interface{} { return nil }
func (e *Extension) WrapHandler(name string, handler interface{}) interface{} { return nil }
func (e *Extension) SessionExtension() interface{} { return nil }
func (e *Extension) OnEnabled(connID string) error { return nil }
