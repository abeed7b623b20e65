package sortdisplay

import (
	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/extension"
)

// Extension implements the SORT=DISPLAY IMAP extension (RFC 5957).
type Extension struct {
	extension.BaseExtension
}

var _ extension.ServerExtension = (*Extension)(nil)

// New creates a new SORT=DISPLAY extension.
func New() *Extension {
	return &Extension{
		BaseExtension: extension.BaseExtension{
			ExtName:         "SORT=DISPLAY",
			ExtCapabilities: []imap.Cap{imap.CapSortDisplay},
			ExtDependencies: []string{"SORT"},
		},
	}
}

func (e *Extension) CommandHandlers() map[string]interface{} { return nil }
func (e *Extension) WrapHandler(name string, handler interface{}) interface{} { return nil }
func (e *Extension) SessionExtension() interface{} { return nil }
func (e *Extension) OnEnabled(connID string) error { return nil }
