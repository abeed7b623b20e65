package client

import (
	"crypto/tls"
	"fmt"

	"github.com/meszmate/imapengine/ioadapter"
	"github.com/meszmate/imapengine/scheduler"
)

// StartTLS upgrades the connection to TLS (RFC 3501 §6.2.1). It submits
// STARTTLS through the engine's barrier path, which refuses to pipeline
// anything else behind it, then performs the handshake itself and swaps in
// a fresh ioadapter.Adapter before resetting the scheduler for the new
// (unencrypted-history) capability set.
func (c *Client) StartTLS(config *tls.Config) error {
	if config == nil {
		config = c.options.TLSConfig
	}
	if config == nil {
		config = &tls.Config{}
	}

	res, err := c.submitSTARTTLS(scheduler.NewStartTLSTask())
	if err := resultErr(res, err); err != nil {
		return err
	}

	conn := c.currentAdapter().Conn()
	tlsConn := tls.Client(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("imapengine/client: TLS handshake: %w", err)
	}

	newAdapter := ioadapter.New(tlsConn, 4096)
	c.runOnLoop(func() {
		c.adapterMu.Lock()
		c.adapter = newAdapter
		c.adapterMu.Unlock()
		c.sched.Reset()
	})
	go c.readLoop(newAdapter)
	return nil
}
