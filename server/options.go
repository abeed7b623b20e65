package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"strings"
	"time"

	imap "github.com/meszmate/imapengine"
)

// CheckAuthFunc validates credentials gathered by a SASL server mechanism
// during AUTHENTICATE. mechanism is the upper-cased SASL mechanism name,
// identity the authentication identity it extracted, and credentials
// whatever bytes that mechanism treats as the secret to verify.
type CheckAuthFunc func(ctx context.Context, mechanism, identity string, credentials []byte) error

// Option is a functional option for configuring the server.
type Option func(*Options)

// Options holds all server configuration.
type Options struct {
	// TLSConfig is the TLS configuration for implicit TLS connections.
	TLSConfig *tls.Config

	// Caps is the set of capabilities to advertise.
	Caps *imap.CapSet

	// Logger is the structured logger.
	Logger *slog.Logger

	// NewSession is called when a new connection is established.
	// It must return a Session implementation.
	NewSession func(conn *Conn) (Session, error)

	// MaxLiteralSize is the maximum size of a literal that the server will accept.
	// 0 means no limit.
	MaxLiteralSize int64

	// ReadTimeout is a read timeout setting for a single command. The
	// server does not apply it; connection reads carry no deadline.
	ReadTimeout time.Duration

	// WriteTimeout is a write timeout setting for a response. The server
	// does not apply it; connection writes carry no deadline.
	WriteTimeout time.Duration

	// IdleTimeout is a timeout setting for IDLE commands. The server does
	// not apply it; an IDLE lasts until the client sends DONE.
	IdleTimeout time.Duration

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	MaxConnections int

	// GreetingText is the text sent in the initial greeting.
	GreetingText string

	// AllowInsecureAuth allows authentication without TLS.
	AllowInsecureAuth bool

	// EnableStartTLS enables STARTTLS support.
	EnableStartTLS bool

	// InsecureSkipVerify is a flag for skipping TLS certificate
	// verification. The server does not read it; verification is governed
	// by TLSConfig alone.
	InsecureSkipVerify bool

	// CheckAuth validates AUTHENTICATE credentials. AUTHENTICATE is refused
	// with NO whenever it is nil, regardless of AuthMechanisms.
	CheckAuth CheckAuthFunc

	// AuthMechanisms lists the SASL mechanism names (e.g. "PLAIN",
	// "CRAM-MD5") accepted by AUTHENTICATE and advertised as AUTH=
	// capabilities. Each name must have a server mechanism registered in
	// auth.DefaultRegistry.
	AuthMechanisms []string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Caps:         NewDefaultCapSet(),
		Logger:       slog.Default(),
		ReadTimeout:  30 * time.Minute,
		WriteTimeout: 1 * time.Minute,
		IdleTimeout:  30 * time.Minute,
		GreetingText: "IMAP server ready",
	}
}

// NewDefaultCapSet returns a CapSet with the default capabilities.
func NewDefaultCapSet() *imap.CapSet {
	return imap.NewCapSet(
		imap.CapIMAP4rev1,
		imap.CapIdle,
		imap.CapLiteralPlus,
	)
}

// WithTLS configures TLS for the server.
func WithTLS(config *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = config
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithNewSession sets the session factory.
func WithNewSession(fn func(conn *Conn) (Session, error)) Option {
	return func(o *Options) {
		o.NewSession = fn
	}
}

// WithMaxLiteralSize sets the maximum literal size.
func WithMaxLiteralSize(size int64) Option {
	return func(o *Options) {
		o.MaxLiteralSize = size
	}
}

// WithReadTimeout sets the read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = d
	}
}

// WithWriteTimeout sets the write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

// WithIdleTimeout sets the IDLE timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.IdleTimeout = d
	}
}

// WithMaxConnections sets the maximum number of connections.
func WithMaxConnections(n int) Option {
	return func(o *Options) {
		o.MaxConnections = n
	}
}

// WithCapabilities adds capabilities to the server.
func WithCapabilities(caps ...imap.Cap) Option {
	return func(o *Options) {
		o.Caps.Add(caps...)
	}
}

// WithGreetingText sets the greeting text.
func WithGreetingText(text string) Option {
	return func(o *Options) {
		o.GreetingText = text
	}
}

// WithAllowInsecureAuth allows authentication without TLS.
func WithAllowInsecureAuth(allow bool) Option {
	return func(o *Options) {
		o.AllowInsecureAuth = allow
	}
}

// WithStartTLS enables STARTTLS support with the given TLS config.
func WithStartTLS(config *tls.Config) Option {
	return func(o *Options) {
		o.EnableStartTLS = true
		if o.TLSConfig == nil {
			o.TLSConfig = config
		}
	}
}

// WithAuth enables AUTHENTICATE for the given SASL mechanism names, checked
// against fn.
func WithAuth(fn CheckAuthFunc, mechanisms ...string) Option {
	return func(o *Options) {
		o.CheckAuth = fn
		o.AuthMechanisms = mechanisms
	}
}

// authMechanismCaps maps a SASL mechanism name to its AUTH= capability.
var authMechanismCaps = map[string]imap.Cap{
	"PLAIN":              imap.CapAuthPlain,
	"LOGIN":              imap.CapAuthLogin,
	"CRAM-MD5":           imap.CapAuthCRAMMD5,
	"SCRAM-SHA-1":        imap.CapAuthSCRAMSHA1,
	"SCRAM-SHA-256":      imap.CapAuthSCRAMSHA256,
	"SCRAM-SHA-1-PLUS":   imap.CapAuthSCRAMSHA1Plus,
	"SCRAM-SHA-256-PLUS": imap.CapAuthSCRAMSHA256Plus,
	"XOAUTH2":            imap.CapAuthXOAuth2,
	"OAUTHBEARER":        imap.CapAuthOAuthBearer,
	"EXTERNAL":           imap.CapAuthExternal,
	"ANONYMOUS":          imap.CapAuthAnonymous,
}

func authMechanismCap(name string) (imap.Cap, bool) {
	cap, ok := authMechanismCaps[strings.ToUpper(name)]
	return cap, ok
}
