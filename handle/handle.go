// Package handle provides opaque per-connection identifiers for in-flight
// IMAP commands and responses, plus the tag strings placed on the wire.
//
// A Handle never exposes its interior: two handles compare equal iff they
// were minted by the same Generator for the same sequence number. The
// Generator's own id is the one piece of process-wide state in the engine
// (see the design notes on avoiding global state); it exists solely so that
// handles minted by distinct engine instances are never mistaken for one
// another.
package handle

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// nextGeneratorID is a lock-free, monotonically increasing counter used to
// hand out generator ids across all Generator instances in the process.
var nextGeneratorID uint64

// Handle is an opaque (generator, sequence) pair bound to an enqueued
// command or response. Handles are comparable and hashable; their fields
// are unexported so callers cannot forge or inspect them.
type Handle struct {
	generator uint64
	id        uint64
}

// String returns a diagnostic representation. It is not meant to be parsed
// back into a Handle.
func (h Handle) String() string {
	return fmt.Sprintf("handle(%d.%d)", h.generator, h.id)
}

// Zero reports whether h is the zero value (never returned by a Generator).
func (h Handle) Zero() bool {
	return h.generator == 0 && h.id == 0
}

// Tag is a short opaque token placed at the start of an IMAP command and
// echoed back in its tagged completion status.
type Tag string

// Generator mints Handles and Tags that are unique for the lifetime of a
// connection. It is safe for concurrent use, though the engines themselves
// are single-threaded per connection (see spec §5); concurrency safety here
// only protects against a Generator being shared across connections
// deliberately.
type Generator struct {
	id      uint64
	counter uint64

	// WithRandomSuffix controls whether Tag appends a random disambiguation
	// suffix after the counter, guarding against protocol confusion when a
	// peer's tag echo cannot be fully trusted. Production callers should
	// leave this enabled; test harnesses that assert on exact tag text may
	// disable it.
	WithRandomSuffix bool
}

// NewGenerator creates a Generator with a fresh, process-unique generator
// id and random suffixes enabled.
func NewGenerator() *Generator {
	return &Generator{
		id:               atomic.AddUint64(&nextGeneratorID, 1),
		WithRandomSuffix: true,
	}
}

// Next mints the next Handle from this generator.
func (g *Generator) Next() Handle {
	return Handle{
		generator: g.id,
		id:        atomic.AddUint64(&g.counter, 1),
	}
}

// NextTag mints the next Tag, formatted as "A<generator-id>.<counter>" or,
// with WithRandomSuffix, "A<generator-id>.<counter>.<random>".
func (g *Generator) NextTag() Tag {
	n := atomic.AddUint64(&g.counter, 1)
	if !g.WithRandomSuffix {
		return Tag(fmt.Sprintf("A%d.%d", g.id, n))
	}
	suffix := uuid.NewString()[:8]
	return Tag(fmt.Sprintf("A%d.%d.%s", g.id, n, suffix))
}

// NextHandleTag mints a Handle and its associated Tag together. Both draw
// from the same counter, one after the other, so the tag's counter is the
// handle's sequence number plus one.
func (g *Generator) NextHandleTag() (Handle, Tag) {
	return g.Next(), g.NextTag()
}
