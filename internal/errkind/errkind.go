// Package errkind classifies an error at the point it is caught so the
// caller can pick a log level (spec §7). This is a classification used only
// for logging, not a public error-type hierarchy.
package errkind

import "errors"

// Kind names one of the five error classes spec §7 describes.
type Kind string

const (
	Configuration Kind = "configuration"
	Driver        Kind = "driver"
	StateFile     Kind = "state_file"
	Item          Kind = "item"
	Cycle         Kind = "cycle"
)

var (
	// ErrUnmatchable marks an incoming item with no usable identifier.
	ErrUnmatchable = errors.New("item has no usable identifier")
	// ErrServerUnreachable marks a driver call that failed for the whole
	// server (login, transport, or timeout), not a single item.
	ErrServerUnreachable = errors.New("server unreachable")
	// ErrStateCorrupt marks a persisted state file that failed to parse.
	ErrStateCorrupt = errors.New("state file corrupt")
)

// Classified wraps an error with the kind that should drive its log level.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string { return c.Err.Error() }
func (c *Classified) Unwrap() error { return c.Err }

// Wrap classifies err as kind.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// KindOf returns the classification of err, or Cycle if it was never
// classified — the top-level loop's catch-all.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return Cycle
}
