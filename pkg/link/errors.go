package link

import (
	"errors"
	"fmt"
)

var (
	// ErrStall indicates no acknowledgment arrived within the configured
	// timeout. Without a timeout the wait never ends.
	ErrStall = errors.New("acknowledgment stalled")
	// ErrReadOnly indicates a write to a line owned by the peer.
	ErrReadOnly = errors.New("line not owned by this endpoint")
	// ErrUnbound indicates the line set was used before Bind.
	ErrUnbound = errors.New("line set not bound to a role")
)

// InsufficientLinesError is raised at startup when discovery finds
// fewer lines than the link needs.
type InsufficientLinesError struct {
	Found    int
	Required int
}

// Error implements error.
func (e *InsufficientLinesError) Error() string {
	return fmt.Sprintf("insufficient lines: found %d, need %d (%d missing)",
		e.Found, e.Required, e.Required-e.Found)
}

// Fatal implements framework.FatalError.
func (e *InsufficientLinesError) Fatal() bool { return true }

// MissingLineError indicates a line absent at a required index.
type MissingLineError struct {
	Index int
}

// Error implements error.
func (e *MissingLineError) Error() string {
	return fmt.Sprintf("missing line %d", e.Index)
}

// Fatal implements framework.FatalError.
func (e *MissingLineError) Fatal() bool { return true }

// IsFatal reports whether err is an unrecoverable configuration error.
func IsFatal(err error) bool {
	var fatal interface{ Fatal() bool }
	return errors.As(err, &fatal) && fatal.Fatal()
}
