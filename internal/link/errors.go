package link

import (
	"errors"
	"strings"
)

var (
	// ErrNoCompatiblePort means a node has no port of the needed direction.
	ErrNoCompatiblePort = errors.New("no compatible ports available")
	// ErrUnresolvedKey means a key does not name a node in the snapshot.
	ErrUnresolvedKey = errors.New("node not available")
)

// maxReported is how many failures an AggregateError spells out.
const maxReported = 3

// AggregateError combines per-node failures of a multi-node operation.
type AggregateError struct {
	Errs []error
}

func (e *AggregateError) Error() string {
	n := len(e.Errs)
	if n > maxReported {
		n = maxReported
	}
	msgs := make([]string, 0, n)
	for _, err := range e.Errs[:n] {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes every collected failure to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errs
}

// Aggregate returns nil for no errors, otherwise an *AggregateError.
func Aggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errs: errs}
}
