package command

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Failure categories. Check with errors.Is.
var (
	// ErrNotFound: a required external tool is absent.
	ErrNotFound = errors.New("command not found")
	// ErrFailed: the tool exited non-zero.
	ErrFailed = errors.New("command failed")
	// ErrUnreachable: the tool failed because the audio server is not
	// reachable from this process. It also matches ErrFailed.
	ErrUnreachable = errors.New("audio server unreachable")
)

// UnreachableHint is the remediation shown for ErrUnreachable.
const UnreachableHint = "audio server is not reachable for this process; run as the same desktop user " +
	"that owns the active PipeWire session (not root)"

// connectivity markers matched against lower-cased stderr.
var unreachableMarkers = []string{"host is down", "failed to connect"}

// Error describes one failed command.
type Error struct {
	Cmd    string
	Stderr string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrUnreachable:
		return UnreachableHint
	case ErrNotFound:
		if e.Err != nil {
			return e.Err.Error()
		}
		return fmt.Sprintf("command not found: %s", e.Cmd)
	default:
		if e.Stderr == "" {
			return fmt.Sprintf("command failed: %s", e.Cmd)
		}
		return fmt.Sprintf("command failed: %s; %s", e.Cmd, e.Stderr)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the failure category. Connectivity failures are a subset of
// command failures.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrUnreachable && target == ErrFailed
}

// Classify turns a process error plus captured stderr into an *Error.
func Classify(cmdLine, stderr string, err error) error {
	stderr = strings.TrimSpace(stderr)

	if errors.Is(err, exec.ErrNotFound) {
		return &Error{Cmd: cmdLine, Kind: ErrNotFound, Err: err}
	}
	var pathErr *exec.Error
	if errors.As(err, &pathErr) {
		return &Error{Cmd: cmdLine, Kind: ErrNotFound, Err: err}
	}

	lower := strings.ToLower(stderr)
	for _, marker := range unreachableMarkers {
		if strings.Contains(lower, marker) {
			return &Error{Cmd: cmdLine, Stderr: stderr, Kind: ErrUnreachable, Err: err}
		}
	}
	return &Error{Cmd: cmdLine, Stderr: stderr, Kind: ErrFailed, Err: err}
}
