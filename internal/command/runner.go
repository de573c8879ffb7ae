// Package command runs the external audio server tools (pw-dump, pw-link,
// pactl, wpctl) and classifies their failures.
//
// Every call is synchronous and blocks until the child process exits. There
// is no internal timeout: a hung tool blocks its caller.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"grimm.is/audiolink/internal/logging"
)

// Tool names used by the audio core.
const (
	PwDump = "pw-dump"
	PwLink = "pw-link"
	Pactl  = "pactl"
	Wpctl  = "wpctl"
)

// RequiredTools must be present when the core is constructed.
var RequiredTools = []string{PwDump, PwLink, Pactl}

// Runner abstracts external command execution.
type Runner interface {
	// Output runs name with args and returns captured stdout.
	Output(name string, args ...string) (string, error)
	// LookPath resolves a tool on PATH.
	LookPath(name string) (string, error)
}

// RealRunner executes actual commands via os/exec.
type RealRunner struct {
	logger *logging.Logger
}

// NewRealRunner creates a runner that logs through logger (default logger if nil).
func NewRealRunner(logger *logging.Logger) *RealRunner {
	if logger == nil {
		logger = logging.Default()
	}
	return &RealRunner{logger: logger.WithComponent("command")}
}

// Output executes a command and returns its stdout.
func (r *RealRunner) Output(name string, args ...string) (string, error) {
	line := CommandLine(name, args...)
	r.logger.Debug("running command", "cmd", line)

	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cerr := Classify(line, stderr.String(), err)
		switch {
		case errors.Is(cerr, ErrUnreachable):
			r.logger.Error("audio server connectivity failure", "cmd", line, "stderr", strings.TrimSpace(stderr.String()))
		case errors.Is(cerr, ErrNotFound):
			r.logger.Error("command not found", "cmd", line)
		default:
			r.logger.Error("command failed", "cmd", line, "stderr", strings.TrimSpace(stderr.String()))
		}
		return "", cerr
	}

	r.logger.Debug("command succeeded", "cmd", line)
	return stdout.String(), nil
}

// LookPath resolves name on PATH.
func (r *RealRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Has reports whether the named tool is available.
func Has(r Runner, name string) bool {
	_, err := r.LookPath(name)
	return err == nil
}

// Require fails with ErrNotFound for the first missing tool.
func Require(r Runner, names ...string) error {
	for _, name := range names {
		if !Has(r, name) {
			return &Error{Cmd: name, Kind: ErrNotFound, Err: fmt.Errorf("missing required command: %s", name)}
		}
	}
	return nil
}

// CommandLine renders a command for logs and error messages.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
