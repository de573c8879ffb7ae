// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// LiveEnv enables tests that talk to the running PipeWire session.
const LiveEnv = "AUDIOLINK_LIVE_TEST"

// RequirePipeWire skips the test unless AUDIOLINK_LIVE_TEST is set and the
// PipeWire command line tools are installed. Live tests must not run as
// root: the audio server belongs to the desktop user's session.
func RequirePipeWire(t *testing.T) {
	t.Helper()
	if os.Getenv(LiveEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", LiveEnv)
	}
	for _, tool := range []string{"pw-dump", "pw-link"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("Skipping test: %s not installed", tool)
		}
	}
	if os.Geteuid() == 0 {
		t.Skip("Skipping test: the audio session is not reachable as root")
	}
}
