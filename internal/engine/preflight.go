package engine

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Session describes the desktop session the process runs in.
type Session struct {
	UID          int    `json:"uid"`
	User         string `json:"user"`
	Display      string `json:"display,omitempty"`
	Wayland      string `json:"wayland,omitempty"`
	RuntimeDir   string `json:"runtime_dir,omitempty"`
	Socket       string `json:"socket,omitempty"`
	SocketUsable bool   `json:"socket_usable"`
	Root         bool   `json:"root"`
}

// socketName is the default PipeWire socket inside XDG_RUNTIME_DIR.
const socketName = "pipewire-0"

// Preflight inspects the runtime context and logs it. Running as root and
// an unusable PipeWire socket are reported as warnings; neither is fatal
// because the tools may still reach a session through other means.
func (e *Engine) Preflight() Session {
	s := Session{
		UID:        unix.Geteuid(),
		User:       os.Getenv("USER"),
		Display:    os.Getenv("DISPLAY"),
		Wayland:    os.Getenv("WAYLAND_DISPLAY"),
		RuntimeDir: os.Getenv("XDG_RUNTIME_DIR"),
	}
	s.Root = s.UID == 0
	if s.RuntimeDir != "" {
		s.Socket = filepath.Join(s.RuntimeDir, socketName)
		s.SocketUsable = unix.Access(s.Socket, unix.R_OK|unix.W_OK) == nil
	}

	e.logger.Info("runtime context",
		"uid", s.UID,
		"user", s.User,
		"display", s.Display,
		"wayland", s.Wayland,
		"xdg_runtime_dir", s.RuntimeDir)

	if s.Root {
		e.logger.Warn("running as root; audio servers run per user session and are usually unreachable from root")
	}
	switch {
	case s.RuntimeDir == "":
		e.logger.Warn("XDG_RUNTIME_DIR is not set; the PipeWire socket cannot be located")
	case !s.SocketUsable:
		e.logger.Warn("PipeWire socket is not accessible", "socket", s.Socket)
	}
	return s
}
