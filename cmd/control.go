package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/engine"
	"grimm.is/audiolink/internal/graph"
)

// RunHub loads or unloads the routing hub devices.
func RunHub(args []string) error {
	configFile, fs, err := parseConfigFlag("hub", args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 || (fs.Arg(0) != "up" && fs.Arg(0) != "down") {
		return fmt.Errorf("usage: %s hub [-config file] up|down", brand.BinaryName)
	}

	s, err := openSession(configFile, sessionOptions{journal: true})
	if err != nil {
		return err
	}
	defer s.Close()
	if !s.cfg.HubEnabled() {
		return engine.ErrHubDisabled
	}

	if fs.Arg(0) == "up" {
		if err := s.engine.StartHub(); err != nil {
			return err
		}
		Printer.Fprintf(stdout, "Routing hub loaded: %s -> %s\n", s.cfg.Hub.SinkName, s.cfg.Hub.SourceName)
		return nil
	}
	if err := s.engine.StopHub(); err != nil {
		return err
	}
	Printer.Fprintln(stdout, "Routing hub removed.")
	return nil
}

// RunGain sets linear volume on source nodes or the hub's gain offset.
//
//	gain set <percent> <key...>
//	gain offset <db>
func RunGain(args []string) error {
	usage := fmt.Errorf("usage: %s gain [-config file] set <percent> <key...> | offset <db>", brand.BinaryName)
	configFile, fs, err := parseConfigFlag("gain", args)
	if err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return usage
	}

	switch rest[0] {
	case "set":
		if len(rest) < 3 {
			return usage
		}
		percent, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("invalid percent %q", rest[1])
		}
		keys := make([]graph.Key, 0, len(rest)-2)
		for _, k := range rest[2:] {
			keys = append(keys, graph.Key(k))
		}
		s, err := openSession(configFile, sessionOptions{})
		if err != nil {
			return err
		}
		defer s.Close()
		return s.engine.SetVolume(keys, percent)

	case "offset":
		db, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return fmt.Errorf("invalid gain %q", rest[1])
		}
		s, err := openSession(configFile, sessionOptions{journal: true})
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.engine.SetHubGain(db); err != nil {
			return err
		}
		Printer.Fprintf(stdout, "Hub gain offset: %+.1f dB\n", db)
		return nil
	}
	return usage
}

// RunRoutePID links the audio streams of one process to the configured
// targets.
func RunRoutePID(args []string) error {
	configFile, fs, err := parseConfigFlag("route-pid", args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s route-pid [-config file] <pid>", brand.BinaryName)
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", fs.Arg(0))
	}

	s, err := openSession(configFile, sessionOptions{journal: true})
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.engine.RouteProcess(pid)
	var noStream *engine.NoStreamError
	if errors.As(err, &noStream) {
		return fmt.Errorf("%w; start playback in the application and retry", err)
	}
	return err
}
