package cmd

import (
	"flag"
	"fmt"

	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s check <config-file>\nExample: %s check %s", brand.BinaryName, brand.BinaryName, brand.DefaultConfigPath())
	}
	configFile := args[0]

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		for _, e := range errs {
			Printer.Fprintf(stdout, "error: %s\n", e)
		}
		return fmt.Errorf("configuration invalid: %d error(s)", len(errs))
	}

	Printer.Fprintln(stdout, "Configuration valid!")
	Printer.Fprintf(stdout, "Poll interval: %s\n", cfg.Interval())
	Printer.Fprintf(stdout, "Routing hub: %s\n", enabledText(cfg.HubEnabled()))
	Printer.Fprintf(stdout, "Capture: auto=%t selected=%d excluded=%d\n", cfg.Capture.Auto, len(cfg.Capture.Selected), len(cfg.Capture.Exclude))
	Printer.Fprintf(stdout, "Playback: auto=%t selected=%d excluded=%d\n", cfg.Playback.Auto, len(cfg.Playback.Selected), len(cfg.Playback.Exclude))
	if addr := cfg.ListenAddr(); addr != "" {
		Printer.Fprintf(stdout, "Control API: %s\n", addr)
	} else {
		Printer.Fprintln(stdout, "Control API: disabled")
	}
	for _, w := range cfg.Warnings() {
		Printer.Fprintf(stdout, "warning: %s\n", w)
	}
	return nil
}

func enabledText(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

// RunConfigInit writes the default configuration file.
func RunConfigInit(args []string) error {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.BoolVar(force, "f", false, "Alias for -force")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := brand.DefaultConfigPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := config.WriteDefault(path, *force); err != nil {
		return err
	}
	Printer.Fprintf(stdout, "Wrote %s\n", path)
	return nil
}
