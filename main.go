package main

import (
	"errors"
	"flag"
	"os"

	"grimm.is/audiolink/cmd"
	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error

	switch os.Args[1] {
	case "run":
		err = cmd.RunDaemon(args)

	case "snapshot":
		err = cmd.RunSnapshot(args)

	case "list":
		err = cmd.RunList(args)

	case "plan":
		err = cmd.RunPlan(args)

	case "hub":
		err = cmd.RunHub(args)

	case "gain":
		err = cmd.RunGain(args)

	case "route-pid":
		err = cmd.RunRoutePID(args)

	case "journal":
		err = cmd.RunJournal(args)

	case "check":
		err = cmd.RunCheck(args)

	case "config":
		if len(args) == 0 || args[0] != "init" {
			printer.Fprintf(os.Stderr, "Usage: %s config init [-force] [path]\n", brand.BinaryName)
			os.Exit(1)
		}
		err = cmd.RunConfigInit(args[1:])

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Build: %s\n", brand.BuildTime)
		printer.Printf("Commit: %s\n", brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		printer.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, command.ErrNotFound) {
			printer.Fprintln(os.Stderr, "Install the PipeWire utilities (pw-dump, pw-link) and pulseaudio-utils (pactl).")
		}
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Daemon:
  run         Keep routes reconciled and serve the control API
              Options: -config (-c) <file>

Inspection:
  snapshot    Print the parsed audio graph as JSON
  list        List capture and playback entries
  plan        Show the actions one cycle would apply, with a route diff
  journal     Show recent route history
              Options: -n <lines>, -kind <kind>, -since <age>, -format table|json|yaml

Control:
  hub up|down             Load or remove the routing hub devices
  gain set <pct> <key...> Set linear volume on source nodes
  gain offset <db>        Offset the hub sink from its baseline volume
  route-pid <pid>         Route one process's streams to the targets

Configuration:
  check <file>            Validate a configuration file
  config init [path]      Write the default configuration
  version                 Print version information

Every command that touches the graph accepts -config (-c) <file>.
Default config: %s
`, brand.Name, brand.Description, brand.BinaryName, brand.DefaultConfigPath())
}
