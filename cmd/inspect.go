package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/audiolink/internal/engine"
	"grimm.is/audiolink/internal/routing"
)

func parseConfigFlag(name string, args []string) (string, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFile := fs.String("config", "", "Configuration file")
	fs.StringVar(configFile, "c", "", "Alias for -config")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	return *configFile, fs, nil
}

// RunSnapshot prints the parsed topology as JSON.
func RunSnapshot(args []string) error {
	configFile, _, err := parseConfigFlag("snapshot", args)
	if err != nil {
		return err
	}
	s, err := openSession(configFile, sessionOptions{quiet: true})
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.engine.Poll()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// RunList prints both role lists, one entry per line.
func RunList(args []string) error {
	configFile, _, err := parseConfigFlag("list", args)
	if err != nil {
		return err
	}
	s, err := openSession(configFile, sessionOptions{quiet: true})
	if err != nil {
		return err
	}
	defer s.Close()

	// Plan polls and classifies without touching the graph.
	if _, err := s.engine.Plan(); err != nil {
		return err
	}
	writeEntries(stdout, routing.Capture, s.engine.Entries(routing.Capture))
	writeEntries(stdout, routing.Playback, s.engine.Entries(routing.Playback))
	return nil
}

func writeEntries(w io.Writer, role routing.Role, entries []routing.ListEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		mark := " "
		if e.Selected {
			mark = "*"
		}
		state := "available"
		if !e.Available {
			state = "missing"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", role, mark, e.Key, state, e.Label)
	}
	tw.Flush()
}

// RunPlan prints the actions one tick would apply and a diff of the live
// routes against the desired ones. Nothing is changed.
func RunPlan(args []string) error {
	configFile, _, err := parseConfigFlag("plan", args)
	if err != nil {
		return err
	}
	s, err := openSession(configFile, sessionOptions{quiet: true})
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := s.engine.Plan()
	if err != nil {
		return err
	}
	writePlan(stdout, plan)
	return nil
}

func writePlan(w io.Writer, plan *engine.Plan) {
	if len(plan.Actions) == 0 {
		Printer.Fprintln(w, "Routes are converged; nothing to do.")
	} else {
		Printer.Fprintf(w, "%d action(s):\n", len(plan.Actions))
		for _, a := range plan.Actions {
			fmt.Fprintf(w, "  %-6s %s -> %s\n", a.Op, a.SourceKey, a.TargetKey)
		}
	}

	diff := routeDiff(plan.Live, plan.Desired)
	if diff != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, diff)
	}
}

// routeDiff renders a unified diff from the live pairs to the desired ones.
// It is empty when they match.
func routeDiff(live, desired []routing.Pair) string {
	a, b := pairLines(live), pairLines(desired)
	if a == b {
		return ""
	}
	text, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "live",
		ToFile:   "desired",
		Context:  3,
	})
	return text
}

func pairLines(pairs []routing.Pair) string {
	var sb strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&sb, "%s -> %s\n", p.Source, p.Target)
	}
	return sb.String()
}
