package cmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v2"

	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/journal"
)

// RunJournal prints recent journal entries, newest first.
func RunJournal(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	configFile := fs.String("config", "", "Configuration file")
	fs.StringVar(configFile, "c", "", "Alias for -config")
	limit := fs.Int("lines", 50, "Number of entries to show")
	fs.IntVar(limit, "n", 50, "Alias for -lines")
	kind := fs.String("kind", "", "Only show entries of this kind (link, unlink, hub.up, ...)")
	since := fs.Duration("since", 0, "Only show entries newer than this age (e.g. 1h)")
	format := fs.String("format", "table", "Output format: table, json or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	path := result.Config.Journal.Path
	if path == "" {
		path = brand.DefaultJournalPath()
	}
	store, err := journal.Open(path, 0)
	if err != nil {
		return err
	}
	defer store.Close()

	f := journal.Filter{Limit: *limit}
	if *kind != "" {
		f.Kinds = []string{*kind}
	}
	if *since > 0 {
		f.Since = time.Now().Add(-*since)
	}
	entries, err := store.Query(f)
	if err != nil {
		return err
	}
	return writeJournal(stdout, entries, *format)
}

func writeJournal(w io.Writer, entries []journal.Entry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		out, err := yaml.Marshal(entries)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "table":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tSOURCE\tTARGET\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = "failed: " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Kind, e.Source, e.Target, result)
	}
	return tw.Flush()
}
