// Package cmd implements the audiolink subcommands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/config"
	"grimm.is/audiolink/internal/engine"
	"grimm.is/audiolink/internal/i18n"
	"grimm.is/audiolink/internal/journal"
	"grimm.is/audiolink/internal/logging"
)

// Printer writes user-facing output in the caller's locale.
var Printer = i18n.NewCLIPrinter()

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

// loadConfig loads and validates configFile. An empty path means the
// default location.
func loadConfig(configFile string) (*config.LoadResult, error) {
	if configFile == "" {
		configFile = brand.DefaultConfigPath()
	}
	result, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if errs := result.Config.Validate(); errs.HasErrors() {
		return nil, fmt.Errorf("configuration invalid: %w", errs)
	}
	return result, nil
}

// session bundles what every engine-backed subcommand needs.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	journal *journal.Store
	engine  *engine.Engine
	closers []io.Closer
}

// sessionOptions controls which optional parts a subcommand opens.
type sessionOptions struct {
	// journal opens the route journal; one-shot inspection commands skip it.
	journal bool
	// quiet lowers console logging to warnings for commands whose stdout
	// is meant for pipes.
	quiet bool
}

// openSession loads the config, sets up logging and builds the engine.
func openSession(configFile string, opts sessionOptions) (*session, error) {
	result, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: result.Config}

	logger, closer, err := newLogger(result.Config.Log, opts.quiet)
	if err != nil {
		return nil, err
	}
	s.logger = logger
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	logging.SetDefault(logger)

	if result.Missing {
		logger.Info("no config file; using defaults", "path", result.Path)
	}
	for _, w := range result.Warnings {
		logger.Warn("config: " + w)
	}

	if opts.journal {
		path := result.Config.Journal.Path
		if path == "" {
			path = brand.DefaultJournalPath()
		}
		store, err := journal.Open(path, result.Config.RetentionDays())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = store
		s.closers = append(s.closers, store)
	}

	eng, err := engine.New(engine.Options{
		Runner:  command.NewRealRunner(logger),
		Config:  result.Config,
		Logger:  logger,
		Journal: s.journal,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = eng
	return s, nil
}

// Close releases the journal and log file.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
	s.closers = nil
}

func newLogger(lc *config.LogConfig, quiet bool) (*logging.Logger, io.Closer, error) {
	cfg := logging.DefaultConfig()
	cfg.Output = os.Stderr
	if lc != nil {
		if lc.Level != "" {
			level, err := logging.ParseLevel(lc.Level)
			if err != nil {
				return nil, nil, err
			}
			cfg.Level = level
		}
		cfg.JSON = lc.JSON
	}
	if quiet && cfg.Level < logging.LevelWarn {
		cfg.Level = logging.LevelWarn
	}

	var closer io.Closer
	if lc != nil && lc.File != "" {
		w, c, err := logging.OpenFile(lc.File, cfg.Output)
		if err != nil {
			return nil, nil, err
		}
		cfg.Output = w
		closer = c
	}
	return logging.New(cfg), closer, nil
}
