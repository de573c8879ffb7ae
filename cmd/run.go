package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/audiolink/internal/api"
	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/config"
	"grimm.is/audiolink/internal/engine"
	"grimm.is/audiolink/internal/logging"
	"grimm.is/audiolink/internal/scheduler"
)

const (
	pollTaskID    = "poll"
	pruneTaskID   = "journal-prune"
	shutdownGrace = 5 * time.Second
)

// RunDaemon runs the routing loop until SIGINT or SIGTERM.
func RunDaemon(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configFile := fs.String("config", "", "Configuration file (default "+brand.DefaultConfigPath()+")")
	fs.StringVar(configFile, "c", "", "Alias for -config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*configFile, sessionOptions{journal: true})
	if err != nil {
		return err
	}
	defer s.Close()

	logger := s.logger
	eng := s.engine
	logger.Info("starting", "version", brand.Version, "poll_interval", s.cfg.Interval().String())
	eng.Preflight()

	if err := eng.StartHub(); err != nil {
		// Direct routing still works without the hub.
		logger.Error("routing hub not started", "error", err)
	}

	sched := scheduler.New(logger)
	if err := addTasks(sched, eng, s.cfg); err != nil {
		return err
	}

	var srv *api.Server
	serveErr := make(chan error, 1)
	if addr := s.cfg.ListenAddr(); addr != "" {
		srv, err = api.NewServer(api.ServerOptions{
			Controller: eng,
			Journal:    eng.Journal(),
			Events:     eng.Events(),
			Metrics:    eng.Metrics(),
			Logs:       logging.RecentLogs(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		go func() { serveErr <- srv.Start(addr) }()
	}

	sched.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var runErr error
	select {
	case got := <-sig:
		logger.Info("shutting down", "signal", got.String())
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
			logger.Error("api server stopped", "error", err)
		}
	}

	sched.Stop()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("api shutdown", "error", err)
		}
		cancel()
	}
	if err := eng.Shutdown(); err != nil {
		logger.Warn("cleanup incomplete", "error", err)
	}
	poll, _ := sched.TaskStatus(pollTaskID)
	logger.Info("stopped", "skipped_ticks", eng.Skipped(), "polls", poll.Runs, "missed_polls", poll.Missed)
	return runErr
}

// addTasks registers the poll loop and the daily journal prune.
func addTasks(sched *scheduler.Scheduler, eng *engine.Engine, cfg *config.Config) error {
	err := sched.AddTask(&scheduler.Task{
		ID:          pollTaskID,
		Name:        "Reconcile routes",
		Description: "Poll the audio graph and apply route actions",
		Schedule:    scheduler.Every(cfg.Interval()),
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			// Tick records its own failures; the scheduler only needs to know
			// the tick happened.
			eng.Tick()
			return nil
		},
	})
	if err != nil {
		return err
	}

	store := eng.Journal()
	if store == nil || cfg.RetentionDays() == 0 {
		return nil
	}
	return sched.AddTask(&scheduler.Task{
		ID:          pruneTaskID,
		Name:        "Prune journal",
		Description: "Delete journal entries older than the retention window",
		Schedule:    scheduler.Daily(3, 0),
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			n, err := store.Prune()
			if err != nil {
				return fmt.Errorf("journal prune failed: %w", err)
			}
			if n > 0 {
				logging.Info("journal pruned", "entries", n)
			}
			return nil
		},
	})
}
