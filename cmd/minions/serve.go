package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fordtom/minions"
	"github.com/fordtom/minions/internal/logger"
)

// runServe runs the daemon in the foreground until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func runServe(ctx context.Context, flags ServeFlags) error {
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	cfg, err := minions.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := minions.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	ln, err := d.Listen()
	if err != nil {
		_ = d.Close(context.Background(), false)
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}

	serveErr := d.Serve(ctx, ln)
	log.Info("shutting down", "stop_processes", flags.StopOnExit)

	// the signal context is already done; stopping processes needs its own budget
	closeCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Supervisor.GracePeriod+cfg.Supervisor.KillTimeout+30*time.Second)
	defer cancel()
	if err := d.Close(closeCtx, flags.StopOnExit); err != nil {
		log.Error("shutdown", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}
