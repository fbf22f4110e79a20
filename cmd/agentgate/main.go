// agentgate serves multi-tenant agent chat over HTTP and websocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ent0n29/agentgate/internal/app"
	"github.com/ent0n29/agentgate/internal/config"
	"github.com/ent0n29/agentgate/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := applyFlags(&cfg, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	a.Start(ctx)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: a.API.Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr, "agents", a.Agents.Names())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case listenErr = <-serveErr:
		if listenErr != nil {
			logger.Error("listen error", "error", listenErr)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
	logger.Info("shutdown complete")
	return listenErr
}

// applyFlags overlays command-line flags on the environment config. Only
// flags that were set take effect.
func applyFlags(cfg *config.Config, args []string) error {
	flagSet := pflag.NewFlagSet("agentgate", pflag.ContinueOnError)
	bind := flagSet.String("bind", cfg.BindAddr, "listen address")
	agentsDir := flagSet.String("agents-dir", cfg.AgentsDir, "directory holding agent definitions")
	logLevel := flagSet.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	watch := flagSet.Bool("watch-agents", cfg.WatchAgents, "register agents added to the agents dir at runtime")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if flagSet.Changed("bind") {
		cfg.BindAddr = *bind
	}
	if flagSet.Changed("agents-dir") {
		cfg.AgentsDir = *agentsDir
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flagSet.Changed("watch-agents") {
		cfg.WatchAgents = *watch
	}
	return nil
}
