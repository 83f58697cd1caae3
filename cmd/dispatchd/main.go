package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cgast/dispatchd/internal/auth"
	"github.com/cgast/dispatchd/internal/config"
	"github.com/cgast/dispatchd/internal/engine"
	"github.com/cgast/dispatchd/internal/groups"
	"github.com/cgast/dispatchd/internal/logging"
	"github.com/cgast/dispatchd/internal/server"
	"github.com/cgast/dispatchd/pkg/command"
	"github.com/cgast/dispatchd/pkg/command/echo"
	"github.com/cgast/dispatchd/pkg/command/nvidia"
	"github.com/cgast/dispatchd/pkg/events"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Check for subcommands that don't need full initialization.
	if len(os.Args) >= 2 && os.Args[1] == "init" {
		if err := handleInit(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel), "dispatchd")

	bus := events.NewMemoryBus(0)

	// Group memberships: the YAML file bootstraps, the bolt overlay keeps
	// runtime edits across restarts.
	store := groups.NewStore(cfg.Groups.File)
	store.SetBus(bus)
	if cfg.Groups.DB != "" {
		overlay, err := groups.OpenOverlay(cfg.Groups.DB)
		if err != nil {
			logger.Errorf("open membership db: %v", err)
			os.Exit(1)
		}
		defer overlay.Close()
		store.SetOverlay(overlay)
	}
	if err := store.Load(); err != nil {
		logger.Errorf("load groups: %v", err)
		var cfgErr *groups.ConfigError
		if errors.As(err, &cfgErr) && os.IsNotExist(cfgErr.Err) {
			fmt.Fprintln(os.Stderr, "hint: run `dispatchd init` to scaffold a groups file")
		}
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Groups.Watch {
		watcher, err := groups.NewWatcher(store, logger.With("watcher"))
		if err != nil {
			logger.Errorf("watch groups file: %v", err)
			os.Exit(1)
		}
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	registry := command.NewRegistry()
	registry.SetAllowOverwrite(cfg.Registry.AllowOverwrite)
	if err := registerCommands(registry, cfg); err != nil {
		logger.Errorf("register commands: %v", err)
		os.Exit(1)
	}

	gate := auth.NewGate(store)
	eng := engine.New(registry, gate, logger.With("engine"))
	eng.SetBus(bus)

	srv := server.New(eng, registry, store, bus, logger.With("http"))
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("listening on %s commands=%d", cfg.Listen, len(registry.Names()))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		logger.Errorf("serve: %v", err)
		os.Exit(1)
	case sig := <-sigCh:
		logger.Infof("received signal=%s, shutting down", sig)
	}

	// Second signal forces exit.
	go func() {
		<-sigCh
		logger.Warnf("received second signal, forcing exit")
		os.Exit(1)
	}()

	// Canceling the base context ends in-flight command streams, so
	// Shutdown can drain their connections.
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	logger.Infof("stopped")
}

func registerCommands(registry *command.Registry, cfg config.Config) error {
	runner := nvidia.NewSSHRunner(cfg.Nvidia.SSH.User, cfg.Nvidia.SSH.KeyFile, cfg.Nvidia.SSH.KnownHostsFile)
	lister := nvidia.NewGitHubReleases(cfg.Nvidia.GitHubToken)

	for _, d := range []command.Descriptor{
		echo.New(),
		nvidia.InstallCommand(runner, cfg.Nvidia.AllowedHosts),
		nvidia.ReleasesCommand(lister, cfg.Nvidia.DriverRepo),
	} {
		if err := registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func configPath() string {
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("DISPATCHD_CONFIG"); p != "" {
		return p
	}
	return "dispatchd.yaml"
}
