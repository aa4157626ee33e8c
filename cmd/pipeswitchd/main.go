// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Command pipeswitchd runs the reconciliation daemon that watches a graph
// server's object registry and creates or destroys links between ports to
// satisfy a set of configured rules.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Teascade/pipeswitch/internal/config"
	"github.com/Teascade/pipeswitch/internal/daemon"
	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
	"github.com/Teascade/pipeswitch/internal/metrics"
	"github.com/Teascade/pipeswitch/internal/pwerr"
	"github.com/Teascade/pipeswitch/internal/pwgraph"
	"github.com/Teascade/pipeswitch/internal/watch"
)

const factoryResolveTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath(), "path to the TOML configuration file")
	logLevel := flag.String("log-level", "", "override log.level from the config file")
	linger := flag.Bool("linger", false, "override general.linger_links from the config file")
	fakeGraph := flag.Bool("fake-graph", false, "use the in-memory fake graph driver instead of a real graph server")
	flag.Parse()

	runID := uuid.New().String()

	cf, err := config.LoadConfigFile(*configPath)
	if err != nil {
		slog.Error("pipeswitchd: failed to load config", "path", *configPath, "error", err)
		return 1
	}
	cfg := cf.Config

	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "linger" {
			cfg.General.LingerLinks = *linger
		}
	})

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})).
		With("run_id", runID)
	slog.SetDefault(logger)

	driver, err := connectDriver(*fakeGraph)
	if err != nil {
		logger.Error("pipeswitchd: failed to connect to graph server", "error", err)
		return 2
	}

	store := graphstate.New()
	bridge := pwgraph.NewBridge(driver, store, logger)

	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.MustRegister(reg)

	var watcher *watch.Watcher
	if cfg.General.HotreloadConfig {
		watcher, err = watch.New(cf.Path, logger)
		if err != nil {
			logger.Warn("pipeswitchd: config watcher disabled, failed to start", "error", err)
			watcher = nil
		}
	}
	var modified <-chan *config.Config
	if watcher != nil {
		modified = watcher.Modified()
	}

	d := daemon.New(store, bridge.Actions(), bridge.Events(), modified, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var eg errgroup.Group
	eg.Go(func() error { bridge.Run(); return nil })

	if !waitForLinkFactory(store, factoryResolveTimeout) {
		logger.Error("pipeswitchd: no link factory registered by the graph server", "timeout", factoryResolveTimeout)
		bridge.Terminate()
		eg.Wait()
		return 3
	}

	d.LoadInitial(cfg)
	eg.Go(func() error { d.Run(); return nil })
	if watcher != nil {
		eg.Go(func() error { watcher.Run(); return nil })
	}

	var httpServer *http.Server
	if cfg.General.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer = &http.Server{Addr: cfg.General.MetricsListen, Handler: mux}
		eg.Go(func() error {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("pipeswitchd: metrics listener: %w", err)
			}
			return nil
		})
	}

	logger.Info("pipeswitchd: running", "config", *configPath, "linger", cfg.General.LingerLinks)
	<-ctx.Done()
	logger.Info("pipeswitchd: shutting down")

	bridge.Terminate()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logger.Warn("pipeswitchd: error closing config watcher", "error", err)
		}
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("pipeswitchd: error shutting down metrics listener", "error", err)
		}
	}

	if err := eg.Wait(); err != nil {
		logger.Error("pipeswitchd: error during shutdown", "error", err)
	}
	return 0
}

// connectDriver resolves the graph-server driver. No production driver ships
// in this repository (see DESIGN.md); -fake-graph is required until one is
// wired in.
func connectDriver(fake bool) (pwgraph.Driver, error) {
	if fake {
		return pwgraph.NewFakeDriver(), nil
	}
	return nil, pwerr.Errorf(pwerr.KindProtocol, "no production graph-server driver is wired in this build, run with -fake-graph")
}

// waitForLinkFactory polls the store until the link factory global has
// arrived over the bridge's event loop, or timeout elapses.
func waitForLinkFactory(store *graphstate.Store, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, ok := store.Factory(graphmodel.LinkFactoryTypeName); ok {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "pipeswitch.conf"
	}
	return filepath.Join(dir, "pipeswitch", "pipeswitch.conf")
}

// traceLevel sits below slog's built-in Debug level, for log.level = "trace".
const traceLevel = slog.Level(-8)

func parseLevel(level string) slog.Level {
	switch level {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return traceLevel
	default:
		return slog.LevelInfo
	}
}
