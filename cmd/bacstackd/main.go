// bacstackd daemon -- BACnet/IP (Annex J) node implementation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bacstack/bacstack/internal/config"
	bacmetrics "github.com/bacstack/bacstack/internal/metrics"
	"github.com/bacstack/bacstack/internal/timesource"
	appversion "github.com/bacstack/bacstack/internal/version"
)

// shutdownTimeout bounds how long the HTTP servers are given to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("bacstackd starting",
		slog.String("version", appversion.Version),
		slog.String("node_addr", cfg.Node.Addr),
		slog.String("node_role", cfg.Node.Role),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("inspect_addr", cfg.Inspect.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := bacmetrics.NewCollector(reg)

	clock := timesource.NewRealClock()
	defer clock.Close()

	n, err := buildNode(cfg, clock, collector, logger)
	if err != nil {
		logger.Error("failed to build node", slog.String("error", err.Error()))
		return 1
	}

	if err := runDaemon(cfg, n, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("bacstackd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("bacstackd stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// runDaemon wires the node's receive pump, BBMD maintenance tick or
// foreign-device registration, the metrics and inspection HTTP servers,
// and the systemd watchdog onto an errgroup with a signal-aware context,
// then blocks until shutdown.
func runDaemon(
	cfg *config.Config,
	n *node,
	collector *bacmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	inspectSrv := &http.Server{
		Addr:              cfg.Inspect.Addr,
		Handler:           newInspectMux(cfg, n),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.pump(gCtx, logger)
		return nil
	})

	startHTTPServers(gCtx, g, cfg, metricsSrv, inspectSrv, logger)
	startDaemonGoroutines(gCtx, g, logger)
	startNodeMaintenance(gCtx, g, n, collector, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, n, logger, metricsSrv, inspectSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startNodeMaintenance runs the role-specific background work: a BBMD's
// FDT expiry tick, or a foreign device's registration lifecycle.
func startNodeMaintenance(ctx context.Context, g *errgroup.Group, n *node, collector *bacmetrics.Collector, logger *slog.Logger) {
	if n.bbmd != nil {
		n.bbmd.StartTick()
		g.Go(func() error {
			<-ctx.Done()
			n.bbmd.StopTick()
			return nil
		})
		g.Go(func() error {
			pollTableSizes(ctx, n, collector)
			return nil
		})
	}

	if n.foreign != nil {
		if err := n.foreign.Start(ctx); err != nil {
			logger.Warn("foreign device registration failed to start", slog.String("error", err.Error()))
		}
		g.Go(func() error {
			<-ctx.Done()
			n.foreign.Stop()
			return nil
		})
	}
}

// pollTableSizes periodically refreshes the FDT/BDT size gauges; the core
// bip.BBMD has no mutation hook to drive these from, so polling is the
// simplest way to keep them current without touching that package.
func pollTableSizes(ctx context.Context, n *node, collector *bacmetrics.Collector) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.SetBDTSize(len(n.bbmd.BDT().Entries()))
			collector.SetFDTSize(len(n.bbmd.FDT().Entries()))
		}
	}
}

func startHTTPServers(ctx context.Context, g *errgroup.Group, cfg *config.Config, metricsSrv, inspectSrv *http.Server, logger *slog.Logger) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		logger.Info("inspection server listening", slog.String("addr", cfg.Inspect.Addr))
		return listenAndServe(ctx, &lc, inspectSrv, cfg.Inspect.Addr)
	})
}

func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. If no watchdog is configured, it exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// HTTP Servers + Shutdown
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func gracefulShutdown(ctx context.Context, n *node, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}

	if err := n.close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close node transport: %w", err))
	}

	return shutdownErr
}
