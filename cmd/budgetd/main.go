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
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/livinlefevreloca/budgetd/internal/budget"
	"github.com/livinlefevreloca/budgetd/internal/config"
	"github.com/livinlefevreloca/budgetd/internal/coordinator"
	"github.com/livinlefevreloca/budgetd/internal/db"
	"github.com/livinlefevreloca/budgetd/internal/events"
	"github.com/livinlefevreloca/budgetd/internal/metrics"
	"github.com/livinlefevreloca/budgetd/internal/notify"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
	"github.com/livinlefevreloca/budgetd/internal/schedule"
	"github.com/livinlefevreloca/budgetd/internal/server"
)

const clientTimeout = 5 * time.Minute

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	syncOnStart := flag.Bool("sync-on-start", false, "Run a full sync of all servers at startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting budgetd", "servers", len(cfg.Servers))

	// Open history store
	slog.Info("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Bootstrap(); err != nil {
		slog.Error("failed to bootstrap database schema", "error", err)
		os.Exit(1)
	}
	slog.Info("history store ready", "driver", database.Driver())

	// Metrics
	metrics.Register()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Metrics.Address, cfg.Metrics.Port)
		metricsSrv = metrics.NewServer(addr)
		go serveHTTP(metricsSrv, "metrics")
		slog.Info("metrics enabled", "address", addr)
	}

	// Event broker with a log observer; other viewers subscribe the same way
	broker := events.NewBroker()
	defer broker.Close()
	go observeEvents(broker.Subscribe(), logger)

	// Notification subsystem
	clock := notify.SystemClock()
	tracker := notify.NewTracker(cfg.Thresholds(), clock)
	gate := notify.NewGate(cfg.GateConfig(), clock)
	dispatcher := notify.NewDispatcher(tracker, gate, buildSenders(cfg, logger), logger)

	// Coordinator
	factory := budget.ClientFactory(func() budget.Client {
		return budget.NewHTTPClient(clientTimeout)
	})
	coord := coordinator.New(cfg.Targets(), factory, dispatcher, tracker, gate, database, broker, logger)

	// Scheduler
	groups := schedule.BuildGroups(coord.Entries())
	for _, g := range groups {
		slog.Info("schedule group", "expression", g.Expression, "servers", g.Servers)
	}
	sched, err := schedule.NewScheduler(groups, coord.FireGroup, logger)
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// HTTP API
	var apiSrv *http.Server
	if cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)
		apiSrv = server.New(coord, sched, database, logger).NewHTTPServer(addr)
		go serveHTTP(apiSrv, "api")
		slog.Info("http api enabled", "address", addr)
	}

	if *syncOnStart || cfg.Sync.OnStart {
		go func() {
			slog.Info("running startup sync")
			coord.RunAll(ctx, orchestrator.TriggerStartup)
		}()
	}

	slog.Info("budgetd is running")
	sched.Run(ctx)

	// Graceful shutdown: in-flight retry delays were abandoned via ctx;
	// orchestrator disconnects already ran through their deferred cleanup.
	slog.Info("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if apiSrv != nil {
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api server shutdown", "error", err)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	opts := &slog.HandlerOptions{Level: levels[cfg.Level]}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// buildSenders constructs the configured notification channels.
func buildSenders(cfg *config.Config, logger *slog.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.Notifications.LogChannel {
		senders = append(senders, notify.NewLogSender(logger))
	}
	for _, w := range cfg.Notifications.Webhooks {
		timeout := w.Timeout.Value()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		senders = append(senders, notify.NewWebhookSender(w.Name, w.URL, timeout))
	}
	return senders
}

// observeEvents forwards broker events to the debug log until the broker
// closes.
func observeEvents(sub events.Subscriber, logger *slog.Logger) {
	for ev := range sub {
		logger.Debug("event",
			"type", ev.Type,
			"server", ev.Server,
			"message", ev.Message)
	}
}

func serveHTTP(srv *http.Server, name string) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "server", name, "error", err)
	}
}
