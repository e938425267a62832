package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/planvault/internal/audit"
	"github.com/basket/planvault/internal/bus"
	"github.com/basket/planvault/internal/config"
	otelPkg "github.com/basket/planvault/internal/otel"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/rpc"
	"github.com/basket/planvault/internal/service"
	"github.com/basket/planvault/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s serve                    Serve the JSON-RPC API on stdio (default)
  %s init                     Create the data directory, config, and database
  %s status [-json]           Show database and plan counts
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  PLANVAULT_HOME           Data directory (default: ~/.planvault)
  PLANVAULT_DB             Database path override
  PLANVAULT_LOG_LEVEL      Log level override (debug, info, warn, error)
  PLANVAULT_OTEL_ENDPOINT  OTLP endpoint; setting it enables telemetry
`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "serve":
			// fall through to serve below
		case "init":
			os.Exit(runInitCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	os.Exit(runServe(ctx))
}

func runServe(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	// stdout carries the protocol stream, so logs go to the file sink
	// only regardless of cfg.Quiet.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, true)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	eventBus := bus.New()
	// Mirror committed domain events into the log so the file sink
	// carries the same stream subscribers see.
	for _, prefix := range []string{"plan.", "task."} {
		sub := eventBus.Subscribe(prefix)
		go func() {
			for ev := range sub.Ch() {
				logger.Debug("event", "topic", ev.Topic, "payload", ev.Payload)
			}
		}()
	}

	store, err := planstore.Open(cfg.DBPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_ready", "db", cfg.DBPath)

	svc := service.New(store, service.Options{
		Logger:  logger,
		Tracer:  otelProvider.Tracer,
		Metrics: metrics,
	})

	server, err := rpc.NewServer(svc, logger, otelProvider.Tracer)
	if err != nil {
		fatalStartup(logger, "E_RPC_INIT", err)
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.Load()
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					continue
				}
				telemetry.SetLevel(reloaded.LogLevel)
				logger.Info("config reloaded", "log_level", reloaded.LogLevel)
			}
		}()
	}

	logger.Info("serving stdio", "version", Version)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("serve loop ended", "error", err)
		return 1
	}
	logger.Info("shutdown complete", "denied_ops", audit.DenyCount())
	return 0
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, message, "-")

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"engine","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
