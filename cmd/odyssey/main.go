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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/cmd/odyssey/cli"
	ledgerhttp "github.com/odyssey-erp/odyssey-gl/internal/accounting/http"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	closehttp "github.com/odyssey-erp/odyssey-gl/internal/close/http"
	"github.com/odyssey-erp/odyssey-gl/internal/observability"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

const usage = `usage: odyssey <command> [flags]

commands:
  serve          run the ledger HTTP API (default)
  migrate        apply database migrations
  import-coa     import a YAML chart of accounts
  run-recurring  generate due recurring entries in process
  enqueue        enqueue a ledger job on the worker queue
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command, args := "serve", os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	os.Exit(run(ctx, command, args, cfg, logger))
}

func run(ctx context.Context, command string, args []string, cfg *app.Config, logger *slog.Logger) int {
	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		return migrate(cfg, logger)
	case "import-coa":
		return importChart(ctx, args, cfg, logger)
	case "run-recurring":
		return runRecurring(ctx, args, cfg, logger)
	case "enqueue":
		return enqueue(ctx, args, cfg)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		return 1
	}
	defer backend.Shutdown(logger)

	metrics := observability.NewMetrics()
	ledger, err := app.NewLedger(app.LedgerDeps{Backend: backend, Config: cfg, Logger: logger, Metrics: metrics.Ledger()})
	if err != nil {
		logger.Error("init ledger", slog.Any("error", err))
		return 1
	}

	var jobHandler *jobs.Handler
	if backend.Redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledgerhttp.NewHandler(logger, ledger.HTTPServices()),
		CloseHandler:  closehttp.NewHandler(logger, ledger.Close),
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("http server", slog.Any("error", err))
		code = 1
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return code
}

func migrate(cfg *app.Config, logger *slog.Logger) int {
	if cfg.Store != app.StorePostgres {
		logger.Error("migrate requires the postgres store", slog.String("store", cfg.Store))
		return 2
	}
	applied, err := db.Migrate(cfg.PGDSN)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	logger.Info("migrations complete", slog.Bool("applied", applied))
	return 0
}

func importChart(ctx context.Context, args []string, cfg *app.Config, logger *slog.Logger) int {
	fs := flag.NewFlagSet("import-coa", flag.ContinueOnError)
	opts := cli.ChartImportOptions{}
	fs.StringVar(&opts.Path, "file", "", "chart of accounts YAML file, - for stdin")
	fs.StringVar(&opts.ActorID, "actor", "system:cli", "actor recorded in the audit trail")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "validate the file without importing")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ledger, cleanup, code := openLedger(ctx, cfg, logger)
	if ledger == nil {
		return code
	}
	defer cleanup()
	return cli.NewLedgerCLI(ledger.Accounts, ledger.Generator).ImportChartCommand(ctx, opts)
}

func runRecurring(ctx context.Context, args []string, cfg *app.Config, logger *slog.Logger) int {
	fs := flag.NewFlagSet("run-recurring", flag.ContinueOnError)
	opts := cli.RecurringRunOptions{}
	fs.StringVar(&opts.AsOf, "as-of", "", "generation date YYYY-MM-DD, defaults to today")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ledger, cleanup, code := openLedger(ctx, cfg, logger)
	if ledger == nil {
		return code
	}
	defer cleanup()
	return cli.NewLedgerCLI(ledger.Accounts, ledger.Generator).RunRecurringCommand(ctx, opts)
}

func enqueue(ctx context.Context, args []string, cfg *app.Config) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	asOf := fs.String("as-of", "", "recurring generation date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: odyssey enqueue [-as-of YYYY-MM-DD] <%s|%s>\n", jobs.TaskRecurringGenerate, jobs.TaskGLIntegrity)
		return 2
	}
	var date time.Time
	if *asOf != "" {
		parsed, err := time.Parse(time.DateOnly, *asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue: invalid -as-of %q\n", *asOf)
			return 2
		}
		date = parsed
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	defer jobsCLI.Close()
	info, err := jobsCLI.Trigger(ctx, fs.Arg(0), date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}

func openLedger(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Ledger, func(), int) {
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		return nil, nil, 1
	}
	ledger, err := app.NewLedger(app.LedgerDeps{Backend: backend, Config: cfg, Logger: logger})
	if err != nil {
		backend.Shutdown(logger)
		logger.Error("init ledger", slog.Any("error", err))
		return nil, nil, 1
	}
	return ledger, func() { backend.Shutdown(logger) }, 0
}
