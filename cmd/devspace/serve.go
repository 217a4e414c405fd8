package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/devspace/api"
	"github.com/dshills/devspace/blob"
	"github.com/dshills/devspace/config"
	"github.com/dshills/devspace/github"
	"github.com/dshills/devspace/workflow"
	"github.com/dshills/devspace/workflow/emit"
	"github.com/dshills/devspace/workflow/stream"
	"github.com/dshills/devspace/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.New(configFile))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ledger, closeLedger, err := newLedger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLedger(); err != nil {
			logger.Error("close ledger", "error", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewPrometheusMetrics(promReg)

	registry := stream.NewRegistry()
	registry.Observe(metrics.SetActiveStreams)

	var (
		emitter emit.Emitter = emit.NewLogEmitter(os.Stderr, cfg.Log.Format == "json")
		tp      trace.TracerProvider
	)
	if cfg.Tracing.Enabled {
		sdkTP := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
		defer func() {
			if err := sdkTP.Shutdown(context.Background()); err != nil {
				logger.Error("shutdown tracer provider", "error", err)
			}
		}()
		otel.SetTracerProvider(sdkTP)
		tp = sdkTP
		emitter = emit.NewMultiEmitter(emitter, emit.NewOTelEmitter(sdkTP.Tracer("devspace/workflow")))
	}

	engine, err := workflow.New(ledger, registry,
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
		workflow.WithEmitter(emitter),
		workflow.WithReleaseGrace(cfg.Stream.ReleaseGrace),
		workflow.WithDefaultMaxRetries(cfg.Workflow.MaxRetries),
		workflow.WithDefaultStepTimeout(cfg.Workflow.StepTimeout),
		workflow.WithInstanceID(instanceID(cfg)),
		workflow.WithLeaseTTL(cfg.Workflow.LeaseTTL),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if n, err := engine.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted runs as failed", "count", n)
	}
	logger.Info("engine ready", "instance", engine.InstanceID(), "lease_ttl", cfg.Workflow.LeaseTTL)

	llm, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := llm.(io.Closer); ok {
		defer c.Close()
	}

	var repo workspace.Repository
	if cfg.Workspace.PostgresDSN != "" {
		pg, err := workspace.OpenPostgres(ctx, cfg.Workspace.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open workspace database: %w", err)
		}
		defer pg.Close()
		repo = pg
	} else {
		logger.Warn("workspace.postgres_dsn is empty; projects are kept in memory")
		repo = workspace.NewMemoryRepository()
	}

	storage, err := blob.NewLocalStorage(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("open uploads dir: %w", err)
	}

	ghOpts := []github.Option{github.WithRateLimit(cfg.GitHub.RateLimit, cfg.GitHub.RateBurst)}
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}

	svc, err := workspace.NewService(engine, workspace.Deps{
		Repo:    repo,
		Model:   llm,
		GitHub:  github.NewClient(ghOpts...),
		Tokens:  workspace.NewStaticTokens(cfg.GitHub.Token),
		Storage: storage,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create workspace service: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(api.Deps{
			Ledger:         ledger,
			Registry:       registry,
			Service:        svc,
			Metrics:        metrics,
			Gatherer:       promReg,
			TracerProvider: tp,
			Logger:         logger,
			UploadsDir:     storage.Dir(),
			Heartbeat:      cfg.Stream.Heartbeat,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "ledger", cfg.Ledger.Driver, "ai_provider", cfg.AI.Provider)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Open streams only end when their runs finish, so the engine and the
		// HTTP server drain together under one deadline.
		var engineErr error
		engineDone := make(chan struct{})
		go func() {
			defer close(engineDone)
			engineErr = engine.Shutdown(shutdownCtx)
		}()
		httpErr := srv.Shutdown(shutdownCtx)
		<-engineDone
		return errors.Join(httpErr, engineErr)
	})

	return g.Wait()
}
