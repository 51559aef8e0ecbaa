// droid-server is the Android automation agent server: it plans tasks with a
// reasoning model, drives devices through a vision model and adb, and streams
// progress over SSE and websockets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"droid/internal/adb"
	"droid/internal/config"
	"droid/internal/llm"
	"droid/internal/logging"
	"droid/internal/observability"
	"droid/internal/orchestrator"
	"droid/internal/server"
	"droid/internal/session"
)

var (
	flagConfig string
	flagHost   string
	flagPort   int
)

func main() {
	root := &cobra.Command{
		Use:   "droid-server",
		Short: "Android device automation agent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.Flags().StringVar(&flagHost, "host", "", "listen host (overrides config)")
	root.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}

	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("main")

	if cfg.BaseURL == "" {
		return fmt.Errorf("model base URL not configured (set base_url or DROID_BASE_URL)")
	}

	modelCfg := llm.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.ModelTimeout(),
		MaxRetries: cfg.ModelMaxRetries,
	}
	planner, err := llm.NewOpenAIClient(cfg.PlannerModel, modelCfg)
	if err != nil {
		return fmt.Errorf("planner client: %w", err)
	}
	vision, err := llm.NewVisionClient(cfg.VisionModel, modelCfg)
	if err != nil {
		return fmt.Errorf("vision client: %w", err)
	}

	var sessions session.Store
	switch cfg.SessionBackend {
	case "sqlite":
		store, err := session.NewSQLiteStore(cfg.SessionDBPath)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()
		sessions = store
	default:
		sessions = session.NewInMemoryStore()
	}

	adbClient := adb.New(cfg.ADBPath, logging.NewComponentLogger("adb"))

	orch := orchestrator.New(orchestrator.Deps{
		LLM:       planner,
		Vision:    vision,
		DeviceIO:  adbClient,
		Directory: adbClient,
		Sessions:  sessions,
		Metrics:   observability.NewMetrics(prometheus.DefaultRegisterer),
		Logger:    logging.NewComponentLogger("orchestrator"),
	}, orchestrator.Config{
		MaxTurns:    cfg.MaxTurns,
		StepBudget:  cfg.StepBudget,
		LockTimeout: cfg.LockTimeout(),
	})

	srv := server.New(orch, server.Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		EnableCORS: true,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("droid-server started (planner=%s vision=%s sessions=%s)",
		cfg.PlannerModel, cfg.VisionModel, cfg.SessionBackend)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
