package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/ibkr-bridge/internal/config"
	"github.com/aristath/ibkr-bridge/internal/logging"
	"github.com/aristath/ibkr-bridge/internal/runtime"
	"github.com/aristath/ibkr-bridge/internal/server"
)

var (
	flagMode     string
	flagLogLevel string
	flagDBPath   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "IBKR trading bridge — risk-gated order routing, ensemble evaluation, trailing stops",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "", "IBKR client mode: rest, mcp, or both (overrides IBKR_MODE)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db-path", "", "path to the sqlite database file (overrides TRADER_DATA_DIR default)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagDBPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if flagMode != "" {
		cfg.IBKR.Mode = config.Mode(flagMode)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Str("mode", string(cfg.IBKR.Mode)).Msg("starting ibkr-bridge")

	rt, err := runtime.Init(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize runtime")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start runtime")
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		APIKey:  cfg.APIKey,
		DevMode: cfg.LogLevel == "debug",
		Log:     log,

		Store:      rt.Store,
		Bus:        rt.Bus,
		Connection: rt.Connection,
		Dispatcher: rt.Dispatcher,
		Gate:       rt.Gate,
		Session:    rt.Session,

		TrailingBook:     rt.TrailingBook,
		TrailingExecutor: rt.TrailingExecutor,
		Ensemble:         rt.Ensemble,
		AutoEval:         rt.AutoEval,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("bridge started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down bridge...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := rt.Shutdown(); err != nil {
		log.Error().Err(err).Msg("runtime shutdown returned an error")
	}

	log.Info().Msg("bridge stopped")
	return nil
}
