package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfg "coverserv/src/configuration"
	server "coverserv/src/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logLevel string
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "coverserv",
	Short: "Selfie cover compositing service",
	Long: `coverserv turns visitor selfies into branded cover images.

Run "coverserv serve" to start the HTTP service or "coverserv render" to
composite a single photo onto a template from the command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(logLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long:  "Reads the configuration from the environment and serves until SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := cfg.ReadProperties()
		if err != nil {
			return fmt.Errorf("read configuration: %w", err)
		}
		if !cmd.Flags().Changed("log-level") {
			if logger, err = newLogger(config.LogLevel); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.RunServer(ctx, config, logger)
	},
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	log, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, renderCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
