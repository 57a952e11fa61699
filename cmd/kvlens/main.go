package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kvlens/kvlens/internal/config"
	"github.com/kvlens/kvlens/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "kvlens",
		Short: "kvlens - read-only preview and search over embedded key-value stores",
		Long: `kvlens opens an existing Pebble or Badger database strictly read-only
and serves a web UI and JSON API for searching keys and previewing values,
with best-effort structured decoding against candidate schemas and a
pluggable field processor pipeline.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runServer,
	}

	// Add configuration flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("store-path", "s", "", "Path to the database directory (required)")
	rootCmd.PersistentFlags().StringP("backend", "b", "pebble", "Store backend (pebble, badger)")
	rootCmd.PersistentFlags().StringP("listen", "l", ":8980", "Listen address")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("descriptor-set", "", "", "Protobuf FileDescriptorSet file for schema candidates")
	rootCmd.PersistentFlags().StringSliceP("message-type", "m", nil, "Fully-qualified protobuf message type to try (repeatable)")
	rootCmd.PersistentFlags().StringP("processors", "p", "", "Processor bindings file (YAML or JSON)")
	rootCmd.PersistentFlags().StringP("artifact-dir", "", "", "Directory for rendered artifacts (default: temp dir)")

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting kvlens")
	server.Version = version

	// Create server
	srv, err := server.New(cfg, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logrus.Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("kvlens stopped")
	return nil
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
