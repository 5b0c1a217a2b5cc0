// Package main is the entry point for the themed mailer CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shineum/themed-mailer/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Send themed transactional email",
	Long: `mailer builds one themed message for a user and hands it to the
configured transport.

Example:
  mailer send --to alice --subject Welcome --html welcome.html
  mailer send --to bob@example.com --text note.txt --set host=localhost --set port=2525
  mailer sink --listen :2525`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML configuration file (optional)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sinkCmd)
}

// loadConfig loads configuration from the config flag path (YAML + env
// override) or from environment variables only, then installs the logger.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogger(cfg.Logging)
	return cfg, nil
}

// setupLogger configures the global slog logger. JSON goes to stdout unless a
// log file is set; text output is rendered for terminals.
func setupLogger(cfg config.LoggingConfig) {
	var logLevel slog.Level

	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = log.NewWithOptions(w, log.Options{
			Level:           log.Level(logLevel),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: logLevel,
		})
	}
	slog.SetDefault(slog.New(handler))
}
