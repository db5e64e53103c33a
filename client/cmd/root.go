package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tickerdesk/tickerdesk/client/internal/config"
)

var (
	configPath string
	logLevel   string
	logFile    string

	// targetDir is the installation directory, derived from the binary's own
	// location so portable installs need no configuration.
	targetDir string

	rootCmd = &cobra.Command{
		Use:          "tickerdesk",
		Short:        "tickerdesk is a desktop stock board with self-update",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	exe, err := os.Executable()
	if err == nil {
		targetDir = filepath.Dir(exe)
	} else {
		targetDir = "."
	}
	stateDir := filepath.Join(targetDir, config.StateDirName)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(targetDir), "tickerdesk config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets tickerdesk log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", filepath.Join(stateDir, "client.log"), "sets tickerdesk log path. If console is specified the log will be output to stdout")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetupCloseHandler cancels the context on SIGINT or SIGTERM.
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
		case <-termCh:
			log.Info("shutdown signal received")
			cancel()
		}
	}()
}
