package cmd

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tickerdesk/tickerdesk/internal/updatemanager/installer"
	"github.com/tickerdesk/tickerdesk/util"
	"github.com/tickerdesk/tickerdesk/version"
)

const stateDirName = ".tickerdesk"

var (
	updatePackage string
	targetDir     string
	mainExe       string
	watchedPID    int32
	noGUI         bool
	logLevel      string

	rootCmd = &cobra.Command{
		Use:          "tickerdesk-updater",
		Short:        "replaces a tickerdesk installation with a downloaded update package",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logFile := filepath.Join(targetDir, stateDirName, "updater.log")
			if err := util.InitLog(logLevel, logFile); err != nil {
				return fmt.Errorf("failed initializing log %v", err)
			}
			log.Infof("tickerdesk-updater %s", version.TickerdeskVersion())

			agent := installer.NewAgent(updatePackage, targetDir, mainExe, watchedPID)
			return agent.Run(cmd.Context())
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&updatePackage, "update-package", "", "path of the downloaded update archive")
	rootCmd.PersistentFlags().StringVar(&targetDir, "target-dir", "", "installation directory to replace")
	rootCmd.PersistentFlags().StringVar(&mainExe, "main-exe", "", "name of the main executable to relaunch")
	rootCmd.PersistentFlags().Int32Var(&watchedPID, "pid", 0, "PID of the requesting process to wait for")
	rootCmd.PersistentFlags().BoolVar(&noGUI, "no-gui", false, "run without any UI, log to file only")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets updater log level")

	_ = rootCmd.MarkPersistentFlagRequired("update-package")
	_ = rootCmd.MarkPersistentFlagRequired("target-dir")
	_ = rootCmd.MarkPersistentFlagRequired("main-exe")
}
