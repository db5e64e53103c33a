package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tickerdesk/tickerdesk/client/internal/config"
	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager"
	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/feed"
	"github.com/tickerdesk/tickerdesk/util"
	"github.com/tickerdesk/tickerdesk/version"
)

var (
	checkOnly       bool
	allowUnverified bool

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "check for and install the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.InitLog(logLevel, "console"); err != nil {
				return fmt.Errorf("failed initializing log %v", err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config %s: %w", configPath, err)
			}

			client := feed.NewClient(cfg.UpdateRepo, version.TickerdeskVersion(),
				feed.WithMirrorPrefix(cfg.MirrorPrefix),
				feed.WithToken(cfg.GithubToken))
			callbacks := &updatemanager.ConsoleCallbacks{AcceptUnverified: allowUnverified}
			manager := updatemanager.NewManager(client, targetDir, mainExeName(), callbacks).
				WithMirrorPrefix(cfg.MirrorPrefix)

			if checkOnly {
				info, err := manager.Check(cmd.Context())
				if err != nil {
					return err
				}
				if !info.Available {
					cmd.Printf("tickerdesk %s is up to date\n", info.CurrentVersion)
					return nil
				}
				cmd.Printf("update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
				if info.Changelog != "" {
					cmd.Println(info.Changelog)
				}
				return nil
			}

			// on a successful hand-off this process exits inside Run
			if err := manager.Run(cmd.Context()); err != nil {
				if errors.Is(err, updatemanager.ErrCancelled) {
					cmd.Println("update cancelled")
					return nil
				}
				return err
			}
			return nil
		},
	}
)

func init() {
	updateCmd.PersistentFlags().BoolVar(&checkOnly, "check-only", false, "only check for a new release, do not install it")
	updateCmd.PersistentFlags().BoolVar(&allowUnverified, "allow-unverified", false, "install a package even when its checksum cannot be verified")
}
