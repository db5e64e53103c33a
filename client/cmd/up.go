package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tickerdesk/tickerdesk/client/internal/config"
	"github.com/tickerdesk/tickerdesk/client/internal/quotes"
	"github.com/tickerdesk/tickerdesk/client/internal/stockdb"
	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager"
	"github.com/tickerdesk/tickerdesk/client/internal/updatemanager/feed"
	"github.com/tickerdesk/tickerdesk/internal/updatemanager/installer"
	"github.com/tickerdesk/tickerdesk/util"
	"github.com/tickerdesk/tickerdesk/version"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "start the stock board",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.InitLog(logLevel, logFile); err != nil {
			return fmt.Errorf("failed initializing log %v", err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", configPath, err)
		}

		reportUpdateOutcome()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		board := &board{cfg: cfg, service: quotes.NewService(cfg.QuoteEndpoint)}

		if err := config.Watch(ctx, configPath, board.setConfig); err != nil {
			log.Warnf("config changes will not be picked up: %v", err)
		}

		openStockDB()
		go checkForUpdates(ctx, cfg)

		return board.run(ctx)
	},
}

// reportUpdateOutcome surfaces the marker a previous update run left behind.
// The marker is consumed, each outcome is reported exactly once.
func reportUpdateOutcome() {
	rh := installer.NewResultHandler(filepath.Join(targetDir, config.StateDirName))
	result, ok, err := rh.Consume()
	if err != nil {
		log.Warnf("could not read the update outcome: %v", err)
		return
	}
	if !ok {
		return
	}

	switch result.Outcome {
	case installer.OutcomeSuccess:
		log.Infof("update installed successfully, now running %s", version.TickerdeskVersion())
	case installer.OutcomeRolledBack:
		log.Warnf("update failed, the previous version was restored: %s", result.Error)
	case installer.OutcomeFailed:
		log.Errorf("update failed and could not be rolled back, the installation may be damaged: %s", result.Error)
		log.Error("reinstalling from a fresh package is recommended")
	default:
		log.Warnf("unknown update outcome %q: %s", result.Outcome, result.Error)
	}
}

// openStockDB prepares the local code lookup table, seeding it from a
// stocks.json shipped with the installation when present.
func openStockDB() {
	store, err := stockdb.NewStore(filepath.Join(targetDir, config.StateDirName, stockDBFile))
	if err != nil {
		log.Warnf("stock search unavailable: %v", err)
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("error closing stock database: %v", err)
		}
	}()

	seedFile := filepath.Join(targetDir, "stocks.json")
	if _, err := os.Stat(seedFile); err != nil {
		return
	}
	n, err := store.SeedFromJSON(seedFile)
	if err != nil {
		log.Warnf("failed to seed stock database: %v", err)
		return
	}
	log.Infof("stock database seeded with %d entries", n)
}

// checkForUpdates does a single passive feed check and logs the result. The
// actual installation only ever happens through the update command.
func checkForUpdates(ctx context.Context, cfg *config.Config) {
	client := feed.NewClient(cfg.UpdateRepo, version.TickerdeskVersion(),
		feed.WithMirrorPrefix(cfg.MirrorPrefix),
		feed.WithToken(cfg.GithubToken))
	manager := updatemanager.NewManager(client, targetDir, mainExeName(), &updatemanager.ConsoleCallbacks{})

	info, err := manager.Check(ctx)
	if err != nil {
		log.Debugf("startup update check failed: %v", err)
		return
	}
	if info.Available {
		log.Infof("version %s is available (running %s), run `tickerdesk update` to install it",
			info.LatestVersion, info.CurrentVersion)
	}
}

func mainExeName() string {
	exe, err := os.Executable()
	if err != nil {
		return "tickerdesk"
	}
	return filepath.Base(exe)
}

// board periodically fetches and prints the watched quotes. Config changes
// apply on the next tick.
type board struct {
	service *quotes.Service

	mu  sync.Mutex
	cfg *config.Config
}

func (b *board) setConfig(cfg *config.Config) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
	log.Infof("watching %d stocks, refreshing every %ds", len(cfg.UserStocks), cfg.RefreshSeconds)
}

func (b *board) snapshot() (codes []string, interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.UserStocks, time.Duration(b.cfg.RefreshSeconds) * time.Second
}

func (b *board) run(ctx context.Context) error {
	for {
		codes, interval := b.snapshot()
		b.refresh(ctx, codes)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (b *board) refresh(ctx context.Context, codes []string) {
	if len(codes) == 0 {
		return
	}

	fetched, err := b.service.Fetch(ctx, codes)
	if err != nil {
		log.Warnf("quote refresh failed: %v", err)
		return
	}
	for _, q := range fetched {
		fmt.Printf("%-10s %-10s %10.2f %+8.2f %+7.2f%%\n",
			q.Code, q.Name, q.Price, q.Change(), q.ChangePercent())
	}
}
