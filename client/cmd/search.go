package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tickerdesk/tickerdesk/client/internal/config"
	"github.com/tickerdesk/tickerdesk/client/internal/stockdb"
	"github.com/tickerdesk/tickerdesk/util"
)

const stockDBFile = "stocks.db"

var (
	searchLimit int

	searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "look up stocks by code or name fragment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.InitLog(logLevel, "console"); err != nil {
				return fmt.Errorf("failed initializing log %v", err)
			}

			dbPath := filepath.Join(targetDir, config.StateDirName, stockDBFile)
			return runSearch(dbPath, args[0], searchLimit, cmd.OutOrStdout())
		},
	}
)

func init() {
	searchCmd.PersistentFlags().IntVar(&searchLimit, "limit", 20, "maximum number of matches to print")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(dbPath, query string, limit int, out io.Writer) error {
	store, err := stockdb.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("stock database unavailable: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("error closing stock database: %v", err)
		}
	}()

	matches, err := store.Search(query, limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintf(out, "no stocks match %q\n", query)
		return nil
	}

	for _, stock := range matches {
		fmt.Fprintf(out, "%-10s %s\n", stock.Code, stock.Name)
	}
	return nil
}
