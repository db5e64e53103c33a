package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tickerdesk/tickerdesk/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints tickerdesk version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.TickerdeskVersion())
	},
}
