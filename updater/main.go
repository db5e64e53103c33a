package main

import (
	"os"

	"github.com/tickerdesk/tickerdesk/updater/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
