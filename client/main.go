package main

import (
	"os"

	"github.com/tickerdesk/tickerdesk/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
