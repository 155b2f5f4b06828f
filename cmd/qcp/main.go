package main

import (
	"os"

	"github.com/crazyscot/qcp-sub001/cmd/qcp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
