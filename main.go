package main

import (
	"os"

	"github.com/kilianp07/evsim/cmd"
	"github.com/kilianp07/evsim/core/monitoring"
)

func main() {
	defer monitoring.Recover()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
