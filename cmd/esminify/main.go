package main

import (
	"os"

	"esminify/internal/cli"
	"esminify/internal/logging"
)

func main() {
	logging.InitFromEnv()
	if err := cli.BuildCLI().Execute(); err != nil {
		logging.L().Error("esminify failed", "err", err)
		os.Exit(1)
	}
}
