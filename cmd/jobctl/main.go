package main

import (
	"os"

	"github.com/unclebandit/leadflow-backend/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
