package main

import (
	"fmt"
	"os"

	configloader "github.com/minutemanhq/minuteman/external/config"
	"github.com/minutemanhq/minuteman/internal/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configloader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	deps := &cli.Dependencies{Config: cfg}
	return cli.NewRootCmd(deps).Execute()
}
