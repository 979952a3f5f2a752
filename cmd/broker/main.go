package main

import (
	"fmt"
	"os"

	"deskctl/internal/cli"
)

func main() {
	if err := cli.NewBrokerRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
